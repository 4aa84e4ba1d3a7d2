package cli

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vietddude/blockimport/internal/core/domain"
)

const batchJSON = `{"blocks":[{"hash":"0x0a","number":0,"parent_hash":"","miner_hash":"0x01","consensus":true,"timestamp":"2024-01-01T00:00:00Z"}]}`

func TestReadSources_FilesAndStdin(t *testing.T) {
	dir := t.TempDir()
	single := filepath.Join(dir, "single.json")
	multi := filepath.Join(dir, "multi.json")
	require.NoError(t, os.WriteFile(single, []byte(batchJSON), 0o600))
	require.NoError(t, os.WriteFile(multi, []byte(batchJSON+"\n"+batchJSON), 0o600))

	sources, err := readSources([]string{single, multi, "-"}, strings.NewReader(batchJSON))
	require.NoError(t, err)

	require.Len(t, sources, 4)
	assert.Equal(t, single, sources[0].Name)
	assert.Equal(t, multi+"#0", sources[1].Name)
	assert.Equal(t, multi+"#1", sources[2].Name)
	assert.Equal(t, "stdin#0", sources[3].Name)

	b := sources[0].Batch.Blocks[0]
	assert.Equal(t, "0x0a", b.Hash)
	assert.True(t, b.Consensus)
	assert.True(t, b.Timestamp.Equal(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)))
}

func TestReadSources_Errors(t *testing.T) {
	_, err := readSources([]string{filepath.Join(t.TempDir(), "absent.json")}, nil)
	assert.Error(t, err)

	_, err = readSources([]string{"-"}, strings.NewReader(""))
	assert.ErrorContains(t, err, "no batches")

	_, err = readSources([]string{"-"}, strings.NewReader(`{"blocks":[],"extra":1}`))
	assert.Error(t, err)
}

// drainedReader reports the end of its input as a wrapped io.EOF.
type drainedReader struct {
	r io.Reader
}

func (d drainedReader) Read(p []byte) (int, error) {
	n, err := d.r.Read(p)
	if errors.Is(err, io.EOF) {
		return n, fmt.Errorf("source drained: %w", err)
	}
	return n, err
}

func TestDecodeBatches_WrappedEOF(t *testing.T) {
	batches, err := decodeBatches(drainedReader{strings.NewReader(batchJSON + "\n" + batchJSON)})
	require.NoError(t, err)
	assert.Len(t, batches, 2)
}

func TestWriteStatus(t *testing.T) {
	var buf bytes.Buffer
	writeStatus(&buf, importStatus{
		Chain: "eth",
		Head:  &domain.Block{Number: 42, Hash: "0x1234567890abcdef"},
		MissingRanges: []domain.MissingBlockRange{
			{FromNumber: 10, ToNumber: 19, UpdatedAt: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)},
		},
		Pending: 3,
		Queued:  -1,
	})

	out := buf.String()
	assert.Contains(t, out, "eth")
	assert.Contains(t, out, "0x1234...cdef")
	assert.Contains(t, out, "2024-01-01 00:00:00")
	assert.NotContains(t, out, "FAILED BATCHES")
	assert.Regexp(t, `10\s+19\s+10\s`, out)
}

func TestWriteStatus_EmptyChain(t *testing.T) {
	var buf bytes.Buffer
	writeStatus(&buf, importStatus{Chain: "eth", Queued: 2, FailedBatches: 1})

	out := buf.String()
	assert.Regexp(t, `HEAD\s+-\s+-`, out)
	assert.Regexp(t, `FAILED BATCHES\s+1`, out)
	assert.Contains(t, out, "No missing ranges.")
}
