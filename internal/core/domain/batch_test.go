package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var ts = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func validBlock(hash string, n int64, parent string, consensus bool) Block {
	return Block{
		Hash:       hash,
		Number:     n,
		ParentHash: parent,
		MinerHash:  "0x01",
		Consensus:  consensus,
		Timestamp:  ts,
	}
}

func TestBatchValidate(t *testing.T) {
	tests := []struct {
		name    string
		batch   Batch
		wantErr bool
	}{
		{
			name:  "genesis without parent",
			batch: Batch{Blocks: []Block{validBlock("0x0a", 0, "", true)}},
		},
		{
			name:    "empty batch",
			batch:   Batch{},
			wantErr: true,
		},
		{
			name:    "hash without prefix",
			batch:   Batch{Blocks: []Block{validBlock("0a", 0, "", true)}},
			wantErr: true,
		},
		{
			name:    "missing parent above genesis",
			batch:   Batch{Blocks: []Block{validBlock("0x0b", 1, "", true)}},
			wantErr: true,
		},
		{
			name:    "negative number",
			batch:   Batch{Blocks: []Block{validBlock("0x0b", -1, "", true)}},
			wantErr: true,
		},
		{
			name: "two canonical blocks at one height",
			batch: Batch{Blocks: []Block{
				validBlock("0x0b", 1, "0x0a", true),
				validBlock("0x0c", 1, "0x0a", true),
			}},
			wantErr: true,
		},
		{
			name: "canonical and uncle at one height",
			batch: Batch{Blocks: []Block{
				validBlock("0x0b", 1, "0x0a", true),
				validBlock("0x0c", 1, "0x0a", false),
			}},
		},
		{
			name: "later duplicate drops consensus",
			batch: Batch{Blocks: []Block{
				validBlock("0x0b", 1, "0x0a", true),
				validBlock("0x0c", 1, "0x0a", true),
				validBlock("0x0b", 1, "0x0a", false),
			}},
		},
		{
			name: "transaction placed at wrong height",
			batch: Batch{
				Blocks: []Block{validBlock("0x0b", 1, "0x0a", true)},
				Transactions: []Transaction{{
					Hash: "0xf1", FromAddress: "0x02",
					BlockHash: Ptr("0x0b"), BlockNumber: Ptr(int64(2)), Index: Ptr(0),
				}},
			},
			wantErr: true,
		},
		{
			name: "transaction with partial placement",
			batch: Batch{
				Blocks: []Block{validBlock("0x0b", 1, "0x0a", true)},
				Transactions: []Transaction{{
					Hash: "0xf1", FromAddress: "0x02", BlockHash: Ptr("0x0b"),
				}},
			},
			wantErr: true,
		},
		{
			name: "unplaced transaction",
			batch: Batch{
				Blocks:       []Block{validBlock("0x0b", 1, "0x0a", true)},
				Transactions: []Transaction{{Hash: "0xf1", FromAddress: "0x02"}},
			},
		},
		{
			name: "transaction placed in block outside batch",
			batch: Batch{
				Blocks: []Block{validBlock("0x0b", 1, "0x0a", true)},
				Transactions: []Transaction{{
					Hash: "0xf1", FromAddress: "0x02",
					BlockHash: Ptr("0x0c"), BlockNumber: Ptr(int64(7)), Index: Ptr(3),
				}},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.batch.Validate()
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, ErrInvalidBatch)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestDedupBlocks_LastOccurrenceWins(t *testing.T) {
	blocks := DedupBlocks([]Block{
		validBlock("0x0b", 1, "0x0a", true),
		validBlock("0x0c", 2, "0x0b", true),
		validBlock("0x0b", 1, "0x0a", false),
	})

	require.Len(t, blocks, 2)
	assert.Equal(t, "0x0b", blocks[0].Hash)
	assert.False(t, blocks[0].Consensus)
	assert.Equal(t, "0x0c", blocks[1].Hash)
}
