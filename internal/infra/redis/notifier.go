package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
	"strconv"

	"github.com/redis/go-redis/v9"

	"github.com/vietddude/blockimport/internal/core/domain"
	"github.com/vietddude/blockimport/internal/indexing/importer"
	"github.com/vietddude/blockimport/internal/indexing/ranges"
)

// Notifier publishes committed batch results to Redis queues for downstream workers.
//
// Missing ranges live in a sorted set of range ids scored by start height, with the bounds
// in a companion hash. Pending block operations are appended to a list as JSON and removed
// again when their block loses consensus.
type Notifier struct {
	rdb    *redis.Client
	chain  string
	logger *slog.Logger
}

var _ importer.Notifier = (*Notifier)(nil)

// NewNotifier creates a notifier publishing under the chain's keys.
func NewNotifier(client *Client, chain string, logger *slog.Logger) *Notifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Notifier{
		rdb:    client.rdb,
		chain:  chain,
		logger: logger.With("component", "redis-notifier", "chain", chain),
	}
}

type rangeEntry struct {
	id     string
	from   int64
	member string
}

// pendingMessage is a list entry. It carries only block identity so that a dropped
// marker encodes to the same bytes and can be removed with LREM.
type pendingMessage struct {
	BlockHash   string `json:"block_hash"`
	BlockNumber int64  `json:"block_number"`
}

// notification is the set of queue edits one result produces.
type notification struct {
	upserts []rangeEntry
	removes []string
	pending []string
	dropped []string
}

func (n notification) empty() bool {
	return len(n.upserts) == 0 && len(n.removes) == 0 && len(n.pending) == 0 && len(n.dropped) == 0
}

func encodePending(op domain.PendingBlockOperation) (string, error) {
	payload, err := json.Marshal(pendingMessage{BlockHash: op.BlockHash, BlockNumber: op.BlockNumber})
	if err != nil {
		return "", fmt.Errorf("failed to marshal pending operation: %w", err)
	}
	return string(payload), nil
}

func buildNotification(result *importer.Result) (notification, error) {
	var n notification
	written := append(slices.Clone(result.MissingRanges.Inserted), result.MissingRanges.Updated...)
	for _, r := range written {
		n.upserts = append(n.upserts, rangeEntry{
			id:     strconv.FormatInt(r.ID, 10),
			from:   r.FromNumber,
			member: ranges.Range{Start: r.FromNumber, End: r.ToNumber}.String(),
		})
	}
	for _, r := range result.MissingRanges.Deleted {
		n.removes = append(n.removes, strconv.FormatInt(r.ID, 10))
	}
	for _, op := range result.DeletedPendingOperations {
		payload, err := encodePending(op)
		if err != nil {
			return notification{}, err
		}
		n.dropped = append(n.dropped, payload)
	}
	for _, op := range result.PendingOperations {
		payload, err := encodePending(op)
		if err != nil {
			return notification{}, err
		}
		n.pending = append(n.pending, payload)
	}
	return n, nil
}

// Notify applies the queue edits in a single MULTI/EXEC.
func (n *Notifier) Notify(ctx context.Context, result *importer.Result) error {
	edits, err := buildNotification(result)
	if err != nil {
		return err
	}
	if edits.empty() {
		return nil
	}

	_, err = n.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, e := range edits.upserts {
			pipe.ZAdd(ctx, missingRangesKey(n.chain), redis.Z{Score: float64(e.from), Member: e.id})
			pipe.HSet(ctx, missingBoundsKey(n.chain), e.id, e.member)
		}
		if len(edits.removes) > 0 {
			members := make([]any, len(edits.removes))
			for i, id := range edits.removes {
				members[i] = id
			}
			pipe.ZRem(ctx, missingRangesKey(n.chain), members...)
			pipe.HDel(ctx, missingBoundsKey(n.chain), edits.removes...)
		}
		for _, p := range edits.dropped {
			pipe.LRem(ctx, pendingOperationsKey(n.chain), 0, p)
		}
		if len(edits.pending) > 0 {
			values := make([]any, len(edits.pending))
			for i, p := range edits.pending {
				values[i] = p
			}
			pipe.RPush(ctx, pendingOperationsKey(n.chain), values...)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to publish batch %s: %w", result.BatchID, err)
	}

	n.logger.Debug("Published batch",
		"batch_id", result.BatchID,
		"ranges_upserted", len(edits.upserts),
		"ranges_removed", len(edits.removes),
		"pending_operations", len(edits.pending),
		"pending_dropped", len(edits.dropped),
	)
	return nil
}
