package domain

import (
	"cmp"
	"fmt"
)

// ChainVariant selects how token transfers colliding on (block_number, log_index) are ordered.
type ChainVariant string

const (
	// ChainVariantDefault is for chains where log_index is unique within a block.
	// Order: (block_number, log_index), then transaction_hash.
	ChainVariantDefault ChainVariant = "default"
	// ChainVariantNonUniqueLogIndex is for chains where several transfers in one block may share a log_index.
	// Order: (block_number, log_index, transaction_index).
	ChainVariantNonUniqueLogIndex ChainVariant = "non_unique_log_index"
)

// ChainVariants lists every supported variant.
var ChainVariants = []ChainVariant{
	ChainVariantDefault,
	ChainVariantNonUniqueLogIndex,
}

// ParseChainVariant maps a config value to a variant. Empty means default.
func ParseChainVariant(s string) (ChainVariant, error) {
	if s == "" {
		return ChainVariantDefault, nil
	}
	for _, v := range ChainVariants {
		if string(v) == s {
			return v, nil
		}
	}
	return "", fmt.Errorf("unknown chain variant %q", s)
}

// CompareTransfers orders two transfers by chain position under the variant.
// It returns a positive number when a is later than b.
func (v ChainVariant) CompareTransfers(a, b TokenTransfer) int {
	if c := cmp.Compare(a.BlockNumber, b.BlockNumber); c != 0 {
		return c
	}
	if c := cmp.Compare(a.LogIndex, b.LogIndex); c != 0 {
		return c
	}
	switch v {
	case ChainVariantNonUniqueLogIndex:
		return cmp.Compare(a.TransactionIndex, b.TransactionIndex)
	default:
		return cmp.Compare(a.TransactionHash, b.TransactionHash)
	}
}
