package domain

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseChainVariant(t *testing.T) {
	v, err := ParseChainVariant("")
	require.NoError(t, err)
	assert.Equal(t, ChainVariantDefault, v)

	v, err = ParseChainVariant("non_unique_log_index")
	require.NoError(t, err)
	assert.Equal(t, ChainVariantNonUniqueLogIndex, v)

	_, err = ParseChainVariant("rsk")
	assert.Error(t, err)
}

func TestCompareTransfers(t *testing.T) {
	a := TokenTransfer{BlockNumber: 5, LogIndex: 1, TransactionHash: "0xbb", TransactionIndex: 0}
	b := TokenTransfer{BlockNumber: 5, LogIndex: 1, TransactionHash: "0xaa", TransactionIndex: 2}

	assert.Positive(t, ChainVariantDefault.CompareTransfers(a, b))
	assert.Negative(t, ChainVariantNonUniqueLogIndex.CompareTransfers(a, b))

	later := TokenTransfer{BlockNumber: 6}
	assert.Negative(t, ChainVariantDefault.CompareTransfers(a, later))
	assert.Negative(t, ChainVariantNonUniqueLogIndex.CompareTransfers(a, later))
}

func TestHasTokenID(t *testing.T) {
	tr := TokenTransfer{TokenIDs: []*big.Int{big.NewInt(7), nil, big.NewInt(9)}}

	assert.True(t, tr.HasTokenID(big.NewInt(9)))
	assert.False(t, tr.HasTokenID(big.NewInt(8)))
	assert.False(t, tr.HasTokenID(nil))
}
