package domain

import (
	"math/big"
	"time"
)

// BalanceKey identifies a balance series. TokenID is nil for fungible tokens.
type BalanceKey struct {
	Address         string
	ContractAddress string
	TokenID         *big.Int
}

// String renders the key for map lookups and logs.
func (k BalanceKey) String() string {
	return k.Address + "/" + k.ContractAddress + "/" + bigKey(k.TokenID)
}

// CurrentTokenBalance caches the latest known balance of an address for a token.
// It goes stale when the canonical status of BlockNumber changes.
type CurrentTokenBalance struct {
	Address         string    `json:"address_hash"`
	ContractAddress string    `json:"token_contract_address_hash"`
	TokenID         *big.Int  `json:"token_id,omitempty"`
	BlockNumber     int64     `json:"block_number"`
	Value           *big.Int  `json:"value,omitempty"`
	UpdatedAt       time.Time `json:"-"`
}

// Key returns the balance series key.
func (b CurrentTokenBalance) Key() BalanceKey {
	return BalanceKey{Address: b.Address, ContractAddress: b.ContractAddress, TokenID: b.TokenID}
}

// IsHolder reports a strictly positive value.
func (b CurrentTokenBalance) IsHolder() bool {
	return IsPositive(b.Value)
}

// TokenBalance is a historical balance snapshot taken at BlockNumber.
type TokenBalance struct {
	Address         string   `json:"address_hash"`
	ContractAddress string   `json:"token_contract_address_hash"`
	TokenID         *big.Int `json:"token_id,omitempty"`
	BlockNumber     int64    `json:"block_number"`
	Value           *big.Int `json:"value,omitempty"`
}

// Key returns the balance series key.
func (b TokenBalance) Key() BalanceKey {
	return BalanceKey{Address: b.Address, ContractAddress: b.ContractAddress, TokenID: b.TokenID}
}

// IsPositive treats nil as zero.
func IsPositive(v *big.Int) bool {
	return v != nil && v.Sign() > 0
}
