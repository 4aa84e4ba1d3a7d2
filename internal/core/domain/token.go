package domain

import (
	"math/big"
	"time"
)

// TokenType is the token standard of a contract.
type TokenType string

const (
	TokenTypeERC20   TokenType = "ERC-20"
	TokenTypeERC721  TokenType = "ERC-721"
	TokenTypeERC1155 TokenType = "ERC-1155"
	TokenTypeERC404  TokenType = "ERC-404"
)

// TracksInstanceOwner reports whether instances of this token type carry a single owner.
func (t TokenType) TracksInstanceOwner() bool {
	return t == TokenTypeERC721
}

// Token is a token contract with its cached holder count.
type Token struct {
	ContractAddress string    `json:"contract_address" db:"contract_address"`
	Type            TokenType `json:"type"             db:"type"`
	HolderCount     int64     `json:"holder_count"     db:"holder_count"`
	UpdatedAt       time.Time `json:"-"                db:"updated_at"`
}

// TokenTransfer is an immutable transfer log entry.
type TokenTransfer struct {
	TransactionHash  string     `json:"transaction_hash"`
	TransactionIndex int        `json:"transaction_index"`
	BlockHash        string     `json:"block_hash"`
	BlockNumber      int64      `json:"block_number"`
	LogIndex         int        `json:"log_index"`
	ContractAddress  string     `json:"token_contract_address"`
	FromAddress      string     `json:"from_address"`
	ToAddress        string     `json:"to_address"`
	TokenIDs         []*big.Int `json:"token_ids,omitempty"`
}

// HasTokenID reports whether the transfer moved id.
func (t TokenTransfer) HasTokenID(id *big.Int) bool {
	for _, candidate := range t.TokenIDs {
		if candidate != nil && id != nil && candidate.Cmp(id) == 0 {
			return true
		}
	}
	return false
}

// NoOwnerPointer is the sentinel stored in both owner pointer columns when no qualifying transfer exists.
const NoOwnerPointer int64 = -1

// TokenInstance caches the current owner of a non-fungible token id.
// (OwnerUpdatedAtBlock, OwnerUpdatedAtLogIndex) points at the transfer that last set the owner.
type TokenInstance struct {
	ContractAddress        string    `json:"token_contract_address"`
	TokenID                *big.Int  `json:"token_id"`
	OwnerAddress           *string   `json:"owner_address,omitempty"`
	OwnerUpdatedAtBlock    int64     `json:"owner_updated_at_block"`
	OwnerUpdatedAtLogIndex int64     `json:"owner_updated_at_log_index"`
	Error                  *string   `json:"error,omitempty"`
	UpdatedAt              time.Time `json:"-"`
}

// Key identifies the instance.
func (i TokenInstance) Key() string {
	return i.ContractAddress + "/" + bigKey(i.TokenID)
}

// OwnerPointerUnset reports whether the pointer holds the sentinel.
func (i TokenInstance) OwnerPointerUnset() bool {
	return i.OwnerUpdatedAtBlock == NoOwnerPointer && i.OwnerUpdatedAtLogIndex == NoOwnerPointer
}

func bigKey(v *big.Int) string {
	if v == nil {
		return ""
	}
	return v.String()
}
