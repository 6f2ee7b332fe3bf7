package model

import "time"

// TokenDecimals is fixed for every token the factory deploys.
const TokenDecimals uint8 = 18

// DeployerUnknown marks a token whose deployer could not be resolved.
const DeployerUnknown = "unknown"

// TokenCreation is one decoded factory event, ready to be upserted.
type TokenCreation struct {
	ContractAddress string `json:"contract_address"`
	Name            string `json:"name"`
	Symbol          string `json:"symbol"`
	Decimals        uint8  `json:"decimals"`
	Deployer        string `json:"deployer"`
	BlockNumber     uint64 `json:"block_number"`
	TransactionHash string `json:"transaction_hash"`

	// LegacyDeployer is the deployer field emitted by the event itself.
	// It feeds deployer resolution and is not persisted.
	LegacyDeployer string `json:"-"`
}

// Token is the stored form of a token including pool discovery state.
type Token struct {
	TokenCreation

	HasPool        bool       `json:"has_pool"`
	Pools          []Pool     `json:"pools"`
	PoolsCheckedAt *time.Time `json:"pools_checked_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// PoolsChecked reports whether pool discovery has already run for the token.
func (t Token) PoolsChecked() bool {
	return t.PoolsCheckedAt != nil
}
