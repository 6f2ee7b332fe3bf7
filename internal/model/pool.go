package model

// Pool is a liquidity pool that holds the token on one of its two sides.
type Pool struct {
	Address    string `json:"address"`
	PairWith   string `json:"pair_with"`
	PairSymbol string `json:"pair_symbol"`
	Fee        uint32 `json:"fee"`
	Liquidity  string `json:"liquidity"`
}
