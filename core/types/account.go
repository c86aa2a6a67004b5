package types

import "math/big"

// Account tracks the balances held by a single address inside the protocol
// ledger. BalanceStable is denominated in the contribution asset and
// BalanceNative in the collateral asset; both are wei-style big integers to
// preserve on-ledger precision.
type Account struct {
	Nonce         uint64   `json:"nonce"`
	BalanceStable *big.Int `json:"balanceStable"`
	BalanceNative *big.Int `json:"balanceNative"`
}

// EnsureBalances populates nil balance fields so callers can mutate the
// account without nil checks.
func (a *Account) EnsureBalances() *Account {
	if a == nil {
		return &Account{BalanceStable: big.NewInt(0), BalanceNative: big.NewInt(0)}
	}
	if a.BalanceStable == nil {
		a.BalanceStable = big.NewInt(0)
	}
	if a.BalanceNative == nil {
		a.BalanceNative = big.NewInt(0)
	}
	return a
}

// Clone returns a deep copy of the account.
func (a *Account) Clone() *Account {
	if a == nil {
		return (&Account{}).EnsureBalances()
	}
	clone := &Account{Nonce: a.Nonce}
	if a.BalanceStable != nil {
		clone.BalanceStable = new(big.Int).Set(a.BalanceStable)
	}
	if a.BalanceNative != nil {
		clone.BalanceNative = new(big.Int).Set(a.BalanceNative)
	}
	return clone.EnsureBalances()
}
