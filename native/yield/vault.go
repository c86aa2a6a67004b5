package yield

import (
	"errors"
	"math/big"
	"sync"
)

// Vault is the strategy the adapter parks collateral in. Shares follow the
// usual pro-rata accounting: deposits mint against the current asset base,
// withdrawals burn at the current exchange rate.
type Vault interface {
	Deposit(assets *big.Int) (shares *big.Int, err error)
	Withdraw(shares *big.Int) (assets *big.Int, err error)
	ConvertToAssets(shares *big.Int) (*big.Int, error)
	TotalAssets() *big.Int
}

var (
	ErrVaultInsufficientShares = errors.New("yield vault: insufficient shares")
	errVaultBadAmount          = errors.New("yield vault: amount must be positive")
)

// MemoryVault is an in-process Vault used by the dev node and tests. Accrue
// simulates strategy growth by inflating the asset base without minting
// shares.
type MemoryVault struct {
	mu          sync.Mutex
	totalShares *big.Int
	totalAssets *big.Int
}

// NewMemoryVault returns an empty in-memory vault.
func NewMemoryVault() *MemoryVault {
	return &MemoryVault{totalShares: big.NewInt(0), totalAssets: big.NewInt(0)}
}

// Deposit mints shares for the supplied assets at the current rate.
func (v *MemoryVault) Deposit(assets *big.Int) (*big.Int, error) {
	if assets == nil || assets.Sign() <= 0 {
		return nil, errVaultBadAmount
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	var shares *big.Int
	if v.totalShares.Sign() == 0 || v.totalAssets.Sign() == 0 {
		shares = new(big.Int).Set(assets)
	} else {
		shares = new(big.Int).Mul(assets, v.totalShares)
		shares.Quo(shares, v.totalAssets)
	}
	v.totalShares.Add(v.totalShares, shares)
	v.totalAssets.Add(v.totalAssets, assets)
	return shares, nil
}

// Withdraw burns shares and returns the assets they are worth.
func (v *MemoryVault) Withdraw(shares *big.Int) (*big.Int, error) {
	if shares == nil || shares.Sign() <= 0 {
		return nil, errVaultBadAmount
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	if shares.Cmp(v.totalShares) > 0 {
		return nil, ErrVaultInsufficientShares
	}
	assets := new(big.Int).Mul(shares, v.totalAssets)
	assets.Quo(assets, v.totalShares)
	v.totalShares.Sub(v.totalShares, shares)
	v.totalAssets.Sub(v.totalAssets, assets)
	return assets, nil
}

// ConvertToAssets quotes the asset value of the shares without burning them.
func (v *MemoryVault) ConvertToAssets(shares *big.Int) (*big.Int, error) {
	if shares == nil || shares.Sign() < 0 {
		return nil, errVaultBadAmount
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.totalShares.Sign() == 0 {
		return big.NewInt(0), nil
	}
	assets := new(big.Int).Mul(shares, v.totalAssets)
	assets.Quo(assets, v.totalShares)
	return assets, nil
}

// TotalAssets reports the vault's current asset base.
func (v *MemoryVault) TotalAssets() *big.Int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return new(big.Int).Set(v.totalAssets)
}

// Accrue inflates the asset base to simulate earned yield.
func (v *MemoryVault) Accrue(amount *big.Int) {
	if amount == nil || amount.Sign() <= 0 {
		return
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	v.totalAssets.Add(v.totalAssets, amount)
}
