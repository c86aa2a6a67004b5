package yield

import (
	"errors"
	"fmt"
	"math/big"

	"tandachain/core/events"
	"tandachain/core/types"
	nativecommon "tandachain/native/common"
)

var (
	// ErrNotOptedIn is returned for yield operations by members who never
	// opted in.
	ErrNotOptedIn = errors.New("yield engine: user not opted in")
	// ErrNothingToClaim is returned when the position has earned no yield.
	ErrNothingToClaim = errors.New("yield engine: no yield available")
	// ErrNoPosition is returned when the user holds no vault shares.
	ErrNoPosition = errors.New("yield engine: no position for user")
	// ErrOptInLocked is returned when the flag is flipped after collateral
	// already moved into the vault.
	ErrOptInLocked = errors.New("yield engine: opt-in locked while collateral is vaulted")
	// ErrNotOwner gates the reconciliation operations.
	ErrNotOwner = errors.New("yield engine: caller is not the owner")
	// ErrInsufficientBalance is returned when a transfer cannot be covered.
	ErrInsufficientBalance = errors.New("yield engine: insufficient balance")

	errNilState  = errors.New("yield engine: state not configured")
	errNilVault  = errors.New("yield engine: vault not configured")
	errNilRecord = errors.New("yield engine: record not initialised")
)

const moduleName = "yield"

type engineState interface {
	YieldGet(termID uint64) (*Record, bool)
	YieldPut(*Record) error
	GetAccount(addr [20]byte) (*types.Account, error)
	PutAccount(addr [20]byte, account *types.Account) error
}

// Engine adapts opted-in collateral into a yield vault. Principal moves from
// the collateral vault into the custody address on deposit and back on
// withdrawal; earned yield is paid to the member directly.
type Engine struct {
	state           engineState
	vault           Vault
	emitter         events.Emitter
	owner           [20]byte
	collateralVault [20]byte
	custodyAddress  [20]byte
	pauses          nativecommon.PauseView
}

// NewEngine constructs a yield engine bridging the collateral vault and the
// custody address the strategy assets sit at.
func NewEngine(collateralVault, custodyAddress [20]byte) *Engine {
	return &Engine{
		collateralVault: collateralVault,
		custodyAddress:  custodyAddress,
		emitter:         events.NoopEmitter{},
	}
}

// SetState wires the engine to the external persistence layer.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetVault wires the yield strategy.
func (e *Engine) SetVault(vault Vault) { e.vault = vault }

// SetOwner configures the address allowed to run reconciliation operations.
func (e *Engine) SetOwner(owner [20]byte) { e.owner = owner }

// SetPauses wires the module pause switches.
func (e *Engine) SetPauses(p nativecommon.PauseView) { e.pauses = p }

// SetEmitter configures the event emitter. Passing nil resets it to a no-op.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

type yieldEvent struct{ evt *types.Event }

func (e yieldEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e yieldEvent) Event() *types.Event { return e.evt }

func (e *Engine) emit(evt *types.Event) {
	if e == nil || e.emitter == nil || evt == nil {
		return
	}
	e.emitter.Emit(yieldEvent{evt: evt})
}

// ToggleOptIn flips the member's opt-in flag. The flag is consulted at join
// time and locks once collateral sits in the vault.
func (e *Engine) ToggleOptIn(termID uint64, user [20]byte) (bool, error) {
	if e == nil || e.state == nil {
		return false, errNilState
	}
	record := e.loadOrCreate(termID)
	p := record.position(user)
	if p.Shares != nil && p.Shares.Sign() > 0 {
		return p.OptedIn, ErrOptInLocked
	}
	p.OptedIn = !p.OptedIn
	if err := e.state.YieldPut(record); err != nil {
		return false, err
	}
	e.emit(newOptInToggledEvent(termID, user, p.OptedIn))
	return p.OptedIn, nil
}

// OptedIn reports whether the member currently routes collateral to yield.
func (e *Engine) OptedIn(termID uint64, user [20]byte) (bool, error) {
	if e == nil || e.state == nil {
		return false, errNilState
	}
	record, ok := e.state.YieldGet(termID)
	if !ok || record == nil {
		return false, nil
	}
	p, ok := record.Positions[user]
	if !ok {
		return false, nil
	}
	return p.OptedIn, nil
}

// DepositCollateral parks the member's collateral in the vault and mints
// shares against it. Called by the term registry at join time for opted-in
// members.
func (e *Engine) DepositCollateral(termID uint64, user [20]byte, amount *big.Int) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if e.vault == nil {
		return errNilVault
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	record := e.loadOrCreate(termID)
	p := record.position(user)
	if !p.OptedIn {
		return ErrNotOptedIn
	}
	shares, err := e.vault.Deposit(amount)
	if err != nil {
		return err
	}
	if err := e.moveNative(e.collateralVault, e.custodyAddress, amount); err != nil {
		return err
	}
	p.Shares = new(big.Int).Add(p.Shares, shares)
	p.Deposited = new(big.Int).Add(p.Deposited, amount)
	record.TotalShares = new(big.Int).Add(record.TotalShares, shares)
	record.TotalDeposited = new(big.Int).Add(record.TotalDeposited, amount)
	if err := e.state.YieldPut(record); err != nil {
		return err
	}
	e.emit(newDepositedEvent(termID, user, amount, shares))
	return nil
}

// AvailableYield quotes the member's unclaimed yield: the asset value of
// their shares beyond the principal deposited.
func (e *Engine) AvailableYield(termID uint64, user [20]byte) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if e.vault == nil {
		return nil, errNilVault
	}
	record, ok := e.state.YieldGet(termID)
	if !ok || record == nil {
		return big.NewInt(0), nil
	}
	p, ok := record.Positions[user]
	if !ok || p.Shares == nil || p.Shares.Sign() == 0 {
		return big.NewInt(0), nil
	}
	assets, err := e.vault.ConvertToAssets(p.Shares)
	if err != nil {
		return nil, err
	}
	earned := new(big.Int).Sub(assets, p.Deposited)
	if earned.Sign() < 0 {
		return big.NewInt(0), nil
	}
	return earned, nil
}

// ClaimAvailableYield pays the member's earned yield to the recipient while
// leaving the principal staked. Shares worth the yield are burned.
func (e *Engine) ClaimAvailableYield(termID uint64, user, to [20]byte) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if e.vault == nil {
		return nil, errNilVault
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return nil, err
	}
	record, ok := e.state.YieldGet(termID)
	if !ok || record == nil {
		return nil, errNilRecord
	}
	record.ensureTotals()
	p, ok := record.Positions[user]
	if !ok || p.Shares == nil || p.Shares.Sign() == 0 {
		return nil, ErrNoPosition
	}
	p.ensureTotals()
	assets, err := e.vault.ConvertToAssets(p.Shares)
	if err != nil {
		return nil, err
	}
	earned := new(big.Int).Sub(assets, p.Deposited)
	if earned.Sign() <= 0 {
		return nil, ErrNothingToClaim
	}
	// Burn rounds up so the claim never pays less than the earned amount
	// quoted above; the dust difference stays with the position.
	burn, rem := new(big.Int).QuoRem(new(big.Int).Mul(p.Shares, earned), assets, new(big.Int))
	if rem.Sign() != 0 {
		burn.Add(burn, big.NewInt(1))
	}
	if burn.Cmp(p.Shares) > 0 {
		burn = new(big.Int).Set(p.Shares)
	}
	if burn.Sign() == 0 {
		return nil, ErrNothingToClaim
	}
	paid, err := e.vault.Withdraw(burn)
	if err != nil {
		return nil, err
	}
	if err := e.moveNative(e.custodyAddress, to, paid); err != nil {
		return nil, err
	}
	p.Shares = new(big.Int).Sub(p.Shares, burn)
	p.YieldClaimed = new(big.Int).Add(p.YieldClaimed, paid)
	record.TotalShares = new(big.Int).Sub(record.TotalShares, burn)
	record.TotalYieldClaimed = new(big.Int).Add(record.TotalYieldClaimed, paid)
	if err := e.state.YieldPut(record); err != nil {
		return nil, err
	}
	e.emit(newClaimedEvent(termID, user, to, paid))
	return paid, nil
}

// WithdrawCollateral exits the member's whole position: principal returns to
// the collateral vault so the ledger's release path can pay it, residual
// yield goes straight to the member. Called by the registry when collateral
// withdraws after a term releases.
func (e *Engine) WithdrawCollateral(termID uint64, user [20]byte) (*big.Int, *big.Int, error) {
	if e == nil || e.state == nil {
		return nil, nil, errNilState
	}
	if e.vault == nil {
		return nil, nil, errNilVault
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return nil, nil, err
	}
	record, ok := e.state.YieldGet(termID)
	if !ok || record == nil {
		return nil, nil, errNilRecord
	}
	record.ensureTotals()
	p, ok := record.Positions[user]
	if !ok || p.Shares == nil || p.Shares.Sign() == 0 {
		return nil, nil, ErrNoPosition
	}
	p.ensureTotals()
	assets, err := e.vault.Withdraw(p.Shares)
	if err != nil {
		return nil, nil, err
	}
	principal := cloneBig(p.Deposited)
	if assets.Cmp(principal) < 0 {
		principal = cloneBig(assets)
	}
	earned := new(big.Int).Sub(assets, principal)
	if principal.Sign() > 0 {
		if err := e.moveNative(e.custodyAddress, e.collateralVault, principal); err != nil {
			return nil, nil, err
		}
	}
	if earned.Sign() > 0 {
		if err := e.moveNative(e.custodyAddress, user, earned); err != nil {
			return nil, nil, err
		}
	}
	record.TotalShares = new(big.Int).Sub(record.TotalShares, p.Shares)
	record.TotalDeposited = new(big.Int).Sub(record.TotalDeposited, p.Deposited)
	record.TotalYieldClaimed = new(big.Int).Add(record.TotalYieldClaimed, earned)
	p.Shares = big.NewInt(0)
	p.Deposited = big.NewInt(0)
	p.YieldClaimed = new(big.Int).Add(p.YieldClaimed, earned)
	if err := e.state.YieldPut(record); err != nil {
		return nil, nil, err
	}
	e.emit(newCollateralWithdrawnEvent(termID, user, principal, earned))
	return principal, earned, nil
}

// RecallPrincipal unwinds the member's whole vault position ahead of a
// liquidation so the collateral vault physically holds what the ledger is
// about to seize. Members without a position are a no-op.
func (e *Engine) RecallPrincipal(termID uint64, user [20]byte) (*big.Int, error) {
	principal, _, err := e.WithdrawCollateral(termID, user)
	if err != nil {
		if errors.Is(err, ErrNoPosition) || errors.Is(err, errNilRecord) {
			return big.NewInt(0), nil
		}
		return nil, err
	}
	return principal, nil
}

// RescueStuckYield sweeps custody balance the vault no longer accounts for
// to the recipient. Owner-gated reconciliation for assets stranded after
// every position exited.
func (e *Engine) RescueStuckYield(caller [20]byte, termID uint64, to [20]byte) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if e.vault == nil {
		return nil, errNilVault
	}
	if caller != e.owner {
		return nil, ErrNotOwner
	}
	account, err := e.state.GetAccount(e.custodyAddress)
	if err != nil {
		return nil, err
	}
	account = account.EnsureBalances()
	stuck := new(big.Int).Sub(account.BalanceNative, e.vault.TotalAssets())
	if stuck.Sign() <= 0 {
		return nil, ErrNothingToClaim
	}
	if err := e.moveNative(e.custodyAddress, to, stuck); err != nil {
		return nil, err
	}
	e.emit(newRescuedEvent(termID, to, stuck))
	return stuck, nil
}

// ReimburseExtraYield pays a member out of the owner's own balance when the
// adapter short-claimed them against the strategy.
func (e *Engine) ReimburseExtraYield(caller [20]byte, termID uint64, user [20]byte, amount *big.Int) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if caller != e.owner {
		return ErrNotOwner
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrNothingToClaim
	}
	if err := e.moveNative(caller, user, amount); err != nil {
		return err
	}
	e.emit(newReimbursedEvent(termID, user, amount))
	return nil
}

// RestoreYieldBalance resets the member's share balance to their pro-rata
// entitlement of the record's total. Owner-gated; used after a strategy
// migration skews individual share counts.
func (e *Engine) RestoreYieldBalance(caller [20]byte, termID uint64, user [20]byte) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if caller != e.owner {
		return nil, ErrNotOwner
	}
	record, ok := e.state.YieldGet(termID)
	if !ok || record == nil {
		return nil, errNilRecord
	}
	record.ensureTotals()
	p, ok := record.Positions[user]
	if !ok {
		return nil, ErrNoPosition
	}
	p.ensureTotals()
	if record.TotalDeposited.Sign() == 0 {
		return nil, ErrNoPosition
	}
	entitled := new(big.Int).Mul(record.TotalShares, p.Deposited)
	entitled.Quo(entitled, record.TotalDeposited)
	p.Shares = entitled
	if err := e.state.YieldPut(record); err != nil {
		return nil, err
	}
	e.emit(newRestoredEvent(termID, user, entitled))
	return entitled, nil
}

// Record returns a deep copy of the term's yield ledger for summaries.
func (e *Engine) Record(termID uint64) (*Record, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	record, ok := e.state.YieldGet(termID)
	if !ok || record == nil {
		return NewRecord(termID), nil
	}
	return record.Clone(), nil
}

func (e *Engine) loadOrCreate(termID uint64) *Record {
	record, ok := e.state.YieldGet(termID)
	if !ok || record == nil {
		record = NewRecord(termID)
	}
	record.ensureTotals()
	return record
}

func (e *Engine) moveNative(from, to [20]byte, amount *big.Int) error {
	fromAcc, err := e.state.GetAccount(from)
	if err != nil {
		return err
	}
	fromAcc = fromAcc.EnsureBalances()
	if fromAcc.BalanceNative.Cmp(amount) < 0 {
		return fmt.Errorf("%w: available %s, required %s", ErrInsufficientBalance, fromAcc.BalanceNative, amount)
	}
	toAcc, err := e.state.GetAccount(to)
	if err != nil {
		return err
	}
	toAcc = toAcc.EnsureBalances()
	fromAcc.BalanceNative = new(big.Int).Sub(fromAcc.BalanceNative, amount)
	toAcc.BalanceNative = new(big.Int).Add(toAcc.BalanceNative, amount)
	if err := e.state.PutAccount(from, fromAcc); err != nil {
		return err
	}
	return e.state.PutAccount(to, toAcc)
}
