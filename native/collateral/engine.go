package collateral

import (
	"errors"
	"math/big"
	"time"

	"tandachain/core/events"
	"tandachain/core/types"
	nativecommon "tandachain/native/common"
)

var (
	// ErrDepositTooLow is returned when the attached value is below the
	// position's minimum deposit.
	ErrDepositTooLow = errors.New("collateral engine: attached value below minimum deposit")
	// ErrRegistrationEnded is returned when a join arrives after the
	// registration window elapsed without the term filling.
	ErrRegistrationEnded = errors.New("collateral engine: registration period ended")
	// ErrWithdrawalLocked is returned while the record state forbids any
	// withdrawal.
	ErrWithdrawalLocked = errors.New("collateral engine: withdrawal locked in current state")
	// ErrNothingToWithdraw is returned when the computed withdrawable
	// balance is zero.
	ErrNothingToWithdraw = errors.New("collateral engine: nothing to withdraw")
	// ErrInsufficientBalance is returned when an account cannot cover a
	// transfer.
	ErrInsufficientBalance = errors.New("collateral engine: insufficient balance")
	// ErrNotMember is returned for operations on unknown depositors.
	ErrNotMember = errors.New("collateral engine: not a member")
	// ErrAlreadyJoined is returned when a depositor joins a term twice.
	ErrAlreadyJoined = errors.New("collateral engine: already joined")
	// ErrJoinClosed is returned when the record no longer accepts deposits.
	ErrJoinClosed = errors.New("collateral engine: term not accepting collateral")
	// ErrSweepTooEarly is returned when the dormancy window has not elapsed.
	ErrSweepTooEarly = errors.New("collateral engine: dormancy window not elapsed")
	// ErrNotOwner is returned when a privileged call does not come from the
	// term owner.
	ErrNotOwner = errors.New("collateral engine: caller is not the term owner")

	errNilState      = errors.New("collateral engine: state not configured")
	errNilConverter  = errors.New("collateral engine: price adapter not configured")
	errNilRecord     = errors.New("collateral engine: record not initialised")
	errInvalidAmount = errors.New("collateral engine: amount must be positive")
	errBadPosition   = errors.New("collateral engine: position out of range")
	errSeizedPool    = errors.New("collateral engine: seized pool underflow")
)

var basisPoints = big.NewInt(10_000)

const moduleName = "collateral"

type engineState interface {
	GetTerm(termID uint64) (*types.Term, error)
	CollateralGet(termID uint64) (*Record, bool)
	CollateralPut(*Record) error
	GetAccount(addr [20]byte) (*types.Account, error)
	PutAccount(addr [20]byte, account *types.Account) error
}

// Converter translates between stable-asset and collateral-asset amounts.
// Implemented by the pricefeed adapter; every call re-validates feed health.
type Converter interface {
	ToCollateral(stable *big.Int) (*big.Int, error)
	ToStable(collateral *big.Int) (*big.Int, error)
}

// ObligationSource reports the stable-asset value a member still owes across
// the remaining cycles of a term. Implemented by the fund engine.
type ObligationSource interface {
	RemainingContribution(termID uint64, user [20]byte) (*big.Int, error)
}

// Engine is the per-term collateral ledger: it sizes deposits by payout
// position, admits members, computes withdrawable balances and executes the
// liquidation waterfall on behalf of the fund engine.
type Engine struct {
	state         engineState
	converter     Converter
	obligations   ObligationSource
	emitter       events.Emitter
	moduleAddress [20]byte
	securityBps   uint64
	sweepAfter    time.Duration
	pauses        nativecommon.PauseView
	nowFn         func() int64
}

// NewEngine constructs a collateral engine holding deposits in the module
// vault address. The security multiplier defaults to 11000 bps (1.1x) and
// the dormancy sweep window to 180 days.
func NewEngine(moduleAddr [20]byte) *Engine {
	return &Engine{
		moduleAddress: moduleAddr,
		securityBps:   11_000,
		sweepAfter:    180 * 24 * time.Hour,
		emitter:       events.NoopEmitter{},
		nowFn:         func() int64 { return time.Now().Unix() },
	}
}

// SetState wires the engine to the external persistence layer.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetConverter wires the price adapter used for collateral sizing.
func (e *Engine) SetConverter(c Converter) { e.converter = c }

// SetObligations wires the fund engine view used to compute withdrawable
// balances while a term is ongoing.
func (e *Engine) SetObligations(o ObligationSource) { e.obligations = o }

// SetPauses wires the module pause switches.
func (e *Engine) SetPauses(p nativecommon.PauseView) { e.pauses = p }

// SetSecurityBps overrides the collateral security multiplier.
func (e *Engine) SetSecurityBps(bps uint64) {
	if e == nil || bps == 0 {
		return
	}
	e.securityBps = bps
}

// SetSweepAfter overrides the dormancy window gating owner sweeps.
func (e *Engine) SetSweepAfter(d time.Duration) {
	if e == nil || d <= 0 {
		return
	}
	e.sweepAfter = d
}

// SetEmitter configures the event emitter. Passing nil resets it to a no-op.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// SetNowFunc overrides the time source, primarily for deterministic tests.
func (e *Engine) SetNowFunc(now func() int64) {
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
}

type collateralEvent struct{ evt *types.Event }

func (e collateralEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e collateralEvent) Event() *types.Event { return e.evt }

func (e *Engine) emit(evt *types.Event) {
	if e == nil || e.emitter == nil || evt == nil {
		return
	}
	e.emitter.Emit(collateralEvent{evt: evt})
}

// MinDeposit returns the collateral required from the depositor who will
// occupy the given payout position. The requirement is the security multiple
// of the position's remaining-cycles contribution converted to collateral
// units, so it is monotonically non-increasing in position.
func (e *Engine) MinDeposit(termID uint64, position uint64) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if e.converter == nil {
		return nil, errNilConverter
	}
	term, err := e.state.GetTerm(termID)
	if err != nil {
		return nil, err
	}
	if position >= term.TotalParticipants {
		return nil, errBadPosition
	}
	remaining := new(big.Int).SetUint64(term.TotalParticipants - position)
	rcc := new(big.Int).Mul(term.ContributionAmount, remaining)
	secured := securedValue(rcc, e.securityBps)
	return e.converter.ToCollateral(secured)
}

// Join admits a depositor into the term, crediting the attached collateral
// to their locked bank. Excess above the minimum is kept and credited; the
// record flips to CycleOngoing when the final slot fills.
func (e *Engine) Join(termID uint64, depositor [20]byte, attached *big.Int, optYield bool) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	if attached == nil || attached.Sign() <= 0 {
		return errInvalidAmount
	}
	term, err := e.state.GetTerm(termID)
	if err != nil {
		return err
	}
	record, err := e.loadRecord(termID)
	if err != nil {
		return err
	}
	if record.State != AcceptingCollateral {
		return ErrJoinClosed
	}
	if e.nowFn() > term.CreatedAt+int64(term.RegistrationPeriod) {
		return ErrRegistrationEnded
	}
	if m, ok := record.Members[depositor]; ok && m.IsMember {
		return ErrAlreadyJoined
	}
	position := record.CounterMembers
	min, err := e.MinDeposit(termID, position)
	if err != nil {
		return err
	}
	if attached.Cmp(min) < 0 {
		return ErrDepositTooLow
	}

	if err := e.moveNative(depositor, e.moduleAddress, attached); err != nil {
		return err
	}

	member := &Member{
		Addr:            depositor,
		IsMember:        true,
		Position:        position,
		LockedBank:      new(big.Int).Set(attached),
		PaymentBank:     big.NewInt(0),
		AmountDeposited: new(big.Int).Set(attached),
		ExpulsionLimit:  min,
		OptedInYield:    optYield,
	}
	record.Members[depositor] = member
	record.Depositors = append(record.Depositors, depositor)
	if record.CounterMembers == 0 {
		record.FirstDepositTime = e.nowFn()
	}
	record.CounterMembers++
	record.TotalInflow = new(big.Int).Add(record.TotalInflow, attached)

	filled := record.CounterMembers == term.TotalParticipants
	if filled {
		record.State = CycleOngoing
	}
	if err := e.state.CollateralPut(record); err != nil {
		return err
	}
	e.emit(newDepositedEvent(termID, depositor, attached, position))
	if filled {
		e.emit(newTermFilledEvent(termID, record.CounterMembers))
	}
	return nil
}

// TopUp adds collateral to an existing member's locked bank, used to recover
// an under-collateralized position (e.g. to thaw a frozen pot).
func (e *Engine) TopUp(termID uint64, user [20]byte, attached *big.Int) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	if attached == nil || attached.Sign() <= 0 {
		return errInvalidAmount
	}
	record, err := e.loadRecord(termID)
	if err != nil {
		return err
	}
	member, ok := record.Members[user]
	if !ok {
		return ErrNotMember
	}
	if err := e.moveNative(user, e.moduleAddress, attached); err != nil {
		return err
	}
	member.LockedBank = new(big.Int).Add(member.LockedBank, attached)
	member.AmountDeposited = new(big.Int).Add(member.AmountDeposited, attached)
	record.TotalInflow = new(big.Int).Add(record.TotalInflow, attached)
	if err := e.state.CollateralPut(record); err != nil {
		return err
	}
	e.emit(newDepositedEvent(termID, user, attached, member.Position))
	return nil
}

// WithdrawableBalance computes, without storing, the amount the user could
// withdraw right now. Zero while accepting deposits; the full bank balance
// once collateral is releasing; during an ongoing cycle only the excess over
// the still-required security buffer, which grows as contributions are paid.
func (e *Engine) WithdrawableBalance(termID uint64, user [20]byte) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	record, err := e.loadRecord(termID)
	if err != nil {
		return nil, err
	}
	member, ok := record.Members[user]
	if !ok {
		return nil, ErrNotMember
	}
	banks := new(big.Int).Add(cloneBig(member.LockedBank), cloneBig(member.PaymentBank))
	switch record.State {
	case AcceptingCollateral, Closed:
		return big.NewInt(0), nil
	case ReleasingCollateral:
		return banks, nil
	}
	if !member.IsMember {
		// Expelled members keep the right to whatever is still credited.
		return banks, nil
	}
	if e.obligations == nil || e.converter == nil {
		return big.NewInt(0), nil
	}
	rcc, err := e.obligations.RemainingContribution(termID, user)
	if err != nil {
		return nil, err
	}
	buffer, err := e.converter.ToCollateral(securedValue(rcc, e.securityBps))
	if err != nil {
		return nil, err
	}
	free := new(big.Int).Add(cloneBig(member.PaymentBank), cloneBig(member.LockedBank))
	free.Sub(free, buffer)
	if free.Sign() < 0 {
		return big.NewInt(0), nil
	}
	return free, nil
}

// Withdraw pays the caller's withdrawable balance to the recipient address.
func (e *Engine) Withdraw(termID uint64, user, to [20]byte) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return nil, err
	}
	record, err := e.loadRecord(termID)
	if err != nil {
		return nil, err
	}
	if record.State == AcceptingCollateral {
		return nil, ErrWithdrawalLocked
	}
	member, ok := record.Members[user]
	if !ok {
		return nil, ErrNotMember
	}
	amount, err := e.WithdrawableBalance(termID, user)
	if err != nil {
		return nil, err
	}
	if amount.Sign() == 0 {
		return nil, ErrNothingToWithdraw
	}
	if err := e.moveNative(e.moduleAddress, to, amount); err != nil {
		return nil, err
	}
	debitBanks(member, amount)
	record.TotalOutflow = new(big.Int).Add(record.TotalOutflow, amount)
	if err := e.state.CollateralPut(record); err != nil {
		return nil, err
	}
	e.emit(newWithdrawnEvent(termID, user, to, amount))
	return amount, nil
}

// RatioHealthy reports whether the member's bank value covers the security
// multiple of their remaining obligation.
func (e *Engine) RatioHealthy(termID uint64, user [20]byte, rcc *big.Int) (bool, error) {
	value, err := e.bankStableValue(termID, user)
	if err != nil {
		return false, err
	}
	return value.Cmp(securedValue(rcc, e.securityBps)) >= 0, nil
}

// BelowExpulsionLimit reports whether the member's bank value dropped under
// the bare remaining obligation, the threshold past which the member can no
// longer be carried.
func (e *Engine) BelowExpulsionLimit(termID uint64, user [20]byte, rcc *big.Int) (bool, error) {
	value, err := e.bankStableValue(termID, user)
	if err != nil {
		return false, err
	}
	if rcc == nil {
		return false, nil
	}
	return value.Cmp(rcc) < 0, nil
}

// Liquidate covers a stable-asset shortfall from the member's collateral:
// payment bank first, then the locked bank down to zero. Seized collateral
// moves to the protocol-held pool; the stable value actually recovered may
// be less than the shortfall, which the caller records as a loss rather than
// an error.
func (e *Engine) Liquidate(termID uint64, user [20]byte, shortfall *big.Int) (seized, recovered *big.Int, err error) {
	if e == nil || e.state == nil {
		return nil, nil, errNilState
	}
	if e.converter == nil {
		return nil, nil, errNilConverter
	}
	if shortfall == nil || shortfall.Sign() <= 0 {
		return nil, nil, errInvalidAmount
	}
	record, err := e.loadRecord(termID)
	if err != nil {
		return nil, nil, err
	}
	member, ok := record.Members[user]
	if !ok {
		return nil, nil, ErrNotMember
	}
	needed, err := e.converter.ToCollateral(shortfall)
	if err != nil {
		return nil, nil, err
	}
	seized = debitBanks(member, needed)
	recovered, err = e.converter.ToStable(seized)
	if err != nil {
		return nil, nil, err
	}
	if recovered.Cmp(shortfall) > 0 {
		recovered = new(big.Int).Set(shortfall)
	}
	record.SeizedPool = new(big.Int).Add(record.SeizedPool, seized)
	if err := e.state.CollateralPut(record); err != nil {
		return nil, nil, err
	}
	e.emit(newLiquidatedEvent(termID, user, shortfall, seized, recovered))
	return seized, recovered, nil
}

// TakeSeized hands protocol-held seized collateral over to the fund engine,
// which assigns it to a beneficiary's pot. The amount leaves the ledger's
// accounting at this point.
func (e *Engine) TakeSeized(termID uint64, amount *big.Int) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if amount == nil || amount.Sign() == 0 {
		return nil
	}
	record, err := e.loadRecord(termID)
	if err != nil {
		return err
	}
	if record.SeizedPool.Cmp(amount) < 0 {
		return errSeizedPool
	}
	record.SeizedPool = new(big.Int).Sub(record.SeizedPool, amount)
	record.TotalOutflow = new(big.Int).Add(record.TotalOutflow, amount)
	return e.state.CollateralPut(record)
}

// Expel clears the member's membership flag. Their remaining banks stay
// credited and withdrawable under the usual state rules.
func (e *Engine) Expel(termID uint64, user [20]byte) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	record, err := e.loadRecord(termID)
	if err != nil {
		return err
	}
	member, ok := record.Members[user]
	if !ok {
		return ErrNotMember
	}
	member.IsMember = false
	return e.state.CollateralPut(record)
}

// Release flips the record to ReleasingCollateral, unlocking every member's
// full bank balance. Called when the term expires or closes.
func (e *Engine) Release(termID uint64) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	record, err := e.loadRecord(termID)
	if err != nil {
		return err
	}
	if record.State == ReleasingCollateral || record.State == Closed {
		return nil
	}
	record.State = ReleasingCollateral
	record.ReleasedAt = e.nowFn()
	if err := e.state.CollateralPut(record); err != nil {
		return err
	}
	e.emit(newReleasedEvent(termID))
	return nil
}

// SweepUser moves a single dormant member's unclaimed balance to the term
// owner after the dormancy window. Owner-gated safety valve, reachable only
// once normal withdrawal paths have been open for the full window.
func (e *Engine) SweepUser(termID uint64, caller, user, to [20]byte) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	term, err := e.state.GetTerm(termID)
	if err != nil {
		return nil, err
	}
	if caller != term.Owner {
		return nil, ErrNotOwner
	}
	record, err := e.loadRecord(termID)
	if err != nil {
		return nil, err
	}
	if record.State != ReleasingCollateral {
		return nil, ErrWithdrawalLocked
	}
	if e.nowFn() < record.ReleasedAt+int64(e.sweepAfter/time.Second) {
		return nil, ErrSweepTooEarly
	}
	member, ok := record.Members[user]
	if !ok {
		return nil, ErrNotMember
	}
	amount := new(big.Int).Add(cloneBig(member.LockedBank), cloneBig(member.PaymentBank))
	if amount.Sign() == 0 {
		return nil, ErrNothingToWithdraw
	}
	if err := e.moveNative(e.moduleAddress, to, amount); err != nil {
		return nil, err
	}
	member.LockedBank = big.NewInt(0)
	member.PaymentBank = big.NewInt(0)
	record.TotalOutflow = new(big.Int).Add(record.TotalOutflow, amount)
	if err := e.state.CollateralPut(record); err != nil {
		return nil, err
	}
	e.emit(newSweptEvent(termID, user, to, amount))
	return amount, nil
}

// SweepTerm sweeps every dormant balance in the term and closes the record.
func (e *Engine) SweepTerm(termID uint64, caller, to [20]byte) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	term, err := e.state.GetTerm(termID)
	if err != nil {
		return nil, err
	}
	if caller != term.Owner {
		return nil, ErrNotOwner
	}
	record, err := e.loadRecord(termID)
	if err != nil {
		return nil, err
	}
	total := big.NewInt(0)
	for _, addr := range record.Depositors {
		swept, err := e.SweepUser(termID, caller, addr, to)
		if err != nil {
			if errors.Is(err, ErrNothingToWithdraw) {
				continue
			}
			return nil, err
		}
		total.Add(total, swept)
	}
	record, err = e.loadRecord(termID)
	if err != nil {
		return nil, err
	}
	record.State = Closed
	if err := e.state.CollateralPut(record); err != nil {
		return nil, err
	}
	return total, nil
}

// Depositors returns the ordered join list, which is also the payout order.
func (e *Engine) Depositors(termID uint64) ([][20]byte, error) {
	record, err := e.loadRecord(termID)
	if err != nil {
		return nil, err
	}
	return append([][20]byte(nil), record.Depositors...), nil
}

// Record returns a deep copy of the term's collateral record for summaries.
func (e *Engine) Record(termID uint64) (*Record, error) {
	record, err := e.loadRecord(termID)
	if err != nil {
		return nil, err
	}
	return record.Clone(), nil
}

func (e *Engine) loadRecord(termID uint64) (*Record, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	record, ok := e.state.CollateralGet(termID)
	if !ok || record == nil {
		return nil, errNilRecord
	}
	record.ensureTotals()
	return record, nil
}

func (e *Engine) bankStableValue(termID uint64, user [20]byte) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if e.converter == nil {
		return nil, errNilConverter
	}
	record, err := e.loadRecord(termID)
	if err != nil {
		return nil, err
	}
	member, ok := record.Members[user]
	if !ok {
		return nil, ErrNotMember
	}
	banks := new(big.Int).Add(cloneBig(member.LockedBank), cloneBig(member.PaymentBank))
	return e.converter.ToStable(banks)
}

func (e *Engine) moveNative(from, to [20]byte, amount *big.Int) error {
	fromAcc, err := e.state.GetAccount(from)
	if err != nil {
		return err
	}
	fromAcc = fromAcc.EnsureBalances()
	if fromAcc.BalanceNative.Cmp(amount) < 0 {
		return ErrInsufficientBalance
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

// debitBanks takes up to amount from the payment bank first, then the locked
// bank, returning what was actually taken.
func debitBanks(member *Member, amount *big.Int) *big.Int {
	taken := big.NewInt(0)
	remaining := cloneBig(amount)
	if member.PaymentBank == nil {
		member.PaymentBank = big.NewInt(0)
	}
	if member.LockedBank == nil {
		member.LockedBank = big.NewInt(0)
	}
	if member.PaymentBank.Sign() > 0 {
		take := minBig(member.PaymentBank, remaining)
		member.PaymentBank = new(big.Int).Sub(member.PaymentBank, take)
		remaining.Sub(remaining, take)
		taken.Add(taken, take)
	}
	if remaining.Sign() > 0 && member.LockedBank.Sign() > 0 {
		take := minBig(member.LockedBank, remaining)
		member.LockedBank = new(big.Int).Sub(member.LockedBank, take)
		taken.Add(taken, take)
	}
	return taken
}

func securedValue(stable *big.Int, bps uint64) *big.Int {
	if stable == nil {
		return big.NewInt(0)
	}
	out := new(big.Int).Mul(stable, new(big.Int).SetUint64(bps))
	return out.Quo(out, basisPoints)
}

func minBig(a, b *big.Int) *big.Int {
	if a.Cmp(b) <= 0 {
		return new(big.Int).Set(a)
	}
	return new(big.Int).Set(b)
}
