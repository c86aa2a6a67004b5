package fund

import (
	"errors"
	"fmt"
	"math/big"
	"time"

	"tandachain/core/events"
	"tandachain/core/types"
	nativecommon "tandachain/native/common"
)

var (
	// ErrSpotsUnfilled is returned when a start is attempted before every
	// slot is taken.
	ErrSpotsUnfilled = errors.New("fund engine: all spots are not filled")
	// ErrTermNotActive is returned for cycle operations outside ActiveTerm.
	ErrTermNotActive = errors.New("fund engine: term not active")
	// ErrTermNotReady is returned when the term is not in a startable state.
	ErrTermNotReady = errors.New("fund engine: term not ready to start")
	// ErrNotParticipant is returned for addresses outside the participant
	// set, including expelled members.
	ErrNotParticipant = errors.New("fund engine: not a participant")
	// ErrAlreadyPaid is returned on a double contribution within one cycle.
	ErrAlreadyPaid = errors.New("fund engine: contribution already paid this cycle")
	// ErrBeneficiaryDoesNotPay is returned when the cycle's beneficiary
	// attempts to contribute to their own pot.
	ErrBeneficiaryDoesNotPay = errors.New("fund engine: beneficiary does not pay own cycle")
	// ErrFundingOpen is returned when the funding period has not elapsed.
	ErrFundingOpen = errors.New("fund engine: contribution period still open")
	// ErrFundingClosed is returned for contributions after the cycle
	// resolved; the closed cycle's default record is never rewritten.
	ErrFundingClosed = errors.New("fund engine: funding period closed for this cycle")
	// ErrCycleResolved is returned when a cycle is closed twice.
	ErrCycleResolved = errors.New("fund engine: cycle already resolved")
	// ErrCycleOpen is returned when a new cycle is started before the
	// current one resolved.
	ErrCycleOpen = errors.New("fund engine: current cycle not resolved")
	// ErrNothingToWithdraw is returned when the caller's pot is empty.
	ErrNothingToWithdraw = errors.New("fund engine: nothing to withdraw")
	// ErrFrozenPot is returned while a pot is withheld pending collateral
	// recovery.
	ErrFrozenPot = errors.New("fund engine: money pot frozen, collateral insufficient")
	// ErrNotOwner is returned when a privileged call does not come from the
	// term owner.
	ErrNotOwner = errors.New("fund engine: caller is not the term owner")
	// ErrRegistrationActive is returned when expiry is attempted before the
	// registration window elapsed.
	ErrRegistrationActive = errors.New("fund engine: registration period still active")
	// ErrInsufficientBalance is returned when a payer cannot cover the
	// contribution.
	ErrInsufficientBalance = errors.New("fund engine: insufficient balance")

	errNilState  = errors.New("fund engine: state not configured")
	errNilLedger = errors.New("fund engine: collateral ledger not configured")
	errNilRecord = errors.New("fund engine: record not initialised")
)

const moduleName = "fund"

type engineState interface {
	GetTerm(termID uint64) (*types.Term, error)
	FundGet(termID uint64) (*Record, bool)
	FundPut(*Record) error
	GetAccount(addr [20]byte) (*types.Account, error)
	PutAccount(addr [20]byte, account *types.Account) error
}

// CollateralLedger is the narrow view of the collateral engine the cycle
// machine needs: waterfall execution, ratio checks and release.
type CollateralLedger interface {
	Depositors(termID uint64) ([][20]byte, error)
	RatioHealthy(termID uint64, user [20]byte, rcc *big.Int) (bool, error)
	BelowExpulsionLimit(termID uint64, user [20]byte, rcc *big.Int) (bool, error)
	Liquidate(termID uint64, user [20]byte, shortfall *big.Int) (seized, recovered *big.Int, err error)
	TakeSeized(termID uint64, amount *big.Int) error
	Expel(termID uint64, user [20]byte) error
	Release(termID uint64) error
}

// CollateralRecaller pulls a member's vaulted principal back into the
// collateral vault ahead of a liquidation, so the seizure spends the
// defaulter's own assets rather than the vault's shared backing. Implemented
// by the yield engine.
type CollateralRecaller interface {
	RecallPrincipal(termID uint64, user [20]byte) (*big.Int, error)
}

// Engine drives the per-term cycle state machine: contribution collection,
// default detection, the liquidation waterfall hand-off, beneficiary
// resolution and payout. Stable contributions are custodied at the stable
// vault address; collateral recovered from defaulters is paid out of the
// collateral vault.
type Engine struct {
	state           engineState
	ledger          CollateralLedger
	recaller        CollateralRecaller
	emitter         events.Emitter
	stableVault     [20]byte
	collateralVault [20]byte
	pauses          nativecommon.PauseView
	nowFn           func() int64
}

// NewEngine constructs a fund engine custodying contributions at the stable
// vault and paying recovered collateral from the collateral vault.
func NewEngine(stableVault, collateralVault [20]byte) *Engine {
	return &Engine{
		stableVault:     stableVault,
		collateralVault: collateralVault,
		emitter:         events.NoopEmitter{},
		nowFn:           func() int64 { return time.Now().Unix() },
	}
}

// SetState wires the engine to the external persistence layer.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetLedger wires the collateral ledger used for the liquidation waterfall.
func (e *Engine) SetLedger(ledger CollateralLedger) { e.ledger = ledger }

// SetRecaller wires the yield engine so defaulted members' vaulted principal
// is unwound before their banks are seized.
func (e *Engine) SetRecaller(recaller CollateralRecaller) { e.recaller = recaller }

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

// SetNowFunc overrides the time source, primarily for deterministic tests.
func (e *Engine) SetNowFunc(now func() int64) {
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
}

type fundEvent struct{ evt *types.Event }

func (e fundEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e fundEvent) Event() *types.Event { return e.evt }

func (e *Engine) emit(evt *types.Event) {
	if e == nil || e.emitter == nil || evt == nil {
		return
	}
	e.emitter.Emit(fundEvent{evt: evt})
}

// StartTerm seeds cycle 1 once every slot is filled. The beneficiary order
// is the collateral join order.
func (e *Engine) StartTerm(termID uint64, caller [20]byte) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if e.ledger == nil {
		return errNilLedger
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	term, err := e.state.GetTerm(termID)
	if err != nil {
		return err
	}
	if caller != term.Owner {
		return ErrNotOwner
	}
	record, err := e.loadRecord(termID)
	if err != nil {
		return err
	}
	if record.State != types.TermInitializing {
		return ErrTermNotReady
	}
	depositors, err := e.ledger.Depositors(termID)
	if err != nil {
		return err
	}
	if uint64(len(depositors)) != term.TotalParticipants {
		return ErrSpotsUnfilled
	}
	record.BeneficiaryOrder = depositors
	record.TotalCycles = term.TotalParticipants
	record.CurrentCycle = 1
	record.CycleStart = e.nowFn()
	record.CycleResolved = false
	record.State = types.TermActive
	for _, addr := range depositors {
		record.Participants[addr] = &Participant{
			Addr:       addr,
			Status:     StatusActive,
			Pool:       big.NewInt(0),
			PoolNative: big.NewInt(0),
		}
	}
	if err := e.state.FundPut(record); err != nil {
		return err
	}
	e.emit(newTermStartedEvent(termID, record.TotalCycles))
	e.emit(newCycleStartedEvent(termID, record.CurrentCycle))
	return nil
}

// PayContribution transfers the cycle contribution from the payer into the
// pot on behalf of the named participant (or the payer themselves).
func (e *Engine) PayContribution(termID uint64, payer, participant [20]byte) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	term, err := e.state.GetTerm(termID)
	if err != nil {
		return err
	}
	record, err := e.loadRecord(termID)
	if err != nil {
		return err
	}
	if record.State != types.TermActive {
		return ErrTermNotActive
	}
	if record.CycleResolved {
		return ErrFundingClosed
	}
	p, ok := record.Participants[participant]
	if !ok || p.Status == StatusExpelled {
		return ErrNotParticipant
	}
	if bene, found := record.scheduledBeneficiary(); found && bene == participant {
		return ErrBeneficiaryDoesNotPay
	}
	if p.PaidCurrentCycle {
		return ErrAlreadyPaid
	}
	if err := e.collectContribution(record, payer, p, term.ContributionAmount); err != nil {
		return err
	}
	return e.state.FundPut(record)
}

// SetAutoPay toggles automatic contribution collection for the participant.
func (e *Engine) SetAutoPay(termID uint64, participant [20]byte, enabled bool) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	record, err := e.loadRecord(termID)
	if err != nil {
		return err
	}
	p, ok := record.Participants[participant]
	if !ok || p.Status == StatusExpelled {
		return ErrNotParticipant
	}
	p.AutoPayEnabled = enabled
	return e.state.FundPut(record)
}

// CloseFundingPeriod resolves the running cycle once the contribution period
// elapsed: autopay is attempted best-effort, non-payers become defaulters
// and their missed contribution is covered from collateral via the
// liquidation waterfall, then the beneficiary is resolved. The cycle advance
// is the separate StartNewCycle call.
func (e *Engine) CloseFundingPeriod(termID uint64) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if e.ledger == nil {
		return errNilLedger
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	term, err := e.state.GetTerm(termID)
	if err != nil {
		return err
	}
	record, err := e.loadRecord(termID)
	if err != nil {
		return err
	}
	if record.State != types.TermActive {
		return ErrTermNotActive
	}
	if record.CycleResolved {
		return ErrCycleResolved
	}
	if e.nowFn() < record.CycleStart+int64(term.ContributionPeriod) {
		return ErrFundingOpen
	}

	beneficiary, haveBeneficiary := record.scheduledBeneficiary()

	// Best-effort autopay pass; per-participant failures are tolerated so
	// the rest of the cycle resolution continues.
	for _, addr := range record.BeneficiaryOrder {
		p := record.Participants[addr]
		if p == nil || p.Status == StatusExpelled || p.PaidCurrentCycle {
			continue
		}
		if haveBeneficiary && addr == beneficiary {
			continue
		}
		if !p.AutoPayEnabled {
			continue
		}
		if err := e.collectContribution(record, addr, p, term.ContributionAmount); err != nil {
			continue
		}
	}

	for _, addr := range record.BeneficiaryOrder {
		p := record.Participants[addr]
		if p == nil || p.Status == StatusExpelled || p.PaidCurrentCycle {
			continue
		}
		if haveBeneficiary && addr == beneficiary {
			// Exempt: the resolved beneficiary never pays their own cycle,
			// including a successor promoted past an expelled slot.
			continue
		}
		if p.Status == StatusDefaulter && p.LastDefaultCycle == record.CurrentCycle {
			// Already seized by a close attempt that failed later on.
			continue
		}
		if err := e.resolveDefaulter(record, term, p); err != nil {
			return err
		}
	}

	// A cycle with no resolvable slot carries its pot into the next one.
	if haveBeneficiary {
		if err := e.awardBeneficiary(record, beneficiary); err != nil {
			return err
		}
		record.CyclePot = big.NewInt(0)
		record.SeizedCycle = big.NewInt(0)
	}
	record.CycleResolved = true
	return e.state.FundPut(record)
}

// StartNewCycle resets per-cycle flags and advances the counter; past the
// final cycle the term closes and collateral starts releasing.
func (e *Engine) StartNewCycle(termID uint64) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if e.ledger == nil {
		return errNilLedger
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	record, err := e.loadRecord(termID)
	if err != nil {
		return err
	}
	if record.State != types.TermActive {
		return ErrTermNotActive
	}
	if !record.CycleResolved {
		return ErrCycleOpen
	}
	if record.CurrentCycle >= record.TotalCycles {
		record.State = types.TermClosed
		if err := e.state.FundPut(record); err != nil {
			return err
		}
		if err := e.ledger.Release(termID); err != nil {
			return err
		}
		e.emit(newTermClosedEvent(termID))
		return nil
	}
	record.CurrentCycle++
	record.CycleStart = e.nowFn()
	record.CycleResolved = false
	for _, p := range record.Participants {
		if p.Status == StatusExpelled {
			continue
		}
		p.PaidCurrentCycle = false
		// Beneficiary membership is cycle-scoped; an unresolved frozen pot
		// keeps the flag until the pot thaws.
		if p.Status == StatusBeneficiary && !p.PotFrozen {
			p.Status = StatusActive
		}
	}
	if err := e.state.FundPut(record); err != nil {
		return err
	}
	e.emit(newCycleStartedEvent(termID, record.CurrentCycle))
	return nil
}

// WithdrawFund pays the caller's pot to the recipient. A frozen pot stays
// locked until the participant's collateral ratio recovers.
func (e *Engine) WithdrawFund(termID uint64, caller, to [20]byte) (*big.Int, *big.Int, error) {
	if e == nil || e.state == nil {
		return nil, nil, errNilState
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return nil, nil, err
	}
	record, err := e.loadRecord(termID)
	if err != nil {
		return nil, nil, err
	}
	p, ok := record.Participants[caller]
	if !ok {
		return nil, nil, ErrNotParticipant
	}
	pool := cloneBig(p.Pool)
	poolNative := cloneBig(p.PoolNative)
	if pool.Sign() == 0 && poolNative.Sign() == 0 {
		return nil, nil, ErrNothingToWithdraw
	}
	if p.PotFrozen {
		rcc, err := e.RemainingContribution(termID, caller)
		if err != nil {
			return nil, nil, err
		}
		healthy, err := e.ledger.RatioHealthy(termID, caller, rcc)
		if err != nil {
			return nil, nil, err
		}
		if !healthy {
			return nil, nil, ErrFrozenPot
		}
		p.PotFrozen = false
	}
	if pool.Sign() > 0 {
		if err := e.moveStable(e.stableVault, to, pool); err != nil {
			return nil, nil, err
		}
	}
	if poolNative.Sign() > 0 {
		if err := e.moveNative(e.collateralVault, to, poolNative); err != nil {
			return nil, nil, err
		}
	}
	p.Pool = big.NewInt(0)
	p.PoolNative = big.NewInt(0)
	record.TotalStableOut = new(big.Int).Add(record.TotalStableOut, pool)
	if err := e.state.FundPut(record); err != nil {
		return nil, nil, err
	}
	e.emit(newFundWithdrawnEvent(termID, caller, to, pool, poolNative))
	return pool, poolNative, nil
}

// ExpireTerm abandons a term whose registration window elapsed unfilled and
// releases whatever collateral was deposited.
func (e *Engine) ExpireTerm(termID uint64, caller [20]byte) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if e.ledger == nil {
		return errNilLedger
	}
	term, err := e.state.GetTerm(termID)
	if err != nil {
		return err
	}
	if caller != term.Owner {
		return ErrNotOwner
	}
	record, err := e.loadRecord(termID)
	if err != nil {
		return err
	}
	if record.State != types.TermInitializing {
		return ErrTermNotReady
	}
	if e.nowFn() < term.CreatedAt+int64(term.RegistrationPeriod) {
		return ErrRegistrationActive
	}
	record.State = types.TermExpired
	if err := e.state.FundPut(record); err != nil {
		return err
	}
	if err := e.ledger.Release(termID); err != nil {
		return err
	}
	e.emit(newTermExpiredEvent(termID))
	return nil
}

// RemainingContribution reports the stable value the user still owes across
// the remaining cycles: every future cycle minus their still-pending award
// cycle, plus the running cycle while it is unpaid and unresolved. This is
// the obligation the collateral ledger sizes buffers against.
func (e *Engine) RemainingContribution(termID uint64, user [20]byte) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	term, err := e.state.GetTerm(termID)
	if err != nil {
		return nil, err
	}
	record, err := e.loadRecord(termID)
	if err != nil {
		return nil, err
	}
	switch record.State {
	case types.TermClosed, types.TermExpired:
		return big.NewInt(0), nil
	case types.TermInitializing:
		// Before start the obligation is position-based, as at join.
		position, found := e.joinPosition(termID, user)
		if !found {
			return big.NewInt(0), nil
		}
		remaining := new(big.Int).SetUint64(term.TotalParticipants - position)
		return remaining.Mul(remaining, term.ContributionAmount), nil
	}
	p, ok := record.Participants[user]
	if !ok || p.Status == StatusExpelled {
		return big.NewInt(0), nil
	}
	count := record.TotalCycles - record.CurrentCycle
	bene, found := record.scheduledBeneficiary()
	scheduled := found && bene == user
	if !p.HasBeenBeneficiary && !scheduled && count > 0 {
		// Their award cycle still lies ahead; no payment due then.
		count--
	}
	if !p.PaidCurrentCycle && !record.CycleResolved && !scheduled {
		count++
	}
	out := new(big.Int).SetUint64(count)
	return out.Mul(out, term.ContributionAmount), nil
}

// UserSet reports the participant's membership in the participant,
// beneficiary and defaulter sets; an expelled participant is in none.
func (e *Engine) UserSet(termID uint64, user [20]byte) (participant, beneficiary, defaulter bool, err error) {
	record, err := e.loadRecord(termID)
	if err != nil {
		return false, false, false, err
	}
	p, ok := record.Participants[user]
	if !ok {
		return false, false, false, nil
	}
	participant, beneficiary, defaulter = p.UserSet()
	return participant, beneficiary, defaulter, nil
}

// Record returns a deep copy of the term's fund record for summaries.
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
	record, ok := e.state.FundGet(termID)
	if !ok || record == nil {
		return nil, errNilRecord
	}
	record.ensureTotals()
	return record, nil
}

func (e *Engine) collectContribution(record *Record, payer [20]byte, p *Participant, amount *big.Int) error {
	if err := e.moveStable(payer, e.stableVault, amount); err != nil {
		return err
	}
	p.PaidCurrentCycle = true
	if p.Status == StatusDefaulter {
		p.Status = StatusActive
	}
	record.CyclePot = new(big.Int).Add(record.CyclePot, amount)
	record.TotalStableIn = new(big.Int).Add(record.TotalStableIn, amount)
	e.emit(newContributionPaidEvent(record.TermID, record.CurrentCycle, payer, p.Addr, amount))
	return nil
}

// resolveDefaulter marks the participant as defaulted and covers their
// missed contribution through the waterfall: payment bank, locked bank, then
// their own frozen pot. An uncoverable shortfall or a bank value below the
// bare remaining obligation expels them.
func (e *Engine) resolveDefaulter(record *Record, term *types.Term, p *Participant) error {
	p.Status = StatusDefaulter
	p.DefaultCount++
	p.LastDefaultCycle = record.CurrentCycle
	// The default mark persists before any collateral mutation so a close
	// that fails midway cannot liquidate the same member again on retry.
	if err := e.state.FundPut(record); err != nil {
		return err
	}
	e.emit(newParticipantDefaultedEvent(record.TermID, record.CurrentCycle, p.Addr))

	if e.recaller != nil {
		if _, err := e.recaller.RecallPrincipal(record.TermID, p.Addr); err != nil {
			return err
		}
	}

	shortfall := cloneBig(term.ContributionAmount)
	seized, recovered, err := e.ledger.Liquidate(record.TermID, p.Addr, shortfall)
	if err != nil {
		return err
	}
	record.SeizedCycle = new(big.Int).Add(record.SeizedCycle, seized)
	covered := cloneBig(recovered)
	if covered.Cmp(shortfall) < 0 && p.PotFrozen && p.Pool.Sign() > 0 {
		take := new(big.Int).Sub(shortfall, covered)
		if take.Cmp(p.Pool) > 0 {
			take = cloneBig(p.Pool)
		}
		p.Pool = new(big.Int).Sub(p.Pool, take)
		record.CyclePot = new(big.Int).Add(record.CyclePot, take)
		covered.Add(covered, take)
		e.emit(newFrozenPotLiquidatedEvent(record.TermID, record.CurrentCycle, p.Addr, take))
	}
	if err := e.state.FundPut(record); err != nil {
		return err
	}

	rcc, err := e.RemainingContribution(record.TermID, p.Addr)
	if err != nil {
		return err
	}
	below, err := e.ledger.BelowExpulsionLimit(record.TermID, p.Addr, rcc)
	if err != nil {
		return err
	}
	if covered.Cmp(shortfall) < 0 || below {
		return e.expel(record, p)
	}
	return nil
}

func (e *Engine) expel(record *Record, p *Participant) error {
	if err := e.ledger.Expel(record.TermID, p.Addr); err != nil {
		return err
	}
	p.Status = StatusExpelled
	p.WasExpelled = true
	p.CycleExpelled = record.CurrentCycle
	p.ExpelledBeforeBeneficiary = !p.HasBeenBeneficiary
	p.PaidCurrentCycle = false
	if p.ExpelledBeforeBeneficiary && record.TotalCycles > record.CurrentCycle {
		// One fewer award is owed once a never-beneficiary slot drops out;
		// the schedule shrinks so no cycle is left without a claimant.
		record.TotalCycles--
	}
	if err := e.state.FundPut(record); err != nil {
		return err
	}
	e.emit(newDefaulterExpelledEvent(record.TermID, record.CurrentCycle, p.Addr, p.ExpelledBeforeBeneficiary))
	return nil
}

// awardBeneficiary credits the resolved beneficiary with the cycle pot and
// any collateral seized from defaulters this cycle. A beneficiary below the
// security ratio has the pot frozen instead of released.
func (e *Engine) awardBeneficiary(record *Record, beneficiary [20]byte) error {
	p, ok := record.Participants[beneficiary]
	if !ok {
		return ErrNotParticipant
	}
	pot := cloneBig(record.CyclePot)
	seized := cloneBig(record.SeizedCycle)
	rcc, err := e.RemainingContribution(record.TermID, beneficiary)
	if err != nil {
		return err
	}
	healthy, err := e.ledger.RatioHealthy(record.TermID, beneficiary, rcc)
	if err != nil {
		return err
	}
	p.Pool = new(big.Int).Add(p.Pool, pot)
	p.PoolNative = new(big.Int).Add(p.PoolNative, seized)
	p.Status = StatusBeneficiary
	p.HasBeenBeneficiary = true
	if !healthy {
		p.PotFrozen = true
	}
	if seized.Sign() > 0 {
		if err := e.ledger.TakeSeized(record.TermID, seized); err != nil {
			return err
		}
	}
	e.emit(newBeneficiaryAwardedEvent(record.TermID, record.CurrentCycle, beneficiary, pot, seized, !healthy))
	return nil
}

func (e *Engine) joinPosition(termID uint64, user [20]byte) (uint64, bool) {
	if e.ledger == nil {
		return 0, false
	}
	depositors, err := e.ledger.Depositors(termID)
	if err != nil {
		return 0, false
	}
	for i, addr := range depositors {
		if addr == user {
			return uint64(i), true
		}
	}
	return 0, false
}

// scheduledBeneficiary returns the participant entitled to the running
// cycle's pot: the order slot for the cycle, or the next non-expelled
// successor when that slot was expelled pre-emptively.
func (r *Record) scheduledBeneficiary() ([20]byte, bool) {
	if r.CurrentCycle == 0 {
		return [20]byte{}, false
	}
	for i := int(r.CurrentCycle) - 1; i < len(r.BeneficiaryOrder); i++ {
		addr := r.BeneficiaryOrder[i]
		p := r.Participants[addr]
		if p == nil || p.Status == StatusExpelled {
			continue
		}
		if p.HasBeenBeneficiary {
			continue
		}
		return addr, true
	}
	return [20]byte{}, false
}

func (e *Engine) moveStable(from, to [20]byte, amount *big.Int) error {
	fromAcc, err := e.state.GetAccount(from)
	if err != nil {
		return err
	}
	fromAcc = fromAcc.EnsureBalances()
	if fromAcc.BalanceStable.Cmp(amount) < 0 {
		return fmt.Errorf("%w: available %s, required %s", ErrInsufficientBalance, fromAcc.BalanceStable, amount)
	}
	toAcc, err := e.state.GetAccount(to)
	if err != nil {
		return err
	}
	toAcc = toAcc.EnsureBalances()
	fromAcc.BalanceStable = new(big.Int).Sub(fromAcc.BalanceStable, amount)
	toAcc.BalanceStable = new(big.Int).Add(toAcc.BalanceStable, amount)
	if err := e.state.PutAccount(from, fromAcc); err != nil {
		return err
	}
	return e.state.PutAccount(to, toAcc)
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
