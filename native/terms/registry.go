package terms

import (
	"errors"
	"fmt"
	"math/big"
	"time"

	"tandachain/core/events"
	"tandachain/core/types"
	"tandachain/native/collateral"
	"tandachain/native/fund"
	"tandachain/native/yield"
)

var (
	// ErrReentry is returned when a term operation is re-entered while a
	// previous call on the same term is still in flight.
	ErrReentry = errors.New("term registry: reentrant call rejected")
	// ErrInvalidParams is returned when term creation parameters fail
	// validation.
	ErrInvalidParams = errors.New("term registry: invalid term parameters")
	// ErrUnknownTerm is returned for operations on a term id that was never
	// created.
	ErrUnknownTerm = errors.New("term registry: unknown term")
	// ErrConservation is returned by the audit when a ledger's held balance
	// disagrees with its flow totals.
	ErrConservation = errors.New("term registry: conservation violated")

	errNilState = errors.New("term registry: state not configured")
)

type registryState interface {
	NextTermID() (uint64, error)
	PutTerm(*types.Term) error
	GetTerm(termID uint64) (*types.Term, error)
	CollateralPut(*collateral.Record) error
	FundPut(*fund.Record) error
	YieldPut(*yield.Record) error
}

// CreateTermParams carries the immutable parameters of a new term.
type CreateTermParams struct {
	RegistrationPeriod uint64
	TotalParticipants  uint64
	CycleTime          uint64
	ContributionPeriod uint64
	ContributionAmount *big.Int
	StableToken        string
}

// Registry is the single entry point for term lifecycle operations. It
// validates creation parameters, assigns monotonic term ids, seeds the three
// engine records and routes every call through a per-term reentry guard so
// each operation is atomic over the shared state.
type Registry struct {
	state      registryState
	collateral *collateral.Engine
	fund       *fund.Engine
	yield      *yield.Engine
	emitter    events.Emitter
	nowFn      func() int64
	busy       map[uint64]bool
}

// NewRegistry wires the registry over the three engines.
func NewRegistry(state registryState, col *collateral.Engine, fnd *fund.Engine, yld *yield.Engine) *Registry {
	return &Registry{
		state:      state,
		collateral: col,
		fund:       fnd,
		yield:      yld,
		emitter:    events.NoopEmitter{},
		nowFn:      func() int64 { return time.Now().Unix() },
		busy:       make(map[uint64]bool),
	}
}

// SetEmitter configures the event emitter. Passing nil resets it to a no-op.
func (r *Registry) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		r.emitter = events.NoopEmitter{}
		return
	}
	r.emitter = emitter
}

// SetNowFunc overrides the time source, primarily for deterministic tests.
func (r *Registry) SetNowFunc(now func() int64) {
	if now == nil {
		r.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	r.nowFn = now
}

type registryEvent struct{ evt *types.Event }

func (e registryEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e registryEvent) Event() *types.Event { return e.evt }

func (r *Registry) emit(evt *types.Event) {
	if r == nil || r.emitter == nil || evt == nil {
		return
	}
	r.emitter.Emit(registryEvent{evt: evt})
}

func (r *Registry) enter(termID uint64) error {
	if r.busy[termID] {
		return ErrReentry
	}
	r.busy[termID] = true
	return nil
}

func (r *Registry) exit(termID uint64) {
	delete(r.busy, termID)
}

// CreateTerm validates the parameters, allocates the next term id and seeds
// the collateral, fund and yield records in InitializingTerm state.
func (r *Registry) CreateTerm(owner [20]byte, params CreateTermParams) (uint64, error) {
	if r == nil || r.state == nil {
		return 0, errNilState
	}
	if err := validateParams(params); err != nil {
		return 0, err
	}
	id, err := r.state.NextTermID()
	if err != nil {
		return 0, err
	}
	term := &types.Term{
		ID:                 id,
		State:              types.TermInitializing,
		Owner:              owner,
		CreatedAt:          r.nowFn(),
		RegistrationPeriod: params.RegistrationPeriod,
		TotalParticipants:  params.TotalParticipants,
		CycleTime:          params.CycleTime,
		ContributionPeriod: params.ContributionPeriod,
		ContributionAmount: new(big.Int).Set(params.ContributionAmount),
		StableToken:        params.StableToken,
	}
	if err := r.state.PutTerm(term); err != nil {
		return 0, err
	}
	if err := r.state.CollateralPut(collateral.NewRecord(id)); err != nil {
		return 0, err
	}
	if err := r.state.FundPut(fund.NewRecord(id)); err != nil {
		return 0, err
	}
	if err := r.state.YieldPut(yield.NewRecord(id)); err != nil {
		return 0, err
	}
	r.emit(newTermCreatedEvent(term))
	return id, nil
}

func validateParams(p CreateTermParams) error {
	if p.TotalParticipants < 2 {
		return fmt.Errorf("%w: need at least two participants", ErrInvalidParams)
	}
	if p.RegistrationPeriod == 0 {
		return fmt.Errorf("%w: registration period must be positive", ErrInvalidParams)
	}
	if p.CycleTime == 0 {
		return fmt.Errorf("%w: cycle time must be positive", ErrInvalidParams)
	}
	if p.ContributionPeriod == 0 || p.ContributionPeriod > p.CycleTime {
		return fmt.Errorf("%w: contribution period must fit within the cycle", ErrInvalidParams)
	}
	if p.ContributionAmount == nil || p.ContributionAmount.Sign() <= 0 {
		return fmt.Errorf("%w: contribution amount must be positive", ErrInvalidParams)
	}
	if p.StableToken == "" {
		return fmt.Errorf("%w: stable token symbol required", ErrInvalidParams)
	}
	return nil
}

// JoinTerm admits the user with the attached collateral; opted-in members
// have the deposit routed on into the yield vault.
func (r *Registry) JoinTerm(termID uint64, user [20]byte, attached *big.Int, optYield bool) error {
	if err := r.enter(termID); err != nil {
		return err
	}
	defer r.exit(termID)
	if err := r.collateral.Join(termID, user, attached, optYield); err != nil {
		return err
	}
	if !optYield {
		return nil
	}
	opted, err := r.yield.OptedIn(termID, user)
	if err != nil {
		return err
	}
	if !opted {
		if _, err := r.yield.ToggleOptIn(termID, user); err != nil {
			return err
		}
	}
	return r.yield.DepositCollateral(termID, user, attached)
}

// TopUpCollateral adds collateral to the caller's banks.
func (r *Registry) TopUpCollateral(termID uint64, user [20]byte, amount *big.Int) error {
	if err := r.enter(termID); err != nil {
		return err
	}
	defer r.exit(termID)
	return r.collateral.TopUp(termID, user, amount)
}

// StartTerm begins cycle 1 once every slot has filled.
func (r *Registry) StartTerm(termID uint64, caller [20]byte) error {
	if err := r.enter(termID); err != nil {
		return err
	}
	defer r.exit(termID)
	return r.fund.StartTerm(termID, caller)
}

// ExpireTerm abandons an unfilled term after its registration window.
func (r *Registry) ExpireTerm(termID uint64, caller [20]byte) error {
	if err := r.enter(termID); err != nil {
		return err
	}
	defer r.exit(termID)
	return r.fund.ExpireTerm(termID, caller)
}

// PayContribution pays the running cycle's contribution, optionally on
// behalf of another participant.
func (r *Registry) PayContribution(termID uint64, payer, participant [20]byte) error {
	if err := r.enter(termID); err != nil {
		return err
	}
	defer r.exit(termID)
	return r.fund.PayContribution(termID, payer, participant)
}

// SetAutoPay toggles automatic contribution collection for the participant.
func (r *Registry) SetAutoPay(termID uint64, participant [20]byte, enabled bool) error {
	if err := r.enter(termID); err != nil {
		return err
	}
	defer r.exit(termID)
	return r.fund.SetAutoPay(termID, participant, enabled)
}

// CloseFundingPeriod resolves the running cycle: defaults, liquidations and
// the beneficiary award.
func (r *Registry) CloseFundingPeriod(termID uint64) error {
	if err := r.enter(termID); err != nil {
		return err
	}
	defer r.exit(termID)
	return r.fund.CloseFundingPeriod(termID)
}

// StartNewCycle advances to the next cycle, or closes the term after the
// final one.
func (r *Registry) StartNewCycle(termID uint64) error {
	if err := r.enter(termID); err != nil {
		return err
	}
	defer r.exit(termID)
	return r.fund.StartNewCycle(termID)
}

// WithdrawFund pays the caller's pot (stable plus any seized collateral) to
// the recipient.
func (r *Registry) WithdrawFund(termID uint64, caller, to [20]byte) (*big.Int, *big.Int, error) {
	if err := r.enter(termID); err != nil {
		return nil, nil, err
	}
	defer r.exit(termID)
	return r.fund.WithdrawFund(termID, caller, to)
}

// WithdrawCollateral exits a yield position first so the principal is back
// in the collateral vault, then pays the withdrawable balance.
func (r *Registry) WithdrawCollateral(termID uint64, caller, to [20]byte) (*big.Int, error) {
	if err := r.enter(termID); err != nil {
		return nil, err
	}
	defer r.exit(termID)
	if _, _, err := r.yield.WithdrawCollateral(termID, caller); err != nil && !errors.Is(err, yield.ErrNoPosition) {
		return nil, err
	}
	return r.collateral.Withdraw(termID, caller, to)
}

// ToggleYieldOptIn flips the caller's yield opt-in flag. Locked once
// collateral sits in the vault.
func (r *Registry) ToggleYieldOptIn(termID uint64, user [20]byte) (bool, error) {
	if err := r.enter(termID); err != nil {
		return false, err
	}
	defer r.exit(termID)
	return r.yield.ToggleOptIn(termID, user)
}

// ClaimYield pays the caller's earned yield to the recipient.
func (r *Registry) ClaimYield(termID uint64, caller, to [20]byte) (*big.Int, error) {
	if err := r.enter(termID); err != nil {
		return nil, err
	}
	defer r.exit(termID)
	return r.yield.ClaimAvailableYield(termID, caller, to)
}

// SweepTerm sweeps every dormant balance to the recipient after the
// dormancy window and closes the collateral record.
func (r *Registry) SweepTerm(termID uint64, caller, to [20]byte) (*big.Int, error) {
	if err := r.enter(termID); err != nil {
		return nil, err
	}
	defer r.exit(termID)
	return r.collateral.SweepTerm(termID, caller, to)
}

// AuditTerm verifies the per-ledger conservation invariants: held balances
// must equal inflow minus outflow on both the collateral and fund ledgers.
func (r *Registry) AuditTerm(termID uint64) error {
	col, err := r.collateral.Record(termID)
	if err != nil {
		return err
	}
	net := new(big.Int).Sub(col.TotalInflow, col.TotalOutflow)
	if held := col.HeldBalance(); held.Cmp(net) != 0 {
		return fmt.Errorf("%w: collateral holds %s, flows say %s", ErrConservation, held, net)
	}
	fnd, err := r.fund.Record(termID)
	if err != nil {
		return err
	}
	netStable := new(big.Int).Sub(fnd.TotalStableIn, fnd.TotalStableOut)
	if held := fnd.HeldBalance(); held.Cmp(netStable) != 0 {
		return fmt.Errorf("%w: fund holds %s, flows say %s", ErrConservation, held, netStable)
	}
	return nil
}
