package terms

import (
	"errors"
	"math/big"
	"testing"
	"time"

	"tandachain/core/events"
	"tandachain/core/types"
	"tandachain/native/collateral"
	"tandachain/native/fund"
	"tandachain/native/pricefeed"
	"tandachain/native/yield"
	"tandachain/state"
)

func addr(b byte) [20]byte {
	var out [20]byte
	out[19] = b
	return out
}

var (
	owner      = addr(0xAA)
	stableV    = addr(0xFD)
	nativeV    = addr(0xFE)
	custodyV   = addr(0xFC)
	defaultFee = big.NewInt(100)
)

type harness struct {
	registry *Registry
	store    *state.Store
	fnd      *fund.Engine
	clock    int64
}

func (h *harness) advance(seconds int64) { h.clock += seconds }

// newHarness wires the real engines over the real store with a unit-price
// feed, so registry tests exercise the full stack.
func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{store: state.NewStore(), clock: 1_000_000}
	now := func() int64 { return h.clock }

	feed := pricefeed.NewStaticFeed(big.NewInt(100_000_000), 8)
	feed.SetUptime(true, time.Unix(0, 0))
	feed.SetNowFunc(func() time.Time { return time.Unix(h.clock, 0) })
	adapter := pricefeed.NewAdapter(feed, feed, time.Hour, 24*time.Hour)
	adapter.SetNowFunc(func() time.Time { return time.Unix(h.clock, 0) })

	colEngine := collateral.NewEngine(nativeV)
	colEngine.SetState(h.store)
	colEngine.SetConverter(adapter)
	colEngine.SetNowFunc(now)

	fundEngine := fund.NewEngine(stableV, nativeV)
	fundEngine.SetState(h.store)
	fundEngine.SetLedger(colEngine)
	fundEngine.SetNowFunc(now)
	colEngine.SetObligations(fundEngine)

	yieldEngine := yield.NewEngine(nativeV, custodyV)
	yieldEngine.SetState(h.store)
	yieldEngine.SetVault(yield.NewMemoryVault())
	yieldEngine.SetOwner(owner)
	fundEngine.SetRecaller(yieldEngine)

	h.fnd = fundEngine
	h.registry = NewRegistry(h.store, colEngine, fundEngine, yieldEngine)
	h.registry.SetNowFunc(now)
	return h
}

func (h *harness) credit(t *testing.T, user [20]byte, native, stable int64) {
	t.Helper()
	if err := h.store.Credit(user, big.NewInt(native), big.NewInt(stable)); err != nil {
		t.Fatalf("credit: %v", err)
	}
}

func defaultParams() CreateTermParams {
	return CreateTermParams{
		RegistrationPeriod: 3_600,
		TotalParticipants:  3,
		CycleTime:          3_600,
		ContributionPeriod: 1_800,
		ContributionAmount: new(big.Int).Set(defaultFee),
		StableToken:        "USDC",
	}
}

func TestCreateTermValidation(t *testing.T) {
	h := newHarness(t)
	cases := []struct {
		name   string
		mutate func(*CreateTermParams)
	}{
		{"one participant", func(p *CreateTermParams) { p.TotalParticipants = 1 }},
		{"zero registration", func(p *CreateTermParams) { p.RegistrationPeriod = 0 }},
		{"zero cycle", func(p *CreateTermParams) { p.CycleTime = 0 }},
		{"period exceeds cycle", func(p *CreateTermParams) { p.ContributionPeriod = 10_000 }},
		{"zero contribution", func(p *CreateTermParams) { p.ContributionAmount = big.NewInt(0) }},
		{"missing token", func(p *CreateTermParams) { p.StableToken = "" }},
	}
	for _, tc := range cases {
		params := defaultParams()
		tc.mutate(&params)
		if _, err := h.registry.CreateTerm(owner, params); !errors.Is(err, ErrInvalidParams) {
			t.Fatalf("%s: expected ErrInvalidParams, got %v", tc.name, err)
		}
	}
}

func TestCreateTermAssignsMonotonicIDs(t *testing.T) {
	h := newHarness(t)
	first, err := h.registry.CreateTerm(owner, defaultParams())
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	second, err := h.registry.CreateTerm(owner, defaultParams())
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if second != first+1 {
		t.Fatalf("ids not monotonic: %d then %d", first, second)
	}
	term, err := h.store.GetTerm(first)
	if err != nil {
		t.Fatalf("get term: %v", err)
	}
	if term.State != types.TermInitializing {
		t.Fatalf("new term state %v, want initializing", term.State)
	}
}

func joinAll(t *testing.T, h *harness, termID uint64, members [][20]byte) {
	t.Helper()
	// Position minimums at unit price and the 1.1x multiple: 330, 220, 110.
	minimums := []int64{330, 220, 110}
	for i, m := range members {
		h.credit(t, m, 1_000, 10_000)
		if err := h.registry.JoinTerm(termID, m, big.NewInt(minimums[i]), false); err != nil {
			t.Fatalf("join %d: %v", i, err)
		}
	}
}

func TestFullLifecycle(t *testing.T) {
	h := newHarness(t)
	members := [][20]byte{addr(0x01), addr(0x02), addr(0x03)}
	termID, err := h.registry.CreateTerm(owner, defaultParams())
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	joinAll(t, h, termID, members)

	if err := h.registry.JoinTerm(termID, addr(0x09), big.NewInt(500), false); !errors.Is(err, collateral.ErrJoinClosed) {
		t.Fatalf("filled term should reject joins, got %v", err)
	}
	if err := h.registry.StartTerm(termID, owner); err != nil {
		t.Fatalf("start: %v", err)
	}

	for cycle := 1; cycle <= 3; cycle++ {
		beneficiary := members[cycle-1]
		for _, m := range members {
			if m == beneficiary {
				continue
			}
			if err := h.registry.PayContribution(termID, m, m); err != nil {
				t.Fatalf("cycle %d pay: %v", cycle, err)
			}
		}
		h.advance(1_800)
		if err := h.registry.CloseFundingPeriod(termID); err != nil {
			t.Fatalf("cycle %d close: %v", cycle, err)
		}
		if err := h.registry.AuditTerm(termID); err != nil {
			t.Fatalf("cycle %d audit: %v", cycle, err)
		}
		if err := h.registry.StartNewCycle(termID); err != nil {
			t.Fatalf("cycle %d advance: %v", cycle, err)
		}
	}

	summary, err := h.registry.Summary(termID)
	if err != nil {
		t.Fatalf("summary: %v", err)
	}
	if summary.FundState != "closed" {
		t.Fatalf("fund state %q, want closed", summary.FundState)
	}
	if summary.CollateralState != "releasing" {
		t.Fatalf("collateral state %q, want releasing", summary.CollateralState)
	}

	// Every member collects their pot and full collateral back.
	for _, m := range members {
		stable, _, err := h.registry.WithdrawFund(termID, m, m)
		if err != nil {
			t.Fatalf("withdraw fund: %v", err)
		}
		if stable.Cmp(big.NewInt(200)) != 0 {
			t.Fatalf("pot %s, want 200", stable)
		}
		if _, err := h.registry.WithdrawCollateral(termID, m, m); err != nil {
			t.Fatalf("withdraw collateral: %v", err)
		}
	}
	for _, m := range members {
		account, err := h.store.GetAccount(m)
		if err != nil {
			t.Fatalf("account: %v", err)
		}
		if account.BalanceNative.Cmp(big.NewInt(1_000)) != 0 {
			t.Fatalf("collateral not fully returned: %s", account.BalanceNative)
		}
		if account.BalanceStable.Cmp(big.NewInt(10_000)) != 0 {
			t.Fatalf("stable not conserved: %s", account.BalanceStable)
		}
	}
	if err := h.registry.AuditTerm(termID); err != nil {
		t.Fatalf("final audit: %v", err)
	}
}

func TestDefaulterLifecycle(t *testing.T) {
	h := newHarness(t)
	members := [][20]byte{addr(0x01), addr(0x02), addr(0x03)}
	termID, err := h.registry.CreateTerm(owner, defaultParams())
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	joinAll(t, h, termID, members)
	if err := h.registry.StartTerm(termID, owner); err != nil {
		t.Fatalf("start: %v", err)
	}

	// Only position 1 pays; position 2 defaults and is carried by collateral.
	if err := h.registry.PayContribution(termID, members[1], members[1]); err != nil {
		t.Fatalf("pay: %v", err)
	}
	h.advance(1_800)
	if err := h.registry.CloseFundingPeriod(termID); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := h.registry.AuditTerm(termID); err != nil {
		t.Fatalf("audit: %v", err)
	}

	user, err := h.registry.UserSummaryFor(termID, members[2])
	if err != nil {
		t.Fatalf("user summary: %v", err)
	}
	if user.Participant || user.Beneficiary || user.Defaulter {
		t.Fatalf("expelled defaulter should be in no set: %+v", user)
	}

	beneficiary, err := h.registry.UserSummaryFor(termID, members[0])
	if err != nil {
		t.Fatalf("beneficiary summary: %v", err)
	}
	if beneficiary.Pool.Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("stable pool %s, want 100", beneficiary.Pool)
	}
	if beneficiary.PoolNative.Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("seized pool %s, want 100", beneficiary.PoolNative)
	}

	stable, native, err := h.registry.WithdrawFund(termID, members[0], members[0])
	if err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	if stable.Cmp(big.NewInt(100)) != 0 || native.Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("withdrew %s/%s, want 100/100", stable, native)
	}

	// The expelled slot shrinks the schedule: cycle 2 is the final one and
	// position 1 takes the last award.
	if err := h.registry.StartNewCycle(termID); err != nil {
		t.Fatalf("start cycle 2: %v", err)
	}
	summary, err := h.registry.Summary(termID)
	if err != nil {
		t.Fatalf("summary: %v", err)
	}
	if summary.TotalCycles != 2 {
		t.Fatalf("total cycles %d, want 2 after expulsion", summary.TotalCycles)
	}
	if err := h.registry.PayContribution(termID, members[0], members[0]); err != nil {
		t.Fatalf("pay cycle 2: %v", err)
	}
	h.advance(1_800)
	if err := h.registry.CloseFundingPeriod(termID); err != nil {
		t.Fatalf("close cycle 2: %v", err)
	}
	if err := h.registry.AuditTerm(termID); err != nil {
		t.Fatalf("cycle 2 audit: %v", err)
	}
	if err := h.registry.StartNewCycle(termID); err != nil {
		t.Fatalf("close term: %v", err)
	}
	summary, err = h.registry.Summary(termID)
	if err != nil {
		t.Fatalf("summary: %v", err)
	}
	if summary.FundState != "closed" {
		t.Fatalf("fund state %q, want closed", summary.FundState)
	}

	stable, native, err = h.registry.WithdrawFund(termID, members[1], members[1])
	if err != nil {
		t.Fatalf("withdraw final pot: %v", err)
	}
	if stable.Cmp(big.NewInt(100)) != 0 || native.Sign() != 0 {
		t.Fatalf("final pot %s/%s, want 100/0", stable, native)
	}
	for _, m := range members {
		if _, err := h.registry.WithdrawCollateral(termID, m, m); err != nil {
			t.Fatalf("withdraw collateral %x: %v", m, err)
		}
	}
	wantNative := []int64{1_100, 1_000, 900}
	for i, m := range members {
		account, err := h.store.GetAccount(m)
		if err != nil {
			t.Fatalf("account: %v", err)
		}
		if account.BalanceNative.Cmp(big.NewInt(wantNative[i])) != 0 {
			t.Fatalf("member %d native %s, want %d", i, account.BalanceNative, wantNative[i])
		}
		if account.BalanceStable.Cmp(big.NewInt(10_000)) != 0 {
			t.Fatalf("member %d stable %s, want 10000", i, account.BalanceStable)
		}
	}
	if err := h.registry.AuditTerm(termID); err != nil {
		t.Fatalf("final audit: %v", err)
	}
}

func TestYieldRoutedCollateralLiquidated(t *testing.T) {
	h := newHarness(t)
	members := [][20]byte{addr(0x01), addr(0x02), addr(0x03)}
	termID, err := h.registry.CreateTerm(owner, defaultParams())
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	minimums := []int64{330, 220, 110}
	for i, m := range members {
		h.credit(t, m, 1_000, 10_000)
		if err := h.registry.JoinTerm(termID, m, big.NewInt(minimums[i]), i == 2); err != nil {
			t.Fatalf("join %d: %v", i, err)
		}
	}
	if err := h.registry.StartTerm(termID, owner); err != nil {
		t.Fatalf("start: %v", err)
	}
	custodyAcc, err := h.store.GetAccount(custodyV)
	if err != nil {
		t.Fatalf("custody account: %v", err)
	}
	if custodyAcc.BalanceNative.Cmp(big.NewInt(110)) != 0 {
		t.Fatalf("custody holds %s, want the opted-in principal 110", custodyAcc.BalanceNative)
	}

	// Position 2 defaults; their vaulted principal must come back before the
	// seizure so the beneficiary is paid from the defaulter's own assets.
	if err := h.registry.PayContribution(termID, members[1], members[1]); err != nil {
		t.Fatalf("pay: %v", err)
	}
	h.advance(1_800)
	if err := h.registry.CloseFundingPeriod(termID); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := h.registry.AuditTerm(termID); err != nil {
		t.Fatalf("audit: %v", err)
	}
	custodyAcc, err = h.store.GetAccount(custodyV)
	if err != nil {
		t.Fatalf("custody account: %v", err)
	}
	if custodyAcc.BalanceNative.Sign() != 0 {
		t.Fatalf("custody still holds %s after liquidation", custodyAcc.BalanceNative)
	}

	stable, native, err := h.registry.WithdrawFund(termID, members[0], members[0])
	if err != nil {
		t.Fatalf("withdraw pot: %v", err)
	}
	if stable.Cmp(big.NewInt(100)) != 0 || native.Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("pot %s/%s, want 100/100", stable, native)
	}

	if err := h.registry.StartNewCycle(termID); err != nil {
		t.Fatalf("start cycle 2: %v", err)
	}
	if err := h.registry.PayContribution(termID, members[0], members[0]); err != nil {
		t.Fatalf("pay cycle 2: %v", err)
	}
	h.advance(1_800)
	if err := h.registry.CloseFundingPeriod(termID); err != nil {
		t.Fatalf("close cycle 2: %v", err)
	}
	if err := h.registry.StartNewCycle(termID); err != nil {
		t.Fatalf("close term: %v", err)
	}
	if _, _, err := h.registry.WithdrawFund(termID, members[1], members[1]); err != nil {
		t.Fatalf("withdraw final pot: %v", err)
	}

	// Every remaining bank pays out in full, including the honest member who
	// joined after the defaulter.
	for _, m := range members {
		if _, err := h.registry.WithdrawCollateral(termID, m, m); err != nil {
			t.Fatalf("withdraw collateral %x: %v", m, err)
		}
	}
	vaultAcc, err := h.store.GetAccount(nativeV)
	if err != nil {
		t.Fatalf("vault account: %v", err)
	}
	if vaultAcc.BalanceNative.Sign() != 0 {
		t.Fatalf("collateral vault left holding %s", vaultAcc.BalanceNative)
	}
	if err := h.registry.AuditTerm(termID); err != nil {
		t.Fatalf("final audit: %v", err)
	}
}

func TestYieldOptInLifecycle(t *testing.T) {
	h := newHarness(t)
	members := [][20]byte{addr(0x01), addr(0x02), addr(0x03)}
	termID, err := h.registry.CreateTerm(owner, defaultParams())
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	minimums := []int64{330, 220, 110}
	for i, m := range members {
		h.credit(t, m, 1_000, 10_000)
		if err := h.registry.JoinTerm(termID, m, big.NewInt(minimums[i]), i == 0); err != nil {
			t.Fatalf("join %d: %v", i, err)
		}
	}
	summary, err := h.registry.UserSummaryFor(termID, members[0])
	if err != nil {
		t.Fatalf("summary: %v", err)
	}
	if summary.YieldShares.Cmp(big.NewInt(330)) != 0 {
		t.Fatalf("yield shares %s, want 330", summary.YieldShares)
	}
	if _, err := h.registry.ClaimYield(termID, members[0], members[0]); !errors.Is(err, yield.ErrNothingToClaim) {
		t.Fatalf("flat vault should have no yield, got %v", err)
	}
}

// reentrantEmitter calls back into the registry mid-operation, the way a
// subscriber trying to piggyback a second mutation would.
type reentrantEmitter struct {
	registry *Registry
	termID   uint64
	payer    [20]byte
	errs     []error
}

func (e *reentrantEmitter) Emit(events.Event) {
	e.errs = append(e.errs, e.registry.PayContribution(e.termID, e.payer, e.payer))
}

func TestReentrantCallRejected(t *testing.T) {
	h := newHarness(t)
	members := [][20]byte{addr(0x01), addr(0x02), addr(0x03)}
	termID, err := h.registry.CreateTerm(owner, defaultParams())
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	joinAll(t, h, termID, members)
	if err := h.registry.StartTerm(termID, owner); err != nil {
		t.Fatalf("start: %v", err)
	}

	em := &reentrantEmitter{registry: h.registry, termID: termID, payer: members[2]}
	h.fnd.SetEmitter(em)
	if err := h.registry.PayContribution(termID, members[1], members[1]); err != nil {
		t.Fatalf("outer pay: %v", err)
	}
	if len(em.errs) == 0 {
		t.Fatalf("emitter never re-entered the registry")
	}
	for _, err := range em.errs {
		if !errors.Is(err, ErrReentry) {
			t.Fatalf("nested call got %v, want ErrReentry", err)
		}
	}

	// The guard releases once the outer call returns.
	h.fnd.SetEmitter(nil)
	if err := h.registry.PayContribution(termID, members[2], members[2]); err != nil {
		t.Fatalf("pay after guard release: %v", err)
	}
}

func TestSummaryReadsAreIdempotent(t *testing.T) {
	h := newHarness(t)
	termID, err := h.registry.CreateTerm(owner, defaultParams())
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	first, err := h.registry.Summary(termID)
	if err != nil {
		t.Fatalf("summary: %v", err)
	}
	second, err := h.registry.Summary(termID)
	if err != nil {
		t.Fatalf("summary: %v", err)
	}
	if first.Members != second.Members || first.CollateralHeld.Cmp(second.CollateralHeld) != 0 {
		t.Fatalf("summaries diverged across reads")
	}
	first.CollateralHeld.SetInt64(9_999)
	third, err := h.registry.Summary(termID)
	if err != nil {
		t.Fatalf("summary: %v", err)
	}
	if third.CollateralHeld.Cmp(big.NewInt(9_999)) == 0 {
		t.Fatalf("summary aliased engine state")
	}
}
