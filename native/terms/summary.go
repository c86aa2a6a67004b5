package terms

import (
	"fmt"
	"math/big"

	"tandachain/core/types"
)

// TermSummary aggregates the read-only view of a term across all three
// ledgers, the shape served by the gateway.
type TermSummary struct {
	Term              *types.Term `json:"term"`
	CollateralState   string      `json:"collateralState"`
	Members           uint64      `json:"members"`
	CollateralHeld    *big.Int    `json:"collateralHeld"`
	SeizedPool        *big.Int    `json:"seizedPool"`
	FundState         string      `json:"fundState"`
	CurrentCycle      uint64      `json:"currentCycle"`
	TotalCycles       uint64      `json:"totalCycles"`
	CyclePot          *big.Int    `json:"cyclePot"`
	TotalYieldShares  *big.Int    `json:"totalYieldShares"`
	TotalYieldClaimed *big.Int    `json:"totalYieldClaimed"`
}

// UserSummary is the per-member view: set membership, banks, pots and yield.
type UserSummary struct {
	Participant      bool     `json:"participant"`
	Beneficiary      bool     `json:"beneficiary"`
	Defaulter        bool     `json:"defaulter"`
	LockedBank       *big.Int `json:"lockedBank"`
	PaymentBank      *big.Int `json:"paymentBank"`
	Withdrawable     *big.Int `json:"withdrawable"`
	Pool             *big.Int `json:"pool"`
	PoolNative       *big.Int `json:"poolNative"`
	PotFrozen        bool     `json:"potFrozen"`
	YieldShares      *big.Int `json:"yieldShares"`
	AvailableYield   *big.Int `json:"availableYield"`
	RemainingPayment *big.Int `json:"remainingPayment"`
}

// Summary assembles the term-level view from the three engine records.
func (r *Registry) Summary(termID uint64) (*TermSummary, error) {
	term, err := r.state.GetTerm(termID)
	if err != nil {
		return nil, fmt.Errorf("%w: %d", ErrUnknownTerm, termID)
	}
	col, err := r.collateral.Record(termID)
	if err != nil {
		return nil, err
	}
	fnd, err := r.fund.Record(termID)
	if err != nil {
		return nil, err
	}
	yld, err := r.yield.Record(termID)
	if err != nil {
		return nil, err
	}
	return &TermSummary{
		Term:              term,
		CollateralState:   col.State.String(),
		Members:           col.CounterMembers,
		CollateralHeld:    col.HeldBalance(),
		SeizedPool:        col.SeizedPool,
		FundState:         fnd.State.String(),
		CurrentCycle:      fnd.CurrentCycle,
		TotalCycles:       fnd.TotalCycles,
		CyclePot:          fnd.CyclePot,
		TotalYieldShares:  yld.TotalShares,
		TotalYieldClaimed: yld.TotalYieldClaimed,
	}, nil
}

// UserSummaryFor assembles the per-member view. Unknown members get a zeroed
// summary rather than an error so gateway reads stay idempotent.
func (r *Registry) UserSummaryFor(termID uint64, user [20]byte) (*UserSummary, error) {
	out := &UserSummary{
		LockedBank:       big.NewInt(0),
		PaymentBank:      big.NewInt(0),
		Withdrawable:     big.NewInt(0),
		Pool:             big.NewInt(0),
		PoolNative:       big.NewInt(0),
		YieldShares:      big.NewInt(0),
		AvailableYield:   big.NewInt(0),
		RemainingPayment: big.NewInt(0),
	}
	col, err := r.collateral.Record(termID)
	if err != nil {
		return nil, err
	}
	if member, ok := col.Members[user]; ok {
		out.LockedBank = member.LockedBank
		out.PaymentBank = member.PaymentBank
		if w, err := r.collateral.WithdrawableBalance(termID, user); err == nil {
			out.Withdrawable = w
		}
	}
	fnd, err := r.fund.Record(termID)
	if err != nil {
		return nil, err
	}
	if p, ok := fnd.Participants[user]; ok {
		out.Participant, out.Beneficiary, out.Defaulter = p.UserSet()
		out.Pool = p.Pool
		out.PoolNative = p.PoolNative
		out.PotFrozen = p.PotFrozen
	}
	if rcc, err := r.fund.RemainingContribution(termID, user); err == nil {
		out.RemainingPayment = rcc
	}
	yld, err := r.yield.Record(termID)
	if err != nil {
		return nil, err
	}
	if pos, ok := yld.Positions[user]; ok {
		out.YieldShares = pos.Shares
		if earned, err := r.yield.AvailableYield(termID, user); err == nil {
			out.AvailableYield = earned
		}
	}
	return out, nil
}
