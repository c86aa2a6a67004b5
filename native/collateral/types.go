package collateral

import "math/big"

// RecordState enumerates the collateral lifecycle states of a term.
type RecordState uint8

const (
	AcceptingCollateral RecordState = iota
	CycleOngoing
	ReleasingCollateral
	Closed
)

// Valid reports whether the state value is within the supported range.
func (s RecordState) Valid() bool {
	switch s {
	case AcceptingCollateral, CycleOngoing, ReleasingCollateral, Closed:
		return true
	default:
		return false
	}
}

// String renders the canonical lowercase state name.
func (s RecordState) String() string {
	switch s {
	case AcceptingCollateral:
		return "accepting"
	case CycleOngoing:
		return "ongoing"
	case ReleasingCollateral:
		return "releasing"
	case Closed:
		return "closed"
	default:
		return "unknown"
	}
}

// Member holds the per-depositor collateral bookkeeping for one term.
// LockedBank is the over-collateralization buffer, PaymentBank the spendable
// portion earmarked for contribution cover; both are collateral-asset wei.
type Member struct {
	Addr            [20]byte
	IsMember        bool
	Position        uint64
	LockedBank      *big.Int
	PaymentBank     *big.Int
	AmountDeposited *big.Int
	ExpulsionLimit  *big.Int
	OptedInYield    bool
}

// Clone returns a deep copy of the member record.
func (m *Member) Clone() *Member {
	if m == nil {
		return nil
	}
	clone := *m
	clone.LockedBank = cloneBig(m.LockedBank)
	clone.PaymentBank = cloneBig(m.PaymentBank)
	clone.AmountDeposited = cloneBig(m.AmountDeposited)
	clone.ExpulsionLimit = cloneBig(m.ExpulsionLimit)
	return &clone
}

// Record is the per-term collateral ledger. Depositors keeps join order,
// which doubles as the payout order for the fund engine. SeizedPool holds
// collateral recovered through liquidation and still awaiting payout to a
// beneficiary; it is protocol-held value, counted by the conservation audit.
type Record struct {
	TermID           uint64
	State            RecordState
	Depositors       [][20]byte
	FirstDepositTime int64
	ReleasedAt       int64
	CounterMembers   uint64
	TotalInflow      *big.Int
	TotalOutflow     *big.Int
	SeizedPool       *big.Int
	Members          map[[20]byte]*Member
}

// NewRecord returns an empty collateral record for the given term.
func NewRecord(termID uint64) *Record {
	return &Record{
		TermID:       termID,
		State:        AcceptingCollateral,
		TotalInflow:  big.NewInt(0),
		TotalOutflow: big.NewInt(0),
		SeizedPool:   big.NewInt(0),
		Members:      make(map[[20]byte]*Member),
	}
}

// Clone returns a deep copy of the record.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	clone := *r
	clone.Depositors = append([][20]byte(nil), r.Depositors...)
	clone.TotalInflow = cloneBig(r.TotalInflow)
	clone.TotalOutflow = cloneBig(r.TotalOutflow)
	clone.SeizedPool = cloneBig(r.SeizedPool)
	clone.Members = make(map[[20]byte]*Member, len(r.Members))
	for addr, m := range r.Members {
		clone.Members[addr] = m.Clone()
	}
	return &clone
}

func (r *Record) ensureTotals() {
	if r.TotalInflow == nil {
		r.TotalInflow = big.NewInt(0)
	}
	if r.TotalOutflow == nil {
		r.TotalOutflow = big.NewInt(0)
	}
	if r.SeizedPool == nil {
		r.SeizedPool = big.NewInt(0)
	}
	if r.Members == nil {
		r.Members = make(map[[20]byte]*Member)
	}
}

// HeldBalance reports the collateral value the ledger currently accounts
// for: every member bank plus the protocol-held seized pool. The
// conservation invariant requires this to equal inflow minus outflow.
func (r *Record) HeldBalance() *big.Int {
	if r == nil {
		return big.NewInt(0)
	}
	total := cloneBig(r.SeizedPool)
	for _, m := range r.Members {
		total.Add(total, cloneBig(m.LockedBank))
		total.Add(total, cloneBig(m.PaymentBank))
	}
	return total
}

func cloneBig(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}
