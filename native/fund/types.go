package fund

import (
	"math/big"

	"tandachain/core/types"
)

// ParticipantStatus is a tagged status rather than independent set booleans,
// so a participant is always in exactly one of the active/beneficiary/
// defaulter/expelled positions by construction.
type ParticipantStatus uint8

const (
	StatusActive ParticipantStatus = iota
	StatusBeneficiary
	StatusDefaulter
	StatusExpelled
)

// String renders the canonical lowercase status name.
func (s ParticipantStatus) String() string {
	switch s {
	case StatusActive:
		return "active"
	case StatusBeneficiary:
		return "beneficiary"
	case StatusDefaulter:
		return "defaulter"
	case StatusExpelled:
		return "expelled"
	default:
		return "unknown"
	}
}

// Participant tracks one member's cycle state within a term. Pool holds the
// stable-asset pot owed but unwithdrawn; PoolNative holds the collateral-
// asset component recovered through liquidations of defaulters.
type Participant struct {
	Addr                      [20]byte
	Status                    ParticipantStatus
	HasBeenBeneficiary        bool
	PaidCurrentCycle          bool
	AutoPayEnabled            bool
	Pool                      *big.Int
	PoolNative                *big.Int
	PotFrozen                 bool
	CycleExpelled             uint64
	WasExpelled               bool
	ExpelledBeforeBeneficiary bool
	DefaultCount              uint64
	LastDefaultCycle          uint64
}

// Clone returns a deep copy of the participant record.
func (p *Participant) Clone() *Participant {
	if p == nil {
		return nil
	}
	clone := *p
	clone.Pool = cloneBig(p.Pool)
	clone.PoolNative = cloneBig(p.PoolNative)
	return &clone
}

// UserSet reports the participant's membership in the three cycle sets. An
// expelled participant is in none of them.
func (p *Participant) UserSet() (participant, beneficiary, defaulter bool) {
	if p == nil || p.Status == StatusExpelled {
		return false, false, false
	}
	switch p.Status {
	case StatusActive:
		return true, false, false
	case StatusBeneficiary:
		return true, true, false
	case StatusDefaulter:
		return false, false, true
	}
	return false, false, false
}

// Record is the per-term cycle state machine. CyclePot accumulates the
// stable contributions of the running cycle until the funding period closes.
type Record struct {
	TermID           uint64
	State            types.TermState
	CurrentCycle     uint64
	TotalCycles      uint64
	CycleStart       int64
	CycleResolved    bool
	BeneficiaryOrder [][20]byte
	CyclePot         *big.Int
	SeizedCycle      *big.Int
	TotalStableIn    *big.Int
	TotalStableOut   *big.Int
	Participants     map[[20]byte]*Participant
}

// NewRecord returns an empty fund record for the given term.
func NewRecord(termID uint64) *Record {
	return &Record{
		TermID:         termID,
		State:          types.TermInitializing,
		CyclePot:       big.NewInt(0),
		SeizedCycle:    big.NewInt(0),
		TotalStableIn:  big.NewInt(0),
		TotalStableOut: big.NewInt(0),
		Participants:   make(map[[20]byte]*Participant),
	}
}

// Clone returns a deep copy of the record.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	clone := *r
	clone.BeneficiaryOrder = append([][20]byte(nil), r.BeneficiaryOrder...)
	clone.CyclePot = cloneBig(r.CyclePot)
	clone.SeizedCycle = cloneBig(r.SeizedCycle)
	clone.TotalStableIn = cloneBig(r.TotalStableIn)
	clone.TotalStableOut = cloneBig(r.TotalStableOut)
	clone.Participants = make(map[[20]byte]*Participant, len(r.Participants))
	for addr, p := range r.Participants {
		clone.Participants[addr] = p.Clone()
	}
	return &clone
}

func (r *Record) ensureTotals() {
	if r.CyclePot == nil {
		r.CyclePot = big.NewInt(0)
	}
	if r.SeizedCycle == nil {
		r.SeizedCycle = big.NewInt(0)
	}
	if r.TotalStableIn == nil {
		r.TotalStableIn = big.NewInt(0)
	}
	if r.TotalStableOut == nil {
		r.TotalStableOut = big.NewInt(0)
	}
	if r.Participants == nil {
		r.Participants = make(map[[20]byte]*Participant)
	}
}

// HeldBalance reports the stable value the record currently accounts for:
// the running pot plus every unwithdrawn beneficiary pool. The conservation
// invariant requires this to equal inflow minus outflow.
func (r *Record) HeldBalance() *big.Int {
	if r == nil {
		return big.NewInt(0)
	}
	total := cloneBig(r.CyclePot)
	for _, p := range r.Participants {
		total.Add(total, cloneBig(p.Pool))
	}
	return total
}

func cloneBig(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}
