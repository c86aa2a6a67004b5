package yield

import "math/big"

// Position tracks one member's stake in the yield vault for a term. Deposited
// is the collateral-asset principal; Shares is the vault share balance it
// bought at deposit time.
type Position struct {
	Addr         [20]byte
	OptedIn      bool
	Shares       *big.Int
	Deposited    *big.Int
	YieldClaimed *big.Int
}

// Clone returns a deep copy of the position.
func (p *Position) Clone() *Position {
	if p == nil {
		return nil
	}
	clone := *p
	clone.Shares = cloneBig(p.Shares)
	clone.Deposited = cloneBig(p.Deposited)
	clone.YieldClaimed = cloneBig(p.YieldClaimed)
	return &clone
}

func (p *Position) ensureTotals() {
	if p.Shares == nil {
		p.Shares = big.NewInt(0)
	}
	if p.Deposited == nil {
		p.Deposited = big.NewInt(0)
	}
	if p.YieldClaimed == nil {
		p.YieldClaimed = big.NewInt(0)
	}
}

// Record is the per-term yield ledger aggregating every opted-in position.
type Record struct {
	TermID            uint64
	TotalShares       *big.Int
	TotalDeposited    *big.Int
	TotalYieldClaimed *big.Int
	Positions         map[[20]byte]*Position
}

// NewRecord returns an empty yield record for the given term.
func NewRecord(termID uint64) *Record {
	return &Record{
		TermID:            termID,
		TotalShares:       big.NewInt(0),
		TotalDeposited:    big.NewInt(0),
		TotalYieldClaimed: big.NewInt(0),
		Positions:         make(map[[20]byte]*Position),
	}
}

// Clone returns a deep copy of the record.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	clone := *r
	clone.TotalShares = cloneBig(r.TotalShares)
	clone.TotalDeposited = cloneBig(r.TotalDeposited)
	clone.TotalYieldClaimed = cloneBig(r.TotalYieldClaimed)
	clone.Positions = make(map[[20]byte]*Position, len(r.Positions))
	for addr, p := range r.Positions {
		clone.Positions[addr] = p.Clone()
	}
	return &clone
}

func (r *Record) ensureTotals() {
	if r.TotalShares == nil {
		r.TotalShares = big.NewInt(0)
	}
	if r.TotalDeposited == nil {
		r.TotalDeposited = big.NewInt(0)
	}
	if r.TotalYieldClaimed == nil {
		r.TotalYieldClaimed = big.NewInt(0)
	}
	if r.Positions == nil {
		r.Positions = make(map[[20]byte]*Position)
	}
}

func (r *Record) position(addr [20]byte) *Position {
	p, ok := r.Positions[addr]
	if !ok {
		p = &Position{Addr: addr}
		r.Positions[addr] = p
	}
	p.ensureTotals()
	return p
}

func cloneBig(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}
