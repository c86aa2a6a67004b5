package types

import "math/big"

// TermState enumerates the lifecycle states of a savings term.
type TermState uint8

const (
	TermInitializing TermState = iota
	TermActive
	TermExpired
	TermClosed
)

// Valid reports whether the state value is within the supported range.
func (s TermState) Valid() bool {
	switch s {
	case TermInitializing, TermActive, TermExpired, TermClosed:
		return true
	default:
		return false
	}
}

// String renders the canonical lowercase state name used in events and
// summaries.
func (s TermState) String() string {
	switch s {
	case TermInitializing:
		return "initializing"
	case TermActive:
		return "active"
	case TermExpired:
		return "expired"
	case TermClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Term captures the immutable parameters of one rotating savings group. The
// identifier is assigned monotonically by the registry and the record is
// retained forever once created, even after the term closes.
type Term struct {
	ID                 uint64
	State              TermState
	Owner              [20]byte
	CreatedAt          int64
	RegistrationPeriod uint64
	TotalParticipants  uint64
	CycleTime          uint64
	ContributionPeriod uint64
	ContributionAmount *big.Int
	StableToken        string
}

// Clone returns a deep copy of the term so callers can safely mutate the
// copy without affecting the stored instance.
func (t *Term) Clone() *Term {
	if t == nil {
		return nil
	}
	clone := *t
	if t.ContributionAmount != nil {
		clone.ContributionAmount = new(big.Int).Set(t.ContributionAmount)
	} else {
		clone.ContributionAmount = big.NewInt(0)
	}
	return &clone
}
