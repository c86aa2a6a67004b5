package state

import (
	"errors"
	"fmt"
	"math/big"
	"sync"

	"tandachain/core/types"
	"tandachain/native/collateral"
	"tandachain/native/fund"
	"tandachain/native/yield"
)

// ErrNotFound is returned for lookups of keys that were never written.
var ErrNotFound = errors.New("state: not found")

// Store is the in-memory state backend shared by every engine. Reads hand
// out deep copies and writes store deep copies, so engines follow a
// load-mutate-put discipline and no caller can alias the stored records.
type Store struct {
	mu         sync.RWMutex
	nextTermID uint64
	terms      map[uint64]*types.Term
	collateral map[uint64]*collateral.Record
	fund       map[uint64]*fund.Record
	yield      map[uint64]*yield.Record
	accounts   map[[20]byte]*types.Account
}

// NewStore returns an empty store. Term ids start at 1.
func NewStore() *Store {
	return &Store{
		nextTermID: 1,
		terms:      make(map[uint64]*types.Term),
		collateral: make(map[uint64]*collateral.Record),
		fund:       make(map[uint64]*fund.Record),
		yield:      make(map[uint64]*yield.Record),
		accounts:   make(map[[20]byte]*types.Account),
	}
}

// NextTermID allocates the next monotonic term id.
func (s *Store) NextTermID() (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextTermID
	s.nextTermID++
	return id, nil
}

// PutTerm stores the term definition.
func (s *Store) PutTerm(term *types.Term) error {
	if term == nil {
		return errors.New("state: nil term")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.terms[term.ID] = term.Clone()
	return nil
}

// GetTerm returns a copy of the term definition.
func (s *Store) GetTerm(termID uint64) (*types.Term, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	term, ok := s.terms[termID]
	if !ok {
		return nil, fmt.Errorf("%w: term %d", ErrNotFound, termID)
	}
	return term.Clone(), nil
}

// CollateralGet returns a copy of the term's collateral record.
func (s *Store) CollateralGet(termID uint64) (*collateral.Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	record, ok := s.collateral[termID]
	if !ok {
		return nil, false
	}
	return record.Clone(), true
}

// CollateralPut stores the term's collateral record.
func (s *Store) CollateralPut(record *collateral.Record) error {
	if record == nil {
		return errors.New("state: nil collateral record")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.collateral[record.TermID] = record.Clone()
	return nil
}

// FundGet returns a copy of the term's fund record.
func (s *Store) FundGet(termID uint64) (*fund.Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	record, ok := s.fund[termID]
	if !ok {
		return nil, false
	}
	return record.Clone(), true
}

// FundPut stores the term's fund record.
func (s *Store) FundPut(record *fund.Record) error {
	if record == nil {
		return errors.New("state: nil fund record")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fund[record.TermID] = record.Clone()
	return nil
}

// YieldGet returns a copy of the term's yield record.
func (s *Store) YieldGet(termID uint64) (*yield.Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	record, ok := s.yield[termID]
	if !ok {
		return nil, false
	}
	return record.Clone(), true
}

// YieldPut stores the term's yield record.
func (s *Store) YieldPut(record *yield.Record) error {
	if record == nil {
		return errors.New("state: nil yield record")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.yield[record.TermID] = record.Clone()
	return nil
}

// GetAccount returns a copy of the account, or a zeroed account for unknown
// addresses so balance checks read naturally.
func (s *Store) GetAccount(addr [20]byte) (*types.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	account, ok := s.accounts[addr]
	if !ok {
		return (&types.Account{}).EnsureBalances(), nil
	}
	return account.Clone(), nil
}

// PutAccount stores the account.
func (s *Store) PutAccount(addr [20]byte, account *types.Account) error {
	if account == nil {
		return errors.New("state: nil account")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accounts[addr] = account.Clone()
	return nil
}

// Credit adds native and stable balance to the account, used by genesis
// seeding and tests. Nil amounts are treated as zero.
func (s *Store) Credit(addr [20]byte, native, stable *big.Int) error {
	account, err := s.GetAccount(addr)
	if err != nil {
		return err
	}
	if native != nil {
		account.BalanceNative = new(big.Int).Add(account.BalanceNative, native)
	}
	if stable != nil {
		account.BalanceStable = new(big.Int).Add(account.BalanceStable, stable)
	}
	return s.PutAccount(addr, account)
}
