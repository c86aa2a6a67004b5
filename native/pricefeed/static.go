package pricefeed

import (
	"math/big"
	"sync"
	"time"
)

// StaticFeed is an in-process feed for the dev node and tests. It reports a
// fixed answer with a fresh timestamp and an always-up sequencer.
type StaticFeed struct {
	mu       sync.Mutex
	answer   *big.Int
	decimals uint8
	up       bool
	since    time.Time
	nowFn    func() time.Time
}

var (
	_ PriceFeed  = (*StaticFeed)(nil)
	_ UptimeFeed = (*StaticFeed)(nil)
)

// NewStaticFeed returns a feed quoting the given answer at the given decimal
// precision, with the sequencer up since the epoch.
func NewStaticFeed(answer *big.Int, decimals uint8) *StaticFeed {
	return &StaticFeed{
		answer:   new(big.Int).Set(answer),
		decimals: decimals,
		up:       true,
		nowFn:    time.Now,
	}
}

// SetAnswer replaces the quoted price.
func (f *StaticFeed) SetAnswer(answer *big.Int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.answer = new(big.Int).Set(answer)
}

// SetUptime overrides the sequencer status, for exercising the gates.
func (f *StaticFeed) SetUptime(up bool, since time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.up = up
	f.since = since
}

// SetNowFunc overrides the time source.
func (f *StaticFeed) SetNowFunc(now func() time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if now == nil {
		f.nowFn = time.Now
		return
	}
	f.nowFn = now
}

// LatestAnswer returns the fixed answer.
func (f *StaticFeed) LatestAnswer() (*big.Int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return new(big.Int).Set(f.answer), nil
}

// LatestTimestamp always quotes now, so staleness never trips.
func (f *StaticFeed) LatestTimestamp() (time.Time, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.nowFn(), nil
}

// Decimals returns the feed precision.
func (f *StaticFeed) Decimals() uint8 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.decimals
}

// Status reports the configured sequencer state.
func (f *StaticFeed) Status() (bool, time.Time, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.up, f.since, nil
}
