package pricefeed

import (
	"errors"
	"fmt"
	"math/big"
	"time"
)

var (
	// ErrSequencerDown signals that the host ledger liveness feed reports an
	// outage; no collateral sizing may proceed.
	ErrSequencerDown = errors.New("pricefeed: sequencer down")
	// ErrSequencerStarting signals that the liveness feed recovered less than
	// the grace window ago and prices are not yet trustworthy.
	ErrSequencerStarting = errors.New("pricefeed: sequencer within grace window")
	// ErrStalePriceData signals that the latest answer is older than the
	// configured staleness bound.
	ErrStalePriceData = errors.New("pricefeed: stale price data")

	errNilFeed        = errors.New("pricefeed: price feed not configured")
	errNilUptime      = errors.New("pricefeed: uptime feed not configured")
	errNonPositive    = errors.New("pricefeed: non-positive price answer")
	errNegativeAmount = errors.New("pricefeed: negative conversion amount")
)

// PriceFeed exposes the latest answer of an external collateral/stable price
// oracle together with its update timestamp.
type PriceFeed interface {
	LatestAnswer() (*big.Int, error)
	LatestTimestamp() (time.Time, error)
	Decimals() uint8
}

// UptimeFeed reports the liveness of the host ledger. The since timestamp
// marks when the feed last flipped to the reported status.
type UptimeFeed interface {
	Status() (up bool, since time.Time, err error)
}

// Adapter wraps a price feed and an uptime feed and exposes validated
// conversions between the collateral asset and the stable contribution
// asset. Every read re-runs the liveness, grace and staleness gates; results
// are never cached.
type Adapter struct {
	feed      PriceFeed
	uptime    UptimeFeed
	grace     time.Duration
	staleness time.Duration
	nowFn     func() time.Time
}

// NewAdapter wires the adapter with the given feeds. Grace defaults to one
// hour and staleness to 24 hours when zero values are supplied.
func NewAdapter(feed PriceFeed, uptime UptimeFeed, grace, staleness time.Duration) *Adapter {
	if grace <= 0 {
		grace = time.Hour
	}
	if staleness <= 0 {
		staleness = 24 * time.Hour
	}
	return &Adapter{
		feed:      feed,
		uptime:    uptime,
		grace:     grace,
		staleness: staleness,
		nowFn:     time.Now,
	}
}

// SetNowFunc overrides the time source, primarily for deterministic tests.
func (a *Adapter) SetNowFunc(now func() time.Time) {
	if a == nil {
		return
	}
	if now == nil {
		a.nowFn = time.Now
		return
	}
	a.nowFn = now
}

// LatestPrice returns the current collateral/stable price after validating
// the sequencer status and answer freshness.
func (a *Adapter) LatestPrice() (*big.Int, error) {
	if a == nil || a.feed == nil {
		return nil, errNilFeed
	}
	if a.uptime == nil {
		return nil, errNilUptime
	}
	now := a.nowFn()
	up, since, err := a.uptime.Status()
	if err != nil {
		return nil, fmt.Errorf("pricefeed: uptime read: %w", err)
	}
	if !up {
		return nil, ErrSequencerDown
	}
	if now.Sub(since) < a.grace {
		return nil, ErrSequencerStarting
	}
	updated, err := a.feed.LatestTimestamp()
	if err != nil {
		return nil, fmt.Errorf("pricefeed: timestamp read: %w", err)
	}
	if now.Sub(updated) > a.staleness {
		return nil, ErrStalePriceData
	}
	answer, err := a.feed.LatestAnswer()
	if err != nil {
		return nil, fmt.Errorf("pricefeed: answer read: %w", err)
	}
	if answer == nil || answer.Sign() <= 0 {
		return nil, errNonPositive
	}
	return new(big.Int).Set(answer), nil
}

// ToCollateral converts a stable-asset amount into collateral-asset units,
// rounding up so that deposit requirements never round in the depositor's
// favour.
func (a *Adapter) ToCollateral(stable *big.Int) (*big.Int, error) {
	if stable == nil {
		return big.NewInt(0), nil
	}
	if stable.Sign() < 0 {
		return nil, errNegativeAmount
	}
	price, err := a.LatestPrice()
	if err != nil {
		return nil, err
	}
	scale := a.priceScale()
	num := new(big.Int).Mul(stable, scale)
	out, rem := new(big.Int).QuoRem(num, price, new(big.Int))
	if rem.Sign() != 0 {
		out.Add(out, big.NewInt(1))
	}
	return out, nil
}

// ToStable converts a collateral-asset amount into stable-asset units,
// rounding down so that recovered value is never overstated.
func (a *Adapter) ToStable(collateral *big.Int) (*big.Int, error) {
	if collateral == nil {
		return big.NewInt(0), nil
	}
	if collateral.Sign() < 0 {
		return nil, errNegativeAmount
	}
	price, err := a.LatestPrice()
	if err != nil {
		return nil, err
	}
	out := new(big.Int).Mul(collateral, price)
	return out.Quo(out, a.priceScale()), nil
}

func (a *Adapter) priceScale() *big.Int {
	decimals := uint8(8)
	if a != nil && a.feed != nil {
		decimals = a.feed.Decimals()
	}
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
}
