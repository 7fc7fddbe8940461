package oracle

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/holiman/uint256"

	"lendledger/crypto"
)

var (
	// ErrNoQuote indicates that no price has been published for the asset.
	ErrNoQuote = errors.New("oracle: no quote for asset")
	// ErrStaleQuote indicates that the latest quote is older than the
	// configured freshness window.
	ErrStaleQuote = errors.New("oracle: stale quote")
	// ErrInvalidPrice rejects zero or missing prices at publication time.
	ErrInvalidPrice = errors.New("oracle: price must be positive")
)

// Quote is a published asset price in 1e18 fixed point along with the block
// height at which it was observed.
type Quote struct {
	Asset  crypto.Address
	Price  *uint256.Int
	Height uint64
}

// Clone returns a deep copy of the quote.
func (q Quote) Clone() Quote {
	out := Quote{Asset: q.Asset, Height: q.Height}
	if q.Price != nil {
		out.Price = new(uint256.Int).Set(q.Price)
	}
	return out
}

// HeightSource reports the current block height used for freshness checks.
type HeightSource interface {
	Height() uint64
}

// Feed is a manually published price source. Quotes older than MaxAge blocks
// are refused once a height source is attached. Feed is safe for concurrent
// use.
type Feed struct {
	mu     sync.RWMutex
	quotes map[crypto.Address]Quote
	maxAge uint64
	clock  HeightSource
}

// NewFeed constructs an empty feed. A zero maxAge disables staleness checks.
func NewFeed(maxAge uint64, clock HeightSource) *Feed {
	return &Feed{quotes: make(map[crypto.Address]Quote), maxAge: maxAge, clock: clock}
}

// Set publishes a price for asset observed at height.
func (f *Feed) Set(asset crypto.Address, price *uint256.Int, height uint64) error {
	if price == nil || price.IsZero() {
		return ErrInvalidPrice
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.quotes[asset] = Quote{Asset: asset, Price: new(uint256.Int).Set(price), Height: height}
	return nil
}

// Seed publishes every price in the map at the supplied height.
func (f *Feed) Seed(prices map[crypto.Address]*uint256.Int, height uint64) error {
	for asset, price := range prices {
		if err := f.Set(asset, price, height); err != nil {
			return fmt.Errorf("seed %s: %w", asset.Hex(), err)
		}
	}
	return nil
}

// Quote returns the latest quote for asset regardless of freshness.
func (f *Feed) Quote(asset crypto.Address) (Quote, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	q, ok := f.quotes[asset]
	if !ok {
		return Quote{}, false
	}
	return q.Clone(), true
}

// Quotes lists every published quote ordered by asset.
func (f *Feed) Quotes() []Quote {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]Quote, 0, len(f.quotes))
	for _, q := range f.quotes {
		out = append(out, q.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Asset.Compare(out[j].Asset) < 0 })
	return out
}

// Price implements the lending price oracle.
func (f *Feed) Price(asset crypto.Address) (*uint256.Int, error) {
	f.mu.RLock()
	q, ok := f.quotes[asset]
	f.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w %s", ErrNoQuote, asset.Hex())
	}
	if f.maxAge > 0 && f.clock != nil {
		now := f.clock.Height()
		if now > q.Height && now-q.Height > f.maxAge {
			return nil, fmt.Errorf("%w: %s observed at %d, height %d", ErrStaleQuote, asset.Hex(), q.Height, now)
		}
	}
	return new(uint256.Int).Set(q.Price), nil
}
