package oracle

import (
	"errors"
	"testing"

	"github.com/holiman/uint256"

	"lendledger/crypto"
)

type fixedHeight uint64

func (h *fixedHeight) Height() uint64 { return uint64(*h) }

func TestFeedPublishesQuotes(t *testing.T) {
	feed := NewFeed(0, nil)
	asset := crypto.Address{19: 0x01}
	if err := feed.Set(asset, uint256.NewInt(5), 3); err != nil {
		t.Fatalf("set: %v", err)
	}
	price, err := feed.Price(asset)
	if err != nil {
		t.Fatalf("price: %v", err)
	}
	if price.Uint64() != 5 {
		t.Fatalf("unexpected price %s", price)
	}
	price.SetUint64(99)
	if again, _ := feed.Price(asset); again.Uint64() != 5 {
		t.Fatalf("caller mutated the stored quote")
	}
	if _, err := feed.Price(crypto.Address{}); !errors.Is(err, ErrNoQuote) {
		t.Fatalf("expected missing quote, got %v", err)
	}
}

func TestFeedRejectsZeroPrice(t *testing.T) {
	feed := NewFeed(0, nil)
	if err := feed.Set(crypto.Address{}, new(uint256.Int), 1); !errors.Is(err, ErrInvalidPrice) {
		t.Fatalf("expected invalid price, got %v", err)
	}
}

func TestFeedStaleness(t *testing.T) {
	height := fixedHeight(10)
	feed := NewFeed(5, &height)
	native := crypto.Address{}
	if err := feed.Seed(map[crypto.Address]*uint256.Int{native: uint256.NewInt(1)}, 10); err != nil {
		t.Fatalf("seed: %v", err)
	}

	height = 15
	if _, err := feed.Price(native); err != nil {
		t.Fatalf("quote at max age should be fresh: %v", err)
	}
	height = 16
	if _, err := feed.Price(native); !errors.Is(err, ErrStaleQuote) {
		t.Fatalf("expected stale quote, got %v", err)
	}
	if err := feed.Set(native, uint256.NewInt(2), 16); err != nil {
		t.Fatalf("set: %v", err)
	}
	if _, err := feed.Price(native); err != nil {
		t.Fatalf("refreshed quote rejected: %v", err)
	}
	if quotes := feed.Quotes(); len(quotes) != 1 || quotes[0].Height != 16 {
		t.Fatalf("unexpected quotes %+v", quotes)
	}
}
