package registry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"crypto-monitor/internal/storage"
)

type fakeSubStore struct {
	subs      map[string]storage.Subscription
	prefInits []int64
}

func newFakeSubStore() *fakeSubStore {
	return &fakeSubStore{subs: make(map[string]storage.Subscription)}
}

func key(userID int64, ticker string) string {
	return ticker + "/" + decimal.NewFromInt(userID).String()
}

func (f *fakeSubStore) InsertSubscription(_ context.Context, sub storage.Subscription) error {
	k := key(sub.UserID, sub.Ticker)
	if _, ok := f.subs[k]; ok {
		return storage.ErrDuplicate
	}
	f.subs[k] = sub
	return nil
}

func (f *fakeSubStore) DeleteSubscription(_ context.Context, userID int64, ticker string) error {
	k := key(userID, ticker)
	if _, ok := f.subs[k]; !ok {
		return storage.ErrNotFound
	}
	delete(f.subs, k)
	return nil
}

func (f *fakeSubStore) ListSubscriptionsByUser(_ context.Context, userID int64) ([]storage.Subscription, error) {
	var out []storage.Subscription
	for _, sub := range f.subs {
		if sub.UserID == userID {
			out = append(out, sub)
		}
	}
	return out, nil
}

func (f *fakeSubStore) ListSubscriptions(_ context.Context) ([]storage.Subscription, error) {
	var out []storage.Subscription
	for _, sub := range f.subs {
		out = append(out, sub)
	}
	return out, nil
}

func (f *fakeSubStore) UpdateSubscriptionPrice(_ context.Context, userID int64, ticker string, price decimal.Decimal, at time.Time) error {
	k := key(userID, ticker)
	sub, ok := f.subs[k]
	if !ok {
		return storage.ErrNotFound
	}
	sub.LastPrice = &price
	sub.UpdatedAt = at
	f.subs[k] = sub
	return nil
}

func (f *fakeSubStore) DeleteIdleSubscriptions(_ context.Context, cutoff time.Time) (int64, error) {
	var removed int64
	for k, sub := range f.subs {
		if sub.UpdatedAt.Before(cutoff) {
			delete(f.subs, k)
			removed++
		}
	}
	return removed, nil
}

func (f *fakeSubStore) EnsureUserPreferences(_ context.Context, userID int64) error {
	f.prefInits = append(f.prefInits, userID)
	return nil
}

func newTestRegistry(store storage.SubscriptionStore) *Registry {
	return New(store, zerolog.Nop())
}

func TestAddRejectsDuplicateWatch(t *testing.T) {
	store := newFakeSubStore()
	reg := newTestRegistry(store)
	ctx := context.Background()

	if err := reg.Add(ctx, 1, "BTC", decimal.NewFromInt(5)); err != nil {
		t.Fatalf("first add should succeed: %v", err)
	}

	before := store.subs[key(1, "BTC")]
	err := reg.Add(ctx, 1, "btc", decimal.NewFromInt(10))
	if !errors.Is(err, ErrDuplicateWatch) {
		t.Fatalf("expected ErrDuplicateWatch, got %v", err)
	}

	after := store.subs[key(1, "BTC")]
	if !after.Threshold.Equal(before.Threshold) {
		t.Fatal("duplicate add must not mutate the existing row")
	}
}

func TestAddInitialisesUserPreferences(t *testing.T) {
	store := newFakeSubStore()
	reg := newTestRegistry(store)

	if err := reg.Add(context.Background(), 7, "ETH", decimal.NewFromInt(3)); err != nil {
		t.Fatalf("add failed: %v", err)
	}
	if len(store.prefInits) != 1 || store.prefInits[0] != 7 {
		t.Fatalf("expected preference init for user 7, got %v", store.prefInits)
	}
}

func TestAddValidation(t *testing.T) {
	reg := newTestRegistry(newFakeSubStore())
	ctx := context.Background()

	if err := reg.Add(ctx, 1, "B", decimal.NewFromInt(5)); !errors.Is(err, ErrInvalidTicker) {
		t.Fatalf("one-letter ticker should fail: %v", err)
	}
	if err := reg.Add(ctx, 1, "TOOLONG", decimal.NewFromInt(5)); !errors.Is(err, ErrInvalidTicker) {
		t.Fatalf("six-letter ticker should fail: %v", err)
	}
	if err := reg.Add(ctx, 1, "BTC", decimal.Zero); !errors.Is(err, ErrInvalidThreshold) {
		t.Fatalf("zero threshold should fail: %v", err)
	}
	if err := reg.Add(ctx, 1, "BTC", decimal.NewFromInt(-5)); !errors.Is(err, ErrInvalidThreshold) {
		t.Fatalf("negative threshold should fail: %v", err)
	}
}

func TestAddNormalisesTicker(t *testing.T) {
	store := newFakeSubStore()
	reg := newTestRegistry(store)

	if err := reg.Add(context.Background(), 1, " btc ", decimal.NewFromInt(5)); err != nil {
		t.Fatalf("lowercase ticker should be normalised: %v", err)
	}
	if _, ok := store.subs[key(1, "BTC")]; !ok {
		t.Fatal("watch should be stored under the uppercase ticker")
	}
}

func TestRemoveMissingWatch(t *testing.T) {
	reg := newTestRegistry(newFakeSubStore())

	err := reg.Remove(context.Background(), 1, "BTC")
	if !errors.Is(err, ErrWatchNotFound) {
		t.Fatalf("expected ErrWatchNotFound, got %v", err)
	}
}

func TestUpdateLastPriceMissingWatch(t *testing.T) {
	reg := newTestRegistry(newFakeSubStore())

	err := reg.UpdateLastPrice(context.Background(), 1, "BTC", decimal.NewFromInt(100))
	if !errors.Is(err, ErrWatchNotFound) {
		t.Fatalf("expected ErrWatchNotFound, got %v", err)
	}
}

func TestUpdateLastPriceRollsBaseline(t *testing.T) {
	store := newFakeSubStore()
	reg := newTestRegistry(store)
	ctx := context.Background()

	if err := reg.Add(ctx, 1, "BTC", decimal.NewFromInt(5)); err != nil {
		t.Fatalf("add failed: %v", err)
	}
	if err := reg.UpdateLastPrice(ctx, 1, "BTC", decimal.NewFromInt(100)); err != nil {
		t.Fatalf("update failed: %v", err)
	}

	sub := store.subs[key(1, "BTC")]
	if sub.LastPrice == nil || !sub.LastPrice.Equal(decimal.NewFromInt(100)) {
		t.Fatalf("expected last price 100, got %v", sub.LastPrice)
	}
	if sub.UpdatedAt.IsZero() {
		t.Fatal("updated_at should advance with every baseline roll")
	}
}
