package service

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"crypto-monitor/internal/fetcher"
	"crypto-monitor/internal/registry"
	"crypto-monitor/internal/storage"
)

// --- fakes ---

type fakeSubStore struct {
	subs map[string]*storage.Subscription
}

func subKey(userID int64, ticker string) string {
	return ticker + "#" + strconv.FormatInt(userID, 10)
}

func newFakeSubStore() *fakeSubStore {
	return &fakeSubStore{subs: make(map[string]*storage.Subscription)}
}

func (f *fakeSubStore) add(userID int64, ticker string, threshold float64) {
	f.subs[subKey(userID, ticker)] = &storage.Subscription{
		UserID:    userID,
		Ticker:    ticker,
		Threshold: decimal.NewFromFloat(threshold),
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	}
}

func (f *fakeSubStore) InsertSubscription(_ context.Context, sub storage.Subscription) error {
	if _, ok := f.subs[subKey(sub.UserID, sub.Ticker)]; ok {
		return storage.ErrDuplicate
	}
	copied := sub
	f.subs[subKey(sub.UserID, sub.Ticker)] = &copied
	return nil
}

func (f *fakeSubStore) DeleteSubscription(_ context.Context, userID int64, ticker string) error {
	k := subKey(userID, ticker)
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
			out = append(out, *sub)
		}
	}
	return out, nil
}

func (f *fakeSubStore) ListSubscriptions(_ context.Context) ([]storage.Subscription, error) {
	var out []storage.Subscription
	for _, sub := range f.subs {
		out = append(out, *sub)
	}
	return out, nil
}

func (f *fakeSubStore) UpdateSubscriptionPrice(_ context.Context, userID int64, ticker string, price decimal.Decimal, at time.Time) error {
	sub, ok := f.subs[subKey(userID, ticker)]
	if !ok {
		return storage.ErrNotFound
	}
	sub.LastPrice = &price
	sub.UpdatedAt = at
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

func (f *fakeSubStore) EnsureUserPreferences(context.Context, int64) error { return nil }

type fakePriceStore struct {
	samples []storage.PriceSample
}

func (f *fakePriceStore) InsertPriceSample(_ context.Context, sample storage.PriceSample) error {
	f.samples = append(f.samples, sample)
	return nil
}

func (f *fakePriceStore) ListPriceSamplesSince(_ context.Context, ticker string, since time.Time) ([]storage.PriceSample, error) {
	var out []storage.PriceSample
	for _, s := range f.samples {
		if s.Ticker == ticker && !s.ObservedAt.Before(since) {
			out = append(out, s)
		}
	}
	return out, nil
}

func (f *fakePriceStore) FirstPriceSampleAfter(_ context.Context, ticker string, after time.Time) (*storage.PriceSample, error) {
	for _, s := range f.samples {
		if s.Ticker == ticker && !s.ObservedAt.Before(after) {
			found := s
			return &found, nil
		}
	}
	return nil, nil
}

func (f *fakePriceStore) DeletePriceSamplesBefore(_ context.Context, cutoff time.Time) (int64, error) {
	var kept []storage.PriceSample
	var removed int64
	for _, s := range f.samples {
		if s.ObservedAt.Before(cutoff) {
			removed++
			continue
		}
		kept = append(kept, s)
	}
	f.samples = kept
	return removed, nil
}

type fakeNoteStore struct {
	records []storage.NotificationRecord
}

func (f *fakeNoteStore) InsertNotification(_ context.Context, rec storage.NotificationRecord) (int64, error) {
	rec.ID = int64(len(f.records) + 1)
	f.records = append(f.records, rec)
	return rec.ID, nil
}

func (f *fakeNoteStore) ListNotificationsByUser(_ context.Context, userID int64, limit int) ([]storage.NotificationRecord, error) {
	var out []storage.NotificationRecord
	for _, rec := range f.records {
		if rec.UserID == userID {
			out = append(out, rec)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeNoteStore) DeleteNotificationsBefore(_ context.Context, cutoff time.Time) (int64, error) {
	var kept []storage.NotificationRecord
	var removed int64
	for _, rec := range f.records {
		if rec.SentAt.Before(cutoff) {
			removed++
			continue
		}
		kept = append(kept, rec)
	}
	f.records = kept
	return removed, nil
}

type fakeForecastStore struct {
	records []storage.ForecastRecord
}

func (f *fakeForecastStore) InsertForecast(_ context.Context, rec storage.ForecastRecord) (int64, error) {
	rec.ID = int64(len(f.records) + 1)
	f.records = append(f.records, rec)
	return rec.ID, nil
}

func (f *fakeForecastStore) ListUnscoredForecasts(_ context.Context, createdBefore time.Time) ([]storage.ForecastRecord, error) {
	var out []storage.ForecastRecord
	for _, rec := range f.records {
		if rec.AccuracyScore == nil && rec.CreatedAt.Before(createdBefore) {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (f *fakeForecastStore) UpdateForecastOutcome(_ context.Context, id int64, actual decimal.Decimal, accuracy float64) error {
	for i := range f.records {
		if f.records[i].ID == id {
			price := actual
			score := accuracy
			f.records[i].ActualPrice = &price
			f.records[i].AccuracyScore = &score
			return nil
		}
	}
	return storage.ErrNotFound
}

type fakeTrendStore struct {
	snaps map[string]storage.TrendSnapshot
}

func newFakeTrendStore() *fakeTrendStore {
	return &fakeTrendStore{snaps: make(map[string]storage.TrendSnapshot)}
}

func (f *fakeTrendStore) UpsertTrend(_ context.Context, snap storage.TrendSnapshot) error {
	f.snaps[snap.Ticker] = snap
	return nil
}

func (f *fakeTrendStore) GetTrend(_ context.Context, ticker string) (*storage.TrendSnapshot, error) {
	if snap, ok := f.snaps[ticker]; ok {
		return &snap, nil
	}
	return nil, nil
}

type scriptedSource struct {
	quotes map[string][]fetcher.Quote
	errs   map[string]error
	calls  map[string]int
}

func newScriptedSource() *scriptedSource {
	return &scriptedSource{
		quotes: make(map[string][]fetcher.Quote),
		errs:   make(map[string]error),
		calls:  make(map[string]int),
	}
}

func (s *scriptedSource) push(ticker string, price float64) {
	s.quotes[ticker] = append(s.quotes[ticker], fetcher.Quote{
		Price:      decimal.NewFromFloat(price),
		ObservedAt: time.Now().UTC(),
	})
}

func (s *scriptedSource) GetPrice(_ context.Context, ticker string) (fetcher.Quote, error) {
	s.calls[ticker]++
	if err, ok := s.errs[ticker]; ok {
		return fetcher.Quote{}, err
	}
	queue := s.quotes[ticker]
	if len(queue) == 0 {
		return fetcher.Quote{}, errors.New("no scripted quote")
	}
	quote := queue[0]
	s.quotes[ticker] = queue[1:]
	return quote, nil
}

type recordingNotifier struct {
	sent []string
	err  error
}

func (n *recordingNotifier) Send(_ context.Context, userID int64, text string) error {
	if n.err != nil {
		return n.err
	}
	n.sent = append(n.sent, text)
	return nil
}

type fixture struct {
	monitor  *Monitor
	subs     *fakeSubStore
	prices   *fakePriceStore
	notes    *fakeNoteStore
	fcasts   *fakeForecastStore
	trends   *fakeTrendStore
	source   *scriptedSource
	notifier *recordingNotifier
}

func newFixture(opts Options) *fixture {
	opts.AlertsEnabled = true
	f := &fixture{
		subs:     newFakeSubStore(),
		prices:   &fakePriceStore{},
		notes:    &fakeNoteStore{},
		fcasts:   &fakeForecastStore{},
		trends:   newFakeTrendStore(),
		source:   newScriptedSource(),
		notifier: &recordingNotifier{},
	}
	reg := registry.New(f.subs, zerolog.Nop())
	f.monitor = New(reg, f.source, f.prices, f.notes, f.fcasts, f.trends, f.notifier, opts, zerolog.Nop())
	return f
}

// --- price-check cycle ---

func TestCheckPricesRollingBaselineScenario(t *testing.T) {
	f := newFixture(Options{})
	ctx := context.Background()

	f.subs.add(1, "BTC", 5)
	f.source.push("BTC", 100)
	f.source.push("BTC", 106)
	f.source.push("BTC", 108)

	// Cycle 1: first observation seeds the baseline, no alert.
	if err := f.monitor.CheckPrices(ctx); err != nil {
		t.Fatalf("cycle 1 failed: %v", err)
	}
	if len(f.notifier.sent) != 0 {
		t.Fatalf("seeding cycle must not alert, got %v", f.notifier.sent)
	}
	sub := f.subs.subs[subKey(1, "BTC")]
	if sub.LastPrice == nil || !sub.LastPrice.Equal(decimal.NewFromInt(100)) {
		t.Fatalf("baseline should seed to 100, got %v", sub.LastPrice)
	}

	// Cycle 2: 6% move fires.
	if err := f.monitor.CheckPrices(ctx); err != nil {
		t.Fatalf("cycle 2 failed: %v", err)
	}
	if len(f.notifier.sent) != 1 {
		t.Fatalf("expected one alert, got %d", len(f.notifier.sent))
	}
	if !strings.Contains(f.notifier.sent[0], "6.00%") {
		t.Fatalf("alert should carry 6.00%%, got %q", f.notifier.sent[0])
	}
	if !sub.LastPrice.Equal(decimal.NewFromInt(106)) {
		t.Fatalf("baseline should roll to 106, got %v", sub.LastPrice)
	}

	// Cycle 3: 1.89% from the rolled baseline stays quiet.
	if err := f.monitor.CheckPrices(ctx); err != nil {
		t.Fatalf("cycle 3 failed: %v", err)
	}
	if len(f.notifier.sent) != 1 {
		t.Fatalf("sub-threshold move must not alert, got %d alerts", len(f.notifier.sent))
	}
	if !sub.LastPrice.Equal(decimal.NewFromInt(108)) {
		t.Fatalf("baseline should roll to 108 even without firing, got %v", sub.LastPrice)
	}

	if len(f.prices.samples) != 3 {
		t.Fatalf("expected 3 appended samples, got %d", len(f.prices.samples))
	}
	if len(f.notes.records) != 1 || f.notes.records[0].Status != "sent" {
		t.Fatalf("expected one sent notification record, got %#v", f.notes.records)
	}
}

func TestCheckPricesTrackedTickerWithoutSubscribers(t *testing.T) {
	f := newFixture(Options{ExtraTickers: []string{"ETH"}})
	ctx := context.Background()

	f.source.push("ETH", 3000)
	f.source.push("ETH", 3500)

	for i := 0; i < 2; i++ {
		if err := f.monitor.CheckPrices(ctx); err != nil {
			t.Fatalf("cycle %d failed: %v", i+1, err)
		}
	}

	if len(f.prices.samples) != 2 {
		t.Fatalf("samples should append without subscribers, got %d", len(f.prices.samples))
	}
	if len(f.notifier.sent) != 0 || len(f.notes.records) != 0 {
		t.Fatal("no notifications expected without subscribers")
	}
}

func TestCheckPricesIsolatesTickerFailures(t *testing.T) {
	f := newFixture(Options{})
	ctx := context.Background()

	f.subs.add(1, "AAA", 5)
	f.subs.add(2, "BBB", 5)
	f.source.errs["AAA"] = errors.New("provider down")
	f.source.push("BBB", 50)

	if err := f.monitor.CheckPrices(ctx); err != nil {
		t.Fatalf("cycle must survive a ticker failure: %v", err)
	}

	if f.source.calls["BBB"] != 1 {
		t.Fatal("failure in AAA must not skip BBB")
	}
	if len(f.prices.samples) != 1 || f.prices.samples[0].Ticker != "BBB" {
		t.Fatalf("expected one BBB sample, got %#v", f.prices.samples)
	}
}

func TestCheckPricesDeliveryFailureIsNotFatal(t *testing.T) {
	f := newFixture(Options{})
	ctx := context.Background()

	f.subs.add(1, "BTC", 5)
	baseline := decimal.NewFromInt(100)
	f.subs.subs[subKey(1, "BTC")].LastPrice = &baseline
	f.source.push("BTC", 110)
	f.notifier.err = errors.New("telegram down")

	if err := f.monitor.CheckPrices(ctx); err != nil {
		t.Fatalf("cycle must survive delivery failure: %v", err)
	}

	if len(f.notes.records) != 1 || f.notes.records[0].Status != "failed" {
		t.Fatalf("expected a failed notification record, got %#v", f.notes.records)
	}
	sub := f.subs.subs[subKey(1, "BTC")]
	if !sub.LastPrice.Equal(decimal.NewFromInt(110)) {
		t.Fatal("baseline must roll even when delivery fails")
	}
}

func TestCheckPricesRecordsSkippedWithoutNotifier(t *testing.T) {
	f := newFixture(Options{})
	f.monitor.notifier = nil
	ctx := context.Background()

	f.subs.add(1, "BTC", 5)
	baseline := decimal.NewFromInt(100)
	f.subs.subs[subKey(1, "BTC")].LastPrice = &baseline
	f.source.push("BTC", 110)

	if err := f.monitor.CheckPrices(ctx); err != nil {
		t.Fatalf("cycle failed: %v", err)
	}

	if len(f.notes.records) != 1 {
		t.Fatalf("expected one notification record, got %d", len(f.notes.records))
	}
	if got := f.notes.records[0].Status; got != "skipped" {
		t.Fatalf("undelivered alert must not be recorded as sent, got %q", got)
	}
	sub := f.subs.subs[subKey(1, "BTC")]
	if !sub.LastPrice.Equal(decimal.NewFromInt(110)) {
		t.Fatal("baseline must roll even without a delivery channel")
	}
}

func TestCheckPricesToleratesVanishedWatch(t *testing.T) {
	f := newFixture(Options{})
	ctx := context.Background()

	f.subs.add(1, "BTC", 5)
	f.source.push("BTC", 100)

	// Simulate a concurrent unsubscribe between listing and evaluation by
	// injecting a watcher the store no longer knows.
	subs, _ := f.subs.ListSubscriptions(ctx)
	delete(f.subs.subs, subKey(1, "BTC"))
	f.monitor.checkTicker(ctx, "BTC", subs)

	if len(f.prices.samples) != 1 {
		t.Fatal("sample should still append for a vanished watch")
	}
}

// --- analytics ---

func TestRefreshAnalyticsScoresForecastsOnce(t *testing.T) {
	f := newFixture(Options{})
	ctx := context.Background()
	now := time.Now().UTC()

	f.subs.add(1, "BTC", 5)
	f.fcasts.records = []storage.ForecastRecord{{
		ID:        1,
		Ticker:    "BTC",
		Forecast:  "up",
		CreatedAt: now.Add(-48 * time.Hour),
	}}
	f.prices.samples = []storage.PriceSample{
		{Ticker: "BTC", Price: decimal.NewFromInt(90), ObservedAt: now.Add(-30 * time.Hour)},
		{Ticker: "BTC", Price: decimal.NewFromInt(95), ObservedAt: now.Add(-20 * time.Hour)},
	}

	if err := f.monitor.RefreshAnalytics(ctx); err != nil {
		t.Fatalf("analytics failed: %v", err)
	}

	rec := f.fcasts.records[0]
	if rec.AccuracyScore == nil || *rec.AccuracyScore != 0 {
		t.Fatalf("expected committed placeholder score, got %#v", rec.AccuracyScore)
	}
	if rec.ActualPrice == nil || !rec.ActualPrice.Equal(decimal.NewFromInt(95)) {
		t.Fatalf("expected realized price 95 (first sample past horizon), got %v", rec.ActualPrice)
	}

	// Second run finds nothing pending: the backfill is idempotent.
	pending, _ := f.fcasts.ListUnscoredForecasts(ctx, now)
	if len(pending) != 0 {
		t.Fatalf("scored forecasts must not be reprocessed, got %d pending", len(pending))
	}
}

func TestRefreshAnalyticsSkipsForecastWithoutRealizedPrice(t *testing.T) {
	f := newFixture(Options{})
	ctx := context.Background()
	now := time.Now().UTC()

	f.fcasts.records = []storage.ForecastRecord{{
		ID:        1,
		Ticker:    "BTC",
		Forecast:  "up",
		CreatedAt: now.Add(-48 * time.Hour),
	}}

	if err := f.monitor.RefreshAnalytics(ctx); err != nil {
		t.Fatalf("analytics failed: %v", err)
	}
	if f.fcasts.records[0].AccuracyScore != nil {
		t.Fatal("forecast without a post-horizon sample must stay unscored")
	}
}

func TestRefreshAnalyticsUpsertsTrends(t *testing.T) {
	f := newFixture(Options{})
	ctx := context.Background()
	now := time.Now().UTC()

	f.subs.add(1, "BTC", 5)
	f.prices.samples = []storage.PriceSample{
		{Ticker: "BTC", Price: decimal.NewFromInt(100), ObservedAt: now.Add(-3 * time.Hour)},
		{Ticker: "BTC", Price: decimal.NewFromInt(110), ObservedAt: now.Add(-time.Hour)},
	}

	if err := f.monitor.RefreshAnalytics(ctx); err != nil {
		t.Fatalf("analytics failed: %v", err)
	}

	snap, _ := f.trends.GetTrend(ctx, "BTC")
	if snap == nil || snap.Trend != "up" {
		t.Fatalf("expected up trend snapshot, got %#v", snap)
	}
}

// --- retention ---

func TestPruneHistoryHorizons(t *testing.T) {
	f := newFixture(Options{
		PriceRetention:   30 * 24 * time.Hour,
		NotifyRetention:  90 * 24 * time.Hour,
		IdleSubRetention: 30 * 24 * time.Hour,
	})
	ctx := context.Background()
	now := time.Now().UTC()
	f.monitor.now = func() time.Time { return now }

	priceCutoff := now.Add(-30 * 24 * time.Hour)
	f.prices.samples = []storage.PriceSample{
		{Ticker: "BTC", ObservedAt: priceCutoff.Add(-time.Second)}, // past horizon: pruned
		{Ticker: "BTC", ObservedAt: priceCutoff},                   // exactly at horizon: kept
		{Ticker: "BTC", ObservedAt: priceCutoff.Add(time.Second)},  // inside horizon: kept
	}

	noteCutoff := now.Add(-90 * 24 * time.Hour)
	f.notes.records = []storage.NotificationRecord{
		{UserID: 1, SentAt: noteCutoff.Add(-time.Second)},
		{UserID: 1, SentAt: noteCutoff},
	}

	f.subs.add(1, "BTC", 5)
	f.subs.subs[subKey(1, "BTC")].UpdatedAt = now.Add(-31 * 24 * time.Hour)
	f.subs.add(2, "ETH", 5)
	f.subs.subs[subKey(2, "ETH")].UpdatedAt = now.Add(-29 * 24 * time.Hour)

	if err := f.monitor.PruneHistory(ctx); err != nil {
		t.Fatalf("retention failed: %v", err)
	}

	if len(f.prices.samples) != 2 {
		t.Fatalf("expected 2 surviving samples, got %d", len(f.prices.samples))
	}
	if len(f.notes.records) != 1 {
		t.Fatalf("expected 1 surviving notification, got %d", len(f.notes.records))
	}
	if _, ok := f.subs.subs[subKey(1, "BTC")]; ok {
		t.Fatal("idle watch should be reaped")
	}
	if _, ok := f.subs.subs[subKey(2, "ETH")]; !ok {
		t.Fatal("recently updated watch must survive")
	}
}
