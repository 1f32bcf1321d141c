package pricefeedd

import (
	"context"
	"errors"
	"math/big"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"dusd/native/oracle"
)

type stubFeed struct {
	price *big.Int
	err   error
	now   func() time.Time
	calls int
}

func (s *stubFeed) LatestQuote(feedID string) (oracle.Quote, error) {
	s.calls++
	if s.err != nil {
		return oracle.Quote{}, s.err
	}
	at := time.Now()
	if s.now != nil {
		at = s.now()
	}
	return oracle.Quote{Price: new(big.Int).Set(s.price), UpdatedAt: at, Source: "stub"}, nil
}

type recordedSubmission struct {
	feed   string
	price  string
	source string
}

type recordingSubmitter struct {
	err         error
	submissions []recordedSubmission
}

func (r *recordingSubmitter) SubmitPrice(_ context.Context, feedID, price string, _ time.Time, source string) error {
	if r.err != nil {
		return r.err
	}
	r.submissions = append(r.submissions, recordedSubmission{feed: feedID, price: price, source: source})
	return nil
}

func newTestStore(t *testing.T) *SubmissionStore {
	t.Helper()
	store, err := NewSubmissionStore(filepath.Join(t.TempDir(), "pricefeedd.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func testFeederConfig() Config {
	return Config{
		Node:          NodeConfig{Endpoint: "http://localhost:8545"},
		PollInterval:  Duration{Duration: 30 * time.Second},
		MaxQuoteAge:   Duration{Duration: 10 * time.Minute},
		ResubmitAfter: Duration{Duration: time.Hour},
		Feeds:         []string{"eth-usd"},
	}
}

func scaled(usd int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(usd), oracle.PriceScale)
}

func TestFeederSubmitsFreshQuote(t *testing.T) {
	store := newTestStore(t)
	submitter := &recordingSubmitter{}
	feed := &stubFeed{price: scaled(2_000)}

	feeder, err := NewFeeder(testFeederConfig(), store, submitter, []Source{{Name: "primary", Feed: feed}}, nil)
	if err != nil {
		t.Fatalf("new feeder: %v", err)
	}
	if err := feeder.Tick(context.Background()); err != nil {
		t.Fatalf("tick: %v", err)
	}

	if len(submitter.submissions) != 1 {
		t.Fatalf("expected one submission, got %d", len(submitter.submissions))
	}
	got := submitter.submissions[0]
	if got.feed != "eth-usd" || got.price != "2000" || got.source != "primary" {
		t.Fatalf("unexpected submission: %+v", got)
	}

	last, err := store.Last("eth-usd")
	if err != nil {
		t.Fatalf("read store: %v", err)
	}
	if last == nil || last.Price != "2000" || last.Source != "primary" {
		t.Fatalf("unexpected stored submission: %+v", last)
	}
	if last.ID == "" {
		t.Fatalf("expected a submission id")
	}
}

func TestFeederDedupesUnchangedPrice(t *testing.T) {
	store := newTestStore(t)
	submitter := &recordingSubmitter{}
	current := time.Now()
	clock := func() time.Time { return current }
	feed := &stubFeed{price: scaled(2_000), now: clock}

	feeder, err := NewFeeder(testFeederConfig(), store, submitter, []Source{{Name: "primary", Feed: feed}}, nil)
	if err != nil {
		t.Fatalf("new feeder: %v", err)
	}
	feeder.SetNowFunc(clock)

	for i := 0; i < 3; i++ {
		if err := feeder.Tick(context.Background()); err != nil {
			t.Fatalf("tick %d: %v", i, err)
		}
	}
	if len(submitter.submissions) != 1 {
		t.Fatalf("expected unchanged price to dedupe, got %d submissions", len(submitter.submissions))
	}

	// A quiet market still gets refreshed before the node's guard can trip.
	current = current.Add(2 * time.Hour)
	if err := feeder.Tick(context.Background()); err != nil {
		t.Fatalf("refresh tick: %v", err)
	}
	if len(submitter.submissions) != 2 {
		t.Fatalf("expected forced refresh, got %d submissions", len(submitter.submissions))
	}
}

func TestFeederSubmitsChangedPrice(t *testing.T) {
	store := newTestStore(t)
	submitter := &recordingSubmitter{}
	feed := &stubFeed{price: scaled(2_000)}

	feeder, err := NewFeeder(testFeederConfig(), store, submitter, []Source{{Name: "primary", Feed: feed}}, nil)
	if err != nil {
		t.Fatalf("new feeder: %v", err)
	}
	if err := feeder.Tick(context.Background()); err != nil {
		t.Fatalf("tick: %v", err)
	}

	feed.price = scaled(2_100)
	if err := feeder.Tick(context.Background()); err != nil {
		t.Fatalf("tick after move: %v", err)
	}

	if len(submitter.submissions) != 2 {
		t.Fatalf("expected two submissions, got %d", len(submitter.submissions))
	}
	if submitter.submissions[1].price != "2100" {
		t.Fatalf("unexpected second price %q", submitter.submissions[1].price)
	}
}

func TestFeederFallsBackToNextSource(t *testing.T) {
	store := newTestStore(t)
	submitter := &recordingSubmitter{}
	primary := &stubFeed{err: errors.New("upstream down")}
	backup := &stubFeed{price: scaled(1_950)}

	feeder, err := NewFeeder(testFeederConfig(), store, submitter, []Source{
		{Name: "primary", Feed: primary},
		{Name: "backup", Feed: backup},
	}, nil)
	if err != nil {
		t.Fatalf("new feeder: %v", err)
	}
	if err := feeder.Tick(context.Background()); err != nil {
		t.Fatalf("tick: %v", err)
	}

	if len(submitter.submissions) != 1 || submitter.submissions[0].source != "backup" {
		t.Fatalf("expected backup submission, got %+v", submitter.submissions)
	}
	if primary.calls == 0 {
		t.Fatalf("expected primary to be tried first")
	}
}

func TestFeederPrefersFirstHealthySource(t *testing.T) {
	store := newTestStore(t)
	submitter := &recordingSubmitter{}
	primary := &stubFeed{price: scaled(2_000)}
	backup := &stubFeed{price: scaled(1_999)}

	feeder, err := NewFeeder(testFeederConfig(), store, submitter, []Source{
		{Name: "primary", Feed: primary},
		{Name: "backup", Feed: backup},
	}, nil)
	if err != nil {
		t.Fatalf("new feeder: %v", err)
	}
	if err := feeder.Tick(context.Background()); err != nil {
		t.Fatalf("tick: %v", err)
	}

	if len(submitter.submissions) != 1 || submitter.submissions[0].source != "primary" {
		t.Fatalf("expected primary submission, got %+v", submitter.submissions)
	}
	if backup.calls != 0 {
		t.Fatalf("backup should not be consulted when primary is fresh")
	}
}

func TestFeederSkipsExpiredQuotes(t *testing.T) {
	store := newTestStore(t)
	submitter := &recordingSubmitter{}
	feed := &stubFeed{
		price: scaled(2_000),
		now:   func() time.Time { return time.Now().Add(-time.Hour) },
	}

	feeder, err := NewFeeder(testFeederConfig(), store, submitter, []Source{{Name: "primary", Feed: feed}}, nil)
	if err != nil {
		t.Fatalf("new feeder: %v", err)
	}
	err = feeder.Tick(context.Background())
	if err == nil || !strings.Contains(err.Error(), "no fresh quote") {
		t.Fatalf("expected no fresh quote error, got %v", err)
	}
	if len(submitter.submissions) != 0 {
		t.Fatalf("expired quote must not be submitted")
	}
}

func TestFeederDoesNotRecordFailedSubmissions(t *testing.T) {
	store := newTestStore(t)
	submitter := &recordingSubmitter{err: errors.New("node unavailable")}
	feed := &stubFeed{price: scaled(2_000)}

	feeder, err := NewFeeder(testFeederConfig(), store, submitter, []Source{{Name: "primary", Feed: feed}}, nil)
	if err != nil {
		t.Fatalf("new feeder: %v", err)
	}
	if err := feeder.Tick(context.Background()); err == nil {
		t.Fatalf("expected submit error")
	}

	last, err := store.Last("eth-usd")
	if err != nil {
		t.Fatalf("read store: %v", err)
	}
	if last != nil {
		t.Fatalf("failed submission must not be recorded, got %+v", last)
	}
}
