package pricefeedd

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"dusd/native/oracle"
)

// Submitter pushes a validated quote to the node.
type Submitter interface {
	SubmitPrice(ctx context.Context, feedID, price string, updatedAt time.Time, source string) error
}

// Source pairs a named upstream with its quote fetcher. Order matters: the
// feeder walks sources front to back and the first fresh quote wins.
type Source struct {
	Name string
	Feed oracle.Feed
}

// BuildSources constructs the HTTP adapters for each configured source.
func BuildSources(cfg Config) []Source {
	sources := make([]Source, 0, len(cfg.Sources))
	for _, sc := range cfg.Sources {
		sources = append(sources, Source{
			Name: sc.Name,
			Feed: oracle.NewHTTPSource(nil, sc.Endpoint, sc.Assets),
		})
	}
	return sources
}

// Feeder polls upstream price sources and forwards fresh quotes to the node,
// skipping submissions whose price has not moved since the last push.
type Feeder struct {
	logger        *slog.Logger
	store         *SubmissionStore
	submitter     Submitter
	sources       []Source
	feeds         []string
	interval      time.Duration
	maxQuoteAge   time.Duration
	resubmitAfter time.Duration
	now           func() time.Time
}

// NewFeeder constructs a feeder instance.
func NewFeeder(cfg Config, store *SubmissionStore, submitter Submitter, sources []Source, logger *slog.Logger) (*Feeder, error) {
	if store == nil {
		return nil, fmt.Errorf("submission store required")
	}
	if submitter == nil {
		return nil, fmt.Errorf("submitter required")
	}
	if len(sources) == 0 {
		return nil, fmt.Errorf("at least one source required")
	}
	if len(cfg.Feeds) == 0 {
		return nil, fmt.Errorf("at least one feed required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Feeder{
		logger:        logger,
		store:         store,
		submitter:     submitter,
		sources:       append([]Source{}, sources...),
		feeds:         append([]string{}, cfg.Feeds...),
		interval:      cfg.PollInterval.Duration,
		maxQuoteAge:   cfg.MaxQuoteAge.Duration,
		resubmitAfter: cfg.ResubmitAfter.Duration,
		now:           time.Now,
	}, nil
}

// SetNowFunc overrides the clock used for freshness and dedupe decisions.
func (f *Feeder) SetNowFunc(now func() time.Time) {
	if f == nil || now == nil {
		return
	}
	f.now = now
}

// Run blocks, polling upstream feeds until the context is cancelled.
func (f *Feeder) Run(ctx context.Context) error {
	if f == nil {
		return fmt.Errorf("feeder not configured")
	}
	ticker := time.NewTicker(f.interval)
	defer ticker.Stop()
	f.logger.Info("feeder started", "sources", len(f.sources), "feeds", len(f.feeds), "interval", f.interval.String())
	for {
		if err := f.Tick(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			f.logger.Error("tick failed", "err", err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Tick performs a single poll cycle across all configured feeds.
func (f *Feeder) Tick(ctx context.Context) error {
	if f == nil {
		return fmt.Errorf("feeder not configured")
	}
	var firstErr error
	for _, feedID := range f.feeds {
		if err := f.processFeed(ctx, feedID); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (f *Feeder) processFeed(ctx context.Context, feedID string) error {
	now := f.now()
	for _, src := range f.sources {
		if src.Feed == nil {
			continue
		}
		quote, err := src.Feed.LatestQuote(feedID)
		if err != nil {
			f.logger.Warn("source failed", "source", src.Name, "feed", feedID, "err", err)
			continue
		}
		if quote.Price == nil || quote.Price.Sign() <= 0 {
			f.logger.Warn("source returned invalid price", "source", src.Name, "feed", feedID)
			continue
		}
		if quote.UpdatedAt.After(now.Add(5 * time.Second)) {
			f.logger.Warn("source produced future timestamp", "source", src.Name, "feed", feedID)
			continue
		}
		if quote.UpdatedAt.Before(now.Add(-f.maxQuoteAge)) {
			f.logger.Warn("source quote expired", "source", src.Name, "feed", feedID, "quotedAt", quote.UpdatedAt)
			continue
		}
		return f.submit(ctx, feedID, src.Name, quote, now)
	}
	return fmt.Errorf("no fresh quote for %s", feedID)
}

func (f *Feeder) submit(ctx context.Context, feedID, sourceName string, quote oracle.Quote, now time.Time) error {
	price := oracle.FormatPrice(quote.Price)
	last, err := f.store.Last(feedID)
	if err != nil {
		return err
	}
	if last != nil && last.Price == price && now.Sub(last.SubmittedAt) < f.resubmitAfter {
		f.logger.Debug("price unchanged", "feed", feedID, "price", price)
		return nil
	}
	if err := f.submitter.SubmitPrice(ctx, feedID, price, quote.UpdatedAt, sourceName); err != nil {
		return fmt.Errorf("submit %s: %w", feedID, err)
	}
	sub := Submission{
		ID:          uuid.NewString(),
		Price:       price,
		Source:      sourceName,
		QuotedAt:    quote.UpdatedAt,
		SubmittedAt: now,
	}
	if err := f.store.Record(feedID, sub); err != nil {
		return err
	}
	f.logger.Info("price submitted", "feed", feedID, "price", price, "source", sourceName, "submission", sub.ID)
	return nil
}
