package audit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/odyssey-erp/sentinel/internal/shared"
)

// ErrAuditWriteFailed reports that a synchronous event could not be persisted.
var ErrAuditWriteFailed = errors.New("audit write failed")

// Store persists events.
type Store interface {
	Insert(ctx context.Context, event Event) error
	InsertBatch(ctx context.Context, events []Event) error
}

// GapReporter records events whose persistence failed after a mutation
// already happened.
type GapReporter interface {
	ReportGap(ctx context.Context, event Event, cause error) error
}

// Observer receives audit delivery outcomes.
type Observer interface {
	AuditWrite(mode, outcome string)
}

// MaxRetryAttempts bounds persistence attempts per write.
const MaxRetryAttempts = 3

// Config tunes delivery and dedup.
type Config struct {
	BatchSize       int
	FlushInterval   time.Duration
	DedupWindow     time.Duration
	DedupCapacity   int
	Retry           shared.RetryPolicy
	ShutdownTimeout time.Duration
}

// DefaultConfig returns production delivery settings.
func DefaultConfig() Config {
	return Config{
		BatchSize:       10,
		FlushInterval:   5 * time.Second,
		DedupWindow:     60 * time.Second,
		DedupCapacity:   10000,
		Retry:           shared.DefaultRetryPolicy,
		ShutdownTimeout: 5 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.BatchSize <= 0 {
		c.BatchSize = def.BatchSize
	}
	if c.FlushInterval <= 0 {
		c.FlushInterval = def.FlushInterval
	}
	if c.DedupWindow <= 0 {
		c.DedupWindow = def.DedupWindow
	}
	if c.DedupCapacity <= 0 {
		c.DedupCapacity = def.DedupCapacity
	}
	if c.Retry.Attempts <= 0 {
		c.Retry = def.Retry
	}
	if c.Retry.Attempts > MaxRetryAttempts {
		c.Retry.Attempts = MaxRetryAttempts
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = def.ShutdownTimeout
	}
	return c
}

// Option customises a Logger.
type Option func(*Logger)

// WithGapReporter routes failed post-mutation writes to r.
func WithGapReporter(r GapReporter) Option {
	return func(l *Logger) { l.gaps = r }
}

// WithObserver attaches delivery metrics.
func WithObserver(o Observer) Option {
	return func(l *Logger) { l.observer = o }
}

// WithSleeper replaces the retry sleeper.
func WithSleeper(s shared.Sleeper) Option {
	return func(l *Logger) { l.sleep = s }
}

// WithClock replaces the event timestamp source.
func WithClock(now func() time.Time) Option {
	return func(l *Logger) { l.now = now }
}

// Logger records security events. Warning and higher severities are written
// before Log returns; info events are buffered and flushed in batches.
type Logger struct {
	store    Store
	cfg      Config
	logger   *slog.Logger
	gaps     GapReporter
	observer Observer
	sleep    shared.Sleeper
	now      func() time.Time

	dedupMu sync.Mutex
	seen    *expirable.LRU[string, struct{}]

	mu      sync.Mutex
	buffer  []Event
	closed  bool
	flushCh chan struct{}
	stop    chan struct{}
	done    chan struct{}
	once    sync.Once
}

// NewLogger starts a logger and its background flusher.
func NewLogger(store Store, cfg Config, logger *slog.Logger, opts ...Option) *Logger {
	if logger == nil {
		logger = slog.Default()
	}
	cfg = cfg.withDefaults()
	l := &Logger{
		store:   store,
		cfg:     cfg,
		logger:  logger,
		sleep:   shared.SleepContext,
		now:     time.Now,
		seen:    expirable.NewLRU[string, struct{}](cfg.DedupCapacity, nil, cfg.DedupWindow),
		flushCh: make(chan struct{}, 1),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(l)
	}
	go l.run()
	return l
}

// Log records event. A duplicate inside the dedup window is skipped unless
// the event is mandatory.
func (l *Logger) Log(ctx context.Context, event Event) (Result, error) {
	if err := l.prepare(&event); err != nil {
		return Result{}, err
	}
	key := event.DedupKey()
	if !l.remember(key) && !event.Mandatory {
		l.observe("dedup", "skipped")
		return Result{Skipped: true}, nil
	}

	if event.Severity.AtLeast(SeverityWarning) || l.isClosed() {
		if err := l.writeSync(ctx, event); err != nil {
			l.forget(key)
			return Result{}, err
		}
		return Result{Event: &event}, nil
	}

	l.enqueue(event)
	return Result{Queued: true, Event: &event}, nil
}

// ReportGap hands a failed post-mutation event to the gap reporter.
func (l *Logger) ReportGap(ctx context.Context, event Event, cause error) {
	l.logger.Error("audit gap", slog.String("event_type", string(event.Type)), slog.String("identity_id", event.IdentityID), slog.Any("error", cause))
	l.observe("gap", "reported")
	if l.gaps == nil {
		return
	}
	if err := l.gaps.ReportGap(ctx, event, cause); err != nil {
		l.logger.Error("audit gap enqueue failed", slog.String("event_id", event.ID), slog.Any("error", err))
	}
}

// Flush writes any buffered events now.
func (l *Logger) Flush(ctx context.Context) error {
	return l.flush(ctx)
}

// Pending returns the number of buffered events.
func (l *Logger) Pending() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buffer)
}

// Close stops the flusher and drains the buffer within the shutdown timeout.
// The drain gets the full timeout even when ctx is already done.
func (l *Logger) Close(ctx context.Context) error {
	l.once.Do(func() {
		l.mu.Lock()
		l.closed = true
		l.mu.Unlock()
		close(l.stop)
	})
	<-l.done
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), l.cfg.ShutdownTimeout)
	defer cancel()
	return l.flush(ctx)
}

func (l *Logger) prepare(event *Event) error {
	event.Type = EventType(strings.TrimSpace(string(event.Type)))
	if event.Type == "" {
		return shared.Validation("event_type is required")
	}
	if !event.Type.Valid() {
		return shared.Validation("event_type %q is not recognised", event.Type)
	}
	if !event.Severity.Valid() {
		return shared.Validation("severity %q is not recognised", event.Severity)
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = l.now().UTC()
	}
	if event.Email != "" {
		event.Email = shared.NormalizeEmail(event.Email)
	}
	return nil
}

// remember reports whether key was absent and records it.
func (l *Logger) remember(key string) bool {
	l.dedupMu.Lock()
	defer l.dedupMu.Unlock()
	if _, ok := l.seen.Get(key); ok {
		return false
	}
	l.seen.Add(key, struct{}{})
	return true
}

func (l *Logger) forget(key string) {
	l.dedupMu.Lock()
	defer l.dedupMu.Unlock()
	l.seen.Remove(key)
}

func (l *Logger) writeSync(ctx context.Context, event Event) error {
	err := shared.Retry(ctx, l.cfg.Retry, l.sleep, func(ctx context.Context) error {
		return l.store.Insert(ctx, event)
	})
	if err != nil {
		l.observe("sync", "failed")
		l.logger.Error("audit write failed",
			slog.String("event_id", event.ID),
			slog.String("event_type", string(event.Type)),
			slog.String("severity", string(event.Severity)),
			slog.Any("error", err),
		)
		return shared.Server("audit.write", fmt.Errorf("%w: %w", ErrAuditWriteFailed, err))
	}
	l.observe("sync", "written")
	return nil
}

func (l *Logger) enqueue(event Event) {
	l.mu.Lock()
	l.buffer = append(l.buffer, event)
	full := len(l.buffer) >= l.cfg.BatchSize
	l.mu.Unlock()
	l.observe("batch", "queued")
	if full {
		select {
		case l.flushCh <- struct{}{}:
		default:
		}
	}
}

func (l *Logger) isClosed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closed
}

func (l *Logger) run() {
	defer close(l.done)
	ticker := time.NewTicker(l.cfg.FlushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-l.stop:
			return
		case <-ticker.C:
		case <-l.flushCh:
		}
		if err := l.flush(context.Background()); err != nil {
			l.logger.Warn("audit batch flush failed", slog.Any("error", err))
		}
	}
}

func (l *Logger) flush(ctx context.Context) error {
	l.mu.Lock()
	if len(l.buffer) == 0 {
		l.mu.Unlock()
		return nil
	}
	batch := l.buffer
	l.buffer = nil
	l.mu.Unlock()

	err := shared.Retry(ctx, l.cfg.Retry, l.sleep, func(ctx context.Context) error {
		return l.store.InsertBatch(ctx, batch)
	})
	if err != nil {
		l.observe("batch", "failed")
		for _, ev := range batch {
			l.forget(ev.DedupKey())
		}
		if l.gaps == nil {
			l.logger.Error("audit batch dropped", slog.Int("events", len(batch)), slog.Any("error", err))
			return err
		}
		l.logger.Error("audit batch handed to gap reporter", slog.Int("events", len(batch)), slog.Any("error", err))
		for _, ev := range batch {
			if gapErr := l.gaps.ReportGap(ctx, ev, err); gapErr != nil {
				l.logger.Error("audit gap enqueue failed", slog.String("event_id", ev.ID), slog.Any("error", gapErr))
			}
		}
		return err
	}
	l.observe("batch", "written")
	return nil
}

func (l *Logger) observe(mode, outcome string) {
	if l.observer != nil {
		l.observer.AuditWrite(mode, outcome)
	}
}
