package propagation

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/inboxlane/maildns/internal/store"
)

// Session defaults per the provisioning contract.
const (
	DefaultCheckInterval = 30 * time.Second
	DefaultMaxDuration   = 48 * time.Hour

	// maxConcurrentChecks bounds record fan-out within one tick.
	maxConcurrentChecks = 5

	// etaCacheBuffer is always added to the estimate: even a fully
	// propagated answer needs resolver caches to turn over.
	etaCacheBuffer = 15 * time.Minute
)

// Scheduler owns the polling session lifecycle. It exposes a single-tick
// function and makes no assumption about what drives it: a timer, a queue
// worker, or cron all work.
type Scheduler struct {
	sessions   store.SessionStore
	records    store.DNSRecordStore
	domains    store.DomainStore
	checker    *Checker
	logger     *slog.Logger
	now        func() time.Time
	invalidate func(domainID string) // status-cache hook, may be nil
}

// SchedulerOption configures a Scheduler.
type SchedulerOption func(*Scheduler)

// WithSchedulerLogger attaches a logger.
func WithSchedulerLogger(logger *slog.Logger) SchedulerOption {
	return func(s *Scheduler) { s.logger = logger }
}

// WithClock overrides the time source, used by tests.
func WithClock(now func() time.Time) SchedulerOption {
	return func(s *Scheduler) { s.now = now }
}

// WithInvalidateHook registers a callback fired after any session or
// record write, so read-side caches can drop stale entries.
func WithInvalidateHook(hook func(domainID string)) SchedulerOption {
	return func(s *Scheduler) { s.invalidate = hook }
}

func NewScheduler(sessions store.SessionStore, recordStore store.DNSRecordStore, domains store.DomainStore, checker *Checker, opts ...SchedulerOption) *Scheduler {
	s := &Scheduler{
		sessions: sessions,
		records:  recordStore,
		domains:  domains,
		checker:  checker,
		logger:   slog.New(slog.DiscardHandler),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start begins watching a domain's records. If a polling session already
// exists for the domain it is returned unchanged, so Start is idempotent.
func (s *Scheduler) Start(ctx context.Context, domainID, userID string) (*store.PollingSession, error) {
	if existing, err := s.sessions.GetActiveSessionForDomain(ctx, domainID); err == nil {
		return existing, nil
	}

	active, err := s.records.ListActiveRecords(ctx, domainID)
	if err != nil {
		return nil, fmt.Errorf("listing records for %s: %w", domainID, err)
	}

	now := s.now()
	session := &store.PollingSession{
		DomainID:      domainID,
		UserID:        userID,
		Status:        store.SessionPolling,
		CheckInterval: DefaultCheckInterval,
		MaxDuration:   DefaultMaxDuration,
		StartedAt:     now,
		LastCheckedAt: now,
		TotalRecords:  len(active),
	}
	if err := s.sessions.CreateSession(ctx, session); err != nil {
		return nil, fmt.Errorf("creating session for %s: %w", domainID, err)
	}

	s.logger.Info("polling session started",
		"session", session.ID, "domain", domainID, "records", session.TotalRecords)
	s.fireInvalidate(domainID)
	return session, nil
}

// TickResult is what one polling pass observed.
type TickResult struct {
	Session  *store.PollingSession
	Checks   []*RecordCheck
	Coverage GlobalCoverage
}

// Tick runs one polling pass: probe every active record concurrently,
// persist per-record status, and advance the session state machine.
// Terminal sessions are returned unchanged, so concurrent or late ticks
// are harmless. A failed tick leaves the session exactly as it was.
func (s *Scheduler) Tick(ctx context.Context, sessionID string) (*TickResult, error) {
	session, err := s.sessions.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session.Status.Terminal() {
		return &TickResult{Session: session}, nil
	}

	now := s.now()
	if now.Sub(session.StartedAt) > session.MaxDuration {
		if err := s.sessions.CompleteSession(ctx, sessionID, store.SessionTimeout, now); err != nil {
			return nil, err
		}
		session.Status = store.SessionTimeout
		session.CompletedAt = &now
		s.logger.Warn("polling session timed out", "session", sessionID, "domain", session.DomainID)
		s.fireInvalidate(session.DomainID)
		return &TickResult{Session: session}, nil
	}

	domain, err := s.domains.GetDomain(ctx, session.DomainID)
	if err != nil {
		return nil, fmt.Errorf("loading domain %s: %w", session.DomainID, err)
	}
	active, err := s.records.ListActiveRecords(ctx, session.DomainID)
	if err != nil {
		return nil, fmt.Errorf("listing records for %s: %w", session.DomainID, err)
	}

	checks := s.checkAll(ctx, domain.Name, active)

	// Per-record persistence runs in parallel; each record's update is
	// independent of its siblings.
	g, gctx := errgroup.WithContext(ctx)
	for i, record := range active {
		check := checks[i]
		g.Go(func() error {
			return s.records.UpdatePropagation(gctx, record.ID, store.RecordUpdate{
				PropagationStatus:   statusFromServerCounts(check),
				PropagationCoverage: check.Percentage,
				LastCheckedAt:       now,
			})
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("persisting record updates: %w", err)
	}

	coverage := CalculateGlobalCoverage(checks)

	if coverage.TotalRecords > 0 && coverage.OverallPercentage == 100 {
		if err := s.sessions.CompleteSession(ctx, sessionID, store.SessionCompleted, now); err != nil {
			return nil, err
		}
		session.Status = store.SessionCompleted
		session.CompletedAt = &now
		s.logger.Info("polling session completed", "session", sessionID, "domain", session.DomainID)
	}

	eta := s.Estimate(session, averageTTL(active))
	var estimatedCompletion *time.Time
	if session.Status == store.SessionPolling && eta.TimeRemaining > 0 {
		completion := now.Add(eta.TimeRemaining)
		estimatedCompletion = &completion
	}

	update := store.SessionUpdate{
		LastCheckedAt:       now,
		PropagatedRecords:   coverage.FullyPropagated,
		OverallProgress:     coverage.OverallPercentage,
		EstimatedCompletion: estimatedCompletion,
		Metadata: map[string]string{
			"fully_propagated":     strconv.Itoa(coverage.FullyPropagated),
			"partially_propagated": strconv.Itoa(coverage.PartiallyPropagated),
			"not_propagated":       strconv.Itoa(coverage.NotPropagated),
		},
	}
	if err := s.sessions.UpdateSessionProgress(ctx, sessionID, update); err != nil {
		return nil, err
	}

	session.LastCheckedAt = now
	session.PropagatedRecords = coverage.FullyPropagated
	session.OverallProgress = coverage.OverallPercentage
	session.EstimatedCompletion = estimatedCompletion
	s.fireInvalidate(session.DomainID)

	return &TickResult{Session: session, Checks: checks, Coverage: coverage}, nil
}

// checkAll probes records concurrently, bounded by maxConcurrentChecks.
func (s *Scheduler) checkAll(ctx context.Context, domainName string, active []*store.DNSRecord) []*RecordCheck {
	checks := make([]*RecordCheck, len(active))
	sem := semaphore.NewWeighted(maxConcurrentChecks)

	g, gctx := errgroup.WithContext(ctx)
	for i, record := range active {
		g.Go(func() error {
			if err := sem.Acquire(gctx, 1); err != nil {
				checks[i] = failedCheck(record, s.now())
				return nil
			}
			defer sem.Release(1)
			checks[i] = s.checker.CheckRecord(gctx, domainName, record)
			return nil
		})
	}
	_ = g.Wait()
	return checks
}

// failedCheck stands in when a probe could not run at all; the record
// simply stays at its previous coverage level next persist.
func failedCheck(record *store.DNSRecord, at time.Time) *RecordCheck {
	return &RecordCheck{
		RecordID:  record.ID,
		Expected:  record.Value,
		CheckedAt: at,
	}
}

// Cancel transitions a session to cancelled. In-flight probes for the
// session finish but their results are discarded by the terminal-status
// guard on the next tick.
func (s *Scheduler) Cancel(ctx context.Context, sessionID string) error {
	session, err := s.sessions.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}
	if err := s.sessions.CompleteSession(ctx, sessionID, store.SessionCancelled, s.now()); err != nil {
		return err
	}
	s.logger.Info("polling session cancelled", "session", sessionID, "domain", session.DomainID)
	s.fireInvalidate(session.DomainID)
	return nil
}

// statusFromServerCounts derives the stored status from the pool view:
// every server correct means propagated, any server correct means
// propagating, none means pending.
func statusFromServerCounts(check *RecordCheck) store.PropagationStatus {
	switch {
	case check.TotalServers > 0 && check.PropagatedServers == check.TotalServers:
		return store.PropagationPropagated
	case check.PropagatedServers > 0:
		return store.PropagationPropagating
	default:
		return store.PropagationPending
	}
}

// Confidence grades an ETA.
type Confidence string

const (
	ConfidenceLow    Confidence = "low"
	ConfidenceMedium Confidence = "medium"
	ConfidenceHigh   Confidence = "high"
)

// ETA is the estimated time to full propagation.
type ETA struct {
	TimeRemaining time.Duration
	Confidence    Confidence
}

// Estimate projects time to completion. With less than five minutes of
// observation it falls back to a TTL-based guess; after that it
// extrapolates the observed propagation velocity. A fixed cache buffer is
// always added. Terminal sessions report zero.
func (s *Scheduler) Estimate(session *store.PollingSession, avgTTL time.Duration) ETA {
	if session.Status.Terminal() {
		return ETA{TimeRemaining: 0, Confidence: ConfidenceHigh}
	}

	elapsed := s.now().Sub(session.StartedAt)
	if elapsed < 5*time.Minute {
		if avgTTL <= 0 {
			avgTTL = time.Hour
		}
		return ETA{
			TimeRemaining: time.Duration(1.5*float64(avgTTL)) + etaCacheBuffer,
			Confidence:    ConfidenceLow,
		}
	}

	velocity := float64(session.OverallProgress) / elapsed.Minutes() // percent per minute
	confidence := ConfidenceMedium
	if elapsed > 15*time.Minute {
		confidence = ConfidenceHigh
	}
	if velocity <= 0 {
		// No movement yet; assume the slowest plausible path.
		if avgTTL <= 0 {
			avgTTL = time.Hour
		}
		return ETA{TimeRemaining: time.Duration(1.5*float64(avgTTL)) + etaCacheBuffer, Confidence: ConfidenceLow}
	}

	remaining := float64(100 - session.OverallProgress)
	minutes := remaining / velocity
	return ETA{
		TimeRemaining: time.Duration(math.Round(minutes))*time.Minute + etaCacheBuffer,
		Confidence:    confidence,
	}
}

func averageTTL(active []*store.DNSRecord) time.Duration {
	if len(active) == 0 {
		return 0
	}
	sum := 0
	for _, record := range active {
		ttl := record.TTL
		if ttl <= 0 {
			ttl = 3600
		}
		sum += ttl
	}
	return time.Duration(sum/len(active)) * time.Second
}

func (s *Scheduler) fireInvalidate(domainID string) {
	if s.invalidate != nil {
		s.invalidate(domainID)
	}
}
