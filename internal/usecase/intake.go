package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"TrendWatcher/internal/domain"
	"TrendWatcher/internal/formatter"
	"TrendWatcher/internal/ports"
	"TrendWatcher/internal/workers"
)

const defaultLockTTL = 30 * time.Minute

// TrendRunner produces the refined summary set for a query.
type TrendRunner interface {
	Run(ctx context.Context, query domain.TrendQuery) (domain.SummarySet, error)
}

// DigestRenderer turns summaries into email bodies.
type DigestRenderer interface {
	Render(name string, items []domain.TrendSummaryItem) (formatter.Digest, error)
}

// TaskQueue accepts background work without blocking.
type TaskQueue interface {
	Enqueue(task workers.Task) error
}

// ServiceDeps wires the intake service.
type ServiceDeps struct {
	Pipeline      TrendRunner
	Formatter     DigestRenderer
	Mailer        ports.Mailer
	Subscriptions ports.SubscriptionRepository
	Runs          ports.RunRepository
	Locker        ports.Locker
	Queue         TaskQueue
	LockTTL       time.Duration
	Logger        *slog.Logger
	Now           func() time.Time
}

// CreateRequest is a new trend subscription as submitted by a client.
type CreateRequest struct {
	Brand    string
	Product  string
	EmailID  string
	Name     string
	Subject  string
	Metadata map[string]any
}

// Validate reports missing required fields in brand, product, email_id, name order.
func (r CreateRequest) Validate() error {
	var missing []string
	for _, f := range []struct{ name, value string }{
		{"brand", r.Brand},
		{"product", r.Product},
		{"email_id", r.EmailID},
		{"name", r.Name},
	} {
		if strings.TrimSpace(f.value) == "" {
			missing = append(missing, f.name)
		}
	}
	if len(missing) > 0 {
		return &domain.ValidationError{Missing: missing}
	}
	return nil
}

// RefreshReport counts the outcomes of one bulk refresh.
type RefreshReport struct {
	Total     int
	Succeeded int
	Failed    int
	Skipped   int
}

// Service accepts subscriptions and refresh requests and runs them in the background.
type Service struct {
	pipeline TrendRunner
	render   DigestRenderer
	mailer   ports.Mailer
	subs     ports.SubscriptionRepository
	runs     ports.RunRepository
	locker   ports.Locker
	queue    TaskQueue
	lockTTL  time.Duration
	logger   *slog.Logger
	now      func() time.Time
}

// NewService constructs the intake service.
func NewService(deps ServiceDeps) *Service {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	ttl := deps.LockTTL
	if ttl <= 0 {
		ttl = defaultLockTTL
	}
	return &Service{
		pipeline: deps.Pipeline,
		render:   deps.Formatter,
		mailer:   deps.Mailer,
		subs:     deps.Subscriptions,
		runs:     deps.Runs,
		locker:   deps.Locker,
		queue:    deps.Queue,
		lockTTL:  ttl,
		logger:   logger.With("component", "intake"),
		now:      func() time.Time { return now().UTC() },
	}
}

// Create validates and claims the subscription, then schedules the first digest.
// Duplicates return domain.ErrDuplicateSubscription and schedule nothing.
func (s *Service) Create(ctx context.Context, req CreateRequest) error {
	if err := req.Validate(); err != nil {
		return err
	}

	subject := strings.TrimSpace(req.Subject)
	if subject == "" {
		subject = defaultSubject(req.Brand)
	}
	metadata := req.Metadata
	if metadata == nil {
		metadata = map[string]any{}
	}

	now := s.now()
	sub, err := s.subs.Insert(ctx, domain.Subscription{
		ID:        uuid.NewString(),
		Brand:     strings.TrimSpace(req.Brand),
		Product:   strings.TrimSpace(req.Product),
		Recipient: strings.TrimSpace(req.EmailID),
		Name:      strings.TrimSpace(req.Name),
		Subject:   subject,
		Metadata:  metadata,
		CreatedAt: now,
		UpdatedAt: now,
	})
	if err != nil {
		if errors.Is(err, domain.ErrDuplicateSubscription) {
			return domain.ErrDuplicateSubscription
		}
		return fmt.Errorf("claim subscription: %w", err)
	}

	if err := s.queue.Enqueue(newCreateTask(s, sub)); err != nil {
		s.releaseClaim(ctx, sub.Key())
		return err
	}

	s.logger.Info("subscription accepted", "brand", sub.Brand, "product", sub.Product, "recipient", sub.Recipient)
	return nil
}

// RefreshAll schedules one background job that refreshes every subscription.
func (s *Service) RefreshAll(ctx context.Context) error {
	if err := s.queue.Enqueue(newRefreshTask(s)); err != nil {
		return err
	}
	s.logger.Info("bulk refresh scheduled")
	return nil
}

// RefreshOnce refreshes every subscription sequentially. A failing record does
// not stop the batch; only a failure to list subscriptions is returned.
func (s *Service) RefreshOnce(ctx context.Context) (RefreshReport, error) {
	subs, err := s.subs.List(ctx)
	if err != nil {
		return RefreshReport{}, fmt.Errorf("list subscriptions: %w", err)
	}

	report := RefreshReport{Total: len(subs)}
	for _, sub := range subs {
		if ctx.Err() != nil {
			return report, ctx.Err()
		}

		var run domain.RunRecord
		if missing := missingRefreshFields(sub); missing != "" {
			s.logger.Warn("skipping incomplete subscription", "id", sub.ID, "missing", missing)
			run = s.finish(ctx, s.startRun(domain.RunKindRefresh, sub), domain.RunSkipped, "missing "+missing, 0)
		} else {
			run = s.process(ctx, domain.RunKindRefresh, sub)
		}

		switch run.Status {
		case domain.RunSucceeded:
			report.Succeeded++
		case domain.RunFailed:
			report.Failed++
		case domain.RunSkipped:
			report.Skipped++
		}
	}

	s.logger.Info("bulk refresh finished",
		"total", report.Total,
		"succeeded", report.Succeeded,
		"failed", report.Failed,
		"skipped", report.Skipped)
	return report, nil
}

// process runs pipeline, formatter, mailer and persistence for one subscription
// and records the outcome.
func (s *Service) process(ctx context.Context, kind domain.RunKind, sub domain.Subscription) domain.RunRecord {
	run := s.startRun(kind, sub)
	key := sub.Key()

	if s.locker != nil {
		release, ok, err := s.locker.Acquire(ctx, key.String(), s.lockTTL)
		if err != nil {
			if kind == domain.RunKindCreate {
				s.releaseClaim(ctx, key)
			}
			return s.finish(ctx, run, domain.RunFailed, fmt.Sprintf("acquire lock: %v", err), 0)
		}
		if !ok {
			s.logger.Info("subscription already in progress", "key", key.String())
			return s.finish(ctx, run, domain.RunSkipped, "already in progress", 0)
		}
		defer release()
	}

	if kind == domain.RunKindCreate {
		// a bulk refresh may have picked up the claim while this job was queued
		current, err := s.subs.Get(ctx, key)
		switch {
		case errors.Is(err, domain.ErrNotFound):
			return s.finish(ctx, run, domain.RunSkipped, "subscription removed", 0)
		case err != nil:
			s.releaseClaim(ctx, key)
			return s.finish(ctx, run, domain.RunFailed, fmt.Sprintf("load subscription: %v", err), 0)
		case current.Body != "":
			return s.finish(ctx, run, domain.RunSkipped, "already delivered", 0)
		}
	}

	sent, items, err := s.deliver(ctx, sub)
	if err != nil {
		if kind == domain.RunKindCreate && !sent {
			s.releaseClaim(ctx, key)
		}
		return s.finish(ctx, run, domain.RunFailed, err.Error(), items)
	}
	return s.finish(ctx, run, domain.RunSucceeded, "", items)
}

// releaseClaim frees the key of a create that never reached the recipient.
func (s *Service) releaseClaim(ctx context.Context, key domain.SubscriptionKey) {
	delCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := s.subs.Delete(delCtx, key); err != nil {
		s.logger.Error("release subscription claim failed", "key", key.String(), "error", err)
	}
}

func (s *Service) deliver(ctx context.Context, sub domain.Subscription) (bool, int, error) {
	set, err := s.pipeline.Run(ctx, domain.NewTrendQuery(sub.Brand, sub.Product))
	if err != nil {
		return false, 0, fmt.Errorf("run pipeline: %w", err)
	}
	items := len(set.Summaries)

	digest, err := s.render.Render(sub.Name, set.Summaries)
	if err != nil {
		return false, items, fmt.Errorf("render digest: %w", err)
	}

	subject := sub.Subject
	if subject == "" {
		subject = defaultSubject(sub.Brand)
	}
	err = s.mailer.Send(ctx, ports.Email{
		To:        sub.Recipient,
		ToName:    sub.Name,
		Subject:   subject,
		PlainText: digest.PlainText,
		HTML:      digest.HTML,
	})
	if err != nil {
		return false, items, fmt.Errorf("send email: %w", err)
	}

	if err := s.subs.UpdateBody(ctx, sub.Key(), digest.PlainText, s.now()); err != nil {
		return true, items, fmt.Errorf("persist body: %w", err)
	}
	return true, items, nil
}

func (s *Service) startRun(kind domain.RunKind, sub domain.Subscription) domain.RunRecord {
	return domain.RunRecord{
		ID:        uuid.NewString(),
		Kind:      kind,
		Brand:     sub.Brand,
		Product:   sub.Product,
		Recipient: sub.Recipient,
		StartedAt: s.now(),
	}
}

func (s *Service) finish(ctx context.Context, run domain.RunRecord, status domain.RunStatus, reason string, items int) domain.RunRecord {
	run.Status = status
	run.Reason = reason
	run.Items = items
	run.FinishedAt = s.now()

	logger := s.logger.With("run_id", run.ID, "kind", string(run.Kind), "brand", run.Brand,
		"product", run.Product, "recipient", run.Recipient)
	switch status {
	case domain.RunFailed:
		logger.Error("run failed", "reason", reason)
	case domain.RunSkipped:
		logger.Info("run skipped", "reason", reason)
	default:
		logger.Info("run succeeded", "items", items, "duration", run.FinishedAt.Sub(run.StartedAt))
	}

	if s.runs != nil {
		// the job context may already be cancelled; the record should still land
		saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := s.runs.SaveRun(saveCtx, run); err != nil {
			logger.Error("save run record failed", "error", err)
		}
	}
	return run
}

func missingRefreshFields(sub domain.Subscription) string {
	var missing []string
	if strings.TrimSpace(sub.Brand) == "" {
		missing = append(missing, "brand")
	}
	if strings.TrimSpace(sub.Product) == "" {
		missing = append(missing, "product")
	}
	if strings.TrimSpace(sub.Recipient) == "" {
		missing = append(missing, "email_id")
	}
	return strings.Join(missing, ", ")
}

func defaultSubject(brand string) string {
	return strings.TrimSpace(brand) + " - Trend Summary"
}
