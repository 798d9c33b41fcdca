package usecase

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"TrendWatcher/internal/domain"
	"TrendWatcher/internal/formatter"
	"TrendWatcher/internal/infrastructure/lock"
	"TrendWatcher/internal/ports"
	"TrendWatcher/internal/workers"
)

type memoryStore struct {
	mu   sync.Mutex
	subs []domain.Subscription
	runs []domain.RunRecord
}

func (m *memoryStore) Insert(_ context.Context, sub domain.Subscription) (domain.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.subs {
		if s.Key() == sub.Key() {
			return domain.Subscription{}, domain.ErrDuplicateSubscription
		}
	}
	m.subs = append(m.subs, sub)
	return sub, nil
}

func (m *memoryStore) Get(_ context.Context, key domain.SubscriptionKey) (domain.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.subs {
		if s.Key() == key {
			return s, nil
		}
	}
	return domain.Subscription{}, domain.ErrNotFound
}

func (m *memoryStore) List(context.Context) ([]domain.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.Subscription(nil), m.subs...), nil
}

func (m *memoryStore) UpdateBody(_ context.Context, key domain.SubscriptionKey, body string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.subs {
		if m.subs[i].Key() == key {
			m.subs[i].Body = body
			m.subs[i].UpdatedAt = at
			return nil
		}
	}
	return domain.ErrNotFound
}

func (m *memoryStore) Delete(_ context.Context, key domain.SubscriptionKey) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.subs {
		if m.subs[i].Key() == key {
			m.subs = append(m.subs[:i], m.subs[i+1:]...)
			return nil
		}
	}
	return nil
}

func (m *memoryStore) SaveRun(_ context.Context, run domain.RunRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs = append(m.runs, run)
	return nil
}

func (m *memoryStore) GetRun(context.Context, string) (domain.RunRecord, error) {
	return domain.RunRecord{}, domain.ErrNotFound
}

func (m *memoryStore) ListRuns(context.Context, int) ([]domain.RunRecord, error) {
	return nil, nil
}

type queueStub struct {
	tasks []workers.Task
	err   error
}

func (q *queueStub) Enqueue(task workers.Task) error {
	if q.err != nil {
		return q.err
	}
	q.tasks = append(q.tasks, task)
	return nil
}

func (q *queueStub) drain(t *testing.T) []error {
	t.Helper()
	var errs []error
	for len(q.tasks) > 0 {
		task := q.tasks[0]
		q.tasks = q.tasks[1:]
		errs = append(errs, task.Execute(context.Background()))
	}
	return errs
}

type runnerStub struct {
	failFor map[string]bool
	calls   []domain.TrendQuery
}

func (r *runnerStub) Run(_ context.Context, q domain.TrendQuery) (domain.SummarySet, error) {
	r.calls = append(r.calls, q)
	if r.failFor[q.Brand] {
		return domain.SummarySet{}, errors.New("completion timeout")
	}
	return domain.SummarySet{Summaries: []domain.TrendSummaryItem{
		{Heading: "Adidas", Summary: "TikTok push", Engagement: "1M"},
		{Heading: "Puma", Summary: "Drops", Engagement: domain.NotSpecified},
	}}, nil
}

type mailerStub struct {
	sent []ports.Email
	err  error
}

func (m *mailerStub) Send(_ context.Context, email ports.Email) error {
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, email)
	return nil
}

type brokenLocker struct{}

func (brokenLocker) Acquire(context.Context, string, time.Duration) (func(), bool, error) {
	return nil, false, errors.New("redis: connection refused")
}

type fixture struct {
	svc    *Service
	store  *memoryStore
	queue  *queueStub
	runner *runnerStub
	mailer *mailerStub
}

func newFixture() *fixture {
	f := &fixture{
		store:  &memoryStore{},
		queue:  &queueStub{},
		runner: &runnerStub{failFor: map[string]bool{}},
		mailer: &mailerStub{},
	}
	f.svc = NewService(ServiceDeps{
		Pipeline:      f.runner,
		Formatter:     formatter.New("Trend Insights Team"),
		Mailer:        f.mailer,
		Subscriptions: f.store,
		Runs:          f.store,
		Locker:        lock.NewMemoryLocker(),
		Queue:         f.queue,
		Logger:        testLogger(),
		Now:           func() time.Time { return time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC) },
	})
	return f
}

func validRequest() CreateRequest {
	return CreateRequest{Brand: "Nike", Product: "running shoes", EmailID: "jane@example.com", Name: "jane doe"}
}

func TestCreateValidatesInOrder(t *testing.T) {
	t.Parallel()

	f := newFixture()
	err := f.svc.Create(context.Background(), CreateRequest{Product: "shoes", Name: " "})

	var verr *domain.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if verr.Error() != "Missing required field(s): brand, email_id, name" {
		t.Fatalf("unexpected message %q", verr.Error())
	}
	if len(f.queue.tasks) != 0 || len(f.store.subs) != 0 {
		t.Fatal("validation failure must not claim or schedule")
	}
}

func TestCreateRunsPipelineAndPersists(t *testing.T) {
	t.Parallel()

	f := newFixture()
	if err := f.svc.Create(context.Background(), validRequest()); err != nil {
		t.Fatalf("create: %v", err)
	}
	if len(f.queue.tasks) != 1 {
		t.Fatalf("expected one queued task, got %d", len(f.queue.tasks))
	}
	if f.store.subs[0].Body != "" {
		t.Fatal("claim must start with an empty body")
	}

	for _, err := range f.queue.drain(t) {
		if err != nil {
			t.Fatalf("task: %v", err)
		}
	}

	if len(f.mailer.sent) != 1 {
		t.Fatalf("expected one email, got %d", len(f.mailer.sent))
	}
	email := f.mailer.sent[0]
	if email.To != "jane@example.com" || email.Subject != "Nike - Trend Summary" || email.ToName != "jane doe" {
		t.Fatalf("unexpected email %+v", email)
	}
	sub := f.store.subs[0]
	if sub.Body != email.PlainText || sub.Body == "" {
		t.Fatalf("body not persisted: %q", sub.Body)
	}
	if sub.Metadata == nil {
		t.Fatal("metadata must default to an empty object")
	}
	if len(f.store.runs) != 1 || f.store.runs[0].Status != domain.RunSucceeded || f.store.runs[0].Items != 2 {
		t.Fatalf("unexpected runs %+v", f.store.runs)
	}
	if f.store.runs[0].Kind != domain.RunKindCreate {
		t.Fatalf("unexpected kind %s", f.store.runs[0].Kind)
	}
}

func TestCreateDuplicateSchedulesNothing(t *testing.T) {
	t.Parallel()

	f := newFixture()
	if err := f.svc.Create(context.Background(), validRequest()); err != nil {
		t.Fatalf("first create: %v", err)
	}
	f.queue.drain(t)

	err := f.svc.Create(context.Background(), validRequest())
	if !errors.Is(err, domain.ErrDuplicateSubscription) {
		t.Fatalf("expected duplicate, got %v", err)
	}
	if err.Error() != "Trend filters already exists" {
		t.Fatalf("unexpected message %q", err.Error())
	}
	if len(f.queue.tasks) != 0 {
		t.Fatal("duplicate must not schedule work")
	}
}

func TestCreateReleasesClaimWhenQueueFull(t *testing.T) {
	t.Parallel()

	f := newFixture()
	f.queue.err = workers.ErrQueueFull

	if err := f.svc.Create(context.Background(), validRequest()); !errors.Is(err, workers.ErrQueueFull) {
		t.Fatalf("expected queue full, got %v", err)
	}
	if len(f.store.subs) != 0 {
		t.Fatal("claim must be released")
	}
}

func TestCreateFailureBeforeSendReleasesClaim(t *testing.T) {
	t.Parallel()

	f := newFixture()
	f.runner.failFor["Nike"] = true
	if err := f.svc.Create(context.Background(), validRequest()); err != nil {
		t.Fatalf("create: %v", err)
	}

	errs := f.queue.drain(t)
	var runErr *RunError
	if len(errs) != 1 || !errors.As(errs[0], &runErr) {
		t.Fatalf("expected run error, got %v", errs)
	}
	if len(f.store.subs) != 0 {
		t.Fatal("failed create must free the key for a retry")
	}
	if f.store.runs[0].Status != domain.RunFailed || f.store.runs[0].Reason == "" {
		t.Fatalf("unexpected run %+v", f.store.runs[0])
	}
}

func TestRefreshIsolatesFailuresAndSkipsIncomplete(t *testing.T) {
	t.Parallel()

	f := newFixture()
	ctx := context.Background()
	base := domain.Subscription{Product: "shoes", Recipient: "a@example.com", Name: "a", Body: "old"}
	for _, brand := range []string{"Nike", "Reebok", ""} {
		sub := base
		sub.ID = brand + "-id"
		sub.Brand = brand
		if _, err := f.store.Insert(ctx, sub); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}
	f.runner.failFor["Nike"] = true

	if err := f.svc.RefreshAll(ctx); err != nil {
		t.Fatalf("refresh all: %v", err)
	}
	if len(f.queue.tasks) != 1 {
		t.Fatalf("bulk refresh must be one job, got %d", len(f.queue.tasks))
	}
	f.queue.drain(t)

	if len(f.runner.calls) != 2 {
		t.Fatalf("expected pipeline for 2 complete records, got %d", len(f.runner.calls))
	}
	if len(f.mailer.sent) != 1 || f.mailer.sent[0].Subject != "Reebok - Trend Summary" {
		t.Fatalf("second record must still be delivered: %+v", f.mailer.sent)
	}

	statuses := map[string]domain.RunStatus{}
	for _, run := range f.store.runs {
		statuses[run.Brand] = run.Status
		if run.Kind != domain.RunKindRefresh {
			t.Fatalf("unexpected kind %s", run.Kind)
		}
	}
	want := map[string]domain.RunStatus{"Nike": domain.RunFailed, "Reebok": domain.RunSucceeded, "": domain.RunSkipped}
	for brand, status := range want {
		if statuses[brand] != status {
			t.Fatalf("brand %q: status %s, want %s", brand, statuses[brand], status)
		}
	}

	subs, _ := f.store.List(ctx)
	for _, sub := range subs {
		if sub.Brand == "Nike" && sub.Body != "old" {
			t.Fatal("refresh failure must keep the record untouched")
		}
		if sub.Brand == "Reebok" && sub.Body == "old" {
			t.Fatal("refresh success must update the body")
		}
	}
	if len(subs) != 3 {
		t.Fatal("refresh failures must never delete records")
	}
}

func TestProcessSkipsLockedSubscription(t *testing.T) {
	t.Parallel()

	f := newFixture()
	sub := domain.Subscription{ID: "x", Brand: "Nike", Product: "shoes", Recipient: "a@example.com"}
	locker := lock.NewMemoryLocker()
	f.svc.locker = locker

	release, ok, _ := locker.Acquire(context.Background(), sub.Key().String(), time.Minute)
	if !ok {
		t.Fatal("setup acquire failed")
	}
	defer release()

	run := f.svc.process(context.Background(), domain.RunKindRefresh, sub)
	if run.Status != domain.RunSkipped {
		t.Fatalf("expected skipped, got %s", run.Status)
	}
	if len(f.runner.calls) != 0 {
		t.Fatal("locked subscription must not run the pipeline")
	}
}

func TestRefreshOnceMailFailureCounts(t *testing.T) {
	t.Parallel()

	f := newFixture()
	f.mailer.err = errors.New("smtp auth failed")
	_, _ = f.store.Insert(context.Background(), domain.Subscription{ID: "1", Brand: "Nike", Product: "shoes", Recipient: "a@example.com"})

	report, err := f.svc.RefreshOnce(context.Background())
	if err != nil {
		t.Fatalf("refresh once: %v", err)
	}
	if report.Total != 1 || report.Failed != 1 || report.Succeeded != 0 {
		t.Fatalf("unexpected report %+v", report)
	}
}

func TestCreateQueuedBehindRefreshSendsOnce(t *testing.T) {
	t.Parallel()

	f := newFixture()
	ctx := context.Background()
	if err := f.svc.Create(ctx, validRequest()); err != nil {
		t.Fatalf("create: %v", err)
	}

	report, err := f.svc.RefreshOnce(ctx)
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if report.Succeeded != 1 {
		t.Fatalf("unexpected report %+v", report)
	}

	if errs := f.queue.drain(t); len(errs) != 1 || errs[0] != nil {
		t.Fatalf("create job: %v", errs)
	}
	if len(f.mailer.sent) != 1 {
		t.Fatalf("subscriber must get one email, got %d", len(f.mailer.sent))
	}
	last := f.store.runs[len(f.store.runs)-1]
	if last.Kind != domain.RunKindCreate || last.Status != domain.RunSkipped || last.Reason != "already delivered" {
		t.Fatalf("unexpected create run %+v", last)
	}
}

func TestCreateLockErrorReleasesClaim(t *testing.T) {
	t.Parallel()

	f := newFixture()
	f.svc.locker = brokenLocker{}
	if err := f.svc.Create(context.Background(), validRequest()); err != nil {
		t.Fatalf("create: %v", err)
	}

	errs := f.queue.drain(t)
	var runErr *RunError
	if len(errs) != 1 || !errors.As(errs[0], &runErr) {
		t.Fatalf("expected run error, got %v", errs)
	}
	if len(f.store.subs) != 0 {
		t.Fatal("lock failure must free the key for a retry")
	}
	if err := f.svc.Create(context.Background(), validRequest()); err != nil {
		t.Fatalf("retry must not be a duplicate: %v", err)
	}
}
