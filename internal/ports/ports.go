package ports

import (
	"context"
	"time"

	"TrendWatcher/internal/domain"
)

// SearchProvider runs a web search; zero results is a valid answer.
type SearchProvider interface {
	Search(ctx context.Context, query string) ([]domain.SearchDocument, error)
}

// CompletionClient sends a prompt to a language model and returns its raw text.
type CompletionClient interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// SubscriptionRepository persists trend subscriptions keyed by (recipient, product, brand).
type SubscriptionRepository interface {
	// Insert stores the record only if its key is free, otherwise it returns
	// domain.ErrDuplicateSubscription.
	Insert(ctx context.Context, sub domain.Subscription) (domain.Subscription, error)
	// Get returns domain.ErrNotFound when no record holds key.
	Get(ctx context.Context, key domain.SubscriptionKey) (domain.Subscription, error)
	List(ctx context.Context) ([]domain.Subscription, error)
	UpdateBody(ctx context.Context, key domain.SubscriptionKey, body string, at time.Time) error
	Delete(ctx context.Context, key domain.SubscriptionKey) error
}

// RunRepository keeps one completion record per processed subscription.
type RunRepository interface {
	SaveRun(ctx context.Context, run domain.RunRecord) error
	GetRun(ctx context.Context, id string) (domain.RunRecord, error)
	ListRuns(ctx context.Context, limit int) ([]domain.RunRecord, error)
}

// Email is a fully rendered message for a single recipient.
type Email struct {
	To        string
	ToName    string
	Subject   string
	PlainText string
	HTML      string
}

// Mailer transmits rendered digests.
type Mailer interface {
	Send(ctx context.Context, email Email) error
}

// Locker guards a subscription against concurrent processing.
type Locker interface {
	// Acquire returns ok=false when the key is already held.
	Acquire(ctx context.Context, key string, ttl time.Duration) (release func(), ok bool, err error)
}

// Scheduler controls when bulk refreshes execute.
type Scheduler interface {
	Start(ctx context.Context, job func(time.Time)) error
	Stop(ctx context.Context) error
}
