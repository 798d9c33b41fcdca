package domain

import (
	"fmt"
	"strings"
	"time"
)

// NotSpecified replaces blank engagement values after parsing.
const NotSpecified = "Not specified"

// TrendQuery is the immutable input of one pipeline run.
type TrendQuery struct {
	Brand   string
	Product string
	Text    string
}

// NewTrendQuery derives the free-text question for a brand/product pair.
func NewTrendQuery(brand, product string) TrendQuery {
	return TrendQuery{
		Brand:   brand,
		Product: product,
		Text:    fmt.Sprintf("What are %s's competitors doing in the %s space?", brand, product),
	}
}

// TrendSummaryItem is a single competitor paragraph produced by the model.
type TrendSummaryItem struct {
	Heading    string `json:"heading"`
	Summary    string `json:"summary"`
	Engagement string `json:"engagement"`
}

// SummarySet is the final envelope handed back to callers.
type SummarySet struct {
	Summaries []TrendSummaryItem `json:"summaries"`
}

// SearchDocument is one hit returned by a search provider.
type SearchDocument struct {
	Title   string
	URL     string
	Content string
	Score   float64
}

// SubscriptionKey identifies a subscription; at most one record exists per key.
type SubscriptionKey struct {
	Recipient string
	Product   string
	Brand     string
}

// String renders the key for logs and lock names.
func (k SubscriptionKey) String() string {
	return strings.Join([]string{k.Recipient, k.Product, k.Brand}, "|")
}

// Subscription is the persisted trend filter for one recipient.
type Subscription struct {
	ID        string
	Brand     string
	Product   string
	Recipient string
	Name      string
	Subject   string
	Body      string
	Metadata  map[string]any
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Key returns the uniqueness key of the subscription.
func (s Subscription) Key() SubscriptionKey {
	return SubscriptionKey{Recipient: s.Recipient, Product: s.Product, Brand: s.Brand}
}

// RunKind tells which trigger produced a run.
type RunKind string

const (
	RunKindCreate  RunKind = "create"
	RunKindRefresh RunKind = "refresh"
)

// RunStatus enumerates terminal outcomes of a run.
type RunStatus string

const (
	RunSucceeded RunStatus = "succeeded"
	RunFailed    RunStatus = "failed"
	RunSkipped   RunStatus = "skipped"
)

// RunRecord captures the outcome of processing one subscription so that
// background failures stay queryable.
type RunRecord struct {
	ID         string    `json:"id"`
	Kind       RunKind   `json:"kind"`
	Brand      string    `json:"brand"`
	Product    string    `json:"product"`
	Recipient  string    `json:"recipient"`
	Status     RunStatus `json:"status"`
	Reason     string    `json:"reason,omitempty"`
	Items      int       `json:"items"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}
