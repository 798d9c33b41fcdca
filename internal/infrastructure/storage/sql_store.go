package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"TrendWatcher/internal/domain"
	"TrendWatcher/internal/ports"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverMongo    = "mongo"

	// timeLayout has a fixed width so stored timestamps sort lexically.
	timeLayout      = "2006-01-02T15:04:05.000000000Z07:00"
	naiveTimeLayout = "2006-01-02T15:04:05.999999999"
)

var subscriptionColumns = []string{
	"id", "brand", "product", "recipient", "name", "subject", "body", "metadata", "created_at", "updated_at",
}

var runColumns = []string{
	"id", "kind", "brand", "product", "recipient", "status", "reason", "items", "started_at", "finished_at",
}

// SQLStore persists subscriptions and runs in sqlite or postgres.
type SQLStore struct {
	db *sql.DB
	sb sq.StatementBuilderType
}

var (
	_ ports.SubscriptionRepository = (*SQLStore)(nil)
	_ ports.RunRepository          = (*SQLStore)(nil)
)

// OpenSQL connects, verifies and migrates the database.
func OpenSQL(ctx context.Context, driver, dsn string) (*SQLStore, error) {
	if dsn == "" {
		return nil, fmt.Errorf("open %s: empty dsn", driver)
	}

	var placeholder sq.PlaceholderFormat
	switch driver {
	case DriverSQLite:
		placeholder = sq.Question
	case DriverPostgres:
		placeholder = sq.Dollar
	default:
		return nil, fmt.Errorf("unsupported sql driver %q", driver)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping %s: %w", driver, err)
	}

	if _, err := RunMigrations(db, driver); err != nil {
		_ = db.Close()
		return nil, err
	}

	return NewSQLStore(db, placeholder), nil
}

// NewSQLStore wraps an already migrated database.
func NewSQLStore(db *sql.DB, placeholder sq.PlaceholderFormat) *SQLStore {
	return &SQLStore{db: db, sb: sq.StatementBuilder.PlaceholderFormat(placeholder)}
}

// Close releases the connection pool.
func (s *SQLStore) Close(context.Context) error {
	return s.db.Close()
}

// Insert claims the subscription key; a taken key yields domain.ErrDuplicateSubscription.
func (s *SQLStore) Insert(ctx context.Context, sub domain.Subscription) (domain.Subscription, error) {
	metadata, err := encodeMetadata(sub.Metadata)
	if err != nil {
		return domain.Subscription{}, err
	}

	query, args, err := s.sb.Insert("subscriptions").
		Columns(subscriptionColumns...).
		Values(sub.ID, sub.Brand, sub.Product, sub.Recipient, sub.Name, sub.Subject, sub.Body, metadata,
			formatTime(sub.CreatedAt), formatTime(sub.UpdatedAt)).
		Suffix("ON CONFLICT (recipient, product, brand) DO NOTHING").
		ToSql()
	if err != nil {
		return domain.Subscription{}, fmt.Errorf("build insert subscription: %w", err)
	}

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return domain.Subscription{}, fmt.Errorf("insert subscription: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return domain.Subscription{}, fmt.Errorf("insert subscription: %w", err)
	}
	if affected == 0 {
		return domain.Subscription{}, domain.ErrDuplicateSubscription
	}

	return sub, nil
}

// List returns every subscription, oldest first.
func (s *SQLStore) List(ctx context.Context) ([]domain.Subscription, error) {
	query, args, err := s.sb.Select(subscriptionColumns...).
		From("subscriptions").
		OrderBy("created_at ASC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list subscriptions: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query subscriptions: %w", err)
	}
	defer rows.Close()

	var subs []domain.Subscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, err
		}
		subs = append(subs, sub)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration: %w", err)
	}

	return subs, nil
}

// Get loads the subscription stored under key.
func (s *SQLStore) Get(ctx context.Context, key domain.SubscriptionKey) (domain.Subscription, error) {
	query, args, err := s.sb.Select(subscriptionColumns...).
		From("subscriptions").
		Where(keyFilter(key)).
		Limit(1).
		ToSql()
	if err != nil {
		return domain.Subscription{}, fmt.Errorf("build get subscription: %w", err)
	}

	sub, err := scanSubscription(s.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Subscription{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Subscription{}, fmt.Errorf("get subscription %s: %w", key, err)
	}
	return sub, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSubscription(row rowScanner) (domain.Subscription, error) {
	var (
		sub                  domain.Subscription
		metadata             string
		createdAt, updatedAt string
	)
	if err := row.Scan(&sub.ID, &sub.Brand, &sub.Product, &sub.Recipient, &sub.Name, &sub.Subject,
		&sub.Body, &metadata, &createdAt, &updatedAt); err != nil {
		return domain.Subscription{}, fmt.Errorf("scan subscription: %w", err)
	}
	var err error
	if sub.Metadata, err = decodeMetadata(metadata); err != nil {
		return domain.Subscription{}, err
	}
	sub.CreatedAt = parseTime(createdAt)
	sub.UpdatedAt = parseTime(updatedAt)
	return sub, nil
}

// UpdateBody replaces only the body and update timestamp.
func (s *SQLStore) UpdateBody(ctx context.Context, key domain.SubscriptionKey, body string, at time.Time) error {
	query, args, err := s.sb.Update("subscriptions").
		Set("body", body).
		Set("updated_at", formatTime(at)).
		Where(keyFilter(key)).
		ToSql()
	if err != nil {
		return fmt.Errorf("build update subscription: %w", err)
	}

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update subscription %s: %w", key, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("update subscription %s: %w", key, domain.ErrNotFound)
	}
	return nil
}

// Delete removes the subscription with key; missing keys are not an error.
func (s *SQLStore) Delete(ctx context.Context, key domain.SubscriptionKey) error {
	query, args, err := s.sb.Delete("subscriptions").Where(keyFilter(key)).ToSql()
	if err != nil {
		return fmt.Errorf("build delete subscription: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("delete subscription %s: %w", key, err)
	}
	return nil
}

// SaveRun stores a completed run record.
func (s *SQLStore) SaveRun(ctx context.Context, run domain.RunRecord) error {
	query, args, err := s.sb.Insert("runs").
		Columns(runColumns...).
		Values(run.ID, string(run.Kind), run.Brand, run.Product, run.Recipient, string(run.Status), run.Reason,
			run.Items, formatTime(run.StartedAt), formatTime(run.FinishedAt)).
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert run: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("insert run %s: %w", run.ID, err)
	}
	return nil
}

// GetRun loads a run by id or returns domain.ErrNotFound.
func (s *SQLStore) GetRun(ctx context.Context, id string) (domain.RunRecord, error) {
	query, args, err := s.sb.Select(runColumns...).From("runs").Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return domain.RunRecord{}, fmt.Errorf("build get run: %w", err)
	}

	run, err := scanRun(s.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.RunRecord{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.RunRecord{}, fmt.Errorf("get run %s: %w", id, err)
	}
	return run, nil
}

// ListRuns returns up to limit runs, newest first.
func (s *SQLStore) ListRuns(ctx context.Context, limit int) ([]domain.RunRecord, error) {
	builder := s.sb.Select(runColumns...).From("runs").OrderBy("started_at DESC", "id DESC")
	if limit > 0 {
		builder = builder.Limit(uint64(limit))
	}
	query, args, err := builder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list runs: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var runs []domain.RunRecord
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration: %w", err)
	}
	return runs, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (domain.RunRecord, error) {
	var (
		run                   domain.RunRecord
		kind, status          string
		startedAt, finishedAt string
	)
	if err := row.Scan(&run.ID, &kind, &run.Brand, &run.Product, &run.Recipient, &status, &run.Reason,
		&run.Items, &startedAt, &finishedAt); err != nil {
		return domain.RunRecord{}, err
	}
	run.Kind = domain.RunKind(kind)
	run.Status = domain.RunStatus(status)
	run.StartedAt = parseTime(startedAt)
	run.FinishedAt = parseTime(finishedAt)
	return run, nil
}

func keyFilter(key domain.SubscriptionKey) sq.Eq {
	return sq.Eq{"recipient": key.Recipient, "product": key.Product, "brand": key.Brand}
}

func encodeMetadata(metadata map[string]any) (string, error) {
	if metadata == nil {
		return "{}", nil
	}
	raw, err := json.Marshal(metadata)
	if err != nil {
		return "", fmt.Errorf("encode metadata: %w", err)
	}
	return string(raw), nil
}

func decodeMetadata(raw string) (map[string]any, error) {
	metadata := map[string]any{}
	if raw == "" {
		return metadata, nil
	}
	if err := json.Unmarshal([]byte(raw), &metadata); err != nil {
		return nil, fmt.Errorf("decode metadata: %w", err)
	}
	return metadata, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

// parseTime also accepts naive ISO timestamps, read as UTC.
func parseTime(value string) time.Time {
	for _, layout := range []string{time.RFC3339Nano, naiveTimeLayout} {
		if t, err := time.Parse(layout, value); err == nil {
			return t
		}
	}
	return time.Time{}
}
