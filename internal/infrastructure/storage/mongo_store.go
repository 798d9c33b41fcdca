package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"TrendWatcher/internal/domain"
	"TrendWatcher/internal/ports"
)

const (
	DefaultSubscriptionsCollection = "trend_filters"
	runsCollection                 = "trend_runs"
)

// MongoStore keeps subscriptions and runs as documents. Subscription field
// names follow the documents written by the earlier Python service, whose
// records carry ObjectID identifiers and naive ISO timestamps.
type MongoStore struct {
	client *mongo.Client
	subs   *mongo.Collection
	runs   *mongo.Collection
}

var (
	_ ports.SubscriptionRepository = (*MongoStore)(nil)
	_ ports.RunRepository          = (*MongoStore)(nil)
)

type subscriptionDoc struct {
	// ID is a string for records written here and an ObjectID for legacy ones.
	ID        any            `bson:"_id,omitempty"`
	Brand     string         `bson:"brand"`
	Product   string         `bson:"product"`
	Recipient string         `bson:"email_id"`
	Name      string         `bson:"name"`
	Subject   string         `bson:"email_subject"`
	Body      string         `bson:"email_body"`
	Metadata  map[string]any `bson:"metadata"`
	CreatedAt string         `bson:"created_at"`
	UpdatedAt string         `bson:"updated_at"`
}

type runDoc struct {
	ID         string `bson:"_id"`
	Kind       string `bson:"kind"`
	Brand      string `bson:"brand"`
	Product    string `bson:"product"`
	Recipient  string `bson:"email_id"`
	Status     string `bson:"status"`
	Reason     string `bson:"reason,omitempty"`
	Items      int    `bson:"items"`
	StartedAt  string `bson:"started_at"`
	FinishedAt string `bson:"finished_at"`
}

// OpenMongo connects to uri, selects database and ensures indexes. An empty
// collection selects DefaultSubscriptionsCollection.
func OpenMongo(ctx context.Context, uri, database, collection string) (*MongoStore, error) {
	if uri == "" {
		return nil, fmt.Errorf("open mongo: empty uri")
	}

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("ping mongo: %w", err)
	}

	if collection == "" {
		collection = DefaultSubscriptionsCollection
	}
	db := client.Database(database)
	store := &MongoStore{
		client: client,
		subs:   db.Collection(collection),
		runs:   db.Collection(runsCollection),
	}
	if err := store.ensureIndexes(ctx); err != nil {
		_ = client.Disconnect(ctx)
		return nil, err
	}
	return store, nil
}

func (s *MongoStore) ensureIndexes(ctx context.Context) error {
	_, err := s.subs.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "email_id", Value: 1}, {Key: "product", Value: 1}, {Key: "brand", Value: 1}},
		Options: options.Index().SetUnique(true).SetName("uniq_recipient_product_brand"),
	})
	if err != nil {
		return fmt.Errorf("create subscription index: %w", err)
	}

	_, err = s.runs.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "started_at", Value: -1}},
	})
	if err != nil {
		return fmt.Errorf("create runs index: %w", err)
	}
	return nil
}

// Close disconnects the client.
func (s *MongoStore) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

func (s *MongoStore) Insert(ctx context.Context, sub domain.Subscription) (domain.Subscription, error) {
	if _, err := s.subs.InsertOne(ctx, toSubscriptionDoc(sub)); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return domain.Subscription{}, domain.ErrDuplicateSubscription
		}
		return domain.Subscription{}, fmt.Errorf("insert subscription: %w", err)
	}
	return sub, nil
}

func (s *MongoStore) Get(ctx context.Context, key domain.SubscriptionKey) (domain.Subscription, error) {
	var doc subscriptionDoc
	err := s.subs.FindOne(ctx, keyDocument(key)).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return domain.Subscription{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Subscription{}, fmt.Errorf("get subscription %s: %w", key, err)
	}
	return fromSubscriptionDoc(doc), nil
}

func (s *MongoStore) List(ctx context.Context) ([]domain.Subscription, error) {
	cursor, err := s.subs.Find(ctx, bson.D{}, options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("find subscriptions: %w", err)
	}
	var docs []subscriptionDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode subscriptions: %w", err)
	}

	subs := make([]domain.Subscription, 0, len(docs))
	for _, doc := range docs {
		subs = append(subs, fromSubscriptionDoc(doc))
	}
	return subs, nil
}

func (s *MongoStore) UpdateBody(ctx context.Context, key domain.SubscriptionKey, body string, at time.Time) error {
	res, err := s.subs.UpdateOne(ctx, keyDocument(key), bson.M{
		"$set": bson.M{"email_body": body, "updated_at": formatTime(at)},
	})
	if err != nil {
		return fmt.Errorf("update subscription %s: %w", key, err)
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("update subscription %s: %w", key, domain.ErrNotFound)
	}
	return nil
}

func (s *MongoStore) Delete(ctx context.Context, key domain.SubscriptionKey) error {
	if _, err := s.subs.DeleteOne(ctx, keyDocument(key)); err != nil {
		return fmt.Errorf("delete subscription %s: %w", key, err)
	}
	return nil
}

func (s *MongoStore) SaveRun(ctx context.Context, run domain.RunRecord) error {
	if _, err := s.runs.InsertOne(ctx, toRunDoc(run)); err != nil {
		return fmt.Errorf("insert run %s: %w", run.ID, err)
	}
	return nil
}

func (s *MongoStore) GetRun(ctx context.Context, id string) (domain.RunRecord, error) {
	var doc runDoc
	err := s.runs.FindOne(ctx, bson.M{"_id": id}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return domain.RunRecord{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.RunRecord{}, fmt.Errorf("get run %s: %w", id, err)
	}
	return fromRunDoc(doc), nil
}

func (s *MongoStore) ListRuns(ctx context.Context, limit int) ([]domain.RunRecord, error) {
	opts := options.Find().SetSort(bson.D{{Key: "started_at", Value: -1}, {Key: "_id", Value: -1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}
	cursor, err := s.runs.Find(ctx, bson.D{}, opts)
	if err != nil {
		return nil, fmt.Errorf("find runs: %w", err)
	}
	var docs []runDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode runs: %w", err)
	}

	runs := make([]domain.RunRecord, 0, len(docs))
	for _, doc := range docs {
		runs = append(runs, fromRunDoc(doc))
	}
	return runs, nil
}

func keyDocument(key domain.SubscriptionKey) bson.M {
	return bson.M{"email_id": key.Recipient, "product": key.Product, "brand": key.Brand}
}

func toSubscriptionDoc(sub domain.Subscription) subscriptionDoc {
	metadata := sub.Metadata
	if metadata == nil {
		metadata = map[string]any{}
	}
	var id any
	if sub.ID != "" {
		id = sub.ID
	}
	return subscriptionDoc{
		ID:        id,
		Brand:     sub.Brand,
		Product:   sub.Product,
		Recipient: sub.Recipient,
		Name:      sub.Name,
		Subject:   sub.Subject,
		Body:      sub.Body,
		Metadata:  metadata,
		CreatedAt: formatTime(sub.CreatedAt),
		UpdatedAt: formatTime(sub.UpdatedAt),
	}
}

func fromSubscriptionDoc(doc subscriptionDoc) domain.Subscription {
	return domain.Subscription{
		ID:        documentID(doc.ID),
		Brand:     doc.Brand,
		Product:   doc.Product,
		Recipient: doc.Recipient,
		Name:      doc.Name,
		Subject:   doc.Subject,
		Body:      doc.Body,
		Metadata:  doc.Metadata,
		CreatedAt: parseTime(doc.CreatedAt),
		UpdatedAt: parseTime(doc.UpdatedAt),
	}
}

func documentID(id any) string {
	switch v := id.(type) {
	case string:
		return v
	case primitive.ObjectID:
		return v.Hex()
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

func toRunDoc(run domain.RunRecord) runDoc {
	return runDoc{
		ID:         run.ID,
		Kind:       string(run.Kind),
		Brand:      run.Brand,
		Product:    run.Product,
		Recipient:  run.Recipient,
		Status:     string(run.Status),
		Reason:     run.Reason,
		Items:      run.Items,
		StartedAt:  formatTime(run.StartedAt),
		FinishedAt: formatTime(run.FinishedAt),
	}
}

func fromRunDoc(doc runDoc) domain.RunRecord {
	return domain.RunRecord{
		ID:         doc.ID,
		Kind:       domain.RunKind(doc.Kind),
		Brand:      doc.Brand,
		Product:    doc.Product,
		Recipient:  doc.Recipient,
		Status:     domain.RunStatus(doc.Status),
		Reason:     doc.Reason,
		Items:      doc.Items,
		StartedAt:  parseTime(doc.StartedAt),
		FinishedAt: parseTime(doc.FinishedAt),
	}
}
