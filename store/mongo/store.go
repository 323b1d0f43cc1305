// Package mongo implements store.Store on MongoDB. Balance and billing
// mutations are single FindOneAndUpdate calls whose filter carries the
// precondition, so concurrent writers serialize on the document.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/DimensionCoin/credits"
	"github.com/DimensionCoin/credits/billing"
	creditsstore "github.com/DimensionCoin/credits/store"
	"github.com/DimensionCoin/credits/user"
)

// Collection name constants.
const (
	colUsers         = "credits_users"
	colBillingEvents = "credits_billing_events"
)

// compile-time interface check
var _ creditsstore.Store = (*Store)(nil)

// Store implements store.Store using the MongoDB Go driver.
type Store struct {
	client *mongo.Client
	db     *mongo.Database
	owned  bool
}

// New wraps an existing database handle. Close leaves the client connected.
func New(db *mongo.Database) *Store {
	return &Store{client: db.Client(), db: db}
}

// Open connects to uri and uses database. Close disconnects the client.
func Open(ctx context.Context, uri, database string) (*Store, error) {
	client, err := mongo.Connect(options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("credits/mongo: connect: %w", err)
	}

	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx) //nolint:errcheck // already failing
		return nil, fmt.Errorf("credits/mongo: ping: %w", err)
	}

	return &Store{client: client, db: client.Database(database), owned: true}, nil
}

// DB returns the underlying database for direct access.
func (s *Store) DB() *mongo.Database { return s.db }

func (s *Store) users() *mongo.Collection  { return s.db.Collection(colUsers) }
func (s *Store) events() *mongo.Collection { return s.db.Collection(colBillingEvents) }

// Migrate creates indexes for all collections.
func (s *Store) Migrate(ctx context.Context) error {
	for col, models := range migrationIndexes() {
		if _, err := s.db.Collection(col).Indexes().CreateMany(ctx, models); err != nil {
			return fmt.Errorf("credits/mongo: migrate %s indexes: %w", col, err)
		}
	}
	return nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, nil)
}

// Close disconnects the client if this store opened it.
func (s *Store) Close() error {
	if !s.owned {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}

// ==================== User Store ====================

func (s *Store) CreateUser(ctx context.Context, u *user.User) (*user.User, bool, error) {
	opts := options.FindOneAndUpdate().
		SetUpsert(true).
		SetReturnDocument(options.After)

	var m userModel
	err := s.users().FindOneAndUpdate(ctx,
		bson.M{"external_id": u.ExternalID},
		bson.M{"$setOnInsert": insertDoc(u)},
		opts,
	).Decode(&m)
	if err != nil {
		if !mongo.IsDuplicateKeyError(err) {
			return nil, false, fmt.Errorf("credits/mongo: create user: %w", err)
		}
		// Either a concurrent upsert for the same identity won, or the
		// email belongs to someone else.
		existing, getErr := s.GetUser(ctx, u.ExternalID)
		if getErr == nil {
			return existing, false, nil
		}
		return nil, false, fmt.Errorf("%w: %w", credits.ErrDuplicateKey, err)
	}

	got, err := fromUserModel(&m)
	if err != nil {
		return nil, false, fmt.Errorf("credits/mongo: create user: %w", err)
	}
	return got, m.ID == u.ID.String(), nil
}

func (s *Store) GetUser(ctx context.Context, externalID string) (*user.User, error) {
	return s.findUser(ctx, bson.M{"external_id": externalID}, "get user")
}

func (s *Store) GetUserByCustomerRef(ctx context.Context, ref string) (*user.User, error) {
	if ref == "" {
		return nil, credits.ErrUserNotFound
	}
	return s.findUser(ctx, bson.M{"customer_ref": ref}, "get user by customer")
}

func (s *Store) ConsumeCredits(ctx context.Context, externalID string, entry user.UsageEntry, historyLimit int) (*user.User, error) {
	if historyLimit <= 0 {
		historyLimit = user.HistoryCapacity
	}

	filter := bson.M{
		"external_id": externalID,
		"credits":     bson.M{"$gte": entry.Amount},
	}
	update := bson.M{
		"$inc": bson.M{"credits": -entry.Amount},
		"$push": bson.M{"usage_history": bson.M{
			"$each":     bson.A{toUsageModel(entry)},
			"$position": 0,
			"$slice":    historyLimit,
		}},
		"$set": bson.M{"updated_at": now()},
	}

	u, err := s.updateUser(ctx, filter, update, "consume credits")
	if errors.Is(err, credits.ErrUserNotFound) {
		return nil, credits.ErrInsufficientCreditsOrNotFound
	}
	return u, err
}

func (s *Store) AddCredits(ctx context.Context, externalID string, amount int64) (*user.User, error) {
	return s.updateUser(ctx,
		bson.M{"external_id": externalID},
		bson.M{
			"$inc": bson.M{"credits": amount},
			"$set": bson.M{"updated_at": now()},
		},
		"add credits",
	)
}

func (s *Store) ApplyBilling(ctx context.Context, sel user.Selector, upd user.BillingUpdate) (*user.User, error) {
	base := selectorFilter(sel)
	if base == nil {
		return nil, credits.ErrUserNotFound
	}

	filter := bson.M{}
	for k, v := range base {
		filter[k] = v
	}
	if upd.Ordered {
		filter["$or"] = bson.A{
			bson.M{"billing_event_at": bson.M{"$exists": false}},
			bson.M{"billing_event_at": nil},
			bson.M{"billing_event_at": bson.M{"$lte": upd.EventAt}},
		}
	}

	set := bson.M{
		"tier":       string(upd.Tier),
		"updated_at": now(),
	}
	if upd.Credits != nil {
		set["credits"] = *upd.Credits
	}
	if upd.CustomerRef != "" {
		set["customer_ref"] = upd.CustomerRef
	}
	if !upd.EventAt.IsZero() {
		set["billing_event_at"] = upd.EventAt.UTC()
	}

	u, err := s.updateUser(ctx, filter, bson.M{"$set": set}, "apply billing")
	if err == nil || !upd.Ordered || !errors.Is(err, credits.ErrUserNotFound) {
		return u, err
	}

	// The guard or the selector rejected the write; tell them apart.
	n, countErr := s.users().CountDocuments(ctx, base, options.Count().SetLimit(1))
	if countErr != nil {
		return nil, fmt.Errorf("credits/mongo: apply billing: %w", countErr)
	}
	if n > 0 {
		return nil, credits.ErrStaleEvent
	}
	return nil, credits.ErrUserNotFound
}

func (s *Store) SetTopSelections(ctx context.Context, externalID string, selections []string) (*user.User, error) {
	return s.updateUser(ctx,
		bson.M{"external_id": externalID},
		bson.M{"$set": bson.M{
			"top_selections": nonNil(selections),
			"updated_at":     now(),
		}},
		"set top selections",
	)
}

func (s *Store) UpdateProfile(ctx context.Context, externalID string, upd user.ProfileUpdate) (*user.User, error) {
	set := bson.M{"updated_at": now()}
	if upd.Email != nil {
		set["email"] = *upd.Email
	}
	if upd.FirstName != nil {
		set["first_name"] = *upd.FirstName
	}
	if upd.LastName != nil {
		set["last_name"] = *upd.LastName
	}

	return s.updateUser(ctx, bson.M{"external_id": externalID}, bson.M{"$set": set}, "update profile")
}

func (s *Store) findUser(ctx context.Context, filter bson.M, op string) (*user.User, error) {
	var m userModel
	if err := s.users().FindOne(ctx, filter).Decode(&m); err != nil {
		if isNoDocuments(err) {
			return nil, credits.ErrUserNotFound
		}
		return nil, fmt.Errorf("credits/mongo: %s: %w", op, err)
	}

	u, err := fromUserModel(&m)
	if err != nil {
		return nil, fmt.Errorf("credits/mongo: %s: %w", op, err)
	}
	return u, nil
}

// updateUser applies update to the first document matching filter and
// returns it as modified.
func (s *Store) updateUser(ctx context.Context, filter, update bson.M, op string) (*user.User, error) {
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var m userModel
	if err := s.users().FindOneAndUpdate(ctx, filter, update, opts).Decode(&m); err != nil {
		switch {
		case isNoDocuments(err):
			return nil, credits.ErrUserNotFound
		case mongo.IsDuplicateKeyError(err):
			return nil, fmt.Errorf("%w: %w", credits.ErrDuplicateKey, err)
		default:
			return nil, fmt.Errorf("credits/mongo: %s: %w", op, err)
		}
	}

	u, err := fromUserModel(&m)
	if err != nil {
		return nil, fmt.Errorf("credits/mongo: %s: %w", op, err)
	}
	return u, nil
}

// ==================== Billing Event Store ====================

func (s *Store) RecordEvent(ctx context.Context, r *billing.Record) error {
	processed := r.ProcessedAt
	if processed.IsZero() {
		processed = now()
	}

	update := bson.M{
		"$set": bson.M{
			"kind":         string(r.Kind),
			"subject":      r.Subject,
			"outcome":      string(r.Outcome),
			"reason":       r.Reason,
			"occurred_at":  r.OccurredAt.UTC(),
			"processed_at": processed.UTC(),
		},
		"$setOnInsert": bson.M{"_id": r.ID.String()},
	}

	filter := bson.M{"provider_event_id": r.ProviderEventID}
	opts := options.UpdateOne().SetUpsert(true)

	_, err := s.events().UpdateOne(ctx, filter, update, opts)
	if mongo.IsDuplicateKeyError(err) {
		// Lost an insert race; the document exists now.
		_, err = s.events().UpdateOne(ctx, filter, update, opts)
	}
	if err != nil {
		return fmt.Errorf("credits/mongo: record event: %w", err)
	}
	return nil
}

func (s *Store) GetEventRecord(ctx context.Context, providerEventID string) (*billing.Record, error) {
	var m eventModel
	err := s.events().FindOne(ctx, bson.M{"provider_event_id": providerEventID}).Decode(&m)
	if err != nil {
		if isNoDocuments(err) {
			return nil, credits.ErrEventNotFound
		}
		return nil, fmt.Errorf("credits/mongo: get event record: %w", err)
	}

	rec, err := fromEventModel(&m)
	if err != nil {
		return nil, fmt.Errorf("credits/mongo: get event record: %w", err)
	}
	return rec, nil
}

// ==================== Helpers ====================

func selectorFilter(sel user.Selector) bson.M {
	switch {
	case sel.ExternalID != "":
		return bson.M{"external_id": sel.ExternalID}
	case sel.CustomerRef != "":
		return bson.M{"customer_ref": sel.CustomerRef}
	default:
		return nil
	}
}

// now returns the current UTC time at the precision BSON stores.
func now() time.Time {
	return time.Now().UTC().Truncate(time.Millisecond)
}

// isNoDocuments checks if an error wraps mongo.ErrNoDocuments.
func isNoDocuments(err error) bool {
	return errors.Is(err, mongo.ErrNoDocuments)
}

// migrationIndexes returns the index definitions for all collections.
func migrationIndexes() map[string][]mongo.IndexModel {
	return map[string][]mongo.IndexModel{
		colUsers: {
			{
				Keys:    bson.D{{Key: "external_id", Value: 1}},
				Options: options.Index().SetUnique(true),
			},
			{
				Keys:    bson.D{{Key: "email", Value: 1}},
				Options: options.Index().SetUnique(true),
			},
			{
				Keys: bson.D{{Key: "customer_ref", Value: 1}},
				Options: options.Index().SetUnique(true).SetPartialFilterExpression(bson.M{
					"customer_ref": bson.M{"$exists": true},
				}),
			},
		},
		colBillingEvents: {
			{
				Keys:    bson.D{{Key: "provider_event_id", Value: 1}},
				Options: options.Index().SetUnique(true),
			},
			{Keys: bson.D{{Key: "processed_at", Value: -1}}},
		},
	}
}
