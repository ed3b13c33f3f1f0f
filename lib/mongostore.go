package classvault

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
)

// lockCollection is the engine's own bookkeeping collection. It is never
// listed as a record set and never ends up inside an artifact.
const lockCollection = "classvault_locks"

// MongoDriver adapts a MongoDB database to the Driver interface.
type MongoDriver struct {
	client *mongo.Client
	db     *mongo.Database
}

func NewMongoDriver(ctx context.Context, uri, database string) (*MongoDriver, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect to document store: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		return nil, fmt.Errorf("ping document store: %w", err)
	}

	return &MongoDriver{
		client: client,
		db:     client.Database(database),
	}, nil
}

func (d *MongoDriver) Close(ctx context.Context) error {
	return d.client.Disconnect(ctx)
}

func (d *MongoDriver) ListSetNames(ctx context.Context) ([]string, error) {
	names, err := d.db.ListCollectionNames(ctx, bson.D{})
	if err != nil {
		return nil, fmt.Errorf("list collections: %w", err)
	}

	out := names[:0]
	for _, name := range names {
		if isInternalSetName(name) {
			continue
		}
		out = append(out, name)
	}
	return out, nil
}

func isInternalSetName(name string) bool {
	return name == lockCollection || strings.HasPrefix(name, "system.")
}

func (d *MongoDriver) ReadAll(ctx context.Context, set string) ([]Document, error) {
	cursor, err := d.db.Collection(set).Find(ctx, bson.D{})
	if err != nil {
		return nil, fmt.Errorf("find all in %q: %w", set, err)
	}

	var docs []Document
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("drain cursor of %q: %w", set, err)
	}
	if docs == nil {
		docs = []Document{}
	}
	return docs, nil
}

func (d *MongoDriver) ReplaceAllRaw(ctx context.Context, set string, docs []Document) error {
	coll := d.db.Collection(set)

	if _, err := coll.DeleteMany(ctx, bson.D{}); err != nil {
		return fmt.Errorf("clear %q: %w", set, err)
	}
	if len(docs) == 0 {
		return nil
	}

	toInsert := make([]interface{}, len(docs))
	for i, doc := range docs {
		toInsert[i] = doc
	}
	if _, err := coll.InsertMany(ctx, toInsert, options.InsertMany().SetOrdered(true)); err != nil {
		return fmt.Errorf("insert %d documents into %q: %w", len(docs), set, err)
	}
	return nil
}

func (d *MongoDriver) Atomically(ctx context.Context, fn func(ctx context.Context) error) error {
	session, err := d.client.StartSession()
	if err != nil {
		if isAtomicUnsupported(err) {
			return fmt.Errorf("%w: %v", ErrAtomicUnsupported, err)
		}
		return fmt.Errorf("start session: %w", err)
	}
	defer session.EndSession(ctx)

	_, err = session.WithTransaction(ctx, func(sc mongo.SessionContext) (interface{}, error) {
		return nil, fn(sc)
	})
	if err != nil {
		if isAtomicUnsupported(err) {
			return fmt.Errorf("%w: %v", ErrAtomicUnsupported, err)
		}
		return err
	}
	return nil
}

// isAtomicUnsupported recognizes the ways a deployment refuses multi-set
// transactions: standalone servers answer IllegalOperation (code 20) with
// a message about transaction numbers, older ones reject the session
// machinery outright.
func isAtomicUnsupported(err error) bool {
	if err == nil {
		return false
	}

	var cmdErr mongo.CommandError
	if errors.As(err, &cmdErr) {
		if cmdErr.Code == 20 && strings.Contains(cmdErr.Message, "Transaction numbers") {
			return true
		}
	}

	msg := err.Error()
	return strings.Contains(msg, "Transaction numbers are only allowed on a replica set member or mongos") ||
		strings.Contains(msg, "does not support sessions")
}

// lockTTL bounds how long a dead process can wedge the exclusive run
// lock. A holder whose lease ran out is treated as crashed and evicted by
// the next acquire.
const lockTTL = time.Hour

type lockDoc struct {
	Name       string    `bson:"_id"`
	AcquiredAt time.Time `bson:"acquiredAt"`
	ExpiresAt  time.Time `bson:"expiresAt"`
}

func lockIsStale(doc lockDoc, now time.Time) bool {
	return doc.ExpiresAt.Before(now)
}

func (d *MongoDriver) AcquireLock(ctx context.Context, name string) (func(context.Context) error, error) {
	coll := d.db.Collection(lockCollection)

	// the second pass retries the insert after a stale holder was evicted
	for attempt := 0; attempt < 2; attempt++ {
		now := time.Now().UTC()
		lease := lockDoc{Name: name, AcquiredAt: now, ExpiresAt: now.Add(lockTTL)}

		_, err := coll.InsertOne(ctx, lease)
		if err == nil {
			return d.lockRelease(coll, name, lease.ExpiresAt), nil
		}
		if !mongo.IsDuplicateKeyError(err) {
			return nil, fmt.Errorf("acquire %q lock: %w", name, err)
		}

		var holder lockDoc
		if err := coll.FindOne(ctx, bson.D{{Key: "_id", Value: name}}).Decode(&holder); err != nil {
			if errors.Is(err, mongo.ErrNoDocuments) {
				continue // released between our insert and read
			}
			return nil, fmt.Errorf("inspect %q lock: %w", name, err)
		}
		if !lockIsStale(holder, now) {
			return nil, ErrRestoreInProgress
		}

		// evict exactly the lease we inspected so racing takeovers cannot
		// both win
		res, err := coll.DeleteOne(ctx, bson.D{
			{Key: "_id", Value: name},
			{Key: "expiresAt", Value: holder.ExpiresAt},
		})
		if err != nil {
			return nil, fmt.Errorf("evict stale %q lock: %w", name, err)
		}
		if res.DeletedCount == 0 {
			return nil, ErrRestoreInProgress
		}
		zlog.Warn("evicted stale advisory lock",
			zap.String("name", name),
			zap.Time("expired_at", holder.ExpiresAt),
		)
	}
	return nil, ErrRestoreInProgress
}

// lockRelease deletes only the lease the caller wrote, so a run that
// outlived its lease never releases its successor's lock.
func (d *MongoDriver) lockRelease(coll *mongo.Collection, name string, expiresAt time.Time) func(context.Context) error {
	return func(ctx context.Context) error {
		if _, err := coll.DeleteOne(ctx, bson.D{
			{Key: "_id", Value: name},
			{Key: "expiresAt", Value: expiresAt},
		}); err != nil {
			zlog.Warn("failed to release advisory lock", zap.String("name", name), zap.Error(err))
			return err
		}
		return nil
	}
}
