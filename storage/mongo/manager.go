package mongo

import (
	"context"
	"errors"
	"fmt"
	log "github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/writeconcern"
	"time"
	"tuiter/storage"
)

const (
	postsCollection     = "tuits"
	reactionsCollection = "reactions"
	versionsCollection  = "tuitVersions"
	usersCollection     = "users"
)

// Manager owns the connection to the document store and hands out the
// stores built on top of it.
type Manager struct {
	client       *mongo.Client
	dbConnection *mongo.Database
	transactions bool
}

// Connect opens the client and verifies the deployment answers. Multi
// document transactions are only used when enabled, as they need a
// replica set.
func Connect(ctx context.Context, uri, database string, transactions bool) (*Manager, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect to %s: %w", database, storage.ErrUnavailable)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("ping %s: %v: %w", database, err, storage.ErrUnavailable)
	}

	return NewManager(client, client.Database(database), transactions), nil
}

func NewManager(client *mongo.Client, dbConnection *mongo.Database, transactions bool) *Manager {
	return &Manager{
		client:       client,
		dbConnection: dbConnection,
		transactions: transactions,
	}
}

func (m *Manager) Backend() storage.Backend {
	return storage.Backend{
		Reactions: &ReactionStore{coll: m.dbConnection.Collection(reactionsCollection)},
		Posts:     &PostRepository{coll: m.dbConnection.Collection(postsCollection)},
		Versions:  &VersionStore{coll: m.dbConnection.Collection(versionsCollection)},
		Users:     &UserLookup{coll: m.dbConnection.Collection(usersCollection)},
		Tx:        m,
		Close:     m.client.Disconnect,
	}
}

// EnsureIndexes creates the unique keys the stores rely on: one reaction
// per (tuit, user) and one snapshot per (tuit, version).
func (m *Manager) EnsureIndexes(ctx context.Context) error {
	_, err := m.dbConnection.Collection(reactionsCollection).Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{"tuit", 1}, {"user", 1}},
			Options: options.Index().SetUnique(true),
		},
		{Keys: bson.D{{"user", 1}, {"kind", 1}}},
		{Keys: bson.D{{"tuit", 1}, {"kind", 1}}},
	})
	if err != nil {
		return wrapError("create reaction indexes", err)
	}

	_, err = m.dbConnection.Collection(versionsCollection).Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{"ref", 1}, {"v", 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return wrapError("create version indexes", err)
	}
	return nil
}

func (m *Manager) WithinTransaction(ctx context.Context, operation func(ctx context.Context) error) error {
	if !m.transactions {
		return operation(ctx)
	}

	wc := writeconcern.Majority()
	txnOptions := options.Transaction().SetWriteConcern(wc)

	session, err := m.client.StartSession()
	if err != nil {
		return wrapError("start session", err)
	}
	defer session.EndSession(ctx)

	_, err = session.WithTransaction(
		ctx,
		func(sc mongo.SessionContext) (interface{}, error) {
			return nil, operation(sc)
		},
		txnOptions,
	)
	if err != nil && !isDomainError(err) {
		log.Warningf("Error committing transaction: %v", err)
		return wrapError("commit transaction", err)
	}
	return err
}

func objectId(kind, id string) (primitive.ObjectID, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return primitive.NilObjectID, fmt.Errorf("%s %q: %w", kind, id, storage.ErrNotFound)
	}
	return oid, nil
}

func isDomainError(err error) bool {
	return errors.Is(err, storage.ErrNotFound) ||
		errors.Is(err, storage.ErrConflict) ||
		errors.Is(err, storage.ErrInvalid) ||
		errors.Is(err, storage.ErrUnavailable)
}

// wrapError maps driver errors onto the storage sentinels.
func wrapError(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case isDomainError(err):
		return err
	case errors.Is(err, mongo.ErrNoDocuments):
		return fmt.Errorf("%s: %w", op, storage.ErrNotFound)
	case mongo.IsDuplicateKeyError(err):
		return fmt.Errorf("%s: %v: %w", op, err, storage.ErrConflict)
	case mongo.IsNetworkError(err), mongo.IsTimeout(err), errors.Is(err, mongo.ErrClientDisconnected):
		return fmt.Errorf("%s: %v: %w", op, err, storage.ErrUnavailable)
	}
	return fmt.Errorf("%s: %w", op, err)
}
