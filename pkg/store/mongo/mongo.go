// Package mongo implements the document store adapter: typed collection
// access, upserts, bulk writes, and session-scoped transactions over the
// authoritative store.
//
// Collection names are configurable per document kind. Reads run at the
// configured read concern, writes at the configured write concern; the
// adapter never embeds schema knowledge beyond the `_id` field used for
// upserts.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readconcern"
	"go.mongodb.org/mongo-driver/mongo/writeconcern"

	"github.com/playforge/arcadia/internal/logger"
)

// ErrUnavailable is returned when the document store cannot be reached.
var ErrUnavailable = errors.New("mongo: document store unavailable")

// Kind identifies a persisted document kind. The set is closed at startup;
// there is no runtime type discovery.
type Kind string

const (
	KindPlayer     Kind = "player"
	KindRoom       Kind = "room"
	KindGameRecord Kind = "game_record"
	KindGeneric    Kind = "generic"
)

// Config holds connection settings for the document store.
type Config struct {
	URI      string `mapstructure:"uri" validate:"required" yaml:"uri"`
	Database string `mapstructure:"database" validate:"required" yaml:"database"`

	// Collections maps document kinds to collection names. Kinds without
	// an entry fall back to the kind name itself.
	Collections map[string]string `mapstructure:"collections" yaml:"collections"`

	ConnectTimeout time.Duration `mapstructure:"connect_timeout" yaml:"connect_timeout"`

	// ReadConcern is "local" or "majority".
	ReadConcern string `mapstructure:"read_concern" validate:"omitempty,oneof=local majority" yaml:"read_concern"`
	// WriteConcern is "majority" or "acknowledged".
	WriteConcern string `mapstructure:"write_concern" validate:"omitempty,oneof=majority acknowledged" yaml:"write_concern"`
}

// DefaultConfig returns settings suitable for a local development store.
func DefaultConfig() Config {
	return Config{
		URI:      "mongodb://localhost:27017",
		Database: "arcadia",
		Collections: map[string]string{
			string(KindPlayer):     "players",
			string(KindRoom):       "rooms",
			string(KindGameRecord): "game_records",
			string(KindGeneric):    "state",
		},
		ConnectTimeout: 10 * time.Second,
		ReadConcern:    "local",
		WriteConcern:   "majority",
	}
}

// Client is the document store adapter. Safe for concurrent use.
type Client struct {
	cli *mongo.Client
	db  *mongo.Database
	cfg Config
}

// Connect establishes a connection to the document store and verifies it
// with a ping.
func Connect(ctx context.Context, cfg Config) (*Client, error) {
	opts := options.Client().
		ApplyURI(cfg.URI).
		SetConnectTimeout(cfg.ConnectTimeout)

	switch cfg.ReadConcern {
	case "majority":
		opts.SetReadConcern(readconcern.Majority())
	default:
		opts.SetReadConcern(readconcern.Local())
	}
	switch cfg.WriteConcern {
	case "acknowledged":
		opts.SetWriteConcern(writeconcern.W1())
	default:
		opts.SetWriteConcern(writeconcern.Majority())
	}

	cli, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("%w: connect: %v", ErrUnavailable, err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()
	if err := cli.Ping(pingCtx, nil); err != nil {
		_ = cli.Disconnect(ctx)
		return nil, fmt.Errorf("%w: ping: %v", ErrUnavailable, err)
	}

	logger.Info("document store connected", "database", cfg.Database)
	return &Client{cli: cli, db: cli.Database(cfg.Database), cfg: cfg}, nil
}

// Close disconnects from the store.
func (c *Client) Close(ctx context.Context) error {
	return c.cli.Disconnect(ctx)
}

// Ping verifies the store is reachable.
func (c *Client) Ping(ctx context.Context) error {
	if err := c.cli.Ping(ctx, nil); err != nil {
		return fmt.Errorf("%w: ping: %v", ErrUnavailable, err)
	}
	return nil
}

// CollectionName resolves the configured collection for a kind.
func (c *Client) CollectionName(kind Kind) string {
	if name, ok := c.cfg.Collections[string(kind)]; ok {
		return name
	}
	return string(kind)
}

// Collection returns the typed collection accessor for a kind.
func (c *Client) Collection(kind Kind) *mongo.Collection {
	return c.db.Collection(c.CollectionName(kind))
}

// FindOneByID decodes the document with the given id into out.
// Returns found=false when no document matches.
func (c *Client) FindOneByID(ctx context.Context, kind Kind, id string, out any) (bool, error) {
	err := c.Collection(kind).FindOne(ctx, bson.M{"_id": id}).Decode(out)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("mongo: find %s/%s: %w", kind, id, err)
	}
	return true, nil
}

// Find decodes all documents matching filter into out (a pointer to slice).
func (c *Client) Find(ctx context.Context, kind Kind, filter bson.M, out any) error {
	cur, err := c.Collection(kind).Find(ctx, filter)
	if err != nil {
		return fmt.Errorf("mongo: find %s: %w", kind, err)
	}
	defer cur.Close(ctx)
	if err := cur.All(ctx, out); err != nil {
		return fmt.Errorf("mongo: decode %s: %w", kind, err)
	}
	return nil
}

// UpsertByID replaces the document with the given id, inserting it when
// absent. When ctx is a session context the write joins that transaction.
func (c *Client) UpsertByID(ctx context.Context, kind Kind, id string, doc any) error {
	_, err := c.Collection(kind).ReplaceOne(ctx,
		bson.M{"_id": id}, doc, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("mongo: upsert %s/%s: %w", kind, id, err)
	}
	return nil
}

// BulkUpsert replaces all documents in docs (id -> document) in one
// unordered bulk write. Returns the number of modified or inserted documents.
func (c *Client) BulkUpsert(ctx context.Context, kind Kind, docs map[string]any) (int64, error) {
	if len(docs) == 0 {
		return 0, nil
	}
	models := make([]mongo.WriteModel, 0, len(docs))
	for id, doc := range docs {
		models = append(models, mongo.NewReplaceOneModel().
			SetFilter(bson.M{"_id": id}).
			SetReplacement(doc).
			SetUpsert(true))
	}
	res, err := c.Collection(kind).BulkWrite(ctx, models,
		options.BulkWrite().SetOrdered(false))
	if err != nil {
		return 0, fmt.Errorf("mongo: bulk upsert %s (%d docs): %w", kind, len(docs), err)
	}
	return res.ModifiedCount + res.UpsertedCount, nil
}

// DeleteByID removes the document with the given id.
// Returns whether a document was removed.
func (c *Client) DeleteByID(ctx context.Context, kind Kind, id string) (bool, error) {
	res, err := c.Collection(kind).DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return false, fmt.Errorf("mongo: delete %s/%s: %w", kind, id, err)
	}
	return res.DeletedCount > 0, nil
}

// EnsureIndexes provisions single-field ascending indexes used by the bulk
// persistence queries. Creating an existing index is a no-op at the store.
func (c *Client) EnsureIndexes(ctx context.Context, kind Kind, fields ...string) error {
	if len(fields) == 0 {
		return nil
	}
	models := make([]mongo.IndexModel, 0, len(fields))
	for _, f := range fields {
		models = append(models, mongo.IndexModel{Keys: bson.D{{Key: f, Value: 1}}})
	}
	if _, err := c.Collection(kind).Indexes().CreateMany(ctx, models); err != nil {
		return fmt.Errorf("mongo: ensure indexes on %s: %w", kind, err)
	}
	return nil
}
