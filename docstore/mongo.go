package docstore

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
)

// MongoConfig holds document-store connection configuration.
type MongoConfig struct {
	URI      string        `yaml:"uri"`
	Database string        `yaml:"database"`
	Timeout  time.Duration `yaml:"timeout,omitempty"`
	Logger   *zap.Logger   `yaml:"-"`
}

// MongoStore implements Store on a MongoDB database. Merge-upsert maps to
// a dotted-path $set with upsert, which MongoDB applies atomically per
// document; concurrent writers interleave safely without locks.
type MongoStore struct {
	client  *mongo.Client
	db      *mongo.Database
	timeout time.Duration
	logger  *zap.Logger
}

// NewMongoStore connects to the configured database and verifies the
// connection.
func NewMongoStore(ctx context.Context, cfg *MongoConfig) (*MongoStore, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if cfg.URI == "" {
		return nil, fmt.Errorf("uri cannot be empty")
	}
	if cfg.Database == "" {
		return nil, fmt.Errorf("database cannot be empty")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	connectCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	client, err := mongo.Connect(connectCtx, options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to document store: %w", err)
	}
	if err := client.Ping(connectCtx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping document store: %w", err)
	}

	logger.Info("connected to document store",
		zap.String("database", cfg.Database))

	return &MongoStore{
		client:  client,
		db:      client.Database(cfg.Database),
		timeout: timeout,
		logger:  logger,
	}, nil
}

// Close disconnects from the database.
func (s *MongoStore) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

// Get returns the document with the given id, or ErrNotFound.
func (s *MongoStore) Get(ctx context.Context, collection, id string) (Document, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var doc Document
	err := s.db.Collection(collection).FindOne(ctx, bson.M{"_id": id}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get %s/%s: %w", collection, id, err)
	}
	return doc, nil
}

// Read executes a boolean match query.
func (s *MongoStore) Read(ctx context.Context, collection string, query Query, opts Options) ([]Document, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	findOpts := options.Find()
	if opts.Size > 0 {
		findOpts.SetLimit(int64(opts.Size))
	}
	if len(opts.Sort) > 0 {
		sort := bson.D{}
		for _, sf := range opts.Sort {
			dir := 1
			if sf.Desc {
				dir = -1
			}
			sort = append(sort, bson.E{Key: sf.Field, Value: dir})
		}
		findOpts.SetSort(sort)
	}

	cursor, err := s.db.Collection(collection).Find(ctx, queryFilter(query), findOpts)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", collection, err)
	}
	defer cursor.Close(ctx)

	var out []Document
	if err := cursor.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("decode %s results: %w", collection, err)
	}
	return out, nil
}

// Write merge-upserts a partial document under id.
func (s *MongoStore) Write(ctx context.Context, collection, id string, doc Document) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	set := bson.M(Flatten(doc))
	if len(set) == 0 {
		return nil
	}

	_, err := s.db.Collection(collection).UpdateOne(ctx,
		bson.M{"_id": id},
		bson.M{"$set": set},
		options.Update().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("write %s/%s: %w", collection, id, err)
	}
	return nil
}

func queryFilter(q Query) bson.M {
	filter := bson.M{}
	var and []bson.M
	for _, m := range q.Must {
		and = append(and, matchFilter(m))
	}
	if len(q.Should) > 0 {
		// MinimumShouldMatch beyond 1 is not expressible as a plain $or;
		// every caller in this engine uses 1.
		or := make([]bson.M, 0, len(q.Should))
		for _, m := range q.Should {
			or = append(or, matchFilter(m))
		}
		and = append(and, bson.M{"$or": or})
	}
	if len(q.MustNot) > 0 {
		nor := make([]bson.M, 0, len(q.MustNot))
		for _, m := range q.MustNot {
			nor = append(nor, matchFilter(m))
		}
		and = append(and, bson.M{"$nor": nor})
	}
	switch len(and) {
	case 0:
	case 1:
		filter = and[0]
	default:
		filter = bson.M{"$and": and}
	}
	return filter
}

func matchFilter(m Match) bson.M {
	if m.Exists {
		return bson.M{m.Field: bson.M{"$exists": true, "$ne": nil}}
	}
	if s, ok := m.Value.(string); ok && m.Fold {
		return bson.M{m.Field: bson.M{
			"$regex":   "^" + regexp.QuoteMeta(s) + "$",
			"$options": "i",
		}}
	}
	return bson.M{m.Field: m.Value}
}
