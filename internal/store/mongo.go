package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoConfig holds connection settings for the Mongo-backed store.
type MongoConfig struct {
	URI            string
	Database       string
	MaxPoolSize    uint64
	ConnectTimeout time.Duration
}

// Mongo implements Store on a MongoDB database. Change streams back the
// subscription feed, so the deployment must be a replica set.
type Mongo struct {
	client *mongo.Client
	db     *mongo.Database
}

// NewMongo connects to MongoDB and verifies the connection.
func NewMongo(ctx context.Context, cfg MongoConfig) (*Mongo, error) {
	if cfg.URI == "" {
		return nil, errors.New("store: mongo uri is required")
	}
	opts := options.Client().ApplyURI(cfg.URI)
	if cfg.MaxPoolSize > 0 {
		opts.SetMaxPoolSize(cfg.MaxPoolSize)
	}
	timeout := cfg.ConnectTimeout
	if timeout == 0 {
		timeout = 5 * time.Second
	}
	connectCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	client, err := mongo.Connect(connectCtx, opts)
	if err != nil {
		return nil, fmt.Errorf("mongo connect failed: %w", err)
	}
	if err := client.Ping(connectCtx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("mongo ping failed: %w", err)
	}
	return &Mongo{client: client, db: client.Database(cfg.Database)}, nil
}

// Collection implements Store.
func (m *Mongo) Collection(name string) Collection {
	return &mongoCollection{coll: m.db.Collection(name)}
}

// Batch implements Store.
func (m *Mongo) Batch() Batch {
	return &mongoBatch{store: m}
}

// Close implements Store.
func (m *Mongo) Close(ctx context.Context) error {
	return m.client.Disconnect(ctx)
}

type mongoCollection struct {
	coll *mongo.Collection
}

func (c *mongoCollection) Get(ctx context.Context, id string) (Document, error) {
	var raw bson.M
	err := c.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&raw)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return Document{}, ErrNotFound
	}
	if err != nil {
		return Document{}, err
	}
	return docFromBson(id, raw), nil
}

func (c *mongoCollection) Set(ctx context.Context, id string, data map[string]any) error {
	doc := resolveForMongo(data)
	doc["_id"] = id
	_, err := c.coll.ReplaceOne(ctx, bson.M{"_id": id}, doc, options.Replace().SetUpsert(true))
	return err
}

func (c *mongoCollection) Update(ctx context.Context, id string, fields map[string]any) error {
	res, err := c.coll.UpdateByID(ctx, id, updateDocument(fields))
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (c *mongoCollection) Delete(ctx context.Context, id string) error {
	_, err := c.coll.DeleteOne(ctx, bson.M{"_id": id})
	return err
}

func (c *mongoCollection) Find(ctx context.Context, q Query) ([]Document, error) {
	opts := options.Find()
	if len(q.Orders) > 0 {
		sortDoc := bson.D{}
		for _, o := range q.Orders {
			dir := 1
			if o.Desc {
				dir = -1
			}
			sortDoc = append(sortDoc, bson.E{Key: o.Field, Value: dir})
		}
		opts.SetSort(sortDoc)
	}
	if q.LimitN > 0 {
		opts.SetLimit(int64(q.LimitN))
	}
	cursor, err := c.coll.Find(ctx, filterFromQuery(q), opts)
	if err != nil {
		return nil, err
	}
	var raws []bson.M
	if err := cursor.All(ctx, &raws); err != nil {
		return nil, err
	}
	docs := make([]Document, 0, len(raws))
	for _, raw := range raws {
		id, _ := raw["_id"].(string)
		docs = append(docs, docFromBson(id, raw))
	}
	return docs, nil
}

func (c *mongoCollection) Watch(ctx context.Context, id string) (*Subscription, error) {
	pipeline := mongo.Pipeline{bson.D{{Key: "$match", Value: bson.D{{Key: "documentKey._id", Value: id}}}}}
	return c.watch(ctx, pipeline, func(ctx context.Context) (Snapshot, error) {
		doc, err := c.Get(ctx, id)
		if errors.Is(err, ErrNotFound) {
			return Snapshot{}, nil
		}
		if err != nil {
			return Snapshot{}, err
		}
		return Snapshot{Docs: []Document{doc}}, nil
	})
}

func (c *mongoCollection) WatchFind(ctx context.Context, q Query) (*Subscription, error) {
	return c.watch(ctx, mongo.Pipeline{}, func(ctx context.Context) (Snapshot, error) {
		docs, err := c.Find(ctx, q)
		if err != nil {
			return Snapshot{}, err
		}
		return Snapshot{Docs: docs}, nil
	})
}

// watch opens a change stream and recomputes the full snapshot on every
// event rather than patching incrementally, so a missed event cannot leave
// drift behind.
func (c *mongoCollection) watch(ctx context.Context, pipeline mongo.Pipeline, snapshot func(context.Context) (Snapshot, error)) (*Subscription, error) {
	streamCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	stream, err := c.coll.Watch(streamCtx, pipeline)
	if err != nil {
		cancel()
		return nil, err
	}
	sub := newSubscription(cancel)

	go func() {
		select {
		case <-ctx.Done():
			sub.Unsubscribe()
		case <-sub.Done():
		}
	}()

	go func() {
		defer func() { _ = stream.Close(context.Background()) }()
		deliver := func() {
			gen := sub.generation()
			snap, err := snapshot(streamCtx)
			if err != nil {
				if streamCtx.Err() == nil {
					sub.fail(err)
				}
				return
			}
			sub.publishAt(gen, snap)
		}
		deliver()
		for stream.Next(streamCtx) {
			deliver()
		}
		if err := stream.Err(); err != nil && streamCtx.Err() == nil {
			sub.fail(err)
		}
	}()
	return sub, nil
}

type mongoOp struct {
	kind       string
	collection string
	id         string
	data       map[string]any
}

type mongoBatch struct {
	store *Mongo
	ops   []mongoOp
}

func (b *mongoBatch) Set(collection, id string, data map[string]any) Batch {
	b.ops = append(b.ops, mongoOp{kind: "set", collection: collection, id: id, data: data})
	return b
}

func (b *mongoBatch) Update(collection, id string, fields map[string]any) Batch {
	b.ops = append(b.ops, mongoOp{kind: "update", collection: collection, id: id, data: fields})
	return b
}

func (b *mongoBatch) Delete(collection, id string) Batch {
	b.ops = append(b.ops, mongoOp{kind: "delete", collection: collection, id: id})
	return b
}

func (b *mongoBatch) Len() int {
	return len(b.ops)
}

// Commit runs every staged op inside one transaction.
func (b *mongoBatch) Commit(ctx context.Context) error {
	if len(b.ops) > BatchLimit {
		return ErrBatchTooLarge
	}
	session, err := b.store.client.StartSession()
	if err != nil {
		return err
	}
	defer session.EndSession(ctx)

	_, err = session.WithTransaction(ctx, func(sc mongo.SessionContext) (any, error) {
		for _, op := range b.ops {
			coll := b.store.db.Collection(op.collection)
			switch op.kind {
			case "set":
				doc := resolveForMongo(op.data)
				doc["_id"] = op.id
				if _, err := coll.ReplaceOne(sc, bson.M{"_id": op.id}, doc, options.Replace().SetUpsert(true)); err != nil {
					return nil, err
				}
			case "update":
				res, err := coll.UpdateByID(sc, op.id, updateDocument(op.data))
				if err != nil {
					return nil, err
				}
				if res.MatchedCount == 0 {
					return nil, fmt.Errorf("batch update %s/%s: %w", op.collection, op.id, ErrNotFound)
				}
			case "delete":
				if _, err := coll.DeleteOne(sc, bson.M{"_id": op.id}); err != nil {
					return nil, err
				}
			}
		}
		return nil, nil
	})
	return err
}

func filterFromQuery(q Query) bson.M {
	filter := bson.M{}
	for _, cond := range q.Conditions {
		switch cond.Op {
		case OpEq, OpContains:
			// Mongo equality against an array field matches elements, which
			// covers array-contains.
			filter[cond.Field] = cond.Value
		case OpIn:
			filter[cond.Field] = mergeRange(filter[cond.Field], "$in", cond.Value)
		case OpLt:
			filter[cond.Field] = mergeRange(filter[cond.Field], "$lt", cond.Value)
		case OpLte:
			filter[cond.Field] = mergeRange(filter[cond.Field], "$lte", cond.Value)
		case OpGt:
			filter[cond.Field] = mergeRange(filter[cond.Field], "$gt", cond.Value)
		case OpGte:
			filter[cond.Field] = mergeRange(filter[cond.Field], "$gte", cond.Value)
		}
	}
	return filter
}

func mergeRange(existing any, op string, value any) bson.M {
	m, ok := existing.(bson.M)
	if !ok {
		m = bson.M{}
	}
	m[op] = value
	return m
}

// updateDocument translates field updates into a mongo update document,
// routing increments to $inc.
func updateDocument(fields map[string]any) bson.M {
	set := bson.M{}
	inc := bson.M{}
	for path, value := range fields {
		switch tv := value.(type) {
		case TimestampSentinel:
			set[path] = nowString()
		case IncrementValue:
			inc[path] = tv.By
		case map[string]any:
			// Sentinels can sit inside a map value, e.g. a denormalized
			// lastMessage summary carrying a server timestamp.
			set[path] = resolveForMongo(tv)
		default:
			set[path] = value
		}
	}
	update := bson.M{}
	if len(set) > 0 {
		update["$set"] = set
	}
	if len(inc) > 0 {
		update["$inc"] = inc
	}
	return update
}

// resolveForMongo rewrites sentinels for a full-document write. Timestamps
// are resolved at the adapter: replace writes have no server-side sentinel,
// and a single clock source keeps stored types uniform.
func resolveForMongo(data map[string]any) bson.M {
	out := bson.M{}
	for k, v := range data {
		switch tv := v.(type) {
		case TimestampSentinel:
			out[k] = nowString()
		case IncrementValue:
			out[k] = tv.By
		case map[string]any:
			out[k] = resolveForMongo(tv)
		default:
			out[k] = v
		}
	}
	return out
}

func nowString() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}

func docFromBson(id string, raw bson.M) Document {
	data := make(map[string]any, len(raw))
	for k, v := range raw {
		if k == "_id" {
			continue
		}
		data[k] = normalizeBsonValue(v)
	}
	return Document{ID: id, Data: data}
}

// normalizeBsonValue maps driver-decoded values onto the JSON-ish types the
// rest of the package traffics in.
func normalizeBsonValue(v any) any {
	switch tv := v.(type) {
	case bson.M:
		out := make(map[string]any, len(tv))
		for k, e := range tv {
			out[k] = normalizeBsonValue(e)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(tv))
		for k, e := range tv {
			out[k] = normalizeBsonValue(e)
		}
		return out
	case bson.A:
		out := make([]any, len(tv))
		for i, e := range tv {
			out[i] = normalizeBsonValue(e)
		}
		return out
	case []any:
		out := make([]any, len(tv))
		for i, e := range tv {
			out[i] = normalizeBsonValue(e)
		}
		return out
	case primitive.DateTime:
		return tv.Time().UTC().Format(time.RFC3339Nano)
	case primitive.ObjectID:
		return tv.Hex()
	case int32:
		return float64(tv)
	case int64:
		return float64(tv)
	default:
		return v
	}
}
