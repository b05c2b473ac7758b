package docstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// RemoteStore keeps documents in MongoDB, one collection per logical
// collection, with the document id as _id. Every driver failure other than
// a missing document is reported as an UnavailableError.
type RemoteStore struct {
	client *mongo.Client
	db     *mongo.Database
}

// DialRemote connects to uri and selects database. The connection is
// verified with a ping bounded by timeout; a failed ping still returns the
// store so later calls can succeed once the server is reachable.
func DialRemote(ctx context.Context, uri, database string, timeout time.Duration) (*RemoteStore, error) {
	opts := options.Client().
		ApplyURI(uri).
		SetConnectTimeout(timeout).
		SetServerSelectionTimeout(timeout)
	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("connecting to remote store: %w", err)
	}
	return NewRemoteStore(client, database), nil
}

// NewRemoteStore wraps an existing client.
func NewRemoteStore(client *mongo.Client, database string) *RemoteStore {
	return &RemoteStore{client: client, db: client.Database(database)}
}

// Database exposes the underlying database for GridFS buckets.
func (r *RemoteStore) Database() *mongo.Database { return r.db }

// Ping checks that the server is reachable.
func (r *RemoteStore) Ping(ctx context.Context) error {
	if err := r.client.Ping(ctx, nil); err != nil {
		return r.unavailable("ping", err)
	}
	return nil
}

// Disconnect closes the client's connections.
func (r *RemoteStore) Disconnect(ctx context.Context) error {
	return r.client.Disconnect(ctx)
}

// EnsureIndexes creates ascending single-field indexes, keyed by collection.
func (r *RemoteStore) EnsureIndexes(ctx context.Context, indexes map[string][]string) error {
	for collection, fields := range indexes {
		models := make([]mongo.IndexModel, 0, len(fields))
		for _, f := range fields {
			models = append(models, mongo.IndexModel{Keys: bson.D{{Key: f, Value: 1}}})
		}
		models = append(models, mongo.IndexModel{Keys: bson.D{{Key: keySeq, Value: 1}}})
		if _, err := r.db.Collection(collection).Indexes().CreateMany(ctx, models); err != nil {
			return r.unavailable("ensure indexes", fmt.Errorf("%s: %w", collection, err))
		}
	}
	return nil
}

func (r *RemoteStore) Create(ctx context.Context, collection, id string, doc Document) (string, error) {
	if id == "" {
		id = uuid.NewString()
	}
	coll := r.db.Collection(collection)

	// Keep the original insertion position on overwrite.
	seq := nextSeq()
	var existing struct {
		Seq int64 `bson:"_seq"`
	}
	err := coll.FindOne(ctx, bson.M{keyID: id}, options.FindOne().SetProjection(bson.M{keySeq: 1})).Decode(&existing)
	switch {
	case err == nil && existing.Seq > 0:
		seq = existing.Seq
	case err != nil && !errors.Is(err, mongo.ErrNoDocuments):
		return "", r.unavailable("create", err)
	}

	_, err = coll.ReplaceOne(ctx, bson.M{keyID: id}, withMeta(doc, id, seq), options.Replace().SetUpsert(true))
	if err != nil {
		return "", r.unavailable("create", err)
	}
	return id, nil
}

func (r *RemoteStore) Get(ctx context.Context, collection, id string) (Document, error) {
	raw, err := r.db.Collection(collection).FindOne(ctx, bson.M{keyID: id}).Raw()
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, r.unavailable("get", err)
	}
	doc, err := fromRaw(raw)
	if err != nil {
		return nil, r.unavailable("get", err)
	}
	return public(doc), nil
}

func (r *RemoteStore) List(ctx context.Context, collection string, q Query) ([]Document, error) {
	filter := bson.M{}
	for k, v := range q.Filter {
		filter[k] = normalizeValue(v)
	}
	sort := bson.D{}
	for _, f := range q.Sort {
		dir := 1
		if f.Desc {
			dir = -1
		}
		sort = append(sort, bson.E{Key: f.Field, Value: dir})
	}
	sort = append(sort, bson.E{Key: keySeq, Value: 1})

	opts := options.Find().SetSort(sort)
	if q.Limit > 0 {
		opts.SetLimit(int64(q.Limit))
	}

	cur, err := r.db.Collection(collection).Find(ctx, filter, opts)
	if err != nil {
		return nil, r.unavailable("list", err)
	}
	defer cur.Close(ctx)

	var out []Document
	for cur.Next(ctx) {
		doc, err := fromRaw(cur.Current)
		if err != nil {
			return nil, r.unavailable("list", err)
		}
		if !q.KeepSeq {
			doc = public(doc)
		}
		out = append(out, doc)
	}
	if err := cur.Err(); err != nil {
		return nil, r.unavailable("list", err)
	}
	return out, nil
}

func (r *RemoteStore) Update(ctx context.Context, collection, id string, patch Document) error {
	fields := patch.Clone()
	if len(fields) == 0 {
		_, err := r.Get(ctx, collection, id)
		return err
	}
	res, err := r.db.Collection(collection).UpdateOne(ctx, bson.M{keyID: id}, bson.M{"$set": fields})
	if err != nil {
		return r.unavailable("update", err)
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *RemoteStore) unavailable(op string, err error) error {
	return &UnavailableError{Backend: "remote", Op: op, Err: err}
}

// fromRaw converts a BSON document to a JSON-normalized Document through
// relaxed extended JSON, so numbers come back as float64 just like the
// local store.
func fromRaw(raw bson.Raw) (Document, error) {
	b, err := bson.MarshalExtJSON(raw, false, false)
	if err != nil {
		return nil, fmt.Errorf("converting bson: %w", err)
	}
	var doc Document
	if err := json.Unmarshal(b, &doc); err != nil {
		return nil, fmt.Errorf("converting bson: %w", err)
	}
	return doc, nil
}
