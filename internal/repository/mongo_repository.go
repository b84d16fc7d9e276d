package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/bassista/go_revenue/internal/logger"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoDatabase maps the path-addressed document model onto MongoDB:
// collection "transacoes/2024/05" becomes collection "transacoes.2024.05" and
// document "cache/revenue_cache" is the document with _id "revenue_cache" in
// collection "cache". Change subscriptions use change streams, which need a
// replica set.
type MongoDatabase struct {
	client *mongo.Client
	db     *mongo.Database
}

// OpenMongo is the Opener of the "mongo" backend.
func OpenMongo(ctx context.Context, cred json.RawMessage) (Database, error) {
	var mc MongoCredential
	if err := decodeCredential(cred, &mc); err != nil {
		return nil, err
	}

	clientOptions := options.Client().ApplyURI(mc.URI).
		SetConnectTimeout(5 * time.Second).
		SetSocketTimeout(10 * time.Second)
	client, err := mongo.Connect(ctx, clientOptions)
	if err != nil {
		return nil, credentialError("connect: %v", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, readError("ping", mc.Database, err)
	}

	logger.WithComponent("mongo").Infof("connected to mongo database %s", mc.Database)
	return &MongoDatabase{client: client, db: client.Database(mc.Database)}, nil
}

// MongoCollectionName converts a slash separated collection path to a
// MongoDB collection name.
func MongoCollectionName(path string) string {
	return strings.ReplaceAll(strings.Trim(path, "/"), "/", ".")
}

func (m *MongoDatabase) Stream(ctx context.Context, collection string, filter *Filter) ([]Document, error) {
	query := bson.M{}
	if filter != nil {
		query[filter.Field] = filter.Value
	}

	cur, err := m.db.Collection(MongoCollectionName(collection)).Find(ctx, query)
	if err != nil {
		return nil, readError("stream", collection, err)
	}
	var raw []bson.M
	if err := cur.All(ctx, &raw); err != nil {
		return nil, readError("stream", collection, err)
	}

	out := make([]Document, 0, len(raw))
	for _, doc := range raw {
		id := mongoID(doc["_id"])
		delete(doc, "_id")
		out = append(out, Document{ID: id, Data: normalizeBSONMap(doc)})
	}
	return out, nil
}

func (m *MongoDatabase) GetDocument(ctx context.Context, path string) (map[string]any, bool, error) {
	collection, id, err := SplitDocumentPath(path)
	if err != nil {
		return nil, false, readError("get", path, err)
	}

	var doc bson.M
	err = m.db.Collection(MongoCollectionName(collection)).FindOne(ctx, bson.M{"_id": id}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, readError("get", path, err)
	}
	delete(doc, "_id")
	return normalizeBSONMap(doc), true, nil
}

// SetDocument replaces the whole document, inserting it when missing.
func (m *MongoDatabase) SetDocument(ctx context.Context, path string, data map[string]any) error {
	collection, id, err := SplitDocumentPath(path)
	if err != nil {
		return writeError("set", path, err)
	}

	doc := bson.M{"_id": id}
	for k, v := range data {
		doc[k] = v
	}
	_, err = m.db.Collection(MongoCollectionName(collection)).
		ReplaceOne(ctx, bson.M{"_id": id}, doc, options.Replace().SetUpsert(true))
	if err != nil {
		return writeError("set", path, err)
	}
	return nil
}

type mongoChange struct {
	DocumentKey struct {
		ID any `bson:"_id"`
	} `bson:"documentKey"`
	ClusterTime primitive.Timestamp `bson:"clusterTime"`
}

func (m *MongoDatabase) Subscribe(ctx context.Context, collection string, onChange func(ChangeEvent)) (Subscription, error) {
	subCtx, cancel := context.WithCancel(ctx)
	cs, err := m.db.Collection(MongoCollectionName(collection)).Watch(subCtx, mongo.Pipeline{})
	if err != nil {
		cancel()
		return nil, fmt.Errorf("subscribe %s: %w", collection, err)
	}

	go func() {
		defer cs.Close(context.Background())
		for cs.Next(subCtx) {
			ev, err := decodeMongoChange(collection, cs.Current)
			if err != nil {
				logger.WithComponent("mongo").Warnf("decode change on %s: %v", collection, err)
				continue
			}
			onChange(ev)
		}
		if err := cs.Err(); err != nil && subCtx.Err() == nil {
			logger.WithComponent("mongo").Errorf("change stream on %s failed: %v", collection, err)
			return
		}
		logger.WithComponent("mongo").Debugf("change stream on %s closed", collection)
	}()

	logger.WithComponent("mongo").Debugf("subscribed to %s", collection)
	return cancelSubscription(cancel), nil
}

// decodeMongoChange converts one change stream document into a change event.
func decodeMongoChange(collection string, raw bson.Raw) (ChangeEvent, error) {
	var ch mongoChange
	if err := bson.Unmarshal(raw, &ch); err != nil {
		return ChangeEvent{}, err
	}
	if ch.DocumentKey.ID == nil {
		return ChangeEvent{}, errors.New("change without document key")
	}
	return ChangeEvent{
		Collection:  collection,
		DocumentIDs: []string{mongoID(ch.DocumentKey.ID)},
		ReadTime:    time.Unix(int64(ch.ClusterTime.T), 0),
	}, nil
}

func (m *MongoDatabase) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return m.client.Disconnect(ctx)
}

func mongoID(v any) string {
	switch id := v.(type) {
	case string:
		return id
	case primitive.ObjectID:
		return id.Hex()
	default:
		return fmt.Sprint(v)
	}
}

func normalizeBSONMap(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = normalizeBSON(v)
	}
	return out
}

// normalizeBSON converts driver types into the plain Go values the core
// understands (maps, slices, time.Time, int64, float64).
func normalizeBSON(v any) any {
	switch t := v.(type) {
	case bson.M:
		return normalizeBSONMap(t)
	case map[string]any:
		return normalizeBSONMap(t)
	case bson.D:
		out := make(map[string]any, len(t))
		for _, e := range t {
			out[e.Key] = normalizeBSON(e.Value)
		}
		return out
	case bson.A:
		out := make([]any, len(t))
		for i := range t {
			out[i] = normalizeBSON(t[i])
		}
		return out
	case primitive.DateTime:
		return t.Time()
	case primitive.ObjectID:
		return t.Hex()
	case primitive.Decimal128:
		f, err := strconv.ParseFloat(t.String(), 64)
		if err != nil {
			return t.String()
		}
		return f
	case int32:
		return int64(t)
	default:
		return v
	}
}
