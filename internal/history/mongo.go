package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	mongodriver "go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

type (
	// MongoOptions configures MongoStore.
	MongoOptions struct {
		Client     *mongodriver.Client
		Database   string
		Collection string
		Timeout    time.Duration
	}

	// MongoStore is a MongoDB-backed message store. Sequence numbers are
	// guarded by a unique (session_id, seq) index, so concurrent writers
	// in different processes cannot interleave a session.
	MongoStore struct {
		mongo   *mongodriver.Client
		coll    collection
		timeout time.Duration
		now     func() time.Time
	}

	messageDocument struct {
		ID            primitive.ObjectID `bson:"_id,omitempty"`
		SessionID     string             `bson:"session_id"`
		UserID        string             `bson:"user_id"`
		Actor         string             `bson:"actor"`
		Content       string             `bson:"content"`
		Seq           int64              `bson:"seq"`
		Timestamp     time.Time          `bson:"timestamp"`
		ToolCalls     []toolCallDocument     `bson:"tool_calls,omitempty"`
		ToolResponses []toolResponseDocument `bson:"tool_responses,omitempty"`
		IsError       bool                   `bson:"is_error"`
	}

	// Tool data is stored as embedded documents so records can be queried
	// by tool name or error payload.
	toolCallDocument struct {
		ID   string         `bson:"id"`
		Name string         `bson:"name"`
		Args map[string]any `bson:"args,omitempty"`
	}

	toolResponseDocument struct {
		ToolCallID string `bson:"tool_call_id"`
		Name       string `bson:"name"`
		Content    any    `bson:"content"`
	}
)

const (
	defaultMongoCollection = "chat_messages"
	defaultMongoTimeout    = 5 * time.Second

	// maxSeqRetries bounds how often Save re-reads the session head after
	// losing a sequence race to another writer.
	maxSeqRetries = 5
)

// NewMongoStore returns a store backed by the provided MongoDB client.
func NewMongoStore(opts MongoOptions) (*MongoStore, error) {
	if opts.Client == nil {
		return nil, errors.New("mongo client is required")
	}
	if opts.Database == "" {
		return nil, errors.New("database name is required")
	}
	name := opts.Collection
	if name == "" {
		name = defaultMongoCollection
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultMongoTimeout
	}

	wrapper := mongoCollection{coll: opts.Client.Database(opts.Database).Collection(name)}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := ensureIndexes(ctx, wrapper); err != nil {
		return nil, fmt.Errorf("ensure indexes: %w", err)
	}
	return newMongoStore(opts.Client, wrapper, timeout), nil
}

func newMongoStore(client *mongodriver.Client, coll collection, timeout time.Duration) *MongoStore {
	if timeout <= 0 {
		timeout = defaultMongoTimeout
	}
	return &MongoStore{mongo: client, coll: coll, timeout: timeout, now: time.Now}
}

// Ping verifies the primary is reachable.
func (s *MongoStore) Ping(ctx context.Context) error {
	if s.mongo == nil {
		return errors.New("mongo client is not configured")
	}
	return s.mongo.Ping(ctx, readpref.Primary())
}

// Save appends msg to its session.
func (s *MongoStore) Save(ctx context.Context, msg Message) (Message, error) {
	if err := validate(msg); err != nil {
		return Message{}, err
	}

	doc := messageDocument{
		SessionID: msg.SessionID,
		UserID:    msg.UserID,
		Actor:     string(msg.Actor),
		Content:   msg.Content,
		IsError:   msg.IsError,
	}
	for _, c := range msg.ToolCalls {
		args, err := plainJSON(c.Args)
		if err != nil {
			return Message{}, fmt.Errorf("encode arguments of tool call %s: %w", c.ID, err)
		}
		m, _ := args.(map[string]any)
		doc.ToolCalls = append(doc.ToolCalls, toolCallDocument{ID: c.ID, Name: c.Name, Args: m})
	}
	for _, r := range msg.ToolResponses {
		content, err := plainJSON(r.Content)
		if err != nil {
			return Message{}, fmt.Errorf("encode response to tool call %s: %w", r.ToolCallID, err)
		}
		doc.ToolResponses = append(doc.ToolResponses, toolResponseDocument{ToolCallID: r.ToolCallID, Name: r.Name, Content: content})
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	for attempt := 0; attempt < maxSeqRetries; attempt++ {
		head, err := s.head(ctx, msg.SessionID)
		if err != nil {
			return Message{}, err
		}

		doc.Seq = head.Seq + 1
		doc.Timestamp = nextTimestamp(s.now(), head.Timestamp, time.Millisecond)

		res, err := s.coll.InsertOne(ctx, doc)
		if mongodriver.IsDuplicateKeyError(err) {
			continue
		}
		if err != nil {
			return Message{}, fmt.Errorf("insert message: %w", err)
		}

		oid, ok := res.InsertedID.(primitive.ObjectID)
		if !ok {
			return Message{}, fmt.Errorf("unexpected inserted id type %T", res.InsertedID)
		}

		stored := cloneMessage(msg)
		stored.ID = oid.Hex()
		stored.Seq = doc.Seq
		stored.Timestamp = doc.Timestamp
		return stored, nil
	}
	return Message{}, fmt.Errorf("append to session %s: sequence contention after %d attempts", msg.SessionID, maxSeqRetries)
}

// head returns the newest document of a session, or a zero document when
// the session is empty.
func (s *MongoStore) head(ctx context.Context, sessionID string) (doc messageDocument, err error) {
	cur, err := s.coll.Find(ctx, bson.M{"session_id": sessionID}, options.Find().
		SetSort(bson.D{{Key: "seq", Value: -1}}).
		SetLimit(1),
	)
	if err != nil {
		return messageDocument{}, fmt.Errorf("read session head: %w", err)
	}
	defer func() {
		if cerr := cur.Close(ctx); err == nil && cerr != nil {
			err = cerr
		}
	}()

	if cur.Next(ctx) {
		if err := cur.Decode(&doc); err != nil {
			return messageDocument{}, fmt.Errorf("decode session head: %w", err)
		}
	}
	return doc, cur.Err()
}

// Load returns the newest limit messages of a session, oldest first.
func (s *MongoStore) Load(ctx context.Context, sessionID string, limit int) (msgs []Message, err error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	cur, err := s.coll.Find(ctx, bson.M{"session_id": sessionID}, options.Find().
		SetSort(bson.D{{Key: "seq", Value: -1}}).
		SetLimit(int64(normalizeLimit(limit))),
	)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer func() {
		if cerr := cur.Close(ctx); err == nil && cerr != nil {
			err = cerr
		}
	}()

	var newestFirst []Message
	for cur.Next(ctx) {
		var doc messageDocument
		if err := cur.Decode(&doc); err != nil {
			return nil, fmt.Errorf("decode message: %w", err)
		}
		newestFirst = append(newestFirst, doc.message())
	}
	if err := cur.Err(); err != nil {
		return nil, err
	}

	msgs = make([]Message, len(newestFirst))
	for i, m := range newestFirst {
		msgs[len(newestFirst)-1-i] = m
	}
	return msgs, nil
}

func (d messageDocument) message() Message {
	m := Message{
		ID:        d.ID.Hex(),
		SessionID: d.SessionID,
		UserID:    d.UserID,
		Actor:     Actor(d.Actor),
		Content:   d.Content,
		Seq:       d.Seq,
		Timestamp: d.Timestamp.UTC(),
		IsError:   d.IsError,
	}
	for _, c := range d.ToolCalls {
		args, _ := fromBSON(c.Args).(map[string]any)
		if args == nil {
			args = map[string]any{}
		}
		m.ToolCalls = append(m.ToolCalls, ToolCall{ID: c.ID, Name: c.Name, Args: args})
	}
	for _, r := range d.ToolResponses {
		m.ToolResponses = append(m.ToolResponses, ToolResponse{ToolCallID: r.ToolCallID, Name: r.Name, Content: fromBSON(r.Content)})
	}
	return m
}

// plainJSON reduces v to the generic values JSON decoding produces, so
// typed tool results are stored the same way the SQLite store keeps them.
func plainJSON(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// fromBSON converts decoded BSON containers back to plain maps and slices.
func fromBSON(v any) any {
	switch t := v.(type) {
	case primitive.D:
		m := make(map[string]any, len(t))
		for _, e := range t {
			m[e.Key] = fromBSON(e.Value)
		}
		return m
	case primitive.M:
		return fromBSON(map[string]any(t))
	case map[string]any:
		m := make(map[string]any, len(t))
		for k, val := range t {
			m[k] = fromBSON(val)
		}
		return m
	case primitive.A:
		return fromBSON([]any(t))
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = fromBSON(val)
		}
		return out
	case int32:
		return float64(t)
	case int64:
		return float64(t)
	default:
		return v
	}
}

func (s *MongoStore) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.timeout)
}

func ensureIndexes(ctx context.Context, coll collection) error {
	index := mongodriver.IndexModel{
		Keys: bson.D{
			{Key: "session_id", Value: 1},
			{Key: "seq", Value: 1},
		},
		Options: options.Index().SetUnique(true),
	}
	_, err := coll.Indexes().CreateOne(ctx, index)
	return err
}

type collection interface {
	InsertOne(ctx context.Context, document any, opts ...*options.InsertOneOptions) (*mongodriver.InsertOneResult, error)
	Find(ctx context.Context, filter any, opts ...*options.FindOptions) (cursor, error)
	Indexes() indexView
}

type indexView interface {
	CreateOne(ctx context.Context, model mongodriver.IndexModel, opts ...*options.CreateIndexesOptions) (string, error)
}

type cursor interface {
	Next(ctx context.Context) bool
	Decode(val any) error
	Err() error
	Close(ctx context.Context) error
}

type mongoCollection struct {
	coll *mongodriver.Collection
}

func (c mongoCollection) InsertOne(ctx context.Context, document any, opts ...*options.InsertOneOptions) (*mongodriver.InsertOneResult, error) {
	return c.coll.InsertOne(ctx, document, opts...)
}

func (c mongoCollection) Find(ctx context.Context, filter any, opts ...*options.FindOptions) (cursor, error) {
	cur, err := c.coll.Find(ctx, filter, opts...)
	if err != nil {
		return nil, err
	}
	return cur, nil
}

func (c mongoCollection) Indexes() indexView {
	return c.coll.Indexes()
}
