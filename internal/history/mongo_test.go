package history

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	mongodriver "go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

func TestMongoStoreSaveAssignsSequence(t *testing.T) {
	t.Parallel()

	coll := &fakeCollection{}
	s := newMongoStore(nil, coll, time.Second)

	first, err := s.Save(context.Background(), Message{SessionID: "s1", UserID: "u1", Actor: ActorUser, Content: "hello"})
	require.NoError(t, err)
	second, err := s.Save(context.Background(), Message{
		SessionID: "s1", UserID: "u1", Actor: ActorAgent, Content: "hi",
		ToolCalls:     []ToolCall{{ID: "c1", Name: "retrieve_kb", Args: map[string]any{"query": "x"}}},
		ToolResponses: []ToolResponse{{ToolCallID: "c1", Name: "retrieve_kb", Content: ErrorContent("tool not found")}},
	})
	require.NoError(t, err)

	assert.EqualValues(t, 1, first.Seq)
	assert.EqualValues(t, 2, second.Seq)
	assert.NotEqual(t, first.ID, second.ID)
	assert.True(t, second.Timestamp.After(first.Timestamp))
	assert.Equal(t, time.Duration(0), time.Duration(second.Timestamp.Nanosecond()%int(time.Millisecond)))
}

func TestMongoStoreLoadOrdersOldestFirst(t *testing.T) {
	t.Parallel()

	coll := &fakeCollection{}
	s := newMongoStore(nil, coll, time.Second)
	for _, content := range []string{"one", "two", "three", "four"} {
		_, err := s.Save(context.Background(), Message{SessionID: "s1", Actor: ActorUser, Content: content})
		require.NoError(t, err)
	}
	_, err := s.Save(context.Background(), Message{SessionID: "other", Actor: ActorUser, Content: "noise"})
	require.NoError(t, err)

	got, err := s.Load(context.Background(), "s1", 3)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "two", got[0].Content)
	assert.Equal(t, "four", got[2].Content)
}

func TestMongoStoreRoundTripsToolData(t *testing.T) {
	t.Parallel()

	coll := &fakeCollection{}
	s := newMongoStore(nil, coll, time.Second)
	_, err := s.Save(context.Background(), Message{
		SessionID: "s1", Actor: ActorAgent, Content: "answer", IsError: true,
		ToolCalls:     []ToolCall{{ID: "c1", Name: "retrieve_kb", Args: map[string]any{"query": "sepsis"}}},
		ToolResponses: []ToolResponse{{ToolCallID: "c1", Name: "retrieve_kb", Content: ErrorContent("boom")}},
	})
	require.NoError(t, err)

	got, err := s.Load(context.Background(), "s1", 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.True(t, got[0].IsError)
	require.Len(t, got[0].ToolCalls, 1)
	assert.Equal(t, "sepsis", got[0].ToolCalls[0].Args["query"])
	require.Len(t, got[0].ToolResponses, 1)
	assert.True(t, got[0].ToolResponses[0].IsError())
}

func TestMongoStoreToolDataIsEmbedded(t *testing.T) {
	t.Parallel()

	type passage struct {
		Text  string  `json:"text"`
		Score float64 `json:"score"`
	}

	coll := &fakeCollection{}
	s := newMongoStore(nil, coll, time.Second)
	_, err := s.Save(context.Background(), Message{
		SessionID: "s1", Actor: ActorAgent, Content: "answer",
		ToolCalls: []ToolCall{
			{ID: "c1", Name: "retrieve_kb", Args: map[string]any{"query": "sepsis", "filters": map[string]any{"source": "sepsis.md"}}},
			{ID: "c2", Name: "fetch_patient_data_logs", Args: map[string]any{"limit": 3}},
		},
		ToolResponses: []ToolResponse{
			{ToolCallID: "c1", Name: "retrieve_kb", Content: []passage{{Text: "Cultures before antibiotics.", Score: 0.9}}},
			{ToolCallID: "c2", Name: "fetch_patient_data_logs", Content: ErrorContent("db locked")},
		},
	})
	require.NoError(t, err)

	require.Len(t, coll.docs, 1)
	raw := coll.docs[0].raw
	assert.Equal(t, "retrieve_kb", raw.Lookup("tool_calls", "0", "name").StringValue())
	assert.Equal(t, "sepsis", raw.Lookup("tool_calls", "0", "args", "query").StringValue())
	assert.Equal(t, "db locked", raw.Lookup("tool_responses", "1", "content", "error").StringValue())
	assert.Equal(t, "Cultures before antibiotics.", raw.Lookup("tool_responses", "0", "content", "0", "text").StringValue())

	got, err := s.Load(context.Background(), "s1", 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	msg := got[0]

	assert.Equal(t, map[string]any{"source": "sepsis.md"}, msg.ToolCalls[0].Args["filters"])
	assert.Equal(t, float64(3), msg.ToolCalls[1].Args["limit"])
	assert.Equal(t, []any{map[string]any{"text": "Cultures before antibiotics.", "score": 0.9}}, msg.ToolResponses[0].Content)
	assert.True(t, msg.ToolResponses[1].IsError())
}

func TestMongoStoreRetriesOnDuplicateSeq(t *testing.T) {
	t.Parallel()

	coll := &fakeCollection{duplicates: 2}
	s := newMongoStore(nil, coll, time.Second)

	m, err := s.Save(context.Background(), Message{SessionID: "s1", Actor: ActorUser, Content: "x"})
	require.NoError(t, err)
	assert.EqualValues(t, 1, m.Seq)
	assert.Equal(t, 3, coll.inserts)
}

func TestMongoStoreGivesUpAfterContention(t *testing.T) {
	t.Parallel()

	coll := &fakeCollection{duplicates: maxSeqRetries}
	s := newMongoStore(nil, coll, time.Second)

	_, err := s.Save(context.Background(), Message{SessionID: "s1", Actor: ActorUser, Content: "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sequence contention")
}

func TestMongoStoreRejectsInvalid(t *testing.T) {
	t.Parallel()

	coll := &fakeCollection{}
	s := newMongoStore(nil, coll, time.Second)

	_, err := s.Save(context.Background(), Message{SessionID: "s1", Actor: "robot"})
	assert.True(t, errors.Is(err, ErrInvalidMessage))
	assert.Zero(t, coll.inserts)
}

func TestNewMongoStoreRequiresOptions(t *testing.T) {
	t.Parallel()

	_, err := NewMongoStore(MongoOptions{})
	require.Error(t, err)

	_, err = NewMongoStore(MongoOptions{Client: &mongodriver.Client{}})
	require.Error(t, err)
}

func TestEnsureIndexesIsUnique(t *testing.T) {
	t.Parallel()

	view := &fakeIndexView{}
	require.NoError(t, ensureIndexes(context.Background(), &fakeCollection{view: view}))
	require.NotNil(t, view.model.Options)
	require.NotNil(t, view.model.Options.Unique)
	assert.True(t, *view.model.Options.Unique)
}

// fakeCollection keeps BSON-encoded documents in memory and honors the
// session filter, seq sort and limit that MongoStore issues.
type fakeCollection struct {
	mu         sync.Mutex
	docs       []fakeDocument
	next       byte
	inserts    int
	duplicates int
	view       *fakeIndexView
}

type fakeDocument struct {
	sessionID string
	seq       int64
	raw       bson.Raw
}

func (c *fakeCollection) InsertOne(_ context.Context, document any, _ ...*options.InsertOneOptions) (*mongodriver.InsertOneResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.inserts++
	if c.duplicates > 0 {
		c.duplicates--
		return nil, mongodriver.WriteException{WriteErrors: []mongodriver.WriteError{{Code: 11000, Message: "duplicate key"}}}
	}

	doc := document.(messageDocument)
	c.next++
	doc.ID = primitive.ObjectID{11: c.next}
	raw, err := bson.Marshal(doc)
	if err != nil {
		return nil, err
	}
	c.docs = append(c.docs, fakeDocument{sessionID: doc.SessionID, seq: doc.Seq, raw: raw})
	return &mongodriver.InsertOneResult{InsertedID: doc.ID}, nil
}

func (c *fakeCollection) Find(_ context.Context, filter any, opts ...*options.FindOptions) (cursor, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	f, _ := filter.(bson.M)
	sessionID, _ := f["session_id"].(string)

	var matched []fakeDocument
	for _, d := range c.docs {
		if d.sessionID == sessionID {
			matched = append(matched, d)
		}
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].seq > matched[j].seq })

	if len(opts) > 0 && opts[0] != nil && opts[0].Limit != nil {
		if limit := int(*opts[0].Limit); limit > 0 && len(matched) > limit {
			matched = matched[:limit]
		}
	}
	return &fakeCursor{docs: matched}, nil
}

func (c *fakeCollection) Indexes() indexView {
	if c.view == nil {
		return &fakeIndexView{}
	}
	return c.view
}

type fakeIndexView struct {
	model mongodriver.IndexModel
}

func (v *fakeIndexView) CreateOne(_ context.Context, model mongodriver.IndexModel, _ ...*options.CreateIndexesOptions) (string, error) {
	v.model = model
	return "session_id_1_seq_1", nil
}

type fakeCursor struct {
	docs []fakeDocument
	pos  int
}

func (c *fakeCursor) Next(context.Context) bool {
	if c.pos >= len(c.docs) {
		return false
	}
	c.pos++
	return true
}

func (c *fakeCursor) Decode(val any) error {
	return bson.Unmarshal(c.docs[c.pos-1].raw, val)
}

func (c *fakeCursor) Err() error { return nil }

func (c *fakeCursor) Close(context.Context) error { return nil }
