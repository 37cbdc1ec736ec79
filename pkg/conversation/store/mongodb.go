package store

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/Protocol-Lattice/chat-agent/pkg/conversation"
)

// Mongo keeps conversations and messages in two collections. Message order
// comes from a per-database sequence so equal timestamps replay in insertion
// order.
type Mongo struct {
	client        *mongo.Client
	conversations *mongo.Collection
	messages      *mongo.Collection
	counters      *mongo.Collection
}

type mongoConversation struct {
	ID        string    `bson:"_id"`
	Title     string    `bson:"title"`
	CreatedAt time.Time `bson:"created_at"`
	UpdatedAt time.Time `bson:"updated_at"`
	// UpdatedMicros keeps sub-millisecond ordering that BSON dates drop.
	UpdatedMicros int64 `bson:"updated_us"`
}

type mongoMessage struct {
	Seq            int64     `bson:"_id"`
	ConversationID string    `bson:"conversation_id"`
	Role           string    `bson:"role"`
	Content        string    `bson:"content"`
	ToolCalls      string    `bson:"tool_calls"`
	ToolCallID     string    `bson:"tool_call_id"`
	ToolName       string    `bson:"tool_name"`
	Timestamp      time.Time `bson:"timestamp"`
	Micros         int64     `bson:"timestamp_us"`
}

const mongoCloseTimeout = 5 * time.Second

// NewMongo connects to MongoDB and ensures the indexes exist.
func NewMongo(ctx context.Context, uri, database string) (*Mongo, error) {
	if uri == "" {
		return nil, errors.New("mongo uri is required")
	}
	if database == "" {
		return nil, errors.New("mongo database name is required")
	}
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, err
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, err
	}
	db := client.Database(database)
	m := &Mongo{
		client:        client,
		conversations: db.Collection("conversations"),
		messages:      db.Collection("messages"),
		counters:      db.Collection("counters"),
	}
	if err := m.createIndexes(ctx); err != nil {
		_ = client.Disconnect(ctx)
		return nil, err
	}
	return m, nil
}

func (m *Mongo) createIndexes(ctx context.Context) error {
	if _, err := m.messages.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "conversation_id", Value: 1}, {Key: "timestamp_us", Value: 1}, {Key: "_id", Value: 1}},
		Options: options.Index().SetName("conversation_ts"),
	}); err != nil {
		return fmt.Errorf("create message index: %w", err)
	}
	if _, err := m.conversations.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "updated_us", Value: -1}},
		Options: options.Index().SetName("updated"),
	}); err != nil {
		return fmt.Errorf("create conversation index: %w", err)
	}
	return nil
}

func (m *Mongo) nextSeq(ctx context.Context) (int64, error) {
	opts := options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After)
	res := m.counters.FindOneAndUpdate(ctx, bson.M{"_id": m.messages.Name()}, bson.M{"$inc": bson.M{"seq": 1}}, opts)
	if res.Err() != nil {
		return 0, res.Err()
	}
	var doc struct {
		Seq int64 `bson:"seq"`
	}
	if err := res.Decode(&doc); err != nil {
		return 0, err
	}
	return doc.Seq, nil
}

func (doc mongoConversation) toConversation() conversation.Conversation {
	return conversation.Conversation{
		ID:        doc.ID,
		Title:     doc.Title,
		CreatedAt: doc.CreatedAt.UTC(),
		UpdatedAt: time.UnixMicro(doc.UpdatedMicros).UTC(),
	}
}

func (m *Mongo) CreateConversation(ctx context.Context, c conversation.Conversation) error {
	_, err := m.conversations.UpdateOne(ctx,
		bson.M{"_id": c.ID},
		bson.M{"$setOnInsert": bson.M{
			"title":      c.Title,
			"created_at": c.CreatedAt,
			"updated_at": c.UpdatedAt,
			"updated_us": c.UpdatedAt.UnixMicro(),
		}},
		options.Update().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("insert conversation: %w", err)
	}
	return nil
}

func (m *Mongo) InsertMessage(ctx context.Context, id string, msg conversation.Message) error {
	calls, err := conversation.EncodeToolCalls(msg.ToolCalls)
	if err != nil {
		return err
	}
	res, err := m.conversations.UpdateByID(ctx, id, bson.M{"$set": bson.M{
		"updated_at": msg.Timestamp,
		"updated_us": msg.Timestamp.UnixMicro(),
	}})
	if err != nil {
		return fmt.Errorf("touch conversation: %w", err)
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("insert message: %w", conversation.ErrConversationNotFound)
	}
	seq, err := m.nextSeq(ctx)
	if err != nil {
		return fmt.Errorf("next message id: %w", err)
	}
	_, err = m.messages.InsertOne(ctx, mongoMessage{
		Seq:            seq,
		ConversationID: id,
		Role:           string(msg.Role),
		Content:        msg.Content,
		ToolCalls:      calls,
		ToolCallID:     msg.ToolCallID,
		ToolName:       msg.ToolName,
		Timestamp:      msg.Timestamp,
		Micros:         msg.Timestamp.UnixMicro(),
	})
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

func (m *Mongo) Messages(ctx context.Context, id string) ([]conversation.Message, error) {
	opts := options.Find().SetSort(bson.D{{Key: "timestamp_us", Value: 1}, {Key: "_id", Value: 1}})
	cursor, err := m.messages.Find(ctx, bson.M{"conversation_id": id}, opts)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer cursor.Close(ctx)

	msgs := []conversation.Message{}
	for cursor.Next(ctx) {
		var doc mongoMessage
		if err := cursor.Decode(&doc); err != nil {
			return nil, err
		}
		calls, err := conversation.DecodeToolCalls(doc.ToolCalls)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, conversation.Message{
			Role:       conversation.Role(doc.Role),
			Content:    doc.Content,
			ToolCalls:  calls,
			ToolCallID: doc.ToolCallID,
			ToolName:   doc.ToolName,
			Timestamp:  time.UnixMicro(doc.Micros).UTC(),
		})
	}
	return msgs, cursor.Err()
}

func (m *Mongo) count(ctx context.Context, id string) (int, error) {
	n, err := m.messages.CountDocuments(ctx, bson.M{"conversation_id": id})
	return int(n), err
}

func (m *Mongo) Conversation(ctx context.Context, id string) (conversation.Conversation, error) {
	var doc mongoConversation
	err := m.conversations.FindOne(ctx, bson.M{"_id": id}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return conversation.Conversation{}, conversation.ErrConversationNotFound
	}
	if err != nil {
		return conversation.Conversation{}, fmt.Errorf("query conversation: %w", err)
	}
	c := doc.toConversation()
	if c.MessageCount, err = m.count(ctx, id); err != nil {
		return conversation.Conversation{}, fmt.Errorf("count messages: %w", err)
	}
	return c, nil
}

func (m *Mongo) ListConversations(ctx context.Context) ([]conversation.Conversation, error) {
	opts := options.Find().SetSort(bson.D{{Key: "updated_us", Value: -1}, {Key: "_id", Value: 1}})
	cursor, err := m.conversations.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, fmt.Errorf("query conversations: %w", err)
	}
	defer cursor.Close(ctx)

	convs := []conversation.Conversation{}
	for cursor.Next(ctx) {
		var doc mongoConversation
		if err := cursor.Decode(&doc); err != nil {
			return nil, err
		}
		c := doc.toConversation()
		if c.MessageCount, err = m.count(ctx, c.ID); err != nil {
			return nil, fmt.Errorf("count messages: %w", err)
		}
		convs = append(convs, c)
	}
	return convs, cursor.Err()
}

func (m *Mongo) DeleteConversation(ctx context.Context, id string) (bool, error) {
	if _, err := m.messages.DeleteMany(ctx, bson.M{"conversation_id": id}); err != nil {
		return false, fmt.Errorf("delete messages: %w", err)
	}
	res, err := m.conversations.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return false, fmt.Errorf("delete conversation: %w", err)
	}
	return res.DeletedCount > 0, nil
}

func (m *Mongo) ClearMessages(ctx context.Context, id string) error {
	n, err := m.conversations.CountDocuments(ctx, bson.M{"_id": id})
	if err != nil {
		return fmt.Errorf("query conversation: %w", err)
	}
	if n == 0 {
		return conversation.ErrConversationNotFound
	}
	if _, err := m.messages.DeleteMany(ctx, bson.M{"conversation_id": id}); err != nil {
		return fmt.Errorf("clear messages: %w", err)
	}
	return nil
}

func (m *Mongo) UpdateTitle(ctx context.Context, id, title string, at time.Time) error {
	res, err := m.conversations.UpdateByID(ctx, id, bson.M{"$set": bson.M{
		"title":      title,
		"updated_at": at,
		"updated_us": at.UnixMicro(),
	}})
	if err != nil {
		return fmt.Errorf("update title: %w", err)
	}
	if res.MatchedCount == 0 {
		return conversation.ErrConversationNotFound
	}
	return nil
}

func (m *Mongo) Search(ctx context.Context, query string, limit int) ([]conversation.SearchHit, error) {
	pattern := containsRegex(query)

	// First matching message per conversation.
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: bson.M{"content": pattern}}},
		{{Key: "$sort", Value: bson.D{{Key: "timestamp_us", Value: 1}, {Key: "_id", Value: 1}}}},
		{{Key: "$group", Value: bson.M{
			"_id":     "$conversation_id",
			"content": bson.M{"$first": "$content"},
		}}},
	}
	cursor, err := m.messages.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, fmt.Errorf("search messages: %w", err)
	}
	snippets := make(map[string]string)
	for cursor.Next(ctx) {
		var doc struct {
			ID      string `bson:"_id"`
			Content string `bson:"content"`
		}
		if err := cursor.Decode(&doc); err != nil {
			cursor.Close(ctx)
			return nil, err
		}
		snippets[doc.ID] = doc.Content
	}
	if err := cursor.Err(); err != nil {
		cursor.Close(ctx)
		return nil, err
	}
	cursor.Close(ctx)

	ids := make([]string, 0, len(snippets))
	for id := range snippets {
		ids = append(ids, id)
	}
	filter := bson.M{"$or": bson.A{
		bson.M{"title": pattern},
		bson.M{"_id": bson.M{"$in": ids}},
	}}
	opts := options.Find().
		SetSort(bson.D{{Key: "updated_us", Value: -1}, {Key: "_id", Value: 1}}).
		SetLimit(int64(limit))
	cur, err := m.conversations.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("search conversations: %w", err)
	}
	defer cur.Close(ctx)

	hits := []conversation.SearchHit{}
	for cur.Next(ctx) {
		var doc mongoConversation
		if err := cur.Decode(&doc); err != nil {
			return nil, err
		}
		c := doc.toConversation()
		hits = append(hits, conversation.SearchHit{
			ConversationID: c.ID,
			Title:          c.Title,
			UpdatedAt:      c.UpdatedAt,
			Snippet:        snippets[c.ID],
		})
	}
	return hits, cur.Err()
}

func containsRegex(query string) bson.M {
	return bson.M{"$regex": regexp.QuoteMeta(query), "$options": "i"}
}

func (m *Mongo) Stats(ctx context.Context) (conversation.Stats, error) {
	st := conversation.Stats{MessagesByRole: make(map[conversation.Role]int)}
	n, err := m.conversations.CountDocuments(ctx, bson.M{})
	if err != nil {
		return st, fmt.Errorf("count conversations: %w", err)
	}
	st.TotalConversations = int(n)

	cursor, err := m.messages.Aggregate(ctx, mongo.Pipeline{
		{{Key: "$group", Value: bson.M{"_id": "$role", "n": bson.M{"$sum": 1}}}},
	})
	if err != nil {
		return st, fmt.Errorf("count messages: %w", err)
	}
	defer cursor.Close(ctx)
	for cursor.Next(ctx) {
		var doc struct {
			Role string `bson:"_id"`
			N    int    `bson:"n"`
		}
		if err := cursor.Decode(&doc); err != nil {
			return st, err
		}
		st.MessagesByRole[conversation.Role(doc.Role)] = doc.N
		st.TotalMessages += doc.N
	}
	return st, cursor.Err()
}

func (m *Mongo) Close() error {
	if m == nil || m.client == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), mongoCloseTimeout)
	defer cancel()
	return m.client.Disconnect(ctx)
}

var _ conversation.Backend = (*Mongo)(nil)
