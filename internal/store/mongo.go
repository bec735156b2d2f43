package store

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

const (
	messagesCollection = "messages"
	memoryCollection   = "memory"
	chatInfoCollection = "chat_info"

	memoryUpdateRetries = 5
)

// Mongo keeps the messages, memory and chat_info collections in one database.
type Mongo struct {
	client   *mongo.Client
	messages *mongo.Collection
	memory   *mongo.Collection
	chatInfo *mongo.Collection
}

type messageDoc struct {
	MessageID int       `bson:"message_id"`
	ChatID    int64     `bson:"chat_id"`
	UserID    int64     `bson:"user_id"`
	Username  string    `bson:"username"`
	FullName  string    `bson:"full_name"`
	Text      string    `bson:"text"`
	Timestamp time.Time `bson:"timestamp"`
}

type memoryDoc struct {
	ChatID  int64  `bson:"chat_id"`
	Memory  string `bson:"memory"`
	Version int64  `bson:"version"`
}

type chatInfoDoc struct {
	ChatID  int64     `bson:"chat_id"`
	AddedOn time.Time `bson:"added_on"`
}

type activityDoc struct {
	UserID   int64  `bson:"_id"`
	Username string `bson:"username"`
	FullName string `bson:"full_name"`
	Count    int    `bson:"count"`
}

func NewMongo(ctx context.Context, uri, database string) (*Mongo, error) {
	opts := options.Client().
		ApplyURI(strings.TrimSpace(uri)).
		SetServerAPIOptions(options.ServerAPI(options.ServerAPIVersion1))
	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping mongo: %w", err)
	}

	db := client.Database(database)
	m := &Mongo{
		client:   client,
		messages: db.Collection(messagesCollection),
		memory:   db.Collection(memoryCollection),
		chatInfo: db.Collection(chatInfoCollection),
	}
	if err := m.ensureIndexes(ctx); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}
	return m, nil
}

func (m *Mongo) ensureIndexes(ctx context.Context) error {
	if _, err := m.messages.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "chat_id", Value: 1}, {Key: "timestamp", Value: -1}},
	}); err != nil {
		return fmt.Errorf("create messages index: %w", err)
	}
	unique := options.Index().SetUnique(true)
	if _, err := m.memory.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "chat_id", Value: 1}}, Options: unique,
	}); err != nil {
		return fmt.Errorf("create memory index: %w", err)
	}
	if _, err := m.chatInfo.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "chat_id", Value: 1}}, Options: unique,
	}); err != nil {
		return fmt.Errorf("create chat_info index: %w", err)
	}
	return nil
}

func (m *Mongo) Close() error {
	return m.client.Disconnect(context.Background())
}

func (m *Mongo) InsertMessage(ctx context.Context, msg Message) error {
	ts := msg.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	_, err := m.messages.InsertOne(ctx, messageDoc{
		MessageID: msg.MessageID,
		ChatID:    msg.ChatID,
		UserID:    msg.UserID,
		Username:  msg.Username,
		FullName:  msg.FullName,
		Text:      msg.Text,
		Timestamp: ts.UTC(),
	})
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

// messageFilter renders q as a Mongo filter. User input is matched literally.
func messageFilter(chatID int64, q Query) bson.D {
	filter := bson.D{{Key: "chat_id", Value: chatID}}

	ts := bson.D{}
	if !q.Since.IsZero() {
		ts = append(ts, bson.E{Key: "$gte", Value: q.Since.UTC()})
	}
	if !q.Until.IsZero() {
		ts = append(ts, bson.E{Key: "$lt", Value: q.Until.UTC()})
	}
	if len(ts) > 0 {
		filter = append(filter, bson.E{Key: "timestamp", Value: ts})
	}

	var or bson.A
	if username := strings.TrimPrefix(strings.TrimSpace(q.Username), "@"); username != "" {
		or = append(or,
			bson.D{{Key: "username", Value: username}},
			bson.D{{Key: "text", Value: bson.D{{Key: "$regex", Value: regexp.QuoteMeta("@" + username)}}}},
		)
	}
	if name := strings.TrimSpace(q.Name); name != "" {
		pattern := regexp.QuoteMeta(name)
		or = append(or,
			bson.D{{Key: "full_name", Value: bson.D{{Key: "$regex", Value: pattern}, {Key: "$options", Value: "i"}}}},
			bson.D{{Key: "text", Value: bson.D{{Key: "$regex", Value: pattern}, {Key: "$options", Value: "i"}}}},
		)
	}
	if len(or) > 0 {
		filter = append(filter, bson.E{Key: "$or", Value: or})
	}
	return filter
}

func messageSort(q Query) bson.D {
	dir := 1
	if q.Order == NewestFirst {
		dir = -1
	}
	return bson.D{{Key: "timestamp", Value: dir}, {Key: "_id", Value: dir}}
}

func (m *Mongo) QueryMessages(ctx context.Context, chatID int64, q Query) ([]Message, error) {
	opts := options.Find().SetSort(messageSort(q)).SetLimit(int64(q.EffectiveLimit()))
	cur, err := m.messages.Find(ctx, messageFilter(chatID, q), opts)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	var docs []messageDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode messages: %w", err)
	}

	result := make([]Message, 0, len(docs))
	for _, d := range docs {
		result = append(result, Message{
			MessageID: d.MessageID,
			ChatID:    d.ChatID,
			UserID:    d.UserID,
			Username:  d.Username,
			FullName:  d.FullName,
			Text:      d.Text,
			Timestamp: d.Timestamp.UTC(),
		})
	}
	return result, nil
}

func (m *Mongo) getMemoryDoc(ctx context.Context, chatID int64) (memoryDoc, bool, error) {
	var doc memoryDoc
	err := m.memory.FindOne(ctx, bson.D{{Key: "chat_id", Value: chatID}}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return memoryDoc{}, false, nil
	}
	if err != nil {
		return memoryDoc{}, false, fmt.Errorf("get memory: %w", err)
	}
	return doc, true, nil
}

func (m *Mongo) GetMemory(ctx context.Context, chatID int64) (string, error) {
	doc, _, err := m.getMemoryDoc(ctx, chatID)
	return doc.Memory, err
}

func (m *Mongo) SetMemory(ctx context.Context, chatID int64, text string) error {
	_, err := m.memory.UpdateOne(ctx,
		bson.D{{Key: "chat_id", Value: chatID}},
		bson.D{
			{Key: "$set", Value: bson.D{{Key: "memory", Value: text}}},
			{Key: "$inc", Value: bson.D{{Key: "version", Value: 1}}},
		},
		options.Update().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("set memory: %w", err)
	}
	return nil
}

// UpdateMemory is a compare-and-swap on the document version, retried when a
// concurrent writer wins.
func (m *Mongo) UpdateMemory(ctx context.Context, chatID int64, fn func(current string) string) error {
	for attempt := 0; attempt < memoryUpdateRetries; attempt++ {
		doc, found, err := m.getMemoryDoc(ctx, chatID)
		if err != nil {
			return err
		}
		next := fn(doc.Memory)

		if !found {
			_, err := m.memory.InsertOne(ctx, memoryDoc{ChatID: chatID, Memory: next, Version: 1})
			if mongo.IsDuplicateKeyError(err) {
				continue
			}
			if err != nil {
				return fmt.Errorf("insert memory: %w", err)
			}
			return nil
		}

		res, err := m.memory.UpdateOne(ctx,
			bson.D{{Key: "chat_id", Value: chatID}, {Key: "version", Value: versionMatch(doc.Version)}},
			bson.D{{Key: "$set", Value: bson.D{{Key: "memory", Value: next}, {Key: "version", Value: doc.Version + 1}}}},
		)
		if err != nil {
			return fmt.Errorf("update memory: %w", err)
		}
		if res.MatchedCount == 1 {
			return nil
		}
	}
	return fmt.Errorf("update memory for chat %d: too much contention", chatID)
}

// versionMatch also accepts documents written before versioning existed.
func versionMatch(v int64) any {
	if v == 0 {
		return bson.D{{Key: "$in", Value: bson.A{0, nil}}}
	}
	return v
}

func (m *Mongo) MarkAdded(ctx context.Context, chatID int64, at time.Time) error {
	_, err := m.chatInfo.UpdateOne(ctx,
		bson.D{{Key: "chat_id", Value: chatID}},
		bson.D{{Key: "$set", Value: bson.D{{Key: "added_on", Value: at.UTC()}}}},
		options.Update().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("mark chat added: %w", err)
	}
	return nil
}

func (m *Mongo) ChatInfo(ctx context.Context, chatID int64) (ChatInfo, error) {
	var doc chatInfoDoc
	err := m.chatInfo.FindOne(ctx, bson.D{{Key: "chat_id", Value: chatID}}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return ChatInfo{}, ErrNotFound
	}
	if err != nil {
		return ChatInfo{}, fmt.Errorf("get chat info: %w", err)
	}
	return ChatInfo{ChatID: doc.ChatID, AddedOn: doc.AddedOn.UTC()}, nil
}

func (m *Mongo) Chats(ctx context.Context) ([]ChatInfo, error) {
	cur, err := m.chatInfo.Find(ctx, bson.D{}, options.Find().SetSort(bson.D{{Key: "added_on", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("list chats: %w", err)
	}
	var docs []chatInfoDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode chats: %w", err)
	}
	result := make([]ChatInfo, 0, len(docs))
	for _, d := range docs {
		result = append(result, ChatInfo{ChatID: d.ChatID, AddedOn: d.AddedOn.UTC()})
	}
	return result, nil
}

func (m *Mongo) CountMessages(ctx context.Context, chatID int64) (int, error) {
	n, err := m.messages.CountDocuments(ctx, bson.D{{Key: "chat_id", Value: chatID}})
	if err != nil {
		return 0, fmt.Errorf("count messages: %w", err)
	}
	return int(n), nil
}

// activityPipeline groups one chat's messages by user, busiest first.
func activityPipeline(chatID int64) mongo.Pipeline {
	return mongo.Pipeline{
		{{Key: "$match", Value: bson.D{{Key: "chat_id", Value: chatID}}}},
		{{Key: "$group", Value: bson.D{
			{Key: "_id", Value: "$user_id"},
			{Key: "count", Value: bson.D{{Key: "$sum", Value: 1}}},
			{Key: "username", Value: bson.D{{Key: "$first", Value: "$username"}}},
			{Key: "full_name", Value: bson.D{{Key: "$first", Value: "$full_name"}}},
		}}},
		{{Key: "$sort", Value: bson.D{{Key: "count", Value: -1}, {Key: "_id", Value: 1}}}},
	}
}

func (m *Mongo) UserActivity(ctx context.Context, chatID int64) ([]UserActivity, error) {
	cur, err := m.messages.Aggregate(ctx, activityPipeline(chatID))
	if err != nil {
		return nil, fmt.Errorf("user activity: %w", err)
	}
	var docs []activityDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode user activity: %w", err)
	}
	result := make([]UserActivity, 0, len(docs))
	for _, d := range docs {
		result = append(result, UserActivity{UserID: d.UserID, Username: d.Username, FullName: d.FullName, Count: d.Count})
	}
	return result, nil
}
