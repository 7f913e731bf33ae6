package data

import (
	"context"
	"html"
	"strings"
	"time"
	"unicode/utf8"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// Content bounds for a single message.
const (
	MaxContentBytes = 4096
	MaxContentRunes = 2000
)

// ChatsStore owns conversation persistence: one document per unordered
// participant pair, messages embedded in creation order. Document-level
// atomicity in MongoDB is what gives each conversation a total message
// order under concurrent appends.
type ChatsStore struct {
	coll  *mongo.Collection
	users *UsersStore
}

// NewChatsStore returns a ChatsStore using the given collection. The users
// store is consulted for participant profiles in chat summaries.
func NewChatsStore(coll *mongo.Collection, users *UsersStore) *ChatsStore {
	return &ChatsStore{coll: coll, users: users}
}

// GetOrCreateConversation returns the conversation for the unordered pair
// (userID, otherID), creating it if it does not exist yet. The upsert runs
// against the unique pair_key index, so two racing calls for the same pair
// always converge on a single document.
func (s *ChatsStore) GetOrCreateConversation(ctx context.Context, userID, otherID bson.ObjectID) (*Conversation, error) {
	if userID == otherID {
		return nil, ErrSelfConversation
	}

	exists, err := s.users.UserExists(ctx, otherID)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, ErrUserNotFound
	}

	key := pairKey(userID, otherID)
	participants := []bson.ObjectID{userID, otherID}
	if otherID.Hex() < userID.Hex() {
		participants = []bson.ObjectID{otherID, userID}
	}

	now := time.Now()
	filter := bson.M{"pair_key": key}
	update := bson.M{"$setOnInsert": bson.M{
		"pair_key":     key,
		"participants": participants,
		"messages":     []Message{},
		"last_message": now,
		"created_at":   now,
	}}
	opts := options.FindOneAndUpdate().
		SetUpsert(true).
		SetReturnDocument(options.After)

	var conv Conversation
	err = s.coll.FindOneAndUpdate(ctx, filter, update, opts).Decode(&conv)
	if mongo.IsDuplicateKeyError(err) {
		// Two concurrent upserts for a fresh pair can both attempt the
		// insert. The loser hits the unique pair_key index; the winner's
		// document is the conversation, so read it back.
		err = s.coll.FindOne(ctx, filter).Decode(&conv)
	}
	if err != nil {
		return nil, err
	}
	return &conv, nil
}

// GetConversation loads a conversation by id.
func (s *ChatsStore) GetConversation(ctx context.Context, id bson.ObjectID) (*Conversation, error) {
	var conv Conversation
	err := s.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&conv)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, ErrConversationNotFound
		}
		return nil, err
	}
	return &conv, nil
}

// ConversationIDs returns the ids of every conversation the user
// participates in. The gateway uses this for the bulk room join at connect
// time.
func (s *ChatsStore) ConversationIDs(ctx context.Context, userID bson.ObjectID) ([]bson.ObjectID, error) {
	opts := options.Find().SetProjection(bson.M{"_id": 1})
	cursor, err := s.coll.Find(ctx, bson.M{"participants": userID}, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var docs []struct {
		ID bson.ObjectID `bson:"_id"`
	}
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, err
	}

	ids := make([]bson.ObjectID, len(docs))
	for i, d := range docs {
		ids[i] = d.ID
	}
	return ids, nil
}

// ListConversations returns the user's chat summaries ordered by
// most-recent-message time descending. The unread count for each
// conversation is the number of messages from the other participant the
// user has not read.
func (s *ChatsStore) ListConversations(ctx context.Context, userID bson.ObjectID) ([]*ChatSummary, error) {
	opts := options.Find().SetSort(bson.M{"last_message": -1})
	cursor, err := s.coll.Find(ctx, bson.M{"participants": userID}, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var convs []Conversation
	if err := cursor.All(ctx, &convs); err != nil {
		return nil, err
	}

	otherIDs := make([]bson.ObjectID, 0, len(convs))
	for i := range convs {
		otherIDs = append(otherIDs, convs[i].OtherParticipant(userID))
	}
	profiles, err := s.users.GetProfiles(ctx, otherIDs)
	if err != nil {
		return nil, err
	}

	summaries := make([]*ChatSummary, 0, len(convs))
	for i := range convs {
		conv := &convs[i]
		summary := &ChatSummary{
			ID:          conv.ID,
			Participant: profiles[conv.OtherParticipant(userID)],
		}
		if n := len(conv.Messages); n > 0 {
			last := conv.Messages[n-1]
			summary.LastMessage = &last
		}
		for j := range conv.Messages {
			m := &conv.Messages[j]
			if m.Sender != userID && !m.readBy(userID) {
				summary.UnreadCount++
			}
		}
		summaries = append(summaries, summary)
	}
	return summaries, nil
}

// AppendMessage validates and appends a message to the conversation's log
// and bumps the last-message timestamp. The stored message (with its
// assigned id and timestamp) is returned; broadcasting is the caller's
// business and must happen only after this returns.
func (s *ChatsStore) AppendMessage(ctx context.Context, convID, senderID bson.ObjectID, content string) (*Message, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, ErrEmptyContent
	}
	if utf8.RuneCountInString(content) > MaxContentRunes {
		return nil, ErrContentTooLong
	}
	// The byte bound applies to what is stored, and escaping can grow the
	// content several-fold.
	stored := html.EscapeString(content)
	if len(stored) > MaxContentBytes {
		return nil, ErrContentTooLong
	}

	conv, err := s.GetConversation(ctx, convID)
	if err != nil {
		return nil, err
	}
	if !conv.HasParticipant(senderID) {
		return nil, ErrNotParticipant
	}

	now := time.Now()
	msg := &Message{
		ID:      bson.NewObjectID(),
		Sender:  senderID,
		Content: stored,
		// The sender has trivially seen their own message.
		ReadBy:    []bson.ObjectID{senderID},
		CreatedAt: now,
	}

	result, err := s.coll.UpdateOne(ctx,
		bson.M{"_id": convID},
		bson.M{
			"$push": bson.M{"messages": msg},
			"$set":  bson.M{"last_message": now},
		},
	)
	if err != nil {
		return nil, err
	}
	if result.MatchedCount == 0 {
		return nil, ErrConversationNotFound
	}
	return msg, nil
}

// ListMessages returns one page of the conversation's message log. Page 1
// is the most recent pageSize messages; within every page messages are in
// chronological order. As a side effect the returned messages not authored
// by the requester are marked read by them (idempotent).
func (s *ChatsStore) ListMessages(ctx context.Context, convID, requesterID bson.ObjectID, page, pageSize int) ([]Message, bool, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 50
	}

	conv, err := s.GetConversation(ctx, convID)
	if err != nil {
		return nil, false, err
	}
	if !conv.HasParticipant(requesterID) {
		return nil, false, ErrNotParticipant
	}

	total := len(conv.Messages)
	end := total - (page-1)*pageSize
	if end <= 0 {
		return []Message{}, false, nil
	}
	start := end - pageSize
	if start < 0 {
		start = 0
	}

	msgs := make([]Message, end-start)
	copy(msgs, conv.Messages[start:end])

	// Fetching history counts as reading it: stamp the requester on every
	// returned message they haven't read yet.
	var unread []bson.ObjectID
	for i := range msgs {
		if msgs[i].Sender != requesterID && !msgs[i].readBy(requesterID) {
			unread = append(unread, msgs[i].ID)
			msgs[i].ReadBy = append(msgs[i].ReadBy, requesterID)
		}
	}
	if len(unread) > 0 {
		_, err := s.coll.UpdateOne(ctx,
			bson.M{"_id": convID},
			bson.M{"$addToSet": bson.M{"messages.$[m].read_by": requesterID}},
			options.UpdateOne().SetArrayFilters([]interface{}{
				bson.M{"m._id": bson.M{"$in": unread}},
			}),
		)
		if err != nil {
			return nil, false, err
		}
	}

	return msgs, start > 0, nil
}

// MarkRead stamps the reader on every message in the conversation that was
// sent by the other participant and not read yet. It reports whether any
// message actually changed, so callers can skip the messages-read broadcast
// when there was nothing to do. Reader sets only ever grow.
func (s *ChatsStore) MarkRead(ctx context.Context, convID, readerID bson.ObjectID) (bool, error) {
	conv, err := s.GetConversation(ctx, convID)
	if err != nil {
		return false, err
	}
	if !conv.HasParticipant(readerID) {
		return false, ErrNotParticipant
	}

	result, err := s.coll.UpdateOne(ctx,
		bson.M{"_id": convID},
		bson.M{"$addToSet": bson.M{"messages.$[m].read_by": readerID}},
		options.UpdateOne().SetArrayFilters([]interface{}{
			bson.M{"m.sender": bson.M{"$ne": readerID}, "m.read_by": bson.M{"$ne": readerID}},
		}),
	)
	if err != nil {
		return false, err
	}
	return result.ModifiedCount > 0, nil
}
