package data

import (
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
)

// User maps to the users collection.
type User struct {
	ID        bson.ObjectID `bson:"_id,omitempty" json:"_id"`
	Username  string        `bson:"username" json:"username"`
	FullName  string        `bson:"full_name" json:"fullName"`
	Email     string        `bson:"email" json:"email"`
	Password  string        `bson:"password" json:"-"`
	Avatar    string        `bson:"avatar,omitempty" json:"profilePicture,omitempty"`
	IsOnline  bool          `bson:"is_online" json:"isOnline"`
	LastSeen  time.Time     `bson:"last_seen,omitempty" json:"lastSeen,omitempty"`
	CreatedAt time.Time     `bson:"created_at" json:"createdAt"`
	UpdatedAt time.Time     `bson:"updated_at" json:"updatedAt"`
}

// Profile is the public subset of User exposed to other users in chat
// summaries and presence events.
type Profile struct {
	ID       bson.ObjectID `bson:"_id" json:"_id"`
	Username string        `bson:"username" json:"username"`
	FullName string        `bson:"full_name" json:"fullName"`
	Avatar   string        `bson:"avatar,omitempty" json:"profilePicture,omitempty"`
	IsOnline bool          `bson:"is_online" json:"isOnline"`
	LastSeen time.Time     `bson:"last_seen,omitempty" json:"lastSeen,omitempty"`
}

// Profile returns the public view of the user.
func (u *User) Profile() Profile {
	return Profile{
		ID:       u.ID,
		Username: u.Username,
		FullName: u.FullName,
		Avatar:   u.Avatar,
		IsOnline: u.IsOnline,
		LastSeen: u.LastSeen,
	}
}

// Message is a subdocument embedded in a conversation's message log.
// ReadBy holds the ids of participants who have seen it and only ever grows.
type Message struct {
	ID        bson.ObjectID   `bson:"_id" json:"_id"`
	Sender    bson.ObjectID   `bson:"sender" json:"sender"`
	Content   string          `bson:"content" json:"content"`
	ReadBy    []bson.ObjectID `bson:"read_by" json:"readBy"`
	CreatedAt time.Time       `bson:"created_at" json:"createdAt"`
}

// readBy reports whether the given user id appears in the message's
// reader set.
func (m *Message) readBy(userID bson.ObjectID) bool {
	for _, r := range m.ReadBy {
		if r == userID {
			return true
		}
	}
	return false
}

// Conversation maps to the chats collection: exactly two participants and
// an embedded, chronologically ordered message log. pair_key is the sorted
// hex pair of participant ids and carries a unique index.
type Conversation struct {
	ID           bson.ObjectID   `bson:"_id,omitempty" json:"_id"`
	PairKey      string          `bson:"pair_key" json:"-"`
	Participants []bson.ObjectID `bson:"participants" json:"participants"`
	Messages     []Message       `bson:"messages" json:"-"`
	LastMessage  time.Time       `bson:"last_message" json:"lastMessage"`
	CreatedAt    time.Time       `bson:"created_at" json:"createdAt"`
}

// HasParticipant reports whether the given user is one of the two
// conversation participants.
func (c *Conversation) HasParticipant(userID bson.ObjectID) bool {
	for _, p := range c.Participants {
		if p == userID {
			return true
		}
	}
	return false
}

// OtherParticipant returns the participant that is not userID. The zero
// ObjectID is returned when userID is not a participant.
func (c *Conversation) OtherParticipant(userID bson.ObjectID) bson.ObjectID {
	if !c.HasParticipant(userID) {
		return bson.ObjectID{}
	}
	for _, p := range c.Participants {
		if p != userID {
			return p
		}
	}
	return bson.ObjectID{}
}

// ChatSummary is one entry of a user's conversation list: the other
// participant's public profile, the most recent message and the number of
// messages the user has not read yet.
type ChatSummary struct {
	ID          bson.ObjectID `json:"_id"`
	Participant Profile       `json:"participant"`
	LastMessage *Message      `json:"lastMessage"`
	UnreadCount int           `json:"unreadCount"`
}

// pairKey builds the canonical unordered-pair key for two user ids. The
// lexicographically smaller hex comes first so (a,b) and (b,a) collide.
func pairKey(a, b bson.ObjectID) string {
	ah, bh := a.Hex(), b.Hex()
	if ah < bh {
		return ah + ":" + bh
	}
	return bh + ":" + ah
}
