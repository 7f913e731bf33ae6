// Package data provides DB models and stores.
package data

import (
	"context"
	"time"

	"github.com/socials/chat-server/internal/normalize"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
)

// UsersStore performs user DB operations against the users collection.
type UsersStore struct {
	coll *mongo.Collection
}

// NewUsersStore returns a UsersStore using the provided collection.
func NewUsersStore(coll *mongo.Collection) *UsersStore {
	return &UsersStore{coll: coll}
}

// CreateUser inserts a new user document. The password must already be
// hashed by auth.HashPassword.
func (u *UsersStore) CreateUser(ctx context.Context, username, fullName, email, hashedPassword string) (*User, error) {
	now := time.Now()
	user := &User{
		Username:  normalize.Username(username),
		FullName:  fullName,
		Email:     normalize.Email(email),
		Password:  hashedPassword,
		CreatedAt: now,
		UpdatedAt: now,
	}

	result, err := u.coll.InsertOne(ctx, user)
	if err != nil {
		// Unique index violation on email or username.
		if mongo.IsDuplicateKeyError(err) {
			return nil, ErrUserExists
		}
		return nil, err
	}

	user.ID = result.InsertedID.(bson.ObjectID)
	return user, nil
}

// GetUserByEmail finds a user by email.
func (u *UsersStore) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	var user User
	err := u.coll.FindOne(ctx, bson.M{"email": normalize.Email(email)}).Decode(&user)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return &user, nil
}

// GetUserByID finds a user by ObjectID.
func (u *UsersStore) GetUserByID(ctx context.Context, id bson.ObjectID) (*User, error) {
	var user User
	err := u.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&user)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return &user, nil
}

// UserExists checks if a user exists by id.
func (u *UsersStore) UserExists(ctx context.Context, id bson.ObjectID) (bool, error) {
	count, err := u.coll.CountDocuments(ctx, bson.M{"_id": id})
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// SetPresence updates the durable online flag and last-seen timestamp. The
// in-memory presence tracker is authoritative while the process runs; this
// is the best-effort mirror other API consumers read.
func (u *UsersStore) SetPresence(ctx context.Context, id bson.ObjectID, online bool, lastSeen time.Time) error {
	update := bson.M{"is_online": online, "updated_at": time.Now()}
	if !online {
		update["last_seen"] = lastSeen
	}
	_, err := u.coll.UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$set": update})
	return err
}

// GetProfiles returns the public profiles for the given ids, keyed by id.
// Missing ids are simply absent from the result.
func (u *UsersStore) GetProfiles(ctx context.Context, ids []bson.ObjectID) (map[bson.ObjectID]Profile, error) {
	profiles := make(map[bson.ObjectID]Profile, len(ids))
	if len(ids) == 0 {
		return profiles, nil
	}

	cursor, err := u.coll.Find(ctx, bson.M{"_id": bson.M{"$in": ids}})
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var users []User
	if err := cursor.All(ctx, &users); err != nil {
		return nil, err
	}
	for i := range users {
		profiles[users[i].ID] = users[i].Profile()
	}
	return profiles, nil
}
