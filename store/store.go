// Package store defines the document storage contracts shared by the MongoDB
// backend and the in-memory backend.
package store

import (
	"context"
	"errors"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"twitter-social/model"
)

var (
	ErrNotFound  = errors.New("store: document not found")
	ErrDuplicate = errors.New("store: duplicate key")
)

// Field names an array field that supports set-style updates.
type Field string

const (
	Followers  Field = "followers"
	Following  Field = "following"
	Likes      Field = "likes"
	Retweets   Field = "retweets"
	CommentIDs Field = "comments"
)

// Connector opens a new backend handle. The connection pool calls it for
// every resource it creates.
type Connector interface {
	Connect(ctx context.Context) (Backend, error)
}

// Backend is one live database handle. It is not safe for concurrent use by
// more than one request; the pool hands out exclusive handles.
type Backend interface {
	Ping(ctx context.Context) error
	Close(ctx context.Context) error
	EnsureIndexes(ctx context.Context) error
	StartSession(ctx context.Context) (Session, error)

	Users() Users
	Tweets() Tweets
	Comments() Comments
}

// Session scopes a multi-document transaction. Operations join the
// transaction when they are called with the context returned by Bind.
type Session interface {
	StartTransaction() error
	CommitTransaction(ctx context.Context) error
	AbortTransaction(ctx context.Context) error
	EndSession(ctx context.Context)
	Bind(ctx context.Context) context.Context
}

type Users interface {
	Insert(ctx context.Context, u *model.User) error
	FindByID(ctx context.Context, id primitive.ObjectID) (*model.User, error)
	FindByEmail(ctx context.Context, email string) (*model.User, error)
	FindByIDs(ctx context.Context, ids []primitive.ObjectID) ([]model.User, error)
	All(ctx context.Context) ([]model.User, error)
	// NotIn returns every user whose id is not in ids.
	NotIn(ctx context.Context, ids []primitive.ObjectID) ([]model.User, error)
	// MostFollowed orders by follower count, then newest first.
	MostFollowed(ctx context.Context, exclude []primitive.ObjectID, limit int) ([]model.User, error)
	Newest(ctx context.Context, limit int) ([]model.User, error)
	AddToSet(ctx context.Context, id primitive.ObjectID, field Field, value primitive.ObjectID) error
	Pull(ctx context.Context, id primitive.ObjectID, field Field, value primitive.ObjectID) error
}

type Tweets interface {
	Insert(ctx context.Context, t *model.Tweet) error
	FindByID(ctx context.Context, id primitive.ObjectID) (*model.Tweet, error)
	// ByAuthors returns tweets written by any of authors, newest first.
	ByAuthors(ctx context.Context, authors []primitive.ObjectID) ([]model.Tweet, error)
	// Ranked orders by like count, then newest first.
	Ranked(ctx context.Context, skip, limit int) ([]model.Tweet, error)
	Count(ctx context.Context) (int64, error)
	AddToSet(ctx context.Context, id primitive.ObjectID, field Field, value primitive.ObjectID) error
	Pull(ctx context.Context, id primitive.ObjectID, field Field, value primitive.ObjectID) error
	Push(ctx context.Context, id primitive.ObjectID, field Field, value primitive.ObjectID) error
}

type Comments interface {
	Insert(ctx context.Context, c *model.Comment) error
	// ByTweet returns the comments of a tweet, oldest first.
	ByTweet(ctx context.Context, tweetID primitive.ObjectID) ([]model.Comment, error)
	// ByTweets returns the comments of any of tweetIDs, oldest first.
	ByTweets(ctx context.Context, tweetIDs []primitive.ObjectID) ([]model.Comment, error)
}
