// Package mongodb implements the store contracts on MongoDB. Each Backend owns
// its own client so the application pool controls how many are open.
package mongodb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"twitter-social/store"
)

const (
	usersCollection    = "users"
	tweetsCollection   = "tweets"
	commentsCollection = "comments"
)

type Connector struct {
	URI            string
	Database       string
	ConnectTimeout time.Duration
}

func (c Connector) Connect(ctx context.Context) (store.Backend, error) {
	if c.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.ConnectTimeout)
		defer cancel()
	}

	clientOptions := options.Client().
		ApplyURI(c.URI).
		SetMaxPoolSize(1)
	client, err := mongo.Connect(ctx, clientOptions)
	if err != nil {
		return nil, fmt.Errorf("connect to mongodb: %w", err)
	}

	// Check the connection
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping mongodb: %w", err)
	}

	db := client.Database(c.Database)
	return &Backend{
		client:   client,
		users:    &users{coll: db.Collection(usersCollection)},
		tweets:   &tweets{coll: db.Collection(tweetsCollection)},
		comments: &comments{coll: db.Collection(commentsCollection)},
	}, nil
}

type Backend struct {
	client   *mongo.Client
	users    *users
	tweets   *tweets
	comments *comments
}

func (b *Backend) Ping(ctx context.Context) error {
	return b.client.Ping(ctx, readpref.Primary())
}

func (b *Backend) Close(ctx context.Context) error {
	return b.client.Disconnect(ctx)
}

func (b *Backend) EnsureIndexes(ctx context.Context) error {
	_, err := b.users.coll.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "email", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "createdAt", Value: -1}}},
	})
	if err != nil {
		return fmt.Errorf("create user indexes: %w", err)
	}

	_, err = b.tweets.coll.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "author", Value: 1}, {Key: "createdAt", Value: -1}}},
		{Keys: bson.D{{Key: "reference", Value: "text"}}},
	})
	if err != nil {
		return fmt.Errorf("create tweet indexes: %w", err)
	}

	_, err = b.comments.coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "tweet", Value: 1}, {Key: "createdAt", Value: 1}},
	})
	if err != nil {
		return fmt.Errorf("create comment indexes: %w", err)
	}
	return nil
}

func (b *Backend) StartSession(ctx context.Context) (store.Session, error) {
	sess, err := b.client.StartSession()
	if err != nil {
		return nil, fmt.Errorf("start session: %w", err)
	}
	return &session{sess: sess}, nil
}

func (b *Backend) Users() store.Users       { return b.users }
func (b *Backend) Tweets() store.Tweets     { return b.tweets }
func (b *Backend) Comments() store.Comments { return b.comments }

type session struct {
	sess mongo.Session
}

func (s *session) StartTransaction() error {
	return s.sess.StartTransaction()
}

func (s *session) CommitTransaction(ctx context.Context) error {
	return s.sess.CommitTransaction(ctx)
}

func (s *session) AbortTransaction(ctx context.Context) error {
	return s.sess.AbortTransaction(ctx)
}

func (s *session) EndSession(ctx context.Context) {
	s.sess.EndSession(ctx)
}

func (s *session) Bind(ctx context.Context) context.Context {
	return mongo.NewSessionContext(ctx, s.sess)
}

func translate(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, mongo.ErrNoDocuments):
		return store.ErrNotFound
	case mongo.IsDuplicateKeyError(err):
		return fmt.Errorf("%w: %v", store.ErrDuplicate, err)
	default:
		return err
	}
}

func updateMatched(res *mongo.UpdateResult, err error) error {
	if err != nil {
		return translate(err)
	}
	if res.MatchedCount == 0 {
		return store.ErrNotFound
	}
	return nil
}

func decodeAll[T any](ctx context.Context, cur *mongo.Cursor, err error) ([]T, error) {
	if err != nil {
		return nil, err
	}
	out := make([]T, 0)
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}
