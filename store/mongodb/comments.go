package mongodb

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"twitter-social/model"
)

type comments struct {
	coll *mongo.Collection
}

func (r *comments) Insert(ctx context.Context, c *model.Comment) error {
	now := time.Now().UTC()
	if c.ID.IsZero() {
		c.ID = primitive.NewObjectID()
	}
	if c.Likes == nil {
		c.Likes = []primitive.ObjectID{}
	}
	c.CreatedAt, c.UpdatedAt = now, now

	_, err := r.coll.InsertOne(ctx, c)
	return translate(err)
}

func (r *comments) ByTweet(ctx context.Context, tweetID primitive.ObjectID) ([]model.Comment, error) {
	opts := options.Find().SetSort(bson.D{{Key: "createdAt", Value: 1}})
	cur, err := r.coll.Find(ctx, bson.M{"tweet": tweetID}, opts)
	return decodeAll[model.Comment](ctx, cur, err)
}

func (r *comments) ByTweets(ctx context.Context, tweetIDs []primitive.ObjectID) ([]model.Comment, error) {
	opts := options.Find().SetSort(bson.D{{Key: "createdAt", Value: 1}})
	cur, err := r.coll.Find(ctx, bson.M{"tweet": bson.M{"$in": nonNil(tweetIDs)}}, opts)
	return decodeAll[model.Comment](ctx, cur, err)
}
