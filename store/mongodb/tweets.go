package mongodb

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"twitter-social/model"
	"twitter-social/store"
)

type tweets struct {
	coll *mongo.Collection
}

func (r *tweets) Insert(ctx context.Context, t *model.Tweet) error {
	now := time.Now().UTC()
	if t.ID.IsZero() {
		t.ID = primitive.NewObjectID()
	}
	if t.Likes == nil {
		t.Likes = []primitive.ObjectID{}
	}
	if t.Retweets == nil {
		t.Retweets = []primitive.ObjectID{}
	}
	if t.Comments == nil {
		t.Comments = []primitive.ObjectID{}
	}
	t.CreatedAt, t.UpdatedAt = now, now

	_, err := r.coll.InsertOne(ctx, t)
	return translate(err)
}

func (r *tweets) FindByID(ctx context.Context, id primitive.ObjectID) (*model.Tweet, error) {
	var t model.Tweet
	if err := r.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&t); err != nil {
		return nil, translate(err)
	}
	return &t, nil
}

func (r *tweets) ByAuthors(ctx context.Context, authors []primitive.ObjectID) ([]model.Tweet, error) {
	opts := options.Find().SetSort(bson.D{{Key: "createdAt", Value: -1}})
	cur, err := r.coll.Find(ctx, bson.M{"author": bson.M{"$in": nonNil(authors)}}, opts)
	return decodeAll[model.Tweet](ctx, cur, err)
}

func (r *tweets) Ranked(ctx context.Context, skip, limit int) ([]model.Tweet, error) {
	cur, err := r.coll.Aggregate(ctx, rankedPipeline(skip, limit))
	return decodeAll[model.Tweet](ctx, cur, err)
}

// rankedPipeline orders tweets by like count, then newest first.
func rankedPipeline(skip, limit int) mongo.Pipeline {
	return mongo.Pipeline{
		{{Key: "$addFields", Value: bson.M{"likeCount": bson.M{"$size": "$" + string(store.Likes)}}}},
		{{Key: "$sort", Value: bson.D{{Key: "likeCount", Value: -1}, {Key: "createdAt", Value: -1}}}},
		{{Key: "$skip", Value: int64(skip)}},
		{{Key: "$limit", Value: int64(limit)}},
	}
}

func (r *tweets) Count(ctx context.Context) (int64, error) {
	return r.coll.CountDocuments(ctx, bson.M{})
}

func (r *tweets) AddToSet(ctx context.Context, id primitive.ObjectID, field store.Field, value primitive.ObjectID) error {
	return r.update(ctx, id, "$addToSet", field, value)
}

func (r *tweets) Pull(ctx context.Context, id primitive.ObjectID, field store.Field, value primitive.ObjectID) error {
	return r.update(ctx, id, "$pull", field, value)
}

func (r *tweets) Push(ctx context.Context, id primitive.ObjectID, field store.Field, value primitive.ObjectID) error {
	return r.update(ctx, id, "$push", field, value)
}

func (r *tweets) update(ctx context.Context, id primitive.ObjectID, op string, field store.Field, value primitive.ObjectID) error {
	return updateMatched(r.coll.UpdateOne(ctx,
		bson.M{"_id": id},
		bson.M{
			op:     bson.M{string(field): value},
			"$set": bson.M{"updatedAt": time.Now().UTC()},
		},
	))
}
