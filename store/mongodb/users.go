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

type users struct {
	coll *mongo.Collection
}

func (r *users) Insert(ctx context.Context, u *model.User) error {
	now := time.Now().UTC()
	if u.ID.IsZero() {
		u.ID = primitive.NewObjectID()
	}
	if u.Followers == nil {
		u.Followers = []primitive.ObjectID{}
	}
	if u.Following == nil {
		u.Following = []primitive.ObjectID{}
	}
	u.CreatedAt, u.UpdatedAt = now, now

	_, err := r.coll.InsertOne(ctx, u)
	return translate(err)
}

func (r *users) FindByID(ctx context.Context, id primitive.ObjectID) (*model.User, error) {
	var u model.User
	if err := r.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&u); err != nil {
		return nil, translate(err)
	}
	return &u, nil
}

func (r *users) FindByEmail(ctx context.Context, email string) (*model.User, error) {
	var u model.User
	if err := r.coll.FindOne(ctx, bson.M{"email": email}).Decode(&u); err != nil {
		return nil, translate(err)
	}
	return &u, nil
}

func (r *users) FindByIDs(ctx context.Context, ids []primitive.ObjectID) ([]model.User, error) {
	cur, err := r.coll.Find(ctx, bson.M{"_id": bson.M{"$in": nonNil(ids)}})
	return decodeAll[model.User](ctx, cur, err)
}

func (r *users) All(ctx context.Context) ([]model.User, error) {
	cur, err := r.coll.Find(ctx, bson.M{})
	return decodeAll[model.User](ctx, cur, err)
}

func (r *users) NotIn(ctx context.Context, ids []primitive.ObjectID) ([]model.User, error) {
	cur, err := r.coll.Find(ctx, bson.M{"_id": bson.M{"$nin": nonNil(ids)}})
	return decodeAll[model.User](ctx, cur, err)
}

func (r *users) MostFollowed(ctx context.Context, exclude []primitive.ObjectID, limit int) ([]model.User, error) {
	cur, err := r.coll.Aggregate(ctx, mostFollowedPipeline(exclude, limit))
	return decodeAll[model.User](ctx, cur, err)
}

// mostFollowedPipeline orders users outside exclude by follower count, then
// newest first.
func mostFollowedPipeline(exclude []primitive.ObjectID, limit int) mongo.Pipeline {
	return mongo.Pipeline{
		{{Key: "$match", Value: bson.M{"_id": bson.M{"$nin": nonNil(exclude)}}}},
		{{Key: "$addFields", Value: bson.M{"followerCount": bson.M{"$size": "$" + string(store.Followers)}}}},
		{{Key: "$sort", Value: bson.D{{Key: "followerCount", Value: -1}, {Key: "createdAt", Value: -1}}}},
		{{Key: "$limit", Value: int64(limit)}},
	}
}

func (r *users) Newest(ctx context.Context, limit int) ([]model.User, error) {
	opts := options.Find().
		SetSort(bson.D{{Key: "createdAt", Value: -1}}).
		SetLimit(int64(limit))
	cur, err := r.coll.Find(ctx, bson.M{}, opts)
	return decodeAll[model.User](ctx, cur, err)
}

func (r *users) AddToSet(ctx context.Context, id primitive.ObjectID, field store.Field, value primitive.ObjectID) error {
	return updateMatched(r.coll.UpdateOne(ctx,
		bson.M{"_id": id},
		bson.M{
			"$addToSet": bson.M{string(field): value},
			"$set":      bson.M{"updatedAt": time.Now().UTC()},
		},
	))
}

func (r *users) Pull(ctx context.Context, id primitive.ObjectID, field store.Field, value primitive.ObjectID) error {
	return updateMatched(r.coll.UpdateOne(ctx,
		bson.M{"_id": id},
		bson.M{
			"$pull": bson.M{string(field): value},
			"$set":  bson.M{"updatedAt": time.Now().UTC()},
		},
	))
}

// $nin with a null array is rejected by the server.
func nonNil(ids []primitive.ObjectID) []primitive.ObjectID {
	if ids == nil {
		return []primitive.ObjectID{}
	}
	return ids
}
