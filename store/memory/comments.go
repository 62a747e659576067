package memory

import (
	"context"
	"sort"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"twitter-social/model"
	"twitter-social/store"
)

type comments struct {
	db *DB
}

func (r comments) Insert(ctx context.Context, c *model.Comment) error {
	if c.ID.IsZero() {
		c.ID = primitive.NewObjectID()
	}
	if c.Likes == nil {
		c.Likes = []primitive.ObjectID{}
	}
	now := r.db.now()
	c.CreatedAt, c.UpdatedAt = now, now

	return r.db.write(ctx, CommentsCollection, "insert", c.ID, func(s *state) error {
		if _, ok := s.comments[c.ID]; ok {
			return store.ErrDuplicate
		}
		s.comments[c.ID] = cloneComment(c)
		s.insertSeq(c.ID)
		s.touch(c.ID)
		return nil
	})
}

func (r comments) ByTweet(ctx context.Context, tweetID primitive.ObjectID) ([]model.Comment, error) {
	return r.filter(ctx, func(c *model.Comment) bool { return c.Tweet == tweetID })
}

func (r comments) ByTweets(ctx context.Context, tweetIDs []primitive.ObjectID) ([]model.Comment, error) {
	return r.filter(ctx, func(c *model.Comment) bool { return contains(tweetIDs, c.Tweet) })
}

// filter returns matching comments oldest first.
func (r comments) filter(ctx context.Context, keep func(*model.Comment) bool) ([]model.Comment, error) {
	out := make([]model.Comment, 0)
	err := r.db.read(ctx, func(s *state) error {
		for _, c := range s.comments {
			if keep(c) {
				out = append(out, *cloneComment(c))
			}
		}
		sort.SliceStable(out, func(i, j int) bool {
			if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
				return out[i].CreatedAt.Before(out[j].CreatedAt)
			}
			return s.seq[out[i].ID] < s.seq[out[j].ID]
		})
		return nil
	})
	return out, err
}
