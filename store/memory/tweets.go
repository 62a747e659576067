package memory

import (
	"context"
	"fmt"
	"sort"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"twitter-social/model"
	"twitter-social/store"
)

type tweets struct {
	db *DB
}

func (r tweets) Insert(ctx context.Context, t *model.Tweet) error {
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
	now := r.db.now()
	t.CreatedAt, t.UpdatedAt = now, now

	return r.db.write(ctx, TweetsCollection, "insert", t.ID, func(s *state) error {
		if _, ok := s.tweets[t.ID]; ok {
			return store.ErrDuplicate
		}
		s.tweets[t.ID] = cloneTweet(t)
		s.insertSeq(t.ID)
		s.touch(t.ID)
		return nil
	})
}

func (r tweets) FindByID(ctx context.Context, id primitive.ObjectID) (*model.Tweet, error) {
	var out *model.Tweet
	err := r.db.read(ctx, func(s *state) error {
		t, ok := s.tweets[id]
		if !ok {
			return store.ErrNotFound
		}
		out = cloneTweet(t)
		return nil
	})
	return out, err
}

func (r tweets) ByAuthors(ctx context.Context, authors []primitive.ObjectID) ([]model.Tweet, error) {
	out, err := r.filter(ctx, func(t *model.Tweet) bool { return contains(authors, t.Author) })
	if err != nil {
		return nil, err
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (r tweets) Ranked(ctx context.Context, skip, limit int) ([]model.Tweet, error) {
	out, err := r.filter(ctx, func(*model.Tweet) bool { return true })
	if err != nil {
		return nil, err
	}
	sort.SliceStable(out, func(i, j int) bool {
		if len(out[i].Likes) != len(out[j].Likes) {
			return len(out[i].Likes) > len(out[j].Likes)
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if skip >= len(out) {
		return []model.Tweet{}, nil
	}
	return truncate(out[skip:], limit), nil
}

func (r tweets) Count(ctx context.Context) (int64, error) {
	var n int64
	err := r.db.read(ctx, func(s *state) error {
		n = int64(len(s.tweets))
		return nil
	})
	return n, err
}

func (r tweets) AddToSet(ctx context.Context, id primitive.ObjectID, field store.Field, value primitive.ObjectID) error {
	return r.update(ctx, id, "addToSet", field, value)
}

func (r tweets) Pull(ctx context.Context, id primitive.ObjectID, field store.Field, value primitive.ObjectID) error {
	return r.update(ctx, id, "pull", field, value)
}

func (r tweets) Push(ctx context.Context, id primitive.ObjectID, field store.Field, value primitive.ObjectID) error {
	return r.update(ctx, id, "push", field, value)
}

func (r tweets) update(ctx context.Context, id primitive.ObjectID, op string, field store.Field, value primitive.ObjectID) error {
	return r.db.write(ctx, TweetsCollection, op+":"+string(field), id, func(s *state) error {
		t, ok := s.tweets[id]
		if !ok {
			return store.ErrNotFound
		}
		var list *[]primitive.ObjectID
		switch field {
		case store.Likes:
			list = &t.Likes
		case store.Retweets:
			list = &t.Retweets
		case store.CommentIDs:
			list = &t.Comments
		default:
			return errUnknownField(TweetsCollection, field)
		}
		switch op {
		case "addToSet":
			*list = addToSet(*list, value)
		case "push":
			*list = append(*list, value)
		default:
			*list = pull(*list, value)
		}
		t.UpdatedAt = r.db.now()
		s.touch(id)
		return nil
	})
}

func (r tweets) filter(ctx context.Context, keep func(*model.Tweet) bool) ([]model.Tweet, error) {
	out := make([]model.Tweet, 0)
	err := r.db.read(ctx, func(s *state) error {
		for _, t := range s.tweets {
			if keep(t) {
				out = append(out, *cloneTweet(t))
			}
		}
		sort.SliceStable(out, func(i, j int) bool {
			return s.seq[out[i].ID] < s.seq[out[j].ID]
		})
		return nil
	})
	return out, err
}

func errUnknownField(collection string, field store.Field) error {
	return fmt.Errorf("memory: %s has no array field %q", collection, field)
}
