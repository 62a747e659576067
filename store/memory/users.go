package memory

import (
	"context"
	"sort"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"twitter-social/model"
	"twitter-social/store"
)

type users struct {
	db *DB
}

func (r users) Insert(ctx context.Context, u *model.User) error {
	if u.ID.IsZero() {
		u.ID = primitive.NewObjectID()
	}
	if u.Followers == nil {
		u.Followers = []primitive.ObjectID{}
	}
	if u.Following == nil {
		u.Following = []primitive.ObjectID{}
	}
	now := r.db.now()
	u.CreatedAt, u.UpdatedAt = now, now

	return r.db.write(ctx, UsersCollection, "insert", u.ID, func(s *state) error {
		if _, ok := s.users[u.ID]; ok {
			return store.ErrDuplicate
		}
		for _, existing := range s.users {
			if existing.Email == u.Email {
				return store.ErrDuplicate
			}
		}
		s.users[u.ID] = cloneUser(u)
		s.insertSeq(u.ID)
		s.touch(u.ID)
		return nil
	})
}

func (r users) FindByID(ctx context.Context, id primitive.ObjectID) (*model.User, error) {
	var out *model.User
	err := r.db.read(ctx, func(s *state) error {
		u, ok := s.users[id]
		if !ok {
			return store.ErrNotFound
		}
		out = cloneUser(u)
		return nil
	})
	return out, err
}

func (r users) FindByEmail(ctx context.Context, email string) (*model.User, error) {
	var out *model.User
	err := r.db.read(ctx, func(s *state) error {
		for _, u := range s.users {
			if u.Email == email {
				out = cloneUser(u)
				return nil
			}
		}
		return store.ErrNotFound
	})
	return out, err
}

func (r users) FindByIDs(ctx context.Context, ids []primitive.ObjectID) ([]model.User, error) {
	return r.filter(ctx, func(u *model.User) bool { return contains(ids, u.ID) })
}

func (r users) All(ctx context.Context) ([]model.User, error) {
	return r.filter(ctx, func(*model.User) bool { return true })
}

func (r users) NotIn(ctx context.Context, ids []primitive.ObjectID) ([]model.User, error) {
	return r.filter(ctx, func(u *model.User) bool { return !contains(ids, u.ID) })
}

func (r users) MostFollowed(ctx context.Context, exclude []primitive.ObjectID, limit int) ([]model.User, error) {
	out, err := r.filter(ctx, func(u *model.User) bool { return !contains(exclude, u.ID) })
	if err != nil {
		return nil, err
	}
	sort.SliceStable(out, func(i, j int) bool {
		if len(out[i].Followers) != len(out[j].Followers) {
			return len(out[i].Followers) > len(out[j].Followers)
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return truncate(out, limit), nil
}

func (r users) Newest(ctx context.Context, limit int) ([]model.User, error) {
	out, err := r.All(ctx)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return truncate(out, limit), nil
}

func (r users) AddToSet(ctx context.Context, id primitive.ObjectID, field store.Field, value primitive.ObjectID) error {
	return r.update(ctx, id, "addToSet", field, value)
}

func (r users) Pull(ctx context.Context, id primitive.ObjectID, field store.Field, value primitive.ObjectID) error {
	return r.update(ctx, id, "pull", field, value)
}

func (r users) update(ctx context.Context, id primitive.ObjectID, op string, field store.Field, value primitive.ObjectID) error {
	return r.db.write(ctx, UsersCollection, op+":"+string(field), id, func(s *state) error {
		u, ok := s.users[id]
		if !ok {
			return store.ErrNotFound
		}
		var list *[]primitive.ObjectID
		switch field {
		case store.Followers:
			list = &u.Followers
		case store.Following:
			list = &u.Following
		default:
			return errUnknownField(UsersCollection, field)
		}
		if op == "addToSet" {
			*list = addToSet(*list, value)
		} else {
			*list = pull(*list, value)
		}
		u.UpdatedAt = r.db.now()
		s.touch(id)
		return nil
	})
}

// filter returns matching users in insertion order.
func (r users) filter(ctx context.Context, keep func(*model.User) bool) ([]model.User, error) {
	out := make([]model.User, 0)
	err := r.db.read(ctx, func(s *state) error {
		for _, u := range s.users {
			if keep(u) {
				out = append(out, *cloneUser(u))
			}
		}
		sort.SliceStable(out, func(i, j int) bool {
			return s.seq[out[i].ID] < s.seq[out[j].ID]
		})
		return nil
	})
	return out, err
}

func truncate[T any](items []T, limit int) []T {
	if limit > 0 && len(items) > limit {
		return items[:limit]
	}
	return items
}
