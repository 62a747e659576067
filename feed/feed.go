// Package feed builds read-only views over the social graph: timelines,
// ranked posts and follow suggestions.
package feed

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"twitter-social/config/db"
	"twitter-social/model"
	"twitter-social/store"
)

const (
	PageSize        = 10
	SuggestionLimit = 10
	// candidatePool is how many ranked candidates are shuffled before the
	// suggestion limit is applied.
	candidatePool = 50
)

// Shuffler permutes n elements through swap. *rand.Rand satisfies it.
type Shuffler interface {
	Shuffle(n int, swap func(i, j int))
}

type Option func(*Engine)

// WithShuffler sets the randomness source used for suggestions.
func WithShuffler(s Shuffler) Option {
	return func(e *Engine) { e.shuffler = s }
}

// WithSeed makes suggestion output reproducible for a given seed.
func WithSeed(seed int64) Option {
	return WithShuffler(rand.New(rand.NewSource(seed)))
}

type Engine struct {
	pool *db.Pool
	log  logrus.FieldLogger

	mu       sync.Mutex
	shuffler Shuffler
}

func NewEngine(pool *db.Pool, log logrus.FieldLogger, opts ...Option) *Engine {
	e := &Engine{pool: pool, log: log}
	for _, opt := range opts {
		opt(e)
	}
	if e.shuffler == nil {
		e.shuffler = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return e
}

// FollowingFeed returns the posts of every author userID follows, newest
// first, each with its author and comments attached.
func (e *Engine) FollowingFeed(ctx context.Context, userID string) ([]model.FeedItem, error) {
	id, err := primitive.ObjectIDFromHex(userID)
	if err != nil {
		return nil, model.Invalid("Invalid user id.")
	}

	conn, err := e.pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Release()

	user, err := conn.Users().FindByID(ctx, id)
	if err != nil {
		return nil, notFound(err, "User not found.")
	}
	tweets, err := conn.Tweets().ByAuthors(ctx, user.Following)
	if err != nil {
		return nil, err
	}
	tweetIDs := make([]primitive.ObjectID, 0, len(tweets))
	for _, t := range tweets {
		tweetIDs = append(tweetIDs, t.ID)
	}
	comments, err := conn.Comments().ByTweets(ctx, tweetIDs)
	if err != nil {
		return nil, err
	}

	people := append([]primitive.ObjectID{}, user.Following...)
	for _, c := range comments {
		people = append(people, c.Author)
		people = append(people, c.Likes...)
	}
	found, err := conn.Users().FindByIDs(ctx, people)
	if err != nil {
		return nil, err
	}
	byID := make(map[primitive.ObjectID]model.UserSummary, len(found))
	for i := range found {
		byID[found[i].ID] = found[i].Summary()
	}
	byTweet := make(map[primitive.ObjectID][]model.CommentDetail)
	for i := range comments {
		byTweet[comments[i].Tweet] = append(byTweet[comments[i].Tweet], comments[i].Detail(byID))
	}

	items := make([]model.FeedItem, 0, len(tweets))
	for _, t := range tweets {
		item := model.FeedItem{Tweet: t, CommentDetails: byTweet[t.ID]}
		if item.CommentDetails == nil {
			item.CommentDetails = []model.CommentDetail{}
		}
		if a, ok := byID[t.Author]; ok {
			item.AuthorDetail = &a
		}
		items = append(items, item)
	}
	return items, nil
}

// TopFeed returns one page of all posts ordered by like count, then newest
// first. Pages start at 1; smaller values are treated as 1.
func (e *Engine) TopFeed(ctx context.Context, page int) (*model.TopFeed, error) {
	if page < 1 {
		page = 1
	}

	conn, err := e.pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Release()

	tweets, err := conn.Tweets().Ranked(ctx, (page-1)*PageSize, PageSize)
	if err != nil {
		return nil, err
	}
	total, err := conn.Tweets().Count(ctx)
	if err != nil {
		return nil, err
	}
	return &model.TopFeed{
		Tweets:     tweets,
		Page:       page,
		TotalPages: int((total + PageSize - 1) / PageSize),
	}, nil
}

// Suggestions ranks users the requester does not follow by follower count
// and recency, then samples SuggestionLimit of the best candidates at random.
// The output is not reproducible unless the engine was built WithSeed.
func (e *Engine) Suggestions(ctx context.Context, userID string) ([]model.UserSummary, error) {
	id, err := primitive.ObjectIDFromHex(userID)
	if err != nil {
		return nil, model.Invalid("Invalid user id.")
	}

	conn, err := e.pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Release()

	user, err := conn.Users().FindByID(ctx, id)
	if err != nil {
		return nil, notFound(err, "User not found.")
	}
	exclude := append([]primitive.ObjectID{user.ID}, user.Following...)
	candidates, err := conn.Users().MostFollowed(ctx, exclude, candidatePool)
	if err != nil {
		return nil, err
	}
	return e.sample(candidates, SuggestionLimit), nil
}

// Bundle combines a random sample of users the requester does not follow,
// the most followed users and the newest users. The lists may overlap.
func (e *Engine) Bundle(ctx context.Context, userID string) (*model.SuggestionBundle, error) {
	id, err := primitive.ObjectIDFromHex(userID)
	if err != nil {
		return nil, model.Invalid("please use a valid user id.")
	}

	conn, err := e.pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Release()

	users := conn.Users()
	user, err := users.FindByID(ctx, id)
	if err != nil {
		return nil, notFound(err, "please use a valid user id.")
	}
	notFollowed, err := users.NotIn(ctx, append([]primitive.ObjectID{user.ID}, user.Following...))
	if err != nil {
		return nil, err
	}
	popular, err := users.MostFollowed(ctx, nil, SuggestionLimit)
	if err != nil {
		return nil, err
	}
	newest, err := users.Newest(ctx, SuggestionLimit)
	if err != nil {
		return nil, err
	}

	return &model.SuggestionBundle{
		SuggestedUsers: e.sample(notFollowed, SuggestionLimit),
		PopularUsers:   summaries(popular),
		OldUsers:       summaries(newest),
	}, nil
}

// sample shuffles users in place and returns the first n as summaries.
func (e *Engine) sample(users []model.User, n int) []model.UserSummary {
	e.mu.Lock()
	e.shuffler.Shuffle(len(users), func(i, j int) {
		users[i], users[j] = users[j], users[i]
	})
	e.mu.Unlock()

	if len(users) > n {
		users = users[:n]
	}
	return summaries(users)
}

func summaries(users []model.User) []model.UserSummary {
	out := make([]model.UserSummary, 0, len(users))
	for i := range users {
		out = append(out, users[i].Summary())
	}
	return out
}

func notFound(err error, message string) error {
	if errors.Is(err, store.ErrNotFound) {
		return model.NotFound(message)
	}
	return err
}
