package controller

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"twitter-social/model"
	"twitter-social/store"
)

func (c *Controller) CreateTweetHandler(w http.ResponseWriter, r *http.Request) {
	var req createTweetRequest
	if err := decode(w, r, &req); err != nil {
		c.fail(w, r, err, "Something went wrong.")
		return
	}
	author, _ := primitive.ObjectIDFromHex(req.Author)

	conn, err := c.pool.Acquire(r.Context())
	if err != nil {
		c.fail(w, r, err, "Something went wrong.")
		return
	}
	defer conn.Release()

	if _, err := conn.Users().FindByID(r.Context(), author); err != nil {
		c.fail(w, r, notFound(err, "Invalid User."), "Something went wrong.")
		return
	}
	tweet := &model.Tweet{Reference: req.Reference, Author: author}
	if err := conn.Tweets().Insert(r.Context(), tweet); err != nil {
		c.fail(w, r, err, "Something went wrong.")
		return
	}
	sendSuccess(w, tweet, "Tweet created successfully")
}

// LikeTweetHandler toggles the user's like on the tweet. The read and the
// write share one transaction, so concurrent toggles cannot both like.
func (c *Controller) LikeTweetHandler(w http.ResponseWriter, r *http.Request) {
	tweetID, err := primitive.ObjectIDFromHex(mux.Vars(r)["tweetId"])
	if err != nil {
		c.fail(w, r, model.Invalid("Invalid tweet id."), "Error while liking tweet.")
		return
	}
	var req likeRequest
	if err := decode(w, r, &req); err != nil {
		c.fail(w, r, err, "Error while liking tweet.")
		return
	}
	userID, _ := primitive.ObjectIDFromHex(req.UserID)

	conn, err := c.pool.Acquire(r.Context())
	if err != nil {
		c.fail(w, r, err, "Error while liking tweet.")
		return
	}
	defer conn.Release()

	var (
		tweet  *model.Tweet
		status string
	)
	err = c.tx.WithTransaction(context.WithoutCancel(r.Context()), conn, func(ctx context.Context) error {
		tweets := conn.Tweets()
		current, err := tweets.FindByID(ctx, tweetID)
		if err != nil {
			return notFound(err, "Tweet not found.")
		}
		if _, err := conn.Users().FindByID(ctx, userID); err != nil {
			return notFound(err, "Invalid User.")
		}

		if current.LikedBy(userID) {
			status = "disliked"
			err = tweets.Pull(ctx, tweetID, store.Likes, userID)
		} else {
			status = "liked"
			err = tweets.AddToSet(ctx, tweetID, store.Likes, userID)
		}
		if err != nil {
			return notFound(err, "Tweet not found.")
		}
		tweet, err = tweets.FindByID(ctx, tweetID)
		return notFound(err, "Tweet not found.")
	})
	if err != nil {
		c.fail(w, r, err, "Error while liking tweet.")
		return
	}
	sendSuccess(w, tweet, "Tweet "+status+" successfully.")
}

// CreateCommentHandler stores the comment and appends it to the tweet in one
// transaction.
func (c *Controller) CreateCommentHandler(w http.ResponseWriter, r *http.Request) {
	tweetID, err := primitive.ObjectIDFromHex(mux.Vars(r)["id"])
	if err != nil {
		c.fail(w, r, model.Invalid("Invalid tweet id."), "Server error.")
		return
	}
	var req commentRequest
	if err := decode(w, r, &req); err != nil {
		c.fail(w, r, err, "Server error.")
		return
	}
	userID, _ := primitive.ObjectIDFromHex(req.UserID)

	conn, err := c.pool.Acquire(r.Context())
	if err != nil {
		c.fail(w, r, err, "Server error.")
		return
	}
	defer conn.Release()

	comment := &model.Comment{Text: req.Text, Author: userID, Tweet: tweetID}
	err = c.tx.WithTransaction(context.WithoutCancel(r.Context()), conn, func(ctx context.Context) error {
		if _, err := conn.Tweets().FindByID(ctx, tweetID); err != nil {
			return notFound(err, "Tweet not found.")
		}
		if _, err := conn.Users().FindByID(ctx, userID); err != nil {
			return notFound(err, "Invalid User.")
		}
		if err := conn.Comments().Insert(ctx, comment); err != nil {
			return err
		}
		return conn.Tweets().Push(ctx, tweetID, store.CommentIDs, comment.ID)
	})
	if err != nil {
		c.fail(w, r, err, "Server error.")
		return
	}
	sendSuccess(w, comment, "Comment created")
}

func (c *Controller) CommentsHandler(w http.ResponseWriter, r *http.Request) {
	tweetID, err := primitive.ObjectIDFromHex(mux.Vars(r)["tweetId"])
	if err != nil {
		c.fail(w, r, model.Invalid("Invalid tweet id."), "Something went wrong.")
		return
	}

	conn, err := c.pool.Acquire(r.Context())
	if err != nil {
		c.fail(w, r, err, "Something went wrong.")
		return
	}
	defer conn.Release()

	if _, err := conn.Tweets().FindByID(r.Context(), tweetID); err != nil {
		c.fail(w, r, notFound(err, "Tweet not found."), "Something went wrong.")
		return
	}
	comments, err := conn.Comments().ByTweet(r.Context(), tweetID)
	if err != nil {
		c.fail(w, r, err, "Something went wrong.")
		return
	}

	var ids []primitive.ObjectID
	for _, cm := range comments {
		ids = append(ids, cm.Author)
		ids = append(ids, cm.Likes...)
	}
	people, err := conn.Users().FindByIDs(r.Context(), ids)
	if err != nil {
		c.fail(w, r, err, "Something went wrong.")
		return
	}
	byID := make(map[primitive.ObjectID]model.UserSummary, len(people))
	for i := range people {
		byID[people[i].ID] = people[i].Summary()
	}

	details := make([]model.CommentDetail, 0, len(comments))
	for i := range comments {
		details = append(details, comments[i].Detail(byID))
	}
	sendSuccess(w, details, "Retrieved all comments.")
}

func (c *Controller) FollowingFeedHandler(w http.ResponseWriter, r *http.Request) {
	items, err := c.feed.FollowingFeed(r.Context(), mux.Vars(r)["userId"])
	if err != nil {
		c.fail(w, r, err, "Error while retrieving following tweets.")
		return
	}
	sendSuccess(w, items, "Following tweets retrieved.")
}

func (c *Controller) TopFeedHandler(w http.ResponseWriter, r *http.Request) {
	page, err := strconv.Atoi(r.URL.Query().Get("page"))
	if err != nil || page < 1 {
		page = 1
	}
	top, err := c.feed.TopFeed(r.Context(), page)
	if err != nil {
		c.fail(w, r, err, "Error while retrieving tweets with high impressions.")
		return
	}
	sendSuccess(w, top, "Tweets with high impressions retrieved successfully.")
}

func notFound(err error, message string) error {
	if errors.Is(err, store.ErrNotFound) {
		return model.NotFound(message)
	}
	return err
}
