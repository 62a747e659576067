package controller

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"twitter-social/config/db"
	"twitter-social/feed"
	"twitter-social/graph"
	"twitter-social/model"
	"twitter-social/store"
	"twitter-social/txn"
)

type Controller struct {
	pool        *db.Pool
	tx          *txn.Coordinator
	graph       *graph.Service
	feed        *feed.Engine
	metrics     *Metrics
	log         logrus.FieldLogger
	slowRequest time.Duration
}

type Deps struct {
	Pool        *db.Pool
	Tx          *txn.Coordinator
	Graph       *graph.Service
	Feed        *feed.Engine
	Metrics     *Metrics
	Log         logrus.FieldLogger
	SlowRequest time.Duration
}

func New(d Deps) *Controller {
	if d.SlowRequest <= 0 {
		d.SlowRequest = 2 * time.Second
	}
	return &Controller{
		pool:        d.Pool,
		tx:          d.Tx,
		graph:       d.Graph,
		feed:        d.Feed,
		metrics:     d.Metrics,
		log:         d.Log,
		slowRequest: d.SlowRequest,
	}
}

// Router registers every route. gatherer backs /metrics.
func (c *Controller) Router(gatherer prometheus.Gatherer) *mux.Router {
	r := mux.NewRouter()
	r.Use(c.requestLogging)

	r.HandleFunc("/", c.RootHandler).
		Methods("GET")
	r.HandleFunc("/healthz", c.HealthHandler).
		Methods("GET")
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})).
		Methods("GET")

	u := r.PathPrefix("/user").Subrouter()
	u.HandleFunc("/register", c.RegisterHandler).
		Methods("POST")
	u.HandleFunc("/all", c.AllUsersHandler).
		Methods("GET")
	u.HandleFunc("/get/{email}", c.UserByEmailHandler).
		Methods("GET")
	u.HandleFunc("/follow/{followerId}/{userId}", c.FollowHandler).
		Methods("PUT")
	u.HandleFunc("/unfollow/{followerId}/{userId}", c.UnfollowHandler).
		Methods("PUT")
	u.HandleFunc("/feed/{id}", c.SuggestionBundleHandler).
		Methods("GET")
	u.HandleFunc("/suggestions/{id}", c.SuggestionsHandler).
		Methods("GET")

	t := r.PathPrefix("/tweet").Subrouter()
	t.HandleFunc("/add", c.CreateTweetHandler).
		Methods("POST")
	t.HandleFunc("/like/{tweetId}", c.LikeTweetHandler).
		Methods("PUT")
	t.HandleFunc("/comment/{id}", c.CreateCommentHandler).
		Methods("POST")
	t.HandleFunc("/get/comments/{tweetId}", c.CommentsHandler).
		Methods("GET")
	t.HandleFunc("/get/feeds/{userId}", c.FollowingFeedHandler).
		Methods("GET")
	t.HandleFunc("/get/top/feeds", c.TopFeedHandler).
		Methods("GET")

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		sendFailure(w, http.StatusNotFound, "Not found")
	})
	return r
}

func (c *Controller) RootHandler(w http.ResponseWriter, r *http.Request) {
	sendSuccess(w, nil, "Twitter social server")
}

func (c *Controller) HealthHandler(w http.ResponseWriter, r *http.Request) {
	conn, err := c.pool.Acquire(r.Context())
	if err != nil {
		c.fail(w, r, err, "Database unavailable.")
		return
	}
	defer conn.Release()

	if err := conn.Ping(r.Context()); err != nil {
		c.fail(w, r, err, "Database unavailable.")
		return
	}
	sendSuccess(w, c.pool.Stat(), "ok")
}

func (c *Controller) RegisterHandler(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decode(w, r, &req); err != nil {
		c.fail(w, r, err, "Error while creating user.")
		return
	}

	conn, err := c.pool.Acquire(r.Context())
	if err != nil {
		c.fail(w, r, err, "Error while creating user.")
		return
	}
	defer conn.Release()

	users := conn.Users()
	_, err = users.FindByEmail(r.Context(), req.Email)
	if err == nil {
		sendSuccess(w, nil, "User already exists.")
		return
	}
	if !errors.Is(err, store.ErrNotFound) {
		c.fail(w, r, err, "Error while creating user.")
		return
	}

	user := &model.User{Name: req.Name, Email: req.Email, ImageURL: req.ImageURL}
	if err := users.Insert(r.Context(), user); err != nil {
		// lost a race against another registration with the same email
		if errors.Is(err, store.ErrDuplicate) {
			sendSuccess(w, nil, "User already exists.")
			return
		}
		c.fail(w, r, err, "Error while creating user.")
		return
	}
	c.log.WithField("user", user.ID.Hex()).Info("User created")
	sendSuccess(w, nil, "User created.")
}

func (c *Controller) AllUsersHandler(w http.ResponseWriter, r *http.Request) {
	conn, err := c.pool.Acquire(r.Context())
	if err != nil {
		c.fail(w, r, err, "Internal server error")
		return
	}
	defer conn.Release()

	users, err := conn.Users().All(r.Context())
	if err != nil {
		c.fail(w, r, err, "Internal server error")
		return
	}
	sendSuccess(w, users, "All user retrieved.")
}

func (c *Controller) UserByEmailHandler(w http.ResponseWriter, r *http.Request) {
	email := mux.Vars(r)["email"]

	conn, err := c.pool.Acquire(r.Context())
	if err != nil {
		c.fail(w, r, err, "Error while retrieving user.")
		return
	}
	defer conn.Release()

	user, err := conn.Users().FindByEmail(r.Context(), email)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			err = model.NotFound("User not found.")
		}
		c.fail(w, r, err, "Error while retrieving user.")
		return
	}
	sendSuccess(w, user, "User retrieved.")
}

// FollowHandler and UnfollowHandler detach from the request's cancellation so
// a client disconnect does not interrupt the transaction.
func (c *Controller) FollowHandler(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	outcome, err := c.graph.Follow(context.WithoutCancel(r.Context()), vars["followerId"], vars["userId"])
	if err != nil {
		c.fail(w, r, err, "Error while following user.")
		return
	}
	c.metrics.FollowRequests.WithLabelValues(outcomeLabel(outcome)).Inc()
	sendSuccess(w, nil, outcome.Message())
}

func (c *Controller) UnfollowHandler(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	outcome, err := c.graph.Unfollow(context.WithoutCancel(r.Context()), vars["followerId"], vars["userId"])
	if err != nil {
		c.fail(w, r, err, "Error while unfollowing user.")
		return
	}
	c.metrics.UnfollowRequests.WithLabelValues(outcomeLabel(outcome)).Inc()
	sendSuccess(w, nil, outcome.Message())
}

func (c *Controller) SuggestionBundleHandler(w http.ResponseWriter, r *http.Request) {
	bundle, err := c.feed.Bundle(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		c.fail(w, r, err, "Something went wrong !")
		return
	}
	sendSuccess(w, bundle, "done.")
}

func (c *Controller) SuggestionsHandler(w http.ResponseWriter, r *http.Request) {
	users, err := c.feed.Suggestions(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		c.fail(w, r, err, "Error while retrieving suggested users.")
		return
	}
	sendSuccess(w, users, "Suggested users retrieved.")
}

func outcomeLabel(o graph.Outcome) string {
	switch o {
	case graph.Followed:
		return "followed"
	case graph.AlreadyFollowing:
		return "already_following"
	case graph.Unfollowed:
		return "unfollowed"
	case graph.NotFollowing:
		return "not_following"
	default:
		return "unknown"
	}
}
