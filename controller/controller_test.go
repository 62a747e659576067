package controller_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"twitter-social/config/db"
	"twitter-social/controller"
	"twitter-social/feed"
	"twitter-social/graph"
	"twitter-social/model"
	"twitter-social/store"
	"twitter-social/store/memory"
	"twitter-social/txn"
)

type envelope struct {
	Data    json.RawMessage `json:"data"`
	Message string          `json:"message"`
	Error   string          `json:"error"`
}

type server struct {
	mem     *memory.DB
	backend store.Backend
	pool    *db.Pool
	metrics *controller.Metrics
	router  *mux.Router
}

func newServer(t *testing.T, cfg db.Config) *server {
	t.Helper()
	log := logrus.New()
	log.SetOutput(io.Discard)

	mem := memory.New()
	pool, err := db.NewPool(context.Background(), mem, cfg, log)
	if err != nil {
		t.Fatalf("NewPool: %v", err)
	}
	t.Cleanup(pool.Close)
	backend, err := mem.Connect(context.Background())
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}

	registry := prometheus.NewRegistry()
	metrics := controller.NewMetrics(registry, pool)
	coordinator := txn.NewCoordinator(log)
	ctrl := controller.New(controller.Deps{
		Pool:    pool,
		Tx:      coordinator,
		Graph:   graph.NewService(pool, coordinator, log),
		Feed:    feed.NewEngine(pool, log, feed.WithSeed(1)),
		Metrics: metrics,
		Log:     log,
	})
	return &server{
		mem:     mem,
		backend: backend,
		pool:    pool,
		metrics: metrics,
		router:  ctrl.Router(registry),
	}
}

func defaultServer(t *testing.T) *server {
	return newServer(t, db.Config{Max: 2, AcquireTimeout: time.Second})
}

func (s *server) do(t *testing.T, method, path, body string) (int, envelope) {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rr := httptest.NewRecorder()
	s.router.ServeHTTP(rr, req)

	if ct := rr.Header().Get("Content-Type"); ct != "application/json" {
		t.Fatalf("%s %s: expected JSON content type, got %q", method, path, ct)
	}
	var env envelope
	if err := json.Unmarshal(rr.Body.Bytes(), &env); err != nil {
		t.Fatalf("%s %s: decode response: %v (%s)", method, path, err, rr.Body.String())
	}
	return rr.Code, env
}

func (s *server) addUser(t *testing.T, name string) string {
	t.Helper()
	u := &model.User{Name: name, Email: name + "@example.com"}
	if err := s.backend.Users().Insert(context.Background(), u); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	return u.ID.Hex()
}

func expect(t *testing.T, gotStatus int, got envelope, wantStatus int, wantText string) {
	t.Helper()
	if gotStatus != wantStatus {
		t.Fatalf("expected status %d, got %d (%+v)", wantStatus, gotStatus, got)
	}
	text := got.Message
	if wantStatus >= http.StatusBadRequest {
		text = got.Error
		if string(got.Data) != "[]" {
			t.Fatalf("expected empty data on failure, got %s", got.Data)
		}
	}
	if text != wantText {
		t.Fatalf("expected %q, got %q", wantText, text)
	}
}

func TestRegister(t *testing.T) {
	s := defaultServer(t)
	body := `{"name":"Ann","email":"ann@example.com","imageUrl":"https://example.com/ann.png"}`

	code, env := s.do(t, http.MethodPost, "/user/register", body)
	expect(t, code, env, http.StatusOK, "User created.")

	code, env = s.do(t, http.MethodPost, "/user/register", body)
	expect(t, code, env, http.StatusOK, "User already exists.")

	code, env = s.do(t, http.MethodGet, "/user/get/ann@example.com", "")
	expect(t, code, env, http.StatusOK, "User retrieved.")
	var u model.User
	if err := json.Unmarshal(env.Data, &u); err != nil {
		t.Fatalf("decode user: %v", err)
	}
	if u.Name != "Ann" || len(u.Followers) != 0 || len(u.Following) != 0 {
		t.Fatalf("unexpected user %+v", u)
	}

	code, env = s.do(t, http.MethodGet, "/user/all", "")
	expect(t, code, env, http.StatusOK, "All user retrieved.")
	var all []model.User
	_ = json.Unmarshal(env.Data, &all)
	if len(all) != 1 {
		t.Fatalf("expected 1 user, got %d", len(all))
	}
}

func TestRegister_Validation(t *testing.T) {
	s := defaultServer(t)
	tests := []struct {
		name string
		body string
		want string
	}{
		{"malformed json", `{"name":`, "Invalid request body."},
		{"missing name", `{"email":"ann@example.com"}`, `"name" is required`},
		{"bad email", `{"name":"Ann","email":"nope"}`, `"email" must be a valid email`},
		{"bad image url", `{"name":"Ann","email":"ann@example.com","imageUrl":"not a url"}`, `"imageUrl" must be a valid uri`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, env := s.do(t, http.MethodPost, "/user/register", tt.body)
			expect(t, code, env, http.StatusBadRequest, tt.want)
		})
	}
}

func TestUserByEmail_NotFound(t *testing.T) {
	s := defaultServer(t)
	code, env := s.do(t, http.MethodGet, "/user/get/ghost@example.com", "")
	expect(t, code, env, http.StatusNotFound, "User not found.")
}

func TestFollowUnfollow(t *testing.T) {
	s := defaultServer(t)
	a, b := s.addUser(t, "a"), s.addUser(t, "b")

	steps := []struct {
		path string
		want string
	}{
		{"/user/follow/" + a + "/" + b, "Followed user."},
		{"/user/follow/" + a + "/" + b, "Followed user."},
		{"/user/unfollow/" + a + "/" + b, "Unfollowed user."},
		{"/user/unfollow/" + a + "/" + b, "User is not being followed."},
	}
	for _, step := range steps {
		code, env := s.do(t, http.MethodPut, step.path, "")
		expect(t, code, env, http.StatusOK, step.want)
		if string(env.Data) != "null" {
			t.Fatalf("expected null data, got %s", env.Data)
		}
	}

	for label, want := range map[string]float64{"followed": 1, "already_following": 1} {
		if got := testutil.ToFloat64(s.metrics.FollowRequests.WithLabelValues(label)); got != want {
			t.Fatalf("follow %s: expected %v, got %v", label, want, got)
		}
	}
	for label, want := range map[string]float64{"unfollowed": 1, "not_following": 1} {
		if got := testutil.ToFloat64(s.metrics.UnfollowRequests.WithLabelValues(label)); got != want {
			t.Fatalf("unfollow %s: expected %v, got %v", label, want, got)
		}
	}
	if got := testutil.ToFloat64(s.metrics.SuccessfulRequests.WithLabelValues("/user/follow/{followerId}/{userId}")); got != 2 {
		t.Fatalf("expected 2 successful follow requests, got %v", got)
	}
	if got := s.pool.Stat().Acquired; got != 0 {
		t.Fatalf("expected all connections released, %d acquired", got)
	}
}

func TestFollow_Errors(t *testing.T) {
	s := defaultServer(t)
	a := s.addUser(t, "a")
	missing := "0123456789abcdef01234567"

	tests := []struct {
		name   string
		path   string
		status int
		want   string
	}{
		{"follow self", "/user/follow/" + a + "/" + a, http.StatusBadRequest, "You cannot follow yourself."},
		{"unfollow self", "/user/unfollow/" + a + "/" + a, http.StatusBadRequest, "You cannot unfollow yourself."},
		{"follow self in upper case", "/user/follow/" + a + "/" + strings.ToUpper(a), http.StatusBadRequest, "You cannot follow yourself."},
		{"bad id", "/user/follow/xyz/" + a, http.StatusBadRequest, "Invalid userId or followerId."},
		{"missing target", "/user/follow/" + a + "/" + missing, http.StatusNotFound, "User not found."},
		{"missing follower", "/user/unfollow/" + missing + "/" + a, http.StatusNotFound, "Follower not found."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, env := s.do(t, http.MethodPut, tt.path, "")
			expect(t, code, env, tt.status, tt.want)
		})
	}
	if got := testutil.ToFloat64(s.metrics.BadRequests.WithLabelValues("/user/follow/{followerId}/{userId}")); got != 4 {
		t.Fatalf("expected 4 failed follow requests, got %v", got)
	}
}

func TestFollow_PoolExhausted(t *testing.T) {
	s := newServer(t, db.Config{Max: 1, AcquireTimeout: 30 * time.Millisecond})
	a, b := s.addUser(t, "a"), s.addUser(t, "b")

	held, err := s.pool.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	defer held.Release()

	code, env := s.do(t, http.MethodPut, "/user/follow/"+a+"/"+b, "")
	expect(t, code, env, http.StatusServiceUnavailable, "Server is busy, please try again later.")
}

func TestFollow_StorageFailure(t *testing.T) {
	s := defaultServer(t)
	a, b := s.addUser(t, "a"), s.addUser(t, "b")
	s.mem.InjectFault(func(collection, op string, _ primitive.ObjectID) error {
		if op == "addToSet:following" {
			return io.ErrUnexpectedEOF
		}
		return nil
	})

	code, env := s.do(t, http.MethodPut, "/user/follow/"+a+"/"+b, "")
	expect(t, code, env, http.StatusInternalServerError, "Error while following user.")
}

func TestSuggestionRoutes(t *testing.T) {
	s := defaultServer(t)
	me := s.addUser(t, "me")
	other := s.addUser(t, "other")

	code, env := s.do(t, http.MethodGet, "/user/suggestions/"+me, "")
	expect(t, code, env, http.StatusOK, "Suggested users retrieved.")
	var suggested []model.UserSummary
	_ = json.Unmarshal(env.Data, &suggested)
	if len(suggested) != 1 || suggested[0].ID.Hex() != other {
		t.Fatalf("expected only the other user, got %+v", suggested)
	}

	code, env = s.do(t, http.MethodGet, "/user/feed/"+me, "")
	expect(t, code, env, http.StatusOK, "done.")
	var bundle model.SuggestionBundle
	_ = json.Unmarshal(env.Data, &bundle)
	if len(bundle.SuggestedUsers) != 1 || len(bundle.PopularUsers) != 2 || len(bundle.OldUsers) != 2 {
		t.Fatalf("unexpected bundle %+v", bundle)
	}

	code, env = s.do(t, http.MethodGet, "/user/feed/nope", "")
	expect(t, code, env, http.StatusBadRequest, "please use a valid user id.")
}

func TestTweetLifecycle(t *testing.T) {
	s := defaultServer(t)
	author, fan := s.addUser(t, "author"), s.addUser(t, "fan")

	code, env := s.do(t, http.MethodPost, "/tweet/add", `{"reference":"hello","author":"`+author+`"}`)
	expect(t, code, env, http.StatusOK, "Tweet created successfully")
	var tweet model.Tweet
	if err := json.Unmarshal(env.Data, &tweet); err != nil {
		t.Fatalf("decode tweet: %v", err)
	}
	id := tweet.ID.Hex()

	like := `{"userId":"` + fan + `"}`
	code, env = s.do(t, http.MethodPut, "/tweet/like/"+id, like)
	expect(t, code, env, http.StatusOK, "Tweet liked successfully.")
	code, env = s.do(t, http.MethodPut, "/tweet/like/"+id, like)
	expect(t, code, env, http.StatusOK, "Tweet disliked successfully.")
	_ = json.Unmarshal(env.Data, &tweet)
	if len(tweet.Likes) != 0 {
		t.Fatalf("expected like to be toggled off, got %v", tweet.Likes)
	}

	code, env = s.do(t, http.MethodPost, "/tweet/comment/"+id, `{"text":"nice","userId":"`+fan+`"}`)
	expect(t, code, env, http.StatusOK, "Comment created")

	code, env = s.do(t, http.MethodGet, "/tweet/get/comments/"+id, "")
	expect(t, code, env, http.StatusOK, "Retrieved all comments.")
	var comments []model.CommentDetail
	_ = json.Unmarshal(env.Data, &comments)
	if len(comments) != 1 || comments[0].Text != "nice" || comments[0].Author == nil || comments[0].Author.ID.Hex() != fan {
		t.Fatalf("unexpected comments %+v", comments)
	}

	code, env = s.do(t, http.MethodPut, "/user/follow/"+fan+"/"+author, "")
	expect(t, code, env, http.StatusOK, "Followed user.")
	code, env = s.do(t, http.MethodGet, "/tweet/get/feeds/"+fan, "")
	expect(t, code, env, http.StatusOK, "Following tweets retrieved.")
	var items []model.FeedItem
	_ = json.Unmarshal(env.Data, &items)
	if len(items) != 1 || items[0].Reference != "hello" || len(items[0].CommentDetails) != 1 || items[0].CommentDetails[0].Text != "nice" {
		t.Fatalf("unexpected feed %+v", items)
	}

	code, env = s.do(t, http.MethodGet, "/tweet/get/top/feeds?page=abc", "")
	expect(t, code, env, http.StatusOK, "Tweets with high impressions retrieved successfully.")
	var top model.TopFeed
	_ = json.Unmarshal(env.Data, &top)
	if top.Page != 1 || top.TotalPages != 1 || len(top.Tweets) != 1 {
		t.Fatalf("unexpected top feed %+v", top)
	}
}

func TestTweet_Errors(t *testing.T) {
	s := defaultServer(t)
	user := s.addUser(t, "user")
	missing := "0123456789abcdef01234567"

	code, env := s.do(t, http.MethodPost, "/tweet/add", `{"reference":"hi","author":"`+missing+`"}`)
	expect(t, code, env, http.StatusNotFound, "Invalid User.")

	code, env = s.do(t, http.MethodPost, "/tweet/add", `{"reference":"hi","author":"abc"}`)
	expect(t, code, env, http.StatusBadRequest, `"author" must be a valid id`)

	code, env = s.do(t, http.MethodPut, "/tweet/like/"+missing, `{"userId":"`+user+`"}`)
	expect(t, code, env, http.StatusNotFound, "Tweet not found.")

	tweet := &model.Tweet{Reference: "hi", Author: primitive.NewObjectID()}
	if err := s.backend.Tweets().Insert(context.Background(), tweet); err != nil {
		t.Fatalf("Insert tweet: %v", err)
	}
	code, env = s.do(t, http.MethodPut, "/tweet/like/"+tweet.ID.Hex(), `{"userId":"`+missing+`"}`)
	expect(t, code, env, http.StatusNotFound, "Invalid User.")
	got, _ := s.backend.Tweets().FindByID(context.Background(), tweet.ID)
	if len(got.Likes) != 0 {
		t.Fatalf("unknown user recorded as liker: %v", got.Likes)
	}

	code, env = s.do(t, http.MethodPost, "/tweet/comment/"+missing, `{"text":"hi","userId":"`+user+`"}`)
	expect(t, code, env, http.StatusNotFound, "Tweet not found.")

	code, env = s.do(t, http.MethodGet, "/tweet/get/feeds/"+missing, "")
	expect(t, code, env, http.StatusNotFound, "User not found.")
}

func TestHealthAndFallbacks(t *testing.T) {
	s := defaultServer(t)

	code, env := s.do(t, http.MethodGet, "/healthz", "")
	expect(t, code, env, http.StatusOK, "ok")

	code, env = s.do(t, http.MethodGet, "/nowhere", "")
	expect(t, code, env, http.StatusNotFound, "Not found")
}

func TestRequestIDHeader(t *testing.T) {
	s := defaultServer(t)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-ID", "abc-123")
	rr := httptest.NewRecorder()
	s.router.ServeHTTP(rr, req)
	if got := rr.Header().Get("X-Request-ID"); got != "abc-123" {
		t.Fatalf("expected request id to be echoed, got %q", got)
	}

	rr = httptest.NewRecorder()
	s.router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	if rr.Header().Get("X-Request-ID") == "" {
		t.Fatal("expected a generated request id")
	}
}

func TestMetricsEndpoint(t *testing.T) {
	s := defaultServer(t)
	s.do(t, http.MethodGet, "/", "")

	rr := httptest.NewRecorder()
	s.router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	for _, name := range []string{"successful_request", "db_pool_max_connections"} {
		if !strings.Contains(rr.Body.String(), name) {
			t.Fatalf("expected %s in metrics output", name)
		}
	}
}

func TestLikeToggle_ConcurrentRequestsStayConsistent(t *testing.T) {
	s := newServer(t, db.Config{Max: 4, AcquireTimeout: 5 * time.Second})
	author, fan := s.addUser(t, "author"), s.addUser(t, "fan")
	authorID, _ := primitive.ObjectIDFromHex(author)
	tweet := &model.Tweet{Reference: "hello", Author: authorID}
	if err := s.backend.Tweets().Insert(context.Background(), tweet); err != nil {
		t.Fatalf("Insert tweet: %v", err)
	}

	var (
		mu              sync.Mutex
		liked, disliked int
		wg              sync.WaitGroup
	)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			req := httptest.NewRequest(http.MethodPut, "/tweet/like/"+tweet.ID.Hex(), strings.NewReader(`{"userId":"`+fan+`"}`))
			rr := httptest.NewRecorder()
			s.router.ServeHTTP(rr, req)

			var env envelope
			_ = json.Unmarshal(rr.Body.Bytes(), &env)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case rr.Code == http.StatusOK && env.Message == "Tweet liked successfully.":
				liked++
			case rr.Code == http.StatusOK && env.Message == "Tweet disliked successfully.":
				disliked++
			case rr.Code == http.StatusInternalServerError:
				// a conflicting toggle was rolled back
			default:
				t.Errorf("unexpected response %d %+v", rr.Code, env)
			}
		}()
	}
	wg.Wait()

	got, err := s.backend.Tweets().FindByID(context.Background(), tweet.ID)
	if err != nil {
		t.Fatalf("FindByID: %v", err)
	}
	if liked-disliked != len(got.Likes) {
		t.Fatalf("%d likes and %d dislikes succeeded but the tweet has %d likes", liked, disliked, len(got.Likes))
	}
}
