// Package memory is an in-process implementation of the store contracts. It
// supports snapshot transactions with write-conflict detection and fault
// injection, and backs local development (DB_DRIVER=memory) and tests.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"twitter-social/model"
	"twitter-social/store"
)

var (
	ErrUnavailable   = errors.New("memory: database unavailable")
	ErrClosed        = errors.New("memory: connection closed")
	ErrWriteConflict = errors.New("memory: write conflict")
	ErrNoTransaction = errors.New("memory: no transaction in progress")
	ErrInTransaction = errors.New("memory: transaction already in progress")
)

const (
	UsersCollection    = "users"
	TweetsCollection   = "tweets"
	CommentsCollection = "comments"
)

// Fault is consulted before every write. A non-nil return aborts the write
// with that error.
type Fault func(collection, op string, id primitive.ObjectID) error

type Option func(*DB)

// WithClock replaces time.Now for document timestamps.
func WithClock(now func() time.Time) Option {
	return func(db *DB) { db.now = now }
}

// DB holds the documents shared by every connection opened from it.
type DB struct {
	mu          sync.Mutex
	data        *state
	now         func() time.Time
	fault       Fault
	unavailable bool
	opened      int
}

func New(opts ...Option) *DB {
	db := &DB{
		data: newState(),
		now:  func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(db)
	}
	return db
}

// InjectFault installs f as the write hook; nil removes it.
func (db *DB) InjectFault(f Fault) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.fault = f
}

// SetAvailable toggles whether new connections and pings succeed.
func (db *DB) SetAvailable(ok bool) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.unavailable = !ok
}

// Opened reports how many connections have been opened so far.
func (db *DB) Opened() int {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.opened
}

func (db *DB) Connect(ctx context.Context) (store.Backend, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.unavailable {
		return nil, ErrUnavailable
	}
	db.opened++
	return &Conn{db: db}, nil
}

func (db *DB) checkFault(collection, op string, id primitive.ObjectID) error {
	db.mu.Lock()
	f := db.fault
	db.mu.Unlock()
	if f == nil {
		return nil
	}
	return f(collection, op, id)
}

// read runs fn against the transaction snapshot bound to ctx, or against the
// shared data under the lock.
func (db *DB) read(ctx context.Context, fn func(s *state) error) error {
	if t := txFrom(ctx, db); t != nil {
		return fn(t.snap)
	}
	db.mu.Lock()
	defer db.mu.Unlock()
	return fn(db.data)
}

// write is read preceded by the fault hook.
func (db *DB) write(ctx context.Context, collection, op string, id primitive.ObjectID, fn func(s *state) error) error {
	if err := db.checkFault(collection, op, id); err != nil {
		return err
	}
	return db.read(ctx, fn)
}

// Conn is one connection handle to a DB.
type Conn struct {
	db     *DB
	mu     sync.Mutex
	closed bool
}

func (c *Conn) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return ErrClosed
	}
	c.db.mu.Lock()
	defer c.db.mu.Unlock()
	if c.db.unavailable {
		return ErrUnavailable
	}
	return nil
}

func (c *Conn) Close(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *Conn) EnsureIndexes(ctx context.Context) error { return nil }

func (c *Conn) StartSession(ctx context.Context) (store.Session, error) {
	return &session{db: c.db}, nil
}

func (c *Conn) Users() store.Users       { return users{db: c.db} }
func (c *Conn) Tweets() store.Tweets     { return tweets{db: c.db} }
func (c *Conn) Comments() store.Comments { return comments{db: c.db} }

type txKey struct{}

type tx struct {
	db   *DB
	snap *state
	base map[primitive.ObjectID]uint64
}

func txFrom(ctx context.Context, db *DB) *tx {
	t, ok := ctx.Value(txKey{}).(*tx)
	if !ok || t.db != db {
		return nil
	}
	return t
}

type session struct {
	db  *DB
	cur *tx
}

func (s *session) StartTransaction() error {
	if s.cur != nil {
		return ErrInTransaction
	}
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	snap := s.db.data.clone()
	snap.dirty = make(map[primitive.ObjectID]bool)
	base := make(map[primitive.ObjectID]uint64, len(snap.versions))
	for id, v := range snap.versions {
		base[id] = v
	}
	s.cur = &tx{db: s.db, snap: snap, base: base}
	return nil
}

func (s *session) CommitTransaction(ctx context.Context) error {
	if s.cur == nil {
		return ErrNoTransaction
	}
	t := s.cur
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	for id := range t.snap.dirty {
		if s.db.data.versions[id] != t.base[id] {
			return fmt.Errorf("%w on document %s", ErrWriteConflict, id.Hex())
		}
	}
	s.db.data.merge(t.snap)
	s.cur = nil
	return nil
}

func (s *session) AbortTransaction(ctx context.Context) error {
	if s.cur == nil {
		return ErrNoTransaction
	}
	s.cur = nil
	return nil
}

func (s *session) EndSession(ctx context.Context) {
	s.cur = nil
}

func (s *session) Bind(ctx context.Context) context.Context {
	if s.cur == nil {
		return ctx
	}
	return context.WithValue(ctx, txKey{}, s.cur)
}

type state struct {
	users    map[primitive.ObjectID]*model.User
	tweets   map[primitive.ObjectID]*model.Tweet
	comments map[primitive.ObjectID]*model.Comment
	versions map[primitive.ObjectID]uint64
	seq      map[primitive.ObjectID]uint64
	nextSeq  uint64
	// dirty is only set on transaction snapshots.
	dirty map[primitive.ObjectID]bool
}

func newState() *state {
	return &state{
		users:    make(map[primitive.ObjectID]*model.User),
		tweets:   make(map[primitive.ObjectID]*model.Tweet),
		comments: make(map[primitive.ObjectID]*model.Comment),
		versions: make(map[primitive.ObjectID]uint64),
		seq:      make(map[primitive.ObjectID]uint64),
	}
}

func (s *state) touch(id primitive.ObjectID) {
	s.versions[id]++
	if s.dirty != nil {
		s.dirty[id] = true
	}
}

func (s *state) insertSeq(id primitive.ObjectID) {
	s.nextSeq++
	s.seq[id] = s.nextSeq
}

func (s *state) clone() *state {
	c := newState()
	for id, u := range s.users {
		c.users[id] = cloneUser(u)
	}
	for id, t := range s.tweets {
		c.tweets[id] = cloneTweet(t)
	}
	for id, cm := range s.comments {
		c.comments[id] = cloneComment(cm)
	}
	for id, v := range s.versions {
		c.versions[id] = v
	}
	for id, v := range s.seq {
		c.seq[id] = v
	}
	c.nextSeq = s.nextSeq
	return c
}

// merge copies the dirty documents of a committed snapshot into s.
func (s *state) merge(snap *state) {
	for id := range snap.dirty {
		if _, known := s.seq[id]; !known {
			s.insertSeq(id)
		}
		switch {
		case snap.users[id] != nil:
			s.users[id] = cloneUser(snap.users[id])
		case snap.tweets[id] != nil:
			s.tweets[id] = cloneTweet(snap.tweets[id])
		case snap.comments[id] != nil:
			s.comments[id] = cloneComment(snap.comments[id])
		}
		s.versions[id]++
	}
}

func cloneIDs(ids []primitive.ObjectID) []primitive.ObjectID {
	out := make([]primitive.ObjectID, len(ids))
	copy(out, ids)
	return out
}

func cloneUser(u *model.User) *model.User {
	c := *u
	c.Followers = cloneIDs(u.Followers)
	c.Following = cloneIDs(u.Following)
	return &c
}

func cloneTweet(t *model.Tweet) *model.Tweet {
	c := *t
	c.Likes = cloneIDs(t.Likes)
	c.Retweets = cloneIDs(t.Retweets)
	c.Comments = cloneIDs(t.Comments)
	return &c
}

func cloneComment(cm *model.Comment) *model.Comment {
	c := *cm
	c.Likes = cloneIDs(cm.Likes)
	return &c
}

func addToSet(ids []primitive.ObjectID, id primitive.ObjectID) []primitive.ObjectID {
	for _, v := range ids {
		if v == id {
			return ids
		}
	}
	return append(ids, id)
}

func pull(ids []primitive.ObjectID, id primitive.ObjectID) []primitive.ObjectID {
	out := ids[:0]
	for _, v := range ids {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}

func contains(ids []primitive.ObjectID, id primitive.ObjectID) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
