package txn_test

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/sirupsen/logrus"

	"twitter-social/model"
	"twitter-social/store"
	"twitter-social/store/memory"
	"twitter-social/txn"
)

func newBackend(t *testing.T) (*memory.DB, store.Backend) {
	t.Helper()
	mem := memory.New()
	b, err := mem.Connect(context.Background())
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	return mem, b
}

func newCoordinator() *txn.Coordinator {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return txn.NewCoordinator(l)
}

// recordingBackend wraps a backend and records session calls in order.
type recordingBackend struct {
	store.Backend
	calls *[]string
}

func (b recordingBackend) StartSession(ctx context.Context) (store.Session, error) {
	s, err := b.Backend.StartSession(ctx)
	if err != nil {
		return nil, err
	}
	return recordingSession{Session: s, calls: b.calls}, nil
}

type recordingSession struct {
	store.Session
	calls *[]string
}

func (s recordingSession) StartTransaction() error {
	*s.calls = append(*s.calls, "start")
	return s.Session.StartTransaction()
}

func (s recordingSession) CommitTransaction(ctx context.Context) error {
	*s.calls = append(*s.calls, "commit")
	return s.Session.CommitTransaction(ctx)
}

func (s recordingSession) AbortTransaction(ctx context.Context) error {
	*s.calls = append(*s.calls, "abort")
	return s.Session.AbortTransaction(ctx)
}

func (s recordingSession) EndSession(ctx context.Context) {
	*s.calls = append(*s.calls, "end")
	s.Session.EndSession(ctx)
}

func TestTx_StateMachine(t *testing.T) {
	_, b := newBackend(t)
	ctx := context.Background()

	tx, err := txn.Begin(ctx, b)
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if tx.State() != txn.Started {
		t.Fatalf("expected STARTED, got %s", tx.State())
	}
	if err := tx.Commit(ctx); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if tx.State() != txn.Committed {
		t.Fatalf("expected COMMITTED, got %s", tx.State())
	}
	if err := tx.Commit(ctx); !errors.Is(err, txn.ErrNotStarted) {
		t.Fatalf("expected ErrNotStarted on second commit, got %v", err)
	}
	if err := tx.Abort(ctx); err != nil {
		t.Fatalf("Abort after commit should be a no-op, got %v", err)
	}
	if tx.State() != txn.Committed {
		t.Fatalf("abort after commit changed state to %s", tx.State())
	}
	tx.End(ctx)
	tx.End(ctx)
}

func TestTx_EndAbortsOpenTransaction(t *testing.T) {
	_, b := newBackend(t)
	ctx := context.Background()

	tx, err := txn.Begin(ctx, b)
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	u := &model.User{Name: "Ann", Email: "ann@example.com"}
	if err := b.Users().Insert(tx.Context(ctx), u); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	tx.End(ctx)

	if tx.State() != txn.Aborted {
		t.Fatalf("expected ABORTED, got %s", tx.State())
	}
	if _, err := b.Users().FindByID(ctx, u.ID); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected insert to be rolled back, got %v", err)
	}
}

func TestWithTransaction_Commits(t *testing.T) {
	_, b := newBackend(t)
	ctx := context.Background()
	var calls []string

	u := &model.User{Name: "Ann", Email: "ann@example.com"}
	err := newCoordinator().WithTransaction(ctx, recordingBackend{Backend: b, calls: &calls}, func(ctx context.Context) error {
		return b.Users().Insert(ctx, u)
	})
	if err != nil {
		t.Fatalf("WithTransaction: %v", err)
	}
	if _, err := b.Users().FindByID(ctx, u.ID); err != nil {
		t.Fatalf("expected committed user, got %v", err)
	}
	assertCalls(t, calls, "start", "commit", "end")
}

func TestWithTransaction_AbortsOnError(t *testing.T) {
	_, b := newBackend(t)
	ctx := context.Background()
	var calls []string
	boom := errors.New("boom")

	u := &model.User{Name: "Ann", Email: "ann@example.com"}
	err := newCoordinator().WithTransaction(ctx, recordingBackend{Backend: b, calls: &calls}, func(ctx context.Context) error {
		if err := b.Users().Insert(ctx, u); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, model.ErrTransactionAbort) {
		t.Fatalf("expected ErrTransactionAbort, got %v", err)
	}
	if !errors.Is(err, boom) {
		t.Fatalf("expected the cause to be preserved, got %v", err)
	}
	if _, err := b.Users().FindByID(ctx, u.ID); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected insert to be rolled back, got %v", err)
	}
	assertCalls(t, calls, "start", "abort", "end")
}

func TestWithTransaction_KeepsUserFacingMessage(t *testing.T) {
	_, b := newBackend(t)

	err := newCoordinator().WithTransaction(context.Background(), b, func(ctx context.Context) error {
		return model.NotFound("User not found.")
	})
	if !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	msg, ok := model.Message(err)
	if !ok || msg != "User not found." {
		t.Fatalf("expected message %q, got %q (%v)", "User not found.", msg, ok)
	}
}

func TestWithTransaction_AbortsOnPanic(t *testing.T) {
	_, b := newBackend(t)
	var calls []string

	func() {
		defer func() {
			if r := recover(); r != "kaboom" {
				t.Fatalf("expected panic to propagate, got %v", r)
			}
		}()
		_ = newCoordinator().WithTransaction(context.Background(), recordingBackend{Backend: b, calls: &calls}, func(ctx context.Context) error {
			panic("kaboom")
		})
	}()
	assertCalls(t, calls, "start", "abort", "end")
}

func TestWithTransaction_CommitConflictAborts(t *testing.T) {
	mem, b := newBackend(t)
	ctx := context.Background()

	u := &model.User{Name: "Ann", Email: "ann@example.com"}
	if err := b.Users().Insert(ctx, u); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	other, err := mem.Connect(ctx)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}

	err = newCoordinator().WithTransaction(ctx, b, func(txCtx context.Context) error {
		if err := b.Users().AddToSet(txCtx, u.ID, store.Followers, u.ID); err != nil {
			return err
		}
		// a concurrent writer touches the same document outside the transaction
		return other.Users().Pull(ctx, u.ID, store.Following, u.ID)
	})
	if !errors.Is(err, memory.ErrWriteConflict) {
		t.Fatalf("expected ErrWriteConflict, got %v", err)
	}
	got, err := b.Users().FindByID(ctx, u.ID)
	if err != nil {
		t.Fatalf("FindByID: %v", err)
	}
	if len(got.Followers) != 0 {
		t.Fatalf("expected transactional write to be discarded, followers = %v", got.Followers)
	}
}

func assertCalls(t *testing.T, got []string, want ...string) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("expected calls %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected calls %v, got %v", want, got)
		}
	}
}
