// Package txn coordinates multi-document transactions on a single backend
// connection.
package txn

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"twitter-social/model"
	"twitter-social/store"
)

type State int

const (
	Idle State = iota
	Started
	Committed
	Aborted
)

func (s State) String() string {
	switch s {
	case Idle:
		return "IDLE"
	case Started:
		return "STARTED"
	case Committed:
		return "COMMITTED"
	case Aborted:
		return "ABORTED"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

var ErrNotStarted = errors.New("transaction is not in progress")

// Tx is one transaction bound to one connection.
type Tx struct {
	sess  store.Session
	state State
	ended bool
}

// Begin opens a session on b and starts a transaction in it.
func Begin(ctx context.Context, b store.Backend) (*Tx, error) {
	sess, err := b.StartSession(ctx)
	if err != nil {
		return nil, err
	}
	tx := &Tx{sess: sess, state: Idle}
	if err := sess.StartTransaction(); err != nil {
		sess.EndSession(ctx)
		return nil, fmt.Errorf("start transaction: %w", err)
	}
	tx.state = Started
	return tx, nil
}

func (t *Tx) State() State { return t.state }

// Context returns ctx bound to the transaction's session; store calls made
// with it participate in the transaction.
func (t *Tx) Context(ctx context.Context) context.Context {
	return t.sess.Bind(ctx)
}

func (t *Tx) Commit(ctx context.Context) error {
	if t.state != Started {
		return fmt.Errorf("commit in state %s: %w", t.state, ErrNotStarted)
	}
	if err := t.sess.CommitTransaction(ctx); err != nil {
		return err
	}
	t.state = Committed
	return nil
}

// Abort rolls the transaction back. Aborting a transaction that is no longer
// in progress is a no-op.
func (t *Tx) Abort(ctx context.Context) error {
	if t.state != Started {
		return nil
	}
	t.state = Aborted
	return t.sess.AbortTransaction(ctx)
}

// End releases the session, aborting first if the transaction is still open.
func (t *Tx) End(ctx context.Context) {
	if t.ended {
		return
	}
	if t.state == Started {
		_ = t.Abort(ctx)
	}
	t.sess.EndSession(ctx)
	t.ended = true
}

// AbortError reports a transaction that was rolled back. It matches both
// model.ErrTransactionAbort and the error that caused the rollback.
type AbortError struct {
	Cause error
}

func (e *AbortError) Error() string {
	return "transaction aborted: " + e.Cause.Error()
}

func (e *AbortError) Unwrap() []error {
	return []error{model.ErrTransactionAbort, e.Cause}
}

type Coordinator struct {
	log logrus.FieldLogger
}

func NewCoordinator(log logrus.FieldLogger) *Coordinator {
	return &Coordinator{log: log}
}

// WithTransaction runs fn inside a transaction on b. fn's context is bound to
// the transaction. The transaction commits when fn returns nil; it aborts when
// fn returns an error, panics, or the commit fails. The session is always
// ended after the abort. Cleanup ignores cancellation of ctx.
func (c *Coordinator) WithTransaction(ctx context.Context, b store.Backend, fn func(ctx context.Context) error) (err error) {
	cleanup := context.WithoutCancel(ctx)

	tx, err := Begin(ctx, b)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.End(cleanup)
	defer func() {
		if r := recover(); r != nil {
			c.abort(cleanup, tx)
			panic(r)
		}
	}()

	if err := fn(tx.Context(ctx)); err != nil {
		c.abort(cleanup, tx)
		return &AbortError{Cause: err}
	}
	if err := tx.Commit(ctx); err != nil {
		c.abort(cleanup, tx)
		return &AbortError{Cause: fmt.Errorf("commit: %w", err)}
	}
	return nil
}

func (c *Coordinator) abort(ctx context.Context, tx *Tx) {
	if err := tx.Abort(ctx); err != nil {
		c.log.WithError(err).Warn("Failed to abort transaction")
	}
}
