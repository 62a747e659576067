// Package graph maintains the follow relation between users. A relation is
// recorded twice, in the follower's following list and in the target's
// followers list, and both records change in one transaction.
package graph

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"twitter-social/config/db"
	"twitter-social/model"
	"twitter-social/store"
	"twitter-social/txn"
)

type Outcome int

const (
	Followed Outcome = iota + 1
	AlreadyFollowing
	Unfollowed
	NotFollowing
)

func (o Outcome) Message() string {
	switch o {
	case Followed, AlreadyFollowing:
		return "Followed user."
	case Unfollowed:
		return "Unfollowed user."
	case NotFollowing:
		return "User is not being followed."
	default:
		return ""
	}
}

type Service struct {
	pool  *db.Pool
	tx    *txn.Coordinator
	locks *pairLocks
	log   logrus.FieldLogger
}

func NewService(pool *db.Pool, tx *txn.Coordinator, log logrus.FieldLogger) *Service {
	return &Service{
		pool:  pool,
		tx:    tx,
		locks: newPairLocks(),
		log:   log,
	}
}

// Follow records that followerID follows targetID. Following a user that is
// already followed succeeds without changes.
func (s *Service) Follow(ctx context.Context, followerID, targetID string) (Outcome, error) {
	if followerID == targetID {
		return 0, model.SelfRelation("follow")
	}
	fid, tid, err := parsePair(followerID, targetID)
	if err != nil {
		return 0, err
	}
	// the same id may be spelled in a different case
	if fid == tid {
		return 0, model.SelfRelation("follow")
	}

	var outcome Outcome
	err = s.mutate(ctx, fid, tid, func(ctx context.Context, users store.Users, follower, target *model.User) error {
		if target.HasFollower(fid) && follower.IsFollowing(tid) {
			outcome = AlreadyFollowing
			return nil
		}
		if err := users.AddToSet(ctx, tid, store.Followers, fid); err != nil {
			return fmt.Errorf("add follower: %w", err)
		}
		if err := users.AddToSet(ctx, fid, store.Following, tid); err != nil {
			return fmt.Errorf("add following: %w", err)
		}
		outcome = Followed
		return nil
	})
	if err != nil {
		return 0, err
	}

	s.log.WithFields(logrus.Fields{
		"follower": followerID,
		"user":     targetID,
		"changed":  outcome == Followed,
	}).Info("Follow processed")
	return outcome, nil
}

// Unfollow removes the relation. Unfollowing a user that is not followed
// succeeds with NotFollowing.
func (s *Service) Unfollow(ctx context.Context, followerID, targetID string) (Outcome, error) {
	if followerID == targetID {
		return 0, model.SelfRelation("unfollow")
	}
	fid, tid, err := parsePair(followerID, targetID)
	if err != nil {
		return 0, err
	}
	// the same id may be spelled in a different case
	if fid == tid {
		return 0, model.SelfRelation("unfollow")
	}

	var outcome Outcome
	err = s.mutate(ctx, fid, tid, func(ctx context.Context, users store.Users, follower, target *model.User) error {
		if !target.HasFollower(fid) && !follower.IsFollowing(tid) {
			outcome = NotFollowing
			return nil
		}
		if err := users.Pull(ctx, tid, store.Followers, fid); err != nil {
			return fmt.Errorf("remove follower: %w", err)
		}
		if err := users.Pull(ctx, fid, store.Following, tid); err != nil {
			return fmt.Errorf("remove following: %w", err)
		}
		outcome = Unfollowed
		return nil
	})
	if err != nil {
		return 0, err
	}

	s.log.WithFields(logrus.Fields{
		"follower": followerID,
		"user":     targetID,
		"changed":  outcome == Unfollowed,
	}).Info("Unfollow processed")
	return outcome, nil
}

type mutation func(ctx context.Context, users store.Users, follower, target *model.User) error

// mutate loads both users inside a transaction and hands them to fn. The
// connection is released after the transaction has ended, on every path.
func (s *Service) mutate(ctx context.Context, fid, tid primitive.ObjectID, fn mutation) error {
	unlock := s.locks.lock(fid, tid)
	defer unlock()

	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return err
	}
	defer conn.Release()

	return s.tx.WithTransaction(ctx, conn, func(ctx context.Context) error {
		users := conn.Users()
		follower, err := users.FindByID(ctx, fid)
		if err != nil {
			return lookupError(err, "Follower not found.")
		}
		target, err := users.FindByID(ctx, tid)
		if err != nil {
			return lookupError(err, "User not found.")
		}
		return fn(ctx, users, follower, target)
	})
}

func lookupError(err error, message string) error {
	if errors.Is(err, store.ErrNotFound) {
		return model.NotFound(message)
	}
	return err
}

func parsePair(followerID, targetID string) (primitive.ObjectID, primitive.ObjectID, error) {
	fid, err := primitive.ObjectIDFromHex(followerID)
	if err != nil {
		return fid, fid, model.Invalid("Invalid userId or followerId.")
	}
	tid, err := primitive.ObjectIDFromHex(targetID)
	if err != nil {
		return fid, tid, model.Invalid("Invalid userId or followerId.")
	}
	return fid, tid, nil
}
