package mongo

import (
	"context"
	"errors"
	"fmt"
	apperrors "medislot/pkg/errors"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readconcern"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.mongodb.org/mongo-driver/mongo/writeconcern"
)

// ErrWriteConflict means a concurrent writer kept winning until the driver
// stopped retrying the transaction.
var ErrWriteConflict = errors.New("transaction lost a write conflict")

const (
	writeConflictCode         = 112
	transientTransactionLabel = "TransientTransactionError"
)

type TransactionFunc func(ctx mongo.SessionContext) error

type TransactionManager interface {
	ExecuteTransaction(ctx context.Context, fn TransactionFunc) error
}

type mongoTransactionManager struct {
	client *mongo.Client
	opts   *options.TransactionOptions
}

// NewTransactionManager runs transactions on the primary with snapshot reads
// and majority writes. An overlap check inside the transaction then sees every
// committed appointment, and a committed booking survives a failover.
func NewTransactionManager(client *mongo.Client) TransactionManager {
	return &mongoTransactionManager{
		client: client,
		opts: options.Transaction().
			SetReadPreference(readpref.Primary()).
			SetReadConcern(readconcern.Snapshot()).
			SetWriteConcern(writeconcern.Majority()),
	}
}

// ExecuteTransaction commits fn or nothing. Domain errors returned by fn pass
// through untouched; a conflict that outlived the driver's retries is
// reported as ErrWriteConflict.
func (m *mongoTransactionManager) ExecuteTransaction(ctx context.Context, fn TransactionFunc) error {
	session, err := m.client.StartSession()
	if err != nil {
		return fmt.Errorf("start session: %w", err)
	}
	defer session.EndSession(ctx)

	_, err = session.WithTransaction(ctx, func(sessCtx mongo.SessionContext) (any, error) {
		return nil, fn(sessCtx)
	}, m.opts)
	return classifyTransactionError(err)
}

func classifyTransactionError(err error) error {
	switch {
	case err == nil:
		return nil
	case apperrors.IsAppError(err):
		return err
	case IsWriteConflict(err):
		return fmt.Errorf("%w: %v", ErrWriteConflict, err)
	default:
		return fmt.Errorf("transaction aborted: %w", err)
	}
}

// IsWriteConflict reports whether err is a server write conflict or carries
// the label the server puts on retryable transaction failures.
func IsWriteConflict(err error) bool {
	if errors.Is(err, ErrWriteConflict) {
		return true
	}
	var serverErr mongo.ServerError
	if !errors.As(err, &serverErr) {
		return false
	}
	return serverErr.HasErrorCode(writeConflictCode) || serverErr.HasErrorLabel(transientTransactionLabel)
}

// WithTimeout bounds a repository call. Inside a transaction ctx is the
// SessionContext and is returned as is, so the call stays in the session and
// shares the transaction's deadline. An earlier caller deadline always wins.
func WithTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if _, ok := ctx.(mongo.SessionContext); ok {
		return ctx, func() {}
	}
	if deadline, ok := ctx.Deadline(); ok && time.Until(deadline) < timeout {
		return context.WithDeadline(ctx, deadline)
	}
	return context.WithTimeout(ctx, timeout)
}
