// Package repo holds the user store backends: Cassandra, SQL (postgres or
// sqlite) and an in-memory store. All of them satisfy user.Repository.
package repo

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-identity/pkg/apperr"
	"github.com/ovaphlow/pitchfork/service-identity/pkg/database"
)

const usersTable = "users"

// caller funnels every store call through the gate and turns raw store
// faults into logged internal errors. Domain errors such as misses pass
// through unlogged.
type caller struct {
	gate   *database.Gate
	logger *zap.SugaredLogger
}

func newCaller(gate *database.Gate, logger *zap.SugaredLogger) caller {
	if gate == nil {
		gate = database.NewGate(1)
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return caller{gate: gate, logger: logger}
}

func (c caller) do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	err := c.gate.Do(ctx, fn)
	if err == nil {
		return nil
	}
	var ae *apperr.Error
	if errors.As(err, &ae) {
		if ae.Code == apperr.CodeUserNotFound {
			c.logger.Debugw("user not found", "op", op)
		}
		return err
	}
	c.logger.Errorw("store call failed", "op", op, "err", err)
	return apperr.Internal(fmt.Errorf("%s: %w", op, err))
}
