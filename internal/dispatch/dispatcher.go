package dispatch

import (
	"context"
	"log/slog"
	"time"

	"github.com/sajinavi2006/julomvp-sub039/internal/repayment"
)

// Handler executes one post-commit command against an external collaborator.
// Handlers must be idempotent: commands are delivered at least once.
type Handler func(ctx context.Context, cmd repayment.Command) error

// Dispatcher drains the command list a committed repayment produced. It runs
// strictly outside the ledger transaction: a failing command is logged and
// retried, never allowed to affect the commit.
type Dispatcher struct {
	logger      *slog.Logger
	handlers    map[repayment.CommandKind]Handler
	maxAttempts int
	backoff     time.Duration
}

// New creates a dispatcher. Commands without a registered handler are logged
// and skipped.
func New(logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		logger:      logger,
		handlers:    make(map[repayment.CommandKind]Handler),
		maxAttempts: 3,
		backoff:     100 * time.Millisecond,
	}
}

// Register installs the handler for one command kind.
func (d *Dispatcher) Register(kind repayment.CommandKind, h Handler) {
	d.handlers[kind] = h
}

// Dispatch delivers every command, in order. It never returns an error; the
// ledger transaction is already committed and must not be rolled back.
func (d *Dispatcher) Dispatch(ctx context.Context, commands []repayment.Command) {
	for _, cmd := range commands {
		d.deliver(ctx, cmd)
	}
}

func (d *Dispatcher) deliver(ctx context.Context, cmd repayment.Command) {
	h, ok := d.handlers[cmd.Kind]
	if !ok {
		d.logger.Warn("no handler for post-commit command", "kind", cmd.Kind, "account_id", cmd.AccountID)
		return
	}

	var err error
	for attempt := 1; attempt <= d.maxAttempts; attempt++ {
		if err = h(ctx, cmd); err == nil {
			return
		}
		d.logger.Warn("post-commit command failed",
			"kind", cmd.Kind, "account_id", cmd.AccountID, "attempt", attempt, "error", err)
		if attempt < d.maxAttempts {
			time.Sleep(time.Duration(attempt) * d.backoff)
		}
	}

	d.logger.Error("post-commit command dropped after retries",
		"kind", cmd.Kind, "account_id", cmd.AccountID, "error", err)
}
