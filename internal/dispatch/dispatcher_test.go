package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/sajinavi2006/julomvp-sub039/internal/repayment"
)

func testDispatcher() *Dispatcher {
	d := New(slog.Default())
	d.backoff = 0
	return d
}

func TestDispatchDeliversInOrder(t *testing.T) {
	d := testDispatcher()
	var seen []repayment.CommandKind
	record := func(_ context.Context, cmd repayment.Command) error {
		seen = append(seen, cmd.Kind)
		return nil
	}
	d.Register(repayment.CmdCreditWallet, record)
	d.Register(repayment.CmdNotifyOverpayment, record)

	d.Dispatch(context.Background(), []repayment.Command{
		{Kind: repayment.CmdCreditWallet, AccountID: uuid.New()},
		{Kind: repayment.CmdNotifyOverpayment, AccountID: uuid.New()},
	})

	assert.Equal(t, []repayment.CommandKind{repayment.CmdCreditWallet, repayment.CmdNotifyOverpayment}, seen)
}

func TestDispatchRetriesTransientFailure(t *testing.T) {
	d := testDispatcher()
	attempts := 0
	d.Register(repayment.CmdEvictCollections, func(_ context.Context, _ repayment.Command) error {
		attempts++
		if attempts < 3 {
			return errors.New("collaborator unavailable")
		}
		return nil
	})

	d.Dispatch(context.Background(), []repayment.Command{{Kind: repayment.CmdEvictCollections}})

	assert.Equal(t, 3, attempts)
}

func TestDispatchGivesUpAfterMaxAttempts(t *testing.T) {
	d := testDispatcher()
	attempts := 0
	d.Register(repayment.CmdEvictCollections, func(_ context.Context, _ repayment.Command) error {
		attempts++
		return errors.New("permanent failure")
	})

	// Must not panic or propagate: the ledger transaction is committed.
	d.Dispatch(context.Background(), []repayment.Command{{Kind: repayment.CmdEvictCollections}})

	assert.Equal(t, 3, attempts)
}

func TestDispatchSkipsUnhandledKinds(t *testing.T) {
	d := testDispatcher()

	d.Dispatch(context.Background(), []repayment.Command{{Kind: repayment.CmdRecomputeScheme}})
}
