package repayment

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/sajinavi2006/julomvp-sub039/pkg/audit"
)

// Config carries the tunables of the repayment engine.
type Config struct {
	GracePeriodDays            int
	OverpaymentNotifyThreshold decimal.Decimal
	CashbackRate               decimal.Decimal
}

// Result is everything one committed repayment transaction produced. The
// command list is handed to the post-commit dispatcher by the caller; it is
// never executed inside the atomic unit.
type Result struct {
	Transaction *LedgerTransaction
	Events      []*PaymentEvent
	Intents     []StatusIntent
	Commands    []Command
}

// Orchestrator is the transaction boundary of the repayment engine. It loads
// the account's obligations in a stable order, drives the waterfall per
// account-period, rolls up aggregates and loan statuses, and commits one
// ledger transaction summary per incoming payment.
type Orchestrator struct {
	store      Store
	cfg        Config
	writer     *LedgerWriter
	updater    *AggregateUpdater
	reconciler *LoanStatusReconciler
	voidRule   LateFeeVoidRule
}

// Option customizes an Orchestrator.
type Option func(*Orchestrator)

// WithLateFeeVoidRule installs the pre-allocation late-fee void policy.
func WithLateFeeVoidRule(r LateFeeVoidRule) Option {
	return func(o *Orchestrator) { o.voidRule = r }
}

// WithAuditChain routes the writer's audit notes into the given chain.
func WithAuditChain(chain *audit.ChainLogger) Option {
	return func(o *Orchestrator) { o.writer.Audit = chain }
}

// NewOrchestrator wires the engine components over one store.
func NewOrchestrator(st Store, cfg Config, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		store:      st,
		cfg:        cfg,
		writer:     NewLedgerWriter(cfg.GracePeriodDays, nil),
		updater:    &AggregateUpdater{GracePeriodDays: cfg.GracePeriodDays},
		reconciler: &LoanStatusReconciler{},
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Process settles one incoming payment identified by its unique external
// reference. It returns *AlreadyProcessedError when the payment was settled
// before, and commits nothing on any error.
func (o *Orchestrator) Process(ctx context.Context, externalReference string, waiver *WaiverRequest) (*Result, error) {
	var result *Result

	err := o.store.WithinTx(ctx, func(tx Tx) error {
		payment, err := tx.GetPaymentForUpdate(ctx, externalReference)
		if err != nil {
			return fmt.Errorf("failed to load payment %s: %w", externalReference, err)
		}
		if payment.IsProcessed {
			return &AlreadyProcessedError{Reference: externalReference}
		}

		r, err := o.settle(ctx, tx, payment, waiver)
		if err != nil {
			return err
		}
		result = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (o *Orchestrator) settle(ctx context.Context, tx Tx, payment *IncomingPayment, waiver *WaiverRequest) (*Result, error) {
	account, err := tx.GetAccount(ctx, payment.AccountID)
	if err != nil {
		return nil, fmt.Errorf("failed to load account %s: %w", payment.AccountID, err)
	}
	scheme := CashbackSchemeFor(account.CashbackScheme, o.cfg.CashbackRate)
	streak := account.CashbackStreak

	periods, err := tx.ListOpenPeriodsForUpdate(ctx, payment.AccountID)
	if err != nil {
		return nil, fmt.Errorf("failed to load open periods: %w", err)
	}

	remaining := payment.Amount
	waiverBudget := decimal.Zero
	if waiver != nil {
		waiverBudget = waiver.Budget
	}

	var (
		events       []*PaymentEvent
		commands     []Command
		towards      = Allocation{}
		touchedLoans = make(map[uuid.UUID]bool)
	)

	for _, period := range periods {
		if !remaining.IsPositive() {
			break
		}

		installments, err := tx.ListPeriodInstallmentsForUpdate(ctx, period.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to lock installments of period %s: %w", period.ID, err)
		}

		if o.voidRule != nil && o.voidRule.ShouldVoid(period, installments, remaining, payment.SettlementDate) {
			voided, err := o.voidLateFees(ctx, tx, period, installments, payment.SettlementDate, touchedLoans)
			if err != nil {
				return nil, err
			}
			commands = append(commands, voided...)
		}

		allocations, pass := RunWaterfall(installments, remaining, waiverBudget, waiver)
		remaining = pass.Remaining
		waiverBudget = pass.WaiverBudget

		for _, inst := range installments {
			alloc, ok := allocations[inst.ID]
			if !ok {
				continue
			}

			wr, err := o.writer.Apply(inst, alloc, payment.SettlementDate, payment.SourceType, scheme, streak)
			if err != nil {
				return nil, err
			}
			if wr == nil {
				continue
			}

			if err := tx.SaveInstallment(ctx, inst); err != nil {
				return nil, fmt.Errorf("failed to save installment %s: %w", inst.ID, err)
			}

			events = append(events, wr.Event)
			towards.Principal = towards.Principal.Add(alloc.Principal)
			towards.Interest = towards.Interest.Add(alloc.Interest)
			towards.LateFee = towards.LateFee.Add(alloc.LateFee)
			touchedLoans[inst.LoanID] = true

			streak += wr.StreakDelta
			if wr.Cashback.IsPositive() {
				commands = append(commands, Command{
					Kind:      CmdRecomputeScheme,
					AccountID: account.ID,
					LoanID:    inst.LoanID,
					Amount:    wr.Cashback,
					Reference: inst.ID.String(),
				})
			}
		}

		periodCommands, err := o.updater.Update(period, installments, payment.SettlementDate)
		if err != nil {
			return nil, err
		}
		if err := tx.SavePeriod(ctx, period); err != nil {
			return nil, fmt.Errorf("failed to save period %s: %w", period.ID, err)
		}
		commands = append(commands, periodCommands...)
	}

	intents, err := o.reconcileLoans(ctx, tx, touchedLoans, payment.SettlementDate)
	if err != nil {
		return nil, err
	}
	for _, intent := range intents {
		commands = append(commands, Command{
			Kind:      CmdUpdateCollectionsBucket,
			AccountID: account.ID,
			LoanID:    intent.LoanID,
			Reference: string(intent.NewStatus),
		})
	}

	if remaining.IsPositive() {
		commands = append(commands, Command{
			Kind:      CmdCreditWallet,
			AccountID: account.ID,
			Amount:    remaining,
			Reference: payment.ExternalReference,
		})
		if o.cfg.OverpaymentNotifyThreshold.IsPositive() && remaining.GreaterThan(o.cfg.OverpaymentNotifyThreshold) {
			commands = append(commands, Command{
				Kind:      CmdNotifyOverpayment,
				AccountID: account.ID,
				Amount:    remaining,
				Reference: payment.ExternalReference,
			})
		}
	}

	// Conservation: every unit of the incoming amount is accounted for.
	accounted := towards.Total().Add(remaining)
	if !accounted.Equal(payment.Amount) {
		return nil, fmt.Errorf("allocation drift on payment %s: accounted %s of %s",
			payment.ExternalReference, accounted.StringFixed(2), payment.Amount.StringFixed(2))
	}

	summary := &LedgerTransaction{
		ID:               uuid.New(),
		SourceReference:  payment.ExternalReference,
		TransactionType:  payment.SourceType,
		TowardsPrincipal: towards.Principal,
		TowardsInterest:  towards.Interest,
		TowardsLateFee:   towards.LateFee,
		Overpayment:      remaining,
		SettlementDate:   payment.SettlementDate,
		CreatedAt:        time.Now().UTC(),
	}
	if err := tx.SaveLedgerTransaction(ctx, summary); err != nil {
		return nil, fmt.Errorf("failed to save ledger transaction: %w", err)
	}

	for _, ev := range events {
		ev.LedgerTransactionID = summary.ID
		if err := tx.SavePaymentEvent(ctx, ev); err != nil {
			return nil, fmt.Errorf("failed to save payment event %s: %w", ev.ID, err)
		}
	}

	if streak != account.CashbackStreak {
		account.CashbackStreak = streak
		if err := tx.SaveAccount(ctx, account); err != nil {
			return nil, fmt.Errorf("failed to save account %s: %w", account.ID, err)
		}
	}

	if err := tx.MarkProcessed(ctx, payment.ID); err != nil {
		return nil, fmt.Errorf("failed to mark payment processed: %w", err)
	}

	return &Result{
		Transaction: summary,
		Events:      events,
		Intents:     intents,
		Commands:    commands,
	}, nil
}

// voidLateFees zeroes outstanding late-fee shortfall across a period before
// allocation. The fee reduction is an adjustment, not a payment, so no
// ledger entry is created; collaborators learn about it via a command. When
// the void alone settles an installment the waterfall will skip it, so the
// paid transition must happen here, and the loan is marked touched so the
// reconciler still sees it.
func (o *Orchestrator) voidLateFees(ctx context.Context, tx Tx, period *AccountPeriod, installments []*Installment, settlement time.Time, touched map[uuid.UUID]bool) ([]Command, error) {
	var commands []Command
	for _, inst := range installments {
		fee := inst.Shortfall(ComponentLateFee)
		if !fee.IsPositive() {
			continue
		}
		inst.LateFeeDue = inst.LateFeeDue.Sub(fee)
		inst.Recompute()
		inst.UpdatedAt = settlement
		touched[inst.LoanID] = true
		if inst.DueAmount.IsZero() {
			classification := classifyLateness(daysPastDue(inst.DueDate, settlement), o.cfg.GracePeriodDays)
			inst.Status = installmentStatusFor(classification)
			paid := settlement
			inst.PaidDate = &paid
			if o.writer.Audit != nil {
				o.writer.Audit.Append(inst.ID.String(),
					fmt.Sprintf("late fee %s voided, installment settled", fee.StringFixed(2)))
			}
		}
		if err := tx.SaveInstallment(ctx, inst); err != nil {
			return nil, fmt.Errorf("failed to save installment %s after fee void: %w", inst.ID, err)
		}
		commands = append(commands, Command{
			Kind:     CmdLateFeeVoided,
			LoanID:   inst.LoanID,
			PeriodID: period.ID,
			Amount:   fee,
		})
	}
	return commands, nil
}

func (o *Orchestrator) reconcileLoans(ctx context.Context, tx Tx, touched map[uuid.UUID]bool, asOf time.Time) ([]StatusIntent, error) {
	if len(touched) == 0 {
		return nil, nil
	}

	ids := make([]uuid.UUID, 0, len(touched))
	for id := range touched {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })

	loans := make([]*Loan, 0, len(ids))
	byLoan := make(map[uuid.UUID][]*Installment, len(ids))
	for _, id := range ids {
		loan, err := tx.GetLoan(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("failed to load loan %s: %w", id, err)
		}
		installments, err := tx.ListLoanInstallments(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("failed to load installments of loan %s: %w", id, err)
		}
		loans = append(loans, loan)
		byLoan[id] = installments
	}

	intents := o.reconciler.Reconcile(loans, byLoan, asOf)

	for _, loan := range loans {
		for _, intent := range intents {
			if intent.LoanID != loan.ID {
				continue
			}
			loan.Status = intent.NewStatus
			loan.UpdatedAt = asOf
			if err := tx.SaveLoan(ctx, loan); err != nil {
				return nil, fmt.Errorf("failed to save loan %s: %w", loan.ID, err)
			}
		}
	}

	return intents, nil
}
