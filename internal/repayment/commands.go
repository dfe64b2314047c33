package repayment

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// CommandKind names a post-commit side effect handled by an external
// collaborator. Commands carry only primitive identifiers; the engine never
// calls the collaborators directly.
type CommandKind string

const (
	CmdNotifyOverpayment       CommandKind = "notify_overpayment"
	CmdCreditWallet            CommandKind = "credit_wallet"
	CmdUpdateCollectionsBucket CommandKind = "update_collections_bucket"
	CmdEvictCollections        CommandKind = "evict_collections_followup"
	CmdRecomputeScheme         CommandKind = "recompute_scheme_eligibility"
	CmdLateFeeVoided           CommandKind = "late_fee_voided"
)

// Command is one deferred side-effect instruction, dispatched only after the
// ledger transaction commits.
type Command struct {
	Kind      CommandKind
	AccountID uuid.UUID
	LoanID    uuid.UUID
	PeriodID  uuid.UUID
	Amount    decimal.Decimal
	Reference string
}
