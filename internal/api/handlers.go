package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"

	"github.com/sajinavi2006/julomvp-sub039/internal/repayment"
)

type submitRepaymentRequest struct {
	ExternalReference string `json:"external_reference"`
	AccountID         string `json:"account_id"`
	Amount            string `json:"amount"`
	SettlementDate    string `json:"settlement_date"`
	SourceType        string `json:"source_type"`
	PaymentChannel    string `json:"payment_channel"`
}

type repaymentResponse struct {
	CorrelationID    string          `json:"correlation_id,omitempty"`
	Reference        string          `json:"reference"`
	TowardsPrincipal decimal.Decimal `json:"towards_principal"`
	TowardsInterest  decimal.Decimal `json:"towards_interest"`
	TowardsLateFee   decimal.Decimal `json:"towards_late_fee"`
	Overpayment      decimal.Decimal `json:"overpayment"`
	SettlementDate   time.Time       `json:"settlement_date"`
	Replayed         bool            `json:"replayed,omitempty"`
}

func summaryResponse(r *http.Request, lt *repayment.LedgerTransaction, replayed bool) repaymentResponse {
	return repaymentResponse{
		CorrelationID:    CorrelationIDFromContext(r.Context()),
		Reference:        lt.SourceReference,
		TowardsPrincipal: lt.TowardsPrincipal,
		TowardsInterest:  lt.TowardsInterest,
		TowardsLateFee:   lt.TowardsLateFee,
		Overpayment:      lt.Overpayment,
		SettlementDate:   lt.SettlementDate,
		Replayed:         replayed,
	}
}

func handleSubmitRepayment(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req submitRepaymentRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, r, http.StatusBadRequest, "invalid_json")
			return
		}

		if req.ExternalReference == "" {
			writeError(w, r, http.StatusBadRequest, "external_reference_required")
			return
		}
		accountID, err := uuid.Parse(req.AccountID)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, "invalid_account_id")
			return
		}
		amount, err := decimal.NewFromString(req.Amount)
		if err != nil || !amount.IsPositive() {
			writeError(w, r, http.StatusBadRequest, "invalid_amount")
			return
		}
		settlement, err := time.Parse(time.RFC3339, req.SettlementDate)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, "invalid_settlement_date")
			return
		}
		source := repayment.SourceType(req.SourceType)
		switch source {
		case repayment.SourceCash, repayment.SourceWallet, repayment.SourceReversal:
		default:
			writeError(w, r, http.StatusBadRequest, "invalid_source_type")
			return
		}

		payment := &repayment.IncomingPayment{
			ID:                uuid.New(),
			ExternalReference: req.ExternalReference,
			AccountID:         accountID,
			Amount:            amount,
			SettlementDate:    settlement,
			SourceType:        source,
			PaymentChannel:    req.PaymentChannel,
		}
		if _, err := deps.Payments.CreatePayment(r.Context(), payment); err != nil {
			writeError(w, r, http.StatusInternalServerError, "payment_registration_failed")
			return
		}

		result, err := deps.Processor.Process(r.Context(), req.ExternalReference, nil)
		if err != nil {
			var already *repayment.AlreadyProcessedError
			if errors.As(err, &already) {
				prior, lookupErr := deps.Payments.GetLedgerTransaction(r.Context(), req.ExternalReference)
				if lookupErr != nil {
					writeError(w, r, http.StatusConflict, "already_processed")
					return
				}
				writeJSON(w, r, http.StatusOK, summaryResponse(r, prior, true))
				return
			}
			var lockErr *repayment.LockTimeoutError
			if errors.As(err, &lockErr) {
				writeError(w, r, http.StatusServiceUnavailable, "account_busy_retry")
				return
			}
			var integrityErr *repayment.DataIntegrityError
			if errors.As(err, &integrityErr) {
				writeError(w, r, http.StatusConflict, "data_integrity_fault")
				return
			}
			writeError(w, r, http.StatusInternalServerError, "repayment_failed")
			return
		}

		if deps.Dispatcher != nil {
			deps.Dispatcher.Dispatch(r.Context(), result.Commands)
		}

		writeJSON(w, r, http.StatusCreated, summaryResponse(r, result.Transaction, false))
	}
}

func handleGetRepayment(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		reference := mux.Vars(r)["reference"]

		lt, err := deps.Payments.GetLedgerTransaction(r.Context(), reference)
		if err != nil {
			if errors.Is(err, repayment.ErrTransactionNotFound) {
				writeError(w, r, http.StatusNotFound, "repayment_not_found")
				return
			}
			writeError(w, r, http.StatusInternalServerError, "lookup_failed")
			return
		}

		writeJSON(w, r, http.StatusOK, summaryResponse(r, lt, false))
	}
}

func handleHealth() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, r, http.StatusOK, map[string]string{"status": "ok"})
	}
}
