package api

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/sajinavi2006/julomvp-sub039/internal/repayment"
)

// Dependencies wires the router to the engine. Interfaces are declared here,
// on the consumer side, so tests can swap fakes in.
type Dependencies struct {
	Logger *slog.Logger

	Payments interface {
		CreatePayment(ctx context.Context, p *repayment.IncomingPayment) (*repayment.IncomingPayment, error)
		GetLedgerTransaction(ctx context.Context, sourceReference string) (*repayment.LedgerTransaction, error)
	}

	Processor interface {
		Process(ctx context.Context, externalReference string, waiver *repayment.WaiverRequest) (*repayment.Result, error)
	}

	// Dispatcher drains post-commit commands. Optional; nil drops them.
	Dispatcher interface {
		Dispatch(ctx context.Context, commands []repayment.Command)
	}
}

// NewRouter builds the HTTP surface of the repayment service.
func NewRouter(deps Dependencies) http.Handler {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}

	r := mux.NewRouter()
	r.Use(CorrelationID)
	r.Use(RequestLogger(deps.Logger))

	r.HandleFunc("/healthz", handleHealth()).Methods(http.MethodGet)

	v1 := r.PathPrefix("/api/v1").Subrouter()
	v1.HandleFunc("/repayments", handleSubmitRepayment(deps)).Methods(http.MethodPost)
	v1.HandleFunc("/repayments/{reference}", handleGetRepayment(deps)).Methods(http.MethodGet)

	return r
}
