package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/bimzik/backend/internal/flutterwave"
	"github.com/bimzik/backend/internal/jobs"
	"github.com/bimzik/backend/internal/ledger"
	"github.com/bimzik/backend/internal/notify"
	"github.com/bimzik/backend/internal/payments"
	"github.com/bimzik/backend/internal/suno"
	"github.com/bimzik/backend/internal/validation"
)

type errorBody struct {
	Error     string `json:"error"`
	Available *int   `json:"available,omitempty"`
	Required  *int   `json:"required,omitempty"`
}

// writeError maps a service error to a status code. Anything unrecognized is
// logged and reported as a 500 without detail.
func writeError(w http.ResponseWriter, log *slog.Logger, op string, err error) {
	var ie *ledger.InsufficientCreditsError
	switch {
	case ledger.IsInsufficientCredits(err):
		body := errorBody{Error: "insufficient credits"}
		if errors.As(err, &ie) {
			body.Available, body.Required = &ie.Available, &ie.Required
		}
		writeJSON(w, http.StatusPaymentRequired, body)

	case errors.Is(err, jobs.ErrJobNotFound),
		errors.Is(err, jobs.ErrProjectNotFound),
		errors.Is(err, jobs.ErrArtifactNotFound),
		errors.Is(err, ledger.ErrAccountNotFound),
		errors.Is(err, ledger.ErrEntryNotFound),
		errors.Is(err, payments.ErrPackageNotFound),
		errors.Is(err, payments.ErrNotPurchase):
		writeJSON(w, http.StatusNotFound, errorBody{Error: err.Error()})

	case errors.Is(err, jobs.ErrGenerationInProgress),
		errors.Is(err, jobs.ErrVideoInProgress),
		errors.Is(err, jobs.ErrJobNotCompleted),
		errors.Is(err, payments.ErrReferenceMismatch),
		errors.Is(err, payments.ErrAmountTooLow):
		writeJSON(w, http.StatusConflict, errorBody{Error: err.Error()})

	case errors.Is(err, jobs.ErrLyricsRequired),
		errors.Is(err, jobs.ErrContextRequired),
		errors.Is(err, jobs.ErrInvalidMode),
		errors.Is(err, jobs.ErrNoAudioID),
		errors.Is(err, notify.ErrUnknownChannel):
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})

	case errors.Is(err, payments.ErrInvalidSignature):
		http.Error(w, `{"error":"invalid signature"}`, http.StatusUnauthorized)

	case errors.Is(err, validation.ErrValidation):
		writeJSON(w, http.StatusUnprocessableEntity, errorBody{Error: err.Error()})

	case errors.Is(err, jobs.ErrProviderTimeout):
		log.Warn(op+" timed out", "error", err)
		http.Error(w, `{"error":"provider timed out"}`, http.StatusGatewayTimeout)

	case errors.Is(err, suno.ErrProvider), errors.Is(err, flutterwave.ErrProvider):
		log.Warn(op+" provider error", "error", err)
		http.Error(w, `{"error":"provider error"}`, http.StatusBadGateway)

	default:
		log.Error(op, "error", err)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
