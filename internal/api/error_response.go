package api

import (
	"net/http"

	"github.com/goccy/go-json"

	"github.com/llmgate/llmgate/internal/router"
	gwerrors "github.com/llmgate/llmgate/pkg/errors"
)

// ErrorResponse is the OpenAI-compatible error envelope.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail describes the error payload. Budget denials carry the
// identity's accounting; chain exhaustion carries the ordered list of
// failed attempts.
type ErrorDetail struct {
	Message  string           `json:"message"`
	Type     string           `json:"type"`
	Code     string           `json:"code,omitempty"`
	Budget   any              `json:"budget,omitempty"`
	Attempts []router.Attempt `json:"attempts,omitempty"`
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	gwErr, ok := err.(*gwerrors.GatewayError)
	if !ok {
		gwErr = gwerrors.NewInternalError(err.Error())
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(gwErr.HTTPStatusCode())

	_ = json.NewEncoder(w).Encode(ErrorResponse{
		Error: ErrorDetail{
			Message: gwErr.Message,
			Type:    gwErr.Type,
		},
	})
}

// writeRouteError renders a terminal router failure with its
// type-specific detail.
func (h *Handler) writeRouteError(w http.ResponseWriter, result *router.Result) {
	gwErr := result.Err

	detail := ErrorDetail{
		Message: gwErr.Message,
		Type:    gwErr.Type,
	}
	switch gwErr.Type {
	case gwerrors.TypeBudgetExceeded:
		detail.Budget = result.Snapshot
	case gwerrors.TypeChainExhausted:
		detail.Attempts = result.Attempts
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(gwErr.HTTPStatusCode())
	_ = json.NewEncoder(w).Encode(ErrorResponse{Error: detail})
}
