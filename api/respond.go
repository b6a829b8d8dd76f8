package api

import (
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"

	"github.com/earnly/credit-engine/ledger"
	"github.com/earnly/credit-engine/logging"
)

// maxRequestBody caps client JSON bodies.
const maxRequestBody = 1 << 20

// ErrorResponse is the body of every non-2xx API response.
type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}

type ErrorBody struct {
	Kind    string         `json:"kind"`
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// statusFor maps an error kind to its HTTP status.
func statusFor(k ledger.Kind) int {
	switch k {
	case ledger.KindNotFound:
		return http.StatusNotFound
	case ledger.KindPermissionDenied:
		return http.StatusForbidden
	case ledger.KindFailedPrecondition:
		return http.StatusPreconditionFailed
	case ledger.KindUnauthenticated, ledger.KindUnauthorized:
		return http.StatusUnauthorized
	case ledger.KindInvalidArgument:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logging.Warn().Err(err).Msg("Failed to encode response")
	}
}

// writeError renders err with the status of its kind. Internal errors
// never leak their message.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	kind := ledger.KindOf(err)
	body := ErrorBody{
		Kind:    string(kind),
		Code:    ledger.Reason(err),
		Message: err.Error(),
	}

	var ib *ledger.InsufficientBalanceError
	var re *ledger.RegionError
	switch {
	case errors.As(err, &ib):
		body.Details = map[string]any{
			"balance":   int64(ib.Balance),
			"required":  int64(ib.Price),
			"shortfall": int64(ib.Shortfall),
		}
	case errors.As(err, &re):
		body.Details = map[string]any{"country": re.Country, "allowed": re.Allowed}
	}

	if kind == ledger.KindInternal {
		logging.Ctx(r.Context()).Error().Err(err).Str("path", r.URL.Path).Msg("Request failed")
		body.Message = "internal error"
	}
	writeJSON(w, statusFor(kind), ErrorResponse{Error: body})
}

// decodeJSON reads a JSON body into v and validates it.
func (h *Handler) decodeJSON(r *http.Request, v any) error {
	data, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBody+1))
	if err != nil {
		return fmt.Errorf("%w: reading body: %v", ledger.ErrInvalidArgument, err)
	}
	if len(data) > maxRequestBody {
		return fmt.Errorf("%w: body too large", ledger.ErrInvalidArgument)
	}
	if len(data) > 0 {
		if err := json.Unmarshal(data, v); err != nil {
			return fmt.Errorf("%w: invalid JSON body", ledger.ErrInvalidArgument)
		}
	}
	return h.check(v)
}

// check runs struct validation and reports the first failing field.
func (h *Handler) check(v any) error {
	err := h.validate.Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		return fmt.Errorf("%w: field %s failed %q", ledger.ErrInvalidArgument, fe.Field(), fe.Tag())
	}
	return fmt.Errorf("%w: %v", ledger.ErrInvalidArgument, err)
}
