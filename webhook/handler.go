package webhook

import (
	"errors"
	"io"
	"mime"
	"net/http"
	"net/url"

	"github.com/rs/zerolog"

	"github.com/earnly/credit-engine/ledger"
	"github.com/earnly/credit-engine/logging"
	"github.com/earnly/credit-engine/metrics"
)

// DefaultMaxBody bounds POST bodies.
const DefaultMaxBody = 64 << 10

// HandlerConfig configures the HTTP endpoint.
type HandlerConfig struct {
	Keys    Keys
	Source  string // recorded on task events and earnings, e.g. "bitlabs"
	MaxBody int64

	// AllowDebug lets ?debug=true log computed and provided URL hashes.
	// Never enable it in production.
	AllowDebug bool
}

// Handler is the partner-facing http.Handler.
type Handler struct {
	ingestor *Ingestor
	cfg      HandlerConfig
	log      zerolog.Logger
}

// NewHandler creates the endpoint.
func NewHandler(ingestor *Ingestor, cfg HandlerConfig) *Handler {
	cfg.Keys = cfg.Keys.trimmed()
	if cfg.MaxBody <= 0 {
		cfg.MaxBody = DefaultMaxBody
	}
	if cfg.Source == "" {
		cfg.Source = "bitlabs"
	}
	return &Handler{ingestor: ingestor, cfg: cfg, log: logging.Component("webhook")}
}

const (
	msgOK           = "OK"
	msgBadPayload   = "Bad payload"
	msgBadSignature = "Invalid signature"
	msgMethod       = "Method Not Allowed"
	msgServerError  = "Server error"
)

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var (
		ev  CreditEvent
		err error
	)
	switch r.Method {
	case http.MethodPost:
		ev, err = h.verifyPost(r)
	case http.MethodGet:
		ev, err = h.verifyGet(r)
	default:
		h.reply(w, r, http.StatusMethodNotAllowed, msgMethod, "method")
		return
	}

	switch {
	case errors.Is(err, ledger.ErrUnauthorized):
		h.log.Warn().Str("method", r.Method).Str("remote", r.RemoteAddr).Msg("Rejected webhook signature")
		h.reply(w, r, http.StatusUnauthorized, msgBadSignature, "bad_signature")
		return
	case err != nil:
		h.log.Warn().Err(err).Str("method", r.Method).Msg("Rejected webhook payload")
		h.reply(w, r, http.StatusBadRequest, msgBadPayload, "bad_payload")
		return
	}

	applied, err := h.ingestor.Apply(r.Context(), ev)
	if err != nil {
		if ledger.KindOf(err) == ledger.KindInvalidArgument {
			h.reply(w, r, http.StatusBadRequest, msgBadPayload, "bad_payload")
			return
		}
		logging.Ctx(r.Context()).Error().Err(err).Str("tx", ev.TxID).Msg("Webhook credit failed")
		h.reply(w, r, http.StatusInternalServerError, msgServerError, "error")
		return
	}

	result := "applied"
	if !applied {
		result = "duplicate"
	}
	h.reply(w, r, http.StatusOK, msgOK, result)
}

// verifyPost authenticates the raw body, then parses it. Form-encoded
// bodies are read with the query-string aliases.
func (h *Handler) verifyPost(r *http.Request) (CreditEvent, error) {
	body, err := io.ReadAll(io.LimitReader(r.Body, h.cfg.MaxBody+1))
	if err != nil {
		return CreditEvent{}, &ParseError{Field: "body", Reason: "could not be read"}
	}
	if int64(len(body)) > h.cfg.MaxBody {
		return CreditEvent{}, &ParseError{Field: "body", Reason: "is too large"}
	}

	if !VerifyBody(h.cfg.Keys.Secret, body, SignatureHeader(r.Header)) {
		return CreditEvent{}, ledger.ErrUnauthorized
	}

	if ct, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type")); ct == "application/x-www-form-urlencoded" {
		form, err := url.ParseQuery(string(body))
		if err != nil {
			return CreditEvent{}, &ParseError{Field: "body", Reason: "is not form encoded"}
		}
		return ParseQuery(form, h.cfg.Source)
	}
	return ParseJSON(body, h.cfg.Source)
}

// verifyGet authenticates the signed URL, then parses its query.
func (h *Handler) verifyGet(r *http.Request) (CreditEvent, error) {
	keys := h.cfg.Keys
	query := r.URL.Query()
	provided := query.Get("hash")
	if provided == "" || (keys.Secret == "" && keys.Server == "") {
		return CreditEvent{}, ledger.ErrUnauthorized
	}

	canonical := CanonicalURL(r)
	used := VerifyURL(keys, canonical, provided)

	if h.cfg.AllowDebug && query.Get("debug") == "true" {
		ev := h.log.Info().Str("url", canonical).Str("provided", provided).Str("used", used)
		if keys.Secret != "" {
			ev = ev.Str("secret_hash", SignURL(keys.Secret, canonical))
		}
		if keys.Server != "" {
			ev = ev.Str("server_hash", SignURL(keys.Server, canonical))
		}
		ev.Msg("Webhook hash debug")
	}

	if used == "" {
		return CreditEvent{}, ledger.ErrUnauthorized
	}
	return ParseQuery(query, h.cfg.Source)
}

func (h *Handler) reply(w http.ResponseWriter, r *http.Request, status int, msg, result string) {
	metrics.RecordWebhook(r.Method, result)
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	io.WriteString(w, msg)
}
