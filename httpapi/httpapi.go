// Package httpapi exposes bot verification over HTTP.
//
//	GET /v1/verify?ip=66.249.66.1&bot=Googlebot
//	GET /v1/verify?ip=66.249.66.1&ua=Mozilla/5.0...
//	GET /v1/verify?ip=remote&ua=header
//
// With ua=header the identity is taken from the request's User-Agent
// header, and ip=remote verifies the address of the connecting client.
//
// Responses are JSON, or MessagePack when the request accepts
// application/msgpack. Unknown bots are reported with 404, malformed
// requests with 400.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"net/netip"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/synqronlabs/bottica"
)

const msgpackContentType = "application/msgpack"

// Service is the verification API served by a Handler. *bottica.Bottica
// implements it.
type Service interface {
	Verify(ctx context.Context, ip netip.Addr, name string) (bottica.Verdict, error)
	VerifyByIdentity(ctx context.Context, ip netip.Addr, identity string) (bottica.Verdict, error)
}

var _ Service = (*bottica.Bottica)(nil)

// Config configures a Handler.
type Config struct {
	// RequestTimeout bounds every request. Default is 10 seconds.
	RequestTimeout time.Duration

	// Metrics serves /metrics from the default Prometheus registry.
	Metrics bool

	// Logger for requests. Optional.
	Logger *slog.Logger
}

// Handler serves the verification API.
type Handler struct {
	service Service
	config  Config
	logger  *slog.Logger
}

// New creates a Handler.
func New(service Service, config Config) *Handler {
	if config.RequestTimeout <= 0 {
		config.RequestTimeout = 10 * time.Second
	}
	if config.Logger == nil {
		config.Logger = slog.New(slog.DiscardHandler)
	}
	return &Handler{service: service, config: config, logger: config.Logger}
}

// Register registers the routes with the chi router.
func (h *Handler) Register(r chi.Router) {
	r.Get("/healthz", h.handleHealth)
	if h.config.Metrics {
		r.Handle("/metrics", promhttp.Handler())
	}

	r.Group(func(r chi.Router) {
		r.Use(middleware.RequestID)
		r.Use(Recovery(h.logger))
		r.Use(Logger(h.logger))
		r.Use(middleware.Timeout(h.config.RequestTimeout))
		r.Get("/v1/verify", h.handleVerify)
	})
}

// Router returns a router serving every route of h.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()
	h.Register(r)
	return r
}

type errorResponse struct {
	Error string `json:"error"`
}

func (h *Handler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok\n"))
}

func (h *Handler) handleVerify(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	ip, err := requestIP(r, q.Get("ip"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	bot, ua := q.Get("bot"), q.Get("ua")
	if ua == "header" {
		ua = r.UserAgent()
	}

	var v bottica.Verdict
	switch {
	case bot != "" && q.Has("ua"):
		writeError(w, http.StatusBadRequest, errors.New("bot and ua are mutually exclusive"))
		return
	case bot != "":
		v, err = h.service.Verify(r.Context(), ip, bot)
	case q.Get("ua") == "header" && ua == "":
		writeError(w, http.StatusBadRequest, errors.New("empty User-Agent header"))
		return
	case ua != "":
		v, err = h.service.VerifyByIdentity(r.Context(), ip, ua)
	default:
		writeError(w, http.StatusBadRequest, errors.New("one of bot or ua is required"))
		return
	}

	switch {
	case errors.Is(err, bottica.ErrUnknownBot):
		writeError(w, http.StatusNotFound, err)
		return
	case errors.Is(err, bottica.ErrInvalidIP):
		writeError(w, http.StatusBadRequest, err)
		return
	case err != nil:
		h.logger.ErrorContext(r.Context(), "verification failed",
			slog.String("request_id", middleware.GetReqID(r.Context())),
			slog.Any("error", err),
		)
		writeError(w, http.StatusInternalServerError, errors.New("internal error"))
		return
	}

	if acceptsMsgpack(r) {
		data, err := v.ToMessagePack()
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		w.Header().Set("Content-Type", msgpackContentType)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(data)
		return
	}

	writeJSON(w, http.StatusOK, v)
}

// requestIP parses the ip parameter, resolving "remote" to the peer address.
func requestIP(r *http.Request, param string) (netip.Addr, error) {
	if param != "remote" {
		return bottica.ParseIP(param)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return bottica.ParseIP(host)
}

func acceptsMsgpack(r *http.Request) bool {
	for _, part := range strings.Split(r.Header.Get("Accept"), ",") {
		mt, _, _ := strings.Cut(strings.TrimSpace(part), ";")
		if strings.EqualFold(strings.TrimSpace(mt), msgpackContentType) {
			return true
		}
	}
	return false
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, errorResponse{Error: err.Error()})
}
