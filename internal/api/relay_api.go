package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/tinywideclouds/go-microservice-base/pkg/middleware"
	"github.com/tinywideclouds/go-microservice-base/pkg/response"

	"github.com/tinywideclouds/go-pushrelay-service/internal/notify"
	"github.com/tinywideclouds/go-pushrelay-service/pkg/relay"
)

const (
	DefaultFaviconURL = "https://img.icons8.com/external-tal-revivo-filled-tal-revivo/96/external-cloudflare-provides-content-delivery-network-services-ddos-mitigation-logo-filled-tal-revivo.png"

	infoPage = `<!DOCTYPE html><html><head><title>Push Relay</title><meta charset="utf-8"></head><body><h1>Service Active</h1></body></html>`
)

// Relay is the operation set behind the HTTP surface. *notify.Service satisfies it.
type Relay interface {
	Publish(ctx context.Context, owner string, req notify.MessageRequest) (relay.NotificationRecord, error)
	Query(ctx context.Context, owner, service string, quantity int) ([]relay.NotificationRecord, error)
	Register(ctx context.Context, owner string, req notify.RegisterRequest) error
	Unregister(ctx context.Context, owner, device string) error
}

type RelayAPI struct {
	Relay      Relay
	FaviconURL string
	Logger     *slog.Logger
}

func NewRelayAPI(svc Relay, faviconURL string, logger *slog.Logger) *RelayAPI {
	if faviconURL == "" {
		faviconURL = DefaultFaviconURL
	}
	return &RelayAPI{
		Relay:      svc,
		FaviconURL: faviconURL,
		Logger:     logger.With("component", "RelayAPI"),
	}
}

// Handler routes every path by method. GET, HEAD and OPTIONS are public; any
// other method must pass auth before it is dispatched or rejected as invalid.
func (api *RelayAPI) Handler(auth func(http.Handler) http.Handler) http.Handler {
	guarded := auth(http.HandlerFunc(api.serveWrite))

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet, http.MethodHead:
			api.serveRead(w, r)
		case http.MethodOptions:
			w.WriteHeader(http.StatusNoContent)
		default:
			guarded.ServeHTTP(w, r)
		}
	})
}

func (api *RelayAPI) serveRead(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path == "/favicon.ico" {
		http.Redirect(w, r, api.FaviconURL, http.StatusFound)
		return
	}
	w.Header().Set("Content-Type", "text/html;charset=UTF-8")
	_, _ = w.Write([]byte(infoPage))
}

func (api *RelayAPI) serveWrite(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		api.HandleAction(w, r)
	case http.MethodPut:
		api.RegisterDevice(w, r)
	case http.MethodDelete:
		api.UnregisterDevice(w, r)
	default:
		response.WriteJSONError(w, http.StatusMethodNotAllowed, "Invalid Method")
	}
}

// actionRequest is the union of the "message" and "get" bodies.
type actionRequest struct {
	Action   string `json:"action"`
	Quantity int    `json:"quantity"`
	notify.MessageRequest
}

// HandleAction serves POST bodies. "message" records and notifies; "get" returns
// the newest records, where quantity defaults to 5 and is capped at 100.
func (api *RelayAPI) HandleAction(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	owner, ok := middleware.GetUserIDFromContext(ctx)
	if !ok {
		response.WriteJSONError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req actionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.WriteJSONError(w, http.StatusBadRequest, "invalid json")
		return
	}

	switch req.Action {
	case "message":
		rec, err := api.Relay.Publish(ctx, owner, req.MessageRequest)
		if err != nil {
			api.Logger.Error("Publish failed", "err", err)
			response.WriteJSONError(w, http.StatusInternalServerError, "storage failed")
			return
		}
		api.Logger.Debug("Message accepted", "record_id", rec.ID, "service", rec.Service)
		writeText(w, "success")

	case "get":
		recs, err := api.Relay.Query(ctx, owner, req.Service, req.Quantity)
		if err != nil {
			api.Logger.Error("Query failed", "err", err)
			response.WriteJSONError(w, http.StatusInternalServerError, "storage failed")
			return
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(recs); err != nil {
			api.Logger.Warn("Failed to write records", "err", err)
		}

	default:
		response.WriteJSONError(w, http.StatusBadRequest, "unknown action")
	}
}

func (api *RelayAPI) RegisterDevice(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	owner, ok := middleware.GetUserIDFromContext(ctx)
	if !ok {
		response.WriteJSONError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req notify.RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.WriteJSONError(w, http.StatusBadRequest, "invalid json")
		return
	}

	if err := api.Relay.Register(ctx, owner, req); err != nil {
		if errors.Is(err, relay.ErrInvalidRegistration) {
			response.WriteJSONError(w, http.StatusBadRequest, err.Error())
			return
		}
		api.Logger.Error("Register failed", "err", err)
		response.WriteJSONError(w, http.StatusInternalServerError, "storage failed")
		return
	}
	writeText(w, "success")
}

type unregisterRequest struct {
	Device string `json:"device"`
}

func (api *RelayAPI) UnregisterDevice(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	owner, ok := middleware.GetUserIDFromContext(ctx)
	if !ok {
		response.WriteJSONError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req unregisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.WriteJSONError(w, http.StatusBadRequest, "invalid json")
		return
	}

	err := api.Relay.Unregister(ctx, owner, req.Device)
	switch {
	case err == nil:
		writeText(w, "success")
	case errors.Is(err, relay.ErrNotFound):
		response.WriteJSONError(w, http.StatusNotFound, "device not registered")
	case errors.Is(err, relay.ErrInvalidRegistration):
		response.WriteJSONError(w, http.StatusBadRequest, err.Error())
	default:
		api.Logger.Error("Unregister failed", "err", err)
		response.WriteJSONError(w, http.StatusInternalServerError, "storage failed")
	}
}

func writeText(w http.ResponseWriter, body string) {
	w.Header().Set("Content-Type", "text/plain;charset=UTF-8")
	_, _ = w.Write([]byte(body))
}
