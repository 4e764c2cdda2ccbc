package app

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"courier/cmd/internal/gateway"
)

const (
	maxBodyBytes     = 1 << 20
	maxSendBodyBytes = 96 << 20 // inline media arrives base64-encoded
)

// apiHandler exposes the session registry as the /api control plane.
type apiHandler struct {
	log      Logger
	registry *gateway.Registry
}

func (h *apiHandler) register(mux *http.ServeMux, token string) {
	guard := func(fn http.HandlerFunc) http.Handler {
		return WithBearerAuth(fn, token)
	}

	mux.Handle("GET /api/sessions", guard(h.handleList))
	mux.Handle("POST /api/sessions/{id}/start", guard(h.handleStart))
	mux.Handle("GET /api/sessions/{id}/status", guard(h.handleStatus))
	mux.Handle("POST /api/sessions/{id}/send", guard(h.handleSend))
	mux.Handle("PATCH /api/sessions/{id}", guard(h.handleUpdate))
	mux.Handle("DELETE /api/sessions/{id}", guard(h.handleDelete))
}

type startRequest struct {
	WebhookURL string                  `json:"webhook_url,omitempty"`
	Transport  gateway.TransportConfig `json:"transport"`
}

func (h *apiHandler) handleStart(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	var req startRequest
	if err := decodeJSON(w, r, maxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}

	s, err := h.registry.Start(r.Context(), id, req.WebhookURL, req.Transport)
	if err != nil {
		h.writeGatewayError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.Snapshot())
}

func (h *apiHandler) handleStatus(w http.ResponseWriter, r *http.Request) {
	s, ok := h.registry.Get(r.PathValue("id"))
	if !ok {
		writeError(w, http.StatusNotFound, "not_found", "no such session")
		return
	}
	writeJSON(w, http.StatusOK, s.Snapshot())
}

func (h *apiHandler) handleList(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"sessions": h.registry.List()})
}

type sendRequest struct {
	Target  string          `json:"target"`
	Content gateway.Content `json:"content"`
}

func (h *apiHandler) handleSend(w http.ResponseWriter, r *http.Request) {
	s, ok := h.registry.Get(r.PathValue("id"))
	if !ok {
		writeError(w, http.StatusNotFound, "not_found", "no such session")
		return
	}

	var req sendRequest
	if err := decodeJSON(w, r, maxSendBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}

	res, err := s.Send(r.Context(), req.Target, req.Content)
	if err != nil {
		h.writeGatewayError(w, err)
		return
	}
	if res.Queued {
		writeJSON(w, http.StatusAccepted, res)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type updateRequest struct {
	WebhookURL    *string                  `json:"webhook_url,omitempty"`
	WebhookSecret *string                  `json:"webhook_secret,omitempty"`
	Transport     *gateway.TransportConfig `json:"transport,omitempty"`
}

func (h *apiHandler) handleUpdate(w http.ResponseWriter, r *http.Request) {
	var req updateRequest
	if err := decodeJSON(w, r, maxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}

	rec, err := h.registry.Update(r.Context(), r.PathValue("id"), gateway.RecordPatch{
		WebhookURL:    req.WebhookURL,
		WebhookSecret: req.WebhookSecret,
		Transport:     req.Transport,
	})
	if err != nil {
		h.writeGatewayError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (h *apiHandler) handleDelete(w http.ResponseWriter, r *http.Request) {
	deleted, err := h.registry.Delete(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeGatewayError(w, err)
		return
	}
	if !deleted {
		writeError(w, http.StatusNotFound, "not_found", "no such session")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"deleted": true})
}

// writeGatewayError maps the engine error taxonomy onto HTTP statuses.
func (h *apiHandler) writeGatewayError(w http.ResponseWriter, err error) {
	var cfgErr *gateway.ConfigError
	switch {
	case errors.As(err, &cfgErr):
		writeError(w, http.StatusBadRequest, "bad_request", cfgErr.Reason)
	case errors.Is(err, gateway.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", "no such session")
	case errors.Is(err, gateway.ErrAuthTerminated):
		writeError(w, http.StatusConflict, "deauthorized", err.Error())
	case gateway.IsPermanent(err):
		writeError(w, http.StatusBadGateway, "upstream_rejected", err.Error())
	default:
		h.log.Error("api.internal", "err", err)
		writeError(w, http.StatusBadGateway, "upstream_error", err.Error())
	}
}

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type errorResponse struct {
	Error apiError `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, errorResponse{Error: apiError{Code: code, Message: msg}})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, maxBytes int64, dst any) error {
	if r.Body == nil {
		return errors.New("empty body")
	}
	defer func() { _ = r.Body.Close() }()

	body := http.MaxBytesReader(w, r.Body, maxBytes)
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return err
	}
	// Ensure there is no extra data after the first JSON value.
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return errors.New("extra data after JSON object")
	}
	return nil
}
