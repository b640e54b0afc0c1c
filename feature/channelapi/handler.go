// Package channelapi exposes the cloud_helper method channel over HTTP.
package channelapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/jasonchiu/cloudhelper/core/channel"
	"github.com/jasonchiu/cloudhelper/core/gateway"
)

const maxBodyBytes = 4 << 20

type Handler struct {
	Channel string
	Gateway *gateway.Gateway
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/channels/{name}", h.invoke)
	r.Get("/channels/{name}/context", h.context)
}

func (h *Handler) channelName() string {
	if name := strings.TrimSpace(h.Channel); name != "" {
		return name
	}
	return channel.DefaultName
}

func (h *Handler) checkChannel(w http.ResponseWriter, r *http.Request) bool {
	if name := chi.URLParam(r, "name"); name != h.channelName() {
		httpErrorJSON(w, http.StatusNotFound, "unknown channel "+name)
		return false
	}
	return true
}

func (h *Handler) invoke(w http.ResponseWriter, r *http.Request) {
	if !h.checkChannel(w, r) {
		return
	}
	var call channel.MethodCall
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(&call); err != nil {
		if errors.Is(err, io.EOF) {
			httpErrorJSON(w, http.StatusBadRequest, "empty body")
			return
		}
		httpErrorJSON(w, http.StatusBadRequest, "invalid json body")
		return
	}
	if strings.TrimSpace(call.Method) == "" {
		httpErrorJSON(w, http.StatusBadRequest, "method is required")
		return
	}

	reply := h.Gateway.Call(r.Context(), call)
	if reply.NotImplemented {
		writeJSON(w, http.StatusNotImplemented, reply)
		return
	}
	writeJSON(w, http.StatusOK, reply)
}

type contextResponse struct {
	Initialized bool   `json:"initialized"`
	Container   string `json:"container,omitempty"`
	Scope       string `json:"scope,omitempty"`
}

func (h *Handler) context(w http.ResponseWriter, r *http.Request) {
	if !h.checkChannel(w, r) {
		return
	}
	c, ok := h.Gateway.Context()
	if !ok {
		writeJSON(w, http.StatusOK, contextResponse{})
		return
	}
	writeJSON(w, http.StatusOK, contextResponse{
		Initialized: true,
		Container:   c.Container,
		Scope:       c.Scope.String(),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func httpErrorJSON(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"error": strings.TrimSpace(msg)})
}
