// Package meshapi serves the operator HTTP API of a node.
package meshapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"Meshflow/internal/node"
)

type Server struct {
	node     *node.Node
	gatherer prometheus.Gatherer
	logger   *zap.Logger
}

// NewServer serves n. A nil gatherer disables /metrics.
func NewServer(n *node.Node, gatherer prometheus.Gatherer, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{node: n, gatherer: gatherer, logger: logger}
}

func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("/api/mesh/node", s.handleNode)
	mux.HandleFunc("/api/mesh/channels", s.handleChannels)
	mux.HandleFunc("/api/mesh/transforms", s.handleTransforms)
	mux.HandleFunc("/api/mesh/inject", s.handleInject)
	mux.HandleFunc("/api/mesh/channel/", s.handleChannel)
	if s.gatherer != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}
}

func (s *Server) available(w http.ResponseWriter) bool {
	if s.node == nil {
		writeError(w, http.StatusServiceUnavailable, "mesh node unavailable")
		return false
	}
	return true
}

func (s *Server) handleNode(w http.ResponseWriter, r *http.Request) {
	if !s.available(w) {
		return
	}
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"node": s.node.Info(), "peers": s.node.Peers()})
}

func (s *Server) handleChannels(w http.ResponseWriter, r *http.Request) {
	if !s.available(w) {
		return
	}
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"channels": s.node.Channels()})
}

func (s *Server) handleTransforms(w http.ResponseWriter, r *http.Request) {
	if !s.available(w) {
		return
	}
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"transforms": s.node.Transforms()})
}

func (s *Server) handleInject(w http.ResponseWriter, r *http.Request) {
	if !s.available(w) {
		return
	}
	if r.Method == http.MethodOptions {
		writeNoContent(w)
		return
	}
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req struct {
		Channel   string          `json:"channel"`
		Payload   json.RawMessage `json:"payload"`
		Broadcast bool            `json:"broadcast"`
		Routes    []string        `json:"routes"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if req.Channel == "" {
		writeError(w, http.StatusBadRequest, "channel required")
		return
	}
	if len(req.Payload) == 0 {
		writeError(w, http.StatusBadRequest, "payload required")
		return
	}

	var err error
	if req.Broadcast {
		err = s.node.Send(req.Channel, string(req.Payload), req.Routes...)
	} else {
		err = s.node.Inject(req.Channel, string(req.Payload))
	}
	switch {
	case errors.Is(err, node.ErrChannelNotFound):
		writeError(w, http.StatusNotFound, err.Error())
		return
	case err != nil:
		s.logger.Warn("inject failed", zap.String("channel", req.Channel), zap.Error(err))
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

// handleChannel routes /api/mesh/channel/{name}/{action}.
func (s *Server) handleChannel(w http.ResponseWriter, r *http.Request) {
	if !s.available(w) {
		return
	}
	trimmed := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/mesh/channel/"), "/")
	name, action, _ := strings.Cut(trimmed, "/")
	if name == "" {
		writeError(w, http.StatusNotFound, "channel name missing")
		return
	}
	switch {
	case action == "stream" && r.Method == http.MethodGet:
		s.handleStream(w, r, name)
	case action == "" && r.Method == http.MethodGet:
		for _, ch := range s.node.Channels() {
			if ch.Name == name {
				writeJSON(w, http.StatusOK, map[string]any{"channel": ch})
				return
			}
		}
		writeError(w, http.StatusNotFound, "channel not found")
	default:
		writeError(w, http.StatusNotFound, "route not found")
	}
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request, channel string) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}
	ch, cancel, err := s.node.Watch(channel)
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			data, err := json.Marshal(msg)
			if err != nil {
				continue
			}
			if _, err := w.Write([]byte("event: envelope\ndata: " + string(data) + "\n\n")); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
	w.Header().Set("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"error": msg})
}

func writeNoContent(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
	w.Header().Set("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
	w.WriteHeader(http.StatusNoContent)
}
