// Package httpapi implements the Admin HTTP API and the Execution Stream
// API: a thin transport layer over a Client, exposing a public/admin
// mux with no dependency on Client's internals beyond its exported
// methods.
package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"ptchost.local/ptchost"
	"ptchost.local/ptchost/internal/dispatch"
	"ptchost.local/ptchost/internal/ids"
	"ptchost.local/ptchost/internal/ptctypes"
)

type server struct {
	logger             *log.Logger
	client             *ptchost.Client
	defaultRecentLimit int
}

const maxExecuteRequestBytes int64 = 4 << 20

// NewServer builds the *http.Server exposing the Admin HTTP API and the
// Execution Stream API over client.
func NewServer(logger *log.Logger, addr string, client *ptchost.Client, defaultRecentLimit int) *http.Server {
	if defaultRecentLimit <= 0 {
		defaultRecentLimit = 50
	}
	h := &server{logger: logger, client: client, defaultRecentLimit: defaultRecentLimit}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", h.handleHealth)
	mux.HandleFunc("/v1/catalog", h.handleCatalog)
	mux.HandleFunc("/v1/executions", h.handleExecutions)
	mux.HandleFunc("/v1/executions/recent", h.handleRecent)
	mux.HandleFunc("/v1/executions/", h.handleExecutionStream)

	return &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
}

func (s *server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *server) handleCatalog(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, s.client.CatalogText())
}

type executeRequestBody struct {
	Code        string `json:"code"`
	ExecutionID string `json:"executionId,omitempty"`
}

// executeResponseBody carries executionId alongside the ExecutionResult
// so a caller who opened an Execution Stream connection before posting
// can correlate the two.
type executeResponseBody struct {
	ExecutionID string `json:"executionId"`
	ptctypes.ExecutionResult
}

func (s *server) handleExecutions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	defer r.Body.Close()
	var req executeRequestBody
	dec := json.NewDecoder(io.LimitReader(r.Body, maxExecuteRequestBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("invalid json: %v", err), http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.Code) == "" {
		http.Error(w, "code is required", http.StatusBadRequest)
		return
	}

	executionID := strings.TrimSpace(req.ExecutionID)
	if executionID == "" {
		executionID = ids.New()
	}

	result := s.client.ExecuteWithID(r.Context(), executionID, req.Code)
	writeJSON(w, http.StatusOK, executeResponseBody{
		ExecutionID:     executionID,
		ExecutionResult: result,
	})
}

func (s *server) handleRecent(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	limit := s.defaultRecentLimit
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			http.Error(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = parsed
	}

	tenantID := strings.TrimSpace(r.URL.Query().Get("tenant_id"))
	records, err := s.client.Store().ListRecent(r.Context(), tenantID, limit)
	if err != nil {
		http.Error(w, "failed to list executions", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"executions": records})
}

// handleExecutionStream serves GET /v1/executions/{id}/stream. Anything
// else under /v1/executions/ is a 404 — the collection route lives at
// /v1/executions itself.
func (s *server) handleExecutionStream(w http.ResponseWriter, r *http.Request) {
	executionID, ok := parseStreamPath(r.URL.Path)
	if !ok {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	// An unknown or already-completed execution ID gets closed
	// immediately rather than left to hang waiting for frames that will
	// never arrive.
	if !s.client.IsActive(executionID) {
		http.NotFound(w, r)
		return
	}

	upgrader := websocket.Upgrader{CheckOrigin: isWebSocketOriginAllowed}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Printf("execution stream ws upgrade failed execution_id=%s err=%v", executionID, err)
		return
	}
	defer conn.Close()

	stream := dispatch.NewStreamSubscriber()
	s.client.Dispatcher().RegisterStream(executionID, stream)
	defer s.client.Dispatcher().UnregisterStream(executionID)

	// The execution may have completed between the IsActive check above
	// and RegisterStream here, in which case the terminal event was
	// dispatched to no one. Closing now avoids hanging on frames that
	// will never arrive.
	if !s.client.IsActive(executionID) {
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	go drainClientReads(conn, cancel)

	for {
		select {
		case event, open := <-stream.Frames():
			if !open {
				return
			}
			if err := conn.WriteJSON(event); err != nil {
				return
			}
			if event.Kind == dispatch.KindExecutionCompleted || event.Kind == dispatch.KindExecutionFailed {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

// drainClientReads discards inbound frames (this stream is server→client
// only) and cancels ctx once the connection is closed by the viewer.
func drainClientReads(conn *websocket.Conn, cancel context.CancelFunc) {
	defer cancel()
	for {
		if _, _, err := conn.NextReader(); err != nil {
			return
		}
	}
}

func parseStreamPath(path string) (string, bool) {
	rest := strings.TrimPrefix(path, "/v1/executions/")
	if rest == path {
		return "", false
	}
	executionID, tail, ok := strings.Cut(rest, "/")
	if !ok || tail != "stream" || strings.TrimSpace(executionID) == "" {
		return "", false
	}
	return executionID, true
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func isWebSocketOriginAllowed(r *http.Request) bool {
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		return true
	}
	parsedOrigin, err := url.Parse(origin)
	if err != nil || strings.TrimSpace(parsedOrigin.Host) == "" {
		return false
	}
	return strings.EqualFold(parsedOrigin.Host, r.Host)
}
