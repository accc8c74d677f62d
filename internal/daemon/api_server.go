package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"danmu/internal/api"
	"danmu/internal/config"
	"danmu/internal/library"
	"danmu/internal/logging"
	"danmu/internal/refresh"
	"danmu/internal/search"
	"danmu/internal/services"
)

const maxRequestBody = 1 << 20

type apiServer struct {
	bind   string
	logger *slog.Logger
	daemon *Daemon

	mu       sync.Mutex
	listener net.Listener
	server   *http.Server
}

func newAPIServer(cfg *config.Config, d *Daemon, logger *slog.Logger) (*apiServer, error) {
	if cfg == nil || d == nil {
		return nil, nil
	}
	bind := strings.TrimSpace(cfg.Paths.APIBind)
	if bind == "" {
		return nil, nil
	}

	srv := &apiServer{
		bind:   bind,
		logger: logging.NewComponentLogger(logger, "api-server"),
		daemon: d,
	}
	srv.server = &http.Server{
		Handler:           srv.routes(strings.TrimSpace(cfg.Paths.APIToken)),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return srv, nil
}

func (s *apiServer) routes(token string) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/status", authMiddleware(token, s.handleStatus))
	mux.HandleFunc("/api/providers", authMiddleware(token, s.handleProviders))
	mux.HandleFunc("/api/events", authMiddleware(token, s.handleEvents))
	mux.HandleFunc("/api/refresh", authMiddleware(token, s.handleRefresh))
	mux.HandleFunc("/api/search", authMiddleware(token, s.handleSearch))
	mux.HandleFunc("/api/danmu/", authMiddleware(token, s.handleDanmu))
	mux.HandleFunc("/api/notifications/test", authMiddleware(token, s.handleTestNotification))
	return mux
}

func (s *apiServer) start(ctx context.Context) error {
	if s == nil {
		return nil
	}
	listener, err := net.Listen("tcp", s.bind)
	if err != nil {
		return fmt.Errorf("api listen: %w", err)
	}
	s.mu.Lock()
	s.listener = listener
	s.mu.Unlock()

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("api server error", logging.Error(err))
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}()

	s.logger.Info("api server listening", logging.String("address", listener.Addr().String()))
	return nil
}

func (s *apiServer) stop() {
	if s == nil {
		return
	}
	if s.server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		_ = s.listener.Close()
		s.listener = nil
	}
}

func (s *apiServer) address() string {
	if s == nil {
		return ""
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

func (s *apiServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	status := s.daemon.Status(r.Context())
	s.writeJSON(w, http.StatusOK, api.DaemonStatus{
		Running:        status.Running,
		PID:            status.PID,
		StartedAt:      api.FormatTime(status.StartedAt),
		LockFilePath:   status.LockFilePath,
		LibraryBackend: status.LibraryBackend,
		PendingEvents:  status.PendingEvents,
		PendingAdds:    status.PendingAdds,
		HeldDownloads:  status.HeldDownloads,
		LastBatchAt:    api.FormatTime(status.LastBatchAt),
		Stats:          api.FromStats(status.Stats, status.Batches),
		Providers:      api.FromProviders(status.Providers),
	})
}

func (s *apiServer) handleProviders(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	s.writeJSON(w, http.StatusOK, api.ProvidersResponse{Providers: api.FromProviders(s.daemon.chain.Providers())})
}

func (s *apiServer) handleEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var n api.Notification
	if !s.decodeBody(w, r, &n) {
		return
	}
	resp, err := s.daemon.HandleNotification(r.Context(), n)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	status := http.StatusOK
	if resp.Queued {
		status = http.StatusAccepted
	}
	s.writeJSON(w, status, resp)
}

func (s *apiServer) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req api.RefreshRequest
	if !s.decodeBody(w, r, &req) {
		return
	}
	var (
		resp api.RefreshResponse
		err  error
	)
	if strings.TrimSpace(req.Token) != "" {
		ev, rerr := s.daemon.RefreshToken(r.Context(), req.Token)
		resp, err = api.FromRefreshEvent(ev), rerr
	} else {
		ev, rerr := s.daemon.Refresh(r.Context(), refresh.Request{
			ItemID:     req.ItemID,
			ProviderID: req.ProviderID,
			ID:         req.ID,
			All:        req.All,
		})
		resp, err = api.FromRefreshEvent(ev), rerr
	}
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusAccepted, resp)
}

func (s *apiServer) handleSearch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	query := r.URL.Query()
	q := search.Query{
		Keyword:  query.Get("keyword"),
		Kind:     library.ParseKind(query.Get("kind")),
		Provider: query.Get("provider"),
	}
	if value := strings.TrimSpace(query.Get("year")); value != "" {
		year, err := strconv.Atoi(value)
		if err != nil || year < 0 {
			s.writeError(w, http.StatusBadRequest, "invalid year")
			return
		}
		q.Year = year
	}
	resp, err := s.daemon.Search(r.Context(), q)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, api.FromSearchResponse(resp))
}

func (s *apiServer) handleDanmu(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	itemID := strings.TrimPrefix(r.URL.Path, "/api/danmu/")
	if itemID == "" || strings.Contains(itemID, "/") {
		s.writeError(w, http.StatusNotFound, "item not found")
		return
	}
	data, key, err := s.daemon.Danmu(r.Context(), itemID, r.URL.Query().Get("provider"))
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/xml; charset=utf-8")
	w.Header().Set("X-Danmu-Provider", key)
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(data); err != nil {
		s.logger.Debug("danmu response write failed", logging.Error(err))
	}
}

func (s *apiServer) handleTestNotification(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	sent, message, err := s.daemon.TestNotification(r.Context())
	if err != nil {
		s.writeError(w, http.StatusBadGateway, fmt.Sprintf("%s: %v", message, err))
		return
	}
	s.writeJSON(w, http.StatusOK, api.TestNotificationResponse{Sent: sent, Message: message})
}

func (s *apiServer) decodeBody(w http.ResponseWriter, r *http.Request, out any) bool {
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody))
	if err := decoder.Decode(out); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return false
	}
	return true
}

func (s *apiServer) writeServiceError(w http.ResponseWriter, err error) {
	status := services.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		s.logger.Warn("api request failed", logging.Error(err), logging.Int("status", status))
	}
	s.writeError(w, status, err.Error())
}

func (s *apiServer) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("failed to encode response", logging.Error(err))
	}
}

func (s *apiServer) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, api.ErrorResponse{Error: message})
}
