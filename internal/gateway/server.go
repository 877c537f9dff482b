// Package gateway exposes the bulk-messaging core over HTTP plus a
// one-way WebSocket event stream. It is a thin surface: validation of
// batch shape, upload admission, auth, and rate limiting live here;
// everything else is delegated to the session, queue, and send
// packages.
package gateway

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	qrcode "github.com/skip2/go-qrcode"

	"github.com/nextlevelbuilder/goblast/internal/config"
	"github.com/nextlevelbuilder/goblast/internal/content"
	"github.com/nextlevelbuilder/goblast/internal/queue"
	"github.com/nextlevelbuilder/goblast/internal/send"
	"github.com/nextlevelbuilder/goblast/internal/session"
	"github.com/nextlevelbuilder/goblast/pkg/protocol"
)

// Server is the HTTP/WS gateway.
type Server struct {
	cfg     config.GatewayConfig
	session *session.Manager
	coord   *send.Coordinator
	queue   *queue.DeliveryQueue
	store   content.Store
	limiter *RateLimiter
	hub     *Hub

	httpSrv *http.Server
}

// NewServer wires the gateway surface.
func NewServer(cfg config.GatewayConfig, sm *session.Manager, coord *send.Coordinator, q *queue.DeliveryQueue, store content.Store) *Server {
	return &Server{
		cfg:     cfg,
		session: sm,
		coord:   coord,
		queue:   q,
		store:   store,
		limiter: NewRateLimiter(cfg.RateLimitRPM, cfg.RateLimitBurst),
		hub:     NewHub(),
	}
}

// SessionNotifier returns the hook the session manager calls on every
// state transition; it fans the snapshot out to WebSocket subscribers.
func (s *Server) SessionNotifier() session.Notifier {
	return func(snap session.Snapshot) {
		s.hub.Broadcast(protocol.NewEvent(protocol.EventSessionState, s.statePayload(snap)))
		if snap.PairingChallenge != nil {
			s.hub.Broadcast(protocol.NewEvent(protocol.EventPairing, map[string]interface{}{
				"issued_at": snap.PairingChallenge.IssuedAt,
			}))
		}
	}
}

// ListenAndServe blocks until the server stops.
func (s *Server) ListenAndServe() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	s.httpSrv = &http.Server{
		Addr:              addr,
		Handler:           s.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	slog.Info("gateway listening", "addr", addr)
	err := s.httpSrv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown notifies subscribers and stops accepting requests.
func (s *Server) Shutdown(ctx context.Context) error {
	s.hub.Broadcast(protocol.NewEvent(protocol.EventShutdown, nil))
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}

// Routes builds the handler tree with auth and rate limiting applied.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /status", s.handleStatus)
	mux.HandleFunc("GET /status/qr.png", s.handleQR)
	mux.HandleFunc("POST /disconnect", s.handleDisconnect)
	mux.HandleFunc("POST /send", s.handleSend)
	mux.HandleFunc("POST /attachments", s.handleUpload)
	mux.HandleFunc("GET /ws", s.hub.ServeWS)
	return s.withAuth(s.withRateLimit(mux))
}

// --- Handlers ---

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.statePayload(s.session.Status()))
}

func (s *Server) handleQR(w http.ResponseWriter, r *http.Request) {
	snap := s.session.Status()
	if snap.PairingChallenge == nil {
		writeError(w, http.StatusNotFound, protocol.ErrNotFound, "no pairing challenge pending")
		return
	}
	png, err := qrcode.Encode(snap.PairingChallenge.Code, qrcode.Medium, 512)
	if err != nil {
		writeError(w, http.StatusInternalServerError, protocol.ErrInternal, "render qr: "+err.Error())
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	w.Write(png)
}

func (s *Server) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	s.session.Stop()
	if err := s.session.Start(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, protocol.ErrInternal, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "reinitializing"})
}

func (s *Server) handleSend(w http.ResponseWriter, r *http.Request) {
	var req send.Request
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, protocol.ErrInvalidRequest, "malformed body: "+err.Error())
		return
	}

	report, err := s.coord.SubmitBatch(r.Context(), req)
	switch {
	case errors.Is(err, send.ErrInvalidBatch):
		writeError(w, http.StatusBadRequest, protocol.ErrInvalidRequest, err.Error())
	case errors.Is(err, send.ErrNotConnected):
		writeError(w, http.StatusServiceUnavailable, protocol.ErrNotConnected, err.Error())
	case err != nil:
		writeError(w, http.StatusInternalServerError, protocol.ErrInternal, err.Error())
	default:
		writeJSON(w, http.StatusOK, report)
	}
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, protocol.ErrInvalidRequest, "missing file part: "+err.Error())
		return
	}
	defer file.Close()

	mimeType := header.Header.Get("Content-Type")
	var body io.Reader = file
	if mimeType == "" || mimeType == "application/octet-stream" {
		mimeType, body = sniffType(file)
	}

	ref, err := s.store.Put(r.Context(), header.Filename, body, mimeType)
	switch {
	case errors.Is(err, content.ErrUnsupportedType):
		writeError(w, http.StatusUnsupportedMediaType, protocol.ErrUnsupportedType, "type not allowed: "+mimeType)
	case errors.Is(err, content.ErrTooLarge):
		writeError(w, http.StatusRequestEntityTooLarge, protocol.ErrPayloadTooLarge, "attachment exceeds 16 MiB")
	case err != nil:
		writeError(w, http.StatusInternalServerError, protocol.ErrInternal, err.Error())
	default:
		writeJSON(w, http.StatusCreated, map[string]string{"ref": ref, "content_type": mimeType})
	}
}

// --- Middleware ---

func (s *Server) withAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.tokenMatch(bearerToken(r)) {
			writeError(w, http.StatusUnauthorized, protocol.ErrUnauthorized, "invalid or missing token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) withRateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		host, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			host = r.RemoteAddr
		}
		if !s.limiter.Allow(host) {
			writeError(w, http.StatusTooManyRequests, protocol.ErrRateLimited, "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// tokenMatch compares in constant time; an empty configured token
// disables auth.
func (s *Server) tokenMatch(provided string) bool {
	if s.cfg.Token == "" {
		return true
	}
	return subtle.ConstantTimeCompare([]byte(provided), []byte(s.cfg.Token)) == 1
}

func bearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	// WebSocket clients can't always set headers.
	return r.URL.Query().Get("token")
}

// --- Helpers ---

func (s *Server) statePayload(snap session.Snapshot) protocol.SessionStatePayload {
	p := protocol.SessionStatePayload{
		State:           string(snap.State),
		RestartAttempts: snap.RestartAttempts,
		LastError:       snap.LastError,
		QueueDepth:      s.queue.Len(),
	}
	if snap.PairingChallenge != nil {
		p.PairingCode = snap.PairingChallenge.Code
	}
	return p
}

// sniffType reads the first 512 bytes to detect the content type and
// returns a reader that replays them.
func sniffType(r io.Reader) (string, io.Reader) {
	buf := make([]byte, 512)
	n, _ := io.ReadFull(r, buf)
	return http.DetectContentType(buf[:n]), io.MultiReader(strings.NewReader(string(buf[:n])), r)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("write response failed", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, protocol.ErrorEnvelope{Code: code, Message: message})
}
