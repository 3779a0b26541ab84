package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"

	"github.com/aryan0dhankhar/sitefactory/internal/security/audit"
)

const (
	defaultRecentLimit = 100
	maxRecentLimit     = 1000
	streamBuffer       = 64
)

// AuditHandler exposes the audit trail to operators
type AuditHandler struct {
	audit          *audit.Logger
	logger         *slog.Logger
	allowedOrigins []string
}

// NewAuditHandler creates a new audit handler
func NewAuditHandler(auditLogger *audit.Logger, logger *slog.Logger, allowedOrigins []string) *AuditHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &AuditHandler{
		audit:          auditLogger,
		logger:         logger,
		allowedOrigins: allowedOrigins,
	}
}

func (h *AuditHandler) getUpgrader() websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true
			}
			for _, allowed := range h.allowedOrigins {
				if origin == allowed || allowed == "*" {
					return true
				}
			}
			h.logger.Warn("websocket origin rejected", slog.String("origin", origin))
			return false
		},
	}
}

// Recent handles GET /api/admin/audit/recent?limit=N, newest first
func (h *AuditHandler) Recent(w http.ResponseWriter, r *http.Request) {
	limit := defaultRecentLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeFailure(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxRecentLimit)
	}

	records, err := h.audit.Recent(limit)
	if errors.Is(err, audit.ErrUnsupported) {
		writeFailure(w, http.StatusNotImplemented, "audit sink does not keep history")
		return
	}
	if err != nil {
		h.logger.Error("failed to read audit records", slog.String("error", err.Error()))
		writeFailure(w, http.StatusInternalServerError, "failed to read audit log")
		return
	}
	if records == nil {
		records = []audit.Record{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "records": records})
}

// Stream handles GET /api/admin/audit/stream by upgrading to a websocket
// and forwarding every new audit record as a JSON message.
func (h *AuditHandler) Stream(w http.ResponseWriter, r *http.Request) {
	upgrader := h.getUpgrader()
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("websocket upgrade failed", slog.String("error", err.Error()))
		return
	}
	defer ws.Close()

	records, unsubscribe := h.audit.Subscribe(streamBuffer)
	defer unsubscribe()

	h.logger.Info("audit stream opened", slog.String("remote", r.RemoteAddr))
	if err := h.streamRecords(ws, records); err != nil {
		if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
			h.logger.Debug("audit stream closed", slog.String("error", err.Error()))
		}
	}
	h.logger.Info("audit stream closed", slog.String("remote", r.RemoteAddr))
}

func (h *AuditHandler) streamRecords(ws *websocket.Conn, records <-chan audit.Record) error {
	// The reader only drains control frames and notices the peer leaving.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := ws.NextReader(); err != nil {
				return
			}
		}
	}()

	// Heartbeat ping to keep connection alive
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case rec, ok := <-records:
			if !ok {
				return nil
			}
			_ = ws.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := ws.WriteJSON(rec); err != nil {
				return err
			}
		case <-ticker.C:
			if err := ws.WriteControl(websocket.PingMessage, []byte("ping"), time.Now().Add(5*time.Second)); err != nil {
				return err
			}
		case <-closed:
			return nil
		}
	}
}
