package server

import (
	"AssistantRelay/internal/service/relay"
	"encoding/json"
	"net/http"

	"github.com/gorilla/websocket"
)

// wsError ответ с ошибкой в websocket: статус тот же, что отдал бы HTTP.
type wsError struct {
	Error  string `json:"error"`
	Status int    `json:"status"`
}

func (s *Server) upgrader() *websocket.Upgrader {
	return &websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return s.cfg.AllowedOrigin == "*" || origin == "" || origin == s.cfg.AllowedOrigin
		},
	}
}

// handleWS GET /api/ws: тот же контракт, что /api/assistant: кадр с Turn, ответ с Response.
// Реплики одного соединения выполняются строго по очереди.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader().Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warnw("Websocket upgrade failed", "requestId", requestID(r.Context()), "error", err)
		return
	}
	defer conn.Close()
	conn.SetReadLimit(s.cfg.MaxBodyBytes)

	ctx := r.Context()
	ip := clientIP(r)
	s.logger.Infow("Websocket connected", "requestId", requestID(ctx), "remote", r.RemoteAddr)

	for {
		mt, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Warnw("Websocket closed", "requestId", requestID(ctx), "error", err)
			}
			return
		}
		if mt != websocket.TextMessage {
			continue
		}

		if err := conn.WriteJSON(s.wsTurn(r, ip, data)); err != nil {
			s.logger.Warnw("Websocket write failed", "requestId", requestID(ctx), "error", err)
			return
		}
	}
}

func (s *Server) wsTurn(r *http.Request, ip string, data []byte) any {
	if !s.limiter.allow(ip) {
		return wsError{Error: "Too many requests", Status: http.StatusTooManyRequests}
	}
	if s.creds.APIKey == "" || s.creds.AssistantID == "" {
		return wsError{Error: missingCredentials, Status: http.StatusInternalServerError}
	}
	var turn relay.Turn
	if err := json.Unmarshal(data, &turn); err != nil {
		return wsError{Error: "Invalid JSON body", Status: http.StatusBadRequest}
	}
	resp, err := s.deps.Relay.Handle(r.Context(), turn)
	if err != nil {
		status, msg := errorResponse(err)
		lvl := s.logger.Warnw
		if status >= http.StatusInternalServerError {
			lvl = s.logger.Errorw
		}
		lvl("Websocket turn failed", "requestId", requestID(r.Context()), "status", status, "error", err)
		return wsError{Error: msg, Status: status}
	}
	return resp
}
