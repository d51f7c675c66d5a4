package server

import (
	"AssistantRelay/internal/ai"
	"AssistantRelay/internal/attachment"
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"
)

const requestIDHeader = "X-Request-Id"

type ctxKey struct{}

// requestID достаёт id запроса, проставленный withRequestID.
func requestID(ctx context.Context) string {
	id, _ := ctx.Value(ctxKey{}).(string)
	return id
}

type errorBody struct {
	Error string `json:"error"`
}

// route оборачивает обработчик: CORS, preflight, проверка метода и лимит запросов.
func (s *Server) route(method string, h http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hdr := w.Header()
		hdr.Set("Access-Control-Allow-Origin", s.cfg.AllowedOrigin)
		hdr.Set("Access-Control-Allow-Headers", "Content-Type")
		hdr.Set("Access-Control-Allow-Methods", method+", OPTIONS")

		switch r.Method {
		case http.MethodOptions:
			w.WriteHeader(http.StatusOK)
			return
		case method:
		default:
			hdr.Set("Allow", method+", OPTIONS")
			s.writeJSON(w, http.StatusMethodNotAllowed, errorBody{Error: "Method not allowed"})
			return
		}

		if !s.limiter.allow(clientIP(r)) {
			hdr.Set("Retry-After", "60")
			s.writeJSON(w, http.StatusTooManyRequests, errorBody{Error: "Too many requests"})
			return
		}
		h(w, r)
	})
}

// withRequestID присваивает запросу id (или берёт присланный клиентом) и пишет итоговую строку лога.
func (s *Server) withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, id)
		rec := &statusRecorder{ResponseWriter: w}
		start := time.Now()

		next.ServeHTTP(rec, r.WithContext(context.WithValue(r.Context(), ctxKey{}, id)))

		s.logger.Infow("Request handled",
			"requestId", id,
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.statusCode(),
			"remote", r.RemoteAddr,
			"duration", time.Since(start).String(),
		)
	})
}

// decode читает JSON-тело с ограничением размера. Пустое тело: пустой запрос.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes)
	defer r.Body.Close()
	err := json.NewDecoder(r.Body).Decode(dst)
	if err == nil || errors.Is(err, io.EOF) {
		return true
	}
	var tooBig *http.MaxBytesError
	if errors.As(err, &tooBig) {
		s.writeError(w, r, err)
		return false
	}
	s.writeJSON(w, http.StatusBadRequest, errorBody{Error: "Invalid JSON body"})
	return false
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.Warnw("Failed to write response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, msg := errorResponse(err)
	if status >= http.StatusInternalServerError {
		s.logger.Errorw("Request failed", "requestId", requestID(r.Context()), "status", status, "error", err)
	} else {
		s.logger.Warnw("Request rejected", "requestId", requestID(r.Context()), "status", status, "error", err)
	}
	s.writeJSON(w, status, errorBody{Error: msg})
}

// errorResponse переводит ошибку реплики в HTTP-статус и сообщение для клиента.
func errorResponse(err error) (int, string) {
	var (
		aiErr    *ai.Error
		fetchErr *attachment.FetchError
		readErr  *attachment.ReadError
		tooBig   *http.MaxBytesError
	)
	switch {
	case errors.As(err, &aiErr):
		return aiErr.HTTPStatus(), aiErr.Error()
	case errors.As(err, &fetchErr):
		return http.StatusInternalServerError, "Failed to fetch previous image"
	case errors.As(err, &readErr):
		return http.StatusBadRequest, "Invalid attachment"
	case errors.As(err, &tooBig):
		return http.StatusRequestEntityTooLarge, "Request body too large"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "Request timed out"
	default:
		return http.StatusInternalServerError, err.Error()
	}
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	if r.status == 0 {
		r.status = code
	}
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.ResponseWriter.Write(b)
}

// Hijack нужен для апгрейда до websocket.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	conn, rw, err := http.NewResponseController(r.ResponseWriter).Hijack()
	if err == nil {
		r.status = http.StatusSwitchingProtocols
	}
	return conn, rw, err
}

func (r *statusRecorder) Unwrap() http.ResponseWriter { return r.ResponseWriter }

func (r *statusRecorder) statusCode() int {
	if r.status == 0 {
		return http.StatusOK
	}
	return r.status
}
