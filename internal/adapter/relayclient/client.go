package relayclient

import (
	"AssistantRelay/internal/service/relay"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Error ошибка, которую вернуло реле: HTTP-статус и текст из поля error.
type Error struct {
	Status  int
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("relay: %d: %s", e.Status, e.Message)
}

// reply ответ реле: либо Response, либо {error, status}.
type reply struct {
	relay.Response
	Error  string `json:"error"`
	Status int    `json:"status"`
}

// HTTPClient ходит в реле по HTTP, одна реплика: один POST.
type HTTPClient struct {
	baseURL string
	http    *http.Client
	logger  *zap.SugaredLogger
}

// NewHTTP создаёт клиента. httpClient == nil: клиент без таймаута, реплика ограничивается контекстом.
func NewHTTP(baseURL string, httpClient *http.Client, logger *zap.SugaredLogger) *HTTPClient {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &HTTPClient{baseURL: strings.TrimRight(baseURL, "/"), http: httpClient, logger: logger}
}

// Send отправляет реплику в /api/assistant.
func (c *HTTPClient) Send(ctx context.Context, turn relay.Turn) (relay.Response, error) {
	var out reply
	if err := c.post(ctx, "/api/assistant", turn, &out); err != nil {
		return relay.Response{}, err
	}
	return out.Response, nil
}

// GenerateImage вызывает /api/generate-image.
func (c *HTTPClient) GenerateImage(ctx context.Context, req relay.ImageRequest) (string, error) {
	var out struct {
		ImageURL string `json:"imageUrl"`
	}
	if err := c.post(ctx, "/api/generate-image", req, &out); err != nil {
		return "", err
	}
	return out.ImageURL, nil
}

func (c *HTTPClient) Close() error { return nil }

func (c *HTTPClient) post(ctx context.Context, path string, body, dst any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Errorw("Ошибка запроса к реле", "path", path, "duration", time.Since(start).String(), "error", err)
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read relay response: %w", err)
	}
	c.logger.Debugw("Ответ реле получен", "path", path, "status", resp.StatusCode, "requestId", resp.Header.Get("X-Request-Id"), "duration", time.Since(start).String())

	if resp.StatusCode != http.StatusOK {
		var e struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(raw, &e) != nil || e.Error == "" {
			e.Error = strings.TrimSpace(string(raw))
		}
		return &Error{Status: resp.StatusCode, Message: e.Error}
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("decode relay response: %w", err)
	}
	return nil
}
