package server

import (
	"AssistantRelay/internal/ai"
	"AssistantRelay/internal/attachment"
	"AssistantRelay/internal/config"
	"AssistantRelay/internal/service/relay"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/openai/openai-go/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
)

type fakeRelay struct {
	mu      sync.Mutex
	turns   []relay.Turn
	resp    relay.Response
	err     error
	imgURL  string
	imgErr  error
	imgReqs []relay.ImageRequest
}

func (f *fakeRelay) Handle(_ context.Context, t relay.Turn) (relay.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.turns = append(f.turns, t)
	if f.err != nil {
		return relay.Response{}, f.err
	}
	if strings.TrimSpace(t.Message) == "" && t.Attachment == "" {
		return relay.Response{}, ai.Validation("Message or attachment is required")
	}
	return f.resp, nil
}

func (f *fakeRelay) GenerateImage(_ context.Context, req relay.ImageRequest) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.imgReqs = append(f.imgReqs, req)
	return f.imgURL, f.imgErr
}

type fakeFiles struct {
	data        []byte
	contentType string
	err         error
}

func (f *fakeFiles) FileContent(context.Context, string) ([]byte, string, error) {
	return f.data, f.contentType, f.err
}

const completionJSON = `{"id":"chatcmpl_1","object":"chat.completion","created":1,"model":"gpt-4o","choices":[{"index":0,"finish_reason":"stop","message":{"role":"assistant","content":"Ahoy"}}]}`

type fakeChat struct {
	got []ai.ChatMessage
}

func (f *fakeChat) Complete(_ context.Context, messages []ai.ChatMessage) (*openai.ChatCompletion, error) {
	f.got = messages
	var c openai.ChatCompletion
	if err := json.Unmarshal([]byte(completionJSON), &c); err != nil {
		return nil, err
	}
	return &c, nil
}

type testEnv struct {
	relay *fakeRelay
	files *fakeFiles
	chat  *fakeChat
	srv   *httptest.Server
}

func newEnv(t *testing.T, mutate func(*config.ServerConfig, *config.OpenAIConfig)) *testEnv {
	return newEnvWithLogger(t, zaptest.NewLogger(t).Sugar(), mutate)
}

// newEnvWithLogger нужен там, где сервер пишет в лог после завершения теста (hijack, фоновые горутины).
func newEnvWithLogger(t *testing.T, logger *zap.SugaredLogger, mutate func(*config.ServerConfig, *config.OpenAIConfig)) *testEnv {
	t.Helper()
	cfg := config.ServerConfig{AllowedOrigin: "*", MaxBodyBytes: 1 << 20, ImageCacheSeconds: 86400}
	creds := config.OpenAIConfig{APIKey: "sk-test", AssistantID: "asst_test"}
	if mutate != nil {
		mutate(&cfg, &creds)
	}
	e := &testEnv{relay: &fakeRelay{}, files: &fakeFiles{}, chat: &fakeChat{}}
	s := New(cfg, creds, Deps{Relay: e.relay, Files: e.files, Chat: e.chat}, logger)
	e.srv = httptest.NewServer(s.Handler())
	t.Cleanup(e.srv.Close)
	return e
}

func (e *testEnv) post(t *testing.T, path, body string) (*http.Response, map[string]any) {
	t.Helper()
	resp, err := http.Post(e.srv.URL+path, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	var out map[string]any
	raw, _ := io.ReadAll(resp.Body)
	if len(raw) > 0 {
		require.NoError(t, json.Unmarshal(raw, &out), string(raw))
	}
	return resp, out
}

func TestAssistant_Success(t *testing.T) {
	e := newEnv(t, nil)
	text := "Hello"
	e.relay.resp = relay.Response{Text: &text, ThreadID: "thread_1"}

	resp, body := e.post(t, "/api/assistant", `{"message":"Hi","threadId":"thread_1","promptHistory":["Draw a phone"]}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, map[string]any{"text": "Hello", "imageUrl": nil, "threadId": "thread_1"}, body)
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
	assert.NotEmpty(t, resp.Header.Get(requestIDHeader))

	require.Len(t, e.relay.turns, 1)
	assert.Equal(t, relay.Turn{Message: "Hi", ThreadID: "thread_1", PromptHistory: []string{"Draw a phone"}}, e.relay.turns[0])
}

func TestAssistant_Errors(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		body   string
		status int
		msg    string
	}{
		{name: "validation", body: `{"message":""}`, status: http.StatusBadRequest, msg: "Message or attachment is required"},
		{name: "empty body", body: ``, status: http.StatusBadRequest, msg: "Message or attachment is required"},
		{name: "bad json", body: `{"message":`, status: http.StatusBadRequest, msg: "Invalid JSON body"},
		{
			name:   "run failed",
			err:    &ai.Error{Kind: ai.KindRunFailed, Msg: "quota exceeded"},
			body:   `{"message":"Hi"}`,
			status: http.StatusInternalServerError,
			msg:    "quota exceeded",
		},
		{
			name:   "unsupported action",
			err:    &ai.Error{Kind: ai.KindUnsupportedAction, Msg: "Assistant run requires an action (tool call) that is not supported."},
			body:   `{"message":"Hi"}`,
			status: http.StatusBadRequest,
			msg:    "Assistant run requires an action (tool call) that is not supported.",
		},
		{
			name:   "remote status passes through",
			err:    &ai.Error{Kind: ai.KindMessagePost, Status: http.StatusTooManyRequests, Msg: "post message failed: rate limited"},
			body:   `{"message":"Hi"}`,
			status: http.StatusTooManyRequests,
			msg:    "post message failed: rate limited",
		},
		{
			name:   "previous image fetch",
			err:    fmt.Errorf("fetch previous image: %w", &attachment.FetchError{URL: "https://x", Status: 404, Err: errors.New("gone")}),
			body:   `{"message":"Make it red"}`,
			status: http.StatusInternalServerError,
			msg:    "Failed to fetch previous image",
		},
		{
			name:   "undecodable attachment",
			err:    &attachment.ReadError{Err: errors.New("illegal base64")},
			body:   `{"attachment":"%%%"}`,
			status: http.StatusBadRequest,
			msg:    "Invalid attachment",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newEnv(t, nil)
			e.relay.err = tt.err

			resp, body := e.post(t, "/api/assistant", tt.body)
			assert.Equal(t, tt.status, resp.StatusCode)
			assert.Equal(t, map[string]any{"error": tt.msg}, body)
		})
	}
}

func TestAssistant_MissingCredentials(t *testing.T) {
	e := newEnv(t, func(_ *config.ServerConfig, c *config.OpenAIConfig) { c.AssistantID = "" })

	resp, body := e.post(t, "/api/assistant", `{"message":"Hi"}`)
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.Equal(t, "Missing OpenAI credentials", body["error"])
	assert.Empty(t, e.relay.turns)
}

func TestAssistant_BodyTooLarge(t *testing.T) {
	e := newEnv(t, func(c *config.ServerConfig, _ *config.OpenAIConfig) { c.MaxBodyBytes = 64 })

	resp, body := e.post(t, "/api/assistant", `{"message":"`+strings.Repeat("a", 200)+`"}`)
	assert.Equal(t, http.StatusRequestEntityTooLarge, resp.StatusCode)
	assert.Equal(t, "Request body too large", body["error"])
}

func TestMethods(t *testing.T) {
	e := newEnv(t, nil)

	req, _ := http.NewRequest(http.MethodOptions, e.srv.URL+"/api/assistant", nil)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Content-Type", resp.Header.Get("Access-Control-Allow-Headers"))
	assert.Equal(t, "POST, OPTIONS", resp.Header.Get("Access-Control-Allow-Methods"))

	resp, err = http.Get(e.srv.URL + "/api/assistant")
	require.NoError(t, err)
	raw, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
	assert.JSONEq(t, `{"error":"Method not allowed"}`, string(raw))

	resp, _ = e.post(t, "/api/image", `{}`)
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestRateLimit(t *testing.T) {
	e := newEnv(t, func(c *config.ServerConfig, _ *config.OpenAIConfig) { c.RatePerMinute = 2 })
	e.relay.resp = relay.Response{ThreadID: "t"}

	for i := 0; i < 2; i++ {
		resp, _ := e.post(t, "/api/assistant", `{"message":"Hi"}`)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
	}
	resp, body := e.post(t, "/api/assistant", `{"message":"Hi"}`)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.Equal(t, "Too many requests", body["error"])
}

func TestGenerateImage(t *testing.T) {
	e := newEnv(t, nil)
	e.relay.imgURL = "https://img.example/1.png"

	resp, body := e.post(t, "/api/generate-image", `{"message":"Draw a fox","promptHistory":["a"],"lastImageUrl":"https://img.example/0.png"}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, map[string]any{"imageUrl": "https://img.example/1.png"}, body)
	require.Len(t, e.relay.imgReqs, 1)
	assert.Equal(t, "https://img.example/0.png", e.relay.imgReqs[0].LastImageURL)

	e.relay.imgErr = &ai.Error{Kind: ai.KindNoImageReturned, Msg: "No image URL returned"}
	resp, body = e.post(t, "/api/generate-image", `{"message":"Draw a fox"}`)
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.Equal(t, "No image URL returned", body["error"])
}

func TestGenerateImage_CredentialsCheckedFirst(t *testing.T) {
	e := newEnv(t, func(_ *config.ServerConfig, c *config.OpenAIConfig) { c.APIKey = "" })

	resp, body := e.post(t, "/api/generate-image", `{}`)
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.Equal(t, "Missing OpenAI credentials", body["error"])
}

func TestImageProxy(t *testing.T) {
	e := newEnv(t, nil)
	e.files.data = []byte{0x89, 'P', 'N', 'G'}
	e.files.contentType = "image/png"

	resp, err := http.Get(e.srv.URL + "/api/image?fileId=file_1")
	require.NoError(t, err)
	defer resp.Body.Close()
	raw, _ := io.ReadAll(resp.Body)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "image/png", resp.Header.Get("Content-Type"))
	assert.Equal(t, "public, max-age=86400", resp.Header.Get("Cache-Control"))
	assert.Equal(t, e.files.data, raw)

	resp2, err := http.Get(e.srv.URL + "/api/image")
	require.NoError(t, err)
	resp2.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp2.StatusCode)

	e.files.err = &ai.Error{Kind: ai.KindExtraction, Status: http.StatusNotFound, Msg: "extract assistant response failed: No such File object"}
	resp3, err := http.Get(e.srv.URL + "/api/image?fileId=missing")
	require.NoError(t, err)
	resp3.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp3.StatusCode)
}

func TestChat(t *testing.T) {
	e := newEnv(t, nil)

	resp, err := http.Post(e.srv.URL+"/api/chat", "application/json",
		strings.NewReader(`{"messages":[{"role":"user","content":"Hi"}]}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	raw, _ := io.ReadAll(resp.Body)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, completionJSON, string(raw))
	assert.Equal(t, []ai.ChatMessage{{Role: "user", Content: "Hi"}}, e.chat.got)
}

func TestWebsocket(t *testing.T) {
	e := newEnvWithLogger(t, zap.NewNop().Sugar(), nil)
	text := "Hello"
	e.relay.resp = relay.Response{Text: &text, ThreadID: "thread_ws"}

	url := "ws" + strings.TrimPrefix(e.srv.URL, "http") + "/api/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"message":"Hi"}`)))
	var ok map[string]any
	require.NoError(t, conn.ReadJSON(&ok))
	assert.Equal(t, map[string]any{"text": "Hello", "imageUrl": nil, "threadId": "thread_ws"}, ok)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"message":""}`)))
	var failed wsError
	require.NoError(t, conn.ReadJSON(&failed))
	assert.Equal(t, wsError{Error: "Message or attachment is required", Status: http.StatusBadRequest}, failed)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`not json`)))
	require.NoError(t, conn.ReadJSON(&failed))
	assert.Equal(t, http.StatusBadRequest, failed.Status)
}

func TestStartStop(t *testing.T) {
	s := New(config.ServerConfig{BindAddr: "127.0.0.1:0"}, config.OpenAIConfig{}, Deps{}, zap.NewNop().Sugar())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, s.Start(ctx))
	assert.NotEqual(t, "127.0.0.1:0", s.Addr())

	resp, err := http.Get("http://" + s.Addr() + "/api/assistant")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)

	require.NoError(t, s.Stop(context.Background()))
	require.NoError(t, s.Stop(context.Background()))
}

func TestOptionalDepsMissing(t *testing.T) {
	s := New(config.ServerConfig{}, config.OpenAIConfig{APIKey: "stub", AssistantID: "stub"}, Deps{Relay: &fakeRelay{}}, zaptest.NewLogger(t).Sugar())
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/api/chat", "application/json", strings.NewReader(`{"messages":[{"role":"user","content":"hi"}]}`))
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.JSONEq(t, `{"error":"Chat is not available"}`, string(body))

	resp, err = http.Get(srv.URL + "/api/image?fileId=file_1")
	require.NoError(t, err)
	body, _ = io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.JSONEq(t, `{"error":"Image proxy is not available"}`, string(body))
}
