package ai

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/openai/openai-go/v3"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
)

// fakeOpenAI минимальный OpenAI API для тестов: threads/runs/messages, files, images, chat.
type fakeOpenAI struct {
	srv *httptest.Server

	mu             sync.Mutex
	statuses       []string // статусы, которые по очереди отдаёт GET run
	lastError      string
	checks         int
	messageFetches int
	checksAtFetch  int
	threadsCreated int
	postedMessages []map[string]any
	uploads        int
	uploadStatus   int // !=0: загрузка файла падает с этим статусом
	messagesJSON   string
	files          map[string]fakeFile
	imagePrompts   []string
	imageEdits     int
	imagesJSON     string
	imageStatus    int
	chatBodies     []map[string]any
}

type fakeFile struct {
	data        []byte
	contentType string
}

func newFakeOpenAI(t *testing.T) *fakeOpenAI {
	t.Helper()
	f := &fakeOpenAI{
		files:      make(map[string]fakeFile),
		imagesJSON: `{"created":1,"data":[{"url":"https://img.example/generated.png"}]}`,
	}
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/threads", f.createThread)
	mux.HandleFunc("POST /v1/threads/{thread}/messages", f.postMessage)
	mux.HandleFunc("GET /v1/threads/{thread}/messages", f.listMessages)
	mux.HandleFunc("POST /v1/threads/{thread}/runs", f.createRun)
	mux.HandleFunc("GET /v1/threads/{thread}/runs/{run}", f.getRun)
	mux.HandleFunc("POST /v1/files", f.uploadFile)
	mux.HandleFunc("GET /v1/files/{id}/content", f.fileContent)
	mux.HandleFunc("POST /v1/images/generations", f.generateImage)
	mux.HandleFunc("POST /v1/images/edits", f.editImage)
	mux.HandleFunc("POST /v1/chat/completions", f.chat)
	f.srv = httptest.NewServer(mux)
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeOpenAI) client() *openai.Client {
	return NewOpenAIClient(ClientOptions{APIKey: "test", BaseURL: f.srv.URL + "/v1", MaxRetries: -1})
}

func testLogger(t *testing.T) *zap.SugaredLogger {
	return zaptest.NewLogger(t).Sugar()
}

func (f *fakeOpenAI) assistants(t *testing.T, maxAttempts int) *AssistantsClient {
	return NewAssistantsClient(f.client(), AssistantsConfig{
		AssistantID:  "asst_test",
		PollInterval: time.Millisecond,
		MaxAttempts:  maxAttempts,
	}, testLogger(t))
}

func writeJSON(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = io.WriteString(w, body)
}

func apiError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, fmt.Sprintf(`{"error":{"message":%q,"type":"invalid_request_error"}}`, msg))
}

func (f *fakeOpenAI) createThread(w http.ResponseWriter, _ *http.Request) {
	f.mu.Lock()
	f.threadsCreated++
	n := f.threadsCreated
	f.mu.Unlock()
	writeJSON(w, http.StatusOK, fmt.Sprintf(`{"id":"thread_%d","object":"thread","created_at":1}`, n))
}

func (f *fakeOpenAI) postMessage(w http.ResponseWriter, r *http.Request) {
	var body map[string]any
	_ = json.NewDecoder(r.Body).Decode(&body)
	f.mu.Lock()
	f.postedMessages = append(f.postedMessages, body)
	f.mu.Unlock()
	writeJSON(w, http.StatusOK, `{"id":"msg_user","object":"thread.message","role":"user"}`)
}

func (f *fakeOpenAI) listMessages(w http.ResponseWriter, _ *http.Request) {
	f.mu.Lock()
	f.messageFetches++
	f.checksAtFetch = f.checks
	body := f.messagesJSON
	f.mu.Unlock()
	if body == "" {
		body = `{"object":"list","data":[]}`
	}
	writeJSON(w, http.StatusOK, body)
}

func (f *fakeOpenAI) createRun(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, fmt.Sprintf(`{"id":"run_1","object":"thread.run","thread_id":%q,"status":"queued"}`, r.PathValue("thread")))
}

func (f *fakeOpenAI) getRun(w http.ResponseWriter, _ *http.Request) {
	f.mu.Lock()
	status := "in_progress"
	if f.checks < len(f.statuses) {
		status = f.statuses[f.checks]
	} else if len(f.statuses) > 0 {
		status = f.statuses[len(f.statuses)-1]
	}
	f.checks++
	lastErr := "null"
	if f.lastError != "" {
		lastErr = fmt.Sprintf(`{"code":"server_error","message":%q}`, f.lastError)
	}
	f.mu.Unlock()
	writeJSON(w, http.StatusOK, fmt.Sprintf(`{"id":"run_1","object":"thread.run","status":%q,"last_error":%s}`, status, lastErr))
}

func (f *fakeOpenAI) uploadFile(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	f.uploads++
	status := f.uploadStatus
	f.mu.Unlock()
	if status != 0 {
		apiError(w, status, "upload rejected")
		return
	}
	purpose := r.FormValue("purpose")
	writeJSON(w, http.StatusOK, fmt.Sprintf(`{"id":"file_up","object":"file","bytes":3,"created_at":1,"filename":"upload","purpose":%q,"status":"processed"}`, purpose))
}

func (f *fakeOpenAI) fileContent(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	file, ok := f.files[r.PathValue("id")]
	f.mu.Unlock()
	if !ok {
		apiError(w, http.StatusNotFound, "No such File object")
		return
	}
	if file.contentType != "" {
		w.Header().Set("Content-Type", file.contentType)
	}
	_, _ = w.Write(file.data)
}

func (f *fakeOpenAI) generateImage(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Prompt string `json:"prompt"`
	}
	_ = json.NewDecoder(r.Body).Decode(&body)
	f.mu.Lock()
	f.imagePrompts = append(f.imagePrompts, body.Prompt)
	status, resp := f.imageStatus, f.imagesJSON
	f.mu.Unlock()
	if status != 0 {
		apiError(w, status, "image generation rejected")
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (f *fakeOpenAI) editImage(w http.ResponseWriter, r *http.Request) {
	prompt := ""
	if err := r.ParseMultipartForm(10 << 20); err == nil {
		prompt = r.FormValue("prompt")
	}
	f.mu.Lock()
	f.imageEdits++
	f.imagePrompts = append(f.imagePrompts, prompt)
	status, resp := f.imageStatus, f.imagesJSON
	f.mu.Unlock()
	if status != 0 {
		apiError(w, status, "image edit rejected")
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (f *fakeOpenAI) chat(w http.ResponseWriter, r *http.Request) {
	var body map[string]any
	_ = json.NewDecoder(r.Body).Decode(&body)
	f.mu.Lock()
	f.chatBodies = append(f.chatBodies, body)
	f.mu.Unlock()
	writeJSON(w, http.StatusOK, `{"id":"chatcmpl_1","object":"chat.completion","created":1,"model":"gpt-4o",`+
		`"choices":[{"index":0,"finish_reason":"stop","message":{"role":"assistant","content":"Ahoy"}}]}`)
}

// assistantMessages собирает ответ GET messages из готовых JSON-сообщений.
func assistantMessages(msgs ...string) string {
	return `{"object":"list","data":[` + strings.Join(msgs, ",") + `]}`
}
