package ai

import (
	"AssistantRelay/internal/attachment"
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"go.uber.org/zap"
)

const (
	defaultPollInterval = time.Second
	defaultMaxAttempts  = 30
)

// betaHeader обязателен для Threads/Runs/Messages (Assistants v2).
var betaHeader = option.WithHeader("OpenAI-Beta", "assistants=v2")

// RunStatus статус Run на стороне OpenAI.
type RunStatus string

const (
	RunStatusQueued         RunStatus = "queued"
	RunStatusInProgress     RunStatus = "in_progress"
	RunStatusRequiresAction RunStatus = "requires_action"
	RunStatusCompleted      RunStatus = "completed"
	RunStatusFailed         RunStatus = "failed"
	RunStatusCancelled      RunStatus = "cancelled"
	RunStatusCancelling     RunStatus = "cancelling"
	RunStatusExpired        RunStatus = "expired"
	RunStatusIncomplete     RunStatus = "incomplete"
)

// Pending: Run ещё выполняется, нужно продолжать опрос.
func (s RunStatus) Pending() bool {
	return s == RunStatusQueued || s == RunStatusInProgress
}

// Job: один Run в рамках реплики. Живёт только до конца запроса.
type Job struct {
	ID        string
	Status    RunStatus
	LastError string
	Attempts  int
}

// TurnInput: то, что реле отправляет в thread за одну реплику.
type TurnInput struct {
	ThreadID   string
	Message    string
	Attachment *attachment.File
}

// AssistantsConfig параметры ассистента и опроса.
type AssistantsConfig struct {
	AssistantID  string
	PollInterval time.Duration
	MaxAttempts  int
}

// AssistantsClient ведёт реплику через OpenAI Assistants (Threads): thread → message → run → опрос.
type AssistantsClient struct {
	client *openai.Client
	cfg    AssistantsConfig
	logger *zap.SugaredLogger
}

// NewAssistantsClient создаёт клиента. Нулевые параметры опроса заменяются на 1s и 30 попыток.
func NewAssistantsClient(client *openai.Client, cfg AssistantsConfig, logger *zap.SugaredLogger) *AssistantsClient {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaultMaxAttempts
	}
	return &AssistantsClient{client: client, cfg: cfg, logger: logger}
}

type threadObject struct {
	ID string `json:"id"`
}

type runObject struct {
	ID        string    `json:"id"`
	Status    RunStatus `json:"status"`
	LastError *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"last_error"`
}

func (r runObject) lastError() string {
	if r.LastError == nil {
		return ""
	}
	return r.LastError.Message
}

// RunTurn выполняет реплику до терминального статуса Run и возвращает Job и id thread.
// Ошибки: ThreadCreate, Upload, MessagePost, RunStart, StatusCheck, Timeout,
// UnsupportedAction, RunFailed, RunIncomplete.
func (c *AssistantsClient) RunTurn(ctx context.Context, in TurnInput) (Job, string, error) {
	if c.client == nil {
		return Job{}, "", errors.New("nil openai client")
	}
	if c.cfg.AssistantID == "" {
		return Job{}, "", Configuration("Missing OpenAI credentials")
	}

	// 1. Thread
	threadID := in.ThreadID
	if threadID == "" {
		var th threadObject
		if err := c.client.Post(ctx, "threads", map[string]any{}, &th, betaHeader); err != nil {
			return Job{}, "", newError(KindThreadCreate, err)
		}
		if th.ID == "" {
			return Job{}, "", &Error{Kind: KindThreadCreate, Msg: "create thread: empty thread id"}
		}
		threadID = th.ID
		c.logger.Infow("Thread created", "threadId", threadID)
	}

	// 2. Вложение. Ошибка загрузки прерывает реплику до отправки сообщения.
	fileID := ""
	if in.Attachment != nil {
		id, err := c.upload(ctx, *in.Attachment)
		if err != nil {
			return Job{}, threadID, err
		}
		fileID = id
	}

	// 3. Сообщение пользователя
	body := messageBody(in.Message, in.Attachment, fileID)
	var posted threadObject
	if err := c.client.Post(ctx, fmt.Sprintf("threads/%s/messages", threadID), body, &posted, betaHeader); err != nil {
		return Job{}, threadID, newError(KindMessagePost, err)
	}

	// 4. Run
	var run runObject
	if err := c.client.Post(ctx, fmt.Sprintf("threads/%s/runs", threadID), map[string]any{"assistant_id": c.cfg.AssistantID}, &run, betaHeader); err != nil {
		return Job{}, threadID, newError(KindRunStart, err)
	}
	if run.ID == "" {
		return Job{}, threadID, &Error{Kind: KindRunStart, Msg: "start run: empty run id"}
	}

	// 5-6. Опрос и разбор терминального статуса
	job, err := c.poll(ctx, threadID, run)
	if err != nil {
		return job, threadID, err
	}
	return job, threadID, jobError(job)
}

func (c *AssistantsClient) upload(ctx context.Context, f attachment.File) (string, error) {
	purpose := openai.FilePurposeAssistants
	if f.IsImage() {
		purpose = openai.FilePurposeVision
	}
	start := time.Now()
	obj, err := c.client.Files.New(ctx, openai.FileNewParams{
		File:    openai.File(bytes.NewReader(f.Data), f.Name, f.MimeType),
		Purpose: purpose,
	})
	if err != nil {
		c.logger.Errorw("Attachment upload failed", "name", f.Name, "duration", time.Since(start).String(), "error", err)
		return "", newError(KindUpload, err)
	}
	c.logger.Infow("Attachment uploaded", "name", f.Name, "fileId", obj.ID, "bytes", len(f.Data), "duration", time.Since(start).String())
	return obj.ID, nil
}

// messageBody собирает сообщение: текст, затем картинка как image_file,
// прочие файлы: как attachments для code_interpreter.
func messageBody(text string, f *attachment.File, fileID string) map[string]any {
	content := make([]map[string]any, 0, 2)
	if text != "" {
		content = append(content, map[string]any{"type": "text", "text": text})
	}
	body := map[string]any{"role": "user"}
	if fileID != "" && f != nil {
		if f.IsImage() {
			content = append(content, map[string]any{
				"type":       "image_file",
				"image_file": map[string]any{"file_id": fileID},
			})
		} else {
			body["attachments"] = []map[string]any{{
				"file_id": fileID,
				"tools":   []map[string]any{{"type": "code_interpreter"}},
			}}
			if len(content) == 0 {
				content = append(content, map[string]any{"type": "text", "text": f.Name})
			}
		}
	}
	body["content"] = content
	return body
}

// poll опрашивает Run строго последовательно, пока статус queued/in_progress и не исчерпаны попытки.
func (c *AssistantsClient) poll(ctx context.Context, threadID string, run runObject) (Job, error) {
	job := Job{ID: run.ID, Status: run.Status, LastError: run.lastError()}
	if job.Status == "" {
		job.Status = RunStatusQueued
	}
	start := time.Now()
	path := fmt.Sprintf("threads/%s/runs/%s", threadID, run.ID)

	for job.Status.Pending() && job.Attempts < c.cfg.MaxAttempts {
		t := time.NewTimer(c.cfg.PollInterval)
		select {
		case <-ctx.Done():
			t.Stop()
			return job, context.Cause(ctx)
		case <-t.C:
		}

		var cur runObject
		if err := c.client.Get(ctx, path, nil, &cur, betaHeader); err != nil {
			return job, newError(KindStatusCheck, err)
		}
		job.Attempts++
		job.Status = cur.Status
		job.LastError = cur.lastError()
		c.logger.Debugw("Run status", "runId", job.ID, "status", job.Status, "attempt", job.Attempts)
	}

	c.logger.Infow("Run finished polling",
		"threadId", threadID,
		"runId", job.ID,
		"status", job.Status,
		"attempts", job.Attempts,
		"duration", time.Since(start).String(),
	)
	return job, nil
}

// jobError переводит итоговый статус Run в ошибку реплики (nil для completed).
func jobError(job Job) error {
	switch job.Status {
	case RunStatusCompleted:
		return nil
	case RunStatusQueued, RunStatusInProgress:
		return &Error{Kind: KindTimeout, Msg: "Assistant run did not complete in time."}
	case RunStatusRequiresAction:
		return &Error{Kind: KindUnsupportedAction, Msg: "Assistant run requires an action (tool call) that is not supported."}
	case RunStatusFailed, RunStatusCancelled, RunStatusCancelling, RunStatusExpired:
		msg := job.LastError
		if msg == "" {
			msg = fmt.Sprintf("run ended with status %s", job.Status)
		}
		return &Error{Kind: KindRunFailed, Msg: msg}
	default:
		return &Error{Kind: KindRunIncomplete, Msg: fmt.Sprintf("Assistant run did not complete (status %q).", job.Status)}
	}
}
