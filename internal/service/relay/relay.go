package relay

import (
	"AssistantRelay/internal/ai"
	"AssistantRelay/internal/attachment"
	"AssistantRelay/internal/intent"
	"context"
	"strings"
	"time"

	"go.uber.org/zap"
)

type TurnRunner interface {
	RunTurn(ctx context.Context, in ai.TurnInput) (ai.Job, string, error)
}

type Extractor interface {
	Extract(ctx context.Context, threadID string) (ai.ExtractedResult, error)
}

type ImageGenerator interface {
	Generate(ctx context.Context, req ai.FallbackRequest) (string, error)
}

// Turn тело запроса к реле. Состояние диалога присылает клиент.
type Turn struct {
	Message         string   `json:"message"`
	ThreadID        string   `json:"threadId,omitempty"`
	PromptHistory   []string `json:"promptHistory,omitempty"`
	LastImageURL    string   `json:"lastImageUrl,omitempty"`
	LastImageBase64 string   `json:"lastImageBase64,omitempty"`
	Attachment      string   `json:"attachment,omitempty"` // base64 или data URI
	AttachmentName  string   `json:"attachmentName,omitempty"`
	AttachmentType  string   `json:"attachmentType,omitempty"`
}

// Response нормализованный ответ реплики. Отсутствующие текст и картинка сериализуются как null.
type Response struct {
	Text     *string `json:"text"`
	ImageURL *string `json:"imageUrl"`
	ThreadID string  `json:"threadId"`
}

// ImageRequest тело запроса отдельной генерации картинки.
type ImageRequest struct {
	Message         string   `json:"message"`
	PromptHistory   []string `json:"promptHistory,omitempty"`
	LastImageURL    string   `json:"lastImageUrl,omitempty"`
	LastImageBase64 string   `json:"lastImageBase64,omitempty"`
	Attachment      string   `json:"attachment,omitempty"`
	AttachmentName  string   `json:"attachmentName,omitempty"`
	AttachmentType  string   `json:"attachmentType,omitempty"`
}

// Relay оркестрирует одну реплику: ассистент → извлечение → при необходимости запасная генерация.
// Состояния между запросами не хранит.
type Relay struct {
	runner     TurnRunner
	extractor  Extractor
	images     ImageGenerator
	classifier *intent.Classifier
	logger     *zap.SugaredLogger
}

// New создаёт сервис оркестрации. classifier == nil: списки ключевых слов по умолчанию.
func New(runner TurnRunner, extractor Extractor, images ImageGenerator, classifier *intent.Classifier, logger *zap.SugaredLogger) *Relay {
	if classifier == nil {
		classifier = intent.New(nil, nil)
	}
	return &Relay{runner: runner, extractor: extractor, images: images, classifier: classifier, logger: logger}
}

// Handle выполняет реплику. Любая ошибка прерывает её, кроме неудачной запасной генерации
// при непустом тексте: тогда возвращается текст без картинки.
func (r *Relay) Handle(ctx context.Context, t Turn) (Response, error) {
	if strings.TrimSpace(t.Message) == "" && t.Attachment == "" {
		return Response{}, ai.Validation("Message or attachment is required")
	}
	start := time.Now()
	in := r.classifier.Classify(t.Message, t.PromptHistory)

	att, err := decodeAttachment(t.Attachment, t.AttachmentName, t.AttachmentType)
	if err != nil {
		return Response{}, err
	}

	job, threadID, err := r.runner.RunTurn(ctx, ai.TurnInput{ThreadID: t.ThreadID, Message: t.Message, Attachment: att})
	if err != nil {
		r.logger.Errorw("Assistant run failed", "threadId", threadID, "runId", job.ID, "status", job.Status, "attempts", job.Attempts, "error", err)
		return Response{}, err
	}

	res, err := r.extractor.Extract(ctx, threadID)
	if err != nil {
		r.logger.Errorw("Failed to extract assistant response", "threadId", threadID, "error", err)
		return Response{}, err
	}

	imageURL := res.ImageURL
	fallback := imageURL == "" && (in.IsImageRequest || res.SandboxRef)
	if fallback {
		url, gerr := r.images.Generate(ctx, ai.FallbackRequest{
			Message:         t.Message,
			PromptHistory:   t.PromptHistory,
			Attachment:      att,
			LastImageBase64: t.LastImageBase64,
			LastImageURL:    t.LastImageURL,
		})
		switch {
		case gerr == nil:
			imageURL = url
		case strings.TrimSpace(res.Text) != "":
			r.logger.Warnw("Image fallback failed, returning text only", "threadId", threadID, "error", gerr)
		default:
			return Response{}, gerr
		}
	}

	r.logger.Infow("Turn completed",
		"threadId", threadID,
		"runId", job.ID,
		"attempts", job.Attempts,
		"direct", in.IsDirect,
		"edit", in.IsEdit,
		"sandboxRef", res.SandboxRef,
		"fallback", fallback,
		"hasImage", imageURL != "",
		"duration", time.Since(start).String(),
	)
	return Response{Text: optional(res.Text), ImageURL: optional(imageURL), ThreadID: threadID}, nil
}

// GenerateImage: отдельная генерация без ассистента. Ошибки не смягчаются.
func (r *Relay) GenerateImage(ctx context.Context, req ImageRequest) (string, error) {
	if strings.TrimSpace(req.Message) == "" {
		return "", ai.Validation("Message is required")
	}
	att, err := decodeAttachment(req.Attachment, req.AttachmentName, req.AttachmentType)
	if err != nil {
		return "", err
	}
	return r.images.Generate(ctx, ai.FallbackRequest{
		Message:         req.Message,
		PromptHistory:   req.PromptHistory,
		Attachment:      att,
		LastImageBase64: req.LastImageBase64,
		LastImageURL:    req.LastImageURL,
	})
}

func decodeAttachment(encoded, name, mimeType string) (*attachment.File, error) {
	if encoded == "" {
		return nil, nil
	}
	f, err := attachment.DecodeFile(encoded, name, mimeType)
	if err != nil {
		return nil, err
	}
	return &f, nil
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
