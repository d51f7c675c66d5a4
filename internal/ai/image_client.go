package ai

import (
	"AssistantRelay/internal/attachment"
	"AssistantRelay/internal/intent"
	"bytes"
	"context"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/openai/openai-go/v3"
	"go.uber.org/zap"
)

const (
	defaultImageModel = "gpt-image-1"
	defaultImageSize  = "1024x1024"

	promptSeparator = ". "
)

var realisticRe = regexp.MustCompile(`(?i)(photo|photorealistic|realistic|lifelike)`)

// FallbackRequest вход запасной генерации картинки.
type FallbackRequest struct {
	Message         string
	PromptHistory   []string
	Attachment      *attachment.File // вложение текущей реплики
	LastImageBase64 string
	LastImageURL    string
}

// ImageConfig параметры генерации.
type ImageConfig struct {
	Model string
	Size  string
}

// ImageClient генерирует картинку отдельным вызовом Images API, когда ассистент её не вернул.
type ImageClient struct {
	client     *openai.Client
	http       *http.Client
	classifier *intent.Classifier
	cfg        ImageConfig
	logger     *zap.SugaredLogger
}

// NewImageClient создаёт клиента генерации. httpClient используется для скачивания предыдущей картинки.
func NewImageClient(client *openai.Client, httpClient *http.Client, classifier *intent.Classifier, cfg ImageConfig, logger *zap.SugaredLogger) *ImageClient {
	if cfg.Model == "" {
		cfg.Model = defaultImageModel
	}
	if cfg.Size == "" {
		cfg.Size = defaultImageSize
	}
	if classifier == nil {
		classifier = intent.New(nil, nil)
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &ImageClient{client: client, http: httpClient, classifier: classifier, cfg: cfg, logger: logger}
}

// PromptCorpus склеивает историю промптов с сообщением, если это продолжение правок,
// иначе возвращает только сообщение.
func PromptCorpus(message string, history []string, isEdit func(string) bool) string {
	if len(history) > 0 && isEdit(message) {
		parts := make([]string, 0, len(history)+1)
		parts = append(parts, history...)
		parts = append(parts, message)
		return strings.Join(parts, promptSeparator)
	}
	return message
}

// BuildPrompt оборачивает корпус в стилевой шаблон. Чистая функция корпуса.
func BuildPrompt(corpus string) string {
	corpus = strings.TrimSpace(corpus)
	if realisticRe.MatchString(corpus) {
		return fmt.Sprintf("A high-resolution, photorealistic image of: %s. Studio lighting, natural texture, sharp detail.", corpus)
	}
	return fmt.Sprintf("In a cute, cartoon, craft-friendly style: %s", corpus)
}

// Prompt итоговый промпт для сообщения и истории.
func (c *ImageClient) Prompt(message string, history []string) string {
	return BuildPrompt(PromptCorpus(message, history, c.classifier.MatchesEdit))
}

// Generate генерирует картинку и возвращает URL или data URI.
// Ошибки: FetchError (предыдущая картинка недоступна), GenerationError, NoImageReturnedError.
func (c *ImageClient) Generate(ctx context.Context, req FallbackRequest) (string, error) {
	prompt := c.Prompt(req.Message, req.PromptHistory)

	ref, err := c.reference(ctx, req)
	if err != nil {
		return "", err
	}

	start := time.Now()
	var resp *openai.ImagesResponse
	if ref == nil {
		resp, err = c.client.Images.Generate(ctx, openai.ImageGenerateParams{
			Prompt: prompt,
			Model:  openai.ImageModel(c.cfg.Model),
			Size:   openai.ImageGenerateParamsSize(c.cfg.Size),
			N:      openai.Int(1),
		})
	} else {
		resp, err = c.client.Images.Edit(ctx, openai.ImageEditParams{
			Image: openai.ImageEditParamsImageUnion{
				OfFile: openai.File(bytes.NewReader(ref.Data), ref.Name, ref.MimeType),
			},
			Prompt: prompt,
			Model:  openai.ImageModel(c.cfg.Model),
			Size:   openai.ImageEditParamsSize(c.cfg.Size),
			N:      openai.Int(1),
		})
	}
	dur := time.Since(start)
	if err != nil {
		c.logger.Errorw("Image generation failed", "withReference", ref != nil, "duration", dur.String(), "error", err)
		return "", newError(KindGeneration, err)
	}
	c.logger.Infow("Image generated", "withReference", ref != nil, "duration", dur.String())

	for _, img := range resp.Data {
		if img.URL != "" {
			return img.URL, nil
		}
		if img.B64JSON != "" {
			return attachment.DataURI("image/png", img.B64JSON), nil
		}
	}
	return "", &Error{Kind: KindNoImageReturned, Msg: "No image URL returned"}
}

// reference выбирает не более одной опорной картинки:
// вложение реплики > base64 из сессии > URL из сессии (скачивается).
func (c *ImageClient) reference(ctx context.Context, req FallbackRequest) (*attachment.File, error) {
	if req.Attachment != nil && req.Attachment.IsImage() {
		return req.Attachment, nil
	}
	if req.LastImageBase64 != "" {
		f, err := attachment.DecodeFile(req.LastImageBase64, "previous.png", "")
		if err != nil {
			return nil, fmt.Errorf("previous image: %w", err)
		}
		return &f, nil
	}
	if req.LastImageURL != "" {
		b64, contentType, err := attachment.FetchBase64(ctx, c.http, req.LastImageURL)
		if err != nil {
			c.logger.Errorw("Failed to fetch previous image", "error", err)
			return nil, fmt.Errorf("fetch previous image: %w", err)
		}
		f, err := attachment.DecodeFile(b64, "previous.png", contentType)
		if err != nil {
			return nil, fmt.Errorf("previous image: %w", err)
		}
		return &f, nil
	}
	return nil, nil
}
