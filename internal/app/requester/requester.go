package requester

import (
	"AssistantRelay/internal/attachment"
	"AssistantRelay/internal/intent"
	"AssistantRelay/internal/service/relay"
	"AssistantRelay/internal/service/session"
	"bytes"
	"context"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

type Transport interface {
	Send(ctx context.Context, turn relay.Turn) (relay.Response, error)
}

type AttachmentPreparer interface {
	Prepare(f attachment.File) (attachment.File, error)
}

// Requester ведёт диалог со стороны клиента: держит сессию, собирает реплику и обновляет сессию по ответу.
type Requester struct {
	transport    Transport
	session      *session.Session
	classifier   *intent.Classifier
	preparer     AttachmentPreparer
	http         *http.Client
	fetchTimeout time.Duration
	logger       *zap.SugaredLogger
}

func New(transport Transport, sess *session.Session, classifier *intent.Classifier, preparer AttachmentPreparer, httpClient *http.Client, logger *zap.SugaredLogger) *Requester {
	if classifier == nil {
		classifier = intent.New(nil, nil)
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Requester{
		transport:    transport,
		session:      sess,
		classifier:   classifier,
		preparer:     preparer,
		http:         httpClient,
		fetchTimeout: 30 * time.Second,
		logger:       logger,
	}
}

// Session текущая сессия.
func (r *Requester) Session() *session.Session { return r.session }

// RunOnce выполняет одну реплику. attachmentPath: путь к локальному файлу, пусто если вложения нет.
func (r *Requester) RunOnce(ctx context.Context, text, attachmentPath string) (relay.Response, error) {
	history := r.session.History()
	turn := relay.Turn{
		Message:         strings.TrimSpace(text),
		ThreadID:        r.session.ThreadID,
		PromptHistory:   history,
		LastImageURL:    r.session.LastImageURL,
		LastImageBase64: r.session.LastImageBase64,
	}

	// 1. Вложение
	if attachmentPath != "" {
		f, _, err := attachment.EncodeFile(attachmentPath)
		if err != nil {
			return relay.Response{}, err
		}
		if r.preparer != nil {
			if f, err = r.preparer.Prepare(f); err != nil {
				return relay.Response{}, err
			}
		}
		b64, err := attachment.Encode(bytes.NewReader(f.Data))
		if err != nil {
			return relay.Response{}, err
		}
		turn.Attachment, turn.AttachmentName, turn.AttachmentType = b64, f.Name, f.MimeType
	}

	// 2. Реплика
	in := r.classifier.Classify(turn.Message, history)
	r.logger.Infow("Отправка..", "text", turn.Message, "threadId", turn.ThreadID, "imageRequest", in.IsImageRequest, "attachment", turn.AttachmentName)
	resp, err := r.transport.Send(ctx, turn)
	if err != nil {
		return relay.Response{}, err
	}

	// 3. Сессия
	imageURL := ""
	if resp.ImageURL != nil {
		imageURL = *resp.ImageURL
	}
	r.session.ApplyTurn(turn.Message, in, resp.ThreadID, imageURL)
	if imageURL != "" {
		r.session.SetImage(imageURL, r.imageBase64(ctx, imageURL))
	}
	return resp, nil
}

// imageBase64 готовит base64 картинки для следующей правки. Ошибка скачивания не прерывает реплику:
// реле само скачает картинку по URL.
func (r *Requester) imageBase64(ctx context.Context, imageURL string) string {
	if _, b64, ok := attachment.ParseDataURI(imageURL); ok {
		return b64
	}
	ctx, cancel := context.WithTimeout(ctx, r.fetchTimeout)
	defer cancel()
	b64, _, err := attachment.FetchBase64(ctx, r.http, imageURL)
	if err != nil {
		r.logger.Warnw("Не удалось скачать картинку для следующей правки", "url", imageURL, "error", err)
		return ""
	}
	return b64
}

// NewSession начинает новый диалог.
func (r *Requester) NewSession() {
	r.session.Reset()
	r.logger.Infow("Новая сессия")
}
