package ai

import (
	"AssistantRelay/internal/attachment"
	"cmp"
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"slices"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

// ContentPart: элемент контента сообщения ассистента: TextPart | InlineImagePart | ImageURLPart | UnknownPart.
type ContentPart interface {
	contentPart()
}

// TextPart текстовый фрагмент.
type TextPart struct{ Value string }

// InlineImagePart картинка, встроенная ссылкой на внутренний файл OpenAI.
type InlineImagePart struct{ FileID string }

// ImageURLPart картинка по публичному URL.
type ImageURLPart struct{ URL string }

// UnknownPart всё, что реле не понимает.
type UnknownPart struct{ Type string }

func (TextPart) contentPart()        {}
func (InlineImagePart) contentPart() {}
func (ImageURLPart) contentPart()    {}
func (UnknownPart) contentPart()     {}

// FileRef вложение сообщения. ContentType может быть пустым.
type FileRef struct {
	ID          string
	ContentType string
	Filename    string
}

// IsImage: объявленный (или выведенный из имени файла) тип начинается с image/.
func (f FileRef) IsImage() bool {
	ct := f.ContentType
	if ct == "" && f.Filename != "" {
		ct = attachment.DetectMime(f.Filename, nil)
	}
	return strings.HasPrefix(strings.ToLower(ct), "image/")
}

// Message сообщение thread в нормализованном виде.
type Message struct {
	ID          string
	Role        string
	CreatedAt   int64
	Content     []ContentPart
	Attachments []FileRef
}

// ImageKind вид ссылки на картинку.
type ImageKind string

const (
	ImageInlineFile ImageKind = "inline_file"
	ImageURL        ImageKind = "url"
)

// ImageRef ссылка на картинку до разрешения.
type ImageRef struct {
	Kind  ImageKind
	Value string
}

// ExtractedResult итог разбора ответа. ImageURL всегда пригоден для показа: URL или data URI.
type ExtractedResult struct {
	Text       string
	Image      *ImageRef
	ImageURL   string
	SandboxRef bool // ассистент сослался на sandbox-картинку, которую не смог отдать
}

var (
	sandboxMarkdownRe = regexp.MustCompile(`!\[.*?\]\(sandbox:.*?\)`)
	sandboxImageRe    = regexp.MustCompile(`(?i)sandbox:.*?\.(png|jpg|jpeg)`)
)

// ParseMessages разбирает ответ GET threads/{id}/messages. Форма контента у разных версий API
// отличается, поэтому разбор терпимый: незнакомые части становятся UnknownPart.
func ParseMessages(raw []byte) []Message {
	data := gjson.GetBytes(raw, "data")
	if !data.IsArray() {
		return nil
	}
	out := make([]Message, 0, len(data.Array()))
	data.ForEach(func(_, m gjson.Result) bool {
		msg := Message{
			ID:        m.Get("id").String(),
			Role:      m.Get("role").String(),
			CreatedAt: m.Get("created_at").Int(),
		}
		m.Get("content").ForEach(func(_, p gjson.Result) bool {
			msg.Content = append(msg.Content, parsePart(p))
			return true
		})
		msg.Attachments = parseAttachments(m)
		out = append(out, msg)
		return true
	})
	return out
}

func parsePart(p gjson.Result) ContentPart {
	switch t := p.Get("type").String(); t {
	case "text":
		if v := p.Get("text.value"); v.Exists() {
			return TextPart{Value: v.String()}
		}
		return TextPart{Value: p.Get("text").String()}
	case "image_file":
		if id := p.Get("image_file.file_id").String(); id != "" {
			return InlineImagePart{FileID: id}
		}
		return UnknownPart{Type: t}
	case "image_url":
		if u := p.Get("image_url.url").String(); u != "" {
			return ImageURLPart{URL: u}
		}
		return UnknownPart{Type: t}
	default:
		return UnknownPart{Type: t}
	}
}

// parseAttachments собирает файлы из attachments (v2), files и file_ids (старые варианты).
func parseAttachments(m gjson.Result) []FileRef {
	var refs []FileRef
	m.Get("attachments").ForEach(func(_, a gjson.Result) bool {
		if id := a.Get("file_id").String(); id != "" {
			refs = append(refs, FileRef{ID: id, ContentType: a.Get("content_type").String(), Filename: a.Get("filename").String()})
		}
		return true
	})
	m.Get("files").ForEach(func(_, f gjson.Result) bool {
		id := f.Get("id").String()
		if id == "" {
			id = f.Get("file_id").String()
		}
		if id == "" {
			return true
		}
		ct := f.Get("content_type").String()
		if ct == "" {
			ct = f.Get("mime_type").String()
		}
		refs = append(refs, FileRef{ID: id, ContentType: ct, Filename: f.Get("filename").String()})
		return true
	})
	m.Get("file_ids").ForEach(func(_, id gjson.Result) bool {
		if id.String() != "" {
			refs = append(refs, FileRef{ID: id.String()})
		}
		return true
	})
	return refs
}

// SelectLatest выбирает самое новое сообщение ассистента с непустым контентом.
// Сортировка стабильная, поэтому при равных created_at порядок детерминирован.
func SelectLatest(msgs []Message) (Message, bool) {
	candidates := make([]Message, 0, len(msgs))
	for _, m := range msgs {
		if m.Role == "assistant" && len(m.Content) > 0 {
			candidates = append(candidates, m)
		}
	}
	if len(candidates) == 0 {
		return Message{}, false
	}
	slices.SortStableFunc(candidates, func(a, b Message) int { // по убыванию времени
		return -cmp.Compare(a.CreatedAt, b.CreatedAt)
	})
	return candidates[0], true
}

// Pick достаёт текст и ссылку на картинку: сначала встроенная картинка, затем первое вложение-картинка.
func Pick(m Message) (string, *ImageRef) {
	text := ""
	textFound := false
	var ref *ImageRef
	for _, part := range m.Content {
		switch p := part.(type) {
		case TextPart:
			if !textFound {
				text, textFound = p.Value, true
			}
		case InlineImagePart:
			if ref == nil {
				ref = &ImageRef{Kind: ImageInlineFile, Value: p.FileID}
			}
		case ImageURLPart:
			if ref == nil {
				ref = &ImageRef{Kind: ImageURL, Value: p.URL}
			}
		}
	}
	if ref == nil {
		for _, a := range m.Attachments {
			if a.IsImage() {
				ref = &ImageRef{Kind: ImageInlineFile, Value: a.ID}
				break
			}
		}
	}
	return text, ref
}

// CleanSandboxText убирает markdown-ссылки на sandbox-картинки и сообщает, были ли такие ссылки.
func CleanSandboxText(text string) (string, bool) {
	hadRef := sandboxImageRe.MatchString(text)
	return strings.TrimSpace(sandboxMarkdownRe.ReplaceAllString(text, "")), hadRef
}

// Extract читает сообщения thread и формирует результат реплики.
// Любая ошибка получения сообщений или файла: ExtractionError, частичный результат не возвращается.
func (c *AssistantsClient) Extract(ctx context.Context, threadID string) (ExtractedResult, error) {
	var raw []byte
	start := time.Now()
	if err := c.client.Get(ctx, fmt.Sprintf("threads/%s/messages", threadID), nil, &raw, betaHeader); err != nil {
		return ExtractedResult{}, newError(KindExtraction, err)
	}

	msg, ok := SelectLatest(ParseMessages(raw))
	if !ok {
		return ExtractedResult{}, &Error{Kind: KindExtraction, Status: http.StatusBadRequest, Msg: "No assistant response found"}
	}

	text, ref := Pick(msg)
	res := ExtractedResult{Text: text, Image: ref}
	if ref != nil {
		switch ref.Kind {
		case ImageURL:
			res.ImageURL = ref.Value
		case ImageInlineFile:
			dataURI, err := c.FileDataURI(ctx, ref.Value)
			if err != nil {
				return ExtractedResult{}, err
			}
			res.ImageURL = dataURI
		}
	}

	if res.ImageURL == "" && res.Text != "" {
		res.Text, res.SandboxRef = CleanSandboxText(res.Text)
	}

	c.logger.Infow("Assistant response extracted",
		"threadId", threadID,
		"messageId", msg.ID,
		"hasText", res.Text != "",
		"hasImage", res.ImageURL != "",
		"sandboxRef", res.SandboxRef,
		"duration", time.Since(start).String(),
	)
	return res, nil
}

// FileDataURI скачивает файл OpenAI и перекодирует его в data URI.
func (c *AssistantsClient) FileDataURI(ctx context.Context, fileID string) (string, error) {
	data, contentType, err := c.FileContent(ctx, fileID)
	if err != nil {
		return "", err
	}
	if !strings.HasPrefix(contentType, "image/") {
		contentType = "image/png"
	}
	return attachment.DataURI(contentType, base64.StdEncoding.EncodeToString(data)), nil
}

// FileContent возвращает байты файла и его исходный тип. Без заголовка тип определяется по содержимому.
func (c *AssistantsClient) FileContent(ctx context.Context, fileID string) ([]byte, string, error) {
	resp, err := c.client.Files.Content(ctx, fileID)
	if err != nil {
		return nil, "", newError(KindExtraction, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", &Error{Kind: KindExtraction, Err: fmt.Errorf("read file %s: %w", fileID, err)}
	}
	contentType, _, _ := strings.Cut(resp.Header.Get("Content-Type"), ";")
	contentType = strings.TrimSpace(contentType)
	if contentType == "" || contentType == "application/octet-stream" || contentType == "application/binary" {
		contentType = attachment.DetectMime("", data)
	}
	return data, contentType, nil
}
