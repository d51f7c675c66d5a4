package ai

import (
	"net/http"
	"strings"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
)

// ClientOptions параметры подключения к OpenAI.
type ClientOptions struct {
	APIKey     string
	BaseURL    string // пусто: api.openai.com
	HTTPClient *http.Client
	MaxRetries int // 0: значение SDK по умолчанию, <0: без повторов
}

// NewOpenAIClient создаёт клиента SDK. Все клиенты пакета (ассистент, картинки, чат) делят один экземпляр.
func NewOpenAIClient(o ClientOptions) *openai.Client {
	opts := []option.RequestOption{option.WithAPIKey(o.APIKey)}
	if u := strings.TrimSpace(o.BaseURL); u != "" {
		if !strings.HasSuffix(u, "/") {
			u += "/"
		}
		opts = append(opts, option.WithBaseURL(u))
	}
	if o.HTTPClient != nil {
		opts = append(opts, option.WithHTTPClient(o.HTTPClient))
	}
	switch {
	case o.MaxRetries > 0:
		opts = append(opts, option.WithMaxRetries(o.MaxRetries))
	case o.MaxRetries < 0:
		opts = append(opts, option.WithMaxRetries(0))
	}
	c := openai.NewClient(opts...)
	return &c
}
