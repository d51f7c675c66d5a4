package config

import (
	"flag"
	"strings"
	"time"

	"github.com/caarlos0/env/v6"
	"github.com/joho/godotenv"
)

type Config struct {
	DebugMode bool `env:"DEBUG_MODE"` //Режим дебага
	Stub      bool `env:"RELAY_STUB"` // Офлайн-режим реле без обращений к OpenAI

	OpenAI OpenAIConfig
	Server ServerConfig
	Image  ImageConfig
	Chat   ChatConfig
	Intent IntentConfig
	Client ClientConfig

	FetchTimeout time.Duration `env:"FETCH_TIMEOUT"` // Таймаут скачивания предыдущей картинки
}

// OpenAIConfig доступ к OpenAI и параметры опроса Run.
type OpenAIConfig struct {
	APIKey          string        `env:"OPENAI_API_KEY"`
	AssistantID     string        `env:"OPENAI_ASSISTANT_ID"`
	BaseURL         string        `env:"OPENAI_BASE_URL"`   // Пусто: api.openai.com
	PollInterval    time.Duration `env:"POLL_INTERVAL"`     // Пауза между проверками статуса Run
	PollMaxAttempts int           `env:"POLL_MAX_ATTEMPTS"` // Максимум проверок статуса
}

// ServerConfig HTTP-граница реле.
type ServerConfig struct {
	BindAddr          string `env:"RELAY_BIND_ADDR"`       // Адрес слушателя, напр. 127.0.0.1:8888
	AllowedOrigin     string `env:"RELAY_ALLOWED_ORIGIN"`  // Значение Access-Control-Allow-Origin
	MaxBodyBytes      int64  `env:"RELAY_MAX_BODY_BYTES"`  // Лимит тела запроса (вложения приходят в base64)
	RatePerMinute     int    `env:"RELAY_RATE_PER_MINUTE"` // Запросов в минуту с одного IP, 0: без ограничения
	ImageCacheSeconds int    `env:"IMAGE_CACHE_SECONDS"`   // max-age для /api/image
}

// ImageConfig запасная генерация картинок.
type ImageConfig struct {
	Model string `env:"IMAGE_MODEL"`
	Size  string `env:"IMAGE_SIZE"`
}

// ChatConfig обычный чат (/api/chat).
type ChatConfig struct {
	Model       string  `env:"CHAT_MODEL"`
	Temperature float64 `env:"CHAT_TEMPERATURE"`
}

// IntentConfig списки ключевых слов классификатора.
type IntentConfig struct {
	DirectKeywords []string `env:"IMAGE_DIRECT_KEYWORDS" envSeparator:";"` // Прямой запрос картинки
	EditKeywords   []string `env:"IMAGE_EDIT_KEYWORDS" envSeparator:";"`   // Правка предыдущей картинки
}

// ClientConfig терминальный клиент (cmd/chat).
type ClientConfig struct {
	RelayURL           string `env:"RELAY_URL"`            // Базовый адрес реле
	Transport          string `env:"RELAY_TRANSPORT"`      // http|ws
	ImagesOutputDir    string `env:"IMAGES_OUTPUT_DIR"`    // Куда сохранять полученные картинки
	ImagesTTLSeconds   int    `env:"IMAGES_TTL_SECONDS"`   // Сохранённые картинки старше TTL удаляются
	AttachmentMaxWidth int    `env:"ATTACHMENT_MAX_WIDTH"` // Картинки шире уменьшаются перед отправкой
	AttachmentMaxBytes int    `env:"ATTACHMENT_MAX_BYTES"` // Картинки тяжелее перекодируются в JPEG
	MaxHistory         int    `env:"MAX_PROMPT_HISTORY"`   // Максимум промптов в цепочке правок, 0: без ограничения
}

// Defaults возвращает конфигурацию с предустановленными значениями по умолчанию.
// Эти значения перекрываются .env, переменными окружения и флагами CLI.
func Defaults() *Config {
	return &Config{
		DebugMode: false,
		OpenAI: OpenAIConfig{
			PollInterval:    time.Second,
			PollMaxAttempts: 30,
		},
		Server: ServerConfig{
			BindAddr:          "127.0.0.1:8888",
			AllowedOrigin:     "*",
			MaxBodyBytes:      25 << 20,
			RatePerMinute:     30,
			ImageCacheSeconds: 86400,
		},
		Image: ImageConfig{
			Model: "gpt-image-1",
			Size:  "1024x1024",
		},
		Chat: ChatConfig{
			Model:       "gpt-4o",
			Temperature: 0.7,
		},
		FetchTimeout: 30 * time.Second,
		Client: ClientConfig{
			RelayURL:           "http://127.0.0.1:8888",
			Transport:          "http",
			ImagesOutputDir:    "images/received",
			ImagesTTLSeconds:   86400,
			AttachmentMaxWidth: 1536,
			AttachmentMaxBytes: 4 << 20,
			MaxHistory:         0,
		},
	}
}

// NewConfig загружает конфигурацию приложения.
func NewConfig() *Config {
	_ = godotenv.Load()

	// Стартуем с дефолтов, затем перекрываем .env/окружением и флагами
	cfg := Defaults()
	_ = env.Parse(cfg)

	flag.BoolVar(&cfg.DebugMode, "debug-mode", cfg.DebugMode, "включить режим дебага для отображения доп инфы")
	flag.BoolVar(&cfg.Stub, "stub", cfg.Stub, "запустить реле без обращений к OpenAI (заглушка)")
	// OpenAI
	flag.StringVar(&cfg.OpenAI.AssistantID, "assistant-id", cfg.OpenAI.AssistantID, "id ассистента OpenAI (перекрывает ENV)")
	flag.StringVar(&cfg.OpenAI.BaseURL, "openai-base-url", cfg.OpenAI.BaseURL, "базовый URL OpenAI API")
	flag.DurationVar(&cfg.OpenAI.PollInterval, "poll-interval", cfg.OpenAI.PollInterval, "пауза между проверками статуса Run, напр. 1s")
	flag.IntVar(&cfg.OpenAI.PollMaxAttempts, "poll-max-attempts", cfg.OpenAI.PollMaxAttempts, "максимум проверок статуса Run")
	// Сервер
	flag.StringVar(&cfg.Server.BindAddr, "bind-addr", cfg.Server.BindAddr, "адрес для прослушивания реле (напр. 127.0.0.1:8888)")
	flag.StringVar(&cfg.Server.AllowedOrigin, "allowed-origin", cfg.Server.AllowedOrigin, "значение Access-Control-Allow-Origin")
	flag.Int64Var(&cfg.Server.MaxBodyBytes, "max-body-bytes", cfg.Server.MaxBodyBytes, "лимит тела запроса в байтах")
	flag.IntVar(&cfg.Server.RatePerMinute, "rate-per-minute", cfg.Server.RatePerMinute, "запросов в минуту с одного IP, 0: без ограничения")
	flag.IntVar(&cfg.Server.ImageCacheSeconds, "image-cache-seconds", cfg.Server.ImageCacheSeconds, "max-age для прокси картинок")
	// Картинки и чат
	flag.StringVar(&cfg.Image.Model, "image-model", cfg.Image.Model, "модель генерации картинок")
	flag.StringVar(&cfg.Image.Size, "image-size", cfg.Image.Size, "размер генерируемой картинки, напр. 1024x1024")
	flag.StringVar(&cfg.Chat.Model, "chat-model", cfg.Chat.Model, "модель для /api/chat")
	flag.Float64Var(&cfg.Chat.Temperature, "chat-temperature", cfg.Chat.Temperature, "temperature для /api/chat")
	flag.DurationVar(&cfg.FetchTimeout, "fetch-timeout", cfg.FetchTimeout, "таймаут скачивания предыдущей картинки")
	// Принимаем списки ключевых слов одной строкой, разделённой ';'
	directFlag := strings.Join(cfg.Intent.DirectKeywords, ";")
	flag.StringVar(&directFlag, "image-direct-keywords", directFlag, "ключевые слова прямого запроса картинки, разделённые ';'")
	editFlag := strings.Join(cfg.Intent.EditKeywords, ";")
	flag.StringVar(&editFlag, "image-edit-keywords", editFlag, "ключевые слова правки картинки, разделённые ';'")
	// Клиент
	flag.StringVar(&cfg.Client.RelayURL, "relay-url", cfg.Client.RelayURL, "адрес реле для клиента")
	flag.StringVar(&cfg.Client.Transport, "transport", cfg.Client.Transport, "транспорт клиента: http|ws")
	flag.StringVar(&cfg.Client.ImagesOutputDir, "images-output-dir", cfg.Client.ImagesOutputDir, "папка для полученных картинок")
	flag.IntVar(&cfg.Client.ImagesTTLSeconds, "images-ttl-seconds", cfg.Client.ImagesTTLSeconds, "время, через которое картинки считаются старыми и их надо удалить, в секундах")
	flag.IntVar(&cfg.Client.AttachmentMaxWidth, "attachment-max-width", cfg.Client.AttachmentMaxWidth, "максимальная ширина картинки-вложения")
	flag.IntVar(&cfg.Client.AttachmentMaxBytes, "attachment-max-bytes", cfg.Client.AttachmentMaxBytes, "максимальный размер картинки-вложения в байтах")
	flag.IntVar(&cfg.Client.MaxHistory, "max-prompt-history", cfg.Client.MaxHistory, "максимум промптов в цепочке правок")
	flag.Parse()

	// Пустой список: дефолты классификатора
	cfg.Intent.DirectKeywords = parseListFlag(directFlag, nil)
	cfg.Intent.EditKeywords = parseListFlag(editFlag, nil)

	return cfg
}

// parseListFlag разбирает значение флага со списком, разделённым ';'
func parseListFlag(v string, def []string) []string {
	// Пустая строка → дефолт
	if v == "" {
		return def
	}
	parts := strings.Split(v, ";")
	cleaned := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			cleaned = append(cleaned, p)
		}
	}
	if len(cleaned) == 0 {
		return def
	}
	return cleaned
}
