package main

import (
	"AssistantRelay/internal/adapter/relayclient"
	"AssistantRelay/internal/app/requester"
	"AssistantRelay/internal/attachment"
	"AssistantRelay/internal/config"
	"AssistantRelay/internal/intent"
	"AssistantRelay/internal/service/image"
	"AssistantRelay/internal/service/relay"
	"AssistantRelay/internal/service/session"
	"bufio"
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"
)

type transport interface {
	requester.Transport
	Close() error
}

func main() {
	cfg := config.NewConfig()

	// создаём предустановленный регистратор zap
	newLogger := zap.NewProduction
	if cfg.DebugMode {
		newLogger = zap.NewDevelopment
	}
	logger, err := newLogger()
	if err != nil {
		panic(err)
	}
	sugar := logger.Sugar()
	//сброс буфера логгера
	defer func() {
		if err := logger.Sync(); err != nil {
			sugar.Debugw("Failed to sync logger", "error", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	httpClient := &http.Client{Timeout: 3 * time.Minute}
	httpTransport := relayclient.NewHTTP(cfg.Client.RelayURL, httpClient, sugar)

	var tr transport = httpTransport
	if cfg.Client.Transport == "ws" {
		ws, err := relayclient.DialWS(ctx, cfg.Client.RelayURL, sugar)
		if err != nil {
			sugar.Errorw("Failed to connect to relay", "url", cfg.Client.RelayURL, "error", err)
			return
		}
		tr = ws
	}
	defer func() { _ = tr.Close() }()

	// Чистим старые картинки при старте
	ttl := time.Duration(cfg.Client.ImagesTTLSeconds) * time.Second
	image.NewCleaner(sugar).Clean(cfg.Client.ImagesOutputDir, ttl, cfg.DebugMode)
	store := image.NewStore(cfg.Client.ImagesOutputDir)

	req := requester.New(
		tr,
		session.New(cfg.Client.MaxHistory),
		intent.New(cfg.Intent.DirectKeywords, cfg.Intent.EditKeywords),
		image.NewProcessor(cfg.Client.AttachmentMaxWidth, cfg.Client.AttachmentMaxBytes),
		&http.Client{Timeout: cfg.FetchTimeout},
		sugar,
	)

	sugar.Infow("Starting chat", "relay", cfg.Client.RelayURL, "transport", cfg.Client.Transport)
	fmt.Println("Команды: /attach <путь>: вложение к следующей реплике, /image <промпт>: картинка без ассистента, /new: новая сессия, /quit: выход")

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	var pending string
	for {
		fmt.Print("> ")
		var line string
		select {
		case <-ctx.Done():
			fmt.Println()
			return
		case l, ok := <-lines:
			if !ok {
				return
			}
			line = strings.TrimSpace(l)
		}

		cmd, arg, _ := strings.Cut(line, " ")
		arg = strings.TrimSpace(arg)
		switch cmd {
		case "":
			continue
		case "/quit", "/exit":
			return
		case "/new":
			req.NewSession()
			pending = ""
			continue
		case "/attach":
			if _, err := os.Stat(arg); err != nil {
				fmt.Printf("Не удалось открыть вложение: %v\n", err)
				continue
			}
			pending = arg
			fmt.Printf("Вложение %s будет отправлено со следующей репликой\n", arg)
			continue
		case "/image":
			generateImage(ctx, httpTransport, req.Session(), store, arg, sugar)
			continue
		}

		resp, err := req.RunOnce(ctx, line, pending)
		pending = ""
		if err != nil {
			printError(err)
			continue
		}
		if resp.Text != nil {
			fmt.Println(*resp.Text)
		}
		if resp.ImageURL != nil {
			showImage(store, *resp.ImageURL, req.Session().LastImageBase64, sugar)
		}
	}
}

// generateImage вызывает /api/generate-image с текущей историей правок.
func generateImage(ctx context.Context, c *relayclient.HTTPClient, sess *session.Session, store *image.Store, prompt string, logger *zap.SugaredLogger) {
	url, err := c.GenerateImage(ctx, relay.ImageRequest{
		Message:         prompt,
		PromptHistory:   sess.History(),
		LastImageURL:    sess.LastImageURL,
		LastImageBase64: sess.LastImageBase64,
	})
	if err != nil {
		printError(err)
		return
	}
	showImage(store, url, "", logger)
}

// showImage сохраняет картинку локально, если есть её байты, иначе печатает ссылку.
func showImage(store *image.Store, url, b64 string, logger *zap.SugaredLogger) {
	mimeType := ""
	if m, data, ok := attachment.ParseDataURI(url); ok {
		mimeType, b64 = m, data
	}
	if b64 == "" {
		fmt.Printf("Картинка: %s\n", url)
		return
	}
	path, err := store.SaveBase64(b64, mimeType)
	if err != nil {
		logger.Warnw("Не удалось сохранить картинку", "error", err)
		fmt.Printf("Картинка: %s\n", url)
		return
	}
	fmt.Printf("Картинка сохранена: %s\n", path)
}

func printError(err error) {
	var relayErr *relayclient.Error
	if errors.As(err, &relayErr) {
		fmt.Printf("Ошибка реле (%d): %s\n", relayErr.Status, relayErr.Message)
		return
	}
	fmt.Printf("Ошибка: %v\n", err)
}
