package main

import (
	"AssistantRelay/internal/ai"
	"AssistantRelay/internal/config"
	"AssistantRelay/internal/intent"
	"AssistantRelay/internal/server"
	"AssistantRelay/internal/service/relay"
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
)

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

	sugar.Infow(
		"Starting relay",
		"DebugMode", cfg.DebugMode,
		"Stub", cfg.Stub,
		"BindAddr", cfg.Server.BindAddr,
		"ImageModel", cfg.Image.Model,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	classifier := intent.New(cfg.Intent.DirectKeywords, cfg.Intent.EditKeywords)
	creds := cfg.OpenAI
	var deps server.Deps

	if cfg.Stub {
		// Заглушка отвечает сама, ключи не нужны
		stub := ai.NewStubAssistant()
		deps.Relay = relay.New(stub, stub, stub, classifier, sugar)
		creds.APIKey, creds.AssistantID = "stub", "stub"
	} else {
		if creds.APIKey == "" || creds.AssistantID == "" {
			sugar.Warnw("OpenAI credentials are not set, assistant requests will fail", "hasKey", creds.APIKey != "", "hasAssistant", creds.AssistantID != "")
		}
		client := ai.NewOpenAIClient(ai.ClientOptions{APIKey: creds.APIKey, BaseURL: creds.BaseURL})
		assistants := ai.NewAssistantsClient(client, ai.AssistantsConfig{
			AssistantID:  creds.AssistantID,
			PollInterval: creds.PollInterval,
			MaxAttempts:  creds.PollMaxAttempts,
		}, sugar)
		images := ai.NewImageClient(client, &http.Client{Timeout: cfg.FetchTimeout}, classifier, ai.ImageConfig{
			Model: cfg.Image.Model,
			Size:  cfg.Image.Size,
		}, sugar)

		deps.Relay = relay.New(assistants, assistants, images, classifier, sugar)
		deps.Files = assistants
		deps.Chat = ai.NewTextClient(client, cfg.Chat.Model, cfg.Chat.Temperature)
	}

	srv := server.New(cfg.Server, creds, deps, sugar)
	if err := srv.Run(ctx); err != nil {
		sugar.Errorw("Relay failed", "error", err)
		return
	}
	sugar.Infow("Relay exited")
}
