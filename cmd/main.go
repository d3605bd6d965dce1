package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go-v2/config"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awsssm "github.com/aws/aws-sdk-go-v2/service/ssm"

	"collections-agent/handler"
	"collections-agent/internal/agentconfig"
	"collections-agent/internal/domain"
	"collections-agent/internal/integrations/elevenlabs"
	"collections-agent/internal/integrations/openai"
	"collections-agent/internal/integrations/paramstore"
	"collections-agent/internal/integrations/relay"
	"collections-agent/internal/poller"
	"collections-agent/internal/repository"
	"collections-agent/internal/usecase"
)

func main() {
	ctx := context.Background()

	// ---- Configuration (read only here) ----
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel(os.Getenv("LOG_LEVEL"))})))

	paramPrefix := mustEnv("PARAM_PREFIX")
	historyTable := os.Getenv("HISTORY_TABLE")
	relayURL := envString("RELAY_URL", relay.DefaultURL)
	settingsFile := os.Getenv("AGENT_SETTINGS_FILE")
	listenAddr := envString("LISTEN_ADDR", ":8080")
	pollCfg := poller.Config{
		Interval:  envDuration("POLL_INTERVAL", poller.DefaultInterval),
		Timeout:   envDuration("POLL_TIMEOUT", poller.DefaultTimeout),
		PageSize:  envInt("POLL_PAGE_SIZE", poller.DefaultPageSize),
		MaxActive: envInt("MAX_ACTIVE_CALLS", 0),
	}
	pollCfg.OnComplete = func(customerID string, s domain.ConversationSummary) {
		slog.Info("conversation summarized", "customer_id", customerID, "outcome", string(s.Outcome))
	}

	// ---- AWS SDK config ----
	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		fatal("failed to load AWS config", err)
	}

	// ---- Clients ----
	ssmClient, err := paramstore.New(awsssm.NewFromConfig(cfg))
	if err != nil {
		fatal("failed to create SSM client", err)
	}

	var history repository.HistoryStore
	if historyTable != "" {
		history, err = repository.New(awsdynamodb.NewFromConfig(cfg), historyTable)
		if err != nil {
			fatal("failed to create history client", err)
		}
	} else {
		slog.Warn("HISTORY_TABLE not set, conversation history is kept in memory")
		history = repository.NewMemory()
	}

	settings := agentconfig.Defaults()
	if settingsFile != "" {
		settings, err = agentconfig.Load(settingsFile)
		if err != nil {
			fatal("failed to load agent settings", err)
		}
	}
	settingsStore, err := agentconfig.NewStore(settings)
	if err != nil {
		fatal("invalid agent settings", err)
	}

	openaiClient, err := openai.NewClient(ssmClient, paramPrefix)
	if err != nil {
		fatal("failed to create OpenAI client", err)
	}
	voiceClient, err := elevenlabs.NewClient(ssmClient, paramPrefix)
	if err != nil {
		fatal("failed to create ElevenLabs client", err)
	}
	relayClient, err := relay.NewClient(relayURL)
	if err != nil {
		fatal("failed to create relay client", err)
	}

	// ---- Services ----
	summarizer, err := usecase.NewSummarizeService(ssmClient, openaiClient, paramPrefix)
	if err != nil {
		fatal("failed to create summarize service", err)
	}
	manager, err := poller.New(voiceClient, summarizer, history, pollCfg)
	if err != nil {
		fatal("failed to create session manager", err)
	}
	defer manager.Close()

	callService, err := usecase.NewCallService(relayClient, manager, settingsStore, history, openaiClient, usecase.CallServiceConfig{})
	if err != nil {
		fatal("failed to create call service", err)
	}
	analyzeService, err := usecase.NewAnalyzeService(ssmClient, openaiClient, paramPrefix)
	if err != nil {
		fatal("failed to create analyze service", err)
	}

	// ---- Handler ----
	h, err := handler.NewHandler(callService, analyzeService, settingsStore, slog.Default())
	if err != nil {
		fatal("failed to create handler", err)
	}

	if os.Getenv("AWS_LAMBDA_RUNTIME_API") != "" {
		lambda.Start(h.Handle)
		return
	}
	serve(listenAddr, h)
}

func serve(addr string, h http.Handler) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("http shutdown", "err", err)
		}
	}()

	slog.Info("listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("http server failed", "err", err)
	}
}

func fatal(msg string, err error) {
	slog.Error(msg, "err", err)
	os.Exit(1)
}

func mustEnv(key string) string {
	v := os.Getenv(key)
	if v == "" {
		slog.Error("required environment variable is not set", "key", key)
		os.Exit(1)
	}
	return v
}

func envString(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func envDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		slog.Warn("invalid duration, using default", "key", key, "value", v)
		return def
	}
	return d
}

func logLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
