package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"xiaoshouji/pkg/bot"
	"xiaoshouji/pkg/chat"
	"xiaoshouji/pkg/completion"
	"xiaoshouji/pkg/config"
	"xiaoshouji/pkg/logger"
	"xiaoshouji/pkg/media"
	"xiaoshouji/pkg/pacer"
	"xiaoshouji/pkg/reply"
	"xiaoshouji/pkg/server"
	"xiaoshouji/pkg/store"
	"xiaoshouji/pkg/surreal"
)

func main() {
	// Load config.yml
	cfg, err := config.LoadConfig("config.yml")
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load config")
	}
	logger.Configure(cfg.Logging.Level, cfg.Logging.Pretty)

	// Load .env for secrets
	if err := godotenv.Load(); err != nil {
		log.Info().Msg("No .env file found, relying on environment variables")
	}

	apiKeys := os.Getenv("LLM_API_KEYS")
	if apiKeys == "" {
		log.Fatal().Msg("Missing required environment variable: LLM_API_KEYS")
	}
	baseURL := cfg.ModelSettings.BaseURL
	if v := os.Getenv("LLM_BASE_URL"); v != "" {
		baseURL = v
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM, os.Interrupt)
	defer stop()

	kv, bridge := openStore(ctx, cfg)
	defer kv.Close()

	broker := store.NewBroker()
	repo := store.NewRepository(kv, broker)
	if bridge != nil {
		redisBridge := store.NewRedisBridge(bridge, broker)
		go func() {
			if err := redisBridge.Run(ctx); err != nil {
				log.Error().Err(err).Msg("Redis change bridge stopped")
			}
		}()
	}

	completer := completion.NewClient(apiKeys, completion.Options{
		BaseURL:     baseURL,
		Models:      cfg.ModelSettings.Models,
		Temperature: cfg.ModelSettings.Temperature,
		TopP:        cfg.ModelSettings.TopP,
		MaxTokens:   cfg.ModelSettings.MaxTokens,
		Timeout:     time.Duration(cfg.ModelSettings.TimeoutSeconds) * time.Second,
	})

	model := ""
	if len(cfg.ModelSettings.Models) > 0 {
		model = cfg.ModelSettings.Models[0]
	}

	images := media.NewImageProcessor(media.DefaultOptions)
	svc := chat.NewService(repo, completer, chat.Options{
		History: chat.HistoryWindow{
			MaxMessages: cfg.History.MaxMessages,
			MaxTokens:   cfg.History.MaxTokens,
			Counter:     chat.NewTokenCounter(model),
			Vision:      cfg.ModelSettings.Vision,
		},
		Chunker: reply.Chunker{
			MaxChars:      cfg.Chunking.MaxBubbleChars,
			PackSlack:     cfg.Chunking.PackSlack,
			LongFormChars: cfg.Chunking.LongFormChars,
		},
		Pacer: []pacer.Option{pacer.WithDelay(pacer.DelayConfig{
			CharsPerSecond: cfg.Pacing.CharsPerSecond,
			Thinking:       time.Duration(cfg.Pacing.ThinkingMs) * time.Millisecond,
			MinDelay:       time.Duration(cfg.Pacing.MinDelayMs) * time.Millisecond,
			MaxDelay:       time.Duration(cfg.Pacing.MaxDelayMs) * time.Millisecond,
			MediaDelay:     time.Duration(cfg.Pacing.VoiceDelayMs) * time.Millisecond,
		})},
		Images: images,
	})

	if cfg.Server.Enabled {
		srv := server.New(svc, images)
		go func() {
			if err := srv.Run(ctx, cfg.Server.Addr); err != nil {
				log.Error().Err(err).Msg("HTTP server stopped")
				stop()
			}
		}()
	}

	if token := os.Getenv("DISCORD_TOKEN"); token != "" {
		dg := startDiscord(ctx, token, svc)
		defer dg.Close()
	} else {
		log.Info().Msg("DISCORD_TOKEN not set, Discord frontend disabled")
	}

	log.Info().Msg("Running. Press CTRL-C to exit.")
	<-ctx.Done()
	log.Info().Msg("Shutting down")
}

// openStore returns the configured KV backend, plus the Redis store again
// when cross-process change notification is available.
func openStore(ctx context.Context, cfg *config.Config) (store.KV, *store.RedisKV) {
	switch cfg.Storage.Backend {
	case "redis":
		url := os.Getenv("REDIS_URL")
		if url == "" {
			log.Fatal().Msg("Missing required environment variable: REDIS_URL")
		}
		kv, err := store.NewRedisKV(url, cfg.Storage.Prefix)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to Redis")
		}
		log.Info().Msg("Using Redis storage")
		return kv, kv

	case "surreal":
		host := os.Getenv("SURREAL_DB_HOST")
		if host == "" {
			log.Fatal().Msg("Missing required environment variable: SURREAL_DB_HOST")
		}
		ns := os.Getenv("SURREAL_DB_NAMESPACE")
		if ns == "" {
			ns = "xiaoshouji"
		}
		db := os.Getenv("SURREAL_DB_DATABASE")
		if db == "" {
			db = "phone"
		}
		host = surreal.NormalizeHost(host)

		log.Info().Str("host", host).Str("namespace", ns).Str("database", db).Msg("Connecting to SurrealDB")
		client, err := surreal.NewClient(ctx, host, os.Getenv("SURREAL_DB_USER"), os.Getenv("SURREAL_DB_PASS"), ns, db)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to SurrealDB")
		}
		kv, err := store.NewSurrealKV(ctx, client, cfg.Storage.Table)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to prepare SurrealDB table")
		}
		return kv, nil

	default:
		log.Warn().Msg("Using in-memory storage, nothing survives a restart")
		return store.NewMemoryKV(), nil
	}
}

func startDiscord(ctx context.Context, token string, svc *chat.Service) *discordgo.Session {
	handler := bot.NewHandler(svc)

	dg, err := discordgo.New("Bot " + token)
	if err != nil {
		log.Fatal().Err(err).Msg("Error creating Discord session")
	}
	dg.Identify.Intents = discordgo.IntentsDirectMessages | discordgo.IntentsMessageContent

	dg.AddHandler(handler.MessageCreate)

	if err := dg.Open(); err != nil {
		log.Fatal().Err(err).Msg("Error opening Discord connection")
	}
	handler.SetBotID(dg.State.User.ID)
	go handler.Run(ctx, &bot.DiscordSession{Session: dg})

	log.Info().Str("user", dg.State.User.Username).Msg("Discord frontend connected")
	return dg
}
