// Command chatflow runs the WhatsApp wellness-companion service: a webhook
// pipeline that anonymizes inbound contacts, stores their conversations,
// and answers through a configured language model.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"gopkg.in/yaml.v3"

	"github.com/dadabora/chatflow/internal/api"
	"github.com/dadabora/chatflow/internal/genai"
	"github.com/dadabora/chatflow/internal/history"
	"github.com/dadabora/chatflow/internal/lockfile"
	"github.com/dadabora/chatflow/internal/models"
	"github.com/dadabora/chatflow/internal/ratelimit"
	"github.com/dadabora/chatflow/internal/store"
	"github.com/dadabora/chatflow/internal/util"
)

// Default configuration constants
const (
	// DefaultStateDir is the default directory for chatflow state data
	DefaultStateDir = "/var/lib/chatflow"
	// DefaultDBFileName is the default SQLite database filename
	DefaultDBFileName = "chatflow.db"
	// DefaultAPIAddr is the default API listen address
	DefaultAPIAddr = ":8080"
)

func main() {
	config := loadEnvironmentConfig()
	initializeLogger(config.Debug)

	flags := parseCommandLineFlags(config)

	// SQLite has a single writer, so a second instance sharing the state
	// directory must fail fast.
	if store.DetectDSNType(*flags.dbDSN) == "sqlite" {
		lock, err := lockfile.Acquire(*flags.stateDir)
		if err != nil {
			slog.Error("Failed to lock state directory", "error", err)
			os.Exit(1)
		}
		defer lock.Release()
	}

	st, err := openStore(flags)
	if err != nil {
		slog.Error("Failed to open store", "error", err)
		os.Exit(1)
	}
	defer st.Close()

	if *flags.configFile != "" {
		if err := seedIntegrations(st, *flags.configFile); err != nil {
			slog.Error("Failed to apply integration config file", "path", *flags.configFile, "error", err)
			os.Exit(1)
		}
	}

	limiter := buildLimiter(flags)
	generator := genai.NewGenerator(st)
	server := api.NewServer(st, limiter, generator,
		api.WithAddr(*flags.apiAddr),
		api.WithAdminToken(*flags.adminToken),
		api.WithPublicBaseURL(*flags.publicBaseURL),
		api.WithHistoryWindow(*flags.historyWindow),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	slog.Info("Bootstrapping chatflow",
		"api_addr", *flags.apiAddr,
		"dsn_set", *flags.dbDSN != "",
		"redis_set", *flags.redisAddr != "",
		"admin_token_set", *flags.adminToken != "")
	if err := server.Run(ctx); err != nil {
		slog.Error("chatflow failed to run", "error", err)
		os.Exit(1)
	}
	slog.Info("chatflow exited successfully")
}

// Config holds environment configuration
type Config struct {
	DatabaseURL   string
	StateDir      string
	APIAddr       string
	AdminToken    string
	PublicBaseURL string
	RedisAddr     string
	RedisPassword string
	ConfigFile    string
	HistoryWindow int
	Debug         bool
}

// Flags holds command line flag values
type Flags struct {
	stateDir      *string
	dbDSN         *string
	apiAddr       *string
	adminToken    *string
	publicBaseURL *string
	redisAddr     *string
	redisPassword *string
	configFile    *string
	historyWindow *int
}

func initializeLogger(debug bool) {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
}

// loadEnvironmentConfig loads configuration from environment variables and .env file
func loadEnvironmentConfig() Config {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	}

	config := Config{
		DatabaseURL:   os.Getenv("DATABASE_URL"),
		StateDir:      os.Getenv("CHATFLOW_STATE_DIR"),
		APIAddr:       os.Getenv("API_ADDR"),
		AdminToken:    os.Getenv("ADMIN_TOKEN"),
		PublicBaseURL: os.Getenv("PUBLIC_BASE_URL"),
		RedisAddr:     os.Getenv("REDIS_ADDR"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		ConfigFile:    os.Getenv("CHATFLOW_CONFIG"),
		HistoryWindow: util.ParseIntEnv("HISTORY_WINDOW", history.DefaultWindow),
		Debug:         util.ParseBoolEnv("CHATFLOW_DEBUG", false),
	}

	if config.StateDir == "" {
		config.StateDir = DefaultStateDir
	}
	if config.APIAddr == "" {
		config.APIAddr = DefaultAPIAddr
	}
	// No database URL means SQLite in the state directory.
	if config.DatabaseURL == "" {
		config.DatabaseURL = filepath.Join(config.StateDir, DefaultDBFileName)
	}

	return config
}

// parseCommandLineFlags parses command line arguments with environment defaults
func parseCommandLineFlags(config Config) Flags {
	flags := Flags{
		stateDir:      flag.String("state-dir", config.StateDir, "state directory for chatflow data (overrides $CHATFLOW_STATE_DIR)"),
		dbDSN:         flag.String("db-dsn", config.DatabaseURL, "database DSN, PostgreSQL URL or SQLite path (overrides $DATABASE_URL)"),
		apiAddr:       flag.String("api-addr", config.APIAddr, "API server address (overrides $API_ADDR)"),
		adminToken:    flag.String("admin-token", config.AdminToken, "bearer token for admin endpoints (overrides $ADMIN_TOKEN)"),
		publicBaseURL: flag.String("public-base-url", config.PublicBaseURL, "externally visible base URL for webhook signature validation (overrides $PUBLIC_BASE_URL)"),
		redisAddr:     flag.String("redis-addr", config.RedisAddr, "Redis address for shared rate limiting (overrides $REDIS_ADDR)"),
		redisPassword: flag.String("redis-password", config.RedisPassword, "Redis password (overrides $REDIS_PASSWORD)"),
		configFile:    flag.String("config", config.ConfigFile, "YAML file with integration settings to apply on startup (overrides $CHATFLOW_CONFIG)"),
		historyWindow: flag.Int("history-window", config.HistoryWindow, "number of recent messages in the model context window (overrides $HISTORY_WINDOW)"),
	}
	flag.Parse()
	return flags
}

// openStore selects a backend from the DSN shape.
func openStore(flags Flags) (store.Store, error) {
	dsn := *flags.dbDSN
	switch store.DetectDSNType(dsn) {
	case "postgres":
		slog.Info("Using PostgreSQL store")
		return store.NewPostgresStore(store.WithPostgresDSN(dsn))
	default:
		slog.Info("Using SQLite store", "path", dsn)
		return store.NewSQLiteStore(store.WithSQLiteDSN(dsn))
	}
}

// buildLimiter prefers Redis when configured so limits hold across
// replicas, otherwise counts in process memory.
func buildLimiter(flags Flags) ratelimit.Limiter {
	if *flags.redisAddr == "" {
		slog.Info("Using in-memory rate limiter")
		return ratelimit.NewInMemoryLimiter()
	}
	client := redis.NewClient(&redis.Options{
		Addr:     *flags.redisAddr,
		Password: *flags.redisPassword,
	})
	slog.Info("Using Redis rate limiter", "addr", *flags.redisAddr)
	return ratelimit.NewRedisLimiter(client)
}

// integrationsFile mirrors the dashboard's integration settings so
// deployments without a dashboard can configure the service from a file.
type integrationsFile struct {
	WhatsApp *struct {
		Enabled    bool   `yaml:"enabled"`
		AccountSID string `yaml:"account_sid"`
		AuthToken  string `yaml:"auth_token"`
		FromNumber string `yaml:"from_number"`
	} `yaml:"whatsapp"`
	Chatbot *struct {
		Enabled      bool    `yaml:"enabled"`
		Provider     string  `yaml:"provider"`
		Model        string  `yaml:"model"`
		SystemPrompt string  `yaml:"system_prompt"`
		Temperature  float64 `yaml:"temperature"`
		MaxTokens    int     `yaml:"max_tokens"`
		OpenAIKey    string  `yaml:"openai_api_key"`
		AnthropicKey string  `yaml:"anthropic_api_key"`
	} `yaml:"chatbot"`
	Knowledge []struct {
		ID       string `yaml:"id"`
		Title    string `yaml:"title"`
		Category string `yaml:"category"`
		Content  string `yaml:"content"`
	} `yaml:"knowledge"`
}

// seedIntegrations writes integration settings from a YAML file into the
// store, replacing whichever sections the file defines.
func seedIntegrations(st store.Store, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	var file integrationsFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	if file.WhatsApp != nil {
		cfg := models.ChannelConfig{
			Enabled:    file.WhatsApp.Enabled,
			AccountSID: file.WhatsApp.AccountSID,
			AuthToken:  file.WhatsApp.AuthToken,
			FromNumber: file.WhatsApp.FromNumber,
		}
		if err := st.SaveChannelConfig(cfg); err != nil {
			return fmt.Errorf("failed to save WhatsApp config: %w", err)
		}
		slog.Info("Applied WhatsApp integration config", "enabled", cfg.Enabled)
	}
	if file.Chatbot != nil {
		cfg := models.BotConfig{
			Enabled:      file.Chatbot.Enabled,
			Provider:     models.Provider(file.Chatbot.Provider),
			Model:        file.Chatbot.Model,
			SystemPrompt: file.Chatbot.SystemPrompt,
			Temperature:  file.Chatbot.Temperature,
			MaxTokens:    file.Chatbot.MaxTokens,
			OpenAIKey:    file.Chatbot.OpenAIKey,
			AnthropicKey: file.Chatbot.AnthropicKey,
		}
		if err := st.SaveBotConfig(cfg); err != nil {
			return fmt.Errorf("failed to save chatbot config: %w", err)
		}
		slog.Info("Applied chatbot integration config", "enabled", cfg.Enabled, "provider", cfg.Provider)
	}
	for _, entry := range file.Knowledge {
		article := models.KnowledgeArticle{
			ID:           entry.ID,
			Title:        entry.Title,
			CategoryName: entry.Category,
			Content:      entry.Content,
			Status:       models.ArticleStatusPublished,
			UpdatedAt:    time.Now(),
		}
		// Entries should carry a stable id; without one, reseeding on a
		// later boot inserts a duplicate under a fresh id.
		if article.ID == "" {
			article.ID = util.GenerateRandomID("article_", 16)
		}
		if err := st.SaveArticle(article); err != nil {
			return fmt.Errorf("failed to save knowledge article %q: %w", article.Title, err)
		}
	}
	if len(file.Knowledge) > 0 {
		slog.Info("Applied knowledge base config", "articles", len(file.Knowledge))
	}
	return nil
}
