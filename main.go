package main

import (
	"context"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/joho/godotenv"

	"github.com/hannes/groundtag/config"
	"github.com/hannes/groundtag/ollama"
	"github.com/hannes/groundtag/processor"
	"github.com/hannes/groundtag/server"
	"github.com/hannes/groundtag/store"
	"github.com/hannes/groundtag/tokenizer"
	"github.com/hannes/groundtag/vision"
)

func main() {
	// Load .env before reading configuration from the environment
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	cfg := config.DefaultConfig()
	if configFile := os.Getenv("CONFIG_FILE"); configFile != "" {
		if err := config.ApplyFile(configFile, cfg); err != nil {
			log.Fatalf("Failed to load config file: %v", err)
		}
	}
	loadConfigFromEnv(cfg)

	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	if cfg.SentryDSN != "" {
		if err := sentry.Init(sentry.ClientOptions{Dsn: cfg.SentryDSN}); err != nil {
			log.Printf("Failed to initialize sentry: %v", err)
		}
		defer sentry.Flush(2 * time.Second)
	}

	tokenizerCfg := tokenizer.DefaultConfig(cfg.TokenizerPath)
	tokenizerCfg.NumPatchIndexTokens = cfg.NumPatchIndexTokens
	tk, err := tokenizer.New(tokenizerCfg)
	if err != nil {
		log.Fatalf("Failed to load tokenizer: %v", err)
	}
	defer tk.Close()

	var encoder *vision.Encoder
	if cfg.VisionModelPath != "" {
		encoder = vision.NewEncoder(cfg.VisionModelPath, cfg.ImageSize, cfg.VisionLatents, cfg.VisionHidden)
		defer encoder.Close()
	}
	visionCfg := vision.DefaultConfig()
	visionCfg.ImageSize = cfg.ImageSize
	images := vision.NewProcessor(visionCfg, encoder)

	proc := processor.New(tk, images)

	var generator *ollama.Client
	if cfg.Ollama.Enabled {
		generator, err = ollama.NewClient(cfg.Ollama.URL, cfg.Ollama.Model)
		if err != nil {
			log.Fatalf("Failed to create ollama client: %v", err)
		}
	}

	var logs store.RequestLogDB
	if cfg.Database.Enabled {
		logs, err = store.NewPostgresLogDB(context.Background(), cfg.Database.Postgres())
		if err != nil {
			log.Fatalf("Failed to connect to database: %v", err)
		}
	} else {
		logs = store.NewMemoryLogDB(store.DefaultMaxLogEntries)
	}

	srv, err := server.NewServer(cfg, proc, generator, logs)
	if err != nil {
		log.Fatalf("Failed to create server: %v", err)
	}
	defer srv.Close()

	srv.StartWithErrorHandling()
}

// loadConfigFromEnv loads configuration from environment variables
func loadConfigFromEnv(cfg *config.Config) {
	// Application configuration
	if port := os.Getenv("SERVER_PORT"); port != "" {
		cfg.ServerPort = port
	}

	if path := os.Getenv("TOKENIZER_PATH"); path != "" {
		cfg.TokenizerPath = path
	}

	if count := os.Getenv("NUM_PATCH_INDEX_TOKENS"); count != "" {
		if n, err := strconv.Atoi(count); err == nil {
			cfg.NumPatchIndexTokens = n
		}
	}

	if count := os.Getenv("NUM_IMAGE_TOKENS"); count != "" {
		if n, err := strconv.Atoi(count); err == nil {
			cfg.NumImageTokens = n
		}
	}

	if size := os.Getenv("IMAGE_SIZE"); size != "" {
		if n, err := strconv.Atoi(size); err == nil {
			cfg.ImageSize = n
		}
	}

	if path := os.Getenv("VISION_MODEL_PATH"); path != "" {
		cfg.VisionModelPath = path
	}

	if rps := os.Getenv("RATE_LIMIT_RPS"); rps != "" {
		if n, err := strconv.ParseFloat(rps, 64); err == nil {
			cfg.RateLimitRPS = n
		}
	}

	if burst := os.Getenv("RATE_LIMIT_BURST"); burst != "" {
		if n, err := strconv.Atoi(burst); err == nil {
			cfg.RateLimitBurst = n
		}
	}

	if dsn := os.Getenv("SENTRY_DSN"); dsn != "" {
		cfg.SentryDSN = dsn
	}

	// Grounded generation configuration
	if enabled := os.Getenv("OLLAMA_ENABLED"); enabled != "" {
		cfg.Ollama.Enabled = enabled == "true"
	}

	if url := os.Getenv("OLLAMA_URL"); url != "" {
		cfg.Ollama.URL = url
	}

	if model := os.Getenv("OLLAMA_MODEL"); model != "" {
		cfg.Ollama.Model = model
	}

	// Database configuration
	if dbEnabled := os.Getenv("DB_ENABLED"); dbEnabled != "" {
		cfg.Database.Enabled = dbEnabled == "true"
	}

	if host := os.Getenv("DB_HOST"); host != "" {
		cfg.Database.Host = host
	}

	if port := os.Getenv("DB_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			cfg.Database.Port = p
		}
	}

	if dbName := os.Getenv("DB_NAME"); dbName != "" {
		cfg.Database.Database = dbName
	}

	if user := os.Getenv("DB_USER"); user != "" {
		cfg.Database.Username = user
	}

	if password := os.Getenv("DB_PASSWORD"); password != "" {
		cfg.Database.Password = password
	}

	if sslMode := os.Getenv("DB_SSL_MODE"); sslMode != "" {
		cfg.Database.SSLMode = sslMode
	}

	// Logging configuration
	if logRequests := os.Getenv("LOG_REQUESTS"); logRequests != "" {
		cfg.Logging.LogRequests = logRequests == "true"
	}

	if logEntities := os.Getenv("LOG_ENTITIES"); logEntities != "" {
		cfg.Logging.LogEntities = logEntities == "true"
	}

	if logVerbose := os.Getenv("LOG_VERBOSE"); logVerbose != "" {
		cfg.Logging.LogVerbose = logVerbose == "true"
	}
}
