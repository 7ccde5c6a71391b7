package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Rrens/chat-sessions/internal/api"
	"github.com/Rrens/chat-sessions/internal/config"
	"github.com/Rrens/chat-sessions/internal/repository/mongodb"
	"github.com/Rrens/chat-sessions/internal/repository/postgres"
	"github.com/Rrens/chat-sessions/internal/repository/redis"
	"github.com/Rrens/chat-sessions/internal/repository/sqldb"
	"github.com/joho/godotenv"
	rotatelogs "github.com/lestrrat-go/file-rotatelogs"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	// Load .env file - try multiple locations
	for _, p := range []string{".env", "../.env", "../../.env"} {
		if err := godotenv.Load(p); err == nil {
			break
		}
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	setupLogger(cfg.Logging)

	log.Info().
		Str("host", cfg.Server.Host).
		Int("port", cfg.Server.Port).
		Str("storage", cfg.Storage.Driver).
		Msg("Starting chat sessions server")

	// Initialize the selected storage backend
	deps, closeStore, err := openStorage(context.Background(), cfg)
	if err != nil {
		log.Fatal().Err(err).Str("driver", cfg.Storage.Driver).Msg("Failed to initialize storage")
	}
	defer closeStore()

	// Redis is optional: without it the server runs with rate limiting and
	// title-attempt dedupe disabled
	if redisClient, err := redis.NewClient(cfg.Redis); err != nil {
		log.Warn().Err(err).Msg("Redis unavailable, rate limiting disabled")
	} else {
		deps.Redis = redisClient
		defer redisClient.Close()
	}

	router, shutdownSessions := api.NewRouter(cfg, deps)

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		log.Info().Msgf("Server listening on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	// Release live sessions after the listener drains, so in-flight
	// requests still see their coordinators
	shutdownSessions()

	log.Info().Msg("Server stopped")
}

// setupLogger configures the global zerolog logger, optionally teeing into a
// daily-rotated file.
func setupLogger(cfg config.LoggingConfig) {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	var out io.Writer = os.Stderr
	if cfg.File != "" {
		rotated, err := rotatelogs.New(
			cfg.File+".%Y%m%d",
			rotatelogs.WithLinkName(cfg.File),
			rotatelogs.WithRotationTime(24*time.Hour),
			rotatelogs.WithMaxAge(7*24*time.Hour),
		)
		if err != nil {
			log.Warn().Err(err).Str("file", cfg.File).Msg("Failed to open log file, logging to stderr only")
		} else {
			out = io.MultiWriter(os.Stderr, rotated)
		}
	}
	if cfg.Format == "console" {
		out = zerolog.ConsoleWriter{Out: out}
	}

	log.Logger = zerolog.New(out).With().Timestamp().Logger()
}

// openStorage wires the configured persistence backend into the router
// dependencies and returns a close function for it.
func openStorage(ctx context.Context, cfg *config.Config) (api.Deps, func(), error) {
	switch cfg.Storage.Driver {
	case "postgres":
		db, err := postgres.NewDB(ctx, cfg.Database)
		if err != nil {
			return api.Deps{}, nil, err
		}
		return api.Deps{
			Store:         db,
			Gateway:       postgres.NewGateway(db.Pool),
			Conversations: postgres.NewConversationRepository(db.Pool),
			Users:         postgres.NewUserRepository(db.Pool),
		}, db.Close, nil

	case "sqlite":
		db, err := sqldb.OpenSQLite(ctx, cfg.SQLite.Path)
		if err != nil {
			return api.Deps{}, nil, err
		}
		return sqlDeps(db), func() { db.Close() }, nil

	case "mysql":
		db, err := sqldb.OpenMySQL(ctx, cfg.MySQL.DSN())
		if err != nil {
			return api.Deps{}, nil, err
		}
		return sqlDeps(db), func() { db.Close() }, nil

	case "mongodb":
		client, err := mongodb.NewClient(ctx, cfg.MongoDB)
		if err != nil {
			return api.Deps{}, nil, err
		}
		gateway := mongodb.NewGateway(client.Database())
		return api.Deps{
			Store:         client,
			Gateway:       gateway,
			Conversations: mongodb.NewConversationRepository(client.Database(), gateway),
			Users:         mongodb.NewUserRepository(client.Database()),
		}, func() { client.Close(context.Background()) }, nil

	default:
		return api.Deps{}, nil, fmt.Errorf("unknown storage driver: %s", cfg.Storage.Driver)
	}
}

func sqlDeps(db *sqldb.DB) api.Deps {
	return api.Deps{
		Store:         db,
		Gateway:       sqldb.NewGateway(db),
		Conversations: sqldb.NewConversationRepository(db),
		Users:         sqldb.NewUserRepository(db),
	}
}
