package api

import (
	"net/http"

	"github.com/Rrens/chat-sessions/internal/api/handler"
	customMiddleware "github.com/Rrens/chat-sessions/internal/api/middleware"
	"github.com/Rrens/chat-sessions/internal/config"
	"github.com/Rrens/chat-sessions/internal/domain"
	"github.com/Rrens/chat-sessions/internal/llm"
	"github.com/Rrens/chat-sessions/internal/llm/anthropic"
	"github.com/Rrens/chat-sessions/internal/llm/deepseek"
	"github.com/Rrens/chat-sessions/internal/llm/gemini"
	"github.com/Rrens/chat-sessions/internal/llm/ollama"
	"github.com/Rrens/chat-sessions/internal/llm/openai"
	"github.com/Rrens/chat-sessions/internal/repository/redis"
	"github.com/Rrens/chat-sessions/internal/security"
	"github.com/Rrens/chat-sessions/internal/service"
	"github.com/Rrens/chat-sessions/internal/session"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog/log"
)

// Deps carries the storage collaborators the router wires together. The
// concrete backend (postgres, sqlite, mysql or mongodb) is chosen in main;
// the router only sees the interfaces. Redis may be nil, in which case rate
// limiting and title-attempt dedupe are disabled.
type Deps struct {
	Store         handler.Pinger
	Gateway       domain.PersistenceGateway
	Conversations domain.ConversationRepository
	Users         domain.UserRepository
	Redis         *redis.Client
}

// NewRouter creates and configures the HTTP router. The returned shutdown
// function releases live sessions and must run before the process exits.
func NewRouter(cfg *config.Config, deps Deps) (http.Handler, func()) {
	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(customMiddleware.Logger)
	r.Use(middleware.Recoverer)

	// CORS
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Initialize security components
	jwtManager := security.NewJWTManager(
		cfg.Auth.JWTSecret,
		cfg.Auth.AccessTokenTTL,
		cfg.Auth.RefreshTokenTTL,
	)

	// Initialize encryptor
	encryptor, err := security.NewEncryptor(encryptionKeyFromSecret(cfg.Auth.JWTSecret))
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize encryptor")
	}

	// Initialize rate limiter and title-attempt claims
	var rateLimiter *redis.RateLimiter
	var titleAttempts *redis.TitleAttempts
	if deps.Redis != nil {
		rateLimiter = redis.NewRateLimiter(
			deps.Redis,
			cfg.Security.RateLimit.RequestsPerMinute,
			cfg.Security.RateLimit.Burst,
		)
		titleAttempts = redis.NewTitleAttempts(deps.Redis)
	}

	// Initialize LLM router with providers
	llmRouter := newLLMRouter(cfg)

	// Initialize session layer
	inference := service.NewRouterInference(llmRouter)
	defaults := func() domain.ModelDefaults {
		return domain.ModelDefaults{
			Chat:               cfg.LLM.Models.Chat,
			Auxiliary:          cfg.LLM.Models.Auxiliary,
			VisualAuxiliary:    cfg.LLM.Models.VisualAuxiliary,
			AuxiliaryUsesChat:  cfg.LLM.Models.AuxiliaryUsesChat,
			MaxCompletionToken: cfg.LLM.Models.MaxTokens,
		}
	}
	registry := session.NewRegistry(deps.Gateway, deps.Conversations, inference, defaults, session.Options{
		SettleDelay:    cfg.Session.SettleDelay,
		TitleMaxTokens: cfg.Session.TitleMaxTokens,
	})

	// Initialize services
	authService := service.NewAuthService(deps.Users, jwtManager)
	conversationService := service.NewConversationService(registry, deps.Conversations, encryptor, titleAttempts)

	// Initialize handlers
	authHandler := handler.NewAuthHandler(authService)
	conversationHandler := handler.NewConversationHandler(conversationService)
	messageHandler := handler.NewMessageHandler(conversationService)
	streamHandler := handler.NewStreamHandler(conversationService)

	// Auth middleware
	authMiddleware := customMiddleware.NewAuthMiddleware(jwtManager)
	rateLimitMiddleware := customMiddleware.NewRateLimitMiddleware(rateLimiter)

	r.Route("/api/v1", func(r chi.Router) {
		// Health check
		r.Get("/health", handler.HealthCheck)
		r.Get("/ready", handler.ReadyCheck(deps.Store))

		// Auth routes (public)
		r.Route("/auth", func(r chi.Router) {
			r.Post("/register", authHandler.Register)
			r.Post("/login", authHandler.Login)
			r.Post("/refresh", authHandler.Refresh)
		})

		// Protected routes
		r.Group(func(r chi.Router) {
			r.Use(authMiddleware.Authenticate)
			r.Use(rateLimitMiddleware.Limit)

			r.Get("/me", authHandler.Me)
			r.Get("/llm-providers", handler.ListLLMProviders(llmRouter))

			// Conversation routes
			r.Route("/conversations", func(r chi.Router) {
				r.Get("/", conversationHandler.List)
				r.Post("/", conversationHandler.Create)

				r.Route("/{conversationID}", func(r chi.Router) {
					r.Get("/", conversationHandler.Get)
					r.Patch("/", conversationHandler.Update)
					r.Delete("/", conversationHandler.Delete)

					r.Post("/title", conversationHandler.GenerateTitle)
					r.Get("/models", messageHandler.Models)
					r.Get("/stream", streamHandler.Stream)

					// Message routes
					r.Route("/messages", func(r chi.Router) {
						r.Get("/", messageHandler.List)
						r.Post("/", messageHandler.Send)

						r.Route("/{messageID}", func(r chi.Router) {
							r.Patch("/", messageHandler.UpdateContent)
							r.Delete("/", messageHandler.Delete)
							r.Post("/retry", messageHandler.Retry)
							r.Delete("/after", messageHandler.DeleteFrom)
						})
					})
				})
			})
		})
	})

	shutdown := func() {
		conversationService.Close()
		registry.CloseAll()
	}

	return r, shutdown
}

// newLLMRouter registers every configured provider plus per-request
// factories, so a conversation carrying its own API key gets a fresh
// provider instance instead of the shared one.
func newLLMRouter(cfg *config.Config) *llm.Router {
	llmRouter := llm.NewRouter(cfg.LLM.DefaultProvider)

	log.Info().Msgf("Initializing LLM providers. Default: %s", cfg.LLM.DefaultProvider)

	if cfg.LLM.Ollama.Host != "" {
		log.Info().Str("host", cfg.LLM.Ollama.Host).Msg("Registering Ollama provider")
		llmRouter.RegisterProvider(ollama.NewProvider(cfg.LLM.Ollama.Host, cfg.LLM.Ollama.DefaultModel))
	}
	if cfg.LLM.OpenAI.APIKey != "" {
		llmRouter.RegisterProvider(openai.NewProvider(cfg.LLM.OpenAI.APIKey, cfg.LLM.OpenAI.Model))
	}
	if cfg.LLM.Anthropic.APIKey != "" {
		llmRouter.RegisterProvider(anthropic.NewProvider(cfg.LLM.Anthropic.APIKey, cfg.LLM.Anthropic.Model))
	}
	if cfg.LLM.DeepSeek.APIKey != "" {
		llmRouter.RegisterProvider(deepseek.NewProvider(cfg.LLM.DeepSeek.APIKey, cfg.LLM.DeepSeek.Model))
	}
	if cfg.LLM.Gemini.APIKey != "" {
		llmRouter.RegisterProvider(gemini.NewProvider(cfg.LLM.Gemini.APIKey, cfg.LLM.Gemini.Model))
	}

	llmRouter.RegisterFactory("openai", keyFactory(func(key string) llm.Provider {
		return openai.NewProvider(key, cfg.LLM.OpenAI.Model)
	}))
	llmRouter.RegisterFactory("anthropic", keyFactory(func(key string) llm.Provider {
		return anthropic.NewProvider(key, cfg.LLM.Anthropic.Model)
	}))
	llmRouter.RegisterFactory("deepseek", keyFactory(func(key string) llm.Provider {
		return deepseek.NewProvider(key, cfg.LLM.DeepSeek.Model)
	}))
	llmRouter.RegisterFactory("gemini", keyFactory(func(key string) llm.Provider {
		return gemini.NewProvider(key, cfg.LLM.Gemini.Model)
	}))

	return llmRouter
}

// encryptionKeyFromSecret derives an AES-256 key from the JWT secret by
// padding or truncating it to 32 bytes.
func encryptionKeyFromSecret(secret string) []byte {
	key := make([]byte, 32)
	copy(key, secret)
	return key
}

func keyFactory(build func(key string) llm.Provider) llm.ProviderFactory {
	return func(config map[string]any) (llm.Provider, error) {
		key, _ := config["api_key"].(string)
		return build(key), nil
	}
}
