package router

import (
	"log"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/hierenlab/hieren-api/config"
	"github.com/hierenlab/hieren-api/database"
	"github.com/hierenlab/hieren-api/handlers"
	attachment_handlers "github.com/hierenlab/hieren-api/handlers/attachment"
	auth_handlers "github.com/hierenlab/hieren-api/handlers/auth"
	chat_handlers "github.com/hierenlab/hieren-api/handlers/chat"
	rag_handlers "github.com/hierenlab/hieren-api/handlers/rag"
	search_handlers "github.com/hierenlab/hieren-api/handlers/search"
	"github.com/hierenlab/hieren-api/services"
	"github.com/hierenlab/hieren-api/services/groq"
	"github.com/hierenlab/hieren-api/services/rag"
	"github.com/hierenlab/hieren-api/services/storage"
	"github.com/hierenlab/hieren-api/services/tavily"
	"github.com/hierenlab/hieren-api/utils/auth"
	"github.com/hierenlab/hieren-api/utils/cache"
	"github.com/hierenlab/hieren-api/utils/middleware"
)

func SetupRoutes(app *fiber.App, store database.Storage, env *config.EnviornmentVariable) {
	if env.JWT_SECRET == "" {
		log.Fatal("JWT_SECRET environment variable is not set")
	}

	jwtIssuer := env.JWT_ISSUER
	if jwtIssuer == "" {
		jwtIssuer = "hieren-api"
	}

	jwtConfig := auth.JWTConfig{
		Secret:        env.JWT_SECRET,
		Expiry:        24 * time.Hour,     // Access token expires in 24 hours
		RefreshExpiry: 7 * 24 * time.Hour, // Refresh token expires in 7 days
		Issuer:        jwtIssuer,
	}
	jwtManager := auth.NewJWTManager(jwtConfig)

	db := store.GetDB()

	// Redis-backed brute force protection; the API runs without it
	redisURL := env.REDIS_URL
	if redisURL == "" {
		redisURL = "redis://localhost:6379/0"
	}
	redisCache, err := cache.NewRedisCache(redisURL)
	if err != nil {
		log.Printf("Warning: Failed to connect to Redis: %v. Brute force protection will be disabled.", err)
	}
	var bruteForceProtection *middleware.BruteForceProtection
	if redisCache != nil {
		bruteForceProtection = middleware.NewBruteForceProtection(redisCache)
	}

	authMiddleware := middleware.NewAuthMiddleware(jwtManager, db)
	authHandler := auth_handlers.NewAuthHandler(db, jwtManager, bruteForceProtection)

	// Model provider
	groqClient := groq.NewClient(groq.Config{
		APIKey: env.GROQ_API_KEY,
	})

	// Web search: without an API key the tool phase is disabled and turns
	// run model-only
	var searchClient *tavily.Client
	if env.TAVILY_API_KEY != "" {
		searchClient = tavily.NewClient(tavily.Config{
			APIKey: env.TAVILY_API_KEY,
		})
	} else {
		log.Println("Warning: TAVILY_API_KEY not set, web search is disabled")
	}

	var toolsRegistry *services.ChatToolsRegistry
	if searchClient != nil {
		toolsRegistry = services.NewChatToolsRegistry(searchClient)
	}

	// Knowledge service for domain questions
	var ragClient *rag.Client
	var knowledgeService *services.KnowledgeService
	if env.RAG_SERVICE_URL != "" {
		ragClient = rag.NewClient(env.RAG_SERVICE_URL)
		knowledgeService = services.NewKnowledgeService(ragClient)
	}

	// Object storage for document attachments
	var spacesClient *storage.SpacesClient
	if env.SPACES_ACCESS_KEY != "" && env.SPACES_SECRET_KEY != "" {
		spacesClient, err = storage.NewSpacesClient(storage.SpacesConfig{
			AccessKey: env.SPACES_ACCESS_KEY,
			SecretKey: env.SPACES_SECRET_KEY,
			Bucket:    env.SPACES_BUCKET,
			Region:    env.SPACES_REGION,
			Endpoint:  env.SPACES_ENDPOINT,
		})
		if err != nil {
			log.Printf("Warning: Failed to initialize object storage: %v. Document uploads are disabled.", err)
		}
	}

	sessionService := services.NewSessionService(db)
	chatService := services.NewChatService(groqClient, env.GROQ_MODEL, toolsRegistry, knowledgeService, sessionService)
	attachmentService := services.NewAttachmentService(sessionService, spacesClient)

	chatHandler := chat_handlers.NewChatHandler(sessionService, chatService)
	attachmentHandler := attachment_handlers.NewAttachmentHandler(attachmentService)
	searchHandler := search_handlers.NewSearchHandler(searchClient)
	ragHandler := rag_handlers.NewRAGHandler(ragClient)
	healthHandler := handlers.NewHealthHandler(store, ragClient)

	// Apply security middleware
	allowedOrigins := env.ALLOWED_ORIGINS
	if allowedOrigins == "" {
		allowedOrigins = "http://localhost:3000,http://localhost:3001"
	}

	middleware.SetupSecurity(app, middleware.SecurityConfig{
		AllowedOrigins:    allowedOrigins,
		RateLimitRequests: 100,             // 100 requests
		RateLimitWindow:   1 * time.Minute, // per minute
	})

	// Health check endpoint (public)
	app.Get("/ping", healthHandler.Ping)

	// API v1 group
	api := app.Group("/api/v1")

	// Auth routes (public)
	authGroup := api.Group("/auth")
	authGroup.Post("/register", authHandler.Register)

	// Login with brute force protection
	if bruteForceProtection != nil {
		authGroup.Post("/login", bruteForceProtection.CheckAndRecordAttempt(), authHandler.Login)
	} else {
		authGroup.Post("/login", authHandler.Login)
	}

	authGroup.Post("/refresh", authHandler.RefreshToken)

	// Protected auth routes
	authGroup.Post("/logout", authMiddleware.Required(), authHandler.Logout)

	// Profile routes (protected)
	profileGroup := api.Group("/profile", authMiddleware.Required())
	profileGroup.Get("/", authHandler.GetProfile)
	profileGroup.Put("/", authHandler.UpdateProfile)

	// Chat routes. Optional auth: anonymous visitors get sessions too, the
	// service layer decides who may touch what.
	chat := api.Group("/chat", authMiddleware.Optional())

	chat.Post("/sessions", chatHandler.CreateSession)
	chat.Get("/sessions", chatHandler.ListSessions)
	chat.Get("/sessions/:id", chatHandler.GetSession)
	chat.Put("/sessions/:id", chatHandler.RenameSession)
	chat.Delete("/sessions/:id", chatHandler.DeleteSession)
	chat.Post("/sessions/:id/transfer", chatHandler.TransferSession)

	chat.Get("/sessions/:id/messages", chatHandler.ListMessages)
	chat.Post("/sessions/:id/messages", chatHandler.AppendMessage)

	// Streamed conversation turn (SSE)
	chat.Post("/turn", chatHandler.StreamTurn)

	// Attachments
	chat.Post("/messages/:id/attachments", attachmentHandler.Upload)
	api.Get("/attachments/:id", authMiddleware.Optional(), attachmentHandler.Get)
	api.Get("/attachments/:id/content", authMiddleware.Optional(), attachmentHandler.Download)

	// Direct web search (protected, it spends provider quota)
	api.Post("/search", authMiddleware.Required(), searchHandler.Search)

	// Direct knowledge-base queries
	api.Post("/rag/chat", authMiddleware.Optional(), ragHandler.Chat)
}
