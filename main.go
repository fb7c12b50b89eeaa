package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"time"

	clerk "github.com/clerk/clerk-sdk-go/v2"
	gorilllaHandlers "github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"socialzAPI/handlers"
	"socialzAPI/internal/notification"
	"socialzAPI/internal/store"
	"socialzAPI/middleware"
	"socialzAPI/services"

	_ "net/http/pprof"
)

var (
	dbPool              *pgxpool.Pool
	streakStore         *store.PostgresStreakStore
	userService         *services.UserService
	streakService       *services.StreakService
	streakNotifier      *services.StreakNotifier
	feedService         *services.FeedService
	notificationService *services.NotificationService
	pushDispatcher      *services.PushDispatcher
	fcmService          *notification.FCMService
)

func init() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found")
	}

	clerkSecretKey := os.Getenv("CLERK_SECRET_KEY")
	if clerkSecretKey == "" {
		log.Fatal("CLERK_SECRET_KEY environment variable is not set")
	}
	clerk.SetKey(clerkSecretKey)
	log.Println("Clerk initialized successfully")

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		log.Fatal("DATABASE_URL environment variable is not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	poolConfig, err := pgxpool.ParseConfig(dbURL)
	if err != nil {
		log.Fatal("Failed to parse database URL:", err)
	}

	poolConfig.MaxConns = 25
	poolConfig.MinConns = 5
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute
	poolConfig.HealthCheckPeriod = time.Minute

	dbPool, err = pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		log.Fatal("Failed to create connection pool:", err)
	}

	if err := dbPool.Ping(ctx); err != nil {
		log.Fatal("Failed to ping database:", err)
	}

	log.Println("Successfully connected to database")

	streakStore = store.NewPostgresStreakStore(dbPool)
	notificationService = services.NewNotificationService(dbPool)
	userService = services.NewUserService(dbPool)
	streakService = services.NewStreakService(streakStore)
	streakNotifier = services.NewStreakNotifier(streakStore)
	feedService = services.NewFeedService(dbPool, streakService)

	pushDispatcher = services.NewPushDispatcher(notificationService)
	fcmService, err = notification.NewFCMService("./serviceAccountKey.json")
	if err != nil {
		log.Printf("Warning: Could not initialize FCM: %v", err)
	} else {
		pushDispatcher.SetPushProvider(fcmService)
		log.Println("FCM Push Provider initialized successfully")
	}
	streakService.SetMilestoneDispatcher(pushDispatcher)

	middleware.InitPrometheus()
	services.InitStreakMetrics()
}

func main() {
	defer func() {
		log.Println("Closing database connection pool...")
		dbPool.Close()
	}()

	userHandler := handlers.NewUserHandler(userService)
	streakHandler := handlers.NewStreakHandler(streakService, userService, streakNotifier)
	feedHandler := handlers.NewFeedHandler(feedService, userService)
	notificationHandler := handlers.NewNotificationHandler(notificationService, userService)
	webhookHandler := handlers.NewWebhookHandler(userService)

	r := mux.NewRouter()

	// Websocket subscriptions bypass the rate limiter; one long-lived
	// connection per client, token comes via query param.
	r.Handle("/api/v1/streak/live", middleware.WebsocketAuthMiddleware(http.HandlerFunc(streakHandler.LiveStreak)))

	standardRouter := r.PathPrefix("/").Subrouter()

	go middleware.CleanupVisitors()

	standardRouter.Use(middleware.RateLimitMiddleware)
	standardRouter.Use(middleware.MonitorMiddleware)

	standardRouter.Handle("/metrics", middleware.BasicAuthMiddleware(promhttp.Handler()))
	standardRouter.PathPrefix("/debug/pprof/").Handler(middleware.PprofSecurityMiddleware(http.DefaultServeMux))

	standardRouter.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		if err := dbPool.Ping(ctx); err != nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"status": "unhealthy", "error": "database connection failed"}`))
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status": "healthy", "service": "socialz-api"}`))
	}).Methods("GET")

	standardRouter.HandleFunc("/webhooks/clerk", webhookHandler.HandleClerkWebhook).Methods("POST")

	api := standardRouter.PathPrefix("/api/v1").Subrouter()

	protected := api.PathPrefix("").Subrouter()
	protected.Use(middleware.ClerkAuthMiddleware)

	protected.HandleFunc("/user", userHandler.GetProfile).Methods("GET")
	protected.HandleFunc("/user/update-profile", userHandler.UpdateProfile).Methods("PUT")
	protected.HandleFunc("/user/delete-account", userHandler.DeleteAccount).Methods("DELETE")

	protected.HandleFunc("/streak", streakHandler.GetStreak).Methods("GET")
	protected.HandleFunc("/streak/activity", streakHandler.RecordActivity).Methods("POST")
	protected.HandleFunc("/streak/reset", streakHandler.ResetStreak).Methods("POST")
	protected.HandleFunc("/streak/leaderboard", streakHandler.GetLeaderboard).Methods("GET")
	protected.HandleFunc("/streak/rank", streakHandler.GetRank).Methods("GET")
	protected.HandleFunc("/streak/statistics", streakHandler.GetStatistics).Methods("GET")

	protected.HandleFunc("/feed", feedHandler.GetFeed).Methods("GET")
	protected.HandleFunc("/posts", feedHandler.GetFeed).Methods("GET")
	protected.HandleFunc("/posts", feedHandler.CreatePost).Methods("POST")
	protected.HandleFunc("/posts/{postID}/comments", feedHandler.GetComments).Methods("GET")
	protected.HandleFunc("/posts/{postID}/comments", feedHandler.CreateComment).Methods("POST")
	protected.HandleFunc("/posts/{postID}/like", feedHandler.LikePost).Methods("POST")
	protected.HandleFunc("/posts/{postID}/like", feedHandler.UnlikePost).Methods("DELETE")

	protected.HandleFunc("/notifications/register-device", notificationHandler.RegisterDevice).Methods("POST")
	protected.HandleFunc("/notifications/remove-device", notificationHandler.RemoveDevice).Methods("DELETE")

	corsHandler := gorilllaHandlers.CORS(
		gorilllaHandlers.AllowedOrigins([]string{"*"}),
		gorilllaHandlers.AllowedMethods([]string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}),
		gorilllaHandlers.AllowedHeaders([]string{"Content-Type", "Authorization", "X-Pprof-Secret"}),
		gorilllaHandlers.ExposedHeaders([]string{"Content-Length"}),
		gorilllaHandlers.AllowCredentials(),
	)

	port := os.Getenv("PORT")
	if port == "" {
		port = "3333"
	}
	port = ":" + port

	server := http.Server{
		Addr:         port,
		Handler:      corsHandler(r),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		log.Printf("Starting server on port %s", port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Error starting server:", err)
		}
	}()

	// Graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt)

	sig := <-sigChan
	log.Println("Got signal:", sig)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server shutdown error: %v", err)
	}

	pushDispatcher.Stop()

	log.Println("Server shutdown complete")
}
