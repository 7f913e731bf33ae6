package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/socials/chat-server/internal/auth"
	"github.com/socials/chat-server/internal/data"
	"github.com/socials/chat-server/internal/db"
	"github.com/socials/chat-server/internal/gateway"
	"github.com/socials/chat-server/internal/middleware"
	"github.com/socials/chat-server/internal/presence"
)

func main() {
	// Read configuration from environment (.env is optional, for local dev)
	_ = godotenv.Load()

	mongoURI := os.Getenv("MONGODB_URI")
	if mongoURI == "" {
		log.Fatal("MONGODB_URI must be set")
	}
	jwtSecret := os.Getenv("JWT_SECRET")
	if jwtSecret == "" {
		log.Fatal("JWT_SECRET must be set")
	}
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}
	clientOrigin := os.Getenv("CLIENT_ORIGIN")
	if clientOrigin == "" {
		clientOrigin = "*"
	}

	ctx := context.Background()

	// Initialize database
	dbClient, err := db.New(ctx, mongoURI)
	if err != nil {
		log.Fatalf("failed to connect to DB: %v", err)
	}
	defer func() {
		_ = dbClient.Close(ctx)
	}()

	// Ensure indexes exist
	if err := dbClient.CreateIndexes(ctx); err != nil {
		log.Fatalf("failed to create indexes: %v", err)
	}

	// Create stores
	usersStore := data.NewUsersStore(dbClient.UsersCollection())
	chatsStore := data.NewChatsStore(dbClient.ChatsCollection(), usersStore)

	// Token manager (tokens valid for 24 hours)
	jwtMgr := auth.NewJWTManager(jwtSecret, 24*time.Hour)

	// Rate limiter for login/register. RATE_LIMIT_RPM controls requests per
	// minute for these sensitive endpoints.
	rateRPM := 10
	if v := os.Getenv("RATE_LIMIT_RPM"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			rateRPM = n
		}
	}
	limiterStore := middleware.NewLimiterStore(rateRPM, 3, 1*time.Minute)
	defer limiterStore.Stop()

	// Presence tracker and realtime gateway. The tracker is the single
	// shared mutable structure; it is built here and passed by reference.
	tracker := presence.NewTracker()
	gw := gateway.New(jwtMgr, usersStore, chatsStore, tracker, clientOrigin)

	srv := newServer(usersStore, chatsStore, jwtMgr, gw)

	// Websocket connections manage their own read/write deadlines, so the
	// server only bounds the request header phase.
	httpServer := &http.Server{
		Addr:              ":" + port,
		Handler:           srv.routes(limiterStore, clientOrigin),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Printf("API server listening on :%s", port)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server exit: %v", err)
		}
	}()

	// Graceful shutdown on SIGINT/SIGTERM
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	log.Printf("shutting down")
	gw.Shutdown()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
}
