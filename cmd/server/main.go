package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"notesync-server/internal/config"
	"notesync-server/internal/handler"
	"notesync-server/internal/middleware"
	"notesync-server/internal/repository"
	"notesync-server/internal/service"
	"notesync-server/internal/websocket"

	_ "github.com/go-kivik/kivik/v4/couchdb"

	"github.com/go-kivik/kivik/v4"
	"github.com/gorilla/mux"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	couchURL := fmt.Sprintf("http://%s:%s@%s:%s",
		cfg.Database.User,
		cfg.Database.Password,
		cfg.Database.Host,
		cfg.Database.Port,
	)

	client, err := kivik.New("couch", couchURL)
	if err != nil {
		log.Fatalf("Failed to connect to CouchDB: %v", err)
	}

	exists, err := client.DBExists(context.Background(), cfg.Database.Name)
	if err != nil {
		log.Fatalf("Failed to check database existence: %v", err)
	}

	if !exists {
		if err := client.CreateDB(context.Background(), cfg.Database.Name); err != nil {
			log.Fatalf("Failed to create database: %v", err)
		}
		log.Printf("Created database: %s", cfg.Database.Name)
	}

	userRepo := repository.NewUserRepository(client, cfg.Database.Name)
	noteRepo := repository.NewNoteRepository(client, cfg.Database.Name)
	versionRepo := repository.NewVersionRepository(client, cfg.Database.Name)
	queueRepo := repository.NewQueueRepository(client, cfg.Database.Name)
	conflictRepo := repository.NewConflictRepository(client, cfg.Database.Name)
	historyRepo := repository.NewHistoryRepository(client, cfg.Database.Name)
	sessionRepo := repository.NewSessionRepository(client, cfg.Database.Name)
	shareRepo := repository.NewShareRepository(client, cfg.Database.Name)

	wsManager := websocket.NewManager(
		cfg.WebSocket.MaxConnPerUser,
		cfg.WebSocket.MaxMessageSize,
		cfg.WebSocket.WriteWait,
		cfg.WebSocket.PongWait,
		cfg.WebSocket.PingPeriod,
		cfg.WebSocket.InactivityTimeout,
		sessionRepo,
		noteRepo,
		shareRepo,
	)
	if err := wsManager.RestorePresence(); err != nil {
		log.Printf("Failed to restore editing sessions: %v", err)
	}
	go wsManager.Run()

	authService := service.NewAuthService(userRepo, cfg.JWT.Secret, cfg.JWT.Expiration, cfg.JWT.RefreshTokenExpiration)
	historyService := service.NewHistoryService(historyRepo)
	versionService := service.NewVersionService(noteRepo, versionRepo, historyService)
	detector := service.NewConflictDetector(noteRepo, versionRepo, conflictRepo, shareRepo, historyService, wsManager)
	resolver := service.NewConflictResolver(conflictRepo, noteRepo, versionRepo, versionService, detector, historyService, wsManager)
	noteService := service.NewNoteService(noteRepo, shareRepo, versionService, detector, historyService, wsManager)
	syncService := service.NewSyncService(queueRepo, noteRepo, versionRepo, versionService, detector, historyService, wsManager, cfg.Sync)

	wsMessageHandler := handler.NewWebSocketMessageHandler(wsManager, noteService, detector)
	wsManager.SetMessageHandler(wsMessageHandler)

	authHandler := handler.NewAuthHandler(authService)
	noteHandler := handler.NewNoteHandler(noteService)
	syncHandler := handler.NewSyncHandler(syncService, detector, resolver, cfg.Sync.RetentionDays)
	wsHandler := handler.NewWebSocketHandler(wsManager, authService, cfg.WebSocket.ReadBufferSize, cfg.WebSocket.WriteBufferSize)

	r := mux.NewRouter()

	r.Use(middleware.LoggerMiddleware())
	r.Use(middleware.CORSMiddleware(
		cfg.CORS.AllowedOrigins,
		cfg.CORS.AllowedMethods,
		cfg.CORS.AllowedHeaders,
	))

	api := r.PathPrefix("/api/v1").Subrouter()

	api.HandleFunc("/auth/register", authHandler.Register).Methods("POST", "OPTIONS")
	api.HandleFunc("/auth/login", authHandler.Login).Methods("POST", "OPTIONS")
	api.HandleFunc("/auth/refresh", authHandler.Refresh).Methods("POST", "OPTIONS")

	protected := api.PathPrefix("").Subrouter()
	protected.Use(middleware.AuthMiddleware(cfg.JWT.Secret))

	protected.HandleFunc("/notes", noteHandler.Create).Methods("POST", "OPTIONS")
	protected.HandleFunc("/notes", noteHandler.List).Methods("GET", "OPTIONS")
	protected.HandleFunc("/notes/{id}", noteHandler.Get).Methods("GET", "OPTIONS")
	protected.HandleFunc("/notes/{id}", noteHandler.Update).Methods("PUT", "OPTIONS")
	protected.HandleFunc("/notes/{id}", noteHandler.Delete).Methods("DELETE", "OPTIONS")
	protected.HandleFunc("/notes/{id}/versions", noteHandler.Versions).Methods("GET", "OPTIONS")
	protected.HandleFunc("/notes/{id}/history", noteHandler.History).Methods("GET", "OPTIONS")
	protected.HandleFunc("/notes/{id}/share", noteHandler.Share).Methods("POST", "OPTIONS")
	protected.HandleFunc("/notes/{id}/share/{userId}", noteHandler.Unshare).Methods("DELETE", "OPTIONS")

	protected.HandleFunc("/sync/offline-edit", syncHandler.OfflineEdit).Methods("POST", "OPTIONS")
	protected.HandleFunc("/sync/process", syncHandler.Process).Methods("POST", "OPTIONS")
	protected.HandleFunc("/sync/force/{noteId}", syncHandler.ForceSync).Methods("POST", "OPTIONS")
	protected.HandleFunc("/sync/status", syncHandler.Status).Methods("GET", "OPTIONS")
	protected.HandleFunc("/sync/conflicts", syncHandler.PendingConflicts).Methods("GET", "OPTIONS")
	protected.HandleFunc("/sync/conflicts/{id}/suggestions", syncHandler.Suggestions).Methods("GET", "OPTIONS")
	protected.HandleFunc("/sync/conflicts/{id}/resolve", syncHandler.Resolve).Methods("POST", "OPTIONS")
	protected.HandleFunc("/sync/cleanup", syncHandler.Cleanup).Methods("POST", "OPTIONS")

	r.HandleFunc("/ws", wsHandler.HandleConnection)

	r.HandleFunc("/health", healthHandler).Methods("GET")

	background, stopBackground := context.WithCancel(context.Background())
	go runSyncLoop(background, syncService, cfg.Sync.ProcessInterval)
	go runSessionSweep(background, wsManager, cfg.WebSocket.SweepInterval)

	addr := fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port)

	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("Starting NoteSync Server on %s (env: %s)", addr, cfg.Server.Env)
		log.Printf("Connected to CouchDB at %s:%s", cfg.Database.Host, cfg.Database.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed to start: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")
	stopBackground()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	log.Println("Server stopped gracefully")
}

func runSyncLoop(ctx context.Context, syncService *service.SyncService, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := syncService.ProcessSyncQueue(); err != nil {
				log.Printf("Background sync pass failed: %v", err)
			}
		}
	}
}

func runSessionSweep(ctx context.Context, manager *websocket.Manager, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			manager.SweepInactive()
		}
	}
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"healthy","service":"notesync-server"}`))
}
