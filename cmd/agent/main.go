package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"calsync-agent/internal/adapter"
	"calsync-agent/internal/config"
	"calsync-agent/internal/domain"
	"calsync-agent/internal/handler"
	"calsync-agent/internal/middleware"
	"calsync-agent/internal/repository"
	"calsync-agent/internal/service"
	"calsync-agent/internal/websocket"
	"calsync-agent/pkg/token"

	_ "github.com/go-kivik/kivik/v4/couchdb"

	"github.com/go-kivik/kivik/v4"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/robfig/cron/v3"
)

// remoteChangeHandler bridges the change feed to the orchestrator. The pull
// runs off the notifier's read loop so a slow merge cannot stall the feed.
type remoteChangeHandler struct {
	orchestrator *service.OrchestratorService
}

func (h *remoteChangeHandler) HandleReplicaChange(ctx context.Context, payload *websocket.ReplicaChangedPayload) {
	log.Printf("replica changed by device %s, refreshing", payload.DeviceID)
	go h.orchestrator.HandleRemoteChange(ctx)
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	couchURL := fmt.Sprintf("http://%s:%s@%s:%s",
		cfg.Cache.User,
		cfg.Cache.Password,
		cfg.Cache.Host,
		cfg.Cache.Port,
	)

	client, err := kivik.New("couch", couchURL)
	if err != nil {
		log.Fatalf("Failed to connect to cache database: %v", err)
	}

	exists, err := client.DBExists(context.Background(), cfg.Cache.Name)
	if err != nil {
		log.Fatalf("Failed to check cache database existence: %v", err)
	}

	if !exists {
		if err := client.CreateDB(context.Background(), cfg.Cache.Name); err != nil {
			log.Fatalf("Failed to create cache database: %v", err)
		}
		log.Printf("Created cache database: %s", cfg.Cache.Name)
	}

	deviceID := cfg.Sync.DeviceID
	if deviceID == "" {
		deviceID = uuid.New().String()
		log.Printf("No device id configured, generated %s", deviceID)
	}

	eventRepo := repository.NewEventRepository(client, cfg.Cache.Name)
	hashRepo := repository.NewHashIndexRepository(client, cfg.Cache.Name)
	replicaRepo := repository.NewReplicaRepository(
		cfg.Replica.URL,
		deviceID,
		cfg.Replica.TokenSecret,
		cfg.Replica.TokenExpiration,
		cfg.Replica.RequestTimeout,
	)

	deltaService := service.NewDeltaService(eventRepo, hashRepo)
	conflictService := service.NewConflictService(eventRepo, cfg.Sync.DuplicateGranularity, cfg.Sync.SimultaneousEditWindow)
	replicationService := service.NewReplicationService(eventRepo, replicaRepo, service.ReplicationOptions{
		DeviceID:        deviceID,
		DeviceName:      cfg.Sync.DeviceName,
		BatchSize:       cfg.Replica.BatchSize,
		Fanout:          cfg.Replica.Fanout,
		PageLimit:       cfg.Replica.PageLimit,
		OnlineThreshold: cfg.Sync.DeviceOnlineThreshold,
	})
	orchestrator := service.NewOrchestratorService(
		deltaService,
		conflictService,
		replicationService,
		eventRepo,
		cfg.Sync.SourceTimeout,
	)

	if cfg.Sync.LocalCalendarPath != "" {
		orchestrator.RegisterAdapter(adapter.NewICSAdapter(cfg.Sync.LocalCalendarPath, domain.SourceLocal))
		log.Printf("Registered local calendar adapter for %s", cfg.Sync.LocalCalendarPath)
	}

	rootCtx, rootCancel := context.WithCancel(context.Background())
	defer rootCancel()

	// Change feed subscription for notification-driven refresh.
	wsURL := "ws" + strings.TrimPrefix(cfg.Replica.URL, "http") + "/ws"
	notifier := websocket.NewNotifier(
		wsURL,
		deviceID,
		func() (string, error) {
			return token.Generate(deviceID, cfg.Replica.TokenExpiration, cfg.Replica.TokenSecret)
		},
		&remoteChangeHandler{orchestrator: orchestrator},
		cfg.WebSocket.WriteWait,
		cfg.WebSocket.PongWait,
		cfg.WebSocket.PingPeriod,
		cfg.WebSocket.ReconnectWait,
	)
	go notifier.Run(rootCtx)

	scheduler := cron.New()
	if _, err := scheduler.AddFunc(cfg.Sync.Schedule, func() {
		if err := orchestrator.SyncNow(rootCtx, adapter.DateRange{}); err != nil {
			log.Printf("scheduled sync failed: %v", err)
		}
	}); err != nil {
		log.Fatalf("Invalid sync schedule %q: %v", cfg.Sync.Schedule, err)
	}
	if _, err := scheduler.AddFunc("@daily", func() {
		orchestrator.Cleanup(time.Now().Add(-cfg.Sync.CleanupAge))
	}); err != nil {
		log.Fatalf("Failed to schedule cleanup: %v", err)
	}
	scheduler.Start()

	syncHandler := handler.NewSyncHandler(orchestrator)
	conflictHandler := handler.NewConflictHandler(orchestrator)
	deviceHandler := handler.NewDeviceHandler(replicationService)

	r := mux.NewRouter()

	r.Use(middleware.LoggerMiddleware())
	r.Use(middleware.CORSMiddleware(
		cfg.CORS.AllowedOrigins,
		cfg.CORS.AllowedMethods,
		cfg.CORS.AllowedHeaders,
	))

	api := r.PathPrefix("/api/v1").Subrouter()

	api.HandleFunc("/status", syncHandler.GetStatus).Methods("GET", "OPTIONS")
	api.HandleFunc("/sync/trigger", syncHandler.TriggerSync).Methods("POST", "OPTIONS")
	api.HandleFunc("/conflicts", conflictHandler.List).Methods("GET", "OPTIONS")
	api.HandleFunc("/conflicts/{id}/resolve", conflictHandler.Resolve).Methods("POST", "OPTIONS")
	api.HandleFunc("/devices", deviceHandler.List).Methods("GET", "OPTIONS")

	r.HandleFunc("/health", healthHandler).Methods("GET")

	addr := fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port)

	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("Starting calsync agent on %s (env: %s, device: %s)", addr, cfg.Server.Env, deviceID)
		log.Printf("Cache database at %s:%s, replica at %s", cfg.Cache.Host, cfg.Cache.Port, cfg.Replica.URL)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Status server failed to start: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down agent...")

	scheduler.Stop()
	rootCancel()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatalf("Status server forced to shutdown: %v", err)
	}

	log.Println("Agent stopped gracefully")
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"healthy","service":"calsync-agent"}`))
}
