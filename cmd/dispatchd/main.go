// Package main is the entry point for the Agent Dispatch Manager service.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/kandev/agentdispatch/internal/common/config"
	"github.com/kandev/agentdispatch/internal/common/httpmw"
	"github.com/kandev/agentdispatch/internal/common/logger"
	"github.com/kandev/agentdispatch/internal/dispatch"
	"github.com/kandev/agentdispatch/internal/dispatchapi"
	"github.com/kandev/agentdispatch/internal/eventbus"
	"github.com/kandev/agentdispatch/internal/taskstore"
)

func main() {
	devFlag := flag.Bool("dev", false, "run in dev mode: disable auth verification regardless of config")
	memStoreFlag := flag.Bool("mem-store", false, "use an in-process task store instead of Postgres")
	memBusFlag := flag.Bool("mem-bus", false, "use an in-process event publisher instead of NATS")
	flag.Parse()

	// 1. Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	if *devFlag {
		cfg.Dispatch.DevMode = true
	}

	// 2. Initialize logger
	log, err := logger.New(logger.Config{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		OutputPath: cfg.Logging.OutputPath,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	logger.SetDefault(log)

	log.Info("starting dispatchd", zap.Bool("dev_mode", cfg.Dispatch.DevMode))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 3. Task store: Postgres unless running as a standalone demo.
	var store dispatch.TaskStore
	var db *taskstore.DB
	if *memStoreFlag {
		log.Info("using in-memory task store")
		store = taskstore.NewMemoryStore()
	} else {
		db, err = taskstore.NewDB(ctx, cfg.Database)
		if err != nil {
			log.Fatal("failed to connect to database", zap.Error(err))
		}
		defer db.Close()
		store = taskstore.NewPostgresStore(db)
		log.Info("connected to postgres task store")
	}

	// 4. Lifecycle event publisher: NATS unless running as a standalone demo.
	var pub dispatch.EventPublisher
	var natsPub *eventbus.NATSPublisher
	if *memBusFlag {
		log.Info("using in-memory event publisher")
		pub = eventbus.NewMemoryPublisher()
	} else {
		natsPub, err = eventbus.NewNATSPublisher(cfg.NATS, log)
		if err != nil {
			log.Fatal("failed to connect to nats", zap.Error(err))
		}
		defer natsPub.Close()
		pub = natsPub
	}

	// 5. Auth verifier and broker. Auto-authentication is never the
	// zero-config default: without a secret or token, startup fails unless
	// -dev or DISPATCHD_DISPATCH_DEV_MODE=true is given.
	if !cfg.Dispatch.DevMode && !cfg.Dispatch.AuthRequired() {
		log.Fatal("no auth secret or token configured; set them or run with -dev")
	}
	auth := dispatch.NewAuth(cfg.Dispatch.AuthSecret, cfg.Dispatch.ExpectedToken)
	if cfg.Dispatch.DevMode {
		auth = dispatch.NewAuth("", "")
	}

	managerCfg := dispatch.Config{
		HeartbeatInterval: cfg.Dispatch.HeartbeatInterval(),
		ClientTimeout:     cfg.Dispatch.ClientTimeout(),
		AuthTimeout:       cfg.Dispatch.AuthTimeout(),
		MaxPendingPerWS:   cfg.Dispatch.MaxPendingQueue,
		CompletedMax:      cfg.Dispatch.CompletedMaxSize,
		DefaultLease:      cfg.Dispatch.DefaultLease(),
		AckExtend:         cfg.Dispatch.AckExtend(),
		ProgressReset:     cfg.Dispatch.ProgressReset(),
		LeaseCap:          cfg.Dispatch.LeaseCap(),
		MaxAttempts:       cfg.Dispatch.MaxFlushAttempts,
		DispatchTimeout:   cfg.Dispatch.DispatchTimeout(),
	}
	manager := dispatch.NewManager(managerCfg, auth, store, pub, log)

	// 6. Periodic sweep of sessions that stopped heartbeating without a
	// clean disconnect (§5).
	go func() {
		ticker := time.NewTicker(managerCfg.HeartbeatInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				manager.SweepExpiredSessions()
			}
		}
	}()

	// 7. HTTP server.
	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(httpmw.RequestLogger(log, "dispatchd"))
	router.Use(httpmw.Recovery(log))
	router.Use(httpmw.CORS())

	v1 := router.Group("/api/v1/dispatch")
	dispatchapi.SetupRoutes(v1, manager, log)

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	port := cfg.Server.Port
	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeoutDuration(),
		WriteTimeout: cfg.Server.WriteTimeoutDuration(),
	}

	go func() {
		log.Info("http server listening", zap.Int("port", port))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("failed to start http server", zap.Error(err))
		}
	}()

	// 8. Wait for shutdown signal.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down dispatchd")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("http server shutdown error", zap.Error(err))
	}

	log.Info("dispatchd stopped")
}
