package main

import (
	"auction-room/internal/admission"
	bidding "auction-room/internal/biddingService"
	"auction-room/internal/config"
	"auction-room/internal/fabric"
	"auction-room/internal/repository"
	"auction-room/internal/rooms"
	"auction-room/internal/server"
	"auction-room/internal/session"
	handler "auction-room/services/bidding/handler"
	"auction-room/utils"
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"time"

	gfshutdown "github.com/gelmium/graceful-shutdown"
	"github.com/gin-gonic/gin"
)

func main() {
	configPath := flag.String("config", os.Getenv("AUCTION_ROOM_CONFIG"), "Path to configuration file")
	envPath := flag.String("env", ".env", "Path to .env file")
	flag.Parse()

	if err := config.LoadEnvFile(*envPath); err != nil {
		utils.Warn("Error loading .env file", map[string]any{"error": err.Error()})
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		utils.Fatal("Failed to load configuration", map[string]any{"error": err.Error()})
	}

	logCloser, err := utils.ConfigureLogger(cfg.Log)
	if err != nil {
		utils.Fatal("Failed to configure logger", map[string]any{"error": err.Error()})
	}

	ctx := context.Background()

	ledger, err := openLedger(ctx, cfg)
	if err != nil {
		utils.Fatal("Failed to open ledger", map[string]any{"driver": cfg.Ledger.Driver, "error": err.Error()})
	}

	if err := prepopulateAuctions(ctx, ledger, cfg.Auctions); err != nil {
		utils.Fatal("Failed to seed auctions", map[string]any{"error": err.Error()})
	}

	fab, err := openFabric(ctx, cfg.Fabric)
	if err != nil {
		utils.Fatal("Failed to connect broadcast fabric", map[string]any{"driver": cfg.Fabric.Driver, "error": err.Error()})
	}

	gate := admission.NewGate(ledger, fab, cfg.Admission)
	registry := rooms.NewRegistry(ledger, fab, cfg.Rooms)
	roomHandler := handler.NewRoomHandler(session.Deps{Gate: gate, Ledger: ledger, Rooms: registry}, registry, cfg.Session)
	biddingSvc := bidding.NewBiddingService(ledger, gate)

	gin.SetMode(gin.ReleaseMode)
	router := server.SetupRouter(biddingSvc, roomHandler)

	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		utils.Info("Starting auction server", map[string]any{
			"addr":   srv.Addr,
			"ledger": cfg.Ledger.Driver,
			"fabric": cfg.Fabric.Driver,
		})
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			utils.Fatal("Failed to start server", map[string]any{"error": err.Error()})
		}
	}()

	// Shutdown order matters: stop accepting, close sessions, then drop feeds and backends
	wait := gfshutdown.GracefulShutdown(ctx, cfg.Server.ShutdownTimeout, map[string]gfshutdown.Operation{
		"auction-room": func(ctx context.Context) error {
			utils.Info("Graceful shutdown initiated", nil)
			var errs []error
			if err := srv.Shutdown(ctx); err != nil {
				errs = append(errs, fmt.Errorf("http server: %w", err))
			}
			if err := roomHandler.Shutdown(ctx); err != nil {
				errs = append(errs, fmt.Errorf("sessions: %w", err))
			}
			registry.Close()
			if err := fab.Close(); err != nil {
				errs = append(errs, fmt.Errorf("fabric: %w", err))
			}
			if err := ledger.Close(); err != nil {
				errs = append(errs, fmt.Errorf("ledger: %w", err))
			}
			_ = logCloser.Close()
			return errors.Join(errs...)
		},
	})

	exitCode := <-wait
	utils.Info("Auction server exited", map[string]any{"exit_code": exitCode})
	os.Exit(exitCode)
}

// openLedger returns the ledger selected by configuration
func openLedger(ctx context.Context, cfg config.Config) (repository.Ledger, error) {
	switch cfg.Ledger.Driver {
	case config.LedgerSQLite:
		return repository.OpenSQLite(cfg.Ledger.SQLitePath)
	case config.LedgerPostgres:
		return repository.NewPostgresRepo(ctx, cfg.Ledger.DatabaseURL, cfg.Admission.LockTimeout)
	default:
		return repository.NewMemoryRepo(), nil
	}
}

// openFabric returns the broadcast fabric selected by configuration
func openFabric(ctx context.Context, cfg config.FabricConfig) (fabric.Fabric, error) {
	switch cfg.Driver {
	case config.FabricRedis:
		return fabric.DialRedis(ctx, cfg.RedisURL, cfg.Prefix, cfg.BufferSize)
	case config.FabricNats:
		return fabric.DialNats(cfg.NatsURL, cfg.Prefix, cfg.BufferSize)
	default:
		return fabric.NewMemoryFabric(cfg.BufferSize), nil
	}
}

// prepopulateAuctions registers the configured auctions in the ledger
func prepopulateAuctions(ctx context.Context, ledger repository.Ledger, seeds []config.AuctionSeed) error {
	for _, seed := range seeds {
		auction, err := seed.Auction()
		if err != nil {
			return fmt.Errorf("auction %q: %w", seed.ID, err)
		}
		if err := ledger.AddAuction(ctx, auction); err != nil {
			return err
		}
	}
	utils.Info("Auctions seeded", map[string]any{"count": len(seeds)})
	return nil
}
