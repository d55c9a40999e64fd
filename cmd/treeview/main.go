// Tree View
//
// Loads the session user's files from the configured flat storage, builds
// the folder hierarchy and prints it. With a drive configured, the drive
// root is listed below it. With METRICS_ADDR set the process keeps running,
// refreshes periodically and serves Prometheus metrics until interrupted.
package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/Banbury-inc/Banbury-Website-sub002/internal/backend"
	"github.com/Banbury-inc/Banbury-Website-sub002/internal/backend/driveapi"
	"github.com/Banbury-inc/Banbury-Website-sub002/internal/backend/memory"
	"github.com/Banbury-inc/Banbury-Website-sub002/internal/backend/pgstore"
	s3storage "github.com/Banbury-inc/Banbury-Website-sub002/internal/backend/s3"
	"github.com/Banbury-inc/Banbury-Website-sub002/internal/config"
	"github.com/Banbury-inc/Banbury-Website-sub002/internal/drive"
	"github.com/Banbury-inc/Banbury-Website-sub002/internal/events"
	"github.com/Banbury-inc/Banbury-Website-sub002/internal/logging"
	"github.com/Banbury-inc/Banbury-Website-sub002/internal/metrics"
	"github.com/Banbury-inc/Banbury-Website-sub002/internal/panel"
	"github.com/Banbury-inc/Banbury-Website-sub002/pkg/models"
	"github.com/Banbury-inc/Banbury-Website-sub002/pkg/retry"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		// Can't use structured logging yet
		panic("configuration error: " + err.Error())
	}

	// Initialize structured logging
	if err := logging.Init(logging.Config{
		Level:      cfg.LogLevel,
		Format:     cfg.LogFormat,
		OutputPath: "stderr",
	}); err != nil {
		panic("logging init error: " + err.Error())
	}
	defer logging.Sync()

	logging.Info("tree view starting",
		zap.String("user", cfg.User),
		zap.String("backend", cfg.StorageBackend))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	storage, creator, closeStorage, err := openStorage(ctx, cfg)
	if err != nil {
		logging.Fatal("storage init failed", zap.Error(err))
	}
	defer closeStorage()

	broadcaster := events.NewBroadcaster()
	pcfg := panel.Config{
		User:    cfg.User,
		Storage: storage,
		Creator: creator,
		Paging: drive.Config{
			PageSize:        cfg.DrivePageSize,
			ScrollThreshold: float64(cfg.DriveScrollThreshold),
		},
		Locate: retry.Fixed(cfg.LocateInterval, cfg.LocateAttempts),
		Events: broadcaster,
	}
	if cfg.DriveAPIURL != "" {
		client := driveapi.New(driveapi.Config{
			BaseURL: cfg.DriveAPIURL,
			Timeout: cfg.DriveTimeout,
			Token:   cfg.DriveToken,
		})
		pcfg.Drive = client
		pcfg.Gate = gateFor(cfg, client)
		logging.Info("drive client initialized", zap.String("url", cfg.DriveAPIURL))
	}

	ctrl := panel.New(pcfg)
	defer ctrl.Close()

	sub := broadcaster.Subscribe()
	defer broadcaster.Unsubscribe(sub)
	go logEvents(sub)

	if err := ctrl.Refresh(ctx); err != nil {
		logging.Error("initial listing failed", zap.Error(err))
	}
	render(ctx, os.Stdout, ctrl)

	if cfg.MetricsAddr == "" {
		return
	}

	// Start metrics server
	metricsServer := &http.Server{
		Addr:    cfg.MetricsAddr,
		Handler: metrics.Handler(),
	}
	go func() {
		logging.Info("metrics server listening", zap.String("addr", cfg.MetricsAddr))
		if err := metricsServer.ListenAndServe(); err != http.ErrServerClosed {
			logging.Error("metrics server error", zap.Error(err))
		}
	}()

	// Periodic refresh
	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := ctrl.Refresh(ctx); err != nil {
					logging.Warn("periodic refresh failed", zap.Error(err))
				}
			}
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logging.Info("shutting down", zap.String("signal", sig.String()))

	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	metricsServer.Shutdown(shutdownCtx)
}

// logEvents writes every tree event as one JSON debug line.
func logEvents(sub <-chan events.Event) {
	for ev := range sub {
		data, err := events.MarshalEvent(ev)
		if err != nil {
			logging.Warn("event encode failed", zap.String("type", ev.Type), zap.Error(err))
			continue
		}
		logging.Debug("tree event", zap.ByteString("event", data))
	}
}

// openStorage selects the flat storage backend. Only the memory backend has
// a document creator.
func openStorage(ctx context.Context, cfg *config.Config) (backend.FlatStorage, backend.DocumentCreator, func(), error) {
	switch cfg.StorageBackend {
	case "s3":
		s, err := s3storage.New(ctx, s3storage.Config{
			Endpoint:  cfg.S3Endpoint,
			Bucket:    cfg.S3Bucket,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
			Region:    cfg.S3Region,
			UseSSL:    cfg.S3UseSSL,
		}, cfg.User)
		if err != nil {
			return nil, nil, nil, err
		}
		logging.Info("S3 storage initialized", zap.String("bucket", cfg.S3Bucket))
		return s, nil, func() {}, nil
	case "postgres":
		logging.Info("connecting to PostgreSQL...")
		s, err := pgstore.New(ctx, cfg.DatabaseURL, cfg.User)
		if err != nil {
			return nil, nil, nil, err
		}
		return s, nil, func() { s.Close() }, nil
	default:
		s := memory.NewStorage()
		logging.Info("memory storage initialized")
		return s, memory.NewCreator(s), func() {}, nil
	}
}

// gateFor uses FEATURES when set and otherwise asks the drive API.
func gateFor(cfg *config.Config, client *driveapi.Client) backend.FeatureGate {
	if len(cfg.Features) > 0 {
		return backend.StaticGate{backend.FeatureDrive: cfg.FeatureEnabled(backend.FeatureDrive)}
	}
	return client
}

func render(ctx context.Context, w io.Writer, ctrl *panel.Controller) {
	if b := ctrl.Banner(models.SourceFlat); b != "" {
		fmt.Fprintln(w, "! "+b)
	}
	printNodes(w, ctrl.Tree(), 0)

	status, err := ctrl.DriveSection(ctx)
	switch {
	case status == panel.DriveDisabled:
		return
	case status == panel.DriveNeedsPermission:
		fmt.Fprintln(w, "\nDrive: access not granted")
		return
	case err != nil:
		fmt.Fprintln(w, "\nDrive: "+ctrl.Banner(models.SourceDrive))
		return
	}
	fmt.Fprintln(w, "\nDrive:")
	printNodes(w, ctrl.DriveTree(), 1)
}

func printNodes(w io.Writer, nodes []*models.TreeNode, depth int) {
	for _, n := range nodes {
		name := n.Name
		switch {
		case n.IsFolder() && n.Unloaded:
			name += "/ ..."
		case n.IsFolder():
			name += "/"
		}
		fmt.Fprintf(w, "%s%s\n", strings.Repeat("  ", depth), name)
		printNodes(w, n.Children, depth+1)
	}
}
