// Command server is the headless relay for container deployments. It is
// configured from the environment only: PORT (default 8080), COWATCH_HOST,
// COWATCH_MEDIA_DIR, COWATCH_CORS_ORIGINS and the TURN variables.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/tomaslejdung/cowatch/pkg/ice"
	"github.com/tomaslejdung/cowatch/pkg/media"
	"github.com/tomaslejdung/cowatch/pkg/relay"
	"github.com/tomaslejdung/cowatch/pkg/settings"
)

func main() {
	_ = godotenv.Load()

	logger := slog.New(slog.NewJSONHandler(os.Stderr, nil))
	s, err := loadSettings()
	if err != nil {
		logger.Error("server.config", "err", err)
		os.Exit(1)
	}
	slog.SetDefault(logger)

	srv, err := newServer(s, logger)
	if err != nil {
		logger.Error("server.media", "err", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := srv.ListenAndServe(ctx, s.Addr()); err != nil {
		logger.Error("server.exit", "err", err)
		os.Exit(1)
	}
}

// loadSettings reads the environment with container defaults.
func loadSettings() (settings.Settings, error) {
	v := settings.New()
	// Containers bind every interface and default to 8080.
	v.SetDefault(settings.HostKey, "0.0.0.0")
	v.SetDefault(settings.PortKey, 8080)
	v.SetDefault(settings.EnvKey, "prod")
	return settings.Load(v)
}

func newServer(s settings.Settings, logger *slog.Logger) (*relay.Server, error) {
	store, err := media.NewStore(s.MediaDir, s.MaxUploadBytes(), logger)
	if err != nil {
		return nil, err
	}

	iceConfig := ice.FromSettings(s).Configuration()
	return relay.NewServer(relay.Options{
		Logger:      logger,
		Metrics:     relay.NewMetrics(),
		SendBuffer:  s.SendBuffer,
		CORSOrigins: s.CORSOrigins,
		ICEServers:  iceConfig.ICEServers,
		ForceRelay:  s.ForceRelay,
		Media:       store,
	}), nil
}
