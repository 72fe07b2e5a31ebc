// Command cowatch runs the watch-party relay: browsers create or join a
// PIN-protected room over /ws and every message one member sends is relayed
// to the others.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/tomaslejdung/cowatch/pkg/ice"
	"github.com/tomaslejdung/cowatch/pkg/media"
	"github.com/tomaslejdung/cowatch/pkg/relay"
	"github.com/tomaslejdung/cowatch/pkg/settings"
)

func main() {
	// .env is optional
	_ = godotenv.Load()

	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	v := settings.New()
	var cfgFile string

	root := &cobra.Command{
		Use:   "cowatch",
		Short: "Watch-party session relay",
		Long: `CoWatch keeps small rooms of browsers in sync while they watch a video
together. Clients connect to /ws, create or join a room with a PIN and from
then on everything they send is relayed to the other members.

Configuration is read from flags, COWATCH_* environment variables (PORT is
honoured too), a .env file and $XDG_CONFIG_HOME/cowatch/config.yaml.`,
		Example: `  cowatch                       # listen on 127.0.0.1:5757
  cowatch --host 0.0.0.0 -p 80  # public listener
  cowatch --tui                 # with live room dashboard
  cowatch ping                  # check a running relay`,
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return settings.ReadFile(v, cfgFile)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := settings.Load(v)
			if err != nil {
				return err
			}
			return runServer(cmd.Context(), s)
		},
	}

	root.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $XDG_CONFIG_HOME/cowatch/config.yaml)")
	bindServerFlags(root.PersistentFlags(), v)

	root.AddCommand(newPingCmd(), newConfigCmd(v, &cfgFile))

	root.SetErrPrefix("cowatch:")
	return root
}

// newLogger returns a JSON logger at INFO for prod and a text logger at
// DEBUG otherwise
func newLogger(s settings.Settings, w io.Writer) *slog.Logger {
	if s.Production() {
		return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

func runServer(ctx context.Context, s settings.Settings) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	var logOut io.Writer = os.Stderr
	if s.TUI {
		// Write logs to file instead of corrupting the dashboard
		logFile, err := openDebugLog()
		if err != nil {
			logOut = io.Discard
		} else {
			logOut = logFile
			defer logFile.Close()
		}
	}
	logger := newLogger(s, logOut)
	slog.SetDefault(logger)

	store, err := media.NewStore(s.MediaDir, s.MaxUploadBytes(), logger)
	if err != nil {
		return err
	}

	iceConfig := ice.FromSettings(s).Configuration()
	srv := relay.NewServer(relay.Options{
		Logger:      logger,
		Metrics:     relay.NewMetrics(),
		SendBuffer:  s.SendBuffer,
		CORSOrigins: s.CORSOrigins,
		ICEServers:  iceConfig.ICEServers,
		ForceRelay:  s.ForceRelay,
		Media:       store,
	})

	logger.Info("server.config",
		"addr", s.Addr(), "env", s.Env, "media_dir", store.Dir(),
		"max_upload_mb", s.MaxUploadMB, "force_relay", s.ForceRelay)

	if !s.TUI {
		return srv.ListenAndServe(ctx, s.Addr())
	}

	ctx, cancel := context.WithCancel(ctx)
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe(ctx, s.Addr())
		cancel()
	}()

	tuiErr := RunTUI(ctx, srv.Registry(), s.Addr())
	cancel()
	if err := <-errCh; err != nil {
		return fmt.Errorf("server: %w", err)
	}
	return tuiErr
}
