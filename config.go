package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/tomaslejdung/cowatch/pkg/settings"
)

// bindServerFlags registers the server flags on fs and binds each one to its
// viper key, so flags win over environment, config file and defaults
func bindServerFlags(fs *pflag.FlagSet, v *viper.Viper) {
	d := settings.DefaultSettings()

	fs.String("host", d.Host, "Interface to listen on")
	fs.IntP("port", "p", d.Port, "Port to listen on")
	fs.String("env", d.Env, "Environment (dev|prod); prod switches to JSON logs")
	fs.String("media-dir", d.MediaDir, "Directory for uploaded videos")
	fs.Int64("max-upload-mb", d.MaxUploadMB, "Upload size limit in MiB (0 = unlimited)")
	fs.StringSlice("cors-origins", d.CORSOrigins, "Allowed CORS origins for the HTTP API")
	fs.Int("send-buffer", d.SendBuffer, "Outbound queue length per connection")

	// TURN server flags
	fs.String("turn", "", "TURN server URL (e.g., turn:turn.example.com:3478)")
	fs.String("turn-user", "", "TURN server username")
	fs.String("turn-pass", "", "TURN server password")
	fs.Bool("force-relay", false, "Tell clients to use TURN relay only (no direct P2P)")

	fs.Bool("tui", false, "Show the live room dashboard")

	for _, key := range []string{
		settings.HostKey, settings.PortKey, settings.EnvKey, settings.MediaDirKey,
		settings.MaxUploadMBKey, settings.CORSOriginsKey, settings.SendBufferKey,
		settings.TURNServerKey, settings.TURNUserKey, settings.TURNPassKey,
		settings.ForceRelayKey, settings.TUIKey,
	} {
		_ = v.BindPFlag(key, fs.Lookup(flagName(key)))
	}
}

// flagName maps a config key to its flag (media_dir -> media-dir)
func flagName(key string) string {
	return strings.ReplaceAll(key, "_", "-")
}

// newConfigCmd prints the effective settings and optionally persists them
func newConfigCmd(v *viper.Viper, cfgFile *string) *cobra.Command {
	var write bool

	cmd := &cobra.Command{
		Use:   "config",
		Short: "Show the effective configuration",
		Long: `Prints the configuration after merging flags, COWATCH_* environment
variables, the config file and defaults. With --write the result is saved to
the config file so later runs pick it up.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := settings.Load(v)
			if err != nil {
				return err
			}
			printSettings(cmd.OutOrStdout(), s)

			if !write {
				return nil
			}
			path := *cfgFile
			if path == "" {
				if path, err = settings.ConfigPath(); err != nil {
					return err
				}
			}
			if err := settings.Save(v, path); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "\nSaved to %s\n", path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&write, "write", false, "Save the effective configuration to the config file")
	return cmd
}

func printSettings(w io.Writer, s settings.Settings) {
	pass := ""
	if s.TURNPass != "" {
		pass = "********"
	}

	rows := [][2]string{
		{settings.HostKey, s.Host},
		{settings.PortKey, fmt.Sprint(s.Port)},
		{settings.EnvKey, s.Env},
		{settings.MediaDirKey, s.MediaDir},
		{settings.MaxUploadMBKey, fmt.Sprint(s.MaxUploadMB)},
		{settings.CORSOriginsKey, strings.Join(s.CORSOrigins, ",")},
		{settings.SendBufferKey, fmt.Sprint(s.SendBuffer)},
		{settings.TURNServerKey, s.TURNServer},
		{settings.TURNUserKey, s.TURNUser},
		{settings.TURNPassKey, pass},
		{settings.ForceRelayKey, fmt.Sprint(s.ForceRelay)},
		{settings.TUIKey, fmt.Sprint(s.TUI)},
	}
	for _, row := range rows {
		fmt.Fprintf(w, "%-14s %s\n", row[0]+":", row[1])
	}
}
