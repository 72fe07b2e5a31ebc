package settings

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/viper"
)

// Config keys
const (
	HostKey        = "host"
	PortKey        = "port"
	EnvKey         = "env"
	MediaDirKey    = "media_dir"
	MaxUploadMBKey = "max_upload_mb"
	CORSOriginsKey = "cors_origins"
	SendBufferKey  = "send_buffer"
	TURNServerKey  = "turn"
	TURNUserKey    = "turn_user"
	TURNPassKey    = "turn_pass"
	ForceRelayKey  = "force_relay"
	TUIKey         = "tui"
)

// EnvPrefix is prepended to every key when read from the environment
const EnvPrefix = "COWATCH"

// Settings holds the merged server configuration
type Settings struct {
	Host        string   `mapstructure:"host"`
	Port        int      `mapstructure:"port"`
	Env         string   `mapstructure:"env"` // dev or prod
	MediaDir    string   `mapstructure:"media_dir"`
	MaxUploadMB int64    `mapstructure:"max_upload_mb"` // 0 disables the limit
	CORSOrigins []string `mapstructure:"cors_origins"`
	SendBuffer  int      `mapstructure:"send_buffer"`

	// TURN server configuration
	TURNServer string `mapstructure:"turn"`
	TURNUser   string `mapstructure:"turn_user"`
	TURNPass   string `mapstructure:"turn_pass"`
	ForceRelay bool   `mapstructure:"force_relay"` // clients should skip direct P2P

	TUI bool `mapstructure:"tui"`
}

// DefaultSettings returns the default settings
func DefaultSettings() Settings {
	return Settings{
		Host:        "127.0.0.1",
		Port:        5757,
		Env:         "dev",
		MediaDir:    "./media",
		MaxUploadMB: 2048,
		CORSOrigins: []string{"*"},
		SendBuffer:  256,
	}
}

// Addr returns host:port for the listener
func (s Settings) Addr() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

// MaxUploadBytes converts the upload limit to bytes
func (s Settings) MaxUploadBytes() int64 {
	return s.MaxUploadMB << 20
}

// Production reports whether the server runs with production logging
func (s Settings) Production() bool {
	return s.Env == "prod"
}

// New returns a viper instance with defaults and environment bindings.
// COWATCH_<KEY> overrides any key; the bare PORT variable is honoured as
// well for hosting platforms that inject it.
func New() *viper.Viper {
	v := viper.New()
	d := DefaultSettings()

	v.SetDefault(HostKey, d.Host)
	v.SetDefault(PortKey, d.Port)
	v.SetDefault(EnvKey, d.Env)
	v.SetDefault(MediaDirKey, d.MediaDir)
	v.SetDefault(MaxUploadMBKey, d.MaxUploadMB)
	v.SetDefault(CORSOriginsKey, d.CORSOrigins)
	v.SetDefault(SendBufferKey, d.SendBuffer)
	v.SetDefault(TURNServerKey, "")
	v.SetDefault(TURNUserKey, "")
	v.SetDefault(TURNPassKey, "")
	v.SetDefault(ForceRelayKey, false)
	v.SetDefault(TUIKey, false)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	_ = v.BindEnv(PortKey, EnvPrefix+"_PORT", "PORT")

	return v
}

// ConfigPath returns the config file path.
// Uses XDG_CONFIG_HOME if set, otherwise the platform config directory.
func ConfigPath() (string, error) {
	var configDir string

	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		configDir = filepath.Join(xdg, "cowatch")
	} else {
		userConfigDir, err := os.UserConfigDir()
		if err != nil {
			return "", err
		}
		configDir = filepath.Join(userConfigDir, "cowatch")
	}

	return filepath.Join(configDir, "config.yaml"), nil
}

// ReadFile loads path into v. An empty path means ConfigPath. A missing
// file is not an error.
func ReadFile(v *viper.Viper, path string) error {
	if path == "" {
		var err error
		if path, err = ConfigPath(); err != nil {
			return err
		}
	}
	v.SetConfigFile(path)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) || errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read config %s: %w", path, err)
	}
	return nil
}

// Load decodes the merged settings from v.
// Out-of-range values fall back to their defaults.
func Load(v *viper.Viper) (Settings, error) {
	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return DefaultSettings(), fmt.Errorf("decode settings: %w", err)
	}
	s.validate()
	return s, nil
}

// validate ensures loaded settings are within valid ranges
func (s *Settings) validate() {
	d := DefaultSettings()
	if s.Port <= 0 || s.Port > 65535 {
		s.Port = d.Port
	}
	if s.Env != "prod" {
		s.Env = d.Env
	}
	if s.MaxUploadMB < 0 {
		s.MaxUploadMB = d.MaxUploadMB
	}
	if s.SendBuffer <= 0 {
		s.SendBuffer = d.SendBuffer
	}
	if s.MediaDir == "" {
		s.MediaDir = d.MediaDir
	}
	if len(s.CORSOrigins) == 0 {
		s.CORSOrigins = d.CORSOrigins
	}
}

// Save writes the current values of v to path as YAML
func Save(v *viper.Viper, path string) error {
	if path == "" {
		var err error
		if path, err = ConfigPath(); err != nil {
			return err
		}
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}

	v.SetConfigType("yaml")
	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("write config %s: %w", path, err)
	}
	return nil
}
