// Package config provides configuration management for cortexmotion
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"

	"github.com/normanking/cortexmotion/internal/audio"
	"github.com/normanking/cortexmotion/internal/control"
	"github.com/normanking/cortexmotion/internal/engine"
	"github.com/normanking/cortexmotion/internal/logging"
)

const envPrefix = "CORTEXMOTION"

// Config holds all application configuration
type Config struct {
	Avatar  AvatarConfig   `mapstructure:"avatar"`
	Clips   ClipsConfig    `mapstructure:"clips"`
	Engine  engine.Options `mapstructure:"engine"`
	Audio   AudioConfig    `mapstructure:"audio"`
	Control ControlConfig  `mapstructure:"control"`
	Logging logging.Config `mapstructure:"logging"`
}

// AvatarConfig names the model to drive.
type AvatarConfig struct {
	Path      string `mapstructure:"path"` // .vrm, .glb or .gltf
	FrameRate int    `mapstructure:"frame_rate"`
}

// ClipsConfig locates animation clips.
type ClipsConfig struct {
	Dir   string `mapstructure:"dir"`
	Idle  string `mapstructure:"idle"` // played immediately on start
	Watch bool   `mapstructure:"watch"`
}

// AudioConfig configures the lip-sync audio path.
type AudioConfig struct {
	File     string               `mapstructure:"file"` // .wav, or raw PCM in Format
	Format   audio.Format         `mapstructure:"format"`
	Analyser audio.AnalyserConfig `mapstructure:"analyser"`
	VAD      audio.VADConfig      `mapstructure:"vad"`
	Stream   audio.StreamConfig   `mapstructure:"stream"`
}

// ControlConfig configures the WebSocket control server.
type ControlConfig struct {
	Enabled bool `mapstructure:"enabled"`

	control.Config `mapstructure:",squash"`
}

// DefaultConfig returns sensible default configuration
func DefaultConfig() *Config {
	return &Config{
		Avatar: AvatarConfig{
			FrameRate: 60,
		},
		Clips: ClipsConfig{
			Dir:   "clips",
			Idle:  "idle",
			Watch: true,
		},
		Engine: engine.DefaultOptions(),
		Audio: AudioConfig{
			Format:   audio.DefaultFormat(),
			Analyser: audio.DefaultAnalyserConfig(),
			VAD:      *audio.DefaultVADConfig(),
			Stream:   audio.DefaultStreamConfig(),
		},
		Control: ControlConfig{
			Enabled: true,
			Config:  control.DefaultConfig(),
		},
		Logging: logging.DefaultConfig(),
	}
}

// Load reads configuration from path, or from config.yaml in the config
// directory or the working directory when path is empty. Environment
// variables such as CORTEXMOTION_AVATAR_PATH override file values.
func Load(path string) (*Config, error) {
	v, err := newViper()
	if err != nil {
		return nil, err
	}

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		if dir, err := GetConfigDir(); err == nil {
			v.AddConfigPath(dir)
		}
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	return cfg, nil
}

func newViper() (*viper.Viper, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	defaults, err := AsMap(DefaultConfig())
	if err != nil {
		return nil, err
	}
	for k, val := range defaults {
		v.SetDefault(k, val)
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v, nil
}

// Save writes cfg as YAML to path, or to config.yaml in the config
// directory when path is empty.
func Save(cfg *Config, path string) error {
	if path == "" {
		dir, err := GetConfigDir()
		if err != nil {
			return err
		}
		path = filepath.Join(dir, "config.yaml")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}

	values, err := AsMap(cfg)
	if err != nil {
		return err
	}
	v := viper.New()
	v.SetConfigType("yaml")
	if err := v.MergeConfigMap(values); err != nil {
		return err
	}
	return v.WriteConfigAs(path)
}

// AsMap flattens cfg into nested maps keyed by mapstructure tags.
func AsMap(cfg *Config) (map[string]any, error) {
	out := make(map[string]any)
	if err := mapstructure.Decode(cfg, &out); err != nil {
		return nil, fmt.Errorf("encode config: %w", err)
	}
	return out, nil
}

// GetConfigDir returns the configuration directory path
func GetConfigDir() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(homeDir, ".cortexmotion"), nil
}
