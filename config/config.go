package config

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
	"go.uber.org/zap"

	"astro-live-stacker/camera"
)

// Config represents the application configuration
type Config struct {
	Driver  DriverConfig  `toml:"driver" json:"driver"`
	Camera  CameraConfig  `toml:"camera" json:"camera"`
	Server  ServerConfig  `toml:"server" json:"server"`
	Storage StorageConfig `toml:"storage" json:"storage"`
	Logging LoggingConfig `toml:"logging" json:"logging"`
}

// DriverConfig selects and configures the camera driver
type DriverConfig struct {
	// Name of the driver: sim, gstreamer, or the suffix of a loadable
	// libols_driver_<name>.so plugin
	Name string `toml:"name" json:"name"`

	// SearchPath is the directory scanned for driver plugins
	SearchPath string `toml:"search_path" json:"search_path"`

	// ConfigString is handed to the plugin's config entry point when set
	ConfigString string `toml:"config_string" json:"config_string"`

	// ExternalOption is the opaque integer forwarded to the driver
	// factory (e.g. JPEG quality for the gstreamer driver)
	ExternalOption int `toml:"external_option" json:"external_option"`

	// Device is the capture device used by the gstreamer driver
	Device string `toml:"device" json:"device"`
}

// CameraConfig holds camera and stream format settings
type CameraConfig struct {
	Index  int     `toml:"index" json:"index"`
	Format string  `toml:"format" json:"format"`
	Width  int     `toml:"width" json:"width"`
	Height int     `toml:"height" json:"height"`
	FPS    float64 `toml:"fps" json:"fps"`
	Bin    int     `toml:"bin" json:"bin"`
}

// StreamFormat converts the configured format section into a camera
// stream format.
func (c CameraConfig) StreamFormat() (camera.StreamFormat, error) {
	typ, err := camera.StreamTypeFromString(c.Format)
	if err != nil {
		return camera.StreamFormat{}, fmt.Errorf("invalid camera format %q: %w", c.Format, err)
	}
	return camera.StreamFormat{
		Type:      typ,
		Width:     c.Width,
		Height:    c.Height,
		Bin:       c.Bin,
		Framerate: c.FPS,
	}, nil
}

// ServerConfig holds web server settings
type ServerConfig struct {
	WebPort int    `toml:"web_port" json:"web_port"`
	BindIP  string `toml:"bind_ip" json:"bind_ip"`
}

// StorageConfig holds output path settings
type StorageConfig struct {
	// DataDir is the root directory for stacked output and saved inputs
	DataDir string `toml:"data_dir" json:"data_dir"`
}

// LoggingConfig holds logging settings
type LoggingConfig struct {
	Level              string `toml:"level" json:"level"`
	MaxLogFiles        int    `toml:"max_log_files" json:"max_log_files"`
	QueueStatsInterval int    `toml:"queue_stats_interval_seconds" json:"queue_stats_interval_seconds"`
}

// LoadConfig loads configuration from a TOML file
func LoadConfig(configPath string) (*Config, error) {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	// Set default values
	config := &Config{
		Driver: DriverConfig{
			Name:       "sim",
			SearchPath: "drivers",
			Device:     "/dev/video0",
		},
		Camera: CameraConfig{
			Index:  0,
			Format: "raw16",
			Width:  1280,
			Height: 960,
			FPS:    10,
			Bin:    1,
		},
		Server: ServerConfig{
			WebPort: 8080,
			BindIP:  "0.0.0.0",
		},
		Storage: StorageConfig{
			DataDir: "data",
		},
		Logging: LoggingConfig{
			Level:              "info",
			MaxLogFiles:        20,
			QueueStatsInterval: 60,
		},
	}

	// Load from file if it exists
	if _, err := os.Stat(configPath); err == nil {
		if _, err := toml.DecodeFile(configPath, config); err != nil {
			return nil, fmt.Errorf("failed to decode config file: %w", err)
		}
		logger.Info("Config loaded from file", zap.String("path", configPath))
	} else {
		logger.Info("Config file not found, using defaults", zap.String("path", configPath))
	}

	return config, nil
}

// SaveConfig saves the current configuration to a file
func SaveConfig(config *Config, configPath string) error {
	file, err := os.Create(configPath)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer file.Close()

	encoder := toml.NewEncoder(file)
	if err := encoder.Encode(config); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}

	return nil
}
