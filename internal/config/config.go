// Package config loads the node configuration: defaults, then a YAML
// file, then environment variables, highest priority last.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// Duration parses YAML values like "250ms" or "1s".
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	parsed, err := time.ParseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("config: bad duration %q: %w", value.Value, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) Std() time.Duration { return time.Duration(d) }

// Parameter is one nodemap write applied at startup, in order.
type Parameter struct {
	Name  string `yaml:"name"`
	Value string `yaml:"value"`
}

type Config struct {
	Node struct {
		Name    string `yaml:"name" env:"CAMNODE_NAME"`
		Serial  string `yaml:"serial" env:"CAMNODE_SERIAL"` // empty = first device found
		FrameID string `yaml:"frame_id" env:"CAMNODE_FRAME_ID"`
	} `yaml:"node"`

	Camera struct {
		Transport     string  `yaml:"transport" env:"CAMNODE_CAMERA_TRANSPORT"`
		Width         int     `yaml:"width"`
		Height        int     `yaml:"height"`
		FrameRate     float64 `yaml:"frame_rate"`
		ClockDriftPPM float64 `yaml:"clock_drift_ppm"`
	} `yaml:"camera"`

	Transport struct {
		PubEndpoint     string `yaml:"pub_endpoint" env:"CAMNODE_PUB_ENDPOINT"`
		ControlEndpoint string `yaml:"control_endpoint" env:"CAMNODE_CONTROL_ENDPOINT"`
	} `yaml:"transport"`

	Acquisition struct {
		Workers   int `yaml:"workers" env:"CAMNODE_WORKERS"`
		QueueSize int `yaml:"queue_size"`
	} `yaml:"acquisition"`

	Parameters []Parameter `yaml:"parameters"`

	Exposure struct {
		Controller       string  `yaml:"controller" env:"CAMNODE_EXPOSURE_CONTROLLER"` // "master", "follower" or "" for none
		TargetBrightness int     `yaml:"target_brightness"`
		Deadband         int     `yaml:"deadband"`
		MinExposureTime  uint32  `yaml:"min_exposure_time"`
		MaxExposureTime  uint32  `yaml:"max_exposure_time"`
		MinGain          float64 `yaml:"min_gain"`
		MaxGain          float64 `yaml:"max_gain"`
		MaxWaitFrames    int     `yaml:"max_wait_frames"`
	} `yaml:"exposure"`

	Timesync struct {
		MinSamples int      `yaml:"min_samples"`
		Alpha      float64  `yaml:"alpha"`
		MaxSkew    Duration `yaml:"max_skew"`
	} `yaml:"timesync"`

	Recording struct {
		Enabled bool   `yaml:"enabled" env:"CAMNODE_RECORDING"`
		Dir     string `yaml:"dir" env:"CAMNODE_RECORDING_DIR"`
		Images  bool   `yaml:"images" env:"CAMNODE_RECORDING_IMAGES"`
	} `yaml:"recording"`

	Monitor struct {
		Port   int      `yaml:"port" env:"CAMNODE_MONITOR_PORT"`
		UIRate Duration `yaml:"ui_rate"`
	} `yaml:"monitor"`

	Logging struct {
		Level      string `yaml:"level" env:"CAMNODE_LOG_LEVEL"`
		File       string `yaml:"file" env:"CAMNODE_LOG_FILE"`
		MaxSizeMB  int    `yaml:"max_size_mb"`
		MaxBackups int    `yaml:"max_backups"`
		Console    bool   `yaml:"console"`
	} `yaml:"logging"`
}

func Default() Config {
	var c Config
	c.Node.Name = "cam0"
	c.Node.FrameID = "camera_link"
	c.Camera.Transport = "sim"
	c.Camera.Width = 320
	c.Camera.Height = 240
	c.Camera.FrameRate = 20
	c.Transport.PubEndpoint = "tcp://*:31500"
	c.Transport.ControlEndpoint = "tcp://localhost:31500"
	c.Acquisition.Workers = 2
	c.Acquisition.QueueSize = 16
	c.Exposure.TargetBrightness = 100
	c.Exposure.Deadband = 5
	c.Exposure.MaxGain = 30
	c.Timesync.MinSamples = 10
	c.Timesync.Alpha = 0.05
	c.Timesync.MaxSkew = Duration(250 * time.Millisecond)
	c.Recording.Dir = "rawlog"
	c.Monitor.Port = 8890
	c.Monitor.UIRate = Duration(time.Second)
	c.Logging.Level = "info"
	c.Logging.MaxSizeMB = 50
	c.Logging.MaxBackups = 5
	c.Logging.Console = true
	return c
}

// Load builds the effective configuration. An empty path skips the file
// layer.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	if err := env.Parse(&cfg); err != nil {
		return cfg, fmt.Errorf("config: environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.Node.Name == "" {
		return fmt.Errorf("config: node.name is required")
	}
	if c.Transport.PubEndpoint == "" {
		return fmt.Errorf("config: transport.pub_endpoint is required")
	}
	switch c.Exposure.Controller {
	case "", "master", "follower":
	default:
		return fmt.Errorf("config: unknown exposure.controller %q", c.Exposure.Controller)
	}
	if c.Exposure.Controller == "follower" && c.Transport.ControlEndpoint == "" {
		return fmt.Errorf("config: follower requires transport.control_endpoint")
	}
	if c.Acquisition.Workers < 1 {
		c.Acquisition.Workers = 1
	}
	if c.Acquisition.QueueSize < 1 {
		c.Acquisition.QueueSize = 1
	}
	if c.Monitor.Port < 0 || c.Monitor.Port > 65535 {
		return fmt.Errorf("config: monitor.port %d out of range", c.Monitor.Port)
	}
	return nil
}
