//////////////////////////////////////////////////////////////////////////////
//
// Config contains configuration data for the capture pipeline
//
//////////////////////////////////////////////////////////////////////////////

package movecam

import (
	"os"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

type Config struct {
	// Device is the V4L2 capture device.
	Device string `yaml:"device"`

	// Helper is the camera helper character device. An empty value asks
	// the pipeline to fall back: in-process helper first, then direct
	// device access.
	Helper string `yaml:"helper"`

	FPS     uint32 `yaml:"fps"`
	Buffers int    `yaml:"buffers"`

	// EnvFile carries the inference server address as a single IP:PORT
	// line. ServerAddr, when set, wins.
	EnvFile    string `yaml:"env_file"`
	ServerAddr string `yaml:"server_addr"`

	// PreviewAddr serves the overlay preview over HTTP; empty disables it.
	PreviewAddr string `yaml:"preview_addr"`

	// Workers sizes the inference submission pool.
	Workers int `yaml:"workers"`

	// SubmitIntervalMS paces inference submissions from the capture loop.
	SubmitIntervalMS int `yaml:"submit_interval_ms"`

	// Threshold is the minimum keypoint score drawn on the preview.
	Threshold float32 `yaml:"threshold"`

	// Dump writes the first captured frame to this path for debugging.
	Dump string `yaml:"dump"`
}

// DefaultConfig mirrors the original deployment constants.
func DefaultConfig() Config {
	return Config{
		Device:           "/dev/video0",
		Helper:           "/dev/camhelper",
		FPS:              30,
		Buffers:          1,
		EnvFile:          "moveneter_sdk/env",
		Workers:          20,
		SubmitIntervalMS: 150,
		Threshold:        0.25,
	}
}

// LoadConfig overlays a YAML file onto the defaults. An empty path
// returns the defaults untouched.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, errors.Wrap(err, "read config")
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, errors.Wrap(err, "parse config")
	}
	return cfg, cfg.validate()
}

func (c *Config) validate() error {
	if c.Device == "" {
		return errors.New("config: device is required")
	}
	if c.FPS == 0 {
		return errors.New("config: fps must be positive")
	}
	if c.Workers <= 0 {
		return errors.New("config: workers must be positive")
	}
	if c.SubmitIntervalMS < 0 {
		return errors.New("config: submit interval must not be negative")
	}
	return nil
}
