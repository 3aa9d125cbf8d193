// Package config loads screenshare settings from a YAML file, the
// environment (SCREENSHARE_ prefix) and built-in defaults.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/kkyr/fig"

	"screenshare/internal/engine"
	"screenshare/internal/types"
)

const (
	EnvPrefix = "SCREENSHARE"
	FileName  = "screenshare.yaml"
)

type Config struct {
	Capture struct {
		Display      int           `fig:"display"` // index into the enumerated list, primary first
		FPS          int           `fig:"fps" default:"30"`
		FrameQueue   int           `fig:"frame_queue" default:"4"`
		StartTimeout time.Duration `fig:"start_timeout" default:"10s"`
	} `fig:"capture"`
	Audio struct {
		Source     string `fig:"source" default:"system"`
		SampleRate int    `fig:"sample_rate" default:"48000"`
		Channels   int    `fig:"channels" default:"2"`
		BufferMs   int    `fig:"buffer_ms" default:"500"`
	} `fig:"audio"`
	Log struct {
		Level   string `fig:"level" default:"info"`
		Format  string `fig:"format" default:"console"`
		NoColor bool   `fig:"no_color"`
	} `fig:"log"`
	Metrics struct {
		Addr string `fig:"addr"`
	} `fig:"metrics"`
}

// Load reads path if given, otherwise looks for screenshare.yaml in the
// working directory, ./configs and ~/.screenshare. A missing file is not an
// error; defaults and environment variables still apply. The result is not
// validated so that command-line overrides can be applied first.
func Load(path string) (*Config, error) {
	if path != "" {
		return load([]string{filepath.Dir(path)}, filepath.Base(path), false)
	}
	dirs := []string{".", "configs"}
	if home, err := os.UserHomeDir(); err == nil {
		dirs = append(dirs, filepath.Join(home, ".screenshare"))
	}
	return load(dirs, FileName, true)
}

func load(dirs []string, file string, optional bool) (*Config, error) {
	var c Config
	err := fig.Load(&c, fig.File(file), fig.Dirs(dirs...), fig.UseEnv(EnvPrefix))
	if err != nil && optional && errors.Is(err, fig.ErrFileNotFound) {
		c = Config{}
		err = fig.Load(&c, fig.IgnoreFile(), fig.UseEnv(EnvPrefix))
	}
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return &c, nil
}

func (c *Config) Validate() error {
	var errs []error
	if c.Capture.Display < 0 {
		errs = append(errs, fmt.Errorf("capture.display %d is negative", c.Capture.Display))
	}
	if c.Capture.FPS < 1 || c.Capture.FPS > 120 {
		errs = append(errs, fmt.Errorf("capture.fps %d out of range 1..120", c.Capture.FPS))
	}
	if c.Capture.FrameQueue < 1 {
		errs = append(errs, fmt.Errorf("capture.frame_queue must be positive"))
	}
	src, err := types.ParseAudioSource(c.Audio.Source)
	if err != nil {
		errs = append(errs, err)
	}
	if src != types.AudioNone {
		if err := c.AudioFormat().Validate(); err != nil {
			errs = append(errs, fmt.Errorf("audio: %w", err))
		}
		if c.Audio.BufferMs < 20 {
			errs = append(errs, fmt.Errorf("audio.buffer_ms %d below 20", c.Audio.BufferMs))
		}
	}
	switch c.Log.Format {
	case "console", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format %q: want console or json", c.Log.Format))
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: %w", errors.Join(errs...))
	}
	return nil
}

func (c *Config) AudioFormat() types.AudioFormat {
	return types.AudioFormat{SampleRate: c.Audio.SampleRate, Channels: c.Audio.Channels, BitDepth: 16}
}

// Engine converts the capture and audio sections into an engine.Config.
func (c *Config) Engine() engine.Config {
	src, _ := types.ParseAudioSource(c.Audio.Source)
	return engine.Config{
		FPS:          c.Capture.FPS,
		Audio:        c.AudioFormat(),
		AudioSource:  src,
		BufferFrames: c.Audio.SampleRate * c.Audio.BufferMs / 1000,
		FrameQueue:   c.Capture.FrameQueue,
	}
}
