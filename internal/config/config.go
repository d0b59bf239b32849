package config

import (
	"errors"
	"fmt"
	"image/color"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"
)

const (
	WindowWidth  = 1024
	WindowHeight = 640

	// Stimulus area, centered horizontally below the instructions
	StageX      = 212
	StageY      = 70
	StageWidth  = 600
	StageHeight = 400

	// Button dimensions
	ButtonWidth  = 140
	ButtonHeight = 44
	ButtonY      = 500
	ButtonGap    = 40

	// Dot field parameters
	DotCount      = 80
	MinRadius     = 10
	MaxRadius     = 20
	MaxAttempts   = 10000
	StimulusTime  = 500 * time.Millisecond
	ResubmitAfter = 10 * time.Second

	CueFrequency = 880
	CueLength    = 60 * time.Millisecond
)

// Config holds the participant client configuration.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Stimulus      StimulusConfig      `yaml:"stimulus"`
	Responses     ResponseConfig      `yaml:"responses"`
	Audio         AudioConfig         `yaml:"audio"`
	Questionnaire QuestionnaireConfig `yaml:"questionnaire"`
	Logging       LoggingConfig       `yaml:"logging"`
}

// ServerConfig locates the experiment server.
type ServerConfig struct {
	BaseURL  string `yaml:"base_url"`
	UniqueID string `yaml:"unique_id"`
	Timeout  string `yaml:"timeout"`
}

// StimulusConfig shapes the dot field and how long it is shown.
type StimulusConfig struct {
	Dots           int     `yaml:"dots"`
	Width          float64 `yaml:"width"`
	Height         float64 `yaml:"height"`
	MinRadius      float64 `yaml:"min_radius"`
	MaxRadius      float64 `yaml:"max_radius"`
	MaxAttempts    int     `yaml:"max_attempts"`
	Duration       string  `yaml:"duration"`
	PrimaryColor   string  `yaml:"primary_color"`   // blue dots
	SecondaryColor string  `yaml:"secondary_color"` // yellow dots
	Seed           int64   `yaml:"seed"`            // 0 means time-seeded
}

// ResponseConfig is the one place mapping answers to wire values.
type ResponseConfig struct {
	Blue   string `yaml:"blue"`
	Yellow string `yaml:"yellow"`
}

// AudioConfig controls the onset cue.
type AudioConfig struct {
	Cue       bool    `yaml:"cue"`
	Frequency float64 `yaml:"frequency"`
	Length    string  `yaml:"length"`
}

// QuestionnaireConfig lists the post-experiment questions.
type QuestionnaireConfig struct {
	Questions     []Question `yaml:"questions"`
	ResubmitAfter string     `yaml:"resubmit_after"`
}

// Question is a free-text question, or a choice when Options is set.
type Question struct {
	ID      string   `yaml:"id"`
	Prompt  string   `yaml:"prompt"`
	Options []string `yaml:"options,omitempty"`
}

// LoggingConfig configures logging.
type LoggingConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error
}

// DefaultConfig returns the configuration used when no file is present.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			BaseURL: "http://localhost:5000",
			Timeout: "15s",
		},
		Stimulus: StimulusConfig{
			Dots:           DotCount,
			Width:          StageWidth,
			Height:         StageHeight,
			MinRadius:      MinRadius,
			MaxRadius:      MaxRadius,
			MaxAttempts:    MaxAttempts,
			Duration:       StimulusTime.String(),
			PrimaryColor:   "#2e6bff",
			SecondaryColor: "#ffd21f",
		},
		Responses: ResponseConfig{
			Blue:   "0",
			Yellow: "1",
		},
		Audio: AudioConfig{
			Cue:       false,
			Frequency: CueFrequency,
			Length:    CueLength.String(),
		},
		Questionnaire: QuestionnaireConfig{
			Questions: []Question{
				{ID: "engagement", Prompt: "How engaged were you in the task?", Options: []string{"1", "2", "3", "4", "5"}},
				{ID: "difficulty", Prompt: "How difficult was the task?", Options: []string{"1", "2", "3", "4", "5"}},
				{ID: "comments", Prompt: "Any comments about the experiment?"},
			},
			ResubmitAfter: ResubmitAfter.String(),
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load reads configuration from a YAML file, falling back to defaults when
// the file does not exist.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	} else if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// Save writes configuration to a YAML file.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("STROOP_SERVER_URL"); v != "" {
		c.Server.BaseURL = v
	}
	if v := os.Getenv("STROOP_UNIQUE_ID"); v != "" {
		c.Server.UniqueID = v
	}
}

// Validate checks the values the client cannot run without.
func (c *Config) Validate() error {
	var errs []error
	if c.Server.BaseURL == "" {
		errs = append(errs, errors.New("server.base_url is required"))
	}
	if c.Responses.Blue == "" || c.Responses.Yellow == "" {
		errs = append(errs, errors.New("responses.blue and responses.yellow are required"))
	}
	if c.Responses.Blue == c.Responses.Yellow {
		errs = append(errs, fmt.Errorf("responses.blue and responses.yellow must differ, both are %q", c.Responses.Blue))
	}
	if c.Stimulus.Dots <= 0 {
		errs = append(errs, fmt.Errorf("stimulus.dots must be positive, got %d", c.Stimulus.Dots))
	}
	if c.Stimulus.MinRadius > c.Stimulus.MaxRadius {
		errs = append(errs, fmt.Errorf("stimulus.min_radius %v exceeds max_radius %v", c.Stimulus.MinRadius, c.Stimulus.MaxRadius))
	}
	for name, s := range map[string]string{
		"server.timeout":               c.Server.Timeout,
		"stimulus.duration":            c.Stimulus.Duration,
		"audio.length":                 c.Audio.Length,
		"questionnaire.resubmit_after": c.Questionnaire.ResubmitAfter,
	} {
		if d, err := time.ParseDuration(s); err != nil || d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be a positive duration, got %q", name, s))
		}
	}
	for name, s := range map[string]string{
		"stimulus.primary_color":   c.Stimulus.PrimaryColor,
		"stimulus.secondary_color": c.Stimulus.SecondaryColor,
	} {
		if _, err := ParseColor(s); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}
	if _, err := c.LogLevel(); err != nil {
		errs = append(errs, fmt.Errorf("logging.level: %w", err))
	}
	return errors.Join(errs...)
}

// LogLevel parses logging.level. An empty level means info.
func (c *Config) LogLevel() (zapcore.Level, error) {
	if c.Logging.Level == "" {
		return zapcore.InfoLevel, nil
	}
	return zapcore.ParseLevel(c.Logging.Level)
}

// StimulusDuration returns the parsed presentation time.
func (c *Config) StimulusDuration() time.Duration {
	return durationOr(c.Stimulus.Duration, StimulusTime)
}

// ServerTimeout returns the parsed per-request timeout.
func (c *Config) ServerTimeout() time.Duration {
	return durationOr(c.Server.Timeout, 15*time.Second)
}

// CueLength returns the parsed cue tone length.
func (c *Config) CueLength() time.Duration {
	return durationOr(c.Audio.Length, CueLength)
}

// ResubmitTimeout returns how long one resubmit attempt may take.
func (c *Config) ResubmitTimeout() time.Duration {
	return durationOr(c.Questionnaire.ResubmitAfter, ResubmitAfter)
}

func durationOr(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

// ParseColor parses "#rrggbb" or "#rrggbbaa".
func ParseColor(s string) (color.RGBA, error) {
	c := color.RGBA{A: 255}
	var err error
	switch len(s) {
	case 7:
		_, err = fmt.Sscanf(s, "#%02x%02x%02x", &c.R, &c.G, &c.B)
	case 9:
		_, err = fmt.Sscanf(s, "#%02x%02x%02x%02x", &c.R, &c.G, &c.B, &c.A)
	default:
		return color.RGBA{}, fmt.Errorf("invalid color %q", s)
	}
	if err != nil {
		return color.RGBA{}, fmt.Errorf("invalid color %q: %w", s, err)
	}
	return c, nil
}
