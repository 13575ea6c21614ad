package campaign

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"dm-outreach-engine/internal/protocol"
	"dm-outreach-engine/internal/target"
)

// DefaultMaxTargets keeps runs short and auditable.
const DefaultMaxTargets = 5

var (
	ErrInvalidConfig  = errors.New("invalid campaign config")
	ErrNoTargets      = fmt.Errorf("%w: at least one valid profile link is required", ErrInvalidConfig)
	ErrTooManyTargets = fmt.Errorf("%w: too many profile links", ErrInvalidConfig)
	ErrEmptyMessage   = fmt.Errorf("%w: message is empty", ErrInvalidConfig)
	ErrInvalidDelay   = fmt.Errorf("%w: delay bounds must satisfy 0 <= min <= max", ErrInvalidConfig)
	ErrForeignTarget  = fmt.Errorf("%w: profile link is not on the accepted host", ErrInvalidConfig)
)

// Config is immutable once a run starts.
type Config struct {
	Targets  []string
	Message  string
	DelayMin time.Duration
	DelayMax time.Duration
}

// Validate refuses a config before any run state exists.
func (c Config) Validate(maxTargets int) error {
	if maxTargets <= 0 {
		maxTargets = DefaultMaxTargets
	}
	switch {
	case len(c.Targets) == 0:
		return ErrNoTargets
	case len(c.Targets) > maxTargets:
		return fmt.Errorf("%w (%d, max %d)", ErrTooManyTargets, len(c.Targets), maxTargets)
	case strings.TrimSpace(c.Message) == "":
		return ErrEmptyMessage
	case c.DelayMin < 0 || c.DelayMax < 0 || c.DelayMin > c.DelayMax:
		return fmt.Errorf("%w (min %s, max %s)", ErrInvalidDelay, c.DelayMin, c.DelayMax)
	}
	return nil
}

// CheckTargets refuses the whole config if any reference lacks the host
// substring ex accepts. Explicit lists are never filtered silently.
func (c Config) CheckTargets(ex *target.Extractor) error {
	for _, ref := range c.Targets {
		if !ex.Accepts(ref) {
			return fmt.Errorf("%w: %q", ErrForeignTarget, ref)
		}
	}
	return nil
}

// FromTask converts a START_TASK payload; delays arrive in milliseconds.
func FromTask(t protocol.TaskConfig) Config {
	return Config{
		Targets:  append([]string(nil), t.Links...),
		Message:  strings.TrimSpace(t.Message),
		DelayMin: time.Duration(t.DelayMin) * time.Millisecond,
		DelayMax: time.Duration(t.DelayMax) * time.Millisecond,
	}
}

// File is the YAML shape accepted by the run command:
//
//	targets:
//	  - https://www.instagram.com/someone/
//	message: "{Hi|Hello} there"
//	delay_min: 30s
//	delay_max: 60s
type File struct {
	Targets  []string `yaml:"targets"`
	Message  string   `yaml:"message"`
	DelayMin string   `yaml:"delay_min"`
	DelayMax string   `yaml:"delay_max"`
}

func LoadFile(path string) (Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return Config{}, fmt.Errorf("open campaign file %s: %w", path, err)
	}
	defer f.Close()

	var raw File
	if err := yaml.NewDecoder(f).Decode(&raw); err != nil {
		return Config{}, fmt.Errorf("decode campaign file %s: %w", path, err)
	}
	return raw.Config()
}

func (f File) Config() (Config, error) {
	min, err := parseDelay(f.DelayMin)
	if err != nil {
		return Config{}, fmt.Errorf("delay_min: %w", err)
	}
	max, err := parseDelay(f.DelayMax)
	if err != nil {
		return Config{}, fmt.Errorf("delay_max: %w", err)
	}
	return Config{
		Targets:  f.Targets,
		Message:  strings.TrimSpace(f.Message),
		DelayMin: min,
		DelayMax: max,
	}, nil
}

func parseDelay(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	return time.ParseDuration(s)
}
