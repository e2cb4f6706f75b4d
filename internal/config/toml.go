// Package config provides configuration helpers and TOML parsing.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/verte-zerg/glide/internal/dictionary"
	"github.com/verte-zerg/glide/internal/gesture"
	"github.com/verte-zerg/glide/internal/model"
	"github.com/verte-zerg/glide/internal/recognizer"
)

// FileConfig represents the TOML configuration file. Unset values keep
// their defaults.
type FileConfig struct {
	Dictionary  DictionaryConfig  `toml:"dictionary"`
	Facilitator FacilitatorConfig `toml:"facilitator"`
	Recognizer  RecognizerConfig  `toml:"recognizer"`
	Gesture     GestureConfig     `toml:"gesture"`
}

// DictionaryConfig maps dictionary locations.
type DictionaryConfig struct {
	Locale     *string `toml:"locale"`
	Dir        *string `toml:"dir"`
	ContactDir *string `toml:"contacts-dir"`
	UserDir    *string `toml:"user-dir"`
	HistoryDB  *string `toml:"history-db"`
	Layout     *string `toml:"layout"`
}

// FacilitatorConfig maps merge and cache settings.
type FacilitatorConfig struct {
	MaxResults      *int               `toml:"max-results"`
	Blend           *string            `toml:"blend"`
	SecondaryWeight *float64           `toml:"secondary-weight"`
	SpatialWeight   *float64           `toml:"spatial-weight"`
	BigramWeight    *float64           `toml:"bigram-weight"`
	CacheSize       *int               `toml:"cache-size"`
	LoadTimeout     *string            `toml:"load-timeout"`
	Weights         map[string]float64 `toml:"weights"`
}

// RecognizerConfig maps beam search settings.
type RecognizerConfig struct {
	BeamWidth       *int     `toml:"beam-width"`
	BatchSize       *int     `toml:"batch-size"`
	SpatialWeight   *float64 `toml:"spatial-weight"`
	FrequencyWeight *float64 `toml:"frequency-weight"`
	SampleSpacing   *float64 `toml:"sample-spacing"`
	Radius          *float64 `toml:"radius"`
	Tolerance       *float64 `toml:"tolerance"`
}

// GestureConfig maps gesture dispatch settings.
type GestureConfig struct {
	Enabled       *bool   `toml:"enabled"`
	SyncThreshold *int    `toml:"sync-threshold"`
	Timeout       *string `toml:"timeout"`
}

// Settings is the resolved configuration.
type Settings struct {
	Locale         string
	WordListDir    string
	ContactDir     string
	UserDir        string
	HistoryDB      string
	LayoutPath     string
	GestureEnabled bool

	Dictionary dictionary.Config
	Recognizer recognizer.Config
	Gesture    gesture.Config
}

// Defaults returns settings with every default applied.
func Defaults() Settings {
	return Settings{
		Locale:         "en",
		WordListDir:    DefaultWordListDir(),
		HistoryDB:      DefaultDBPath(),
		GestureEnabled: true,
		Dictionary:     dictionary.DefaultConfig(),
		Recognizer:     recognizer.DefaultConfig(),
		Gesture:        gesture.DefaultConfig(),
	}
}

// LoadConfig reads a TOML config from the given path. Missing file is not an error.
func LoadConfig(path string) (FileConfig, error) {
	if path == "" {
		return FileConfig{}, fmt.Errorf("config path is empty")
	}
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return FileConfig{}, nil
		}
		return FileConfig{}, fmt.Errorf("failed to stat config: %w", err)
	}
	var cfg FileConfig
	md, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return FileConfig{}, fmt.Errorf("failed to decode config: %w", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return FileConfig{}, fmt.Errorf("unknown config keys: %s", strings.Join(keys, ", "))
	}
	return cfg, nil
}

// Resolve applies file values over the defaults and validates the result.
func Resolve(file FileConfig) (Settings, error) {
	s := Defaults()

	d := file.Dictionary
	setString(&s.Locale, d.Locale)
	setString(&s.WordListDir, d.Dir)
	setString(&s.ContactDir, d.ContactDir)
	setString(&s.UserDir, d.UserDir)
	setString(&s.HistoryDB, d.HistoryDB)
	setString(&s.LayoutPath, d.Layout)

	f := file.Facilitator
	setInt(&s.Dictionary.MaxResults, f.MaxResults)
	setString(&s.Dictionary.Blend, f.Blend)
	setFloat(&s.Dictionary.SecondaryWeight, f.SecondaryWeight)
	setFloat(&s.Dictionary.SpatialWeight, f.SpatialWeight)
	setFloat(&s.Dictionary.BigramWeight, f.BigramWeight)
	setInt(&s.Dictionary.CacheSize, f.CacheSize)
	if err := setDuration(&s.Dictionary.LoadTimeout, f.LoadTimeout, "facilitator.load-timeout"); err != nil {
		return Settings{}, err
	}
	if len(f.Weights) > 0 {
		weights := make(map[model.SourceKind]float64, len(s.Dictionary.SourceWeights))
		for k, v := range s.Dictionary.SourceWeights {
			weights[k] = v
		}
		for name, w := range f.Weights {
			kind, ok := model.ParseSourceKind(name)
			if !ok {
				return Settings{}, fmt.Errorf("facilitator.weights: unknown source %q", name)
			}
			weights[kind] = w
		}
		s.Dictionary.SourceWeights = weights
	}

	r := file.Recognizer
	setInt(&s.Recognizer.BeamWidth, r.BeamWidth)
	setInt(&s.Recognizer.BatchSize, r.BatchSize)
	setFloat(&s.Recognizer.SpatialWeight, r.SpatialWeight)
	setFloat(&s.Recognizer.FrequencyWeight, r.FrequencyWeight)
	setFloat(&s.Recognizer.Spatial.SampleSpacing, r.SampleSpacing)
	setFloat(&s.Recognizer.Spatial.Radius, r.Radius)
	setFloat(&s.Recognizer.Spatial.Tolerance, r.Tolerance)
	s.Recognizer.MaxResults = s.Dictionary.MaxResults

	g := file.Gesture
	if g.Enabled != nil {
		s.GestureEnabled = *g.Enabled
	}
	setInt(&s.Gesture.SyncThreshold, g.SyncThreshold)
	if err := setDuration(&s.Gesture.Timeout, g.Timeout, "gesture.timeout"); err != nil {
		return Settings{}, err
	}

	if err := Validate(s); err != nil {
		return Settings{}, err
	}
	return s, nil
}

// Validate checks ranges of resolved settings.
func Validate(s Settings) error {
	if strings.TrimSpace(s.Locale) == "" {
		return fmt.Errorf("dictionary.locale must not be empty")
	}
	if s.Dictionary.MaxResults <= 0 {
		return fmt.Errorf("facilitator.max-results must be > 0")
	}
	if s.Dictionary.Blend != dictionary.BlendSum && s.Dictionary.Blend != dictionary.BlendMax {
		return fmt.Errorf("facilitator.blend must be %q or %q", dictionary.BlendSum, dictionary.BlendMax)
	}
	if s.Dictionary.SecondaryWeight < 0 || s.Dictionary.SecondaryWeight > 1 {
		return fmt.Errorf("facilitator.secondary-weight must be between 0 and 1")
	}
	if s.Dictionary.CacheSize <= 0 {
		return fmt.Errorf("facilitator.cache-size must be > 0")
	}
	if s.Recognizer.BeamWidth <= 0 {
		return fmt.Errorf("recognizer.beam-width must be > 0")
	}
	if s.Recognizer.BatchSize <= 0 {
		return fmt.Errorf("recognizer.batch-size must be > 0")
	}
	if s.Recognizer.SpatialWeight <= 0 {
		return fmt.Errorf("recognizer.spatial-weight must be > 0")
	}
	if s.Recognizer.FrequencyWeight < 0 {
		return fmt.Errorf("recognizer.frequency-weight must be >= 0")
	}
	if s.Recognizer.Spatial.SampleSpacing <= 0 || s.Recognizer.Spatial.Radius <= 0 {
		return fmt.Errorf("recognizer.sample-spacing and recognizer.radius must be > 0")
	}
	if s.Gesture.SyncThreshold < 0 {
		return fmt.Errorf("gesture.sync-threshold must be >= 0")
	}
	if s.Gesture.Timeout <= 0 {
		return fmt.Errorf("gesture.timeout must be > 0")
	}
	return nil
}

func setString(target, value *string) {
	if value != nil {
		*target = *value
	}
}

func setInt(target, value *int) {
	if value != nil {
		*target = *value
	}
}

func setFloat(target, value *float64) {
	if value != nil {
		*target = *value
	}
}

func setDuration(target *time.Duration, value *string, key string) error {
	if value == nil {
		return nil
	}
	d, err := time.ParseDuration(*value)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*target = d
	return nil
}

// Template returns a commented config file listing every default.
func Template() string {
	s := Defaults()
	return fmt.Sprintf(`# glide configuration
# Uncomment a value to enable it. CLI flags override config values.

[dictionary]
# locale = %q
# dir = %q             # <dir>/<locale>.txt main word lists
# contacts-dir = ""    # optional contacts word lists
# user-dir = ""        # optional user dictionary word lists
# history-db = %q
# layout = ""          # YAML layout file; built-in QWERTY when empty

[facilitator]
# max-results = %d
# blend = %q           # "sum" or "max"
# secondary-weight = %.2f
# spatial-weight = %.2f
# bigram-weight = %.2f
# cache-size = %d
# load-timeout = %q
# [facilitator.weights]
# main = 1.0
# contacts = 1.1
# user = 1.2
# history = 1.5

[recognizer]
# beam-width = %d
# batch-size = %d
# spatial-weight = %.2f
# frequency-weight = %.2f
# sample-spacing = %.2f  # key widths
# radius = %.2f          # key widths
# tolerance = %.2f       # key widths

[gesture]
# enabled = true
# sync-threshold = %d    # points
# timeout = %q
`,
		s.Locale,
		s.WordListDir,
		s.HistoryDB,
		s.Dictionary.MaxResults,
		s.Dictionary.Blend,
		s.Dictionary.SecondaryWeight,
		s.Dictionary.SpatialWeight,
		s.Dictionary.BigramWeight,
		s.Dictionary.CacheSize,
		s.Dictionary.LoadTimeout.String(),
		s.Recognizer.BeamWidth,
		s.Recognizer.BatchSize,
		s.Recognizer.SpatialWeight,
		s.Recognizer.FrequencyWeight,
		s.Recognizer.Spatial.SampleSpacing,
		s.Recognizer.Spatial.Radius,
		s.Recognizer.Spatial.Tolerance,
		s.Gesture.SyncThreshold,
		s.Gesture.Timeout.String(),
	)
}
