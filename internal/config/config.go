// Package config loads and validates run configuration.
//
// A RunConfig starts from Default, is overlaid by an optional YAML file and
// then by command-line flags, and is checked against an embedded CUE schema
// before a run starts.
package config

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"gopkg.in/yaml.v3"

	"github.com/roach88/chessbench/internal/position"
	"github.com/roach88/chessbench/internal/predict"
	"github.com/roach88/chessbench/internal/queue"
)

//go:embed schema.cue
var schemaSource string

// DefaultDatabase is the result store path used when none is given.
const DefaultDatabase = "chessbench.db"

// Sources names the game providers to draw from.
type Sources struct {
	LichessUser  string   `json:"lichessUser,omitempty" yaml:"lichess_user"`
	ChessComUser string   `json:"chesscomUser,omitempty" yaml:"chesscom_user"`
	PGNFiles     []string `json:"pgnFiles,omitempty" yaml:"pgn_files"`
}

// Empty reports whether no provider is configured.
func (s Sources) Empty() bool {
	return s.LichessUser == "" && s.ChessComUser == "" && len(s.PGNFiles) == 0
}

// RunConfig is the full configuration of one benchmark run.
type RunConfig struct {
	Database    string `json:"database" yaml:"database"`
	TargetCount int    `json:"targetCount" yaml:"target_count"`

	EvaluatorDepth    int           `json:"evaluatorDepth" yaml:"evaluator_depth"`
	RequireExactDepth bool          `json:"requireExactDepth" yaml:"require_exact_depth"`
	EvaluatorTimeout  time.Duration `json:"evaluatorTimeout" yaml:"evaluator_timeout"`
	EnginePath        string        `json:"enginePath,omitempty" yaml:"engine_path"`

	CutoffRange       position.CutoffRange `json:"cutoffRange" yaml:"cutoff_range"`
	MaxCutoffFraction float64              `json:"maxCutoffFraction" yaml:"max_cutoff_fraction"`
	MinMoves          int                  `json:"minMoves" yaml:"min_moves"`

	FlushInterval   int           `json:"flushInterval" yaml:"flush_interval"`
	BatchSize       int           `json:"batchSize" yaml:"batch_size"`
	MaxEmptyBatches int           `json:"maxEmptyBatches" yaml:"max_empty_batches"`
	MaxRefills      int           `json:"maxRefills" yaml:"max_refills"`
	BackoffBase     time.Duration `json:"backoffBase" yaml:"backoff_base"`
	BackoffMax      time.Duration `json:"backoffMax" yaml:"backoff_max"`

	Seed int64 `json:"seed" yaml:"seed"`

	Sources Sources `json:"sources" yaml:"sources"`
}

// Default returns the configuration used when nothing is overridden.
func Default() RunConfig {
	q := queue.DefaultConfig()
	p := predict.DefaultConfig()
	o := position.DefaultOptions()
	return RunConfig{
		Database:          DefaultDatabase,
		TargetCount:       100,
		EvaluatorDepth:    p.Depth,
		EvaluatorTimeout:  p.Timeout,
		CutoffRange:       position.CutoffRange{Min: 10, Max: 40},
		MaxCutoffFraction: o.MaxFraction,
		MinMoves:          o.MinMoves,
		FlushInterval:     5,
		BatchSize:         q.BatchSize,
		MaxEmptyBatches:   q.MaxEmptyBatches,
		MaxRefills:        q.MaxRefills,
		BackoffBase:       q.BackoffBase,
		BackoffMax:        q.BackoffMax,
		Seed:              1,
	}
}

// ConfigError reports one invalid configuration field.
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	if e.Field == "" {
		return "config: " + e.Message
	}
	return fmt.Sprintf("config: %s: %s", e.Field, e.Message)
}

// IsConfigError returns true if err is a ConfigError.
func IsConfigError(err error) bool {
	var ce *ConfigError
	return errors.As(err, &ce)
}

// Load reads a YAML file over the defaults. Unknown keys are rejected.
func Load(path string) (RunConfig, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("load config: %w", err)
	}
	if err := Decode(data, &cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Decode overlays YAML data onto cfg.
func Decode(data []byte, cfg *RunConfig) error {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return &ConfigError{Message: err.Error()}
	}
	return nil
}

// Validate checks cfg against the embedded schema. Every violation is
// returned as a *ConfigError, joined when there are several.
func (c RunConfig) Validate() error {
	ctx := cuecontext.New()
	schema := ctx.CompileString(schemaSource, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return fmt.Errorf("compile config schema: %w", err)
	}
	def := schema.LookupPath(cue.ParsePath("#RunConfig"))

	value := def.Unify(ctx.Encode(c))
	err := value.Validate(cue.Concrete(true))
	if err == nil {
		return nil
	}

	var errs []error
	seen := make(map[string]bool)
	for _, e := range cueerrors.Errors(err) {
		ce := toConfigError(e)
		key := ce.Field + "\x00" + ce.Message
		if seen[key] {
			continue
		}
		seen[key] = true
		errs = append(errs, ce)
	}
	if len(errs) == 0 {
		return &ConfigError{Message: err.Error()}
	}
	return errors.Join(errs...)
}

func toConfigError(e cueerrors.Error) *ConfigError {
	path := e.Path()
	if len(path) > 0 && strings.HasPrefix(path[0], "#") {
		path = path[1:]
	}
	format, args := e.Msg()
	return &ConfigError{
		Field:   strings.Join(path, "."),
		Message: fmt.Sprintf(format, args...),
	}
}

// QueueConfig returns the queue controller settings.
func (c RunConfig) QueueConfig() queue.Config {
	return queue.Config{
		BatchSize:       c.BatchSize,
		MaxEmptyBatches: c.MaxEmptyBatches,
		MaxRefills:      c.MaxRefills,
		BackoffBase:     c.BackoffBase,
		BackoffMax:      c.BackoffMax,
	}
}

// PredictConfig returns the dual predictor settings.
func (c RunConfig) PredictConfig() predict.Config {
	return predict.Config{
		Depth:             c.EvaluatorDepth,
		RequireExactDepth: c.RequireExactDepth,
		Timeout:           c.EvaluatorTimeout,
		DrawBand:          predict.DefaultDrawBand,
	}
}

// PositionOptions returns the resolver settings.
func (c RunConfig) PositionOptions() position.Options {
	return position.Options{
		MinMoves:    c.MinMoves,
		MaxFraction: c.MaxCutoffFraction,
	}
}
