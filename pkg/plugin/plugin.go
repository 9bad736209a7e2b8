// Package plugin defines the common plugin contract -- detectors and
// actions alike -- and the registry that turns configured plugin Records
// into running instances (spec.md §6).
package plugin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"sync"
	"time"

	oomdcontext "github.com/ceems-dev/oomd/pkg/context"
	"gopkg.in/yaml.v3"
)

// InvalidNameRegex matches characters not permitted in a plugin Record
// name.
var InvalidNameRegex = regexp.MustCompile(`[^a-zA-Z0-9_-]`)

// Custom errors.
var (
	ErrDuplicateName = errors.New("duplicate plugin name found in config")
	ErrUnknownPlugin = errors.New("unknown plugin type found in the config")
	ErrInvalidName   = errors.New("invalid plugin name: must match [a-zA-Z0-9_-]")
)

// Ret is the outcome a detector or action reports to the control loop after
// running for one tick (spec.md §4.E).
type Ret int

const (
	// Continue lets the loop proceed to the next plugin in the chain.
	Continue Ret = iota
	// Stop short-circuits the remaining chain for this tick.
	Stop
)

func (r Ret) String() string {
	if r == Stop {
		return "stop"
	}

	return "continue"
}

// Record is one plugin's configuration entry, as loaded from the daemon's
// YAML config (spec.md §6 external interface).
type Record struct {
	Name           string    `yaml:"name"`
	Type           string    `yaml:"type"`
	Enabled        bool      `yaml:"enabled"`
	Priority       int       `yaml:"priority"`
	TimeoutSeconds float64   `yaml:"timeout_seconds"`
	Config         yaml.Node `yaml:"config"`
}

// Detector evaluates the current context and decides whether the loop
// should proceed to actions.
type Detector interface {
	Name() string
	Init(config map[string]any) error
	Detect(ctx context.Context, octx *oomdcontext.OomdContext) (Ret, error)
	Status() map[string]any
	Enabled() bool
}

// Action performs a remediation step once a detector signals Stop.
type Action interface {
	Name() string
	Init(config map[string]any) error
	Act(ctx context.Context, octx *oomdcontext.OomdContext) (Ret, error)
	Status() map[string]any
	Enabled() bool
}

// DetectorFactory builds a Detector from its Record.
type DetectorFactory func(rec Record, logger *slog.Logger) (Detector, error)

// ActionFactory builds an Action from its Record.
type ActionFactory func(rec Record, logger *slog.Logger) (Action, error)

var (
	detectorFactories = make(map[string]DetectorFactory)
	actionFactories   = make(map[string]ActionFactory)
	factoriesMu       sync.Mutex
)

// RegisterDetector adds a detector factory under name, callable from
// config via Record.Type.
func RegisterDetector(name string, factory DetectorFactory) {
	factoriesMu.Lock()
	defer factoriesMu.Unlock()

	detectorFactories[name] = factory
}

// RegisterAction adds an action factory under name.
func RegisterAction(name string, factory ActionFactory) {
	factoriesMu.Lock()
	defer factoriesMu.Unlock()

	actionFactories[name] = factory
}

// UnregisterDetector removes a previously registered detector factory; used
// by tests to isolate the global registry.
func UnregisterDetector(name string) {
	factoriesMu.Lock()
	defer factoriesMu.Unlock()

	delete(detectorFactories, name)
}

// UnregisterAction removes a previously registered action factory.
func UnregisterAction(name string) {
	factoriesMu.Lock()
	defer factoriesMu.Unlock()

	delete(actionFactories, name)
}

// ListDetectors returns the names of all registered detector types.
func ListDetectors() []string {
	factoriesMu.Lock()
	defer factoriesMu.Unlock()

	names := make([]string, 0, len(detectorFactories))
	for n := range detectorFactories {
		names = append(names, n)
	}

	return names
}

// ListActions returns the names of all registered action types.
func ListActions() []string {
	factoriesMu.Lock()
	defer factoriesMu.Unlock()

	names := make([]string, 0, len(actionFactories))
	for n := range actionFactories {
		names = append(names, n)
	}

	return names
}

// checkRecords validates name uniqueness, known type and name charset for a
// batch of Records already filtered to one kind (detector or action).
func checkRecords(known []string, records []Record) error {
	seen := make(map[string]bool, len(records))

	for _, r := range records {
		if seen[r.Name] {
			return fmt.Errorf("%w: %s", ErrDuplicateName, r.Name)
		}

		seen[r.Name] = true

		if InvalidNameRegex.MatchString(r.Name) {
			return fmt.Errorf("%w: %s", ErrInvalidName, r.Name)
		}

		found := false

		for _, k := range known {
			if k == r.Type {
				found = true

				break
			}
		}

		if !found {
			return fmt.Errorf("%w: %s", ErrUnknownPlugin, r.Type)
		}
	}

	return nil
}

// BuildDetectors instantiates one Detector per enabled Record of kind
// "detector", sorted by ascending Priority (spec.md §4.E: detectors run in
// priority order until one signals Stop).
func BuildDetectors(records []Record, logger *slog.Logger) ([]Detector, error) {
	factoriesMu.Lock()
	known := make([]string, 0, len(detectorFactories))
	for n := range detectorFactories {
		known = append(known, n)
	}
	factoriesMu.Unlock()

	if err := checkRecords(known, records); err != nil {
		return nil, err
	}

	sorted := sortByPriority(records)

	detectors := make([]Detector, 0, len(sorted))

	for _, rec := range sorted {
		if !rec.Enabled {
			continue
		}

		factoriesMu.Lock()
		factory, ok := detectorFactories[rec.Type]
		factoriesMu.Unlock()

		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownPlugin, rec.Type)
		}

		d, err := factory(rec, logger.With("plugin", rec.Name))
		if err != nil {
			return nil, fmt.Errorf("init detector %s: %w", rec.Name, err)
		}

		cfg, err := decodeConfig(rec.Config)
		if err != nil {
			return nil, fmt.Errorf("decode config for %s: %w", rec.Name, err)
		}

		if err := d.Init(cfg); err != nil {
			return nil, fmt.Errorf("init detector %s: %w", rec.Name, err)
		}

		detectors = append(detectors, d)
	}

	return detectors, nil
}

// BuildActions instantiates one Action per enabled Record of kind "action",
// sorted by ascending Priority.
func BuildActions(records []Record, logger *slog.Logger) ([]Action, error) {
	factoriesMu.Lock()
	known := make([]string, 0, len(actionFactories))
	for n := range actionFactories {
		known = append(known, n)
	}
	factoriesMu.Unlock()

	if err := checkRecords(known, records); err != nil {
		return nil, err
	}

	sorted := sortByPriority(records)

	actions := make([]Action, 0, len(sorted))

	for _, rec := range sorted {
		if !rec.Enabled {
			continue
		}

		factoriesMu.Lock()
		factory, ok := actionFactories[rec.Type]
		factoriesMu.Unlock()

		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownPlugin, rec.Type)
		}

		act, err := factory(rec, logger.With("plugin", rec.Name))
		if err != nil {
			return nil, fmt.Errorf("init action %s: %w", rec.Name, err)
		}

		cfg, err := decodeConfig(rec.Config)
		if err != nil {
			return nil, fmt.Errorf("decode config for %s: %w", rec.Name, err)
		}

		if err := act.Init(cfg); err != nil {
			return nil, fmt.Errorf("init action %s: %w", rec.Name, err)
		}

		actions = append(actions, act)
	}

	return actions, nil
}

func sortByPriority(records []Record) []Record {
	out := make([]Record, len(records))
	copy(out, records)

	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j].Priority < out[j-1].Priority; j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}

	return out
}

// decodeConfig turns a Record's raw config YAML node into a
// map[string]any, the shape BasePlugin.GetConfig expects.
func decodeConfig(node yaml.Node) (map[string]any, error) {
	if node.IsZero() {
		return map[string]any{}, nil
	}

	var m map[string]any

	if err := node.Decode(&m); err != nil {
		return nil, err
	}

	if m == nil {
		m = map[string]any{}
	}

	return m, nil
}

// BasePlugin implements the bookkeeping shared by every Detector and
// Action: config storage, enable flag and run counters/status
// (spec.md §6: base plugin config fields).
type BasePlugin struct {
	PluginName string

	mu           sync.Mutex
	config       map[string]any
	enabled      bool
	successCount uint64
	errorCount   uint64
	lastRun      time.Time
	status       map[string]any
}

// Init stores config and marks the plugin enabled. Embedding types that
// override Init should call this first.
func (b *BasePlugin) Init(config map[string]any) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.config = config
	b.enabled = true
	b.status = map[string]any{}

	return nil
}

// Name returns the plugin's configured name.
func (b *BasePlugin) Name() string { return b.PluginName }

// Enabled reports whether the plugin was initialized successfully and has
// not been disabled since.
func (b *BasePlugin) Enabled() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.enabled
}

// Disable marks the plugin as inactive; the loop skips disabled plugins.
func (b *BasePlugin) Disable() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.enabled = false
}

// GetConfig fetches a typed config value, returning def if the key is
// absent or not assertable to T.
func GetConfig[T any](b *BasePlugin, key string, def T) T {
	b.mu.Lock()
	defer b.mu.Unlock()

	raw, ok := b.config[key]
	if !ok {
		return def
	}

	v, ok := raw.(T)
	if !ok {
		return def
	}

	return v
}

// RecordSuccess increments the success counter and timestamps the run.
func (b *BasePlugin) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.successCount++
	b.lastRun = time.Now()
}

// RecordError increments the error counter and timestamps the run.
func (b *BasePlugin) RecordError() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.errorCount++
	b.lastRun = time.Now()
}

// UpdateStatus merges a key/value pair into the plugin's status map,
// surfaced by Status() for debug/status endpoints.
func (b *BasePlugin) UpdateStatus(key string, value any) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.status == nil {
		b.status = map[string]any{}
	}

	b.status[key] = value
}

// Status returns a snapshot of the plugin's bookkeeping and any
// plugin-specific fields recorded via UpdateStatus.
func (b *BasePlugin) Status() map[string]any {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := map[string]any{
		"enabled":       b.enabled,
		"success_count": b.successCount,
		"error_count":   b.errorCount,
		"last_run":      b.lastRun,
	}

	for k, v := range b.status {
		out[k] = v
	}

	return out
}

// MarshalStatusJSON renders Status() as JSON, used by the debug HTTP
// surface (spec.md §7 supplemented feature).
func (b *BasePlugin) MarshalStatusJSON() ([]byte, error) {
	return json.Marshal(b.Status())
}
