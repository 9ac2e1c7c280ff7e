package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/c0deZ3R0/docsync/conflict"
	"github.com/c0deZ3R0/docsync/errors"
	"github.com/c0deZ3R0/docsync/logging"
	"github.com/c0deZ3R0/docsync/resolve"
)

// Config is the file-configurable part of the engine. Per-field custom
// resolvers are code, registered with WithFieldResolver.
type Config struct {
	// SeverityTiers maps field paths to low, medium, high or critical.
	SeverityTiers map[string]string `json:"severity_tiers,omitempty" yaml:"severity_tiers,omitempty" toml:"severity_tiers,omitempty"`
	DefaultTier   string            `json:"default_tier,omitempty" yaml:"default_tier,omitempty" toml:"default_tier,omitempty"`

	// MaxAutoResolveSeverity is the highest severity resolved without a human.
	MaxAutoResolveSeverity string `json:"max_auto_resolve_severity,omitempty" yaml:"max_auto_resolve_severity,omitempty" toml:"max_auto_resolve_severity,omitempty"`
	AutoResolve            *bool  `json:"auto_resolve,omitempty" yaml:"auto_resolve,omitempty" toml:"auto_resolve,omitempty"`

	IdentityField         string   `json:"identity_field,omitempty" yaml:"identity_field,omitempty" toml:"identity_field,omitempty"`
	ElementIDField        string   `json:"element_id_field,omitempty" yaml:"element_id_field,omitempty" toml:"element_id_field,omitempty"`
	ElementUpdatedAtField string   `json:"element_updated_at_field,omitempty" yaml:"element_updated_at_field,omitempty" toml:"element_updated_at_field,omitempty"`
	CounterFields         []string `json:"counter_fields,omitempty" yaml:"counter_fields,omitempty" toml:"counter_fields,omitempty"`
	SetFields             []string `json:"set_fields,omitempty" yaml:"set_fields,omitempty" toml:"set_fields,omitempty"`

	// MaxWriteBackRetries is nil for the default; 0 disables retries.
	MaxWriteBackRetries *int  `json:"max_write_back_retries,omitempty" yaml:"max_write_back_retries,omitempty" toml:"max_write_back_retries,omitempty"`
	MaxDepth            int   `json:"max_depth,omitempty" yaml:"max_depth,omitempty" toml:"max_depth,omitempty"`
	FoldUnicode         *bool `json:"fold_unicode,omitempty" yaml:"fold_unicode,omitempty" toml:"fold_unicode,omitempty"`

	// Rules override the suggested resolution of matching conflicts, first
	// match wins.
	Rules []RuleConfig `json:"rules,omitempty" yaml:"rules,omitempty" toml:"rules,omitempty"`

	// SchemaFile optionally points at a JSON Schema for resolved documents.
	SchemaFile string `json:"schema_file,omitempty" yaml:"schema_file,omitempty" toml:"schema_file,omitempty"`

	Log logging.Config `json:"log,omitempty" yaml:"log,omitempty" toml:"log,omitempty"`
}

// RuleConfig is the file form of a resolve.Rule. Empty criteria match
// everything; set criteria must all match.
type RuleConfig struct {
	Name        string   `json:"name" yaml:"name" toml:"name"`
	Types       []string `json:"types,omitempty" yaml:"types,omitempty" toml:"types,omitempty"`
	AnyField    []string `json:"any_field,omitempty" yaml:"any_field,omitempty" toml:"any_field,omitempty"`
	AllFields   []string `json:"all_fields,omitempty" yaml:"all_fields,omitempty" toml:"all_fields,omitempty"`
	MaxSeverity string   `json:"max_severity,omitempty" yaml:"max_severity,omitempty" toml:"max_severity,omitempty"`
	Suggest     string   `json:"suggest" yaml:"suggest" toml:"suggest"`
}

// Rule compiles the config into a resolve.Rule.
func (rc RuleConfig) Rule() (resolve.Rule, error) {
	suggest, err := conflict.ParseResolutionType(rc.Suggest)
	if err != nil {
		return resolve.Rule{}, fmt.Errorf("rule %q: %w", rc.Name, err)
	}
	match := resolve.Always()
	if len(rc.Types) > 0 {
		types := make([]conflict.ConflictType, len(rc.Types))
		for i, name := range rc.Types {
			if err := types[i].UnmarshalText([]byte(strings.ToUpper(name))); err != nil {
				return resolve.Rule{}, fmt.Errorf("rule %q: %w", rc.Name, err)
			}
		}
		match = resolve.And(match, resolve.TypeIs(types...))
	}
	if len(rc.AnyField) > 0 {
		match = resolve.And(match, resolve.AnyFieldIn(rc.AnyField...))
	}
	if len(rc.AllFields) > 0 {
		match = resolve.And(match, resolve.AllFieldsIn(rc.AllFields...))
	}
	if rc.MaxSeverity != "" {
		s, err := conflict.ParseSeverity(rc.MaxSeverity)
		if err != nil {
			return resolve.Rule{}, fmt.Errorf("rule %q: %w", rc.Name, err)
		}
		match = resolve.And(match, resolve.SeverityAtMost(s))
	}
	return resolve.Rule{Name: rc.Name, Match: match, Suggest: suggest}, nil
}

// ResolutionRules compiles Rules in order.
func (c Config) ResolutionRules() (resolve.Rules, error) {
	rules := make(resolve.Rules, 0, len(c.Rules))
	for i, rc := range c.Rules {
		r, err := rc.Rule()
		if err != nil {
			return nil, fmt.Errorf("rules[%d]: %w", i, err)
		}
		rules = append(rules, r)
	}
	return rules, nil
}

const (
	// DefaultMaxWriteBackRetries bounds the detect, classify, resolve cycle
	// after a write-back race.
	DefaultMaxWriteBackRetries = 3

	// DefaultMaxDepth bounds nesting of resolved documents.
	DefaultMaxDepth = 64

	// DefaultIdentityField is the field that must survive resolution unchanged.
	DefaultIdentityField = "id"
)

// DefaultConfig returns the configuration seed.
func DefaultConfig() Config {
	var c Config
	c.setDefaults()
	return c
}

func (c *Config) setDefaults() {
	if c.SeverityTiers == nil {
		c.SeverityTiers = make(map[string]string)
		for k, v := range conflict.DefaultSeverityTiers() {
			c.SeverityTiers[k] = v.String()
		}
	}
	if c.DefaultTier == "" {
		c.DefaultTier = conflict.Medium.String()
	}
	if c.MaxAutoResolveSeverity == "" {
		c.MaxAutoResolveSeverity = conflict.Low.String()
	}
	if c.AutoResolve == nil {
		on := true
		c.AutoResolve = &on
	}
	if c.IdentityField == "" {
		c.IdentityField = DefaultIdentityField
	}
	if c.ElementIDField == "" {
		c.ElementIDField = conflict.DefaultElementIDField
	}
	if c.ElementUpdatedAtField == "" {
		c.ElementUpdatedAtField = resolve.DefaultElementUpdatedAtField
	}
	if c.CounterFields == nil {
		c.CounterFields = append([]string(nil), resolve.DefaultCounterFields...)
	}
	if c.SetFields == nil {
		c.SetFields = append([]string(nil), resolve.DefaultSetFields...)
	}
	if c.MaxWriteBackRetries == nil {
		n := DefaultMaxWriteBackRetries
		c.MaxWriteBackRetries = &n
	}
	if c.MaxDepth == 0 {
		c.MaxDepth = DefaultMaxDepth
	}
	if c.FoldUnicode == nil {
		on := true
		c.FoldUnicode = &on
	}
	if c.Log.Level == "" {
		c.Log = logging.DefaultConfig
	}
}

// Tiers parses SeverityTiers.
func (c Config) Tiers() (conflict.SeverityTiers, error) {
	tiers := make(conflict.SeverityTiers, len(c.SeverityTiers))
	for field, name := range c.SeverityTiers {
		s, err := conflict.ParseSeverity(name)
		if err != nil {
			return nil, fmt.Errorf("severity_tiers[%s]: %w", field, err)
		}
		tiers[field] = s
	}
	return tiers, nil
}

// ClassifierOptions translates the config into classifier options.
func (c Config) ClassifierOptions() ([]conflict.ClassifierOption, error) {
	c.setDefaults()
	tiers, err := c.Tiers()
	if err != nil {
		return nil, err
	}
	def, err := conflict.ParseSeverity(c.DefaultTier)
	if err != nil {
		return nil, fmt.Errorf("default_tier: %w", err)
	}
	maxAuto, err := conflict.ParseSeverity(c.MaxAutoResolveSeverity)
	if err != nil {
		return nil, fmt.Errorf("max_auto_resolve_severity: %w", err)
	}
	differ := conflict.NewDiffer(
		conflict.WithElementIDField(c.ElementIDField),
		conflict.WithUnicodeFolding(*c.FoldUnicode),
	)
	return []conflict.ClassifierOption{
		conflict.WithSeverityTiers(tiers),
		conflict.WithDefaultSeverity(def),
		conflict.WithMaxAutoSeverity(maxAuto),
		conflict.WithAutoResolve(*c.AutoResolve),
		conflict.WithDiffer(differ),
	}, nil
}

// MergeOptions translates the config into field-merge options.
func (c Config) MergeOptions() []resolve.MergeOption {
	c.setDefaults()
	return []resolve.MergeOption{
		resolve.WithCounterFields(c.CounterFields...),
		resolve.WithSetFields(c.SetFields...),
		resolve.WithElementIDField(c.ElementIDField),
		resolve.WithElementUpdatedAtField(c.ElementUpdatedAtField),
	}
}

// ConfigValidator validates configuration before applying it.
type ConfigValidator interface {
	Validate(config *Config) error
	Name() string
}

// ConfigWatcher is notified when the configuration changes.
type ConfigWatcher interface {
	OnConfigChanged(oldConfig, newConfig *Config)
	OnConfigError(err error)
	Name() string
}

// ConfigLoaderOption configures a ConfigLoader.
type ConfigLoaderOption func(*ConfigLoader)

// WithConfigValidator adds a configuration validator.
func WithConfigValidator(v ConfigValidator) ConfigLoaderOption {
	return func(cl *ConfigLoader) { cl.validators = append(cl.validators, v) }
}

// WithWatcher adds a configuration change watcher.
func WithWatcher(w ConfigWatcher) ConfigLoaderOption {
	return func(cl *ConfigLoader) { cl.watchers = append(cl.watchers, w) }
}

// WithConfigLogger sets a logger for the config loader.
func WithConfigLogger(l *logging.Logger) ConfigLoaderOption {
	return func(cl *ConfigLoader) {
		if l != nil {
			cl.logger = l
		}
	}
}

// ConfigLoader loads Config from YAML, JSON or TOML, validates it, notifies
// watchers and can hot-reload a file.
type ConfigLoader struct {
	mu         sync.RWMutex
	current    *Config
	validators []ConfigValidator
	watchers   []ConfigWatcher
	logger     *logging.Logger
}

// NewConfigLoader creates a loader. BasicValidator always runs first.
func NewConfigLoader(opts ...ConfigLoaderOption) *ConfigLoader {
	cl := &ConfigLoader{
		validators: []ConfigValidator{&BasicValidator{}},
		logger:     logging.Nop(),
	}
	for _, opt := range opts {
		opt(cl)
	}
	cl.logger = cl.logger.WithComponent(logging.ComponentConfig)
	return cl
}

// LoadFromFile loads configuration from a .yaml, .yml, .json or .toml file.
func (cl *ConfigLoader) LoadFromFile(path string) error {
	cl.logger.Debug("loading configuration", slog.String("path", path))
	data, err := os.ReadFile(path)
	if err != nil {
		return errors.E(errors.OpConfig, errors.Component("engine/config"), errors.KindNotFound, err,
			fmt.Sprintf("read config file %s", path))
	}
	return cl.LoadFromBytes(data, detectFormat(path))
}

// LoadFromBytes loads configuration in the given format: yaml, json or toml.
func (cl *ConfigLoader) LoadFromBytes(data []byte, format string) error {
	cfg, err := parseConfig(data, format)
	if err != nil {
		return errors.E(errors.OpConfig, errors.Component("engine/config"), errors.KindInvalid, err)
	}
	return cl.apply(cfg)
}

func parseConfig(data []byte, format string) (*Config, error) {
	var cfg Config
	switch strings.ToLower(format) {
	case "yaml", "yml":
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse YAML config: %w", err)
		}
	case "json":
		if err := json.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse JSON config: %w", err)
		}
	case "toml":
		if _, err := toml.Decode(string(data), &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse TOML config: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported config format: %s", format)
	}
	cfg.setDefaults()
	return &cfg, nil
}

func (cl *ConfigLoader) apply(cfg *Config) error {
	for _, v := range cl.validators {
		if err := v.Validate(cfg); err != nil {
			cl.logger.Error("configuration validation failed", slog.String("validator", v.Name()), slog.Any("error", err))
			return errors.E(errors.OpConfig, errors.Component("engine/config"), errors.KindInvalid, err,
				fmt.Sprintf("validator %s", v.Name()))
		}
	}

	cl.mu.Lock()
	old := cl.current
	cl.current = cfg
	cl.mu.Unlock()

	for _, w := range cl.watchers {
		cl.notify(w, old, cfg)
	}
	cl.logger.Debug("configuration applied")
	return nil
}

func (cl *ConfigLoader) notify(w ConfigWatcher, old, cfg *Config) {
	defer func() {
		if r := recover(); r != nil {
			cl.logger.Error("config watcher panic", slog.String("watcher", w.Name()), slog.Any("panic", r))
		}
	}()
	w.OnConfigChanged(old, cfg)
}

func (cl *ConfigLoader) reportError(err error) {
	cl.logger.Warn("configuration reload failed", slog.Any("error", err))
	for _, w := range cl.watchers {
		w.OnConfigError(err)
	}
}

// Current returns the active configuration, or the defaults before any load.
func (cl *ConfigLoader) Current() Config {
	cl.mu.RLock()
	defer cl.mu.RUnlock()
	if cl.current == nil {
		return DefaultConfig()
	}
	return *cl.current
}

// Watch reloads path whenever it is written, until ctx is done. Reload errors
// go to the watchers; the previous configuration stays active.
func (cl *ConfigLoader) Watch(ctx context.Context, path string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	// Watch the directory so editors that replace the file are seen.
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		watcher.Close()
		return fmt.Errorf("watch directory: %w", err)
	}

	go func() {
		defer watcher.Close()
		var debounce *time.Timer
		for {
			select {
			case <-ctx.Done():
				if debounce != nil {
					debounce.Stop()
				}
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Base(event.Name) != filepath.Base(path) {
					continue
				}
				if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				if debounce != nil {
					debounce.Stop()
				}
				debounce = time.AfterFunc(100*time.Millisecond, func() {
					if err := cl.LoadFromFile(path); err != nil {
						cl.reportError(err)
					}
				})
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				cl.reportError(err)
			}
		}
	}()
	return nil
}

func detectFormat(path string) string {
	switch strings.ToLower(strings.TrimPrefix(filepath.Ext(path), ".")) {
	case "json":
		return "json"
	case "toml":
		return "toml"
	default:
		return "yaml"
	}
}

// BasicValidator checks tier names, retry bounds and depth.
type BasicValidator struct{}

func (v *BasicValidator) Name() string { return "basic" }

func (v *BasicValidator) Validate(config *Config) error {
	if _, err := config.Tiers(); err != nil {
		return err
	}
	if _, err := conflict.ParseSeverity(config.DefaultTier); err != nil {
		return fmt.Errorf("default_tier: %w", err)
	}
	if _, err := conflict.ParseSeverity(config.MaxAutoResolveSeverity); err != nil {
		return fmt.Errorf("max_auto_resolve_severity: %w", err)
	}
	if config.MaxWriteBackRetries != nil && *config.MaxWriteBackRetries < 0 {
		return fmt.Errorf("max_write_back_retries must not be negative")
	}
	if config.MaxDepth < 0 {
		return fmt.Errorf("max_depth must not be negative")
	}
	if config.IdentityField == "" {
		return fmt.Errorf("identity_field is required")
	}
	if _, err := config.ResolutionRules(); err != nil {
		return err
	}
	return nil
}

// LoggingWatcher logs configuration changes.
type LoggingWatcher struct {
	logger *logging.Logger
}

// NewLoggingWatcher creates a LoggingWatcher.
func NewLoggingWatcher(logger *logging.Logger) *LoggingWatcher {
	return &LoggingWatcher{logger: logger}
}

func (w *LoggingWatcher) Name() string { return "logging" }

func (w *LoggingWatcher) OnConfigChanged(oldConfig, newConfig *Config) {
	if w.logger == nil {
		return
	}
	if oldConfig == nil {
		w.logger.Info("initial configuration loaded", slog.String("max_auto_resolve_severity", newConfig.MaxAutoResolveSeverity))
		return
	}
	w.logger.Info("configuration updated",
		slog.String("old_max_auto", oldConfig.MaxAutoResolveSeverity),
		slog.String("new_max_auto", newConfig.MaxAutoResolveSeverity),
		slog.Int("tiers", len(newConfig.SeverityTiers)))
}

func (w *LoggingWatcher) OnConfigError(err error) {
	if w.logger != nil {
		w.logger.Error("configuration error", slog.Any("error", err))
	}
}

// ReloadWatcher applies reloaded configuration to a running session: the
// detection settings go to the session and log.level to the logger's
// level variable.
type ReloadWatcher struct {
	session *Session
	level   *logging.DynamicLevelVar
	logger  *logging.Logger
}

// NewReloadWatcher creates a ReloadWatcher. A nil level leaves the log level
// alone.
func NewReloadWatcher(session *Session, level *logging.DynamicLevelVar, logger *logging.Logger) *ReloadWatcher {
	if logger == nil {
		logger = logging.Nop()
	}
	return &ReloadWatcher{session: session, level: level, logger: logger}
}

func (w *ReloadWatcher) Name() string { return "reload" }

// OnConfigChanged ignores the initial load; the session was built from it.
func (w *ReloadWatcher) OnConfigChanged(oldConfig, newConfig *Config) {
	if oldConfig == nil || newConfig == nil {
		return
	}
	if w.level != nil && newConfig.Log.Level != oldConfig.Log.Level {
		if w.level.SetFromString(newConfig.Log.Level) {
			w.logger.Info("log level changed", slog.String("level", newConfig.Log.Level))
		} else {
			w.logger.Warn("unknown log level ignored", slog.String("level", newConfig.Log.Level))
		}
	}
	if w.session == nil {
		return
	}
	if err := w.session.Reconfigure(*newConfig); err != nil {
		w.logger.Error("configuration not applied", slog.Any("error", err))
	}
}

func (w *ReloadWatcher) OnConfigError(error) {}
