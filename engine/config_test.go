package engine

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c0deZ3R0/docsync/conflict"
	"github.com/c0deZ3R0/docsync/errors"
	"github.com/c0deZ3R0/docsync/logging"
)

const yamlConfig = `
severity_tiers:
  title: critical
  estimate: low
default_tier: high
max_auto_resolve_severity: medium
auto_resolve: false
counter_fields: [plays]
max_write_back_retries: 5
log:
  level: debug
  format: json
`

const jsonConfig = `{
  "severity_tiers": {"title": "critical"},
  "max_auto_resolve_severity": "low",
  "set_fields": ["labels"],
  "identity_field": "uuid"
}`

const tomlConfig = `
max_auto_resolve_severity = "medium"
element_id_field = "key"
fold_unicode = false

[severity_tiers]
title = "critical"
notes = "low"
`

func TestConfigLoader_Formats(t *testing.T) {
	t.Run("yaml", func(t *testing.T) {
		l := NewConfigLoader()
		require.NoError(t, l.LoadFromBytes([]byte(yamlConfig), "yaml"))
		c := l.Current()
		assert.Equal(t, "medium", c.MaxAutoResolveSeverity)
		assert.Equal(t, "high", c.DefaultTier)
		assert.False(t, *c.AutoResolve)
		assert.Equal(t, []string{"plays"}, c.CounterFields)
		assert.Equal(t, 5, *c.MaxWriteBackRetries)
		assert.Equal(t, "debug", c.Log.Level)
		assert.Equal(t, DefaultIdentityField, c.IdentityField, "defaults fill the rest")
	})

	t.Run("json", func(t *testing.T) {
		l := NewConfigLoader()
		require.NoError(t, l.LoadFromBytes([]byte(jsonConfig), "json"))
		c := l.Current()
		assert.Equal(t, "uuid", c.IdentityField)
		assert.Equal(t, []string{"labels"}, c.SetFields)
		assert.True(t, *c.AutoResolve)
		assert.Equal(t, DefaultMaxWriteBackRetries, *c.MaxWriteBackRetries)
	})

	t.Run("toml", func(t *testing.T) {
		l := NewConfigLoader()
		require.NoError(t, l.LoadFromBytes([]byte(tomlConfig), "toml"))
		c := l.Current()
		assert.Equal(t, "key", c.ElementIDField)
		assert.False(t, *c.FoldUnicode)
		assert.Equal(t, "low", c.SeverityTiers["notes"])
	})

	t.Run("unknown format", func(t *testing.T) {
		err := NewConfigLoader().LoadFromBytes([]byte("{}"), "ini")
		assert.True(t, errors.IsKind(err, errors.KindInvalid))
	})
}

func TestConfigLoader_Validation(t *testing.T) {
	l := NewConfigLoader()
	require.NoError(t, l.LoadFromBytes([]byte(jsonConfig), "json"))

	err := l.LoadFromBytes([]byte(`{"severity_tiers": {"title": "urgent"}}`), "json")
	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.KindInvalid))
	assert.Equal(t, "uuid", l.Current().IdentityField, "previous config stays active")

	err = l.LoadFromBytes([]byte(`{"max_write_back_retries": -1}`), "json")
	assert.Error(t, err)

	require.NoError(t, l.LoadFromBytes([]byte("max_write_back_retries: 0\n"), "yaml"))
	assert.Equal(t, 0, *l.Current().MaxWriteBackRetries, "zero disables retries")

	err = l.LoadFromFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.True(t, errors.IsKind(err, errors.KindNotFound))
}

func TestConfig_Options(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SeverityTiers = map[string]string{"title": "critical"}
	cfg.MaxAutoResolveSeverity = "medium"

	opts, err := cfg.ClassifierOptions()
	require.NoError(t, err)
	c := conflict.NewClassifier(opts...)

	local := conflict.Snapshot{ID: "d", Revision: testRev("a"), Data: conflict.Document{"notes": "x"}}
	remote := conflict.Snapshot{ID: "d", Revision: testRev("b"), Data: conflict.Document{"notes": "y"}}
	info, err := c.Classify("d", local, remote)
	require.NoError(t, err)
	require.NotNil(t, info)
	assert.Equal(t, conflict.Medium, info.Severity, "unmapped field takes the default tier")
	assert.True(t, info.CanAutoResolve)

	cfg.DefaultTier = "bogus"
	_, err = cfg.ClassifierOptions()
	assert.Error(t, err)

	assert.Len(t, DefaultConfig().MergeOptions(), 4)
}

type recordingWatcher struct {
	mu      sync.Mutex
	changes []*Config
	errs    []error
}

func (w *recordingWatcher) Name() string { return "recording" }

func (w *recordingWatcher) OnConfigChanged(_, n *Config) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.changes = append(w.changes, n)
}

func (w *recordingWatcher) OnConfigError(err error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.errs = append(w.errs, err)
}

func (w *recordingWatcher) counts() (int, int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.changes), len(w.errs)
}

type panickingWatcher struct{}

func (panickingWatcher) Name() string                  { return "panicking" }
func (panickingWatcher) OnConfigChanged(_, _ *Config) { panic("boom") }
func (panickingWatcher) OnConfigError(error)           {}

func TestConfigLoader_Watch(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "docsync.yaml")
	require.NoError(t, os.WriteFile(path, []byte("max_auto_resolve_severity: low\n"), 0o600))

	w := &recordingWatcher{}
	l := NewConfigLoader(WithWatcher(panickingWatcher{}), WithWatcher(w))
	require.NoError(t, l.LoadFromFile(path))
	changes, _ := w.counts()
	require.Equal(t, 1, changes, "a panicking watcher does not stop the others")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, l.Watch(ctx, path))

	require.NoError(t, os.WriteFile(path, []byte("max_auto_resolve_severity: medium\n"), 0o600))
	assert.Eventually(t, func() bool {
		return l.Current().MaxAutoResolveSeverity == "medium"
	}, 5*time.Second, 20*time.Millisecond)

	require.NoError(t, os.WriteFile(path, []byte("max_auto_resolve_severity: extreme\n"), 0o600))
	assert.Eventually(t, func() bool {
		_, errs := w.counts()
		return errs > 0
	}, 5*time.Second, 20*time.Millisecond)
	assert.Equal(t, "medium", l.Current().MaxAutoResolveSeverity)
}

func TestConfig_ResolutionRules(t *testing.T) {
	l := NewConfigLoader()
	require.NoError(t, l.LoadFromBytes([]byte(`
rules:
  - name: owner-review
    any_field: ["meta.*"]
    suggest: manual
  - name: cheap-remote
    types: [edit_edit]
    max_severity: low
    suggest: remote-wins
`), "yaml"))

	rules, err := l.Current().ResolutionRules()
	require.NoError(t, err)
	require.Len(t, rules, 2)

	c := conflict.ConflictInfo{Type: conflict.EditEdit, Severity: conflict.Low, ConflictingFields: []string{"notes"}}
	name, ok := rules.Apply(&c)
	assert.True(t, ok)
	assert.Equal(t, "cheap-remote", name)
	assert.Equal(t, conflict.RemoteWins, c.SuggestedResolution)

	c = conflict.ConflictInfo{Type: conflict.EditEdit, Severity: conflict.High, ConflictingFields: []string{"notes"}}
	_, ok = rules.Apply(&c)
	assert.False(t, ok)

	err = l.LoadFromBytes([]byte(`{"rules": [{"name": "x", "types": ["SIDEWAYS"], "suggest": "manual"}]}`), "json")
	assert.Error(t, err, "unknown conflict type is rejected")
	assert.Len(t, l.Current().Rules, 2)
}

func TestReloadWatcher_LogLevel(t *testing.T) {
	level := logging.NewDynamicLevelVar(slog.LevelWarn)
	w := NewReloadWatcher(nil, level, nil)

	info := DefaultConfig()
	info.Log.Level = "info"
	debug := DefaultConfig()
	debug.Log.Level = "debug"

	w.OnConfigChanged(nil, &debug)
	assert.Equal(t, slog.LevelWarn, level.Level(), "the initial load is already applied")

	w.OnConfigChanged(&info, &debug)
	assert.Equal(t, slog.LevelDebug, level.Level())

	w.OnConfigChanged(&debug, &debug)
	assert.Equal(t, slog.LevelDebug, level.Level())

	bogus := DefaultConfig()
	bogus.Log.Level = "chatty"
	w.OnConfigChanged(&debug, &bogus)
	assert.Equal(t, slog.LevelDebug, level.Level(), "unknown levels are ignored")
}
