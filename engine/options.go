package engine

import (
	"time"

	"github.com/c0deZ3R0/docsync/conflict"
	"github.com/c0deZ3R0/docsync/logging"
	"github.com/c0deZ3R0/docsync/resolve"
)

// Option configures an Orchestrator or a Session.
type Option func(*options)

type options struct {
	config       Config
	registry     *resolve.Registry
	classifier   *conflict.Classifier
	queue        *Queue
	locks        *KeyedMutex
	hooks        Hooks
	metrics      MetricsCollector
	journal      Journal
	queueJournal QueueJournal
	schema       *DocumentSchema
	rules        resolve.Rules
	resolvers    []resolve.MergeOption
	parse        RevisionParser
	logger       *logging.Logger
	now          func() time.Time
}

// WithConfig sets the engine configuration. Zero fields take their defaults.
func WithConfig(c Config) Option {
	return func(o *options) { o.config = c }
}

// WithRegistry replaces the default strategy registry.
func WithRegistry(r *resolve.Registry) Option {
	return func(o *options) { o.registry = r }
}

// WithClassifier replaces the classifier built from the configuration.
func WithClassifier(c *conflict.Classifier) Option {
	return func(o *options) { o.classifier = c }
}

// WithQueue shares an existing conflict queue.
func WithQueue(q *Queue) Option {
	return func(o *options) { o.queue = q }
}

// WithHooks sets lifecycle hooks.
func WithHooks(h Hooks) Option {
	return func(o *options) { o.hooks = h }
}

// WithMetrics sets the metrics collector.
func WithMetrics(m MetricsCollector) Option {
	return func(o *options) { o.metrics = m }
}

// WithJournal records a memento for every applied resolution.
func WithJournal(j Journal) Option {
	return func(o *options) { o.journal = j }
}

// WithPersistentQueue persists the conflict queue through j. A Session
// restores the persisted entries when it starts.
func WithPersistentQueue(j QueueJournal) Option {
	return func(o *options) { o.queueJournal = j }
}

// WithSchema validates resolved documents against a JSON Schema. It takes
// precedence over Config.SchemaFile.
func WithSchema(s *DocumentSchema) Option {
	return func(o *options) { o.schema = s }
}

// WithRules sets the suggestion rules. They take precedence over
// Config.Rules.
func WithRules(rules ...resolve.Rule) Option {
	return func(o *options) { o.rules = append(o.rules, rules...) }
}

// WithFieldResolver registers a custom per-field resolver with the default
// registry's field-merge and custom strategies.
func WithFieldResolver(field string, fn resolve.FieldResolverFunc) Option {
	return func(o *options) { o.resolvers = append(o.resolvers, resolve.WithFieldResolver(field, fn)) }
}

// WithRevisionParser sets how persisted queue entries' revisions are decoded.
func WithRevisionParser(p RevisionParser) Option {
	return func(o *options) { o.parse = p }
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

func buildOptions(opts []Option) (*options, error) {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}
	o.config.setDefaults()
	if o.logger == nil {
		o.logger = logging.Nop()
	}
	if o.now == nil {
		o.now = time.Now
	}
	if o.metrics == nil {
		o.metrics = &NoOpMetricsCollector{}
	}
	if o.parse == nil {
		o.parse = ParseVectorClock
	}
	if o.locks == nil {
		o.locks = NewKeyedMutex()
	}
	if o.classifier == nil {
		copts, err := o.config.ClassifierOptions()
		if err != nil {
			return nil, err
		}
		copts = append(copts, conflict.WithClock(o.now), conflict.WithLogger(o.logger))
		o.classifier = conflict.NewClassifier(copts...)
	}
	if o.registry == nil {
		mopts := append(o.config.MergeOptions(), o.resolvers...)
		o.registry = resolve.NewDefaultRegistry(mopts...)
	}
	if o.queue == nil {
		o.queue = NewQueue(
			WithQueueJournal(o.queueJournal),
			WithQueueClock(o.now),
			WithQueueLogger(o.logger),
		)
	}
	if o.rules == nil {
		rules, err := o.config.ResolutionRules()
		if err != nil {
			return nil, err
		}
		o.rules = rules
	}
	if o.schema == nil && o.config.SchemaFile != "" {
		s, err := LoadSchemaFile(o.config.SchemaFile)
		if err != nil {
			return nil, err
		}
		o.schema = s
	}
	return o, nil
}
