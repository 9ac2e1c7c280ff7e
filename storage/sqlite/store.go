// Package sqlite provides a SQLite replica store for the conflict engine.
//
// Every revision of a document is kept. Exactly one revision per document is
// the primary (the store's winner); revisions concurrent with it are listed
// as conflicting until the engine removes them. The same database also holds
// the persistent conflict queue and the resolution journal.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	stdSync "sync"
	"time"

	"github.com/c0deZ3R0/docsync/conflict"
	"github.com/c0deZ3R0/docsync/engine"
	"github.com/c0deZ3R0/docsync/errors"
	"github.com/c0deZ3R0/docsync/logging"
	"github.com/c0deZ3R0/docsync/resolve"
	"github.com/c0deZ3R0/docsync/revision"
	"github.com/c0deZ3R0/docsync/storage/revtree"

	// Go SQLite driver
	_ "github.com/mattn/go-sqlite3"
)

const component = errors.Component("storage/sqlite")

// Revision row states.
const (
	statusHistory  = 0
	statusPrimary  = 1
	statusConflict = 2
)

// DefaultChangeBuffer is the capacity of the change feed channel.
const DefaultChangeBuffer = 256

// Config holds configuration options for the SQLite store.
//
// Production-ready defaults are applied by DefaultConfig() including:
//   - WAL mode enabled for better concurrency
//   - busy_timeout of 5s and synchronous=NORMAL
//   - snappy-compressed document bodies
//   - Connection pool with 25 max open, 5 max idle connections
type Config struct {
	// DataSourceName is the path or DSN of the SQLite database.
	// Example: "file:docs.db"
	DataSourceName string

	// EnableWAL enables Write-Ahead Logging mode. When true the
	// journal_mode, busy_timeout and synchronous parameters are added to
	// DataSourceName unless already present.
	EnableWAL bool

	// Compress stores document bodies, queue entries and mementos snappy
	// compressed. Rows written either way stay readable.
	Compress bool

	// ReplicaID is the replica local writes and resolutions are attributed
	// to. Defaults to "local".
	ReplicaID string

	// ChangeBuffer is the change feed capacity.
	ChangeBuffer int

	// Logger defaults to a no-op logger.
	Logger *logging.Logger

	// Now stamps local writes. Defaults to time.Now.
	Now func() time.Time

	// Connection pool settings.
	// Defaults: MaxOpen=25, MaxIdle=5, Lifetime=1h, IdleTime=5m
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// setDefaults applies default values to the config
func (c *Config) setDefaults() {
	if c.ReplicaID == "" {
		c.ReplicaID = "local"
	}
	if c.ChangeBuffer <= 0 {
		c.ChangeBuffer = DefaultChangeBuffer
	}
	if c.Logger == nil {
		c.Logger = logging.Nop()
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	if c.MaxOpenConns == 0 {
		c.MaxOpenConns = 25
	}
	if c.MaxIdleConns == 0 {
		c.MaxIdleConns = 5
	}
	if c.ConnMaxLifetime == 0 {
		c.ConnMaxLifetime = time.Hour
	}
	if c.ConnMaxIdleTime == 0 {
		c.ConnMaxIdleTime = 5 * time.Minute
	}
	// Every connection to ":memory:" opens its own database.
	if strings.Contains(c.DataSourceName, ":memory:") {
		c.MaxOpenConns = 1
		c.MaxIdleConns = 1
		c.ConnMaxLifetime = 0
		c.ConnMaxIdleTime = 0
	}
	// Immediate transactions take the write lock up front so concurrent
	// writers wait on busy_timeout instead of failing to upgrade.
	c.DataSourceName = withParam(c.DataSourceName, "_txlock", "immediate")
	if c.EnableWAL {
		c.DataSourceName = withParam(c.DataSourceName, "_journal_mode", "WAL")
		c.DataSourceName = withParam(c.DataSourceName, "_busy_timeout", "5000")
		c.DataSourceName = withParam(c.DataSourceName, "_synchronous", "NORMAL")
	}
}

func withParam(dsn, key, value string) string {
	if dsn == "" || strings.Contains(dsn, key+"=") {
		return dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + key + "=" + value
}

// DefaultConfig returns a Config with production-ready defaults.
func DefaultConfig(dataSourceName string) *Config {
	config := &Config{
		DataSourceName: dataSourceName,
		EnableWAL:      true,
		Compress:       true,
	}
	config.setDefaults()
	return config
}

// NewWithDataSource is a convenience constructor
func NewWithDataSource(dataSourceName string) (*Store, error) {
	return New(DefaultConfig(dataSourceName))
}

// Store is a SQLite replica store. It is safe for concurrent use.
type Store struct {
	db       *sql.DB
	mu       stdSync.RWMutex
	closed   bool
	logger   *logging.Logger
	replica  string
	compress bool
	now      func() time.Time
	changes  chan string
	dropped  int
}

var (
	_ engine.ReplicaStore   = (*Store)(nil)
	_ engine.ChangeFeed     = (*Store)(nil)
	_ engine.AncestorFinder = (*Store)(nil)
	_ engine.QueueJournal   = (*Store)(nil)
	_ engine.Journal        = (*Store)(nil)
)

// New opens the database and creates the schema if needed.
func New(config *Config) (*Store, error) {
	if config == nil {
		return nil, errors.E(errors.OpConfig, component, errors.KindInvalid, "config cannot be nil")
	}
	config.setDefaults()
	if config.DataSourceName == "" {
		return nil, errors.E(errors.OpConfig, component, errors.KindInvalid, "DataSourceName is required")
	}

	logger := config.Logger.WithComponent(logging.ComponentStore)
	logger.Info("opening SQLite database",
		slog.String("data_source", config.DataSourceName),
		slog.Bool("wal_enabled", config.EnableWAL),
		slog.Bool("compress", config.Compress),
	)

	db, err := sql.Open("sqlite3", config.DataSourceName)
	if err != nil {
		return nil, errors.E(errors.OpConfig, component, errors.KindInternal, err, "open sqlite database")
	}
	db.SetMaxOpenConns(config.MaxOpenConns)
	db.SetMaxIdleConns(config.MaxIdleConns)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)
	db.SetConnMaxIdleTime(config.ConnMaxIdleTime)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, errors.E(errors.OpConfig, component, errors.KindInternal, err, "connect to sqlite database")
	}

	s := &Store{
		db:       db,
		logger:   logger,
		replica:  config.ReplicaID,
		compress: config.Compress,
		now:      config.Now,
		changes:  make(chan string, config.ChangeBuffer),
	}
	if err := s.setupSchema(); err != nil {
		db.Close()
		return nil, errors.E(errors.OpConfig, component, errors.KindInternal, err, "setup database schema")
	}
	logger.Info("SQLite store initialized", slog.String("replica", s.replica))
	return s, nil
}

func (s *Store) setupSchema() error {
	_, err := s.db.Exec(`
    CREATE TABLE IF NOT EXISTS revisions (
        seq            INTEGER PRIMARY KEY AUTOINCREMENT,
        doc_id         TEXT NOT NULL,
        rev            TEXT NOT NULL,
        data           BLOB,
        compressed     INTEGER NOT NULL DEFAULT 0,
        deleted        INTEGER NOT NULL DEFAULT 0,
        schema_version INTEGER NOT NULL DEFAULT 0,
        checksum       TEXT NOT NULL DEFAULT '',
        updated_at     INTEGER NOT NULL DEFAULT 0,
        status         INTEGER NOT NULL DEFAULT 0,
        UNIQUE (doc_id, rev)
    );
    CREATE INDEX IF NOT EXISTS idx_revisions_leaves ON revisions (doc_id, status);

    CREATE TABLE IF NOT EXISTS conflict_queue (
        doc_id      TEXT PRIMARY KEY,
        entry       BLOB NOT NULL,
        compressed  INTEGER NOT NULL DEFAULT 0,
        enqueued_at INTEGER NOT NULL
    );

    CREATE TABLE IF NOT EXISTS resolution_journal (
        id          TEXT PRIMARY KEY,
        doc_id      TEXT NOT NULL,
        recorded_at INTEGER NOT NULL,
        memento     BLOB NOT NULL,
        compressed  INTEGER NOT NULL DEFAULT 0
    );
    CREATE INDEX IF NOT EXISTS idx_journal_doc ON resolution_journal (doc_id, recorded_at);
    `)
	return err
}

// ReplicaID returns the local replica ID.
func (s *Store) ReplicaID() string { return s.replica }

// Write records a local edit on top of the document's primary revision and
// returns the new revision.
func (s *Store) Write(ctx context.Context, documentID string, data conflict.Document) (string, error) {
	return s.write(ctx, documentID, data, false)
}

// Delete records a local document deletion.
func (s *Store) Delete(ctx context.Context, documentID string) (string, error) {
	return s.write(ctx, documentID, nil, true)
}

func (s *Store) write(ctx context.Context, documentID string, data conflict.Document, deleted bool) (string, error) {
	if documentID == "" {
		return "", errors.E(errors.OpStore, component, errors.KindInvalid, "document ID is required")
	}
	var rev string
	err := s.withTx(ctx, errors.OpStore, func(tx *sql.Tx) error {
		primary, err := primaryRevision(ctx, tx, documentID)
		if err != nil {
			return err
		}
		clock := revision.NewVectorClock()
		if primary != "" {
			if clock, err = revision.Parse(primary); err != nil {
				return err
			}
		}
		if err := clock.Increment(s.replica); err != nil {
			return errors.E(errors.OpStore, component, errors.KindInvalid, err)
		}
		rev = clock.String()
		if err := demote(ctx, tx, documentID, statusPrimary); err != nil {
			return err
		}
		return s.insert(ctx, tx, conflict.Snapshot{
			ID: documentID, Data: data, Deleted: deleted, UpdatedAt: s.now(),
		}, rev, statusPrimary)
	})
	if err != nil {
		return "", err
	}
	s.emit(documentID)
	return rev, nil
}

// Replicate applies a revision received from another replica. A revision that
// descends from the primary replaces it; one the primary descends from is
// kept as history only; a concurrent one becomes a conflicting revision.
func (s *Store) Replicate(ctx context.Context, snap conflict.Snapshot) error {
	clock, ok := snap.Revision.(*revision.VectorClock)
	if !ok || clock == nil {
		return errors.E(errors.OpStore, component, errors.KindInvalid,
			fmt.Sprintf("unsupported revision type %T", snap.Revision))
	}
	if snap.ID == "" {
		return errors.E(errors.OpStore, component, errors.KindInvalid, "document ID is required")
	}
	rev := clock.String()
	changed := false
	err := s.withTx(ctx, errors.OpStore, func(tx *sql.Tx) error {
		if _, known, err := revisionStatus(ctx, tx, snap.ID, rev); err != nil || known {
			return err
		}
		primaryRev, err := primaryRevision(ctx, tx, snap.ID)
		if err != nil {
			return err
		}
		var primary *revision.VectorClock
		if primaryRev != "" {
			if primary, err = revision.Parse(primaryRev); err != nil {
				return err
			}
		}
		if snap.UpdatedAt.IsZero() {
			snap.UpdatedAt = s.now()
		}
		changed = true

		placement := revtree.Place(primary, clock)
		if placement == revtree.Ignore {
			return s.insert(ctx, tx, snap, rev, statusHistory)
		}
		conflicts, err := conflictingRevisions(ctx, tx, snap.ID)
		if err != nil {
			return err
		}
		dominated, err := revtree.Dominated(clock, conflicts)
		if err != nil {
			return err
		}
		for _, d := range dominated {
			if err := setStatus(ctx, tx, snap.ID, d, statusHistory); err != nil {
				return err
			}
		}
		status := statusConflict
		if placement == revtree.Primary {
			status = statusPrimary
			if err := demote(ctx, tx, snap.ID, statusPrimary); err != nil {
				return err
			}
		}
		return s.insert(ctx, tx, snap, rev, status)
	})
	if err != nil {
		return err
	}
	if changed {
		s.emit(snap.ID)
	}
	return nil
}

// GetWithConflicts returns the document's primary revision and its
// conflicting revisions in arrival order.
func (s *Store) GetWithConflicts(ctx context.Context, documentID string) (engine.DocumentWithConflicts, error) {
	if err := s.checkOpen(); err != nil {
		return engine.DocumentWithConflicts{}, err
	}
	rows, err := s.db.QueryContext(ctx, selectRevision+` WHERE doc_id = ? AND status > 0 ORDER BY seq ASC`, documentID)
	if err != nil {
		return engine.DocumentWithConflicts{}, errors.WrapOpComponent(err, string(errors.OpLoad), string(component))
	}
	defer rows.Close()

	var (
		out   engine.DocumentWithConflicts
		found bool
	)
	for rows.Next() {
		snap, status, err := scanRevision(rows, documentID)
		if err != nil {
			return engine.DocumentWithConflicts{}, err
		}
		if status == statusPrimary {
			out.Primary = snap
			found = true
			continue
		}
		out.ConflictingRevisions = append(out.ConflictingRevisions, snap.Revision.String())
	}
	if err := rows.Err(); err != nil {
		return engine.DocumentWithConflicts{}, errors.WrapOpComponent(err, string(errors.OpLoad), string(component))
	}
	if !found {
		return engine.DocumentWithConflicts{}, notFound(documentID, "")
	}
	return out, nil
}

// GetRevision returns any revision in the document's history.
func (s *Store) GetRevision(ctx context.Context, documentID, rev string) (conflict.Snapshot, error) {
	if err := s.checkOpen(); err != nil {
		return conflict.Snapshot{}, err
	}
	row := s.db.QueryRowContext(ctx, selectRevision+` WHERE doc_id = ? AND rev = ?`, documentID, rev)
	snap, _, err := scanRevision(row, documentID)
	if err == sql.ErrNoRows {
		return conflict.Snapshot{}, notFound(documentID, rev)
	}
	return snap, err
}

// Put stores doc as a new primary revision descending from every superseded
// revision. The primary revision must be among them; otherwise the document
// moved on since the resolution was computed and Put fails with
// errors.KindWriteBack. Superseded conflicting revisions stay listed until
// RemoveRevision is called for them.
func (s *Store) Put(ctx context.Context, doc resolve.ResolvedDocument, supersedes []string) (string, error) {
	var rev string
	err := s.withTx(ctx, errors.OpStore, func(tx *sql.Tx) error {
		primary, err := primaryRevision(ctx, tx, doc.ID)
		if err != nil {
			return err
		}
		if primary == "" {
			return notFound(doc.ID, "")
		}
		for _, r := range supersedes {
			if _, known, err := revisionStatus(ctx, tx, doc.ID, r); err != nil {
				return err
			} else if !known {
				return errors.E(errors.OpStore, component, errors.KindWriteBack,
					fmt.Sprintf("unknown superseded revision %s", r))
			}
		}
		if !revtree.Contains(supersedes, primary) {
			return errors.E(errors.OpStore, component, errors.KindWriteBack,
				fmt.Sprintf("document %q moved on to revision %s", doc.ID, primary))
		}
		clock, err := revtree.Supersede(s.replica, supersedes)
		if err != nil {
			return errors.E(errors.OpStore, component, errors.KindInvalid, err)
		}
		rev = clock.String()
		if err := demote(ctx, tx, doc.ID, statusPrimary); err != nil {
			return err
		}
		updatedAt := doc.UpdatedAt
		if updatedAt.IsZero() {
			updatedAt = s.now()
		}
		return s.insert(ctx, tx, conflict.Snapshot{
			ID: doc.ID, Data: doc.Data, Deleted: doc.Deleted, UpdatedAt: updatedAt,
		}, rev, statusPrimary)
	})
	if err != nil {
		return "", err
	}
	s.emit(doc.ID)
	return rev, nil
}

// RemoveRevision drops a conflicting revision. The revision stays in history.
func (s *Store) RemoveRevision(ctx context.Context, documentID, rev string) error {
	return s.withTx(ctx, errors.OpStore, func(tx *sql.Tx) error {
		status, known, err := revisionStatus(ctx, tx, documentID, rev)
		switch {
		case err != nil:
			return err
		case !known || status == statusHistory:
			return notFound(documentID, rev)
		case status == statusPrimary:
			return errors.E(errors.OpStore, component, errors.KindInvalid, "cannot remove the primary revision")
		}
		return setStatus(ctx, tx, documentID, rev, statusHistory)
	})
}

// CommonAncestor returns the most recent revision both a and b descend from.
func (s *Store) CommonAncestor(ctx context.Context, documentID, a, b string) (conflict.Snapshot, bool, error) {
	if err := s.checkOpen(); err != nil {
		return conflict.Snapshot{}, false, err
	}
	rows, err := s.db.QueryContext(ctx, `SELECT rev FROM revisions WHERE doc_id = ?`, documentID)
	if err != nil {
		return conflict.Snapshot{}, false, errors.WrapOpComponent(err, string(errors.OpLoad), string(component))
	}
	var history []string
	for rows.Next() {
		var rev string
		if err := rows.Scan(&rev); err != nil {
			rows.Close()
			return conflict.Snapshot{}, false, errors.WrapOpComponent(err, string(errors.OpLoad), string(component))
		}
		history = append(history, rev)
	}
	rows.Close()
	if len(history) == 0 {
		return conflict.Snapshot{}, false, notFound(documentID, "")
	}
	for _, rev := range []string{a, b} {
		if !revtree.Contains(history, rev) {
			return conflict.Snapshot{}, false, notFound(documentID, rev)
		}
	}
	best, found, err := revtree.CommonAncestor(history, a, b)
	if err != nil || !found {
		return conflict.Snapshot{}, false, err
	}
	snap, err := s.GetRevision(ctx, documentID, best)
	if err != nil {
		return conflict.Snapshot{}, false, err
	}
	return snap, true, nil
}

// Documents returns the stored document IDs in order.
func (s *Store) Documents(ctx context.Context) ([]string, error) {
	return s.queryIDs(ctx, `SELECT DISTINCT doc_id FROM revisions ORDER BY doc_id`)
}

// ConflictedDocuments returns the IDs of documents that have conflicting
// revisions, in order.
func (s *Store) ConflictedDocuments(ctx context.Context) ([]string, error) {
	return s.queryIDs(ctx, `SELECT DISTINCT doc_id FROM revisions WHERE status = 2 ORDER BY doc_id`)
}

func (s *Store) queryIDs(ctx context.Context, query string) ([]string, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, errors.WrapOpComponent(err, string(errors.OpLoad), string(component))
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, errors.WrapOpComponent(err, string(errors.OpLoad), string(component))
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Changes returns the change feed. It is closed by Close.
func (s *Store) Changes() <-chan string { return s.changes }

// Dropped returns how many change notifications were dropped because the
// feed was full.
func (s *Store) Dropped() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.dropped
}

// Stats returns database statistics for monitoring
func (s *Store) Stats() sql.DBStats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return sql.DBStats{}
	}
	return s.db.Stats()
}

// Close closes the change feed and the database connection.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	close(s.changes)
	return s.db.Close()
}

func (s *Store) checkOpen() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return errors.E(errors.OpStore, component, errors.KindClosed, "store is closed")
	}
	return nil
}

func (s *Store) emit(documentID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.changes <- documentID:
	default:
		s.dropped++
		s.logger.Warn("change feed full, dropping notification", slog.String("document_id", documentID))
	}
}

// withTx runs fn in a transaction. Errors fn returns pass through with their
// kind; driver errors are wrapped as internal.
func (s *Store) withTx(ctx context.Context, op errors.Operation, fn func(*sql.Tx) error) (err error) {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.checkOpen(); err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.E(op, component, errors.KindInternal, err)
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()
	if err = fn(tx); err != nil {
		if errors.KindOf(err) == errors.KindOther {
			err = errors.E(op, component, errors.KindInternal, err)
		}
		return err
	}
	if err = tx.Commit(); err != nil {
		return errors.E(op, component, errors.KindInternal, err)
	}
	return nil
}

const selectRevision = `SELECT rev, data, compressed, deleted, schema_version, checksum, updated_at, status FROM revisions`

type scanner interface {
	Scan(dest ...any) error
}

func scanRevision(row scanner, documentID string) (conflict.Snapshot, int, error) {
	var (
		rev        string
		data       []byte
		compressed bool
		status     int
		updatedAt  int64
		snap       = conflict.Snapshot{ID: documentID}
	)
	if err := row.Scan(&rev, &data, &compressed, &snap.Deleted, &snap.SchemaVersion, &snap.Checksum, &updatedAt, &status); err != nil {
		if err == sql.ErrNoRows {
			return snap, 0, err
		}
		return snap, 0, errors.WrapOpComponent(err, string(errors.OpLoad), string(component))
	}
	clock, err := revision.Parse(rev)
	if err != nil {
		return snap, 0, errors.E(errors.OpLoad, component, errors.KindInternal, err)
	}
	snap.Revision = clock
	snap.UpdatedAt = decodeTime(updatedAt)
	if data != nil {
		if snap.Data, err = decodeDocument(data, compressed); err != nil {
			return snap, 0, errors.E(errors.OpLoad, component, errors.KindInternal, err)
		}
	}
	return snap, status, nil
}

func (s *Store) insert(ctx context.Context, tx *sql.Tx, snap conflict.Snapshot, rev string, status int) error {
	var (
		data       []byte
		compressed bool
		err        error
	)
	if snap.Data != nil {
		if data, compressed, err = encodeBlob(snap.Data, s.compress); err != nil {
			return errors.E(errors.OpStore, component, errors.KindInvalid, err)
		}
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO revisions
        (doc_id, rev, data, compressed, deleted, schema_version, checksum, updated_at, status)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		snap.ID, rev, data, compressed, snap.Deleted, snap.SchemaVersion, snap.Checksum, encodeTime(snap.UpdatedAt), status)
	return err
}

func primaryRevision(ctx context.Context, tx *sql.Tx, documentID string) (string, error) {
	var rev string
	err := tx.QueryRowContext(ctx, `SELECT rev FROM revisions WHERE doc_id = ? AND status = 1`, documentID).Scan(&rev)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return rev, err
}

func conflictingRevisions(ctx context.Context, tx *sql.Tx, documentID string) ([]string, error) {
	rows, err := tx.QueryContext(ctx, `SELECT rev FROM revisions WHERE doc_id = ? AND status = 2 ORDER BY seq`, documentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var revs []string
	for rows.Next() {
		var rev string
		if err := rows.Scan(&rev); err != nil {
			return nil, err
		}
		revs = append(revs, rev)
	}
	return revs, rows.Err()
}

func revisionStatus(ctx context.Context, tx *sql.Tx, documentID, rev string) (int, bool, error) {
	var status int
	err := tx.QueryRowContext(ctx, `SELECT status FROM revisions WHERE doc_id = ? AND rev = ?`, documentID, rev).Scan(&status)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	return status, err == nil, err
}

func setStatus(ctx context.Context, tx *sql.Tx, documentID, rev string, status int) error {
	_, err := tx.ExecContext(ctx, `UPDATE revisions SET status = ? WHERE doc_id = ? AND rev = ?`, status, documentID, rev)
	return err
}

// demote moves every revision of the document with the given status to history.
func demote(ctx context.Context, tx *sql.Tx, documentID string, status int) error {
	_, err := tx.ExecContext(ctx, `UPDATE revisions SET status = 0 WHERE doc_id = ? AND status = ?`, documentID, status)
	return err
}

func notFound(documentID, rev string) error {
	msg := fmt.Sprintf("document %q not found", documentID)
	if rev != "" {
		msg = fmt.Sprintf("revision %s of document %q not found", rev, documentID)
	}
	return errors.E(errors.OpLoad, component, errors.KindNotFound, msg)
}
