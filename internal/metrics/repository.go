package metrics

import (
	"database/sql"
	"os"
	"path/filepath"
	"sync"
	"time"

	"codeberg.org/mutker/loadlogger/internal/errors"
	"codeberg.org/mutker/loadlogger/internal/logger"
	"github.com/benbjohnson/clock"
	_ "github.com/mattn/go-sqlite3"
)

type repository struct {
	db            *sql.DB
	logger        logger.Logger
	cfg           Config
	mu            sync.Mutex
	buffer        []*Snapshot
	flushTicker   *clock.Ticker
	shutdownChan  chan struct{}
	flushDoneChan chan struct{}
	closeOnce     sync.Once
}

func NewRepository(cfg Config, log logger.Logger) (Repository, error) {
	errFactory := errors.New()

	if cfg.DBPath == "" {
		return nil, errFactory.New(ErrInvalidDBPath)
	}

	// Ensure the directory exists
	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), defaultDirPerm); err != nil {
		return nil, errFactory.WithData(ErrStorageInit, struct {
			Phase string
			Path  string
			Error string
		}{
			Phase: "create_directory",
			Path:  cfg.DBPath,
			Error: err.Error(),
		})
	}

	// WAL keeps flush inserts from blocking readers of the log
	dsn := cfg.DBPath + "?_journal=WAL&_auto_vacuum=2"
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, errFactory.WithData(ErrStorageInit, phaseError{Phase: "open_database", Error: err.Error()})
	}

	if err := migrate(db, cfg.backupDir(), log); err != nil {
		db.Close()
		return nil, errFactory.WithData(ErrStorageInit, phaseError{Phase: "schema_version", Error: err.Error()})
	}

	log.Info().
		Str("path", cfg.DBPath).
		Int("schema_version", SchemaVersion).
		Int("batch_size", cfg.BatchSize).
		Int("batch_timeout", cfg.BatchTimeout).
		Msg("Metrics repository initialized")

	repo := &repository{
		db:            db,
		logger:        log,
		cfg:           cfg,
		buffer:        make([]*Snapshot, 0, cfg.BatchSize),
		shutdownChan:  make(chan struct{}),
		flushDoneChan: make(chan struct{}),
	}

	// Periodic flushing only makes sense when snapshots are batched
	if cfg.BatchSize > 1 && cfg.BatchTimeout > 0 {
		clk := cfg.Clock
		if clk == nil {
			clk = clock.New()
		}
		repo.flushTicker = clk.Ticker(time.Duration(cfg.BatchTimeout) * time.Second)
		go repo.flusher()
	} else {
		close(repo.flushDoneChan)
	}

	return repo, nil
}

func (r *repository) Record(snapshot *Snapshot) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.buffer = append(r.buffer, snapshot)

	if len(r.buffer) >= r.cfg.BatchSize {
		return r.flush()
	}

	return nil
}

// Recent returns up to limit snapshots, newest first. Buffered snapshots are
// written out first.
func (r *repository) Recent(limit int) ([]*Snapshot, error) {
	errFactory := errors.New()

	r.mu.Lock()
	err := r.flush()
	r.mu.Unlock()
	if err != nil {
		return nil, err
	}

	rows, err := r.db.Query(selectRecentSQL, limit)
	if err != nil {
		return nil, errFactory.Wrap(ErrStorageQuery, err)
	}
	defer rows.Close()

	var out []*Snapshot
	for rows.Next() {
		s, err := scanSnapshot(rows)
		if err != nil {
			return nil, errFactory.Wrap(ErrStorageQuery, err)
		}
		out = append(out, s)
	}

	if err := rows.Err(); err != nil {
		return nil, errFactory.Wrap(ErrStorageQuery, err)
	}

	return out, nil
}

func (r *repository) Close() error {
	r.closeOnce.Do(func() {
		close(r.shutdownChan)
		if r.flushTicker != nil {
			r.flushTicker.Stop()
		}
	})

	// Wait for the flusher to finish its final flush
	<-r.flushDoneChan

	r.mu.Lock()
	err := r.flush()
	r.mu.Unlock()
	if err != nil {
		r.logger.Error().Err(err).Msg("Failed to flush metrics on close")
	}

	// Checkpoint WAL and cleanup on close
	if _, err := r.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		return errors.New().WithData(ErrStorageClose, phaseError{Phase: "checkpoint_wal", Error: err.Error()})
	}

	if err := r.db.Close(); err != nil {
		return errors.New().WithData(ErrStorageClose, phaseError{Phase: "close_database", Error: err.Error()})
	}

	r.logger.Info().Msg("Metrics repository closed gracefully")

	return nil
}

func (r *repository) flusher() {
	defer close(r.flushDoneChan)

	for {
		select {
		case <-r.flushTicker.C:
			r.mu.Lock()
			if err := r.flush(); err != nil {
				r.logger.Warn().Err(err).Msg("Periodic metrics flush failed")
			}
			r.mu.Unlock()
		case <-r.shutdownChan:
			return
		}
	}
}

// flush writes the buffered snapshots in one transaction. On failure the
// buffer is kept so the next flush retries it.
func (r *repository) flush() error {
	if len(r.buffer) == 0 {
		return nil
	}

	errFactory := errors.New()

	err := withTx(r.db, ErrTransactionFailed, r.logger, func(tx *sql.Tx) error {
		stmt, err := tx.Prepare(insertSnapshotSQL)
		if err != nil {
			return errFactory.Wrap(ErrTransactionFailed, err)
		}
		defer stmt.Close()

		for _, snapshot := range r.buffer {
			if _, err := stmt.Exec(snapshot.columns()...); err != nil {
				return errFactory.Wrap(ErrTransactionFailed, err)
			}
		}
		return nil
	})
	if err != nil {
		r.logger.Error().Err(err).Int("snapshots", len(r.buffer)).Msg("Failed to write metrics batch")
		return err
	}

	r.logger.Debug().Int("snapshots", len(r.buffer)).Msg("Flushed metrics to database")
	r.buffer = r.buffer[:0]

	return nil
}

// columns orders s the way insertSnapshotSQL and selectRecentSQL expect.
func (s *Snapshot) columns() []any {
	return []any{
		s.Timestamp.UnixMilli(),
		int64(s.Flush.Records),
		int64(s.Flush.Written),
		int64(s.Flush.Failed),
		int64(s.Flush.Lost),
		int64(s.Flush.StartAddress),
		int64(s.Flush.EndAddress),
		s.Flush.Duration.Microseconds(),
		int64(s.Buffer.Capacity),
		int64(s.Buffer.Dropped),
	}
}

func scanSnapshot(rows *sql.Rows) (*Snapshot, error) {
	var (
		s                                        Snapshot
		ts, start, end, duration, dropped        int64
		records, written, failed, lost, capacity int64
	)
	if err := rows.Scan(
		&ts,
		&records, &written, &failed, &lost,
		&start, &end, &duration,
		&capacity, &dropped,
	); err != nil {
		return nil, err
	}

	s.Timestamp = time.UnixMilli(ts)
	s.Flush.Records = int(records)
	s.Flush.Written = int(written)
	s.Flush.Failed = int(failed)
	s.Flush.Lost = int(lost)
	s.Flush.StartAddress = uint64(start)
	s.Flush.EndAddress = uint64(end)
	s.Flush.Duration = time.Duration(duration) * time.Microsecond
	s.Buffer.Capacity = int(capacity)
	s.Buffer.Dropped = uint64(dropped)
	return &s, nil
}
