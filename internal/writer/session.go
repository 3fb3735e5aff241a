package writer

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/rickgao/effekt/internal/config"
	"github.com/rickgao/effekt/internal/relay"
)

const insertSession = `
	INSERT INTO relay_sessions (
		session_id, remote_addr, transport, connected_at, disconnected_at,
		frames_in, frames_out, malformed, close_reason
	)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	ON CONFLICT (session_id) DO NOTHING
`

var errNoDatabase = errors.New("writer: no database")

// BatchSender sends a pgx batch. *pgxpool.Pool satisfies it.
type BatchSender interface {
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

// Metrics contains writer counters.
type Metrics struct {
	Opened    int64
	Queued    int64
	Rejected  int64
	Inserts   int64
	Conflicts int64
	Errors    int64
	Flushes   int64
}

// SessionWriter records closed relay sessions in the relay_sessions table.
// It implements relay.SessionObserver; rows are batched and written on size
// or interval.
type SessionWriter struct {
	cfg    config.WriterConfig
	logger *slog.Logger

	input *Queue[relay.Session]
	db    BatchSender

	// Batching
	batch       []relay.Session
	batchMu     sync.Mutex
	flushTicker *time.Ticker

	// Lifecycle
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	metricsMu sync.Mutex
	metrics   Metrics
}

var _ relay.SessionObserver = (*SessionWriter)(nil)

// NewSessionWriter creates a writer. Zero config fields take the defaults
// from the config package.
func NewSessionWriter(cfg config.WriterConfig, db BatchSender, logger *slog.Logger) *SessionWriter {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.BatchSize < 1 {
		cfg.BatchSize = config.DefaultBatchSize
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = config.DefaultFlushInterval
	}
	if cfg.BufferSize < 1 {
		cfg.BufferSize = config.DefaultBufferSize
	}

	return &SessionWriter{
		cfg:    cfg,
		logger: logger.With("component", "session_writer"),
		input:  NewQueue[relay.Session](cfg.BufferSize),
		db:     db,
		batch:  make([]relay.Session, 0, cfg.BatchSize),
	}
}

// SessionOpened counts the session. Rows are written when the session closes.
func (w *SessionWriter) SessionOpened(s relay.Session) {
	w.metricsMu.Lock()
	w.metrics.Opened++
	w.metricsMu.Unlock()

	w.logger.Debug("session opened", "session", s.ID, "remote", s.RemoteAddr)
}

// SessionClosed queues s for insertion.
func (w *SessionWriter) SessionClosed(s relay.Session) {
	ok := w.input.Push(s)

	w.metricsMu.Lock()
	if ok {
		w.metrics.Queued++
	} else {
		w.metrics.Rejected++
	}
	w.metricsMu.Unlock()

	if !ok {
		w.logger.Warn("session dropped, writer stopped", "session", s.ID)
	}
}

// Start begins consuming sessions and writing to the database.
func (w *SessionWriter) Start(ctx context.Context) error {
	w.ctx, w.cancel = context.WithCancel(ctx)
	w.flushTicker = time.NewTicker(w.cfg.FlushInterval)

	w.wg.Add(2)
	go w.consumeLoop()
	go w.flushLoop()

	w.logger.Info("session writer started",
		"batch_size", w.cfg.BatchSize,
		"flush_interval", w.cfg.FlushInterval,
	)
	return nil
}

// Stop rejects new sessions, waits for the loops and flushes what is left
// using ctx.
func (w *SessionWriter) Stop(ctx context.Context) error {
	w.logger.Info("stopping session writer")

	w.input.Close()
	if w.cancel != nil {
		w.cancel()
	}
	if w.flushTicker != nil {
		w.flushTicker.Stop()
	}

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		w.logger.Warn("session writer stop timed out")
		return ctx.Err()
	}

	// Final flush
	w.collect(w.input.Drain(0))
	w.flush(ctx)

	w.logger.Info("session writer stopped")
	return nil
}

// Stats returns current metrics.
func (w *SessionWriter) Stats() Metrics {
	w.metricsMu.Lock()
	defer w.metricsMu.Unlock()
	return w.metrics
}

// consumeLoop moves queued sessions into the batch.
func (w *SessionWriter) consumeLoop() {
	defer w.wg.Done()

	for {
		select {
		case <-w.ctx.Done():
			return
		case <-w.input.Ready():
			if w.collect(w.input.Drain(0)) {
				w.flush(w.ctx)
			}
		}
	}
}

// flushLoop periodically flushes the batch.
func (w *SessionWriter) flushLoop() {
	defer w.wg.Done()

	for {
		select {
		case <-w.ctx.Done():
			return
		case <-w.flushTicker.C:
			w.flush(w.ctx)
		}
	}
}

// collect appends sessions to the batch and reports whether it is full.
func (w *SessionWriter) collect(sessions []relay.Session) bool {
	w.batchMu.Lock()
	defer w.batchMu.Unlock()
	w.batch = append(w.batch, sessions...)
	return len(w.batch) >= w.cfg.BatchSize
}

// flush writes the current batch to the database.
func (w *SessionWriter) flush(ctx context.Context) {
	w.batchMu.Lock()
	if len(w.batch) == 0 {
		w.batchMu.Unlock()
		return
	}

	// Take ownership of current batch
	batch := w.batch
	w.batch = make([]relay.Session, 0, w.cfg.BatchSize)
	w.batchMu.Unlock()

	start := time.Now()

	conflicts, err := w.batchInsert(ctx, batch)
	if err != nil {
		w.logger.Error("batch insert failed", "error", err, "count", len(batch))
		w.metricsMu.Lock()
		w.metrics.Errors++
		w.metricsMu.Unlock()
		return
	}

	w.metricsMu.Lock()
	w.metrics.Inserts += int64(len(batch) - conflicts)
	w.metrics.Conflicts += int64(conflicts)
	w.metrics.Flushes++
	w.metricsMu.Unlock()

	w.logger.Debug("flushed sessions",
		"count", len(batch),
		"conflicts", conflicts,
		"duration", time.Since(start),
	)
}

// batchInsert inserts rows using pgx.Batch with ON CONFLICT DO NOTHING.
func (w *SessionWriter) batchInsert(ctx context.Context, rows []relay.Session) (conflicts int, err error) {
	if w.db == nil {
		return 0, errNoDatabase
	}

	batch := &pgx.Batch{}
	for _, s := range rows {
		batch.Queue(insertSession,
			s.ID, s.RemoteAddr, s.Transport, s.ConnectedAt, s.DisconnectedAt,
			int64(s.FramesIn), int64(s.FramesOut), int64(s.Malformed), s.CloseReason,
		)
	}

	results := w.db.SendBatch(ctx, batch)
	defer results.Close()

	for range rows {
		ct, err := results.Exec()
		if err != nil {
			return 0, err
		}
		if ct.RowsAffected() == 0 {
			conflicts++
		}
	}

	return conflicts, nil
}
