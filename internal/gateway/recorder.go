package gateway

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/knx-access/internal/knx"
)

const (
	// defaultHistoryLimit caps History queries when no limit is given.
	defaultHistoryLimit = 100

	// recordQueueSize bounds observations waiting to be written.
	recordQueueSize = 1024

	// dropLogInterval throttles the "queue full" warning.
	dropLogInterval = 1000
)

// Recorder passively records bus activity in SQLite: every group address
// and sending device seen, plus the decoded value history of mapped
// datapoints.
//
// Writes happen on a worker goroutine fed by a bounded queue, so Record
// never waits on SQLite. When the queue is full observations are dropped
// and counted.
//
// The database must have the bus_activity and value_history migrations
// applied.
//
// Thread Safety: All methods are safe for concurrent use.
type Recorder struct {
	db     *sql.DB
	logger Logger

	gaUpsertStmt      *sql.Stmt
	deviceUpsertStmt  *sql.Stmt
	historyInsertStmt *sql.Stmt
	stmtMu            sync.Mutex

	// queue is nil until Start and closed by Stop, both under mu.
	queue   chan recordJob
	closed  bool
	mu      sync.RWMutex
	wg      sync.WaitGroup
	dropped atomic.Uint64

	now func() time.Time
}

// recordJob is one queued observation, or a flush marker when flushed is
// set.
type recordJob struct {
	obs     Observation
	at      time.Time
	flushed chan struct{}
}

// AddressActivity is one row of knx_group_addresses.
type AddressActivity struct {
	Address         string    `json:"address"`
	FirstSeen       time.Time `json:"first_seen"`
	LastSeen        time.Time `json:"last_seen"`
	MessageCount    int64     `json:"message_count"`
	WriteCount      int64     `json:"write_count"`
	ReadCount       int64     `json:"read_count"`
	ResponseCount   int64     `json:"response_count"`
	HasReadResponse bool      `json:"has_read_response"`
	LastSource      string    `json:"last_source,omitempty"`
	LastPayload     []byte    `json:"last_payload,omitempty"`
}

// DeviceActivity is one row of knx_devices.
type DeviceActivity struct {
	Address      string    `json:"address"`
	LastSeen     time.Time `json:"last_seen"`
	MessageCount int64     `json:"message_count"`
}

// HistoryEntry is one decoded value from knx_value_history.
type HistoryEntry struct {
	Address    string    `json:"address"`
	Kind       string    `json:"kind"`
	Source     string    `json:"source"`
	DPT        string    `json:"dpt"`
	Payload    []byte    `json:"payload"`
	Value      string    `json:"value"`
	RecordedAt time.Time `json:"recorded_at"`
}

// NewRecorder creates a recorder backed by db.
func NewRecorder(db *sql.DB) *Recorder {
	return &Recorder{
		db:  db,
		now: time.Now,
	}
}

// SetLogger sets the logger for the recorder.
func (r *Recorder) SetLogger(logger Logger) {
	r.logger = logger
}

// Start prepares the recorder's statements and starts the writer. Records
// made before Start are ignored. A stopped recorder cannot be restarted.
func (r *Recorder) Start(ctx context.Context) error {
	r.stmtMu.Lock()
	defer r.stmtMu.Unlock()

	if r.gaUpsertStmt != nil {
		return nil // Already started
	}
	r.mu.RLock()
	closed := r.closed
	r.mu.RUnlock()
	if closed {
		return errors.New("recorder already stopped")
	}

	gaStmt, err := r.db.PrepareContext(ctx, `
		INSERT INTO knx_group_addresses (
			group_address, first_seen, last_seen, message_count,
			write_count, read_count, response_count, has_read_response,
			last_source, last_payload
		)
		VALUES (?, ?, ?, 1, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(group_address) DO UPDATE SET
			last_seen = excluded.last_seen,
			message_count = message_count + 1,
			write_count = write_count + excluded.write_count,
			read_count = read_count + excluded.read_count,
			response_count = response_count + excluded.response_count,
			has_read_response = MAX(has_read_response, excluded.has_read_response),
			last_source = excluded.last_source,
			last_payload = COALESCE(excluded.last_payload, last_payload)
	`)
	if err != nil {
		return fmt.Errorf("preparing GA upsert statement: %w", err)
	}

	deviceStmt, err := r.db.PrepareContext(ctx, `
		INSERT INTO knx_devices (individual_address, last_seen, message_count)
		VALUES (?, ?, 1)
		ON CONFLICT(individual_address) DO UPDATE SET
			last_seen = excluded.last_seen,
			message_count = message_count + 1
	`)
	if err != nil {
		gaStmt.Close()
		return fmt.Errorf("preparing device upsert statement: %w", err)
	}

	historyStmt, err := r.db.PrepareContext(ctx, `
		INSERT INTO knx_value_history (group_address, kind, source, dpt, payload, value, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		gaStmt.Close()
		deviceStmt.Close()
		return fmt.Errorf("preparing history insert statement: %w", err)
	}

	r.gaUpsertStmt = gaStmt
	r.deviceUpsertStmt = deviceStmt
	r.historyInsertStmt = historyStmt

	r.mu.Lock()
	r.queue = make(chan recordJob, recordQueueSize)
	r.mu.Unlock()

	// Queued writes outlive the caller's context so Stop can drain them.
	writeCtx := context.WithoutCancel(ctx)
	r.wg.Add(1)
	go r.run(writeCtx)

	r.log("bus recorder started")
	return nil
}

// Stop drains queued observations, then releases the recorder's
// statements. Record is a no-op afterwards.
func (r *Recorder) Stop() {
	r.mu.Lock()
	if !r.closed {
		r.closed = true
		if r.queue != nil {
			close(r.queue)
		}
	}
	r.mu.Unlock()
	r.wg.Wait()

	r.stmtMu.Lock()
	defer r.stmtMu.Unlock()

	for _, stmt := range []**sql.Stmt{&r.gaUpsertStmt, &r.deviceUpsertStmt, &r.historyInsertStmt} {
		if *stmt != nil {
			(*stmt).Close()
			*stmt = nil
		}
	}
	r.log("bus recorder stopped", "dropped", r.dropped.Load())
}

// Record queues one observation for writing. It never blocks: when the
// queue is full the observation is dropped, so a slow disk cannot stall
// telegram dispatch.
func (r *Recorder) Record(_ context.Context, o Observation) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed || r.queue == nil {
		return
	}

	select {
	case r.queue <- recordJob{obs: o, at: r.now()}:
	default:
		if n := r.dropped.Add(1); n == 1 || n%dropLogInterval == 0 {
			r.logWarn("record queue full, dropping observations", "dropped", n)
		}
	}
}

// Flush waits until every observation queued before the call is written.
func (r *Recorder) Flush(ctx context.Context) error {
	done := make(chan struct{})

	r.mu.RLock()
	if r.closed || r.queue == nil {
		r.mu.RUnlock()
		return nil
	}
	select {
	case r.queue <- recordJob{flushed: done}:
		r.mu.RUnlock()
	case <-ctx.Done():
		r.mu.RUnlock()
		return ctx.Err()
	}

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Dropped returns how many observations were discarded on a full queue.
func (r *Recorder) Dropped() uint64 {
	return r.dropped.Load()
}

// run writes queued observations until Stop closes the queue.
func (r *Recorder) run(ctx context.Context) {
	defer r.wg.Done()
	for job := range r.queue {
		if job.flushed != nil {
			close(job.flushed)
			continue
		}
		r.write(ctx, job.obs, job.at)
	}
}

// write stores one observation. Errors are logged, not returned.
func (r *Recorder) write(ctx context.Context, o Observation, at time.Time) {
	r.stmtMu.Lock()
	gaStmt, deviceStmt, historyStmt := r.gaUpsertStmt, r.deviceUpsertStmt, r.historyInsertStmt
	r.stmtMu.Unlock()
	if gaStmt == nil {
		return
	}

	t := o.Telegram
	now := at.Unix()
	source := t.Source.String()

	// 0.0.0 is the "let the interface fill it in" placeholder.
	if t.Source != 0 {
		if _, err := deviceStmt.ExecContext(ctx, source, now); err != nil {
			r.logError("recording device", err)
		}
	}

	var writes, reads, responses int
	switch t.Kind {
	case knx.KindWrite:
		writes = 1
	case knx.KindRead:
		reads = 1
	case knx.KindResponse:
		responses = 1
	}

	var payload []byte
	if t.Kind != knx.KindRead {
		payload = t.Payload
	}
	if _, err := gaStmt.ExecContext(ctx,
		t.Address.String(), now, now,
		writes, reads, responses, responses,
		source, payload,
	); err != nil {
		r.logError("recording group address", err)
	}

	if o.Datapoint == nil || o.Value == nil {
		return
	}
	if _, err := historyStmt.ExecContext(ctx,
		t.Address.String(), KindName(t.Kind), source,
		o.Datapoint.DPT.String(), t.Payload, o.Value.String(), now,
	); err != nil {
		r.logError("recording value history", err)
	}
}

// GroupAddresses returns recorded group addresses, most recently seen first.
// limit <= 0 returns all of them.
func (r *Recorder) GroupAddresses(ctx context.Context, limit int) ([]AddressActivity, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT group_address, first_seen, last_seen, message_count,
		       write_count, read_count, response_count, has_read_response,
		       COALESCE(last_source, ''), last_payload
		FROM knx_group_addresses
		ORDER BY last_seen DESC, group_address
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying group addresses: %w", err)
	}
	defer rows.Close()

	var out []AddressActivity
	for rows.Next() {
		var a AddressActivity
		var first, last int64
		var hasResponse int
		if err := rows.Scan(&a.Address, &first, &last, &a.MessageCount,
			&a.WriteCount, &a.ReadCount, &a.ResponseCount, &hasResponse,
			&a.LastSource, &a.LastPayload,
		); err != nil {
			return nil, fmt.Errorf("scanning group address: %w", err)
		}
		a.FirstSeen = time.Unix(first, 0).UTC()
		a.LastSeen = time.Unix(last, 0).UTC()
		a.HasReadResponse = hasResponse != 0
		out = append(out, a)
	}
	return out, rows.Err()
}

// Devices returns every recorded device, most recently seen first.
func (r *Recorder) Devices(ctx context.Context) ([]DeviceActivity, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT individual_address, last_seen, message_count
		FROM knx_devices
		ORDER BY last_seen DESC, individual_address
	`)
	if err != nil {
		return nil, fmt.Errorf("querying devices: %w", err)
	}
	defer rows.Close()

	var out []DeviceActivity
	for rows.Next() {
		var d DeviceActivity
		var last int64
		if err := rows.Scan(&d.Address, &last, &d.MessageCount); err != nil {
			return nil, fmt.Errorf("scanning device: %w", err)
		}
		d.LastSeen = time.Unix(last, 0).UTC()
		out = append(out, d)
	}
	return out, rows.Err()
}

// History returns the newest decoded values for ga, newest first.
func (r *Recorder) History(ctx context.Context, ga knx.GroupAddress, limit int) ([]HistoryEntry, error) {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT group_address, kind, source, dpt, payload, value, recorded_at
		FROM knx_value_history
		WHERE group_address = ?
		ORDER BY recorded_at DESC, id DESC
		LIMIT ?
	`, ga.String(), limit)
	if err != nil {
		return nil, fmt.Errorf("querying history: %w", err)
	}
	defer rows.Close()

	var out []HistoryEntry
	for rows.Next() {
		var h HistoryEntry
		var at int64
		if err := rows.Scan(&h.Address, &h.Kind, &h.Source, &h.DPT, &h.Payload, &h.Value, &at); err != nil {
			return nil, fmt.Errorf("scanning history: %w", err)
		}
		h.RecordedAt = time.Unix(at, 0).UTC()
		out = append(out, h)
	}
	return out, rows.Err()
}

func (r *Recorder) log(msg string, keysAndValues ...any) {
	if r.logger != nil {
		r.logger.Info(msg, keysAndValues...)
	}
}

func (r *Recorder) logWarn(msg string, keysAndValues ...any) {
	if r.logger != nil {
		r.logger.Warn(msg, keysAndValues...)
	}
}

func (r *Recorder) logError(msg string, err error) {
	if r.logger != nil {
		r.logger.Error(msg, "error", err)
	}
}
