package monitoring

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/smilemakc/planflow/internal/domain"
)

// ClickHouseEventSink writes flow events to ClickHouse. It batches events
// and flushes them asynchronously for efficient storage and querying.
type ClickHouseEventSink struct {
	// db is the ClickHouse database connection
	db *sql.DB
	// tableName is the name of the table to write events to
	tableName string
	// batchSize is the number of events to batch before writing
	batchSize int
	// flushInterval is how often to flush batched events
	flushInterval time.Duration
	// buffer stores events before they are written
	buffer []*domain.FlowEvent
	// mu protects concurrent access to buffer
	mu sync.Mutex
	// ctx is the context for background operations
	ctx context.Context
	// cancel cancels background operations
	cancel context.CancelFunc
	// wg waits for background goroutines
	wg sync.WaitGroup
	// closed indicates if the sink is closed
	closed bool
}

// ClickHouseEventSinkConfig configures the ClickHouse event sink.
type ClickHouseEventSinkConfig struct {
	// DB is the ClickHouse database connection
	DB *sql.DB
	// TableName is the name of the table to write events to (defaults to "flow_events")
	TableName string
	// BatchSize is the number of events to batch before writing (defaults to 100)
	BatchSize int
	// FlushInterval is how often to flush batched events (defaults to 5 seconds)
	FlushInterval time.Duration
	// CreateTable automatically creates the table if it doesn't exist
	CreateTable bool
}

// NewClickHouseEventSink creates a new ClickHouseEventSink with the given
// configuration.
func NewClickHouseEventSink(config ClickHouseEventSinkConfig) (*ClickHouseEventSink, error) {
	if config.DB == nil {
		return nil, fmt.Errorf("database connection is required")
	}

	tableName := config.TableName
	if tableName == "" {
		tableName = "flow_events"
	}

	batchSize := config.BatchSize
	if batchSize <= 0 {
		batchSize = 100
	}

	flushInterval := config.FlushInterval
	if flushInterval <= 0 {
		flushInterval = 5 * time.Second
	}

	ctx, cancel := context.WithCancel(context.Background())

	sink := &ClickHouseEventSink{
		db:            config.DB,
		tableName:     tableName,
		batchSize:     batchSize,
		flushInterval: flushInterval,
		buffer:        make([]*domain.FlowEvent, 0, batchSize),
		ctx:           ctx,
		cancel:        cancel,
	}

	if config.CreateTable {
		if err := sink.createTable(); err != nil {
			cancel()
			return nil, fmt.Errorf("failed to create table: %w", err)
		}
	}

	sink.wg.Add(1)
	go sink.backgroundFlusher()

	return sink, nil
}

// createTable creates the event table in ClickHouse if it doesn't exist.
func (s *ClickHouseEventSink) createTable() error {
	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			timestamp DateTime64(3),
			event_id String,
			event_type String,
			flow_id String,
			node_id String,
			tool_id String,
			sequence_number Int64,
			data String
		) ENGINE = MergeTree()
		ORDER BY (flow_id, sequence_number, timestamp)
		PARTITION BY toYYYYMM(timestamp)
	`, s.tableName)

	_, err := s.db.ExecContext(s.ctx, query)
	return err
}

// backgroundFlusher periodically flushes buffered events.
func (s *ClickHouseEventSink) backgroundFlusher() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			// Final flush before shutdown
			s.flush()
			return
		case <-ticker.C:
			s.flush()
		}
	}
}

// Emit implements domain.FlowEventSink, buffering the event for the next
// batch write.
func (s *ClickHouseEventSink) Emit(event *domain.FlowEvent) {
	if event == nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}

	s.buffer = append(s.buffer, event)

	if len(s.buffer) >= s.batchSize {
		go s.flush()
	}
}

// flush writes all buffered events to ClickHouse.
func (s *ClickHouseEventSink) flush() {
	s.mu.Lock()
	if len(s.buffer) == 0 {
		s.mu.Unlock()
		return
	}

	// Swap buffer
	events := s.buffer
	s.buffer = make([]*domain.FlowEvent, 0, s.batchSize)
	s.mu.Unlock()

	if err := s.writeEvents(events); err != nil {
		fmt.Printf("ClickHouseEventSink: failed to write events: %v\n", err)
	}
}

// writeEvents writes a batch of events to ClickHouse.
func (s *ClickHouseEventSink) writeEvents(events []*domain.FlowEvent) error {
	if len(events) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(s.ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(s.ctx, fmt.Sprintf(`
		INSERT INTO %s (
			timestamp, event_id, event_type, flow_id, node_id, tool_id,
			sequence_number, data
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, s.tableName))
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, event := range events {
		dataJSON := "{}"
		if len(event.Data) > 0 {
			if raw, err := json.Marshal(event.Data); err == nil {
				dataJSON = string(raw)
			}
		}

		_, err := stmt.ExecContext(s.ctx,
			event.Timestamp,
			event.ID.String(),
			string(event.Type),
			event.FlowID,
			event.NodeID,
			event.ToolID,
			event.SequenceNumber,
			dataJSON,
		)
		if err != nil {
			return fmt.Errorf("failed to insert event: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// Close closes the sink and flushes any remaining events.
func (s *ClickHouseEventSink) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.cancel()
	s.wg.Wait()

	return nil
}
