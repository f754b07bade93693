package logging

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"sync"
	"time"
)

// LogEntry is one log line handed to a Sink.
type LogEntry struct {
	Timestamp time.Time
	Level     string
	Service   string
	Message   string
	Fields    map[string]string
	JobID     string
	TraceID   string
	Caller    string
}

// LogWriter persists batches of entries.
type LogWriter interface {
	WriteBatch(ctx context.Context, entries []LogEntry) error
}

// Sink receives log entries.
type Sink interface {
	// Write queues an entry without blocking.
	Write(entry LogEntry)
	// Flush blocks until queued entries are written.
	Flush(ctx context.Context) error
	Close() error
}

// DBSinkConfig configures a DBSink.
type DBSinkConfig struct {
	Writer LogWriter
	// BufferSize is the channel capacity (default 1000).
	BufferSize int
	// BatchSize is the max entries per WriteBatch call (default 100).
	BatchSize int
	// FlushInterval is the periodic flush interval (default 2s).
	FlushInterval time.Duration
	// JobScopedOnly drops entries that carry no job_id field.
	JobScopedOnly bool
	// MinLevel drops entries below this level. Empty keeps everything.
	MinLevel Level
}

// DBSink buffers entries and writes them in batches from a background goroutine.
// The job store uses it to keep a per-job event history.
type DBSink struct {
	writer        LogWriter
	entries       chan LogEntry
	flushRequests chan chan error
	batchSize     int
	interval      time.Duration
	writeTimeout  time.Duration
	jobScopedOnly bool
	minLevel      int

	mu     sync.Mutex
	closed bool
	done   chan struct{}
	wg     sync.WaitGroup
}

// NewDBSink starts a DBSink. It panics on a nil writer.
func NewDBSink(cfg DBSinkConfig) *DBSink {
	if cfg.Writer == nil {
		panic("logging: DBSink requires a non-nil Writer")
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 1000
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 2 * time.Second
	}

	s := &DBSink{
		writer:        cfg.Writer,
		entries:       make(chan LogEntry, cfg.BufferSize),
		flushRequests: make(chan chan error),
		batchSize:     cfg.BatchSize,
		interval:      cfg.FlushInterval,
		writeTimeout:  5 * time.Second,
		jobScopedOnly: cfg.JobScopedOnly,
		minLevel:      levelRank(cfg.MinLevel),
		done:          make(chan struct{}),
	}
	s.wg.Add(1)
	go s.run()
	return s
}

func levelRank(l Level) int {
	switch l {
	case LevelDebug:
		return 0
	case LevelInfo:
		return 1
	case LevelWarn:
		return 2
	case LevelError:
		return 3
	default:
		return 0
	}
}

// Write queues an entry. A full buffer drops the entry.
func (s *DBSink) Write(entry LogEntry) {
	if s.jobScopedOnly && entry.JobID == "" {
		return
	}
	if levelRank(Level(entry.Level)) < s.minLevel {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.entries <- entry:
	default:
		fmt.Fprintf(os.Stderr, "[DBSink] buffer full, dropping entry: %s\n", entry.Message)
	}
}

// Flush writes everything queued so far.
func (s *DBSink) Flush(ctx context.Context) error {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return nil
	}

	reply := make(chan error, 1)
	select {
	case s.flushRequests <- reply:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close drains the buffer and stops the background goroutine.
func (s *DBSink) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	close(s.done)
	s.wg.Wait()
	return nil
}

func (s *DBSink) run() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	batch := make([]LogEntry, 0, s.batchSize)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		ctx, cancel := context.WithTimeout(context.Background(), s.writeTimeout)
		defer cancel()
		err := s.writer.WriteBatch(ctx, batch)
		if err != nil {
			fmt.Fprintf(os.Stderr, "[DBSink] failed to write %d entries: %v\n", len(batch), err)
		}
		batch = batch[:0]
		return err
	}
	// drain moves everything currently buffered into batches.
	drain := func() {
		for {
			select {
			case e := <-s.entries:
				batch = append(batch, e)
				if len(batch) >= s.batchSize {
					_ = flush()
				}
			default:
				return
			}
		}
	}

	for {
		select {
		case e := <-s.entries:
			batch = append(batch, e)
			if len(batch) >= s.batchSize {
				_ = flush()
			}
		case <-ticker.C:
			_ = flush()
		case reply := <-s.flushRequests:
			drain()
			reply <- flush()
		case <-s.done:
			drain()
			_ = flush()
			return
		}
	}
}

// getCaller returns file:line for the frame skip levels up.
func getCaller(skip int) string {
	_, file, line, ok := runtime.Caller(skip)
	if !ok {
		return ""
	}
	for i := len(file) - 1; i > 0; i-- {
		if file[i] == '/' {
			file = file[i+1:]
			break
		}
	}
	return fmt.Sprintf("%s:%d", file, line)
}
