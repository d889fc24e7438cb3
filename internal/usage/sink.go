package usage

import (
	"database/sql"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// Row is an append-only usage record written to the Sink (spec §3
// UsageRow). Metadata captures the fields spec requires embedded as JSON:
// model, provider, prompt_tokens, completion_tokens.
type Row struct {
	ID       string
	Type     string
	Quantity int64
	Unit     string
	CostUSD  float64
	Metadata RowMetadata
}

// RowMetadata is the JSON object attached to every Row.
type RowMetadata struct {
	Model            string `json:"model"`
	Provider         string `json:"provider"`
	PromptTokens     int64  `json:"prompt_tokens"`
	CompletionTokens int64  `json:"completion_tokens"`
}

// Sink is the boundary writer for usage rows. Implementations must never
// block or fail the calling path — Record is invoked fire-and-forget; the
// specification only requires at-least-once durability after process exit.
type Sink interface {
	Record(row Row)
	Close() error
}

// NewRow constructs a Row with a generated ID and the "llm_call" type spec
// requires, ready to hand to a Sink.
func NewRow(provider, model string, promptTokens, completionTokens int64, costUSD float64) Row {
	return Row{
		ID:       uuid.NewString(),
		Type:     "llm_call",
		Quantity: promptTokens + completionTokens,
		Unit:     "tokens",
		CostUSD:  costUSD,
		Metadata: RowMetadata{
			Model:            model,
			Provider:         provider,
			PromptTokens:     promptTokens,
			CompletionTokens: completionTokens,
		},
	}
}

// SQLiteSink persists rows to a local SQLite database via a single
// background goroutine draining a buffered channel, so Record never blocks
// the request path. A full channel drops the row and logs at debug, per
// spec §4.6/§7 UsagePersistenceFailed semantics. Grounded on
// internal/usage/usage.go's Tracker append pattern, extended with a durable
// backing store using modernc.org/sqlite (the teacher's pure-Go sqlite
// driver, avoiding the CGO mattn/go-sqlite3 dependency — see DESIGN.md).
type SQLiteSink struct {
	db     *sql.DB
	rows   chan Row
	done   chan struct{}
	logger *slog.Logger
}

// NewSQLiteSink opens (creating if absent) a usage database at path and
// starts the background writer.
func NewSQLiteSink(path string, logger *slog.Logger) (*SQLiteSink, error) {
	if logger == nil {
		logger = slog.Default()
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	const schema = `CREATE TABLE IF NOT EXISTS usage_rows (
		id TEXT PRIMARY KEY,
		type TEXT NOT NULL,
		quantity INTEGER NOT NULL,
		unit TEXT NOT NULL,
		cost_usd REAL NOT NULL,
		metadata TEXT NOT NULL,
		created_at INTEGER NOT NULL
	)`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, err
	}

	s := &SQLiteSink{
		db:     db,
		rows:   make(chan Row, 256),
		done:   make(chan struct{}),
		logger: logger,
	}
	go s.run()
	return s, nil
}

func (s *SQLiteSink) run() {
	defer close(s.done)
	for row := range s.rows {
		if err := s.write(row); err != nil {
			s.logger.Debug("usage: persistence failed", "error", err, "row_id", row.ID)
		}
	}
}

func (s *SQLiteSink) write(row Row) error {
	meta, err := json.Marshal(row.Metadata)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(
		`INSERT OR IGNORE INTO usage_rows (id, type, quantity, unit, cost_usd, metadata, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		row.ID, row.Type, row.Quantity, row.Unit, row.CostUSD, string(meta), time.Now().Unix(),
	)
	return err
}

// Record enqueues row for durable persistence. Never blocks: if the
// internal buffer is full the row is dropped and logged at debug.
func (s *SQLiteSink) Record(row Row) {
	select {
	case s.rows <- row:
	default:
		s.logger.Debug("usage: buffer full, dropping row", "row_id", row.ID)
	}
}

// Close stops accepting new rows, drains the buffer, and closes the
// database handle.
func (s *SQLiteSink) Close() error {
	close(s.rows)
	<-s.done
	return s.db.Close()
}

// NopSink discards every row; useful for tests and CLI modes that opt out
// of usage persistence.
type NopSink struct{}

func (NopSink) Record(Row)    {}
func (NopSink) Close() error  { return nil }

var _ Sink = (*SQLiteSink)(nil)
var _ Sink = NopSink{}
