package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/chkda/transcription-service/domain/entities"
)

// TranscriptArchive stores transcripts in a local SQLite database
type TranscriptArchive struct {
	db *sql.DB
}

// NewTranscriptArchive opens (or creates) the database at dbPath
func NewTranscriptArchive(dbPath string) (*TranscriptArchive, error) {
	if strings.TrimSpace(dbPath) == "" {
		dbPath = filepath.Join("data", "transcripts.db")
	}

	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	archive := &TranscriptArchive{db: db}
	if err := archive.init(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return archive, nil
}

func (a *TranscriptArchive) init() error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, p := range pragmas {
		if _, err := a.db.Exec(p); err != nil {
			return fmt.Errorf("apply pragma %q: %w", p, err)
		}
	}

	if _, err := a.db.Exec(`
		CREATE TABLE IF NOT EXISTS transcripts (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			sequence INTEGER NOT NULL,
			text TEXT NOT NULL,
			language TEXT NOT NULL,
			language_probability REAL,
			processing_time REAL NOT NULL,
			audio_seconds REAL NOT NULL,
			created_at INTEGER NOT NULL
		);
	`); err != nil {
		return fmt.Errorf("create transcripts table: %w", err)
	}

	if _, err := a.db.Exec("CREATE INDEX IF NOT EXISTS idx_transcripts_session ON transcripts(session_id, sequence)"); err != nil {
		return fmt.Errorf("create transcripts index: %w", err)
	}
	if _, err := a.db.Exec("CREATE INDEX IF NOT EXISTS idx_transcripts_created_at ON transcripts(created_at)"); err != nil {
		return fmt.Errorf("create created_at index: %w", err)
	}
	return nil
}

func (a *TranscriptArchive) Save(ctx context.Context, record *entities.TranscriptRecord) error {
	if record == nil {
		return errors.New("record cannot be nil")
	}

	var prob sql.NullFloat64
	if record.LanguageProbability != nil {
		prob = sql.NullFloat64{Float64: *record.LanguageProbability, Valid: true}
	}

	_, err := a.db.ExecContext(ctx, `
		INSERT INTO transcripts (id, session_id, sequence, text, language, language_probability, processing_time, audio_seconds, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		record.ID,
		record.SessionID,
		int64(record.Sequence),
		record.Text,
		record.Language,
		prob,
		record.ProcessingTime,
		record.AudioSeconds,
		record.CreatedAt.UTC().UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("insert transcript: %w", err)
	}
	return nil
}

func (a *TranscriptArchive) ListBySession(ctx context.Context, sessionID string, limit int) ([]*entities.TranscriptRecord, error) {
	if limit <= 0 {
		limit = -1 // no limit in SQLite
	}

	rows, err := a.db.QueryContext(ctx, `
		SELECT id, session_id, sequence, text, language, language_probability, processing_time, audio_seconds, created_at
		FROM transcripts
		WHERE session_id = ?
		ORDER BY sequence ASC
		LIMIT ?`, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("query transcripts: %w", err)
	}
	defer rows.Close()

	var records []*entities.TranscriptRecord
	for rows.Next() {
		var (
			r         entities.TranscriptRecord
			sequence  int64
			prob      sql.NullFloat64
			createdAt int64
		)
		if err := rows.Scan(&r.ID, &r.SessionID, &sequence, &r.Text, &r.Language, &prob, &r.ProcessingTime, &r.AudioSeconds, &createdAt); err != nil {
			return nil, fmt.Errorf("scan transcript: %w", err)
		}
		r.Sequence = uint64(sequence)
		if prob.Valid {
			v := prob.Float64
			r.LanguageProbability = &v
		}
		r.CreatedAt = time.Unix(0, createdAt).UTC()
		records = append(records, &r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate transcripts: %w", err)
	}
	return records, nil
}

func (a *TranscriptArchive) Purge(ctx context.Context, before time.Time) (int64, error) {
	res, err := a.db.ExecContext(ctx, "DELETE FROM transcripts WHERE created_at < ?", before.UTC().UnixNano())
	if err != nil {
		return 0, fmt.Errorf("purge transcripts: %w", err)
	}
	return res.RowsAffected()
}

// Close closes the database
func (a *TranscriptArchive) Close() error {
	return a.db.Close()
}
