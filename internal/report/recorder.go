package report

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/facebookincubator/go-belt/tool/logger"
	"github.com/google/uuid"

	"github.com/dudu/faceblur/internal/pipeline"
)

// Run is one invocation of the redaction pipeline
type Run struct {
	ID         string
	Input      string
	Output     string
	Workers    int
	Frames     int
	StartedAt  time.Time
	FinishedAt time.Time
}

// Redaction is a stored blurred region
type Redaction struct {
	Frame  int
	Kind   string
	X      int
	Y      int
	Width  int
	Height int
}

// Failure is a stored recoverable detection failure
type Failure struct {
	Frame   int
	Chunk   string
	Kind    string
	Message string
}

// Recorder stores the outcome of one run
type Recorder struct {
	db  *DB
	run Run
}

var _ pipeline.Recorder = (*Recorder)(nil)

// NewRecorder prepares a run record with a fresh identifier. Nothing is
// written until Record.
func NewRecorder(db *DB, input, output string, workers int) *Recorder {
	return &Recorder{
		db: db,
		run: Run{
			ID:        uuid.NewString(),
			Input:     input,
			Output:    output,
			Workers:   workers,
			StartedAt: time.Now().UTC(),
		},
	}
}

// RunID returns the identifier the run is stored under
func (r *Recorder) RunID() string {
	return r.run.ID
}

// Record writes the run, its redactions and its failures
func (r *Recorder) Record(ctx context.Context, result *pipeline.Result) error {
	if result == nil {
		return fmt.Errorf("no result to record")
	}

	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	r.run.Frames = result.Frames
	r.run.FinishedAt = time.Now().UTC()

	_, err := r.db.conn.ExecContext(ctx, `
		INSERT INTO runs (id, input, output, workers, frames, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, r.run.ID, r.run.Input, r.run.Output, r.run.Workers, r.run.Frames, r.run.StartedAt, r.run.FinishedAt)
	if err != nil {
		return fmt.Errorf("failed to insert run: %w", err)
	}

	if err := r.insertRedactions(ctx, result.Redactions); err != nil {
		return err
	}
	if err := r.insertFailures(ctx, result.Summary.Failures); err != nil {
		return err
	}

	logger.Debugf(ctx, "recorded run %s: %d redactions, %d failures",
		r.run.ID, len(result.Redactions), len(result.Summary.Failures))
	return nil
}

func (r *Recorder) insertRedactions(ctx context.Context, redactions []pipeline.Redaction) error {
	return r.batch(ctx, `
		INSERT INTO redactions (run_id, frame, kind, x, y, width, height)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, len(redactions), func(stmt *sql.Stmt, i int) error {
		red := redactions[i]
		_, err := stmt.ExecContext(ctx, r.run.ID, red.Frame, red.Kind.String(),
			red.Rect.Min.X, red.Rect.Min.Y, red.Rect.Dx(), red.Rect.Dy())
		return err
	})
}

func (r *Recorder) insertFailures(ctx context.Context, failures []*pipeline.DetectionError) error {
	return r.batch(ctx, `
		INSERT INTO failures (run_id, frame, chunk, kind, message)
		VALUES (?, ?, ?, ?, ?)
	`, len(failures), func(stmt *sql.Stmt, i int) error {
		f := failures[i]
		_, err := stmt.ExecContext(ctx, r.run.ID, f.Frame, f.Chunk.String(), f.Kind.String(), f.Err.Error())
		return err
	})
}

// batch runs one prepared insert n times in a single transaction
func (r *Recorder) batch(ctx context.Context, query string, n int, exec func(stmt *sql.Stmt, i int) error) error {
	if n == 0 {
		return nil
	}

	tx, err := r.db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for i := 0; i < n; i++ {
		if err := exec(stmt, i); err != nil {
			return fmt.Errorf("failed to insert row %d: %w", i, err)
		}
	}
	return tx.Commit()
}

// GetRun retrieves a stored run
func (db *DB) GetRun(ctx context.Context, id string) (*Run, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	var run Run
	var finished sql.NullTime
	err := db.conn.QueryRowContext(ctx, `
		SELECT id, input, output, workers, frames, started_at, finished_at
		FROM runs WHERE id = ?
	`, id).Scan(&run.ID, &run.Input, &run.Output, &run.Workers, &run.Frames, &run.StartedAt, &finished)
	if err != nil {
		return nil, fmt.Errorf("failed to get run %s: %w", id, err)
	}
	if finished.Valid {
		run.FinishedAt = finished.Time
	}
	return &run, nil
}

// Redactions returns the regions blurred by a run in frame order
func (db *DB) Redactions(ctx context.Context, runID string) ([]Redaction, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	rows, err := db.conn.QueryContext(ctx, `
		SELECT frame, kind, x, y, width, height
		FROM redactions WHERE run_id = ? ORDER BY frame, id
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query redactions: %w", err)
	}
	defer rows.Close()

	var redactions []Redaction
	for rows.Next() {
		var red Redaction
		if err := rows.Scan(&red.Frame, &red.Kind, &red.X, &red.Y, &red.Width, &red.Height); err != nil {
			return nil, fmt.Errorf("failed to scan redaction: %w", err)
		}
		redactions = append(redactions, red)
	}
	return redactions, rows.Err()
}

// Failures returns the recoverable detection failures of a run in frame order
func (db *DB) Failures(ctx context.Context, runID string) ([]Failure, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	rows, err := db.conn.QueryContext(ctx, `
		SELECT frame, chunk, kind, message
		FROM failures WHERE run_id = ? ORDER BY frame, id
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query failures: %w", err)
	}
	defer rows.Close()

	var failures []Failure
	for rows.Next() {
		var f Failure
		if err := rows.Scan(&f.Frame, &f.Chunk, &f.Kind, &f.Message); err != nil {
			return nil, fmt.Errorf("failed to scan failure: %w", err)
		}
		failures = append(failures, f)
	}
	return failures, rows.Err()
}
