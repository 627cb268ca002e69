package report

import (
	"context"
	"errors"
	"image"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dudu/faceblur/internal/detector"
	"github.com/dudu/faceblur/internal/pipeline"
)

func openTestDB(t *testing.T) (*DB, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "report.db")
	db, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db, path
}

func TestOpenCreatesDatabase(t *testing.T) {
	_, path := openTestDB(t)
	_, err := os.Stat(path)
	require.NoError(t, err)
}

func TestOpenIsIdempotent(t *testing.T) {
	db, path := openTestDB(t)
	require.NoError(t, db.Close())

	again, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, again.Close())
}

func TestRecordRun(t *testing.T) {
	ctx := context.Background()
	db, _ := openTestDB(t)

	result := &pipeline.Result{
		Frames:    10,
		Processed: 10,
		Redactions: []pipeline.Redaction{
			{Frame: 1, Kind: detector.Frontal, Rect: image.Rect(10, 10, 30, 40)},
			{Frame: 4, Kind: detector.Profile, Rect: image.Rect(0, 5, 8, 9)},
		},
		Summary: pipeline.Summary{Failures: []*pipeline.DetectionError{
			{Frame: 3, Chunk: pipeline.Chunk{Start: 0, End: 4}, Kind: detector.Frontal, Err: errors.New("bad frame")},
		}},
	}

	rec := NewRecorder(db, "in.mp4", "out.mp4", 3)
	require.NotEmpty(t, rec.RunID())
	require.NoError(t, rec.Record(ctx, result))

	run, err := db.GetRun(ctx, rec.RunID())
	require.NoError(t, err)
	require.Equal(t, "in.mp4", run.Input)
	require.Equal(t, "out.mp4", run.Output)
	require.Equal(t, 3, run.Workers)
	require.Equal(t, 10, run.Frames)
	require.False(t, run.FinishedAt.Before(run.StartedAt))

	redactions, err := db.Redactions(ctx, rec.RunID())
	require.NoError(t, err)
	require.Equal(t, []Redaction{
		{Frame: 1, Kind: "frontal", X: 10, Y: 10, Width: 20, Height: 30},
		{Frame: 4, Kind: "profile", X: 0, Y: 5, Width: 8, Height: 4},
	}, redactions)

	failures, err := db.Failures(ctx, rec.RunID())
	require.NoError(t, err)
	require.Equal(t, []Failure{{Frame: 3, Chunk: "[0, 4)", Kind: "frontal", Message: "bad frame"}}, failures)
}

func TestRecordRunsAreSeparate(t *testing.T) {
	ctx := context.Background()
	db, _ := openTestDB(t)

	first := NewRecorder(db, "a.mp4", "-", 1)
	second := NewRecorder(db, "b.mp4", "-", 2)
	require.NotEqual(t, first.RunID(), second.RunID())

	require.NoError(t, first.Record(ctx, &pipeline.Result{Frames: 1, Redactions: []pipeline.Redaction{
		{Frame: 0, Kind: detector.Frontal, Rect: image.Rect(0, 0, 1, 1)},
	}}))
	require.NoError(t, second.Record(ctx, &pipeline.Result{Frames: 2}))

	redactions, err := db.Redactions(ctx, second.RunID())
	require.NoError(t, err)
	require.Empty(t, redactions)
}

func TestRecordNilResult(t *testing.T) {
	db, _ := openTestDB(t)
	require.Error(t, NewRecorder(db, "a", "b", 1).Record(context.Background(), nil))
}

func TestGetMissingRun(t *testing.T) {
	db, _ := openTestDB(t)
	_, err := db.GetRun(context.Background(), "nope")
	require.Error(t, err)
}
