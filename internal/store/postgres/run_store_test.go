package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/require"

	"github.com/lensfeed/focus-collector/internal/focus"
)

type fakeClock struct{ t time.Time }

func (c fakeClock) Now() time.Time { return c.t }

var testNow = time.Date(2026, 8, 27, 12, 0, 0, 0, time.UTC)

func newRunStore(t *testing.T) (*RunStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)

	store, err := NewRunStore(mock, fakeClock{t: testNow})
	require.NoError(t, err)
	return store, mock
}

func TestCreateRunInsertsPending(t *testing.T) {
	t.Parallel()

	store, mock := newRunStore(t)
	mock.ExpectExec("INSERT INTO query_runs").
		WithArgs("r1", "q1", testNow).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err := store.CreateRun(context.Background(), focus.QueryRun{ID: "r1", QueryID: "q1"})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateRunDuplicateIsConflict(t *testing.T) {
	t.Parallel()

	store, mock := newRunStore(t)
	mock.ExpectExec("INSERT INTO query_runs").
		WithArgs("r1", "q1", testNow).
		WillReturnError(&pgconn.PgError{Code: uniqueViolation})

	err := store.CreateRun(context.Background(), focus.QueryRun{ID: "r1", QueryID: "q1"})
	require.ErrorIs(t, err, focus.ErrConflict)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkRunningTransitions(t *testing.T) {
	t.Parallel()

	store, mock := newRunStore(t)
	mock.ExpectExec("UPDATE query_runs").
		WithArgs("r1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	require.NoError(t, store.MarkRunning(context.Background(), "r1"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkRunningAlreadyRunningIsConflict(t *testing.T) {
	t.Parallel()

	store, mock := newRunStore(t)
	mock.ExpectExec("UPDATE query_runs").
		WithArgs("r1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectQuery("SELECT status FROM query_runs").
		WithArgs("r1").
		WillReturnRows(pgxmock.NewRows([]string{"status"}).AddRow(focus.RunStatusRunning))

	err := store.MarkRunning(context.Background(), "r1")
	require.ErrorIs(t, err, focus.ErrConflict)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkRunningTerminalRun(t *testing.T) {
	t.Parallel()

	store, mock := newRunStore(t)
	mock.ExpectExec("UPDATE query_runs").
		WithArgs("r1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectQuery("SELECT status FROM query_runs").
		WithArgs("r1").
		WillReturnRows(pgxmock.NewRows([]string{"status"}).AddRow(focus.RunStatusCompleted))

	err := store.MarkRunning(context.Background(), "r1")
	require.ErrorIs(t, err, focus.ErrTerminal)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSetProgressIgnoresDecrease(t *testing.T) {
	t.Parallel()

	store, mock := newRunStore(t)
	mock.ExpectExec("UPDATE query_runs").
		WithArgs("r1", 40).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectQuery("SELECT status FROM query_runs").
		WithArgs("r1").
		WillReturnRows(pgxmock.NewRows([]string{"status"}).AddRow(focus.RunStatusRunning))

	// The predicate rejected a non-increase; that is not an error.
	require.NoError(t, store.SetProgress(context.Background(), "r1", 40))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSetProgressOutOfRange(t *testing.T) {
	t.Parallel()

	store, _ := newRunStore(t)
	require.Error(t, store.SetProgress(context.Background(), "r1", 101))
	require.Error(t, store.SetProgress(context.Background(), "r1", -1))
}

func TestFinishStampsTerminalState(t *testing.T) {
	t.Parallel()

	store, mock := newRunStore(t)
	mock.ExpectExec("UPDATE query_runs").
		WithArgs("r1", "failed", "source exploded", testNow).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	err := store.Finish(context.Background(), "r1", focus.RunStatusFailed, "source exploded")
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFinishTwiceIsTerminal(t *testing.T) {
	t.Parallel()

	store, mock := newRunStore(t)
	mock.ExpectExec("UPDATE query_runs").
		WithArgs("r1", "completed", "", testNow).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectQuery("SELECT status FROM query_runs").
		WithArgs("r1").
		WillReturnRows(pgxmock.NewRows([]string{"status"}).AddRow(focus.RunStatusFailed))

	err := store.Finish(context.Background(), "r1", focus.RunStatusCompleted, "")
	require.ErrorIs(t, err, focus.ErrTerminal)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFinishRejectsNonTerminalStatus(t *testing.T) {
	t.Parallel()

	store, _ := newRunStore(t)
	require.Error(t, store.Finish(context.Background(), "r1", focus.RunStatusRunning, ""))
}

func TestGetRunNotFound(t *testing.T) {
	t.Parallel()

	store, mock := newRunStore(t)
	mock.ExpectQuery("SELECT id, query_id, status").
		WithArgs("missing").
		WillReturnError(pgx.ErrNoRows)

	_, err := store.GetRun(context.Background(), "missing")
	require.ErrorIs(t, err, focus.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetRunScansRow(t *testing.T) {
	t.Parallel()

	store, mock := newRunStore(t)
	finished := testNow.Add(time.Minute)
	mock.ExpectQuery("SELECT id, query_id, status").
		WithArgs("r1").
		WillReturnRows(pgxmock.
			NewRows([]string{"id", "query_id", "status", "progress", "error", "created_at", "finished_at"}).
			AddRow("r1", "q1", focus.RunStatusCompleted, 100, "", testNow, &finished))

	run, err := store.GetRun(context.Background(), "r1")
	require.NoError(t, err)
	require.Equal(t, focus.RunStatusCompleted, run.Status)
	require.Equal(t, 100, run.Progress)
	require.NotNil(t, run.FinishedAt)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListRunsWithStatusFilter(t *testing.T) {
	t.Parallel()

	store, mock := newRunStore(t)
	mock.ExpectQuery("SELECT id, query_id, status").
		WithArgs("failed", 10, 0).
		WillReturnRows(pgxmock.
			NewRows([]string{"id", "query_id", "status", "progress", "error", "created_at", "finished_at"}).
			AddRow("r2", "q1", focus.RunStatusFailed, 50, "boom", testNow, (*time.Time)(nil)))

	failed := focus.RunStatusFailed
	runs, err := store.ListRuns(context.Background(), &failed, 10, 0)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	require.Equal(t, "boom", runs[0].Error)
	require.NoError(t, mock.ExpectationsWereMet())
}
