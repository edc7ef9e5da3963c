package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/okian/tremor/internal/domain/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupMock(t *testing.T, d Dialect) (*sql.DB, sqlmock.Sqlmock, *DB) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	return db, mock, New(db, d)
}

func TestRebind(t *testing.T) {
	pg := New(nil, Postgres)
	lite := New(nil, SQLite)

	q := `SELECT a FROM t WHERE x = ? AND y > ?`
	assert.Equal(t, `SELECT a FROM t WHERE x = $1 AND y > $2`, pg.rebind(q))
	assert.Equal(t, q, lite.rebind(q))
}

func TestOpen_UnsupportedDriver(t *testing.T) {
	_, err := Open(context.Background(), "mysql", "dsn")
	assert.True(t, errors.Is(err, ErrUnsupportedDriver))
}

func TestSamples_DecodesEveryFormat(t *testing.T) {
	db, mock, conn := setupMock(t, Postgres)
	defer db.Close()

	rows := sqlmock.NewRows([]string{"ts_ms", "payload"}).
		AddRow(int64(1000), `{"magnitude": 1.2}`).
		AddRow(int64(1020), `{"accel_x": 0, "accel_y": 0, "accel_z": 1}`).
		AddRow(int64(1040), `{"x": [0,0], "y": [0,0], "z": [1,1], "sample_rate_hz": 50}`).
		AddRow(int64(1080), `not json`)

	mock.ExpectQuery(regexp.QuoteMeta(`FROM raw_samples WHERE device_id = $1 AND ts_ms >= $2 AND ts_ms <= $3`)).
		WithArgs("dev-1", int64(1000), int64(2000)).
		WillReturnRows(rows)

	got, err := NewSampleStore(conn).Samples(context.Background(), "dev-1", model.TimeRange{Start: 1000, End: 2000})

	require.NoError(t, err)
	require.Len(t, got, 4)
	assert.Equal(t, model.Magnitude{Value: 1.2}, got[0].Payload)
	assert.Equal(t, model.Triplet{X: 0, Y: 0, Z: 1}, got[1].Payload)
	assert.Equal(t, model.FormatBatch, got[2].Payload.Format())
	assert.Equal(t, model.Malformed{Reason: "invalid_json"}, got[3].Payload)
	for _, s := range got {
		assert.Equal(t, "dev-1", s.DeviceID)
	}
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSamples_QueryError(t *testing.T) {
	db, mock, conn := setupMock(t, SQLite)
	defer db.Close()

	mock.ExpectQuery(`FROM raw_samples`).WillReturnError(errors.New("connection reset"))

	_, err := NewSampleStore(conn).Samples(context.Background(), "dev-1", model.TimeRange{Start: 1, End: 2})

	assert.Error(t, err)
	assert.Contains(t, err.Error(), "connection reset")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAppend_InsertsInOneTransaction(t *testing.T) {
	db, mock, conn := setupMock(t, SQLite)
	defer db.Close()

	mock.ExpectBegin()
	prep := mock.ExpectPrepare(regexp.QuoteMeta(`INSERT INTO raw_samples (device_id, ts_ms, payload) VALUES (?, ?, ?)`))
	prep.ExpectExec().WithArgs("dev-1", int64(1000), sqlmock.AnyArg()).WillReturnResult(sqlmock.NewResult(1, 1))
	prep.ExpectExec().WithArgs("dev-1", int64(1020), sqlmock.AnyArg()).WillReturnResult(sqlmock.NewResult(2, 1))
	mock.ExpectCommit()

	err := NewSampleStore(conn).Append(context.Background(), []model.RawSample{
		{DeviceID: "dev-1", Timestamp: 1000, Payload: model.Magnitude{Value: 1}},
		{DeviceID: "dev-1", Timestamp: 1020, Payload: model.Triplet{X: 1, Y: 2, Z: 3}},
	})

	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAppend_RollsBackOnUnencodablePayload(t *testing.T) {
	db, mock, conn := setupMock(t, SQLite)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectPrepare(`INSERT INTO raw_samples`)
	mock.ExpectRollback()

	err := NewSampleStore(conn).Append(context.Background(), []model.RawSample{
		{DeviceID: "dev-1", Timestamp: 1000, Payload: model.Malformed{Reason: "x"}},
	})

	assert.True(t, errors.Is(err, model.ErrInvalidSample))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDevices(t *testing.T) {
	db, mock, conn := setupMock(t, Postgres)
	defer db.Close()

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT DISTINCT device_id FROM raw_samples WHERE ts_ms >= $1`)).
		WithArgs(int64(500)).
		WillReturnRows(sqlmock.NewRows([]string{"device_id"}).AddRow("a").AddRow("b"))

	got, err := NewSampleStore(conn).Devices(context.Background(), 500)

	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, got)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAssignments_ScansOpenAndClosed(t *testing.T) {
	db, mock, conn := setupMock(t, Postgres)
	defer db.Close()

	rows := sqlmock.NewRows([]string{"device_id", "patient_id", "assigned_at_ms", "released_at_ms", "status"}).
		AddRow("dev-1", "p1", int64(100), int64(500), model.StatusInactive).
		AddRow("dev-1", "p2", int64(500), nil, model.StatusActive)

	mock.ExpectQuery(`FROM device_assignments`).
		WithArgs("dev-1", int64(900), int64(200)).
		WillReturnRows(rows)

	got, err := NewAssignmentStore(conn).Assignments(context.Background(), "dev-1", model.TimeRange{Start: 200, End: 900})

	require.NoError(t, err)
	require.Len(t, got, 2)
	require.NotNil(t, got[0].ReleasedAt)
	assert.Equal(t, int64(500), *got[0].ReleasedAt)
	assert.Nil(t, got[1].ReleasedAt)
	assert.Equal(t, "p2", model.ResolveOwner(got, 600))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRelease_NoOpenAssignment(t *testing.T) {
	db, mock, conn := setupMock(t, SQLite)
	defer db.Close()

	mock.ExpectExec(`UPDATE device_assignments`).
		WithArgs(int64(900), model.StatusInactive, "dev-1").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := NewAssignmentStore(conn).Release(context.Background(), "dev-1", 900)

	assert.True(t, errors.Is(err, ErrNoOpenAssignment))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLite_RoundTrip(t *testing.T) {
	ctx := context.Background()
	conn, err := Open(ctx, string(SQLite), "file::memory:?cache=shared")
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.Migrate(ctx))

	samples := NewSampleStore(conn)
	require.NoError(t, samples.Append(ctx, []model.RawSample{
		{DeviceID: "dev-1", Timestamp: 2000, Payload: model.Magnitude{Value: 1.1}},
		{DeviceID: "dev-1", Timestamp: 1000, Payload: model.Magnitude{Value: 1.0}},
		{DeviceID: "dev-2", Timestamp: 1500, Payload: model.Magnitude{Value: 0.9}},
	}))

	got, err := samples.Samples(ctx, "dev-1", model.TimeRange{Start: 0, End: 5000})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, int64(1000), got[0].Timestamp)

	devices, err := samples.Devices(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"dev-1", "dev-2"}, devices)

	assignments := NewAssignmentStore(conn)
	require.NoError(t, assignments.Assign(ctx, "dev-1", "p1", 500))
	require.NoError(t, assignments.Release(ctx, "dev-1", 1500))
	require.NoError(t, assignments.Assign(ctx, "dev-1", "p2", 1500))

	as, err := assignments.Assignments(ctx, "dev-1", model.TimeRange{Start: 1000, End: 2000})
	require.NoError(t, err)
	require.Len(t, as, 2)
	assert.Equal(t, "p1", model.ResolveOwner(as, 1000))
	assert.Equal(t, "p2", model.ResolveOwner(as, 2000))
}

func TestAssign_ClosesOpenAssignment(t *testing.T) {
	ctx := context.Background()
	conn, err := Open(ctx, string(SQLite), "file:reassign?mode=memory&cache=shared")
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.Migrate(ctx))

	assignments := NewAssignmentStore(conn)
	require.NoError(t, assignments.Assign(ctx, "dev-1", "p1", 500))
	require.NoError(t, assignments.Assign(ctx, "dev-1", "p2", 1500))

	var open int
	require.NoError(t, conn.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM device_assignments WHERE device_id = ? AND released_at_ms IS NULL`, "dev-1").Scan(&open))
	assert.Equal(t, 1, open)

	as, err := assignments.Assignments(ctx, "dev-1", model.TimeRange{Start: 0, End: 2000})
	require.NoError(t, err)
	require.Len(t, as, 2)
	require.NotNil(t, as[0].ReleasedAt)
	assert.Equal(t, int64(1500), *as[0].ReleasedAt)
	assert.Equal(t, model.StatusInactive, as[0].Status)
	assert.Nil(t, as[1].ReleasedAt)
	assert.Equal(t, "p2", model.ResolveOwner(as, 2000))
	assert.Equal(t, "p1", model.ResolveOwner(as, 1000))
}

func TestMigrate_RejectsSecondOpenAssignment(t *testing.T) {
	ctx := context.Background()
	conn, err := Open(ctx, string(SQLite), "file:openindex?mode=memory&cache=shared")
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.Migrate(ctx))

	insert := `INSERT INTO device_assignments (device_id, patient_id, assigned_at_ms, status) VALUES (?, ?, ?, 'active')`
	_, err = conn.ExecContext(ctx, insert, "dev-1", "p1", 500)
	require.NoError(t, err)
	_, err = conn.ExecContext(ctx, insert, "dev-1", "p2", 1500)
	assert.Error(t, err)
}

func TestAssign_RollsBackWhenInsertFails(t *testing.T) {
	db, mock, conn := setupMock(t, SQLite)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE device_assignments`).
		WithArgs(int64(1500), model.StatusInactive, "dev-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO device_assignments`).
		WithArgs("dev-1", "p2", int64(1500), model.StatusActive).
		WillReturnError(errors.New("constraint"))
	mock.ExpectRollback()

	err := NewAssignmentStore(conn).Assign(context.Background(), "dev-1", "p2", 1500)
	assert.Error(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}
