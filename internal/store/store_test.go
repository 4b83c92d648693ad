package store_test

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/yieldforecast/forecaster/internal/model"
	"github.com/yieldforecast/forecaster/internal/store"

	"github.com/stretchr/testify/require"
)

func open(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	require.NoError(t, s.Migrate(t.Context()))
	return s
}

func ptr[T any](v T) *T {
	return &v
}

func TestRecords(t *testing.T) {
	t.Parallel()
	ctx := t.Context()
	s := open(t)

	_, err := s.FindRecord(ctx, 1)
	require.ErrorIs(t, err, model.ErrNotFound)

	rec := model.YieldRecord{
		Location:           "North field",
		ObservationDate:    time.Date(2024, 7, 15, 0, 0, 0, 0, time.UTC),
		MeasuredIndexValue: 0.62,
		PredictedYield:     21.2,
		Latitude:           53.1699733,
		Longitude:          69.1160279,
		GeometryText:       `{"coordinates":[69.1160279,53.1699733],"type":"Point"}`,
		Parameter:          "NDVI",
		OwnerUserID:        ptr(uint64(5)),
	}
	require.NoError(t, s.SaveRecord(ctx, &rec))
	require.NotZero(t, rec.ID)

	got, err := s.FindRecord(ctx, rec.ID)
	require.NoError(t, err)
	require.Equal(t, "North field", got.Location)
	require.InDelta(t, 21.2, got.PredictedYield, 1e-9)
	require.Equal(t, uint64(5), *got.OwnerUserID)

	// update in place
	got.PredictedYield = 22.0
	require.NoError(t, s.SaveRecord(ctx, &got))
	require.Equal(t, rec.ID, got.ID)
	again, err := s.FindRecord(ctx, rec.ID)
	require.NoError(t, err)
	require.InDelta(t, 22.0, again.PredictedYield, 1e-9)

	other := model.YieldRecord{Location: "South field", Parameter: "EVI"}
	require.NoError(t, s.SaveRecord(ctx, &other))

	all, err := s.ListRecords(ctx, nil, 0)
	require.NoError(t, err)
	require.Len(t, all, 2)
	require.Equal(t, rec.ID, all[0].ID)
	require.Equal(t, other.ID, all[1].ID)

	mine, err := s.ListRecords(ctx, ptr(uint64(5)), 10)
	require.NoError(t, err)
	require.Len(t, mine, 1)
	require.Equal(t, rec.ID, mine[0].ID)

	limited, err := s.ListRecords(ctx, nil, 1)
	require.NoError(t, err)
	require.Len(t, limited, 1)
}

func TestRuns(t *testing.T) {
	t.Parallel()
	ctx := t.Context()
	s := open(t)

	_, err := s.GetRun(ctx, "missing")
	require.ErrorIs(t, err, model.ErrNotFound)
	require.ErrorIs(t, s.FinishRunOK(ctx, "missing", nil), model.ErrNotFound)

	run := model.Run{RunID: "r1", Fingerprint: "fp", Parameter: "NDVI"}
	require.NoError(t, s.StartRun(ctx, run))
	// starting twice while in progress is fine
	require.NoError(t, s.StartRun(ctx, run))

	got, err := s.GetRun(ctx, "r1")
	require.NoError(t, err)
	require.True(t, got.InProgress)
	require.Nil(t, got.Success)
	require.NotZero(t, got.StartedAt)

	require.NoError(t, s.FinishRunOK(ctx, "r1", ptr(uint64(42))))
	got, err = s.GetRun(ctx, "r1")
	require.NoError(t, err)
	require.False(t, got.InProgress)
	require.NotNil(t, got.Success)
	require.True(t, *got.Success)
	require.Equal(t, uint64(42), *got.RecordID)
	require.NotNil(t, got.FinishedAt)

	require.ErrorIs(t, s.FinishRunErr(ctx, "r1", "late"), store.ErrAlreadyFinished)
	require.ErrorIs(t, s.StartRun(ctx, run), store.ErrAlreadyFinished)

	require.NoError(t, s.StartRun(ctx, model.Run{RunID: "r2", Fingerprint: "fp"}))
	require.NoError(t, s.FinishRunErr(ctx, "r2", "no structured output"))
	got, err = s.GetRun(ctx, "r2")
	require.NoError(t, err)
	require.False(t, *got.Success)
	require.Equal(t, "no structured output", *got.FailureReason)
	require.Nil(t, got.RecordID)
}

func TestOpenFile(t *testing.T) {
	t.Parallel()
	ctx := t.Context()
	dsn := filepath.Join(t.TempDir(), "forecaster.db")

	s, err := store.Open(dsn)
	require.NoError(t, err)
	require.NoError(t, s.Migrate(ctx))
	rec := model.YieldRecord{Location: "kept", Parameter: "NDVI"}
	require.NoError(t, s.SaveRecord(ctx, &rec))
	require.NoError(t, s.Close())

	s, err = store.Open(dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	require.NoError(t, s.Migrate(ctx))
	got, err := s.FindRecord(ctx, rec.ID)
	require.NoError(t, err)
	require.Equal(t, "kept", got.Location)
}
