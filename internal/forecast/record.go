package forecast

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/yieldforecast/forecaster/internal/model"
)

const (
	baseYield       = 15.0
	yieldPerIndexPt = 10.0
)

// PredictedYield is the linear yield model over the measured index.
func PredictedYield(index float64) float64 {
	return baseYield + index*yieldPerIndexPt
}

// measuredIndex reads the parameter member of the job output, 0 when it is
// absent or not a number.
func measuredIndex(ctx context.Context, payload []byte, parameter string) float64 {
	var members map[string]json.RawMessage
	if err := json.Unmarshal(payload, &members); err != nil {
		slog.WarnContext(ctx, "job output is not an object", "error", err)
		return 0
	}
	raw, ok := members[parameter]
	if !ok {
		slog.WarnContext(ctx, "job output misses the measured index, using 0")
		return 0
	}
	var v float64
	if err := json.Unmarshal(raw, &v); err != nil {
		slog.WarnContext(ctx, "measured index is not a number, using 0", "value", string(raw))
		return 0
	}
	return v
}

// persist maps payload to a record and saves it. An existing record is
// updated when the job names one, a missing one is replaced by a new record.
func (o *Orchestrator) persist(ctx context.Context, job model.Job, payload []byte) (model.YieldRecord, error) {
	var rec model.YieldRecord
	if job.ExistingRecordID != nil {
		found, err := o.opts.Records.FindRecord(ctx, *job.ExistingRecordID)
		switch {
		case err == nil:
			rec = found
		case errors.Is(err, model.ErrNotFound):
			slog.InfoContext(ctx, "record to update not found, creating a new one", "record_id", *job.ExistingRecordID)
		default:
			return model.YieldRecord{}, &model.PersistenceError{Op: "find record", Err: err}
		}
	}

	index := measuredIndex(ctx, payload, job.Parameter)
	lat, lon := job.Geometry.Position(ctx)

	rec.Location = job.Location
	rec.ObservationDate = job.Date
	rec.StartDate = job.Start
	rec.EndDate = job.End
	rec.MeasuredIndexValue = index
	rec.PredictedYield = PredictedYield(index)
	rec.Latitude = lat
	rec.Longitude = lon
	rec.GeometryText = job.Geometry.Canonical()
	rec.Parameter = job.Parameter
	if job.OwnerUserID != nil {
		rec.OwnerUserID = job.OwnerUserID
	}

	if err := o.opts.Records.SaveRecord(ctx, &rec); err != nil {
		return model.YieldRecord{}, &model.PersistenceError{Op: "save record", Err: err}
	}
	return rec, nil
}

func decodeAvailability(payload []byte) (model.Availability, error) {
	var a model.Availability
	if err := json.Unmarshal(payload, &a); err != nil {
		return model.Availability{}, &model.JobFailure{Reason: "malformed availability output"}
	}
	if a.AvailableDates == nil {
		a.AvailableDates = []model.AvailableDate{}
	}
	return a, nil
}
