package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/yieldforecast/forecaster/internal/geometry"
)

const (
	DefaultLocation  = "Custom Zone"
	DefaultParameter = "NDVI"

	DateLayout = time.DateOnly
)

var validate *validator.Validate

func init() {
	validate = validator.New(validator.WithRequiredStructEnabled())
	validate.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
}

var validationMessages = map[string]string{
	"required": "is required",
	"max":      "must be at most %s characters long",
	"alphanum": "must contain letters and digits only",
	"datetime": "must be a date formatted as %s",
}

// JobRequest is a forecast or availability request as received from a caller.
type JobRequest struct {
	Geometry         json.RawMessage `json:"geometry" validate:"required"`
	Parameter        string          `json:"parameter,omitempty" validate:"omitempty,max=32,alphanum"`
	Location         string          `json:"location,omitempty" validate:"max=255"`
	Date             string          `json:"date,omitempty" validate:"omitempty,datetime=2006-01-02"`
	StartDate        string          `json:"startDate,omitempty" validate:"omitempty,datetime=2006-01-02"`
	EndDate          string          `json:"endDate,omitempty" validate:"omitempty,datetime=2006-01-02"`
	ExistingRecordID *uint64         `json:"id,omitempty"`
	OwnerUserID      *uint64         `json:"userId,omitempty"`
}

// Job is a validated JobRequest with all defaults applied.
type Job struct {
	Geometry         geometry.Geometry
	Parameter        string
	Location         string
	Date             time.Time
	Start            time.Time
	End              time.Time
	ExistingRecordID *uint64
	OwnerUserID      *uint64
}

// Normalize validates r and fills the defaults: location "Custom Zone",
// parameter NDVI, observation date today and a date range spanning the
// observation year. All failures are *ValidationError.
func (r JobRequest) Normalize(now time.Time) (Job, error) {
	if err := validate.Struct(r); err != nil {
		return Job{}, toValidationError(err)
	}

	g, err := geometry.Parse(r.Geometry)
	if err != nil {
		return Job{}, &ValidationError{Field: "geometry", Message: err.Error()}
	}
	if err := g.Validate(); err != nil {
		return Job{}, &ValidationError{Field: "geometry", Message: err.Error()}
	}

	job := Job{
		Geometry:         g,
		Parameter:        r.Parameter,
		Location:         strings.TrimSpace(r.Location),
		ExistingRecordID: r.ExistingRecordID,
		OwnerUserID:      r.OwnerUserID,
	}
	if job.Parameter == "" {
		job.Parameter = DefaultParameter
	}
	if job.Location == "" {
		job.Location = DefaultLocation
	}

	job.Date = civil(now)
	if r.Date != "" {
		job.Date = mustDate(r.Date)
	}
	job.Start = time.Date(job.Date.Year(), time.January, 1, 0, 0, 0, 0, time.UTC)
	if r.StartDate != "" {
		job.Start = mustDate(r.StartDate)
	}
	job.End = time.Date(job.Date.Year(), time.December, 31, 0, 0, 0, 0, time.UTC)
	if r.EndDate != "" {
		job.End = mustDate(r.EndDate)
	}
	if job.End.Before(job.Start) {
		return Job{}, &ValidationError{Field: "endDate", Message: "must not be before startDate"}
	}
	return job, nil
}

func civil(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// mustDate parses a value already checked by the datetime validator.
func mustDate(s string) time.Time {
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		panic(fmt.Sprintf("date %q passed validation: %v", s, err))
	}
	return t
}

func toValidationError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return &ValidationError{Message: err.Error()}
	}
	e := verrs[0]
	msg, ok := validationMessages[e.Tag()]
	if !ok {
		return &ValidationError{Field: e.Field(), Message: "is invalid: " + e.Tag()}
	}
	if strings.Contains(msg, "%s") {
		msg = fmt.Sprintf(msg, e.Param())
	}
	return &ValidationError{Field: e.Field(), Message: msg}
}
