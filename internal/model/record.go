package model

import (
	"time"

	"github.com/yieldforecast/forecaster/internal/geometry"
)

// YieldRecord is the persisted result of a successful forecast.
type YieldRecord struct {
	ID                 uint64    `json:"id" gorm:"primaryKey;autoIncrement"`
	Location           string    `json:"location"`
	ObservationDate    time.Time `json:"date"`
	StartDate          time.Time `json:"startDate"`
	EndDate            time.Time `json:"endDate"`
	MeasuredIndexValue float64   `json:"indexValue"`
	PredictedYield     float64   `json:"yieldPrediction"`
	Latitude           float64   `json:"latitude"`
	Longitude          float64   `json:"longitude"`
	GeometryText       string    `json:"geometryJson" gorm:"type:text"`
	Parameter          string    `json:"parameter"`
	OwnerUserID        *uint64   `json:"userId,omitempty" gorm:"index"`
	CreatedAt          time.Time `json:"createdAt"`
	UpdatedAt          time.Time `json:"updatedAt"`
}

// Covers reports whether the zone of the record contains the location.
// A record with an unreadable zone covers nothing.
func (r YieldRecord) Covers(lat, lon float64) bool {
	g, err := geometry.Parse([]byte(r.GeometryText))
	if err != nil {
		return false
	}
	return g.Contains(lat, lon)
}

// Availability is the answer of the data availability job.
type Availability struct {
	TotalImages    int             `json:"totalImages"`
	AvailableDates []AvailableDate `json:"availableDates"`
	DateRange      DateRange       `json:"dateRange"`
}

type AvailableDate struct {
	Date          string  `json:"date"`
	CloudCoverage float64 `json:"cloudCoverage"`
	Quality       string  `json:"quality"`
}

type DateRange struct {
	Start string `json:"start"`
	End   string `json:"end"`
}
