// Package fingerprint derives the cache key of a forecast job from its
// inputs.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"
	"time"

	"github.com/yieldforecast/forecaster/internal/geometry"
)

const dateLayout = time.DateOnly

type payload struct {
	Parameter string `json:"parameter"`
	Geometry  string `json:"geometry"`
	Start     string `json:"start,omitempty"`
	End       string `json:"end,omitempty"`
}

type Option func(*payload)

// WithDateRange makes the date range part of the key. Without it two
// requests for the same zone and parameter share a key whatever their dates.
func WithDateRange(start, end time.Time) Option {
	return func(p *payload) {
		if !start.IsZero() {
			p.Start = start.Format(dateLayout)
		}
		if !end.IsZero() {
			p.End = end.Format(dateLayout)
		}
	}
}

// Of returns a hex encoded sha256 over the parameter and the canonical
// geometry text. It is a cache key, not an identity.
func Of(parameter string, g geometry.Geometry, opts ...Option) string {
	p := payload{
		Parameter: strings.TrimSpace(parameter),
		Geometry:  g.Canonical(),
	}
	for _, opt := range opts {
		opt(&p)
	}

	b, err := json.Marshal(p)
	if err != nil {
		// strings only
		panic(err)
	}
	sha := sha256.Sum256(b)
	return hex.EncodeToString(sha[:])
}
