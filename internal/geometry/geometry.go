// Package geometry parses the zone shapes drawn by users and derives the
// values the forecast needs from them: a canonical text form used as job
// input and cache key material, a representative position for the
// persisted record, and a containment test.
package geometry

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
)

const (
	TypePoint   = "Point"
	TypePolygon = "Polygon"
)

var (
	ErrMalformed   = errors.New("malformed geometry")
	ErrUnsupported = errors.New("unsupported geometry type")
)

// Geometry is a decoded GeoJSON geometry object. Unknown members are kept so
// that the canonical text forwarded to the job carries them.
type Geometry struct {
	typ     string
	members map[string]any
}

// Parse decodes raw, which is either a JSON object or a JSON string holding
// the object. Parse does not restrict the geometry type, see Validate.
func Parse(raw []byte) (Geometry, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return Geometry{}, fmt.Errorf("%w: empty", ErrMalformed)
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return Geometry{}, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		raw = bytes.TrimSpace([]byte(s))
	}

	var members map[string]any
	if err := json.Unmarshal(raw, &members); err != nil {
		return Geometry{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	typ, ok := members["type"].(string)
	if !ok || typ == "" {
		return Geometry{}, fmt.Errorf("%w: type not found", ErrMalformed)
	}
	return Geometry{typ: typ, members: members}, nil
}

// MustParse is Parse for literals known to be valid.
func MustParse(s string) Geometry {
	g, err := Parse([]byte(s))
	if err != nil {
		panic(err)
	}
	return g
}

func (g Geometry) Type() string {
	return g.typ
}

// Validate accepts only the supported shapes with well formed coordinates.
func (g Geometry) Validate() error {
	switch g.typ {
	case TypePoint:
		if _, _, ok := position(g.members["coordinates"]); !ok {
			return fmt.Errorf("%w: point needs [longitude, latitude]", ErrMalformed)
		}
		if r, ok := g.members["radius"]; ok {
			if f, isNum := r.(float64); !isNum || f <= 0 {
				return fmt.Errorf("%w: radius must be a positive number", ErrMalformed)
			}
		}
	case TypePolygon:
		rings, ok := g.members["coordinates"].([]any)
		if !ok || len(rings) == 0 {
			return fmt.Errorf("%w: polygon needs at least one ring", ErrMalformed)
		}
		for i, r := range rings {
			ring, ok := r.([]any)
			if !ok || len(ring) == 0 {
				return fmt.Errorf("%w: ring %d is empty", ErrMalformed, i)
			}
			for j, p := range ring {
				if _, _, ok := position(p); !ok {
					return fmt.Errorf("%w: ring %d position %d is invalid", ErrMalformed, i, j)
				}
			}
		}
	default:
		return fmt.Errorf("%w: %q", ErrUnsupported, g.typ)
	}
	return nil
}

// Canonical returns the geometry serialized with object keys in a fixed
// (lexical) order and numbers in their shortest form, so logically identical
// inputs give identical text.
func (g Geometry) Canonical() string {
	if g.members == nil {
		return ""
	}
	// encoding/json sorts map keys, nested maps included
	b, err := json.Marshal(g.members)
	if err != nil {
		// decoded JSON values always marshal
		panic(err)
	}
	return string(b)
}

func (g Geometry) String() string {
	return g.Canonical()
}

// Position returns the representative latitude and longitude of g: the
// single pair of a point, or the first pair of the first polygon ring. Other
// shapes yield (0, 0) and a warning.
func (g Geometry) Position(ctx context.Context) (lat, lon float64) {
	var ok bool
	switch g.typ {
	case TypePoint:
		lon, lat, ok = position(g.members["coordinates"])
	case TypePolygon:
		lon, lat, ok = firstRingPosition(g.members["coordinates"])
	}
	if !ok {
		slog.WarnContext(ctx, "cannot derive coordinates from geometry: using 0,0", "geometry_type", g.typ)
		return 0, 0
	}
	return lat, lon
}

const pointRadiusKm = 5.0

// Contains reports whether the location lies inside the zone: inside the
// outer ring of a polygon, or closer than 5 km to a point.
func (g Geometry) Contains(lat, lon float64) bool {
	switch g.typ {
	case TypePoint:
		plon, plat, ok := position(g.members["coordinates"])
		if !ok {
			return false
		}
		return haversineKm(lat, lon, plat, plon) < pointRadiusKm
	case TypePolygon:
		rings, ok := g.members["coordinates"].([]any)
		if !ok || len(rings) == 0 {
			return false
		}
		ring, ok := rings[0].([]any)
		if !ok {
			return false
		}
		return inRing(lat, lon, ring)
	}
	return false
}

func inRing(lat, lon float64, ring []any) bool {
	inside := false
	n := len(ring)
	for i, j := 0, n-1; i < n; j, i = i, i+1 {
		lonI, latI, okI := position(ring[i])
		lonJ, latJ, okJ := position(ring[j])
		if !okI || !okJ {
			return false
		}
		if (latI > lat) != (latJ > lat) &&
			lon < (lonJ-lonI)*(lat-latI)/(latJ-latI)+lonI {
			inside = !inside
		}
	}
	return inside
}

const earthRadiusKm = 6371.0

func haversineKm(lat1, lon1, lat2, lon2 float64) float64 {
	rad := math.Pi / 180
	dLat := (lat2 - lat1) * rad
	dLon := (lon2 - lon1) * rad
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1*rad)*math.Cos(lat2*rad)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return earthRadiusKm * 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
}

func firstRingPosition(v any) (lon, lat float64, ok bool) {
	rings, ok := v.([]any)
	if !ok || len(rings) == 0 {
		return 0, 0, false
	}
	ring, ok := rings[0].([]any)
	if !ok || len(ring) == 0 {
		return 0, 0, false
	}
	return position(ring[0])
}

// position decodes a [longitude, latitude, ...] pair.
func position(v any) (lon, lat float64, ok bool) {
	pair, ok := v.([]any)
	if !ok || len(pair) < 2 {
		return 0, 0, false
	}
	lon, okLon := pair[0].(float64)
	lat, okLat := pair[1].(float64)
	if !okLon || !okLat {
		return 0, 0, false
	}
	if lon < -180 || lon > 180 || lat < -90 || lat > 90 {
		return 0, 0, false
	}
	return lon, lat, true
}
