package geometry_test

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/yieldforecast/forecaster/internal/geometry"

	"github.com/stretchr/testify/require"
)

const field = `{"type":"Polygon","coordinates":[[[69.1,53.1],[69.2,53.1],[69.2,53.2],[69.1,53.2],[69.1,53.1]]]}`

func TestParse(t *testing.T) {
	t.Parallel()

	var testCases = []struct {
		scenario string
		given    string
		typ      string
		err      error
	}{
		{"object", `{"type":"Point","coordinates":[10.0,45.0]}`, geometry.TypePoint, nil},
		{"quoted string", `"{\"type\":\"Point\",\"coordinates\":[10.0,45.0]}"`, geometry.TypePoint, nil},
		{"other type", `{"type":"LineString","coordinates":[[1,2],[3,4]]}`, "LineString", nil},
		{"no type", `{"coordinates":[1,2]}`, "", geometry.ErrMalformed},
		{"empty", ``, "", geometry.ErrMalformed},
		{"null", `null`, "", geometry.ErrMalformed},
		{"not json", `{type`, "", geometry.ErrMalformed},
	}

	for _, tc := range testCases {
		t.Run(tc.scenario, func(t *testing.T) {
			g, err := geometry.Parse([]byte(tc.given))
			if tc.err != nil {
				require.ErrorIs(t, err, tc.err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tc.typ, g.Type())
		})
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	var testCases = []struct {
		scenario string
		given    string
		err      error
	}{
		{"point", `{"type":"Point","coordinates":[10.0,45.0]}`, nil},
		{"point with radius", `{"type":"Point","coordinates":[10.0,45.0],"radius":2500}`, nil},
		{"polygon", field, nil},
		{"point short", `{"type":"Point","coordinates":[10.0]}`, geometry.ErrMalformed},
		{"point out of range", `{"type":"Point","coordinates":[200,45]}`, geometry.ErrMalformed},
		{"negative radius", `{"type":"Point","coordinates":[10,45],"radius":-1}`, geometry.ErrMalformed},
		{"polygon no rings", `{"type":"Polygon","coordinates":[]}`, geometry.ErrMalformed},
		{"polygon bad position", `{"type":"Polygon","coordinates":[[[1,"a"]]]}`, geometry.ErrMalformed},
		{"line string", `{"type":"LineString","coordinates":[[1,2],[3,4]]}`, geometry.ErrUnsupported},
	}

	for _, tc := range testCases {
		t.Run(tc.scenario, func(t *testing.T) {
			err := geometry.MustParse(tc.given).Validate()
			if tc.err == nil {
				require.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, tc.err)
		})
	}
}

func TestCanonical(t *testing.T) {
	t.Parallel()
	a := geometry.MustParse(`{"type":"Point","coordinates":[10.0,45.0]}`)
	b := geometry.MustParse(`{ "coordinates": [10, 45], "type": "Point" }`)
	c := geometry.MustParse(`"{\"coordinates\":[10.0,45.0],\"type\":\"Point\"}"`)

	require.Equal(t, `{"coordinates":[10,45],"type":"Point"}`, a.Canonical())
	require.Equal(t, a.Canonical(), b.Canonical())
	require.Equal(t, a.Canonical(), c.Canonical())

	nested := geometry.MustParse(`{"type":"Point","coordinates":[1,2],"properties":{"z":1,"a":2}}`)
	require.Equal(t, `{"coordinates":[1,2],"properties":{"a":2,"z":1},"type":"Point"}`, nested.Canonical())
}

func TestPosition(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	lat, lon := geometry.MustParse(`{"type":"Point","coordinates":[10.0, 45.0]}`).Position(ctx)
	require.Equal(t, 45.0, lat)
	require.Equal(t, 10.0, lon)

	lat, lon = geometry.MustParse(field).Position(ctx)
	require.Equal(t, 53.1, lat)
	require.Equal(t, 69.1, lon)
}

func TestPositionUnsupportedWarns(t *testing.T) {
	// swaps the default logger
	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, nil)))
	t.Cleanup(func() { slog.SetDefault(prev) })

	g := geometry.MustParse(`{"type":"MultiPoint","coordinates":[[1,2]]}`)
	lat, lon := g.Position(context.Background())
	require.Zero(t, lat)
	require.Zero(t, lon)
	require.Contains(t, buf.String(), "level=WARN")
	require.Contains(t, buf.String(), "MultiPoint")
}

func TestContains(t *testing.T) {
	t.Parallel()
	zone := geometry.MustParse(field)
	require.True(t, zone.Contains(53.15, 69.15))
	require.False(t, zone.Contains(53.25, 69.15))
	require.False(t, zone.Contains(53.15, 69.05))

	point := geometry.MustParse(`{"type":"Point","coordinates":[69.1160279, 53.1699733]}`)
	require.True(t, point.Contains(53.17, 69.12))
	require.False(t, point.Contains(53.3, 69.12))

	require.False(t, geometry.MustParse(`{"type":"LineString","coordinates":[]}`).Contains(0, 0))
}
