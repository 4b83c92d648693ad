package model_test

import (
	"testing"

	"github.com/yieldforecast/forecaster/internal/model"

	"github.com/stretchr/testify/require"
)

func TestYieldRecordCovers(t *testing.T) {
	t.Parallel()
	field := model.YieldRecord{
		GeometryText: `{"coordinates":[[[69.1,53.1],[69.2,53.1],[69.2,53.2],[69.1,53.2],[69.1,53.1]]],"type":"Polygon"}`,
	}
	require.True(t, field.Covers(53.15, 69.15))
	require.False(t, field.Covers(53.25, 69.15))

	point := model.YieldRecord{GeometryText: `{"coordinates":[10,45],"type":"Point"}`}
	require.True(t, point.Covers(45.01, 10.01))
	require.False(t, point.Covers(46, 10))

	require.False(t, model.YieldRecord{GeometryText: "not a zone"}.Covers(0, 0))
	require.False(t, model.YieldRecord{}.Covers(0, 0))
}
