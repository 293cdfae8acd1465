package persist

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/plus3/bitwise/ecs"
	"github.com/plus3/bitwise/scene"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeJSONKeepsIntegerPrecision(t *testing.T) {
	doc := []byte(`{
		"version": 1,
		"entities": [{"path": "a", "components": {"Marker": {"count": 1152921504606846977, "scale": 0.5}}}],
		"systems": {"physics": {"gravity": [0, -9.8, 0], "substeps": 10}}
	}`)

	snap, err := decodeJSON(doc)
	require.NoError(t, err)
	assert.Equal(t, json.Number("1152921504606846977"), snap.Entities[0].Components["Marker"]["count"])
	assert.Equal(t, ecs.State{
		"gravity":  []any{json.Number("0"), json.Number("-9.8"), json.Number("0")},
		"substeps": json.Number("10"),
	}, snap.Systems["physics"])

	_, err = decodeJSON([]byte(`{"version": "one"}`))
	assert.ErrorIs(t, err, ecs.ErrConfiguration)
}

func TestJSONCarriesNonFiniteFloats(t *testing.T) {
	snap := &scene.Snapshot{
		Version: scene.SnapshotVersion,
		Entities: []scene.EntitySnapshot{
			{Path: "a", Components: map[string]ecs.Record{
				"Marker": {"count": uint64(3), "scale": float32(math.Inf(1))},
			}},
			{Path: "b", Components: map[string]ecs.Record{
				"Marker": {"scale": math.NaN()},
			}},
			{Path: "c"},
		},
		Systems: map[string]ecs.State{"drift": {"bias": []any{math.Inf(-1), 1.5}}},
	}

	doc, err := encodeJSON(snap)
	require.NoError(t, err)
	assert.True(t, math.IsNaN(snap.Entities[1].Components["Marker"]["scale"].(float64)), "input is not modified")

	got, err := decodeJSON(doc)
	require.NoError(t, err)
	assert.Equal(t, math.Inf(1), got.Entities[0].Components["Marker"]["scale"])
	assert.Equal(t, json.Number("3"), got.Entities[0].Components["Marker"]["count"])
	assert.True(t, math.IsNaN(got.Entities[1].Components["Marker"]["scale"].(float64)))
	assert.Nil(t, got.Entities[2].Components)
	assert.Equal(t, ecs.State{"bias": []any{"-Inf", json.Number("1.5")}}, got.Systems["drift"])
}
