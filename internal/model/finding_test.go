package model

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOptionShapeRoundTrip(t *testing.T) {
	cases := []struct {
		name  string
		in    string
		shape string
		opts  []string
	}{
		{"legacy ofc string", `{"vulnerability":"v","chunk_id":"c1","ofc":"lock the door"}`, ShapeOFCString, []string{"lock the door"}},
		{"legacy ofc list", `{"vulnerability":"v","chunk_id":"c1","ofc":["a","b"]}`, ShapeOFCList, []string{"a", "b"}},
		{"full key string", `{"vulnerability":"v","chunk_id":"c1","options_for_consideration":"x"}`, ShapeFullString, []string{"x"}},
		{"full key list", `{"vulnerability":"v","chunk_id":"c1","options_for_consideration":["x","y"]}`, ShapeFullList, []string{"x", "y"}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var rec FindingRecord
			require.NoError(t, json.Unmarshal([]byte(tc.in), &rec))
			assert.Equal(t, tc.shape, rec.Options.Shape)
			assert.Equal(t, tc.opts, rec.Options.Options)

			// Re-marshal must emit the original key and arity.
			out, err := json.Marshal(rec)
			require.NoError(t, err)

			var roundTrip FindingRecord
			require.NoError(t, json.Unmarshal(out, &roundTrip))
			assert.Equal(t, tc.shape, roundTrip.Options.Shape)
			assert.Equal(t, tc.opts, roundTrip.Options.Options)
		})
	}
}

func TestOptionShapeRejectsGarbage(t *testing.T) {
	var rec FindingRecord
	err := json.Unmarshal([]byte(`{"vulnerability":"v","ofc":{"not":"valid"}}`), &rec)
	assert.Error(t, err)
}

func TestConfidenceOnlySerializedWhenClassified(t *testing.T) {
	rec := FindingRecord{Vulnerability: "v", ChunkID: "c1", Options: NewOptionSet("a")}
	out, err := json.Marshal(rec)
	require.NoError(t, err)
	assert.NotContains(t, string(out), "confidence")

	rec.Classified = true
	rec.Confidence = 0.0 // a real zero score must survive serialization
	out, err = json.Marshal(rec)
	require.NoError(t, err)
	assert.Contains(t, string(out), `"confidence":0`)
}

func TestStatusTransitions(t *testing.T) {
	assert.True(t, StatusPending.CanTransition(StatusExtracting))
	assert.True(t, StatusExtracting.CanTransition(StatusClassifying))
	assert.True(t, StatusSyncing.CanTransition(StatusNeedsReview))
	assert.True(t, StatusClassifying.CanTransition(StatusAborted))

	assert.False(t, StatusPending.CanTransition(StatusSyncing))
	assert.False(t, StatusDone.CanTransition(StatusExtracting))
	assert.False(t, StatusError.CanTransition(StatusDone))

	assert.True(t, StatusDone.Terminal())
	assert.True(t, StatusAborted.Terminal())
	assert.False(t, StatusSyncing.Terminal())
}
