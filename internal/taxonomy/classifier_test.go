package taxonomy

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vigilops/bastion/internal/model"
)

func testClassifier() *Classifier {
	return NewClassifier(DefaultRules(), "2024.1")
}

func TestClassifyFormatAgnostic(t *testing.T) {
	// Same content, legacy single-string shape vs list shape: identical
	// discipline, sector and confidence.
	legacy := model.FindingRecord{
		Vulnerability: "Server room door left unlocked",
		Options:       model.OptionSet{Options: []string{"Install an electronic lock"}, Shape: model.ShapeOFCString},
	}
	full := model.FindingRecord{
		Vulnerability: "Server room door left unlocked",
		Options:       model.OptionSet{Options: []string{"Install an electronic lock"}, Shape: model.ShapeFullList},
	}

	c := testClassifier()
	a := c.Classify(legacy)
	b := c.Classify(full)

	assert.Equal(t, a.Discipline, b.Discipline)
	assert.Equal(t, a.Sector, b.Sector)
	assert.Equal(t, a.Subsector, b.Subsector)
	assert.Equal(t, a.Confidence, b.Confidence)

	// The original shape survives classification.
	assert.Equal(t, model.ShapeOFCString, a.Options.Shape)
	assert.Equal(t, model.ShapeFullList, b.Options.Shape)
}

func TestClassifyDeterministic(t *testing.T) {
	rec := model.FindingRecord{
		Vulnerability: "Perimeter fence gate left open near the loading dock",
		Options:       model.NewOptionSet("Repair the gate latch", "Add camera coverage"),
		ChunkID:       "c1",
	}

	c := testClassifier()
	first, err := json.Marshal(c.Classify(rec))
	require.NoError(t, err)

	for i := 0; i < 10; i++ {
		again, err := json.Marshal(c.Classify(rec))
		require.NoError(t, err)
		assert.Equal(t, string(first), string(again), "classification must be byte-identical across runs")
	}
}

func TestClassifyFallbackToGeneral(t *testing.T) {
	rec := model.FindingRecord{
		Vulnerability: "Lorem ipsum dolor sit amet",
		Options:       model.NewOptionSet("Consectetur adipiscing elit"),
	}

	out := testClassifier().Classify(rec)
	assert.Equal(t, DefaultDiscipline, out.Discipline)
	assert.Equal(t, DefaultSector, out.Sector)
	assert.True(t, out.Classified)
	assert.Less(t, out.Confidence, MinConfidence, "fallback confidence must route to review")
	assert.NotZero(t, out.Confidence, "fallback must not leave confidence null-ish at exactly zero")
}

func TestClassifyStrongMatch(t *testing.T) {
	rec := model.FindingRecord{
		Vulnerability: "Unlocked door with broken deadbolt, loose latch and uncontrolled key issuance",
		Options:       model.NewOptionSet("Rekey the lock and repair the deadbolt"),
	}

	out := testClassifier().Classify(rec)
	assert.Equal(t, "Physical Security", out.Discipline)
	assert.Equal(t, "Access Control", out.Sector)
	assert.Equal(t, "Doors and Locks", out.Subsector)
	assert.GreaterOrEqual(t, out.Confidence, 0.6)
	assert.Equal(t, "2024.1", out.TaxonomyVersion)
}

func TestClassifyAllCountPreserving(t *testing.T) {
	records := []model.FindingRecord{
		{Vulnerability: "Unlocked door", Options: model.NewOptionSet("Lock it")},
		{Vulnerability: "zzzz unclassifiable", Options: model.NewOptionSet("n/a")},
		{Vulnerability: "Camera blind spot at the perimeter fence", Options: model.NewOptionSet("Add a camera")},
	}

	out := testClassifier().ClassifyAll(records)
	require.Len(t, out, len(records), "classification must never drop rows")
	for i, rec := range out {
		assert.True(t, rec.Classified, "record %d not classified", i)
		assert.NotEmpty(t, rec.Discipline)
	}
	// Inputs untouched.
	assert.False(t, records[0].Classified)
}
