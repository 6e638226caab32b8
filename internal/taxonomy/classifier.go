package taxonomy

import (
	"math"
	"strings"

	"github.com/vigilops/bastion/internal/model"
)

// MinConfidence is the floor below which a record falls into the General
// fallback bucket instead of the best-scoring rule.
const MinConfidence = 0.3

type Classifier struct {
	rules   []Rule
	version string
}

func NewClassifier(rules []Rule, version string) *Classifier {
	return &Classifier{rules: rules, version: version}
}

func (c *Classifier) Version() string {
	return c.version
}

// Classify enriches one record with discipline/sector/subsector/confidence.
// The input is not mutated; the returned record keeps the original option
// shape so downstream consumers see the document's own format.
func (c *Classifier) Classify(rec model.FindingRecord) model.FindingRecord {
	// Normalized scoring text: vulnerability plus every option, regardless
	// of which shape the document used.
	var sb strings.Builder
	sb.WriteString(strings.ToLower(rec.Vulnerability))
	for _, opt := range rec.Options.Options {
		sb.WriteByte(' ')
		sb.WriteString(strings.ToLower(opt))
	}
	sb.WriteByte(' ')
	sb.WriteString(strings.ToLower(rec.Category))
	text := sb.String()

	bestIdx := -1
	bestScore := 0.0
	totalScore := 0.0
	for i, rule := range c.rules {
		score := 0.0
		for _, kw := range rule.Keywords {
			if n := keywordHits(text, kw); n > 0 {
				score += rule.Weight * float64(n)
			}
		}
		totalScore += score
		// Strict greater-than keeps ties on the earliest rule, which is
		// what makes classification order-stable and reproducible.
		if score > bestScore {
			bestScore = score
			bestIdx = i
		}
	}

	out := rec
	out.TaxonomyVersion = c.version
	out.Classified = true

	confidence := 0.0
	if totalScore > 0 {
		// Dominance of the winning rule, dampened so a single keyword hit
		// does not read as certainty.
		share := bestScore / totalScore
		saturation := 1 - math.Exp(-bestScore/2)
		confidence = round2(share * saturation)
	}

	if bestIdx < 0 || confidence < MinConfidence {
		out.Discipline = DefaultDiscipline
		out.Sector = DefaultSector
		out.Subsector = ""
		out.Confidence = fallbackConfidence
		return out
	}

	winner := c.rules[bestIdx]
	out.Discipline = winner.Discipline
	out.Sector = winner.Sector
	out.Subsector = winner.Subsector
	out.Confidence = confidence
	return out
}

// ClassifyAll classifies every record, preserving order and count. It never
// drops rows: an unclassifiable record comes back as the General fallback.
func (c *Classifier) ClassifyAll(records []model.FindingRecord) []model.FindingRecord {
	out := make([]model.FindingRecord, len(records))
	for i, rec := range records {
		out[i] = c.Classify(rec)
	}
	return out
}

func round2(f float64) float64 {
	return math.Round(f*100) / 100
}
