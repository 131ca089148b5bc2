// Package arbiter turns a class score vector into a discrete decision.
package arbiter

import "github.com/Tutortoise/produce-detector/models"

// DefaultThreshold is the minimum score a category must exceed to count as
// detected.
const DefaultThreshold = 0.5

// Policy holds the decision rule parameters.
type Policy struct {
	Threshold  float32
	Background int
}

// DefaultPolicy returns the default policy for a table whose background slot is
// at index background.
func DefaultPolicy(background int) Policy {
	return Policy{Threshold: DefaultThreshold, Background: background}
}

// Arbitrate selects the highest score, keeping the first index on ties, and
// marks the decision detected when the score clears the threshold and the
// winner is not the background category. An empty vector yields index 0,
// score 0, not detected.
func (p Policy) Arbitrate(scores []float32) models.Decision {
	if len(scores) == 0 {
		return models.Decision{}
	}

	maxIndex := 0
	maxScore := scores[0]
	for i := 1; i < len(scores); i++ {
		if scores[i] > maxScore {
			maxScore = scores[i]
			maxIndex = i
		}
	}

	return models.Decision{
		Index:    maxIndex,
		Score:    maxScore,
		Detected: maxScore > p.Threshold && maxIndex != p.Background,
	}
}
