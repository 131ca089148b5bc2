package render

import (
	"fmt"
	"strings"

	"github.com/Tutortoise/produce-detector/models"
)

const (
	MsgNoDetection = "No fruit detected"

	MsgDetected = "Detected fruit: %s"

	// WeightAnnotation accompanies every priced category. The scale is not
	// wired in, so the weight is fixed.
	WeightAnnotation = "Weight: 0.3 Kg"

	pricePrefix = "price: "
)

// PriceLine formats the price row for c, or "" when c has no price.
func PriceLine(c models.Category) string {
	if !c.HasPrice() {
		return ""
	}
	return pricePrefix + c.Price
}

// ScoreLine formats the raw score vector as "Apple: 0.100000, Banana: ...".
// Scores without a matching category are labelled by index.
func ScoreLine(table models.LabelTable, scores []float32) string {
	var b strings.Builder
	for i, s := range scores {
		if i > 0 {
			b.WriteString(", ")
		}
		label := fmt.Sprintf("#%d", i)
		if c, ok := table.At(i); ok {
			label = c.Label
		}
		fmt.Fprintf(&b, "%s: %f", label, s)
	}
	return b.String()
}
