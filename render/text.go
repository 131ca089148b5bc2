package render

import (
	"log"

	"github.com/Tutortoise/produce-detector/models"
)

// TextSink prints decisions and score lines to a logger.
type TextSink struct {
	logger *log.Logger
}

// NewTextSink logs through l, or the standard logger when l is nil.
func NewTextSink(l *log.Logger) *TextSink {
	if l == nil {
		l = log.Default()
	}
	return &TextSink{logger: l}
}

func (t *TextSink) Name() string { return "text" }

func (t *TextSink) RenderDetected(c models.Category) error {
	t.logger.Printf(MsgDetected, c.Label)
	return nil
}

func (t *TextSink) RenderNone() error {
	t.logger.Print(MsgNoDetection)
	return nil
}

func (t *TextSink) ReportScores(table models.LabelTable, scores []float32) error {
	t.logger.Print(ScoreLine(table, scores))
	return nil
}
