package history

import (
	"context"
	"time"

	"github.com/Tutortoise/produce-detector/models"
)

// writeTimeout bounds one insert so a locked database cannot stall the loop.
const writeTimeout = 2 * time.Second

// Sink records each rendered decision. It shows nothing itself.
type Sink struct {
	store *Store
}

func NewSink(store *Store) *Sink {
	return &Sink{store: store}
}

func (s *Sink) Name() string { return "history" }

func (s *Sink) RenderDetected(models.Category) error { return nil }

func (s *Sink) RenderNone() error { return nil }

func (s *Sink) ObserveDecision(cycleID string, d models.Decision, table models.LabelTable) error {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	_, err := s.store.Insert(ctx, cycleID, d, table)
	return err
}
