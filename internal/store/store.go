package store

import (
	"context"

	"github.com/joescharf/nwbbatch/internal/models"
)

// Store defines the persistence interface for batch run history.
type Store interface {
	// Runs
	CreateRun(ctx context.Context, r *models.Run) error
	FinishRun(ctx context.Context, r *models.Run) error
	GetRun(ctx context.Context, id string) (*models.Run, error)
	ListRuns(ctx context.Context, limit int) ([]*models.Run, error)
	DeleteRun(ctx context.Context, id string) error

	// Outcomes
	RecordOutcome(ctx context.Context, runID string, position int, o models.Outcome) error
	ListOutcomes(ctx context.Context, runID string) ([]models.Outcome, error)
	LastOutcome(ctx context.Context, sessionID string) (*models.Outcome, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
