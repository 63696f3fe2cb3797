package port

import (
	"context"

	"github.com/CohenShirel/SkyLens/internal/domain/entity"
)

// GroupClassifier is the external classification capability: an ordered
// evidence sequence in, a verdict out. Implementations may be slow,
// rate-limited, or occasionally unparsable; the orchestrator owns retry.
type GroupClassifier interface {
	Classify(ctx context.Context, group entity.Group) (entity.Verdict, error)
}
