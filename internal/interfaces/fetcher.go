package interfaces

import (
	"context"

	"github.com/ternarybob/specto/internal/models"
)

// Fetcher retrieves a rendered page snapshot for a URL. Implementations
// honour ctx cancellation and deadlines; a failed fetch returns an
// error with kind FETCH_FAILED.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (*models.PageSnapshot, error)
	Close() error
}
