package report

import (
	"context"

	"github.com/icu/icu/pkg/daterange"
)

type Repository interface {
	// Load reads every row a report over r needs.
	Load(ctx context.Context, r daterange.Range) (*RecordSet, error)
	// Episodes lists the episodes admitted in r.
	Episodes(ctx context.Context, r daterange.Range) ([]EpisodeRow, error)
}
