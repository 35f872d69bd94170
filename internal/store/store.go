// Package store persists what the funnel keeps after a visit: per-visitor
// attribution tags and checkout conversions. Raw answers are never stored.
package store

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/quiz-funnel/internal/model"
)

// ErrNotFound is returned when a lookup matches nothing.
var ErrNotFound = eris.New("store: not found")

// ConversionFilter specifies criteria for listing conversions.
type ConversionFilter struct {
	Tier      model.Tier `json:"tier,omitempty"`
	VisitorID string     `json:"visitor_id,omitempty"`
	Since     time.Time  `json:"since,omitempty"`
	// Unpushed limits the list to conversions without a lead page.
	Unpushed bool `json:"unpushed,omitempty"`
	Limit    int  `json:"limit,omitempty"`
	Offset   int  `json:"offset,omitempty"`
}

func (f ConversionFilter) limit() int {
	if f.Limit <= 0 {
		return 100
	}
	return f.Limit
}

// Store defines the persistence interface for the funnel.
type Store interface {
	// Attribution
	SetAttribution(ctx context.Context, visitorID string, tags map[string]string) error
	GetAttribution(ctx context.Context, visitorID string) (map[string]string, error)

	// Conversions
	SaveConversion(ctx context.Context, c *model.Conversion) error
	GetConversion(ctx context.Context, id string) (*model.Conversion, error)
	ListConversions(ctx context.Context, filter ConversionFilter) ([]model.Conversion, error)
	MarkLeadPushed(ctx context.Context, id, pageID string) error

	// Lifecycle
	Ping(ctx context.Context) error
	Migrate(ctx context.Context) error
	Close() error
}
