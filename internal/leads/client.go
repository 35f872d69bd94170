// Package leads pushes checkout conversions into a Notion database so the
// sales team can follow up.
package leads

import (
	"context"

	"github.com/jomei/notionapi"
	"github.com/rotisserie/eris"

	"github.com/sells-group/quiz-funnel/internal/resilience"
)

// Client is the slice of the Notion API a lead push needs.
type Client interface {
	QueryDatabase(ctx context.Context, dbID string, req *notionapi.DatabaseQueryRequest) (*notionapi.DatabaseQueryResponse, error)
	CreatePage(ctx context.Context, req *notionapi.PageCreateRequest) (*notionapi.Page, error)
}

// ClientOption adjusts the guard around Notion calls.
type ClientOption func(*resilience.GuardConfig)

// WithRateLimit sets requests per second. Notion allows 3; zero removes
// the limit.
func WithRateLimit(rps float64) ClientOption {
	return func(gc *resilience.GuardConfig) {
		gc.RatePerSec = rps
		gc.Burst = max(int(rps), 1)
	}
}

// NewClient returns a Client for the integration token. Calls are rate
// limited, retried on network failures and cut off by a breaker when
// Notion keeps failing.
func NewClient(token string, opts ...ClientOption) Client {
	gc := resilience.GuardConfig{
		RatePerSec: 3,
		Burst:      1,
		Backoff:    resilience.DefaultBackoff(),
		Breaker:    resilience.DefaultBreakerConfig(),
	}
	for _, opt := range opts {
		opt(&gc)
	}
	return &guardedClient{
		api:   notionapi.NewClient(notionapi.Token(token)),
		guard: resilience.NewGuard("notion", gc),
	}
}

type guardedClient struct {
	api   *notionapi.Client
	guard *resilience.Guard
}

func (c *guardedClient) QueryDatabase(ctx context.Context, dbID string, req *notionapi.DatabaseQueryRequest) (*notionapi.DatabaseQueryResponse, error) {
	var resp *notionapi.DatabaseQueryResponse
	err := c.guard.Do(ctx, func(ctx context.Context) error {
		var err error
		resp, err = c.api.Database.Query(ctx, notionapi.DatabaseID(dbID), req)
		return err
	})
	if err != nil {
		return nil, eris.Wrapf(err, "leads: query database %s", dbID)
	}
	return resp, nil
}

func (c *guardedClient) CreatePage(ctx context.Context, req *notionapi.PageCreateRequest) (*notionapi.Page, error) {
	var page *notionapi.Page
	err := c.guard.Do(ctx, func(ctx context.Context) error {
		var err error
		page, err = c.api.Page.Create(ctx, req)
		return err
	})
	if err != nil {
		return nil, eris.Wrap(err, "leads: create page")
	}
	return page, nil
}
