package leads

import (
	"context"
	"fmt"
	"sync"

	"github.com/jomei/notionapi"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/quiz-funnel/internal/attribution"
	"github.com/sells-group/quiz-funnel/internal/calc"
	"github.com/sells-group/quiz-funnel/internal/model"
)

// Property names in the lead database.
const (
	PropName        = "Name"
	PropSessionID   = "Session ID"
	PropProfile     = "Profile"
	PropTier        = "Tier"
	PropVariant     = "Variant"
	PropBottleneck  = "Bottleneck"
	PropRisk        = "Risk"
	PropExposure    = "Exposure"
	PropChurn       = "Churn %"
	PropCheckoutURL = "Checkout URL"
	PropCreated     = "Created"
)

// Marker records that a conversion reached the CRM.
type Marker interface {
	MarkLeadPushed(ctx context.Context, id, pageID string) error
}

// Pusher creates one Notion page per conversion. Pushing is idempotent per
// session: an existing page for the same session is reused.
type Pusher struct {
	client Client
	dbID   string
	marker Marker
	log    *zap.Logger
}

// NewPusher creates a Pusher. marker may be nil.
func NewPusher(client Client, dbID string, marker Marker) *Pusher {
	return &Pusher{
		client: client,
		dbID:   dbID,
		marker: marker,
		log:    zap.L().With(zap.String("component", "leads")),
	}
}

// Push creates the lead page for c and returns its page id.
func (p *Pusher) Push(ctx context.Context, c model.Conversion) (string, error) {
	if c.LeadPageID != "" {
		return c.LeadPageID, nil
	}

	pageID, err := p.find(ctx, c.SessionID)
	if err != nil {
		return "", err
	}
	if pageID == "" {
		page, err := p.client.CreatePage(ctx, &notionapi.PageCreateRequest{
			Parent: notionapi.Parent{
				Type:       notionapi.ParentTypeDatabaseID,
				DatabaseID: notionapi.DatabaseID(p.dbID),
			},
			Properties: Properties(c),
		})
		if err != nil {
			return "", eris.Wrapf(err, "leads: push conversion %s", c.ID)
		}
		pageID = string(page.ID)
	}

	if p.marker != nil && c.ID != "" {
		if err := p.marker.MarkLeadPushed(ctx, c.ID, pageID); err != nil {
			return pageID, eris.Wrapf(err, "leads: mark conversion %s", c.ID)
		}
	}
	p.log.Debug("lead pushed", zap.String("conversion_id", c.ID), zap.String("page_id", pageID))
	return pageID, nil
}

func (p *Pusher) find(ctx context.Context, sessionID string) (string, error) {
	if sessionID == "" {
		return "", nil
	}
	resp, err := p.client.QueryDatabase(ctx, p.dbID, &notionapi.DatabaseQueryRequest{
		Filter: notionapi.PropertyFilter{
			Property: PropSessionID,
			RichText: &notionapi.TextFilterCondition{Equals: sessionID},
		},
		PageSize: 1,
	})
	if err != nil {
		return "", eris.Wrap(err, "leads: find existing lead")
	}
	if len(resp.Results) == 0 {
		return "", nil
	}
	return string(resp.Results[0].ID), nil
}

// PushAll pushes every conversion and returns how many succeeded. Failures
// are logged and counted, never fatal.
func (p *Pusher) PushAll(ctx context.Context, convs []model.Conversion) (pushed, failed int) {
	for _, c := range convs {
		if ctx.Err() != nil {
			failed += len(convs) - pushed - failed
			return pushed, failed
		}
		if _, err := p.Push(ctx, c); err != nil {
			p.log.Warn("lead push failed", zap.String("conversion_id", c.ID), zap.Error(err))
			failed++
			continue
		}
		pushed++
	}
	return pushed, failed
}

// Properties maps a conversion onto the lead database columns. Attribution
// tags become rich text columns named after the tag.
func Properties(c model.Conversion) notionapi.Properties {
	props := notionapi.Properties{
		PropName:        title(fmt.Sprintf("%s - %s", c.Profile, shortID(c.SessionID))),
		PropSessionID:   text(c.SessionID),
		PropProfile:     notionapi.SelectProperty{Type: notionapi.PropertyTypeSelect, Select: notionapi.Option{Name: c.Profile}},
		PropTier:        notionapi.SelectProperty{Type: notionapi.PropertyTypeSelect, Select: notionapi.Option{Name: string(c.Tier)}},
		PropBottleneck:  text(c.Bottleneck),
		PropRisk:        number(calc.RoundTo(c.Metrics.Exposure.Risk, 2)),
		PropExposure:    number(calc.RoundTo(c.Metrics.Exposure.Exposure, 2)),
		PropChurn:       number(calc.RoundTo(c.Metrics.Churn.ChurnPct, 1)),
		PropCheckoutURL: notionapi.URLProperty{Type: notionapi.PropertyTypeURL, URL: c.CheckoutURL},
	}
	if c.Variant != "" {
		props[PropVariant] = notionapi.SelectProperty{Type: notionapi.PropertyTypeSelect, Select: notionapi.Option{Name: c.Variant}}
	}
	if !c.CreatedAt.IsZero() {
		d := notionapi.Date(c.CreatedAt)
		props[PropCreated] = notionapi.DateProperty{Type: notionapi.PropertyTypeDate, Date: &notionapi.DateObject{Start: &d}}
	}
	for _, k := range attribution.Keys {
		if v := c.Attribution[k]; v != "" {
			props[k] = text(v)
		}
	}
	return props
}

func title(s string) notionapi.TitleProperty {
	return notionapi.TitleProperty{
		Type:  notionapi.PropertyTypeTitle,
		Title: []notionapi.RichText{{Type: notionapi.ObjectTypeText, Text: &notionapi.Text{Content: s}}},
	}
}

func text(s string) notionapi.RichTextProperty {
	return notionapi.RichTextProperty{
		Type:     notionapi.PropertyTypeRichText,
		RichText: []notionapi.RichText{{Type: notionapi.ObjectTypeText, Text: &notionapi.Text{Content: s}}},
	}
}

func number(v float64) notionapi.NumberProperty {
	return notionapi.NumberProperty{Type: notionapi.PropertyTypeNumber, Number: v}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// Queue pushes conversions in the background, one at a time.
type Queue struct {
	pusher *Pusher
	ch     chan model.Conversion
	wg     sync.WaitGroup
	mu     sync.RWMutex
	closed bool
	log    *zap.Logger
}

// NewQueue starts a background pusher with room for size pending leads.
func NewQueue(p *Pusher, size int) *Queue {
	if size <= 0 {
		size = 256
	}
	q := &Queue{
		pusher: p,
		ch:     make(chan model.Conversion, size),
		log:    zap.L().With(zap.String("component", "leads.queue")),
	}
	q.wg.Add(1)
	go q.run()
	return q
}

func (q *Queue) run() {
	defer q.wg.Done()
	for c := range q.ch {
		if _, err := q.pusher.Push(context.Background(), c); err != nil {
			q.log.Warn("lead push failed", zap.String("conversion_id", c.ID), zap.Error(err))
		}
	}
}

// Enqueue hands c to the background pusher. It never blocks; when the
// queue is full the lead is left for a later `conversions push`.
func (q *Queue) Enqueue(c model.Conversion) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return
	}
	select {
	case q.ch <- c:
	default:
		q.log.Warn("lead queue full, deferring push", zap.String("conversion_id", c.ID))
	}
}

// Close stops accepting leads and waits for pending pushes.
func (q *Queue) Close() {
	q.mu.Lock()
	if !q.closed {
		q.closed = true
		close(q.ch)
	}
	q.mu.Unlock()
	q.wg.Wait()
}
