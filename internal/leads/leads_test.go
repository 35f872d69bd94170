package leads

import (
	"context"
	"testing"
	"time"

	"github.com/jomei/notionapi"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/sells-group/quiz-funnel/internal/model"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// MockClient implements Client for testing.
type MockClient struct {
	mock.Mock
}

func (m *MockClient) QueryDatabase(ctx context.Context, dbID string, req *notionapi.DatabaseQueryRequest) (*notionapi.DatabaseQueryResponse, error) {
	args := m.Called(ctx, dbID, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*notionapi.DatabaseQueryResponse), args.Error(1)
}

func (m *MockClient) CreatePage(ctx context.Context, req *notionapi.PageCreateRequest) (*notionapi.Page, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*notionapi.Page), args.Error(1)
}

type MockMarker struct {
	mock.Mock
}

func (m *MockMarker) MarkLeadPushed(ctx context.Context, id, pageID string) error {
	return m.Called(ctx, id, pageID).Error(0)
}

func sampleConversion() model.Conversion {
	return model.Conversion{
		ID:          "conv-1",
		SessionID:   "5f0c9a7e-1111-2222-3333-444455556666",
		VisitorID:   "visitor-1",
		Variant:     "adjusted",
		Profile:     "Empresário em Expansão",
		Tier:        model.TierExpansion,
		Bottleneck:  "Falta de critério claro para organizar a base",
		Metrics:     model.DerivedMetrics{Exposure: model.ExposureMetrics{Exposure: 32000, Risk: 4800}, Churn: model.ChurnMetrics{ChurnPct: 12.5}},
		Attribution: map[string]string{"utm_source": "ig", "fbclid": "abc"},
		CheckoutURL: "https://pay.example.com/c?perfil=X",
		CreatedAt:   time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func sessionFilter(sessionID string) any {
	return mock.MatchedBy(func(req *notionapi.DatabaseQueryRequest) bool {
		pf, ok := req.Filter.(notionapi.PropertyFilter)
		return ok && pf.Property == PropSessionID && pf.RichText != nil && pf.RichText.Equals == sessionID
	})
}

func TestClientSatisfiesInterface(t *testing.T) {
	t.Parallel()
	var _ Client = (*MockClient)(nil)
	var _ Client = NewClient("token", WithRateLimit(0))
}

func TestProperties(t *testing.T) {
	t.Parallel()
	props := Properties(sampleConversion())

	name, ok := props[PropName].(notionapi.TitleProperty)
	require.True(t, ok)
	assert.Equal(t, "Empresário em Expansão - 5f0c9a7e", name.Title[0].Text.Content)

	profile, ok := props[PropProfile].(notionapi.SelectProperty)
	require.True(t, ok)
	assert.Equal(t, "Empresário em Expansão", profile.Select.Name)

	risk, ok := props[PropRisk].(notionapi.NumberProperty)
	require.True(t, ok)
	assert.InDelta(t, 4800, risk.Number, 0.001)

	churn := props[PropChurn].(notionapi.NumberProperty)
	assert.InDelta(t, 12.5, churn.Number, 0.001)

	src, ok := props["utm_source"].(notionapi.RichTextProperty)
	require.True(t, ok)
	assert.Equal(t, "ig", src.RichText[0].Text.Content)
	assert.Contains(t, props, "fbclid")
	assert.NotContains(t, props, "utm_medium")

	created, ok := props[PropCreated].(notionapi.DateProperty)
	require.True(t, ok)
	assert.Equal(t, time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC), time.Time(*created.Date.Start))
}

func TestProperties_OmitsEmptyOptional(t *testing.T) {
	t.Parallel()
	c := sampleConversion()
	c.Variant = ""
	c.CreatedAt = time.Time{}
	c.Attribution = nil

	props := Properties(c)
	assert.NotContains(t, props, PropVariant)
	assert.NotContains(t, props, PropCreated)
	assert.NotContains(t, props, "utm_source")
}

func TestPush_CreatesAndMarks(t *testing.T) {
	t.Parallel()
	mc := new(MockClient)
	mm := new(MockMarker)
	ctx := context.Background()
	c := sampleConversion()

	mc.On("QueryDatabase", ctx, "db-1", sessionFilter(c.SessionID)).
		Return(&notionapi.DatabaseQueryResponse{}, nil).Once()
	mc.On("CreatePage", ctx, mock.MatchedBy(func(req *notionapi.PageCreateRequest) bool {
		return req.Parent.DatabaseID == "db-1" && req.Properties[PropSessionID] != nil
	})).Return(&notionapi.Page{ID: "page-1"}, nil).Once()
	mm.On("MarkLeadPushed", ctx, "conv-1", "page-1").Return(nil).Once()

	id, err := NewPusher(mc, "db-1", mm).Push(ctx, c)
	require.NoError(t, err)
	assert.Equal(t, "page-1", id)
	mc.AssertExpectations(t)
	mm.AssertExpectations(t)
}

func TestPush_ReusesExistingPage(t *testing.T) {
	t.Parallel()
	mc := new(MockClient)
	mm := new(MockMarker)
	ctx := context.Background()
	c := sampleConversion()

	mc.On("QueryDatabase", ctx, "db-1", sessionFilter(c.SessionID)).
		Return(&notionapi.DatabaseQueryResponse{Results: []notionapi.Page{{ID: "page-old"}}}, nil).Once()
	mm.On("MarkLeadPushed", ctx, "conv-1", "page-old").Return(nil).Once()

	id, err := NewPusher(mc, "db-1", mm).Push(ctx, c)
	require.NoError(t, err)
	assert.Equal(t, "page-old", id)
	mc.AssertNotCalled(t, "CreatePage", mock.Anything, mock.Anything)
	mm.AssertExpectations(t)
}

func TestPush_AlreadyPushed(t *testing.T) {
	t.Parallel()
	mc := new(MockClient)
	c := sampleConversion()
	c.LeadPageID = "page-9"

	id, err := NewPusher(mc, "db-1", nil).Push(context.Background(), c)
	require.NoError(t, err)
	assert.Equal(t, "page-9", id)
	mc.AssertNotCalled(t, "QueryDatabase", mock.Anything, mock.Anything, mock.Anything)
}

func TestPush_Errors(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	c := sampleConversion()

	t.Run("query", func(t *testing.T) {
		t.Parallel()
		mc := new(MockClient)
		mc.On("QueryDatabase", ctx, "db-1", mock.Anything).Return(nil, assert.AnError)
		_, err := NewPusher(mc, "db-1", nil).Push(ctx, c)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "leads: find existing lead")
	})

	t.Run("create", func(t *testing.T) {
		t.Parallel()
		mc := new(MockClient)
		mc.On("QueryDatabase", ctx, "db-1", mock.Anything).Return(&notionapi.DatabaseQueryResponse{}, nil)
		mc.On("CreatePage", ctx, mock.Anything).Return(nil, assert.AnError)
		_, err := NewPusher(mc, "db-1", nil).Push(ctx, c)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "leads: push conversion conv-1")
	})

	t.Run("mark", func(t *testing.T) {
		t.Parallel()
		mc := new(MockClient)
		mm := new(MockMarker)
		mc.On("QueryDatabase", ctx, "db-1", mock.Anything).Return(&notionapi.DatabaseQueryResponse{}, nil)
		mc.On("CreatePage", ctx, mock.Anything).Return(&notionapi.Page{ID: "page-1"}, nil)
		mm.On("MarkLeadPushed", ctx, "conv-1", "page-1").Return(assert.AnError)
		id, err := NewPusher(mc, "db-1", mm).Push(ctx, c)
		require.Error(t, err)
		assert.Equal(t, "page-1", id)
	})
}

func TestPushAll(t *testing.T) {
	t.Parallel()
	mc := new(MockClient)
	ctx := context.Background()

	ok := sampleConversion()
	bad := sampleConversion()
	bad.ID, bad.SessionID = "conv-2", "bad-session"

	mc.On("QueryDatabase", ctx, "db-1", sessionFilter(ok.SessionID)).Return(&notionapi.DatabaseQueryResponse{}, nil)
	mc.On("QueryDatabase", ctx, "db-1", sessionFilter(bad.SessionID)).Return(nil, assert.AnError)
	mc.On("CreatePage", ctx, mock.Anything).Return(&notionapi.Page{ID: "page-1"}, nil)

	pushed, failed := NewPusher(mc, "db-1", nil).PushAll(ctx, []model.Conversion{ok, bad})
	assert.Equal(t, 1, pushed)
	assert.Equal(t, 1, failed)
}

func TestPushAll_Cancelled(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	pushed, failed := NewPusher(new(MockClient), "db-1", nil).PushAll(ctx, []model.Conversion{sampleConversion(), sampleConversion()})
	assert.Zero(t, pushed)
	assert.Equal(t, 2, failed)
}

func TestQueue(t *testing.T) {
	t.Parallel()
	mc := new(MockClient)
	mc.On("QueryDatabase", mock.Anything, "db-1", mock.Anything).Return(&notionapi.DatabaseQueryResponse{}, nil)
	mc.On("CreatePage", mock.Anything, mock.Anything).Return(&notionapi.Page{ID: "page-1"}, nil)

	q := NewQueue(NewPusher(mc, "db-1", nil), 4)
	q.Enqueue(sampleConversion())
	q.Close()
	q.Enqueue(sampleConversion())
	q.Close()

	mc.AssertNumberOfCalls(t, "CreatePage", 1)
}
