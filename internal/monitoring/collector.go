package monitoring

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/quiz-funnel/internal/model"
	"github.com/sells-group/quiz-funnel/internal/store"
)

// Snapshot is a point-in-time view of funnel health.
type Snapshot struct {
	Conversions       int                `json:"conversions"`
	ConversionsByTier map[model.Tier]int `json:"conversions_by_tier"`
	Unpushed          int                `json:"unpushed"`

	TrackingDelivered int64   `json:"tracking_delivered"`
	TrackingFailed    int64   `json:"tracking_failed"`
	TrackingDropped   int64   `json:"tracking_dropped"`
	TrackingFailRate  float64 `json:"tracking_fail_rate"`

	LookbackHours int       `json:"lookback_hours"`
	CollectedAt   time.Time `json:"collected_at"`
}

// ConversionLister is the store method the collector needs.
type ConversionLister interface {
	ListConversions(ctx context.Context, filter store.ConversionFilter) ([]model.Conversion, error)
}

// DeliveryStats reports tracking delivery counters. *tracking.Dispatcher
// satisfies it.
type DeliveryStats interface {
	Delivered() int64
	Failed() int64
	Dropped() int64
}

// Collector gathers a Snapshot from the store and the tracking dispatcher.
type Collector struct {
	conversions ConversionLister
	delivery    DeliveryStats
}

// NewCollector creates a collector. delivery may be nil.
func NewCollector(conversions ConversionLister, delivery DeliveryStats) *Collector {
	return &Collector{conversions: conversions, delivery: delivery}
}

// Collect builds a snapshot over the lookback window.
func (c *Collector) Collect(ctx context.Context, lookbackHours int) (*Snapshot, error) {
	now := time.Now().UTC()
	snap := &Snapshot{
		ConversionsByTier: make(map[model.Tier]int),
		LookbackHours:     lookbackHours,
		CollectedAt:       now,
	}

	convs, err := c.conversions.ListConversions(ctx, store.ConversionFilter{
		Since: now.Add(-time.Duration(lookbackHours) * time.Hour),
		Limit: 10000,
	})
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: list conversions")
	}
	snap.Conversions = len(convs)
	for _, cv := range convs {
		snap.ConversionsByTier[cv.Tier]++
		if cv.LeadPageID == "" {
			snap.Unpushed++
		}
	}

	if c.delivery != nil {
		snap.TrackingDelivered = c.delivery.Delivered()
		snap.TrackingFailed = c.delivery.Failed()
		snap.TrackingDropped = c.delivery.Dropped()
		if finished := snap.TrackingDelivered + snap.TrackingFailed; finished > 0 {
			snap.TrackingFailRate = float64(snap.TrackingFailed) / float64(finished)
		}
	}
	return snap, nil
}
