// Package session runs one visit through a funnel. A Controller owns the
// visit state; every mutation goes through its methods and is serialized,
// so concurrent HTTP handlers never interleave inside a transition.
package session

import (
	"context"
	"fmt"
	"html"
	"math"
	"math/rand/v2"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/quiz-funnel/internal/answer"
	"github.com/sells-group/quiz-funnel/internal/attribution"
	"github.com/sells-group/quiz-funnel/internal/calc"
	"github.com/sells-group/quiz-funnel/internal/funnel"
	"github.com/sells-group/quiz-funnel/internal/model"
	"github.com/sells-group/quiz-funnel/internal/monitoring"
	"github.com/sells-group/quiz-funnel/internal/profile"
	"github.com/sells-group/quiz-funnel/internal/progress"
	"github.com/sells-group/quiz-funnel/internal/render"
	"github.com/sells-group/quiz-funnel/internal/sequencer"
	"github.com/sells-group/quiz-funnel/internal/tracking"
)

// ConversionSaver persists checkout outcomes.
type ConversionSaver interface {
	SaveConversion(ctx context.Context, c *model.Conversion) error
}

// Options wire a Controller to its collaborators. Zero values are usable:
// nil collaborators are skipped.
type Options struct {
	AnswerDelay   time.Duration
	CheckoutBase  string
	RedirectDelay time.Duration

	Tracker     tracking.Tracker
	Attribution attribution.KV
	Conversions ConversionSaver
	Metrics     *monitoring.Metrics
	Scheduler   Scheduler
	// OnConversion sees every saved conversion, e.g. to queue a CRM push.
	// It runs under the session lock and must not block.
	OnConversion func(model.Conversion)

	// Rand returns a value in [0, 1); it picks the calculation duration.
	Rand func() float64
	Now  func() time.Time
}

// DefaultAnswerDelay is the pause between a selection and the advance.
const DefaultAnswerDelay = 300 * time.Millisecond

func (o Options) withDefaults() Options {
	if o.AnswerDelay < 0 {
		o.AnswerDelay = 0
	}
	if o.Scheduler == nil {
		o.Scheduler = RealScheduler{}
	}
	if o.Rand == nil {
		o.Rand = rand.Float64
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

// CheckoutResult is where the visitor goes next.
type CheckoutResult struct {
	URL           string            `json:"url"`
	RedirectAfter time.Duration     `json:"-"`
	Conversion    *model.Conversion `json:"-"`
}

// Controller drives one session.
type Controller struct {
	mu sync.Mutex

	id        string
	visitorID string
	def       *funnel.Definition
	opts      Options
	log       *zap.Logger

	calc       *calc.Calculator
	classifier *profile.Classifier
	seq        *sequencer.Sequencer
	progress   *progress.Mapper
	answers    *answer.Store
	view       *render.View

	derived    model.DerivedMetrics
	profile    profile.Profile
	classified bool
	bottleneck string
	startedAt  time.Time

	started     bool
	calculating bool
	calcGen     int
	calcStarted time.Time
	timers      map[int]Timer
	timerSeq    int
	checkout    *CheckoutResult
	closed      bool
}

// New creates a Controller for def. Call Start to show the first screen.
func New(def *funnel.Definition, visitorID string, opts Options) *Controller {
	opts = opts.withDefaults()
	id := uuid.NewString()
	if visitorID == "" {
		visitorID = uuid.NewString()
	}
	return &Controller{
		id:         id,
		visitorID:  visitorID,
		def:        def,
		opts:       opts,
		log:        zap.L().With(zap.String("component", "session"), zap.String("session_id", id), zap.String("variant", def.Name)),
		calc:       def.Calculator(),
		classifier: def.Classifier(),
		seq:        sequencer.New(def.ScreenSequence()),
		progress:   progress.NewMapper(def.Progress),
		answers:    answer.NewStore(),
		view:       render.NewView(def.Elements.IDs()),
		profile:    profile.Default(),
		startedAt:  opts.Now().UTC(),
		timers:     make(map[int]Timer),
	}
}

// ID returns the session id.
func (c *Controller) ID() string { return c.id }

// VisitorID returns the visitor the session belongs to.
func (c *Controller) VisitorID() string { return c.visitorID }

// AnswerDelay is the pause between a selection and its advance.
func (c *Controller) AnswerDelay() time.Duration { return c.opts.AnswerDelay }

// Definition returns the funnel the session runs.
func (c *Controller) Definition() *funnel.Definition { return c.def }

// Start shows the first screen. Calling it again does nothing.
func (c *Controller) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started {
		return
	}
	c.started = true
	c.opts.Metrics.SessionStarted(c.def.Name)
	c.enter("", c.seq.Current())
}

// Select records an answer and schedules the advance to the next screen.
func (c *Controller) Select(questionID, label string, numeric model.Number, tag string) model.Answer {
	c.mu.Lock()
	defer c.mu.Unlock()

	a := c.answers.Record(questionID, label, numeric, tag)
	name := a.QuestionID
	if !c.def.HasQuestion(name) {
		c.log.Warn("answer for unknown question", zap.String("question_id", name))
		name = funnel.OtherQuestion
	}
	c.opts.Metrics.AnswerRecorded(name)
	c.track(funnel.EventOptionPrefix+name, map[string]any{"value": label, "question_id": a.QuestionID})
	for _, kind := range c.def.AnswerTriggers[a.QuestionID] {
		c.runCalculator(kind)
	}

	c.schedule(c.opts.AnswerDelay, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		c.advance()
	})
	return a
}

// Next advances one screen. At the last screen it does nothing and returns
// false.
func (c *Controller) Next() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.advance()
}

func (c *Controller) advance() bool {
	if c.closed {
		return false
	}
	t := c.seq.Advance()
	if !t.Changed {
		return false
	}
	c.enter(t.From.ID, t.To)
	return true
}

// JumpTo moves straight to a named screen. An unknown id leaves the
// session where it is and returns false.
func (c *Controller) JumpTo(screenID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.jump(screenID)
}

func (c *Controller) jump(screenID string) bool {
	t, ok := c.seq.JumpTo(screenID)
	if !ok {
		c.log.Warn("jump to unknown screen ignored",
			zap.String("screen_id", screenID),
			zap.String("current", t.From.ID),
		)
		return false
	}
	c.enter(t.From.ID, t.To)
	return true
}

// enter runs the transition side effects for the newly active screen.
func (c *Controller) enter(fromID string, to model.Screen) {
	if fromID != "" {
		c.view.Deactivate(fromID)
	}
	c.view.Activate(to.ID)
	c.view.ScrollTo(0)

	d := c.progress.Map(to.Step)
	c.view.SetWidth(c.def.Elements.ProgressBar, d.Percent)
	c.view.SetText(c.def.Elements.ProgressText, d.Text)

	spec, _ := c.def.Spec(to.ID)
	for _, kind := range spec.Calculators {
		c.runCalculator(kind)
	}

	if !spec.SuppressView {
		c.track(funnel.EventView, map[string]any{"screen_id": to.ID})
	}
	for _, name := range spec.Events {
		c.track(name, nil)
	}
	c.opts.Metrics.ScreenViewed(c.def.Name, to.ID)
}

func (c *Controller) runCalculator(kind string) {
	c.derived = c.calc.Compute(c.answers)
	el := c.def.Elements

	var params map[string]any
	switch kind {
	case funnel.CalcExposure:
		m := c.derived.Exposure
		c.view.SetText(el.RiskQuantity, formatCount(m.Quantity))
		c.view.SetText(el.RiskUnitValue, render.Money(m.UnitValue))
		c.view.SetText(el.RiskExposure, render.Money(m.Exposure))
		c.view.SetText(el.RiskFinal, render.Money(m.Risk))

		v := c.calc.Visuals(c.answers, c.derived)
		c.view.SetText(el.OfferCapital, render.Money(m.Exposure))
		c.view.SetText(el.OfferRisk, render.Money(m.Risk))
		c.view.SetText(el.OfferRate, render.Percent(m.RiskRate*100))
		c.view.SetWidth(el.OfferRiskBar, float64(v.RiskBarPct))
		c.view.SetWidth(el.OfferControlBar, float64(v.PerceivedControlPct))
		params = map[string]any{"risk_val": calc.RoundTo(m.Risk, 2)}
	case funnel.CalcTime:
		m := c.derived.Time
		c.view.SetText(el.TimePerUnit, formatCount(m.TimePerUnit))
		c.view.SetText(el.TimeTotal, render.Decimal1(m.Hours)+" horas")
	case funnel.CalcChurn:
		m := c.derived.Churn
		c.view.SetText(el.ChurnPct, render.Percent(m.ChurnPct))
		c.view.SetText(el.LifetimeValue, render.Money(m.LifetimeValue))
		c.view.SetText(el.AnnualizedLoss, render.Money(m.AnnualizedLoss))
		c.view.SetText(el.HoursLost, render.Decimal1(m.HoursLostToReacquisition)+" horas")
	case funnel.CalcVisuals:
		v := c.calc.Visuals(c.answers, c.derived)
		c.view.SetText(el.DonutPct, render.Percent(v.OutOfControlPct))
		c.view.SetWidth(el.Donut, v.OutOfControlPct)
		c.view.SetText(el.BarRiskValue, render.Money(c.derived.Exposure.Risk))
		c.view.SetWidth(el.BarRiskFill, 80)
		c.view.SetHTML(el.ScoreRisk, badgeHTML(v.Risk))
		c.view.SetHTML(el.ScoreControl, badgeHTML(v.Control))
		c.view.SetHTML(el.ScoreScale, badgeHTML(v.Scale))
	default:
		c.log.Warn("unknown calculator", zap.String("calculator", kind))
		return
	}

	if name := c.def.CalcEvents[kind]; name != "" {
		c.track(name, params)
	}
}

// StartCalculation shows the calculating screen, runs its timed animation,
// and lands on the result screen once classification is done. It returns
// false when a calculation is already running.
func (c *Controller) StartCalculation() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.calculating || c.closed {
		return false
	}
	cfg := c.def.Calculating
	if !c.jump(cfg.ScreenID) {
		c.finishResult()
		return true
	}

	c.calculating = true
	c.calcGen++
	gen := c.calcGen
	c.calcStarted = c.opts.Now()
	c.track(funnel.EventCalcStart, nil)

	dur := c.calcDuration()
	el := c.def.Elements
	if len(cfg.Steps) > 0 {
		c.view.SetText(el.CalcText, cfg.Steps[0])
	}
	if cfg.Ticks > 0 {
		c.view.SetWidth(el.CalcFill, 0)
		c.view.SetText(el.CalcPercent, "0%")
	} else {
		c.view.SetWidth(el.CalcFill, 100)
	}

	for i := 1; i < len(cfg.Steps); i++ {
		text := cfg.Steps[i]
		c.scheduleCalc(gen, dur*time.Duration(i)/time.Duration(len(cfg.Steps)), func() {
			c.view.SetText(el.CalcText, text)
		})
	}
	for k := 1; k <= cfg.Ticks; k++ {
		p := easeOut(float64(k) / float64(cfg.Ticks))
		c.scheduleCalc(gen, dur*time.Duration(k)/time.Duration(cfg.Ticks), func() {
			c.view.SetWidth(el.CalcFill, p)
			c.view.SetText(el.CalcPercent, render.Percent(p))
		})
	}
	c.scheduleCalc(gen, dur, func() {
		c.calculating = false
		c.classify()
		c.track(funnel.EventCalcDone, map[string]any{"profile": c.profile.Name})
		c.opts.Metrics.CalculationDone(string(c.profile.Tier), c.opts.Now().Sub(c.calcStarted))
		c.finishResult()
	})
	return true
}

// scheduleCalc runs f under the session lock unless a newer calculation
// has started or the session was closed.
func (c *Controller) scheduleCalc(gen int, d time.Duration, f func()) {
	c.schedule(d, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.closed || gen != c.calcGen {
			return
		}
		f()
	})
}

func (c *Controller) calcDuration() time.Duration {
	cfg := c.def.Calculating
	ms := float64(cfg.MinDurationMS)
	if spread := cfg.MaxDurationMS - cfg.MinDurationMS; spread > 0 {
		ms += c.opts.Rand() * float64(spread)
	}
	return time.Duration(ms * float64(time.Millisecond))
}

// easeOut is the cubic ease-out of t in [0, 1], as a rounded percentage.
func easeOut(t float64) float64 {
	return math.Round((1 - math.Pow(1-t, 3)) * 100)
}

// ShowResult classifies the respondent and shows the result screen.
func (c *Controller) ShowResult() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.classify()
	c.finishResult()
}

func (c *Controller) classify() {
	c.derived = c.calc.Compute(c.answers)
	raw := c.answers.Number(c.def.Bindings.Quantity).NonZeroOr(0)
	c.profile = c.classifier.Classify(c.def.ClassifierInput(c.derived, raw))
	c.classified = true

	b := c.def.Bindings
	c.bottleneck = c.def.Bottleneck.Primary(
		c.derived.Churn.ChurnPct,
		c.answers.Tag(b.DecisionMethod),
		c.answers.Tag(b.Concentration),
	)
}

// finishResult renders the profile and moves to the result screen.
func (c *Controller) finishResult() {
	if !c.classified {
		c.classify()
	}
	el := c.def.Elements
	c.view.SetText(el.ResultTitle, c.profile.Name)
	c.view.SetHTML(el.ResultText, c.profile.Diagnosis)
	c.view.SetText(el.ResultGoodNews, c.profile.GoodNews)
	c.view.SetHTML(el.ResultTeam, teamHTML(c.profile.Team))
	c.view.SetText(el.ResultCTA, c.profile.CTA)
	c.view.SetText(el.ResultBottleneck, c.bottleneck)

	if c.jump(c.def.ResultScreen) {
		c.track(funnel.EventResultView, map[string]any{"profile": c.profile.Name})
	}
}

// Checkout records the conversion and returns the redirect target. A
// failing store never blocks the redirect; only a bad checkout base does.
// Once a conversion is recorded, later calls return the same result
// without recording again.
func (c *Controller) Checkout(ctx context.Context) (*CheckoutResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.checkout != nil {
		res := *c.checkout
		return &res, nil
	}

	c.track(funnel.EventCheckout, map[string]any{"profile": c.profile.Name})

	var tags map[string]string
	if c.opts.Attribution != nil {
		var err error
		tags, err = attribution.Stored(ctx, c.opts.Attribution, c.visitorID)
		if err != nil {
			c.log.Warn("attribution lookup failed", zap.Error(err))
		}
	}

	target, err := attribution.CheckoutURL(c.opts.CheckoutBase, tags, c.profile.Name)
	if err != nil {
		return nil, eris.Wrap(err, "session: checkout")
	}

	conv := &model.Conversion{
		SessionID:   c.id,
		VisitorID:   c.visitorID,
		Variant:     c.def.Name,
		Profile:     c.profile.Name,
		Tier:        c.profile.Tier,
		Bottleneck:  c.bottleneck,
		Metrics:     c.calc.Compute(c.answers),
		Attribution: tags,
		CheckoutURL: target,
	}
	res := &CheckoutResult{URL: target, RedirectAfter: c.opts.RedirectDelay, Conversion: conv}
	saved := true
	if c.opts.Conversions != nil {
		if err := c.opts.Conversions.SaveConversion(ctx, conv); err != nil {
			c.log.Warn("conversion not saved", zap.Error(err))
			saved = false
		} else if c.opts.OnConversion != nil {
			c.opts.OnConversion(*conv)
		}
	}
	c.opts.Metrics.Checkout(string(c.profile.Tier))
	if saved {
		c.checkout = res
	}

	out := *res
	return &out, nil
}

// Snapshot returns a copy of the session state.
func (c *Controller) Snapshot() model.SessionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return model.SessionState{
		ID:            c.id,
		VisitorID:     c.visitorID,
		Answers:       c.answers.Snapshot(),
		CurrentIndex:  c.seq.Index(),
		CurrentScreen: c.seq.Current().ID,
		Derived:       c.derived,
		Tier:          c.profile.Tier,
		Profile:       c.profile.Name,
		HighestStep:   c.progress.Highest(),
		StartedAt:     c.startedAt,
	}
}

// Profile returns the current profile and bottleneck.
func (c *Controller) Profile() (profile.Profile, string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.profile, c.bottleneck
}

// Calculating reports whether the calculating animation is running.
func (c *Controller) Calculating() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calculating
}

// View returns what the display currently shows.
func (c *Controller) View() render.Snapshot {
	return c.view.Snapshot()
}

// Close stops pending timers. The session ignores any that still fire.
func (c *Controller) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	c.calculating = false
	for _, t := range c.timers {
		t.Stop()
	}
	clear(c.timers)
}

// schedule must be called with c.mu held. The timer forgets itself when it
// fires.
func (c *Controller) schedule(d time.Duration, f func()) {
	if c.closed {
		return
	}
	c.timerSeq++
	id := c.timerSeq
	c.timers[id] = c.opts.Scheduler.AfterFunc(d, func() {
		c.mu.Lock()
		delete(c.timers, id)
		c.mu.Unlock()
		f()
	})
}

func (c *Controller) track(name string, params map[string]any) {
	if c.opts.Tracker == nil {
		return
	}
	c.opts.Tracker.Track(tracking.Event{
		Name:      name,
		Params:    params,
		SessionID: c.id,
		VisitorID: c.visitorID,
		At:        c.opts.Now().UTC(),
	})
}

func formatCount(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func badgeHTML(b calc.Badge) string {
	return fmt.Sprintf(`<span class="badge-status badge-%s">%s</span>`, b.Level, html.EscapeString(b.Text))
}

func teamHTML(team []string) string {
	if len(team) == 0 {
		return ""
	}
	var sb strings.Builder
	sb.WriteString("<ul>")
	for _, t := range team {
		sb.WriteString("<li>")
		sb.WriteString(html.EscapeString(t))
		sb.WriteString("</li>")
	}
	sb.WriteString("</ul>")
	return sb.String()
}
