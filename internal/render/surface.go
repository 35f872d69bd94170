// Package render defines the display surface the funnel engine writes to
// and an in-memory implementation served to clients as JSON.
package render

import (
	"maps"
	"slices"
	"sync"

	"go.uber.org/zap"
)

// Surface is everything the engine needs from a display. Writes to unknown
// targets are skipped, never errors.
type Surface interface {
	Activate(screenID string)
	Deactivate(screenID string)
	SetText(elementID, text string)
	SetHTML(elementID, html string)
	SetWidth(elementID string, percent float64)
	ScrollTo(y int)
}

// Element is the rendered state of one display target.
type Element struct {
	Text  string   `json:"text,omitempty"`
	HTML  string   `json:"html,omitempty"`
	Width *float64 `json:"width,omitempty"`
}

// Snapshot is a point-in-time copy of a View.
type Snapshot struct {
	Active   string             `json:"active"`
	ScrollY  int                `json:"scroll_y"`
	Elements map[string]Element `json:"elements"`
}

// View is an in-memory Surface. When constructed with a known element set,
// writes to anything else are dropped and logged at debug level.
type View struct {
	mu       sync.RWMutex
	known    map[string]struct{}
	active   string
	scrollY  int
	elements map[string]Element
	log      *zap.Logger
}

// NewView creates a View. A nil or empty known set accepts every target.
func NewView(known []string) *View {
	v := &View{
		elements: make(map[string]Element),
		log:      zap.L().With(zap.String("component", "render")),
	}
	if len(known) > 0 {
		v.known = make(map[string]struct{}, len(known))
		for _, id := range known {
			v.known[id] = struct{}{}
		}
	}
	return v
}

func (v *View) accepts(id string) bool {
	if id == "" {
		return false
	}
	if v.known == nil {
		return true
	}
	_, ok := v.known[id]
	if !ok {
		v.log.Debug("skipping write to unknown element", zap.String("element", id))
	}
	return ok
}

// Activate marks screenID as the visible screen.
func (v *View) Activate(screenID string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.active = screenID
}

// Deactivate hides screenID if it is the visible screen.
func (v *View) Deactivate(screenID string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.active == screenID {
		v.active = ""
	}
}

// SetText replaces the plain text of an element.
func (v *View) SetText(elementID, text string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if !v.accepts(elementID) {
		return
	}
	el := v.elements[elementID]
	el.Text, el.HTML = text, ""
	v.elements[elementID] = el
}

// SetHTML replaces the markup of an element.
func (v *View) SetHTML(elementID, html string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if !v.accepts(elementID) {
		return
	}
	el := v.elements[elementID]
	el.HTML, el.Text = html, ""
	v.elements[elementID] = el
}

// SetWidth sets an element's width in percent.
func (v *View) SetWidth(elementID string, percent float64) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if !v.accepts(elementID) {
		return
	}
	el := v.elements[elementID]
	w := percent
	el.Width = &w
	v.elements[elementID] = el
}

// ScrollTo records the scroll position.
func (v *View) ScrollTo(y int) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.scrollY = y
}

// Active returns the visible screen id.
func (v *View) Active() string {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.active
}

// Text returns the text (or markup) of an element.
func (v *View) Text(elementID string) string {
	v.mu.RLock()
	defer v.mu.RUnlock()
	el := v.elements[elementID]
	if el.HTML != "" {
		return el.HTML
	}
	return el.Text
}

// Width returns an element's width and whether one was set.
func (v *View) Width(elementID string) (float64, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	el, ok := v.elements[elementID]
	if !ok || el.Width == nil {
		return 0, false
	}
	return *el.Width, true
}

// Snapshot copies the current state.
func (v *View) Snapshot() Snapshot {
	v.mu.RLock()
	defer v.mu.RUnlock()
	els := maps.Clone(v.elements)
	for id, el := range els {
		if el.Width != nil {
			w := *el.Width
			el.Width = &w
			els[id] = el
		}
	}
	return Snapshot{Active: v.active, ScrollY: v.scrollY, Elements: els}
}

// ElementIDs returns the ids written so far, sorted.
func (v *View) ElementIDs() []string {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return slices.Sorted(maps.Keys(v.elements))
}
