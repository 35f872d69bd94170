// Package attribution captures campaign tags from the landing URL, keeps
// them per visitor and appends them to the checkout link.
package attribution

import (
	"context"
	"net/url"
	"strings"
	"sync"

	"github.com/rotisserie/eris"
)

// Keys are the query parameters worth keeping, in checkout order.
var Keys = []string{"utm_source", "utm_medium", "utm_campaign", "utm_content", "utm_term", "fbclid"}

// ProfileParam carries the diagnosed profile name to the checkout page.
const ProfileParam = "perfil"

// KV persists tags per visitor. store.Store satisfies it.
type KV interface {
	SetAttribution(ctx context.Context, visitorID string, tags map[string]string) error
	GetAttribution(ctx context.Context, visitorID string) (map[string]string, error)
}

// Capture stores every tracked key present in query, overwriting earlier
// values. A key present with an empty value is stored empty. Other
// parameters are ignored. It returns what was captured.
func Capture(ctx context.Context, kv KV, visitorID string, query url.Values) (map[string]string, error) {
	tags := make(map[string]string)
	for _, k := range Keys {
		if query.Has(k) {
			tags[k] = query.Get(k)
		}
	}
	if len(tags) == 0 {
		return tags, nil
	}
	if err := kv.SetAttribution(ctx, visitorID, tags); err != nil {
		return nil, eris.Wrap(err, "attribution: capture")
	}
	return tags, nil
}

// Stored returns the visitor's non-empty tracked tags.
func Stored(ctx context.Context, kv KV, visitorID string) (map[string]string, error) {
	all, err := kv.GetAttribution(ctx, visitorID)
	if err != nil {
		return nil, eris.Wrap(err, "attribution: load")
	}
	out := make(map[string]string, len(Keys))
	for _, k := range Keys {
		if v := all[k]; v != "" {
			out[k] = v
		}
	}
	return out, nil
}

// CheckoutURL appends tags (in Keys order) and the profile to base. Any
// query already on base is kept in front. Values are form encoded.
func CheckoutURL(base string, tags map[string]string, profile string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", eris.Wrapf(err, "attribution: parse checkout url %q", base)
	}
	if !u.IsAbs() {
		return "", eris.Errorf("attribution: checkout url %q is not absolute", base)
	}

	parts := make([]string, 0, len(Keys)+2)
	if u.RawQuery != "" {
		parts = append(parts, u.RawQuery)
	}
	for _, k := range Keys {
		if v := tags[k]; v != "" {
			parts = append(parts, k+"="+url.QueryEscape(v))
		}
	}
	parts = append(parts, ProfileParam+"="+url.QueryEscape(profile))
	u.RawQuery = strings.Join(parts, "&")
	return u.String(), nil
}

// Memory is an in-process KV used by simulations and tests.
type Memory struct {
	mu   sync.Mutex
	tags map[string]map[string]string
}

// NewMemory returns an empty Memory.
func NewMemory() *Memory {
	return &Memory{tags: make(map[string]map[string]string)}
}

func (m *Memory) SetAttribution(_ context.Context, visitorID string, tags map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur := m.tags[visitorID]
	if cur == nil {
		cur = make(map[string]string, len(tags))
		m.tags[visitorID] = cur
	}
	for k, v := range tags {
		cur[k] = v
	}
	return nil
}

func (m *Memory) GetAttribution(_ context.Context, visitorID string) (map[string]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]string, len(m.tags[visitorID]))
	for k, v := range m.tags[visitorID] {
		out[k] = v
	}
	return out, nil
}
