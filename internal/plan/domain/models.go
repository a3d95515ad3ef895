package domain

import "strings"

// Unlimited is the limit sentinel for features without a finite quota.
const Unlimited int64 = -1

type Plan struct {
	ID       string           `json:"id"`
	Name     string           `json:"name"`
	Features []string         `json:"features"`
	Limits   map[string]int64 `json:"limits"`
}

func (p Plan) HasFeature(key string) bool {
	key = strings.ToLower(strings.TrimSpace(key))
	for _, f := range p.Features {
		if strings.ToLower(strings.TrimSpace(f)) == key {
			return true
		}
	}
	return false
}

// Limit returns the finite quota for a feature. Absent, unlimited and zero
// limits report false because there is nothing to compare usage against.
func (p Plan) Limit(key string) (int64, bool) {
	limit, ok := p.Limits[strings.ToLower(strings.TrimSpace(key))]
	if !ok || limit <= 0 {
		return 0, false
	}
	return limit, true
}

// FiniteLimits returns every feature with a positive quota.
func (p Plan) FiniteLimits() map[string]int64 {
	out := make(map[string]int64, len(p.Limits))
	for key, limit := range p.Limits {
		if limit > 0 {
			out[strings.ToLower(strings.TrimSpace(key))] = limit
		}
	}
	return out
}

// Catalog is read on every request so reloads take effect immediately.
type Catalog interface {
	Plan(id string) (Plan, bool)
	Plans() []Plan
}
