package service

import (
	"strings"

	"github.com/smallbiznis/tollgate/internal/config"
	"github.com/smallbiznis/tollgate/internal/plan/domain"
)

type Catalog struct {
	holder *config.PlanCatalogHolder
}

func New(holder *config.PlanCatalogHolder) domain.Catalog {
	return &Catalog{holder: holder}
}

// NewStatic builds a catalog over a fixed plan list.
func NewStatic(plans ...domain.Plan) domain.Catalog {
	specs := make([]config.PlanSpec, 0, len(plans))
	for _, p := range plans {
		specs = append(specs, config.PlanSpec{ID: p.ID, Name: p.Name, Features: p.Features, Limits: p.Limits})
	}
	return &Catalog{holder: config.NewStaticPlanCatalogHolder(specs)}
}

func (c *Catalog) Plan(id string) (domain.Plan, bool) {
	id = strings.TrimSpace(id)
	for _, spec := range c.holder.Get() {
		if spec.ID == id {
			return toPlan(spec), true
		}
	}
	return domain.Plan{}, false
}

func (c *Catalog) Plans() []domain.Plan {
	specs := c.holder.Get()
	out := make([]domain.Plan, 0, len(specs))
	for _, spec := range specs {
		out = append(out, toPlan(spec))
	}
	return out
}

func toPlan(spec config.PlanSpec) domain.Plan {
	features := make([]string, 0, len(spec.Features))
	for _, f := range spec.Features {
		if f = strings.ToLower(strings.TrimSpace(f)); f != "" {
			features = append(features, f)
		}
	}
	limits := make(map[string]int64, len(spec.Limits))
	for key, limit := range spec.Limits {
		limits[strings.ToLower(strings.TrimSpace(key))] = limit
	}
	name := spec.Name
	if name == "" {
		name = spec.ID
	}
	return domain.Plan{ID: spec.ID, Name: name, Features: features, Limits: limits}
}
