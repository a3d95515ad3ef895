package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// PlanSpec is one plan entry of plans.yml.
type PlanSpec struct {
	ID       string           `mapstructure:"id"`
	Name     string           `mapstructure:"name"`
	Features []string         `mapstructure:"features"`
	Limits   map[string]int64 `mapstructure:"limits"`
}

func DefaultPlans() []PlanSpec {
	return []PlanSpec{
		{
			ID:       "free",
			Name:     "Free",
			Features: []string{"basic_reports"},
			Limits:   map[string]int64{"api_calls": 1_000, "seats": 3},
		},
		{
			ID:       "pro",
			Name:     "Pro",
			Features: []string{"basic_reports", "advanced_reports", "api_access"},
			Limits:   map[string]int64{"api_calls": 50_000, "seats": 25},
		},
		{
			ID:       "enterprise",
			Name:     "Enterprise",
			Features: []string{"basic_reports", "advanced_reports", "api_access", "sso", "audit_export"},
			Limits:   map[string]int64{"api_calls": -1, "seats": -1},
		},
		{
			ID:       "custom",
			Name:     "Custom",
			Features: []string{"basic_reports", "advanced_reports", "api_access", "sso", "audit_export"},
			Limits:   map[string]int64{"api_calls": -1, "seats": -1},
		},
	}
}

type PlanCatalogHolder struct {
	current atomic.Value // holds []PlanSpec
	log     *zap.Logger
}

// NewPlanCatalogHolder reads plans.yml and keeps it hot-reloaded. An explicit
// PlanConfigPath must exist; otherwise the search paths are tried and the
// built-in catalog is used when nothing is found.
func NewPlanCatalogHolder(cfg Config, log *zap.Logger) (*PlanCatalogHolder, error) {
	holder := &PlanCatalogHolder{log: log.Named("config.plans")}

	v := viper.New()
	if cfg.PlanConfigPath != "" {
		if _, err := os.Stat(cfg.PlanConfigPath); err != nil {
			return nil, fmt.Errorf("read plan catalog: %w", err)
		}
		v.SetConfigFile(cfg.PlanConfigPath)
	} else {
		v.SetConfigName("plans")
		v.SetConfigType("yml")
		v.AddConfigPath("/etc/tollgate")
		v.AddConfigPath(".")
	}
	v.SetEnvPrefix("TOLLGATE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read plan catalog: %w", err)
		}
		holder.log.Info("plan catalog file not found, using defaults")
		holder.current.Store(DefaultPlans())
		return holder, nil
	}

	plans, err := decodePlans(v)
	if err != nil {
		return nil, err
	}
	holder.current.Store(plans)

	v.OnConfigChange(func(e fsnotify.Event) {
		holder.reload(v, e.Name)
	})
	v.WatchConfig()

	return holder, nil
}

// NewStaticPlanCatalogHolder serves a fixed catalog.
func NewStaticPlanCatalogHolder(plans []PlanSpec) *PlanCatalogHolder {
	holder := &PlanCatalogHolder{log: zap.NewNop()}
	holder.current.Store(plans)
	return holder
}

func (h *PlanCatalogHolder) Get() []PlanSpec {
	return h.current.Load().([]PlanSpec)
}

func (h *PlanCatalogHolder) reload(v *viper.Viper, source string) {
	updated, err := decodePlans(v)
	if err != nil {
		h.log.Warn("invalid plan catalog ignored", zap.String("source", source), zap.Error(err))
		return
	}
	h.current.Store(updated)
	h.log.Info("plan catalog reloaded", zap.String("source", source), zap.Int("plans", len(updated)))
}

func decodePlans(v *viper.Viper) ([]PlanSpec, error) {
	var plans []PlanSpec
	if err := v.UnmarshalKey("plans", &plans); err != nil {
		return nil, fmt.Errorf("decode plan catalog: %w", err)
	}
	if err := ValidatePlans(plans); err != nil {
		return nil, err
	}
	return plans, nil
}

func ValidatePlans(plans []PlanSpec) error {
	if len(plans) == 0 {
		return errors.New("plans cannot be empty")
	}
	seen := make(map[string]struct{}, len(plans))
	for _, p := range plans {
		id := strings.TrimSpace(p.ID)
		if id == "" {
			return errors.New("plan id is required")
		}
		if _, ok := seen[id]; ok {
			return fmt.Errorf("duplicate plan id %q", id)
		}
		seen[id] = struct{}{}
	}
	return nil
}
