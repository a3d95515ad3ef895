package plan

import (
	"github.com/smallbiznis/tollgate/internal/config"
	"github.com/smallbiznis/tollgate/internal/plan/service"
	"go.uber.org/fx"
)

var Module = fx.Module("plan.catalog",
	fx.Provide(config.NewPlanCatalogHolder),
	fx.Provide(service.New),
)
