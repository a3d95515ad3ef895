package meteringcycle

import (
	"github.com/smallbiznis/tollgate/internal/meteringcycle/service"
	"go.uber.org/fx"
)

var Module = fx.Module("meteringcycle.service",
	fx.Provide(service.New),
)
