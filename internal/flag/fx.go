package flag

import (
	"github.com/smallbiznis/tollgate/internal/flag/repository"
	"github.com/smallbiznis/tollgate/internal/flag/service"
	"go.uber.org/fx"
)

var Module = fx.Module("flag.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
)
