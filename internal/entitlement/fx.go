package entitlement

import (
	"github.com/smallbiznis/tollgate/internal/entitlement/domain"
	"github.com/smallbiznis/tollgate/internal/entitlement/repository"
	"github.com/smallbiznis/tollgate/internal/entitlement/service"
	"go.uber.org/fx"
)

var Module = fx.Module("entitlement.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
	fx.Provide(func(svc domain.Service) domain.Checker { return svc }),
)
