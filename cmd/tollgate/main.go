package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/tollgate/internal/audit"
	"github.com/smallbiznis/tollgate/internal/clock"
	"github.com/smallbiznis/tollgate/internal/config"
	"github.com/smallbiznis/tollgate/internal/entitlement"
	"github.com/smallbiznis/tollgate/internal/flag"
	"github.com/smallbiznis/tollgate/internal/joblock"
	"github.com/smallbiznis/tollgate/internal/meteringcycle"
	"github.com/smallbiznis/tollgate/internal/migration"
	"github.com/smallbiznis/tollgate/internal/notification"
	"github.com/smallbiznis/tollgate/internal/observability"
	"github.com/smallbiznis/tollgate/internal/plan"
	"github.com/smallbiznis/tollgate/internal/ratelimit"
	"github.com/smallbiznis/tollgate/internal/scheduler"
	"github.com/smallbiznis/tollgate/internal/server"
	"github.com/smallbiznis/tollgate/internal/subscription"
	"github.com/smallbiznis/tollgate/internal/usage"
	"github.com/smallbiznis/tollgate/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		migration.Module,

		plan.Module,
		audit.Module,
		flag.Module,
		subscription.Module,
		entitlement.Module,
		usage.Module,
		notification.Module,
		joblock.Module,
		meteringcycle.Module,
		ratelimit.Module,

		scheduler.Module,
		server.Module,
	)
	app.Run()
}

func RegisterSnowflake(cfg config.Config) (*snowflake.Node, error) {
	return snowflake.NewNode(cfg.SnowflakeNode)
}
