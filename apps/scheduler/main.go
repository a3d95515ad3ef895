package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/tollgate/internal/audit"
	"github.com/smallbiznis/tollgate/internal/clock"
	"github.com/smallbiznis/tollgate/internal/config"
	"github.com/smallbiznis/tollgate/internal/joblock"
	"github.com/smallbiznis/tollgate/internal/meteringcycle"
	"github.com/smallbiznis/tollgate/internal/notification"
	"github.com/smallbiznis/tollgate/internal/observability"
	"github.com/smallbiznis/tollgate/internal/plan"
	"github.com/smallbiznis/tollgate/internal/scheduler"
	"github.com/smallbiznis/tollgate/internal/subscription"
	"github.com/smallbiznis/tollgate/internal/usage"
	"github.com/smallbiznis/tollgate/pkg/db"
	"go.uber.org/fx"
)

// The standalone scheduler runs the usage cycle without serving HTTP. Run
// several replicas only with REDIS_ADDR set so the cycle lock is shared.
func main() {
	app := fx.New(
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,

		plan.Module,
		audit.Module,
		subscription.Module,
		usage.Module,
		notification.Module,
		joblock.Module,
		meteringcycle.Module,

		// No server module!
		scheduler.Module,
	)
	app.Run()
}

func RegisterSnowflake(cfg config.Config) (*snowflake.Node, error) {
	return snowflake.NewNode(cfg.SnowflakeNode)
}
