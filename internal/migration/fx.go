package migration

import (
	"github.com/smallbiznis/tollgate/internal/config"
	"github.com/smallbiznis/tollgate/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("migrations",
	fx.Invoke(Apply),
)

func Apply(conn *gorm.DB, cfg config.Config, log *zap.Logger) error {
	if !cfg.DBAutoMigrate {
		log.Info("schema migrations disabled")
		return nil
	}

	if !db.IsPostgres(conn) {
		log.Info("applying gorm auto migration", zap.String("dialect", conn.Dialector.Name()))
		return AutoMigrate(conn)
	}

	sqlDB, err := conn.DB()
	if err != nil {
		return err
	}
	log.Info("applying embedded postgres migrations")
	return RunMigrations(sqlDB)
}
