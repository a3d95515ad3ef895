package migration

import (
	"database/sql"
	"errors"
	"fmt"
	"io/fs"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	auditdomain "github.com/smallbiznis/tollgate/internal/audit/domain"
	entitlementdomain "github.com/smallbiznis/tollgate/internal/entitlement/domain"
	flagdomain "github.com/smallbiznis/tollgate/internal/flag/domain"
	notificationdomain "github.com/smallbiznis/tollgate/internal/notification/domain"
	subscriptiondomain "github.com/smallbiznis/tollgate/internal/subscription/domain"
	usagedomain "github.com/smallbiznis/tollgate/internal/usage/domain"
	"gorm.io/gorm"
)

// Models lists every table owned by the engine.
func Models() []any {
	return []any{
		&flagdomain.FeatureFlag{},
		&subscriptiondomain.Subscription{},
		&entitlementdomain.Override{},
		&usagedomain.UsageEvent{},
		&notificationdomain.NotificationTask{},
		&auditdomain.AuditLog{},
	}
}

// RunMigrations applies the embedded postgres migrations.
func RunMigrations(db *sql.DB) error {
	if db == nil {
		return errors.New("migration database handle is required")
	}

	sub, err := fs.Sub(embeddedMigrations, migrationsDir)
	if err != nil {
		return fmt.Errorf("open migrations: %w", err)
	}

	source, err := iofs.New(sub, ".")
	if err != nil {
		return fmt.Errorf("create migration source: %w", err)
	}

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("create migration driver: %w", err)
	}

	migrator, err := migrate.NewWithInstance("iofs", source, "postgres", driver)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}

	upErr := migrator.Up()
	if upErr != nil && !errors.Is(upErr, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", upErr)
	}
	// migrator.Close would close the shared *sql.DB

	return nil
}

// AutoMigrate creates the schema from the gorm models. It serves the sqlite
// and mysql dialects, which the embedded SQL does not target.
func AutoMigrate(conn *gorm.DB) error {
	if err := conn.AutoMigrate(Models()...); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	return nil
}
