package database

import (
	"fmt"
	"time"

	"medsales/internal/model"
	"medsales/pkg/config"

	"github.com/sirupsen/logrus"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// Models lists every table owned by the service, in migration order.
func Models() []interface{} {
	return []interface{}{
		&model.User{},
		&model.Permission{},
		&model.Role{},
		&model.UserRole{},
		&model.UserPermission{},
		&model.Product{},
		&model.ProductInventory{},
		&model.ProductInventoryTransaction{},
		&model.Case{},
		&model.CaseProduct{},
		&model.ProductUsage{},
		&model.CaseNote{},
		&model.CaseStatusHistory{},
		&model.CaseDocument{},
		&model.CaseFollowup{},
		&model.AuditLog{},
	}
}

func dialector(cfg config.DatabaseConfig) (gorm.Dialector, error) {
	switch cfg.Driver {
	case "postgres", "":
		return postgres.Open(cfg.DSN()), nil
	case "mysql":
		return mysql.Open(cfg.DSN()), nil
	case "sqlite":
		return sqlite.Open(cfg.DSN()), nil
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
}

// GormConfig is shared by the server and tests. Duplicate-key errors are translated to gorm.ErrDuplicatedKey.
func GormConfig(log gormlogger.Interface) *gorm.Config {
	return &gorm.Config{
		Logger:                                   log,
		TranslateError:                           true,
		DisableForeignKeyConstraintWhenMigrating: true,
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// NewConnection opens the configured database and migrates the schema
func NewConnection(cfg config.DatabaseConfig, log *logrus.Logger) (*gorm.DB, error) {
	dial, err := dialector(cfg)
	if err != nil {
		return nil, err
	}

	gormLog := gormlogger.New(log, gormlogger.Config{
		SlowThreshold:             200 * time.Millisecond,
		LogLevel:                  gormlogger.Warn,
		IgnoreRecordNotFoundError: true,
	})

	db, err := gorm.Open(dial, GormConfig(gormLog))
	if err != nil {
		return nil, fmt.Errorf("failed to open %s database: %w", cfg.Driver, err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	if cfg.Driver == "sqlite" {
		sqlDB.SetMaxOpenConns(1)
	} else {
		sqlDB.SetMaxOpenConns(cfg.MaxOpen)
		sqlDB.SetMaxIdleConns(cfg.MaxIdle)
	}

	if err := db.AutoMigrate(Models()...); err != nil {
		log.WithError(err).Warn("failed to auto-migrate models")
	}

	return db, nil
}
