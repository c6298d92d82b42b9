package db

import (
  "fmt"
  "gorm.io/driver/postgres"
  "gorm.io/driver/sqlite"
  "gorm.io/gorm"
  "github.com/genoplot/genoplot-backend/internal/types"
  "github.com/genoplot/genoplot-backend/internal/utils"
  "github.com/genoplot/genoplot-backend/internal/logger"
)

type DBService struct {
  db  *gorm.DB
  log *logger.Logger
}

// NewDBService opens postgres by default, or sqlite when DB_DRIVER=sqlite
// (the sqlite path is what docker-less local runs and tests use).
func NewDBService(log *logger.Logger) (*DBService, error) {
  serviceLog := log.With("service", "DBService")

  driver := utils.GetEnv("DB_DRIVER", "postgres", log)

  var dialector gorm.Dialector
  switch driver {
  case "sqlite":
    sqlitePath := utils.GetEnv("SQLITE_PATH", "genoplot.db", log)
    dialector = sqlite.Open(sqlitePath)
  default:
    postgresHost := utils.GetEnv("POSTGRES_HOST", "localhost", log)
    postgresPort := utils.GetEnv("POSTGRES_PORT", "5432", log)
    postgresUser := utils.GetEnv("POSTGRES_USER", "postgres", log)
    postgresPassword := utils.GetEnv("POSTGRES_PASSWORD", "", log)
    postgresName := utils.GetEnv("POSTGRES_NAME", "genoplot", log)
    dsn := fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable", postgresUser, postgresPassword, postgresHost, postgresPort, postgresName)
    dialector = postgres.Open(dsn)
  }

  log.Info("Connecting to database...", "driver", driver)
  db, err := gorm.Open(dialector, &gorm.Config{
    DisableForeignKeyConstraintWhenMigrating: true,
  })
  if err != nil {
    serviceLog.Error("Failed to connect to database", "driver", driver, "error", err)
    return nil, fmt.Errorf("Failed to connect to database: %w", err)
  }

  return &DBService{db: db, log: serviceLog}, nil
}

func (s *DBService) AutoMigrateAll() error {
  s.log.Info("Auto migrating tables...")
  err := s.db.AutoMigrate(
    &types.Sample{},
    &types.Projection{},
    &types.PanelMember{},
  )
  if err != nil {
    s.log.Error("Auto migration failed", "error", err)
    return err
  }
  return nil
}

func (s *DBService) DB() *gorm.DB {
  return s.db
}
