// Package sql persists scan.CheckExecutionRecord values to a relational
// database via GORM, backing the execution-history recorder with durable
// storage beyond the engine's in-memory default. The engine itself never
// imports this package: a host application owns a Store and fans
// scan.EventCheckFinished/EventCheckFailed into it from a scan.Runner.OnAny
// handler.
package sql

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/glebarez/sqlite"

	"github.com/caido-community/scanner/config"
	"github.com/caido-community/scanner/internal/database"
	"github.com/caido-community/scanner/scan"
)

// checkExecutionRow is the GORM model behind check_execution_records.
type checkExecutionRow struct {
	ID              uint `gorm:"primaryKey"`
	ScanID          string
	CheckID         string `gorm:"index"`
	TargetRequestID string `gorm:"index"`
	Status          string
	ErrorCode       string
	ErrorMessage    string
	StartedAt       time.Time
	FinishedAt      time.Time
	Steps           []stepExecutionRow `gorm:"foreignKey:CheckExecutionRecordID;constraint:OnDelete:CASCADE"`
}

func (checkExecutionRow) TableName() string { return "check_execution_records" }

// stepExecutionRow is the GORM model behind step_execution_records.
type stepExecutionRow struct {
	ID                      uint `gorm:"primaryKey"`
	CheckExecutionRecordID  uint `gorm:"index"`
	StepName                string
	Status                  string
	Findings                string `gorm:"type:text"`
	Error                   string
	StartedAt               time.Time
	FinishedAt              time.Time
}

func (stepExecutionRow) TableName() string { return "step_execution_records" }

// Store is a durable sink for execution history records, backed by a
// PoolManager-managed GORM connection.
type Store struct {
	pool   *database.PoolManager
	logger *zap.Logger
}

// Open connects to the database described by cfg and returns a ready Store.
// It does not run migrations; pair it with internal/migration before first
// use.
func Open(cfg config.DatabaseConfig, poolCfg database.PoolConfig, logger *zap.Logger) (*Store, error) {
	dialector, err := dialectorFor(cfg)
	if err != nil {
		return nil, err
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: newGormLogger(logger),
	})
	if err != nil {
		return nil, fmt.Errorf("open %s database: %w", cfg.Driver, err)
	}

	pool, err := database.NewPoolManager(db, poolCfg, logger)
	if err != nil {
		return nil, fmt.Errorf("build pool manager: %w", err)
	}

	return &Store{pool: pool, logger: logger.With(zap.String("component", "historystore_sql"))}, nil
}

func dialectorFor(cfg config.DatabaseConfig) (gorm.Dialector, error) {
	switch cfg.Driver {
	case "postgres":
		return postgres.Open(cfg.DSN()), nil
	case "mysql":
		return mysql.Open(cfg.DSN()), nil
	case "sqlite":
		return sqlite.Open(cfg.DSN()), nil
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
}

func newGormLogger(zl *zap.Logger) logger.Interface {
	return logger.New(
		zapWriter{zl},
		logger.Config{
			SlowThreshold: 200 * time.Millisecond,
			LogLevel:      logger.Warn,
		},
	)
}

// zapWriter adapts *zap.Logger to gorm's logger.Writer interface.
type zapWriter struct{ logger *zap.Logger }

func (w zapWriter) Printf(format string, args ...any) {
	w.logger.Sugar().Debugf(format, args...)
}

// Record persists one check execution record, including its step history.
func (s *Store) Record(ctx context.Context, scanID string, rec scan.CheckExecutionRecord) error {
	row := checkExecutionRow{
		ScanID:          scanID,
		CheckID:         rec.CheckID,
		TargetRequestID: rec.TargetRequestID,
		Status:          string(rec.Status),
		ErrorCode:       string(rec.ErrorCode),
		ErrorMessage:    rec.ErrorMessage,
		StartedAt:       rec.StartedAt,
		FinishedAt:      rec.FinishedAt,
	}

	for _, step := range rec.Steps {
		findingsJSON, err := json.Marshal(step.Findings)
		if err != nil {
			return fmt.Errorf("marshal findings for step %q: %w", step.StepName, err)
		}
		row.Steps = append(row.Steps, stepExecutionRow{
			StepName:   step.StepName,
			Status:     string(step.Status),
			Findings:   string(findingsJSON),
			Error:      step.Error,
			StartedAt:  step.StartedAt,
			FinishedAt: step.FinishedAt,
		})
	}

	return s.pool.DB().WithContext(ctx).Create(&row).Error
}

// ByTarget returns every recorded execution for one target request ID,
// most recent first.
func (s *Store) ByTarget(ctx context.Context, targetRequestID string) ([]scan.CheckExecutionRecord, error) {
	var rows []checkExecutionRow
	err := s.pool.DB().WithContext(ctx).
		Preload("Steps").
		Where("target_request_id = ?", targetRequestID).
		Order("started_at DESC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return toRecords(rows), nil
}

func toRecords(rows []checkExecutionRow) []scan.CheckExecutionRecord {
	records := make([]scan.CheckExecutionRecord, 0, len(rows))
	for _, row := range rows {
		rec := scan.CheckExecutionRecord{
			CheckID:         row.CheckID,
			TargetRequestID: row.TargetRequestID,
			Status:          scan.CheckStatus(row.Status),
			ErrorCode:       scan.ErrorCode(row.ErrorCode),
			ErrorMessage:    row.ErrorMessage,
			StartedAt:       row.StartedAt,
			FinishedAt:      row.FinishedAt,
		}
		for _, step := range row.Steps {
			var findings []scan.Finding
			_ = json.Unmarshal([]byte(step.Findings), &findings)
			rec.Steps = append(rec.Steps, scan.StepExecutionRecord{
				StepName:   step.StepName,
				Status:     scan.StepStatus(step.Status),
				Findings:   findings,
				Error:      step.Error,
				StartedAt:  step.StartedAt,
				FinishedAt: step.FinishedAt,
			})
		}
		records = append(records, rec)
	}
	return records
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	return s.pool.Close()
}
