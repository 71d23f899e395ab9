package database

import (
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"careflow/internal/config"
	"careflow/internal/domain"
	"careflow/internal/domain/appointment"
)

func Connect(cfg config.DatabaseConfig) (*gorm.DB, error) {
	gormCfg := &gorm.Config{
		Logger:      gormlogger.Default.LogMode(gormlogger.Silent),
		PrepareStmt: true,
	}

	db, err := gorm.Open(postgres.New(postgres.Config{
		DSN: cfg.DSN(),
	}), gormCfg)
	if err != nil {
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("getting underlying sql.DB: %w", err)
	}

	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	sqlDB.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	return db, nil
}

func Migrate(db *gorm.DB, log *zap.Logger) error {
	log.Info("running database migrations")
	start := time.Now()

	schemas := []string{"scheduling", "auth", "audit"}
	for _, schema := range schemas {
		if err := db.Exec(fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s", schema)).Error; err != nil {
			return fmt.Errorf("creating schema %s: %w", schema, err)
		}
	}

	models := []any{
		&domain.User{},
		&domain.AuditLog{},
		&appointment.Appointment{},
	}

	if err := db.AutoMigrate(models...); err != nil {
		return fmt.Errorf("auto-migrating models: %w", err)
	}

	if err := createIndexes(db); err != nil {
		return fmt.Errorf("creating indexes: %w", err)
	}

	if err := createExclusionConstraints(db); err != nil {
		return fmt.Errorf("creating exclusion constraints: %w", err)
	}

	log.Info("migrations completed", zap.Duration("duration", time.Since(start)))
	return nil
}

func createIndexes(db *gorm.DB) error {
	indexes := []string{
		// Conflict scans only ever look at rows that block a slot.
		`CREATE INDEX IF NOT EXISTS idx_appointments_doctor_active
		   ON scheduling.appointments (doctor_id, scheduled_start, scheduled_end)
		   WHERE deleted_at IS NULL AND status NOT IN ('cancelled', 'no_show')`,
		`CREATE INDEX IF NOT EXISTS idx_appointments_patient_active
		   ON scheduling.appointments (patient_id, scheduled_start, scheduled_end)
		   WHERE deleted_at IS NULL AND status NOT IN ('cancelled', 'no_show')`,
		`CREATE INDEX IF NOT EXISTS idx_appointments_time_range
		   ON scheduling.appointments (scheduled_start, status)
		   WHERE deleted_at IS NULL`,
	}

	for _, q := range indexes {
		if err := db.Exec(q).Error; err != nil {
			return err
		}
	}
	return nil
}

// createExclusionConstraints installs range exclusion over (party,
// active interval). The advisory locks in the repository already
// serialize bookings; these constraints make double-booking impossible
// even for writers that bypass the repository.
func createExclusionConstraints(db *gorm.DB) error {
	if err := db.Exec("CREATE EXTENSION IF NOT EXISTS btree_gist").Error; err != nil {
		return err
	}

	constraints := []string{
		`ALTER TABLE scheduling.appointments
		   ADD CONSTRAINT appointments_doctor_no_overlap
		   EXCLUDE USING gist (doctor_id WITH =, tstzrange(scheduled_start, scheduled_end) WITH &&)
		   WHERE (deleted_at IS NULL AND status NOT IN ('cancelled', 'no_show'))`,
		`ALTER TABLE scheduling.appointments
		   ADD CONSTRAINT appointments_patient_no_overlap
		   EXCLUDE USING gist (patient_id WITH =, tstzrange(scheduled_start, scheduled_end) WITH &&)
		   WHERE (deleted_at IS NULL AND status NOT IN ('cancelled', 'no_show'))`,
	}

	for _, q := range constraints {
		if err := db.Exec(q).Error; err != nil {
			// ADD CONSTRAINT has no IF NOT EXISTS; tolerate reruns.
			if strings.Contains(err.Error(), "already exists") {
				continue
			}
			return err
		}
	}
	return nil
}
