package repository

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"

	"github.com/core-coin/speculum/internal/models"
	"github.com/core-coin/speculum/pkg/logger"
)

// Domains lists every marketplace vertical with its own tables.
var Domains = []models.Domain{models.DomainNotifier, models.DomainStorage}

type PostgresDB struct {
	logger *logger.Logger

	Conn *gorm.DB
}

func NewPostgresDB(user, password, dbname, host string, port int, logger *logger.Logger) (*PostgresDB, error) {
	dsn := fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%d sslmode=disable",
		host, user, password, dbname, port)

	// Configure GORM logger to suppress "record not found" messages
	gormLogger := gormLogger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		gormLogger.Config{
			SlowThreshold:             200 * time.Millisecond,
			LogLevel:                  gormLogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  true,
		},
	)
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: gormLogger})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL: %s", err)
	}

	repo, err := NewDB(db, logger)
	if err != nil {
		return nil, err
	}
	logger.Info("Successfully connected to PostgreSQL!")
	return repo, nil
}

// NewDB wraps an open gorm connection and migrates the schema.
func NewDB(db *gorm.DB, logger *logger.Logger) (*PostgresDB, error) {
	if err := Migrate(db); err != nil {
		return nil, err
	}
	return &PostgresDB{Conn: db, logger: logger}, nil
}

// Migrate creates or updates every table, including one stake table per domain.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&models.Rate{},
		&models.Provider{},
		&models.Plan{},
		&models.Channel{},
		&models.Price{},
		&models.Subscription{},
		&models.StorageOffer{},
		&models.BillingPrice{},
		&models.EventCursor{},
	); err != nil {
		return fmt.Errorf("failed to auto-migrate models: %s", err)
	}
	for _, domain := range Domains {
		if err := db.Table(StakeTable(domain)).AutoMigrate(&models.Stake{}); err != nil {
			return fmt.Errorf("failed to auto-migrate %s stakes: %s", domain, err)
		}
	}
	return nil
}

func (db *PostgresDB) Close() error {
	sqlDB, err := db.Conn.DB()
	if err != nil {
		return fmt.Errorf("failed to get database connection: %s", err)
	}
	return sqlDB.Close()
}

func (db *PostgresDB) Stakes(domain models.Domain) *StakeRepository {
	return NewStakeRepository(db.Conn, domain)
}

func (db *PostgresDB) Notifier() *NotifierRepository {
	return NewNotifierRepository(db.Conn)
}

func (db *PostgresDB) Storage() *StorageRepository {
	return NewStorageRepository(db.Conn)
}

func (db *PostgresDB) Cursors() *CursorRepository {
	return NewCursorRepository(db.Conn)
}

// Purge removes every row a domain owns. Rates are shared and left alone.
func (db *PostgresDB) Purge(ctx context.Context, domain models.Domain) error {
	var tables []interface{}
	switch domain {
	case models.DomainNotifier:
		tables = []interface{}{&models.Channel{}, &models.Price{}, &models.Plan{}, &models.Subscription{}, &models.Provider{}}
	case models.DomainStorage:
		tables = []interface{}{&models.BillingPrice{}, &models.StorageOffer{}}
	default:
		return fmt.Errorf("unknown domain %q", domain)
	}

	err := db.Conn.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, table := range tables {
			if err := tx.Where("1 = 1").Delete(table).Error; err != nil {
				return fmt.Errorf("failed to purge %T: %w", table, err)
			}
		}
		if err := tx.Table(StakeTable(domain)).Where("1 = 1").Delete(&models.Stake{}).Error; err != nil {
			return fmt.Errorf("failed to purge stakes: %w", err)
		}
		if err := tx.Where("domain = ?", domain).Delete(&models.EventCursor{}).Error; err != nil {
			return fmt.Errorf("failed to reset cursors: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	db.logger.Infow("Purged domain", "domain", domain)
	return nil
}
