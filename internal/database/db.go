package database

import (
	"fmt"
	"log"
	"net/url"
	"strings"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	_ "modernc.org/sqlite"
)

const (
	DEFAULT_JOURNAL_MODE = "WAL"
	DEFAULT_BUSY_TIMEOUT = 5 * time.Second
	DEFAULT_SLOW_QUERY   = 200 * time.Millisecond
)

// JOURNAL_MODES lists the sqlite journal modes accepted in Config
var JOURNAL_MODES = []string{"WAL", "DELETE", "TRUNCATE", "PERSIST", "MEMORY", "OFF"}

// Config holds database configuration
type Config struct {
	Path        string        // SQLite database file
	JournalMode string        // one of JOURNAL_MODES, WAL when empty
	BusyTimeout time.Duration // lock wait before SQLITE_BUSY
	SlowQuery   time.Duration // statements slower than this are logged
	Debug       bool          // log every statement
}

func (c Config) withDefaults() Config {
	if c.JournalMode == "" {
		c.JournalMode = DEFAULT_JOURNAL_MODE
	}
	c.JournalMode = strings.ToUpper(c.JournalMode)
	if c.BusyTimeout <= 0 {
		c.BusyTimeout = DEFAULT_BUSY_TIMEOUT
	}
	if c.SlowQuery <= 0 {
		c.SlowQuery = DEFAULT_SLOW_QUERY
	}
	return c
}

// IsJournalMode reports whether mode is a journal mode sqlite accepts
func IsJournalMode(mode string) bool {
	for _, m := range JOURNAL_MODES {
		if strings.EqualFold(m, mode) {
			return true
		}
	}
	return false
}

// pragmas are applied by the driver to every pooled connection
func (c Config) pragmas() []string {
	synchronous := "FULL"
	if c.JournalMode == "WAL" {
		synchronous = "NORMAL"
	}
	return []string{
		fmt.Sprintf("journal_mode(%s)", c.JournalMode),
		fmt.Sprintf("synchronous(%s)", synchronous),
		fmt.Sprintf("busy_timeout(%d)", c.BusyTimeout.Milliseconds()),
		"foreign_keys(1)",
	}
}

// DSN returns the driver data source name for the configuration
func (c Config) DSN() string {
	c = c.withDefaults()
	q := url.Values{}
	for _, p := range c.pragmas() {
		q.Add("_pragma", p)
	}
	return c.Path + "?" + q.Encode()
}

func (c Config) gormLogger(l *log.Logger) logger.Interface {
	if l == nil {
		return logger.Default.LogMode(logger.Silent)
	}

	level := logger.Warn
	if c.Debug {
		level = logger.Info
	}
	return logger.New(l, logger.Config{
		SlowThreshold:             c.SlowQuery,
		LogLevel:                  level,
		IgnoreRecordNotFoundError: true,
		Colorful:                  false,
	})
}

// DB wraps the GORM database instance
type DB struct {
	db     *gorm.DB
	config Config
}

// NewDB opens the database with the pure Go SQLite driver and migrates
// the schema
func NewDB(config Config, log *log.Logger) (*DB, error) {
	if config.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}
	if config.JournalMode != "" && !IsJournalMode(config.JournalMode) {
		return nil, fmt.Errorf("unknown journal mode %q", config.JournalMode)
	}
	config = config.withDefaults()

	dialector := sqlite.Dialector{
		DriverName: "sqlite",
		DSN:        config.DSN(),
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: config.gormLogger(log),
	})
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", config.Path, err)
	}

	if err := db.AutoMigrate(&Radio{}, &FirmwareRequirement{}, &Session{}); err != nil {
		return nil, fmt.Errorf("migrate %s: %w", config.Path, err)
	}

	if log != nil {
		log.Printf("[INFO] Database: initialized %s (journal %s, busy timeout %v)",
			config.Path, config.JournalMode, config.BusyTimeout)
	}

	return &DB{db: db, config: config}, nil
}

// Config returns the effective configuration, defaults applied
func (db *DB) Config() Config {
	return db.config
}

// GetDB returns the underlying GORM database instance
func (db *DB) GetDB() *gorm.DB {
	return db.db
}

// Close closes the database connection
func (db *DB) Close() error {
	sqlDB, err := db.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Health checks if the database connection is healthy
func (db *DB) Health() error {
	sqlDB, err := db.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Ping()
}
