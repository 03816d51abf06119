package database

import (
	"database/sql"
	"fmt"
	"path/filepath"
	"runtime"

	"github.com/indecryption/chat-node/internal/utils"
	_ "modernc.org/sqlite"
)

// SQLiteManager handles all database operations
type SQLiteManager struct {
	dir    string
	cm     *utils.ConfigManager
	db     *sql.DB
	logger *utils.LogsManager

	// Specialized managers
	Users    *UserManager
	Otp      *OtpManager
	Contacts *ContactManager
	Messages *MessageManager
}

// NewSQLiteManager creates a new SQLite manager and initializes all tables
func NewSQLiteManager(cm *utils.ConfigManager, logger *utils.LogsManager) (*SQLiteManager, error) {
	paths := utils.GetAppPaths("")
	sqlm := &SQLiteManager{
		dir:    paths.DataDir,
		cm:     cm,
		logger: logger,
	}

	db, err := sqlm.CreateConnection()
	if err != nil {
		return nil, fmt.Errorf("failed to create database connection: %v", err)
	}
	sqlm.db = db

	if err := sqlm.initializeManagers(); err != nil {
		return nil, fmt.Errorf("failed to initialize database managers: %v", err)
	}

	return sqlm, nil
}

// CreateConnection creates and configures the database connection
func (sqlm *SQLiteManager) CreateConnection() (*sql.DB, error) {
	// Make sure we have os specific path separator since we are adding this path to host's path
	dbFileName := sqlm.cm.GetConfigWithDefault("database_file", "./chat-node.db")
	switch runtime.GOOS {
	case "linux", "darwin":
		dbFileName = filepath.ToSlash(dbFileName)
	case "windows":
		dbFileName = filepath.FromSlash(dbFileName)
	default:
		return nil, fmt.Errorf("unsupported OS type `%s`", runtime.GOOS)
	}

	path := filepath.Join(sqlm.dir, dbFileName)

	// Init db connection with settings for concurrent access. The
	// _pragma parameters are applied by the driver on every pooled
	// connection; busy_timeout and foreign_keys are per-connection.
	db, err := sql.Open("sqlite",
		fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)", path))
	if err != nil {
		sqlm.logger.Error(fmt.Sprintf("Can not create database connection. (%s)", err.Error()), "database")
		return nil, err
	}

	// Configure connection pool for concurrent access
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(0)

	if err := ConfigurePragmas(db); err != nil {
		sqlm.logger.Error(err.Error(), "database")
		return nil, err
	}

	return db, nil
}

// ConfigurePragmas applies the connection settings needed for concurrent
// access. The driver ignores pragma-style DSN parameters, so they have to
// be set explicitly after opening.
func ConfigurePragmas(db *sql.DB) error {
	// Explicitly enable foreign key enforcement
	if _, err := db.Exec("PRAGMA foreign_keys = ON;"); err != nil {
		return fmt.Errorf("failed to enable foreign keys: %v", err)
	}

	// Enable WAL mode for better concurrent access
	if _, err := db.Exec("PRAGMA journal_mode = WAL;"); err != nil {
		return fmt.Errorf("failed to enable WAL mode: %v", err)
	}

	// Wait on locks instead of failing with SQLITE_BUSY
	if _, err := db.Exec("PRAGMA busy_timeout = 5000;"); err != nil {
		return fmt.Errorf("failed to set busy timeout: %v", err)
	}

	if _, err := db.Exec("PRAGMA synchronous = NORMAL;"); err != nil {
		return fmt.Errorf("failed to set synchronous mode: %v", err)
	}

	return nil
}

func (sqlm *SQLiteManager) initializeManagers() error {
	var err error

	if sqlm.Users, err = NewUserManager(sqlm.db, sqlm.logger); err != nil {
		return err
	}
	if sqlm.Otp, err = NewOtpManager(sqlm.db, sqlm.logger); err != nil {
		return err
	}
	if sqlm.Contacts, err = NewContactManager(sqlm.db, sqlm.logger); err != nil {
		return err
	}
	if sqlm.Messages, err = NewMessageManager(sqlm.db, sqlm.logger); err != nil {
		return err
	}

	return nil
}

// DB exposes the underlying connection for maintenance tooling
func (sqlm *SQLiteManager) DB() *sql.DB {
	return sqlm.db
}

// Close closes the database connection
func (sqlm *SQLiteManager) Close() error {
	if sqlm.db != nil {
		return sqlm.db.Close()
	}
	return nil
}
