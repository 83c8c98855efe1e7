package daemon

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const (
	driverPostgres = "postgres"
	driverMySQL    = "mysql"
	driverSQLite   = "sqlite"

	memoryDatabaseURL = "memory://"
	mysqlScheme       = "mysql://"
	defaultSQLiteFile = "laundromat.db"
)

// databaseTarget is a resolved connection: the gorm driver name and the
// DSN that driver expects.
type databaseTarget struct {
	driver string
	dsn    string
}

func openDatabase(ctx context.Context, databaseURL string) (*gorm.DB, func() error, error) {
	target, err := resolveDriver(databaseURL)
	if err != nil {
		return nil, nil, err
	}

	cfg := &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)}
	var db *gorm.DB
	switch target.driver {
	case driverPostgres:
		db, err = gorm.Open(postgres.Open(target.dsn), cfg)
	case driverMySQL:
		db, err = gorm.Open(mysql.Open(target.dsn), cfg)
	case driverSQLite:
		db, err = gorm.Open(sqlite.Open(target.dsn), cfg)
	default:
		return nil, nil, fmt.Errorf("unsupported database scheme %q", target.driver)
	}
	if err != nil {
		return nil, nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, nil, err
	}
	if target.driver == driverSQLite {
		sqlDB.SetMaxOpenConns(1)
	}
	cleanup := func() error { return sqlDB.Close() }
	return db.WithContext(ctx), cleanup, nil
}

func resolveDriver(databaseURL string) (databaseTarget, error) {
	if strings.HasPrefix(databaseURL, "postgres://") || strings.HasPrefix(databaseURL, "postgresql://") {
		return databaseTarget{driver: driverPostgres, dsn: databaseURL}, nil
	}
	if strings.HasPrefix(databaseURL, mysqlScheme) {
		dsn := strings.TrimPrefix(databaseURL, mysqlScheme)
		if dsn == "" {
			return databaseTarget{}, fmt.Errorf("mysql url has no dsn")
		}
		if !strings.Contains(dsn, "parseTime=") {
			separator := "?"
			if strings.Contains(dsn, "?") {
				separator = "&"
			}
			dsn += separator + "parseTime=true"
		}
		return databaseTarget{driver: driverMySQL, dsn: dsn}, nil
	}
	if strings.HasPrefix(databaseURL, "sqlite://") {
		parsed, err := url.Parse(databaseURL)
		if err != nil {
			return databaseTarget{}, fmt.Errorf("parse sqlite url: %w", err)
		}
		path := parsed.Path
		if path == "" {
			path = parsed.Host
		}
		if path == "" || path == "/" {
			path = defaultSQLiteFile
		}
		sqlitePath, err := normalizeSQLitePath(path)
		return databaseTarget{driver: driverSQLite, dsn: sqlitePath}, err
	}
	// Treat everything else as a direct sqlite path.
	sqlitePath, err := normalizeSQLitePath(databaseURL)
	return databaseTarget{driver: driverSQLite, dsn: sqlitePath}, err
}

func normalizeSQLitePath(path string) (string, error) {
	if path == ":memory:" || strings.HasPrefix(path, "file:") {
		return path, nil
	}
	if strings.HasPrefix(path, "/") {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return "", err
		}
		return path, nil
	}
	abs := filepath.Join(".", path)
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return "", err
	}
	return abs, nil
}
