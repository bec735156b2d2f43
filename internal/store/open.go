package store

import (
	"context"
	"fmt"
	"strings"
)

const (
	DriverSQLite   = "sqlite"
	DriverMongo    = "mongo"
	DriverPostgres = "postgres"
)

// Open connects the backend named by driver. database is only used by mongo.
func Open(ctx context.Context, driver, dsn, database string) (Store, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, fmt.Errorf("store %q: dsn is required", driver)
	}
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case DriverSQLite, "":
		return NewSQLite(dsn)
	case DriverMongo, "mongodb":
		return NewMongo(ctx, dsn, database)
	case DriverPostgres, "postgresql", "pg":
		return NewPostgres(ctx, dsn)
	default:
		return nil, fmt.Errorf("unknown store driver %q", driver)
	}
}
