package database

import (
	"context"
	"database/sql"
	"time"

	"github.com/go-sql-driver/mysql"

	"github.com/iliyamo/studio-booking/internal/config"
)

// DSN builds the driver connection string for dc.
// parseTime=true maps DATETIME/DATE to time.Time and loc=UTC keeps times
// consistent.  clientFoundRows=true makes RowsAffected count matched rows,
// so a conditional UPDATE reports 0 only when its WHERE clause failed.
func DSN(dc config.DBConfig) string {
	mc := mysql.NewConfig()
	mc.User = dc.User
	mc.Passwd = dc.Pass
	mc.Net = "tcp"
	mc.Addr = dc.Host + ":" + dc.Port
	mc.DBName = dc.Name
	mc.ParseTime = true
	mc.Loc = time.UTC
	mc.ClientFoundRows = true
	mc.Params = map[string]string{"charset": "utf8mb4"}
	return mc.FormatDSN()
}

// Open connects to MySQL and verifies the connection.
func Open(dc config.DBConfig) (*sql.DB, error) {
	db, err := sql.Open("mysql", DSN(dc))
	if err != nil {
		return nil, err
	}

	// Pool settings
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(30 * time.Minute)

	// Ping with timeout
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}
