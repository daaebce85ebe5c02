package store

import (
	"context"
	"fmt"

	adb "github.com/qiniu/watchtower/internal/alerting/database"
	"github.com/qiniu/watchtower/internal/config"
	"github.com/rs/zerolog/log"
)

// Open builds the Store selected by the database config. The returned close
// function releases the connection pool; it is a no-op for the memory store.
func Open(ctx context.Context, c *config.DatabaseConfig) (Store, func() error, error) {
	if c.Driver == "memory" {
		log.Warn().Msg("using in-memory store; state is lost on restart")
		return NewMemStore(), func() error { return nil }, nil
	}
	db, err := adb.New(adb.DSN(c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode))
	if err != nil {
		return nil, nil, fmt.Errorf("open database: %w", err)
	}
	if c.Migrate {
		if err := db.Migrate(ctx); err != nil {
			_ = db.Close()
			return nil, nil, fmt.Errorf("migrate database: %w", err)
		}
	}
	log.Info().Str("host", c.Host).Int("port", c.Port).Str("dbname", c.DBName).Msg("connected to postgres")
	return NewPgStore(db), db.Close, nil
}
