// Package repository implements the engine's store.BlobStore contract on
// top of TimescaleDB, plus a supplemental spatial write-through of each
// session's route for geo-queries: route retention pruning, pgx connection
// pooling, and gobreaker-wrapped calls.
package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sony/gobreaker"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/wkb"
	"go.uber.org/zap"

	"github.com/dogwalking/workout-engine/internal/models"
)

// blobTableName is the key-value table backing the engine's three persisted
// blobs (history, carryover, step_timeline).
const blobTableName = "engine_blobs"

// routeTableName is the plain table storing each session's route as
// WKB-encoded bytes, written alongside (not instead of) the JSON blob —
// it exists purely for spatial queries a presentation layer might run.
const routeTableName = "session_routes"

// defaultBatchSize caps how many route points are encoded into a single
// LineString write.
const defaultBatchSize = 1000

// RetentionConfig controls how long persisted route geometries are kept.
type RetentionConfig struct {
	Enabled bool
	MaxAge  time.Duration
}

// TimescaleRepository is the production store.BlobStore backing: a pgx
// connection pool guarded by a circuit breaker, so a flaky database degrades
// to fast, logged failures instead of blocking the engine's single-writer
// loop.
type TimescaleRepository struct {
	pool      *pgxpool.Pool
	schema    string
	logger    *zap.Logger
	breaker   *gobreaker.CircuitBreaker
	retention RetentionConfig
}

// NewTimescaleRepository connects to TimescaleDB, ensures the schema exists,
// and wraps every call in a circuit breaker: trip after 5 consecutive
// failures, half-open after 30s.
func NewTimescaleRepository(ctx context.Context, dsn, schema string, logger *zap.Logger, retention RetentionConfig) (*TimescaleRepository, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connecting to timescaledb: %w", err)
	}

	r := &TimescaleRepository{pool: pool, schema: schema, logger: logger, retention: retention}

	r.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "timescale-blobstore",
		MaxRequests: 1,
		Interval:    0,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state change", zap.String("breaker", name), zap.String("from", from.String()), zap.String("to", to.String()))
		},
	})

	if err := r.initSchema(ctx); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *TimescaleRepository) initSchema(ctx context.Context) error {
	_, err := r.pool.Exec(ctx, fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s.%s (
			key        TEXT PRIMARY KEY,
			value      BYTEA NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`, r.schema, blobTableName))
	if err != nil {
		return fmt.Errorf("creating blob table: %w", err)
	}

	_, err = r.pool.Exec(ctx, fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s.%s (
			session_id TEXT PRIMARY KEY,
			mode       TEXT NOT NULL,
			route      BYTEA,
			recorded_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`, r.schema, routeTableName))
	if err != nil {
		return fmt.Errorf("creating route table: %w", err)
	}
	return nil
}

// Save implements store.BlobStore. The write goes through the circuit
// breaker; a tripped breaker or query error surfaces as a plain error, which
// the engine's persistence layer reports as an ErrorObserved{persistence_failed}
// and retries on the next save boundary.
func (r *TimescaleRepository) Save(ctx context.Context, key string, value []byte) error {
	_, err := r.breaker.Execute(func() (interface{}, error) {
		_, execErr := r.pool.Exec(ctx, fmt.Sprintf(`
			INSERT INTO %s.%s (key, value, updated_at) VALUES ($1, $2, now())
			ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = now()
		`, r.schema, blobTableName), key, value)
		return nil, execErr
	})
	if err != nil {
		r.logger.Error("blob save failed", zap.String("key", key), zap.Error(err))
		return err
	}
	return nil
}

// Load implements store.BlobStore.
func (r *TimescaleRepository) Load(ctx context.Context, key string) ([]byte, bool, error) {
	var value []byte
	_, err := r.breaker.Execute(func() (interface{}, error) {
		row := r.pool.QueryRow(ctx, fmt.Sprintf(`SELECT value FROM %s.%s WHERE key = $1`, r.schema, blobTableName), key)
		return nil, row.Scan(&value)
	})
	if err != nil {
		if isNoRows(err) {
			return nil, false, nil
		}
		r.logger.Error("blob load failed", zap.String("key", key), zap.Error(err))
		return nil, false, err
	}
	return value, true, nil
}

// Delete implements store.BlobStore.
func (r *TimescaleRepository) Delete(ctx context.Context, key string) error {
	_, err := r.breaker.Execute(func() (interface{}, error) {
		_, execErr := r.pool.Exec(ctx, fmt.Sprintf(`DELETE FROM %s.%s WHERE key = $1`, r.schema, blobTableName), key)
		return nil, execErr
	})
	if err != nil {
		r.logger.Error("blob delete failed", zap.String("key", key), zap.Error(err))
		return err
	}
	return nil
}

// SaveRoute encodes a session's route as a WKB LineString and writes it to
// the route table, purely as a supplemental read path for a
// presentation layer doing map queries — the engine itself never reads this
// back. A route shorter than 2 points is skipped (a LineString needs at
// least two distinct coordinates).
func (r *TimescaleRepository) SaveRoute(ctx context.Context, sessionID string, mode models.Mode, route []models.LocationFix) error {
	if len(route) < 2 {
		return nil
	}
	if len(route) > defaultBatchSize {
		route = route[:defaultBatchSize]
	}

	coords := make([]geom.Coord, len(route))
	for i, fix := range route {
		coords[i] = geom.Coord{fix.Lon, fix.Lat}
	}
	ls := geom.NewLineStringFlat(geom.XY, flatten(coords))

	encoded, err := wkb.Marshal(ls, wkb.NDR)
	if err != nil {
		return fmt.Errorf("encoding route geometry: %w", err)
	}

	_, err = r.breaker.Execute(func() (interface{}, error) {
		_, execErr := r.pool.Exec(ctx, fmt.Sprintf(`
			INSERT INTO %s.%s (session_id, mode, route, recorded_at) VALUES ($1, $2, $3, now())
			ON CONFLICT (session_id) DO UPDATE SET route = EXCLUDED.route, recorded_at = now()
		`, r.schema, routeTableName), sessionID, mode.String(), encoded)
		return nil, execErr
	})
	if err != nil {
		r.logger.Error("route save failed", zap.String("session_id", sessionID), zap.Error(err))
		return err
	}
	return nil
}

// PruneRoutes deletes route geometries older than the configured retention
// window.
func (r *TimescaleRepository) PruneRoutes(ctx context.Context) error {
	if !r.retention.Enabled || r.retention.MaxAge <= 0 {
		return nil
	}
	cutoff := time.Now().UTC().Add(-r.retention.MaxAge)
	_, err := r.pool.Exec(ctx, fmt.Sprintf(`DELETE FROM %s.%s WHERE recorded_at < $1`, r.schema, routeTableName), cutoff)
	return err
}

// Close releases the connection pool.
func (r *TimescaleRepository) Close() {
	r.pool.Close()
}

func flatten(coords []geom.Coord) []float64 {
	out := make([]float64, 0, len(coords)*2)
	for _, c := range coords {
		out = append(out, c[0], c[1])
	}
	return out
}

func isNoRows(err error) bool {
	return err != nil && err.Error() == "no rows in result set"
}
