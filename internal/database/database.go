package database

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"strconv"
	"strings"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// Supported drivers
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Database handles video and detection persistence on SQLite or PostgreSQL
type Database struct {
	db      *sql.DB
	dialect *dialect
}

// dialect captures the SQL differences between the supported drivers
type dialect struct {
	name       string
	migrations []string
	// lockVideo reads a video status inside a write transaction
	lockVideo string
	// positional rewrites ? placeholders to $n
	positional bool
}

var sqliteDialect = &dialect{
	name: DriverSQLite,
	migrations: []string{
		`CREATE TABLE IF NOT EXISTS videos (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			filename TEXT NOT NULL,
			filepath TEXT NOT NULL,
			storage_key TEXT NOT NULL DEFAULT '',
			data BLOB,
			size_bytes INTEGER NOT NULL DEFAULT 0,
			upload_date DATETIME NOT NULL,
			status TEXT NOT NULL DEFAULT 'pending'
				CHECK (status IN ('pending', 'processing', 'completed', 'error'))
		)`,
		`CREATE TABLE IF NOT EXISTS detections (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			video_id INTEGER NOT NULL REFERENCES videos(id) ON DELETE CASCADE,
			frame_number INTEGER NOT NULL CHECK (frame_number >= 0),
			timestamp REAL NOT NULL CHECK (timestamp >= 0),
			object_count INTEGER NOT NULL CHECK (object_count >= 1)
		)`,
		`CREATE TABLE IF NOT EXISTS bounding_boxes (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			detection_id INTEGER NOT NULL REFERENCES detections(id) ON DELETE CASCADE,
			x1 REAL NOT NULL,
			y1 REAL NOT NULL,
			x2 REAL NOT NULL,
			y2 REAL NOT NULL,
			confidence REAL NOT NULL CHECK (confidence >= 0 AND confidence <= 1),
			CHECK (x2 > x1 AND y2 > y1)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_detections_video_frame ON detections(video_id, frame_number)`,
		`CREATE INDEX IF NOT EXISTS idx_boxes_detection ON bounding_boxes(detection_id)`,
	},
	lockVideo: `SELECT status FROM videos WHERE id = ?`,
}

var postgresDialect = &dialect{
	name: DriverPostgres,
	migrations: []string{
		`CREATE TABLE IF NOT EXISTS videos (
			id BIGSERIAL PRIMARY KEY,
			filename TEXT NOT NULL,
			filepath TEXT NOT NULL,
			storage_key TEXT NOT NULL DEFAULT '',
			data BYTEA,
			size_bytes BIGINT NOT NULL DEFAULT 0,
			upload_date TIMESTAMPTZ NOT NULL,
			status TEXT NOT NULL DEFAULT 'pending'
				CHECK (status IN ('pending', 'processing', 'completed', 'error'))
		)`,
		`CREATE TABLE IF NOT EXISTS detections (
			id BIGSERIAL PRIMARY KEY,
			video_id BIGINT NOT NULL REFERENCES videos(id) ON DELETE CASCADE,
			frame_number INTEGER NOT NULL CHECK (frame_number >= 0),
			timestamp DOUBLE PRECISION NOT NULL CHECK (timestamp >= 0),
			object_count INTEGER NOT NULL CHECK (object_count >= 1)
		)`,
		`CREATE TABLE IF NOT EXISTS bounding_boxes (
			id BIGSERIAL PRIMARY KEY,
			detection_id BIGINT NOT NULL REFERENCES detections(id) ON DELETE CASCADE,
			x1 DOUBLE PRECISION NOT NULL,
			y1 DOUBLE PRECISION NOT NULL,
			x2 DOUBLE PRECISION NOT NULL,
			y2 DOUBLE PRECISION NOT NULL,
			confidence DOUBLE PRECISION NOT NULL CHECK (confidence >= 0 AND confidence <= 1),
			CHECK (x2 > x1 AND y2 > y1)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_detections_video_frame ON detections(video_id, frame_number)`,
		`CREATE INDEX IF NOT EXISTS idx_boxes_detection ON bounding_boxes(detection_id)`,
	},
	// Blocks concurrent status changes until the detection commits
	lockVideo:  `SELECT status FROM videos WHERE id = ? FOR SHARE`,
	positional: true,
}

// New opens a SQLite database file
func New(dbPath string) (*Database, error) {
	return Open(DriverSQLite, dbPath)
}

// Open connects to the database named by driver and dsn
func Open(driver, dsn string) (*Database, error) {
	var d *dialect
	switch driver {
	case DriverSQLite, "sqlite3":
		d = sqliteDialect
		dsn = sqliteDSN(dsn)
	case DriverPostgres, "postgresql":
		d = postgresDialect
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", driver)
	}

	db, err := sql.Open(d.name, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	return &Database{db: db, dialect: d}, nil
}

// sqliteDSN enables WAL, foreign keys and immediate write transactions on
// every pooled connection
func sqliteDSN(path string) string {
	params := "_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_txlock=immediate"
	if strings.Contains(path, "?") {
		return path + "&" + params
	}
	return path + "?" + params
}

// Driver returns the active driver name
func (d *Database) Driver() string {
	return d.dialect.name
}

// Close closes the database connection
func (d *Database) Close() error {
	return d.db.Close()
}

// Ping verifies the database is reachable
func (d *Database) Ping(ctx context.Context) error {
	return d.db.PingContext(ctx)
}

// Migrate runs database migrations
func (d *Database) Migrate() error {
	for _, migration := range d.dialect.migrations {
		if _, err := d.db.Exec(migration); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}

	log.Printf("[Database] Migrations completed (%s)", d.dialect.name)
	return nil
}

// q adapts a query written with ? placeholders to the active driver
func (d *Database) q(query string) string {
	if !d.dialect.positional {
		return query
	}
	return rebind(query)
}

// rebind replaces each ? with $1, $2, ...
func rebind(query string) string {
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
