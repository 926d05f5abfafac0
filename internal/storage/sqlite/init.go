package sqlite

import (
	"database/sql"

	// Import the SQLite driver.
	_ "github.com/mattn/go-sqlite3"
)

// InitDB opens the SQLite database and creates the schema if it doesn't exist.
func InitDB(dbPath string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, err
	}

	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS downloads (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		imdb_id TEXT UNIQUE NOT NULL,
		movie_title TEXT NOT NULL DEFAULT '',
		torrent_hash TEXT NOT NULL DEFAULT '',
		magnet_uri TEXT NOT NULL DEFAULT '',
		daemon_id INTEGER NOT NULL DEFAULT 0,
		status TEXT NOT NULL DEFAULT 'pending',
		progress REAL NOT NULL DEFAULT 0,
		downloaded_bytes INTEGER NOT NULL DEFAULT 0,
		total_bytes INTEGER NOT NULL DEFAULT 0,
		download_rate INTEGER NOT NULL DEFAULT 0,
		seeders INTEGER NOT NULL DEFAULT 0,
		leechers INTEGER NOT NULL DEFAULT 0,
		file_path TEXT NOT NULL DEFAULT '',
		hls_path TEXT NOT NULL DEFAULT '',
		is_converted INTEGER NOT NULL DEFAULT 0,
		error TEXT NOT NULL DEFAULT '',
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL,
		last_accessed_at DATETIME NOT NULL
	)`)
	if err != nil {
		return nil, err
	}

	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS watch_history (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id INTEGER NOT NULL,
		imdb_id TEXT NOT NULL,
		movie_title TEXT NOT NULL DEFAULT '',
		progress_seconds INTEGER NOT NULL DEFAULT 0,
		duration_seconds INTEGER NOT NULL DEFAULT 0,
		watched INTEGER NOT NULL DEFAULT 0,
		completed INTEGER NOT NULL DEFAULT 0,
		last_watched_at DATETIME NOT NULL,
		UNIQUE(user_id, imdb_id)
	)`)
	if err != nil {
		return nil, err
	}

	return db, nil
}
