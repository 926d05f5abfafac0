package sqlite

import (
	"database/sql"
	"time"

	"github.com/cinepipe/cinepipe/internal/storage"
)

type DownloadRepository struct {
	db *sql.DB
}

func NewDownloadRepository(dbConn *sql.DB) *DownloadRepository {
	return &DownloadRepository{db: dbConn}
}

const downloadColumns = `id, imdb_id, movie_title, torrent_hash, magnet_uri, daemon_id,
	status, progress, downloaded_bytes, total_bytes, download_rate, seeders, leechers,
	file_path, hls_path, is_converted, error, created_at, updated_at, last_accessed_at`

func scanDownload(row interface{ Scan(...any) error }) (*storage.DownloadRecord, error) {
	var record storage.DownloadRecord

	err := row.Scan(
		&record.ID, &record.IMDBID, &record.MovieTitle, &record.TorrentHash, &record.MagnetURI,
		&record.DaemonID, &record.Status, &record.Progress, &record.DownloadedBytes,
		&record.TotalBytes, &record.DownloadRate, &record.Seeders, &record.Leechers,
		&record.FilePath, &record.HLSPath, &record.IsConverted, &record.Error,
		&record.CreatedAt, &record.UpdatedAt, &record.LastAccessedAt,
	)
	if err != nil {
		return nil, err
	}

	return &record, nil
}

func (r *DownloadRepository) FindByIMDBID(imdbID string) (*storage.DownloadRecord, error) {
	row := r.db.QueryRow(`SELECT `+downloadColumns+` FROM downloads WHERE imdb_id = ?`, imdbID)

	record, err := scanDownload(row)
	if err == sql.ErrNoRows {
		return nil, storage.ErrNotFound
	}

	return record, err
}

func (r *DownloadRepository) FindByID(id int64) (*storage.DownloadRecord, error) {
	row := r.db.QueryRow(`SELECT `+downloadColumns+` FROM downloads WHERE id = ?`, id)

	record, err := scanDownload(row)
	if err == sql.ErrNoRows {
		return nil, storage.ErrNotFound
	}

	return record, err
}

func (r *DownloadRepository) Create(record *storage.DownloadRecord) error {
	now := time.Now().UTC()
	record.CreatedAt = now
	record.UpdatedAt = now

	if record.LastAccessedAt.IsZero() {
		record.LastAccessedAt = now
	}

	res, err := r.db.Exec(`INSERT INTO downloads (
		imdb_id, movie_title, torrent_hash, magnet_uri, daemon_id,
		status, progress, downloaded_bytes, total_bytes, download_rate, seeders, leechers,
		file_path, hls_path, is_converted, error, created_at, updated_at, last_accessed_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		record.IMDBID, record.MovieTitle, record.TorrentHash, record.MagnetURI, record.DaemonID,
		record.Status, record.Progress, record.DownloadedBytes, record.TotalBytes,
		record.DownloadRate, record.Seeders, record.Leechers,
		record.FilePath, record.HLSPath, record.IsConverted, record.Error,
		record.CreatedAt, record.UpdatedAt, record.LastAccessedAt,
	)
	if err != nil {
		return err
	}

	record.ID, err = res.LastInsertId()

	return err
}

// Save writes the mutable fields of an existing record. Idempotent, so the
// reconciler can persist after every poll without special casing.
func (r *DownloadRepository) Save(record *storage.DownloadRecord) error {
	record.UpdatedAt = time.Now().UTC()

	_, err := r.db.Exec(`UPDATE downloads SET
		movie_title = ?, torrent_hash = ?, magnet_uri = ?, daemon_id = ?,
		status = ?, progress = ?, downloaded_bytes = ?, total_bytes = ?,
		download_rate = ?, seeders = ?, leechers = ?,
		file_path = ?, hls_path = ?, is_converted = ?, error = ?, updated_at = ?
	WHERE id = ?`,
		record.MovieTitle, record.TorrentHash, record.MagnetURI, record.DaemonID,
		record.Status, record.Progress, record.DownloadedBytes, record.TotalBytes,
		record.DownloadRate, record.Seeders, record.Leechers,
		record.FilePath, record.HLSPath, record.IsConverted, record.Error, record.UpdatedAt,
		record.ID,
	)

	return err
}

// Touch bumps last_accessed_at so the retention sweep keeps files that are
// still being watched.
func (r *DownloadRepository) Touch(imdbID string, at time.Time) error {
	_, err := r.db.Exec(`UPDATE downloads SET last_accessed_at = ? WHERE imdb_id = ?`, at.UTC(), imdbID)

	return err
}

func (r *DownloadRepository) GetDownloads() ([]storage.DownloadRecord, error) {
	rows, err := r.db.Query(`SELECT ` + downloadColumns + ` FROM downloads`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var downloads []storage.DownloadRecord

	for rows.Next() {
		record, err := scanDownload(rows)
		if err != nil {
			return nil, err
		}

		downloads = append(downloads, *record)
	}

	return downloads, rows.Err()
}

func (r *DownloadRepository) Delete(id int64) error {
	_, err := r.db.Exec(`DELETE FROM downloads WHERE id = ?`, id)

	return err
}
