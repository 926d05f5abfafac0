package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/cinepipe/cinepipe/internal/storage"
	"github.com/cinepipe/cinepipe/internal/telemetry"
)

// InstrumentedDownloadRepository wraps DownloadRepository with telemetry.
type InstrumentedDownloadRepository struct {
	repo      *DownloadRepository
	telemetry *telemetry.Telemetry
}

// NewInstrumentedDownloadRepository creates a new instrumented download repository.
func NewInstrumentedDownloadRepository(dbConn *sql.DB, tel *telemetry.Telemetry) *InstrumentedDownloadRepository {
	return &InstrumentedDownloadRepository{
		repo:      NewDownloadRepository(dbConn),
		telemetry: tel,
	}
}

func (r *InstrumentedDownloadRepository) FindByIMDBID(imdbID string) (*storage.DownloadRecord, error) {
	var result *storage.DownloadRecord

	var err error

	instrumentedErr := r.telemetry.InstrumentDBOperation(context.Background(), "find_by_imdb_id", func(ctx context.Context) error {
		result, err = r.repo.FindByIMDBID(imdbID)

		return err
	})

	if instrumentedErr != nil {
		return nil, instrumentedErr
	}

	return result, nil
}

func (r *InstrumentedDownloadRepository) FindByID(id int64) (*storage.DownloadRecord, error) {
	var result *storage.DownloadRecord

	var err error

	instrumentedErr := r.telemetry.InstrumentDBOperation(context.Background(), "find_by_id", func(ctx context.Context) error {
		result, err = r.repo.FindByID(id)

		return err
	})

	if instrumentedErr != nil {
		return nil, instrumentedErr
	}

	return result, nil
}

func (r *InstrumentedDownloadRepository) Create(record *storage.DownloadRecord) error {
	return r.telemetry.InstrumentDBOperation(context.Background(), "create_download", func(ctx context.Context) error {
		return r.repo.Create(record)
	})
}

func (r *InstrumentedDownloadRepository) Save(record *storage.DownloadRecord) error {
	return r.telemetry.InstrumentDBOperation(context.Background(), "save_download", func(ctx context.Context) error {
		return r.repo.Save(record)
	})
}

func (r *InstrumentedDownloadRepository) Touch(imdbID string, at time.Time) error {
	return r.telemetry.InstrumentDBOperation(context.Background(), "touch_download", func(ctx context.Context) error {
		return r.repo.Touch(imdbID, at)
	})
}

func (r *InstrumentedDownloadRepository) GetDownloads() ([]storage.DownloadRecord, error) {
	var result []storage.DownloadRecord

	var err error

	instrumentedErr := r.telemetry.InstrumentDBOperation(context.Background(), "get_downloads", func(ctx context.Context) error {
		result, err = r.repo.GetDownloads()

		return err
	})

	if instrumentedErr != nil {
		return nil, instrumentedErr
	}

	return result, nil
}

func (r *InstrumentedDownloadRepository) Delete(id int64) error {
	return r.telemetry.InstrumentDBOperation(context.Background(), "delete_download", func(ctx context.Context) error {
		return r.repo.Delete(id)
	})
}
