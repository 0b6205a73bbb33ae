package data

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgxutil"
)

var ErrNotFound = errors.New("not found")

// Known source types. The set is closed but extensible: new types plug into
// the runner's fetcher registry.
const (
	SourceTypeFeed = "feed"
	SourceTypeSite = "site"
)

// Source is a configured origin (feed or site) polled for content. It is
// created through the management API and mutated here only by the fetch
// status updates.
type Source struct {
	ID               int32
	URL              string
	Name             string
	Type             string
	IsActive         bool
	CreatedAt        time.Time
	UpdatedAt        time.Time
	LastFetchedAt    pgtype.Timestamptz
	FetchErrorCount  int32
	LastErrorMessage pgtype.Text
	LastErrorAt      pgtype.Timestamptz
}

const sourceColumns = `id, url, name, type, is_active, created_at, updated_at,
  last_fetched_at, fetch_error_count, last_error_message, last_error_at`

const selectActiveSourcesSQL = `select ` + sourceColumns + `
from sources
where is_active
order by id`

const selectSourcesSQL = `select ` + sourceColumns + `
from sources
order by id`

const selectSourceByIDSQL = `select ` + sourceColumns + `
from sources
where id=$1`

const sourceExistsByURLSQL = `select exists(select 1 from sources where url=$1)`

const insertSourceSQL = `insert into sources(url, name, type, is_active)
values($1, $2, $3, $4)
returning id`

const updateSourceFetchSuccessSQL = `update sources
set last_fetched_at=$1,
  fetch_error_count=0,
  last_error_message=null,
  last_error_at=null,
  updated_at=now()
where id=$2`

// The is_active expression applies the auto-disable threshold atomically so
// concurrent updaters cannot lose an increment.
const updateSourceFetchFailureSQL = `update sources
set fetch_error_count=fetch_error_count+1,
  last_error_message=$1,
  last_error_at=$2,
  is_active=(fetch_error_count+1 < $3) and is_active,
  updated_at=now()
where id=$4`

func scanSource(row pgx.Rows, s *Source) error {
	return row.Scan(&s.ID, &s.URL, &s.Name, &s.Type, &s.IsActive, &s.CreatedAt,
		&s.UpdatedAt, &s.LastFetchedAt, &s.FetchErrorCount, &s.LastErrorMessage,
		&s.LastErrorAt)
}

func selectSources(ctx context.Context, db pgxutil.DB, sql string, args ...interface{}) ([]Source, error) {
	sources := make([]Source, 0, 16)
	rows, _ := db.Query(ctx, sql, args...)
	for rows.Next() {
		var s Source
		if err := scanSource(rows, &s); err != nil {
			rows.Close()
			return nil, err
		}
		sources = append(sources, s)
	}

	return sources, rows.Err()
}

func SelectActiveSources(ctx context.Context, db pgxutil.DB) ([]Source, error) {
	return selectSources(ctx, db, selectActiveSourcesSQL)
}

func SelectSources(ctx context.Context, db pgxutil.DB) ([]Source, error) {
	return selectSources(ctx, db, selectSourcesSQL)
}

func SelectSourceByID(ctx context.Context, db pgxutil.DB, id int32) (*Source, error) {
	var s Source
	err := db.QueryRow(ctx, selectSourceByIDSQL, id).Scan(&s.ID, &s.URL, &s.Name,
		&s.Type, &s.IsActive, &s.CreatedAt, &s.UpdatedAt, &s.LastFetchedAt,
		&s.FetchErrorCount, &s.LastErrorMessage, &s.LastErrorAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	return &s, nil
}

func SourceExistsByURL(ctx context.Context, db pgxutil.DB, url string) (bool, error) {
	var exists bool
	err := db.QueryRow(ctx, sourceExistsByURLSQL, url).Scan(&exists)
	return exists, err
}

func InsertSource(ctx context.Context, db pgxutil.DB, src *Source) (int32, error) {
	var id int32
	err := db.QueryRow(ctx, insertSourceSQL, src.URL, src.Name, src.Type, src.IsActive).Scan(&id)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return 0, ErrDuplicateURL
		}
		return 0, err
	}

	return id, nil
}

func UpdateSourceFetchSuccess(ctx context.Context, db pgxutil.DB, sourceID int32, fetchTime time.Time) error {
	commandTag, err := db.Exec(ctx, updateSourceFetchSuccessSQL, fetchTime, sourceID)
	if err != nil {
		return err
	}
	if commandTag.RowsAffected() != 1 {
		return ErrNotFound
	}

	return nil
}

func UpdateSourceFetchFailure(ctx context.Context, db pgxutil.DB, sourceID int32, failure string, failureTime time.Time, disableThreshold int32) error {
	commandTag, err := db.Exec(ctx, updateSourceFetchFailureSQL, failure, failureTime, disableThreshold, sourceID)
	if err != nil {
		return err
	}
	if commandTag.RowsAffected() != 1 {
		return ErrNotFound
	}

	return nil
}
