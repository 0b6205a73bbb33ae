package data

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgxutil"
)

// Fetch attempt outcomes recorded in fetch_logs.
const (
	FetchStatusSuccess = "success"
	FetchStatusError   = "error"
)

// FetchLog records one fetch attempt against one source, for monitoring and
// debugging.
type FetchLog struct {
	ID            int32
	SourceID      int32
	StartedAt     time.Time
	CompletedAt   pgtype.Timestamptz
	Status        string
	ArticlesFound int32
	ArticlesNew   int32
	ErrorMessage  pgtype.Text
	DurationMS    pgtype.Int4
}

const insertFetchLogSQL = `insert into fetch_logs(source_id, started_at, completed_at, status, articles_found, articles_new, error_message, duration_ms)
values($1, $2, $3, $4, $5, $6, $7, $8)
returning id`

func InsertFetchLog(ctx context.Context, db pgxutil.DB, fl *FetchLog) (int32, error) {
	var id int32
	err := db.QueryRow(ctx, insertFetchLogSQL, fl.SourceID, fl.StartedAt,
		fl.CompletedAt, fl.Status, fl.ArticlesFound, fl.ArticlesNew,
		fl.ErrorMessage, fl.DurationMS).Scan(&id)
	return id, err
}
