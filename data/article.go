package data

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgxutil"
)

// ErrDuplicateURL is returned by InsertArticle when another article already
// holds the same normalized URL. A concurrent identical insert surfaces the
// same way as a prior one.
var ErrDuplicateURL = errors.New("article URL already exists")

type Article struct {
	ID          int32
	SourceID    int32
	Title       string
	URL         string
	Author      pgtype.Text
	PublishedAt pgtype.Timestamptz
	Summary     pgtype.Text
	Content     pgtype.Text
	CreatedAt   pgtype.Timestamptz
}

const articleColumns = `id, source_id, title, url, author, published_at,
  summary, content, created_at`

const insertArticleSQL = `insert into articles(source_id, title, url, author, published_at, summary, content)
values($1, $2, $3, $4, $5, $6, $7)
returning id`

const articleExistsByURLSQL = `select exists(select 1 from articles where url=$1)`

const selectRecentArticlesSQL = `select ` + articleColumns + `
from articles
where source_id=$1
order by created_at desc
limit $2`

const deleteArticlesBeforeSQL = `delete from articles where created_at < $1`

func InsertArticle(ctx context.Context, db pgxutil.DB, a *Article) (int32, error) {
	var id int32
	err := db.QueryRow(ctx, insertArticleSQL, a.SourceID, a.Title, a.URL,
		a.Author, a.PublishedAt, a.Summary, a.Content).Scan(&id)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return 0, ErrDuplicateURL
		}
		return 0, err
	}

	return id, nil
}

func ArticleExistsByURL(ctx context.Context, db pgxutil.DB, url string) (bool, error) {
	var exists bool
	err := db.QueryRow(ctx, articleExistsByURLSQL, url).Scan(&exists)
	return exists, err
}

func SelectRecentArticles(ctx context.Context, db pgxutil.DB, sourceID int32, limit int32) ([]Article, error) {
	articles := make([]Article, 0, 16)
	rows, _ := db.Query(ctx, selectRecentArticlesSQL, sourceID, limit)
	for rows.Next() {
		var a Article
		err := rows.Scan(&a.ID, &a.SourceID, &a.Title, &a.URL, &a.Author,
			&a.PublishedAt, &a.Summary, &a.Content, &a.CreatedAt)
		if err != nil {
			rows.Close()
			return nil, err
		}
		articles = append(articles, a)
	}

	return articles, rows.Err()
}

func DeleteArticlesBefore(ctx context.Context, db pgxutil.DB, cutoff time.Time) (int64, error) {
	commandTag, err := db.Exec(ctx, deleteArticlesBeforeSQL, cutoff)
	if err != nil {
		return 0, err
	}

	return commandTag.RowsAffected(), nil
}
