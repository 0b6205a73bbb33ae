package main

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

var migrations = []struct {
	name string
	sql  string
}{
	{"Create sources", `
    create table if not exists sources(
      id serial primary key,
      url varchar(512) not null unique check(url<>''),
      name varchar(255) not null check(name<>''),
      type varchar(50) not null,
      is_active boolean not null default true,
      created_at timestamp with time zone not null default now(),
      updated_at timestamp with time zone not null default now(),
      last_fetched_at timestamp with time zone,
      fetch_error_count integer not null default 0 check(fetch_error_count >= 0),
      last_error_message text,
      last_error_at timestamp with time zone
    );

    create index if not exists sources_is_active_idx on sources (is_active);
  `},
	{"Create articles", `
    create table if not exists articles(
      id serial primary key,
      source_id integer not null references sources on delete cascade,
      title varchar(512) not null,
      url varchar(512) not null unique,
      author varchar(255),
      published_at timestamp with time zone,
      summary text,
      content text,
      created_at timestamp with time zone not null default now()
    );

    create index if not exists articles_source_id_idx on articles (source_id);
    create index if not exists articles_published_at_idx on articles (published_at);
  `},
	{"Create fetch_logs", `
    create table if not exists fetch_logs(
      id serial primary key,
      source_id integer references sources on delete cascade,
      started_at timestamp with time zone not null default now(),
      completed_at timestamp with time zone,
      status varchar(50) not null,
      articles_found integer not null default 0,
      articles_new integer not null default 0,
      error_message text,
      duration_ms integer
    );

    create index if not exists fetch_logs_source_id_idx on fetch_logs (source_id);
  `},
}

// initSchema creates the tables. Statements are idempotent so re-running
// init-db against an existing database is safe.
func initSchema(ctx context.Context, pool *pgxpool.Pool) error {
	for _, m := range migrations {
		fmt.Printf("Migrating: %s\n", m.name)
		if _, err := pool.Exec(ctx, m.sql); err != nil {
			return fmt.Errorf("migration %q failed: %w", m.name, err)
		}
	}

	return nil
}
