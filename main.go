package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	log15adapter "github.com/jackc/pgx-log15"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/tracelog"
	"github.com/tldrnews/fetcher/data"
	"github.com/urfave/cli"
	ini "github.com/vaughan0/go-ini"
	log "gopkg.in/inconshreveable/log15.v2"
)

const version = "0.3.0"

func main() {
	app := cli.NewApp()
	app.Name = "fetcher"
	app.Usage = "news content ingestion service"
	app.Version = version

	configFlag := cli.StringFlag{Name: "config, c", Value: "fetcher.conf", Usage: "path to config file"}

	app.Commands = []cli.Command{
		{
			Name:   "init-db",
			Usage:  "create the database schema",
			Flags:  []cli.Flag{configFlag},
			Action: InitDB,
		},
		{
			Name:   "health",
			Usage:  "check database connectivity",
			Flags:  []cli.Flag{configFlag},
			Action: Health,
		},
		{
			Name:      "parse",
			Usage:     "parse a feed URL and print its entries without storing anything",
			ArgsUsage: "URL",
			Flags:     []cli.Flag{configFlag},
			Action:    Parse,
		},
		{
			Name:   "run",
			Usage:  "run one fetch cycle over all active sources",
			Flags:  []cli.Flag{configFlag},
			Action: Run,
		},
		{
			Name:      "run-source",
			Usage:     "fetch a single source by id",
			ArgsUsage: "SOURCE_ID",
			Flags:     []cli.Flag{configFlag},
			Action:    RunSource,
		},
		{
			Name:   "sources",
			Usage:  "list sources and their health",
			Flags:  []cli.Flag{configFlag},
			Action: ListSources,
		},
		{
			Name:      "articles",
			Usage:     "list recent articles for a source",
			ArgsUsage: "SOURCE_ID",
			Flags: []cli.Flag{
				configFlag,
				cli.IntFlag{Name: "limit, n", Value: 20, Usage: "maximum number of articles"},
			},
			Action: ListArticles,
		},
		{
			Name:      "import-sources",
			Usage:     "bulk-load sources from a JSON file, skipping URLs that already exist",
			ArgsUsage: "FILE",
			Flags:     []cli.Flag{configFlag},
			Action:    ImportSources,
		},
		{
			Name:   "purge",
			Usage:  "delete articles older than the retention horizon",
			Flags:  []cli.Flag{configFlag},
			Action: Purge,
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadConfig(path string) (ini.File, error) {
	path, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("invalid config path: %v", err)
	}

	file, err := ini.LoadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load config file: %v", err)
	}

	return file, nil
}

func newLogger(conf ini.File) (log.Logger, error) {
	level, _ := conf.Get("log", "level")
	if level == "" {
		level = "warn"
	}

	logger := log.New()
	if err := setFilterHandler(level, logger, log.StdoutHandler); err != nil {
		return nil, err
	}

	return logger, nil
}

func setFilterHandler(level string, logger log.Logger, handler log.Handler) error {
	if level == "none" {
		logger.SetHandler(log.DiscardHandler())
		return nil
	}

	lvl, err := log.LvlFromString(level)
	if err != nil {
		return fmt.Errorf("bad log level: %v", err)
	}
	logger.SetHandler(log.LvlFilterHandler(lvl, handler))

	return nil
}

func newPool(ctx context.Context, conf ini.File, logger log.Logger) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig("")
	if err != nil {
		return nil, err
	}

	connConfig := poolConfig.ConnConfig

	connConfig.Host, _ = conf.Get("database", "host")
	if connConfig.Host == "" {
		return nil, errors.New("config must contain database.host but it does not")
	}

	if p, ok := conf.Get("database", "port"); ok {
		n, err := strconv.ParseUint(p, 10, 16)
		if err != nil {
			return nil, err
		}
		connConfig.Port = uint16(n)
	}

	var ok bool
	if connConfig.Database, ok = conf.Get("database", "database"); !ok {
		return nil, errors.New("config must contain database.database but it does not")
	}
	connConfig.User, _ = conf.Get("database", "user")
	connConfig.Password, _ = conf.Get("database", "password")

	pgxLogLevel := tracelog.LogLevelWarn
	if level, ok := conf.Get("log", "pgx_level"); ok {
		pgxLogLevel, err = tracelog.LogLevelFromString(level)
		if err != nil {
			return nil, fmt.Errorf("bad log.pgx_level: %v", err)
		}
	}
	connConfig.Tracer = &tracelog.TraceLog{
		Logger:   log15adapter.NewLogger(logger.New("module", "pgx")),
		LogLevel: pgxLogLevel,
	}

	poolConfig.MaxConns = 10

	return pgxpool.NewWithConfig(ctx, poolConfig)
}

// appEnv bundles what every command needs after setup.
type appEnv struct {
	conf    ini.File
	fetcher *fetcherConfig
	logger  log.Logger
	pool    *pgxpool.Pool
	repo    *pgxRepository
}

func setup(ctx context.Context, c *cli.Context, needDB bool) (*appEnv, error) {
	conf, err := loadConfig(c.String("config"))
	if err != nil {
		return nil, err
	}

	logger, err := newLogger(conf)
	if err != nil {
		return nil, err
	}

	fetcherConf, err := loadFetcherConfig(conf)
	if err != nil {
		return nil, err
	}

	env := &appEnv{conf: conf, fetcher: fetcherConf, logger: logger}

	if needDB {
		env.pool, err = newPool(ctx, conf, logger)
		if err != nil {
			return nil, fmt.Errorf("unable to create database connection pool: %v", err)
		}
		env.repo = newPgxRepository(env.pool)
	}

	return env, nil
}

func InitDB(c *cli.Context) error {
	ctx := context.Background()
	env, err := setup(ctx, c, true)
	if err != nil {
		return err
	}
	defer env.pool.Close()

	if err := initSchema(ctx, env.pool); err != nil {
		return err
	}

	fmt.Println("Database initialized")
	return nil
}

func Health(c *cli.Context) error {
	ctx := context.Background()
	env, err := setup(ctx, c, true)
	if err != nil {
		return err
	}
	defer env.pool.Close()

	if err := env.pool.Ping(ctx); err != nil {
		return fmt.Errorf("health check failed: %v", err)
	}

	fmt.Println("Health check passed")
	return nil
}

func Parse(c *cli.Context) error {
	if c.NArg() != 1 {
		return errors.New("parse requires exactly one URL argument")
	}
	feedURL := c.Args().First()

	ctx := context.Background()
	env, err := setup(ctx, c, false)
	if err != nil {
		return err
	}

	fetcher := newFeedFetcher(env.fetcher, env.logger.New("module", "fetcher"))
	entries, err := fetcher.fetchEntries(ctx, 0, feedURL)
	if err != nil {
		return err
	}

	for i, entry := range entries {
		fmt.Printf("%3d. %s\n", i+1, entry.title)
		fmt.Printf("     url: %s\n", entry.url)
		if entry.author != "" {
			fmt.Printf("     author: %s\n", entry.author)
		}
		if entry.publishedAt.Valid {
			fmt.Printf("     published: %s\n", entry.publishedAt.Time.Format(time.RFC3339))
		}
	}
	fmt.Printf("%d entries\n", len(entries))

	return nil
}

func Run(c *cli.Context) error {
	ctx := context.Background()
	env, err := setup(ctx, c, true)
	if err != nil {
		return err
	}
	defer env.pool.Close()

	runner := newFetchRunner(env.repo, env.fetcher, env.logger.New("module", "runner"))
	stats, err := runner.runCycle(ctx)
	if err != nil {
		return err
	}

	printStats(stats)
	return nil
}

func RunSource(c *cli.Context) error {
	if c.NArg() != 1 {
		return errors.New("run-source requires exactly one SOURCE_ID argument")
	}
	sourceID, err := strconv.ParseInt(c.Args().First(), 10, 32)
	if err != nil {
		return fmt.Errorf("bad source id: %v", err)
	}

	ctx := context.Background()
	env, err := setup(ctx, c, true)
	if err != nil {
		return err
	}
	defer env.pool.Close()

	runner := newFetchRunner(env.repo, env.fetcher, env.logger.New("module", "runner"))
	stats, err := runner.runSingle(ctx, int32(sourceID))
	if err != nil {
		return err
	}

	printStats(stats)
	return nil
}

func printStats(stats cycleStats) {
	fmt.Println("Sources processed:", stats.sourcesProcessed)
	fmt.Println("Sources failed:", stats.sourcesFailed)
	fmt.Println("Entries fetched:", stats.entriesFetched)
	fmt.Println("Stored:", stats.stored)
	fmt.Println("Duplicate:", stats.duplicate)
	fmt.Println("Errors:", stats.errors)
}

func ListSources(c *cli.Context) error {
	ctx := context.Background()
	env, err := setup(ctx, c, true)
	if err != nil {
		return err
	}
	defer env.pool.Close()

	sources, err := env.repo.getSources(ctx)
	if err != nil {
		return err
	}

	for _, s := range sources {
		active := "active"
		if !s.IsActive {
			active = "disabled"
		}
		lastFetched := "never"
		if s.LastFetchedAt.Valid {
			lastFetched = s.LastFetchedAt.Time.Format(time.RFC3339)
		}
		fmt.Printf("%4d  %-8s %-6s errors=%-3d last_fetched=%-25s %s (%s)\n",
			s.ID, active, s.Type, s.FetchErrorCount, lastFetched, s.Name, s.URL)
		if s.LastErrorMessage.Valid {
			fmt.Printf("      last error: %s\n", s.LastErrorMessage.String)
		}
	}
	fmt.Printf("%d sources\n", len(sources))

	return nil
}

func ListArticles(c *cli.Context) error {
	if c.NArg() != 1 {
		return errors.New("articles requires exactly one SOURCE_ID argument")
	}
	sourceID, err := strconv.ParseInt(c.Args().First(), 10, 32)
	if err != nil {
		return fmt.Errorf("bad source id: %v", err)
	}

	ctx := context.Background()
	env, err := setup(ctx, c, true)
	if err != nil {
		return err
	}
	defer env.pool.Close()

	articles, err := env.repo.getRecentArticles(ctx, int32(sourceID), int32(c.Int("limit")))
	if err != nil {
		return err
	}

	for _, a := range articles {
		published := "unknown"
		if a.PublishedAt.Valid {
			published = a.PublishedAt.Time.Format(time.RFC3339)
		}
		fmt.Printf("%6d  %-25s %s\n        %s\n", a.ID, published, a.Title, a.URL)
	}
	fmt.Printf("%d articles\n", len(articles))

	return nil
}

// sourceRecord is the shape of one entry in an import file.
type sourceRecord struct {
	Name     string `json:"name"`
	URL      string `json:"url"`
	Type     string `json:"type"`
	IsActive *bool  `json:"is_active,omitempty"`
}

func ImportSources(c *cli.Context) error {
	if c.NArg() != 1 {
		return errors.New("import-sources requires exactly one FILE argument")
	}

	body, err := os.ReadFile(c.Args().First())
	if err != nil {
		return err
	}

	var records []sourceRecord
	if err := json.Unmarshal(body, &records); err != nil {
		return fmt.Errorf("unable to parse source file: %v", err)
	}

	ctx := context.Background()
	env, err := setup(ctx, c, true)
	if err != nil {
		return err
	}
	defer env.pool.Close()

	added, skipped, err := importSources(ctx, env.repo, records)
	if err != nil {
		return err
	}

	fmt.Printf("Added %d sources, skipped %d\n", added, skipped)
	return nil
}

func importSources(ctx context.Context, repo repository, records []sourceRecord) (added, skipped int, err error) {
	for _, record := range records {
		if record.URL == "" || record.Name == "" {
			return added, skipped, fmt.Errorf("source record missing name or url: %+v", record)
		}

		sourceType := record.Type
		if sourceType == "" {
			sourceType = data.SourceTypeFeed
		}

		exists, err := repo.sourceExistsByURL(ctx, record.URL)
		if err != nil {
			return added, skipped, err
		}
		if exists {
			skipped++
			continue
		}

		src := &data.Source{
			URL:      record.URL,
			Name:     record.Name,
			Type:     sourceType,
			IsActive: record.IsActive == nil || *record.IsActive,
		}
		if _, err := repo.createSource(ctx, src); err != nil {
			// another load may have won the race on this URL
			if errors.Is(err, data.ErrDuplicateURL) {
				skipped++
				continue
			}
			return added, skipped, err
		}
		added++
	}

	return added, skipped, nil
}

func Purge(c *cli.Context) error {
	ctx := context.Background()
	env, err := setup(ctx, c, true)
	if err != nil {
		return err
	}
	defer env.pool.Close()

	cutoff := time.Now().UTC().AddDate(0, 0, -env.fetcher.articleRetentionDays)
	n, err := env.repo.deleteArticlesBefore(ctx, cutoff)
	if err != nil {
		return err
	}

	fmt.Printf("Deleted %d articles older than %s\n", n, cutoff.Format("2006-01-02"))
	return nil
}
