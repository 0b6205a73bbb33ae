package main

import (
	"fmt"
	"strconv"
	"time"

	ini "github.com/vaughan0/go-ini"
)

// fetcherConfig holds the [fetcher] section. Delay/timeout values are
// written in the config file as milliseconds.
type fetcherConfig struct {
	concurrentLimit      int
	requestDelay         time.Duration
	requestTimeout       time.Duration
	maxRetries           int
	userAgent            string
	minDomainDelay       time.Duration
	maxConsecutiveErrors int32
	articleRetentionDays int
}

func defaultFetcherConfig() *fetcherConfig {
	return &fetcherConfig{
		concurrentLimit:      5,
		requestDelay:         1000 * time.Millisecond,
		requestTimeout:       30000 * time.Millisecond,
		maxRetries:           3,
		userAgent:            "NewsAgg/1.0 (Content Fetcher)",
		minDomainDelay:       1000 * time.Millisecond,
		maxConsecutiveErrors: 10,
		articleRetentionDays: 365,
	}
}

func loadFetcherConfig(conf ini.File) (*fetcherConfig, error) {
	config := defaultFetcherConfig()

	var err error
	if config.concurrentLimit, err = intOption(conf, "concurrent_limit", config.concurrentLimit); err != nil {
		return nil, err
	}
	if config.requestDelay, err = msOption(conf, "request_delay", config.requestDelay); err != nil {
		return nil, err
	}
	if config.requestTimeout, err = msOption(conf, "request_timeout", config.requestTimeout); err != nil {
		return nil, err
	}
	if config.maxRetries, err = intOption(conf, "max_retries", config.maxRetries); err != nil {
		return nil, err
	}
	if ua, ok := conf.Get("fetcher", "user_agent"); ok {
		config.userAgent = ua
	}
	if config.minDomainDelay, err = msOption(conf, "min_domain_delay", config.minDomainDelay); err != nil {
		return nil, err
	}

	maxErrors, err := intOption(conf, "max_consecutive_errors", int(config.maxConsecutiveErrors))
	if err != nil {
		return nil, err
	}
	config.maxConsecutiveErrors = int32(maxErrors)

	if config.articleRetentionDays, err = intOption(conf, "article_retention_days", config.articleRetentionDays); err != nil {
		return nil, err
	}

	if config.concurrentLimit < 1 {
		return nil, fmt.Errorf("fetcher.concurrent_limit must be at least 1")
	}
	if config.maxConsecutiveErrors < 1 {
		return nil, fmt.Errorf("fetcher.max_consecutive_errors must be at least 1")
	}

	return config, nil
}

func intOption(conf ini.File, key string, def int) (int, error) {
	raw, ok := conf.Get("fetcher", key)
	if !ok {
		return def, nil
	}

	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("bad fetcher.%s: %v", key, err)
	}
	return n, nil
}

func msOption(conf ini.File, key string, def time.Duration) (time.Duration, error) {
	raw, ok := conf.Get("fetcher", key)
	if !ok {
		return def, nil
	}

	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("bad fetcher.%s: %v", key, err)
	}
	return time.Duration(n) * time.Millisecond, nil
}
