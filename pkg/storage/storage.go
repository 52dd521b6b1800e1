package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	_ "github.com/lib/pq" // postgres driver
)

// Config holds connection settings for PostgreSQL, Redis, and blob storage
type Config struct {
	// PostgreSQL
	PostgresURL       string
	PostgresMaxConns  int
	PostgresIdleConns int
	PostgresTimeout   time.Duration

	// Redis (rate limit attempt store)
	RedisURL      string
	RedisPassword string
	RedisDB       int
	RedisPoolSize int

	// Blob storage for item photos
	BlobBackend    string // "filesystem" or "s3"
	FilesystemRoot string
	S3Endpoint     string
	S3Region       string
	S3Bucket       string
	S3AccessKey    string
	S3SecretKey    string
	S3UsePathStyle bool
}

// DefaultConfig returns sensible local-development defaults
func DefaultConfig() Config {
	return Config{
		PostgresMaxConns:  25,
		PostgresIdleConns: 5,
		PostgresTimeout:   5 * time.Second,
		RedisPoolSize:     10,
		BlobBackend:       "filesystem",
		FilesystemRoot:    "./data/blobs",
		S3Region:          "us-east-1",
	}
}

// OpenPostgres opens and pings the PostgreSQL connection pool
func OpenPostgres(ctx context.Context, cfg Config) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.PostgresURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres connection: %w", err)
	}

	db.SetMaxOpenConns(cfg.PostgresMaxConns)
	db.SetMaxIdleConns(cfg.PostgresIdleConns)
	db.SetConnMaxLifetime(time.Hour)

	pingCtx, cancel := context.WithTimeout(ctx, cfg.PostgresTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}
	return db, nil
}

// OpenRedis opens and pings a Redis client
func OpenRedis(ctx context.Context, cfg Config) (*redis.Client, error) {
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}
	if cfg.RedisPassword != "" {
		opts.Password = cfg.RedisPassword
	}
	if cfg.RedisDB > 0 {
		opts.DB = cfg.RedisDB
	}
	if cfg.RedisPoolSize > 0 {
		opts.PoolSize = cfg.RedisPoolSize
	}

	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}
	return client, nil
}
