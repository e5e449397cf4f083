package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/tradium/marketdata/pkg/models"
)

// initializedKey marks the mirror as warmed so restarts skip the restore.
const initializedKey = "initialized"

type Config struct {
	Addr     string
	Password string
	DB       int
}

// Redis mirrors the latest ticker snapshot per identity key for low-latency
// reads by the page-rendering collaborator.
type Redis struct {
	client *redis.Client
	logger *logrus.Logger
}

func New(cfg Config, logger *logrus.Logger) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}

	logger.WithField("addr", cfg.Addr).Info("Redis connection established")

	return &Redis{
		client: client,
		logger: logger,
	}, nil
}

func (r *Redis) SetTicker(ctx context.Context, t models.TickerSnapshot) error {
	data, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("failed to marshal ticker %s: %w", t.Key(), err)
	}
	if err := r.client.Set(ctx, t.Key(), data, 0).Err(); err != nil {
		return fmt.Errorf("failed to set ticker %s: %w", t.Key(), err)
	}
	return nil
}

func (r *Redis) GetTicker(ctx context.Context, key string) (*models.TickerSnapshot, error) {
	data, err := r.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get ticker %s: %w", key, err)
	}

	var t models.TickerSnapshot
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("failed to unmarshal ticker %s: %w", key, err)
	}
	return &t, nil
}

// WarmUp restores the mirror from persisted snapshots once. Subsequent
// restarts find the initialized flag and skip the restore.
func (r *Redis) WarmUp(ctx context.Context, tickers []models.TickerSnapshot) error {
	initialized, err := r.client.Exists(ctx, initializedKey).Result()
	if err != nil {
		return fmt.Errorf("failed to check initialized flag: %w", err)
	}
	if initialized > 0 {
		r.logger.Info("Redis already initialized, skipping warm-up")
		return nil
	}

	for _, t := range tickers {
		if err := r.SetTicker(ctx, t); err != nil {
			return err
		}
	}
	if err := r.client.Set(ctx, initializedKey, "1", 0).Err(); err != nil {
		return fmt.Errorf("failed to set initialized flag: %w", err)
	}

	r.logger.WithField("tickers_count", len(tickers)).Info("Restored tickers into Redis")
	return nil
}

func (r *Redis) HealthCheck(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *Redis) Close() error {
	return r.client.Close()
}
