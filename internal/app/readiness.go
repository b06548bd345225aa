package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/jervisai/jervis/internal/config"
)

// BuildReadinessChecks returns one named check per backing store the
// process depends on: Mongo (C1/C5/C9/C4 storage), Weaviate (C11 hybrid
// search), and Redis (C2 rate limiter). A nil dependency check fails
// closed rather than being silently skipped.
func BuildReadinessChecks(cfg config.Config, mongoClient *mongo.Client, rdb *redis.Client) map[string]func(ctx context.Context) error {
	return map[string]func(ctx context.Context) error{
		"mongo": func(ctx context.Context) error {
			if mongoClient == nil {
				return fmt.Errorf("mongo not configured")
			}
			return mongoClient.Ping(ctx, nil)
		},
		"weaviate": func(ctx context.Context) error {
			client := &http.Client{Timeout: 2 * time.Second}
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, cfg.WeaviateURL+"/v1/.well-known/ready", nil)
			if err != nil {
				return err
			}
			resp, err := client.Do(req)
			if err != nil {
				return err
			}
			defer func() { _ = resp.Body.Close() }()
			if resp.StatusCode >= 200 && resp.StatusCode < 300 {
				return nil
			}
			return fmt.Errorf("weaviate status %d", resp.StatusCode)
		},
		"redis": func(ctx context.Context) error {
			if rdb == nil {
				return fmt.Errorf("redis not configured")
			}
			return rdb.Ping(ctx).Err()
		},
	}
}
