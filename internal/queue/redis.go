package queue

import (
	"strings"

	"knowledge-retrieval-service/internal/config"

	"github.com/hibiken/asynq"
)

// RedisOpt builds the asynq connection options from either a redis:// URL
// or a plain host:port.
func RedisOpt(cfg *config.Config) (asynq.RedisConnOpt, error) {
	if strings.Contains(cfg.RedisURL, "://") {
		return asynq.ParseRedisURI(cfg.RedisURL)
	}
	return asynq.RedisClientOpt{
		Addr:     cfg.RedisURL,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}, nil
}
