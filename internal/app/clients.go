package app

import (
	"fmt"
	"os"
	"strings"

	"github.com/vizboard/vizboard-backend/internal/clients/openai"
	"github.com/vizboard/vizboard-backend/internal/clients/redis"
	"github.com/vizboard/vizboard-backend/internal/pkg/logger"
)

type Clients struct {
	OpenAI openai.Client
	KV     redis.KV
}

func wireClients(log *logger.Logger) (Clients, error) {
	log.Info("Wiring clients...")

	openaiClient, err := openai.NewClient(log)
	if err != nil {
		return Clients{}, fmt.Errorf("init openai client: %w", err)
	}

	// Redis is optional at startup: without it the admission controller fails
	// closed on rate checks instead of refusing to boot.
	var kv redis.KV
	if strings.TrimSpace(os.Getenv("REDIS_ADDR")) != "" {
		k, err := redis.NewKV(log)
		if err != nil {
			return Clients{}, fmt.Errorf("init redis kv: %w", err)
		}
		kv = k
	} else {
		log.Warn("REDIS_ADDR not set; rate-limited operations will be denied")
	}

	return Clients{OpenAI: openaiClient, KV: kv}, nil
}
