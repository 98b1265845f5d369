package app

import (
	"github.com/vizboard/vizboard-backend/internal/pkg/logger"
	"github.com/vizboard/vizboard-backend/internal/utils"
)

type Config struct {
	JWTSecretKey string
	LimitsPath   string
	HTTPAddr     string
}

func LoadConfig(log *logger.Logger) Config {
	return Config{
		JWTSecretKey: utils.GetEnv("JWT_SECRET_KEY", "defaultsecret", log),
		LimitsPath:   utils.GetEnv("LIMITS_CONFIG_PATH", "configs/limits.yaml", log),
		HTTPAddr:     utils.GetEnv("HTTP_ADDR", ":8080", log),
	}
}
