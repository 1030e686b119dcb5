package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

type Config struct {
	Port                  string
	AllowedOrigin         string
	DatabaseURL           string
	SQLitePath            string
	RedisAddr             string
	RedisPassword         string
	RedisDB               int
	DefaultWarehouseID    string
	SyncRemoteURL         string
	SyncProbeURL          string
	SyncPollSeconds       int
	SyncBackoffMinSeconds int
	SyncBackoffMaxSeconds int
	AuthSecret            string
	AccessTokenTTLMinutes int
	AdminPassword         string
	StaffPassword         string
}

func Load() Config {
	redisDB, _ := strconv.Atoi(getEnv("REDIS_DB", "0"))
	poll, err := strconv.Atoi(getEnv("SYNC_POLL_SECONDS", "15"))
	if err != nil || poll < 1 {
		poll = 15
	}
	backoffMin, err := strconv.Atoi(getEnv("SYNC_BACKOFF_MIN_SECONDS", "2"))
	if err != nil || backoffMin < 1 {
		backoffMin = 2
	}
	backoffMax, err := strconv.Atoi(getEnv("SYNC_BACKOFF_MAX_SECONDS", "300"))
	if err != nil || backoffMax < backoffMin {
		backoffMax = 300
	}
	tokenTTL, err := strconv.Atoi(getEnv("ACCESS_TOKEN_TTL_MINUTES", "480"))
	if err != nil || tokenTTL < 1 {
		tokenTTL = 480
	}

	cfg := Config{
		Port:                  getEnv("PORT", "8080"),
		AllowedOrigin:         getEnv("ALLOWED_ORIGIN", "http://127.0.0.1:3000"),
		DatabaseURL:           os.Getenv("DATABASE_URL"),
		SQLitePath:            os.Getenv("SQLITE_PATH"),
		RedisAddr:             os.Getenv("REDIS_ADDR"),
		RedisPassword:         os.Getenv("REDIS_PASSWORD"),
		RedisDB:               redisDB,
		DefaultWarehouseID:    getEnv("DEFAULT_WAREHOUSE_ID", "wh-hub"),
		SyncRemoteURL:         os.Getenv("SYNC_REMOTE_URL"),
		SyncProbeURL:          os.Getenv("SYNC_PROBE_URL"),
		SyncPollSeconds:       poll,
		SyncBackoffMinSeconds: backoffMin,
		SyncBackoffMaxSeconds: backoffMax,
		AuthSecret:            strings.TrimSpace(os.Getenv("AUTH_SECRET")),
		AccessTokenTTLMinutes: tokenTTL,
		AdminPassword:         strings.TrimSpace(os.Getenv("ADMIN_PASSWORD")),
		StaffPassword:         strings.TrimSpace(os.Getenv("STAFF_PASSWORD")),
	}

	if cfg.SyncProbeURL == "" {
		cfg.SyncProbeURL = cfg.SyncRemoteURL
	}

	return cfg
}

func (c Config) Address() string {
	return fmt.Sprintf(":%s", c.Port)
}

func getEnv(key string, fallback string) string {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	return val
}
