// Пакет config — загрузка и валидация конфигурации сервера синхронизации
// из переменных окружения.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Версия приложения, задаётся при сборке через -ldflags.
var Version = "dev"

// Config содержит все параметры конфигурации сервера.
type Config struct {
	// Адрес, на котором слушает HTTP-сервер
	Host string
	// Порт HTTP-сервера
	Port int
	// Корневая директория данных: по одной поддиректории на пользователя
	DataRoot string
	// Путь к базе учётных записей (auth.db)
	AuthDBPath string
	// Путь к базе сессий (session.db)
	SessionDBPath string
	// Размер in-memory кэша сессий (LRU)
	SessionCacheSize int
	// Имя пользователя, создаваемого при старте (опционально, вместе с DefaultPassword)
	DefaultUsername string
	// Пароль пользователя, создаваемого при старте
	DefaultPassword string
	// Путь к TLS сертификату (опционально)
	TLSCert string
	// Путь к TLS приватному ключу (опционально)
	TLSKey string
	// Уровень логирования (debug, info, warn, error)
	LogLevel slog.Level
	// Формат логов (json, text)
	LogFormat string
	// Таймаут graceful shutdown HTTP-сервера
	ShutdownTimeout time.Duration
}

// Load загружает конфигурацию из переменных окружения, валидирует
// обязательные поля и возвращает Config или ошибку.
func Load() (*Config, error) {
	cfg := &Config{}

	// ANKISYNCD_HOST — адрес прослушивания (по умолчанию 0.0.0.0)
	cfg.Host = getEnvDefault("ANKISYNCD_HOST", "0.0.0.0")

	// ANKISYNCD_PORT — порт HTTP-сервера (по умолчанию 27701)
	port, err := getEnvInt("ANKISYNCD_PORT", 27701)
	if err != nil {
		return nil, fmt.Errorf("ANKISYNCD_PORT: %w", err)
	}
	if port <= 0 || port > 65535 {
		return nil, fmt.Errorf("ANKISYNCD_PORT: значение %d вне допустимого диапазона 1-65535", port)
	}
	cfg.Port = port

	// ANKISYNCD_DATA_ROOT — обязательный
	cfg.DataRoot, err = getEnvRequired("ANKISYNCD_DATA_ROOT")
	if err != nil {
		return nil, err
	}

	// ANKISYNCD_AUTH_DB_PATH — база учётных записей (по умолчанию {data_root}/auth.db)
	cfg.AuthDBPath = getEnvDefault("ANKISYNCD_AUTH_DB_PATH", filepath.Join(cfg.DataRoot, "auth.db"))

	// ANKISYNCD_SESSION_DB_PATH — база сессий (по умолчанию {data_root}/session.db)
	cfg.SessionDBPath = getEnvDefault("ANKISYNCD_SESSION_DB_PATH", filepath.Join(cfg.DataRoot, "session.db"))

	// ANKISYNCD_SESSION_CACHE_SIZE — размер LRU-кэша сессий (по умолчанию 256)
	cacheSize, err := getEnvInt("ANKISYNCD_SESSION_CACHE_SIZE", 256)
	if err != nil {
		return nil, fmt.Errorf("ANKISYNCD_SESSION_CACHE_SIZE: %w", err)
	}
	if cacheSize <= 0 {
		return nil, fmt.Errorf("ANKISYNCD_SESSION_CACHE_SIZE: значение должно быть положительным")
	}
	cfg.SessionCacheSize = cacheSize

	// ANKISYNCD_USERNAME / ANKISYNCD_PASSWORD — учётная запись, создаваемая
	// при старте. Либо обе переменные заданы, либо ни одной.
	cfg.DefaultUsername = getEnvDefault("ANKISYNCD_USERNAME", "")
	cfg.DefaultPassword = getEnvDefault("ANKISYNCD_PASSWORD", "")
	if (cfg.DefaultUsername == "") != (cfg.DefaultPassword == "") {
		return nil, fmt.Errorf("ANKISYNCD_USERNAME и ANKISYNCD_PASSWORD должны быть заданы вместе")
	}

	// ANKISYNCD_TLS_CERT / ANKISYNCD_TLS_KEY — опциональная пара TLS
	cfg.TLSCert = getEnvDefault("ANKISYNCD_TLS_CERT", "")
	cfg.TLSKey = getEnvDefault("ANKISYNCD_TLS_KEY", "")
	if (cfg.TLSCert == "") != (cfg.TLSKey == "") {
		return nil, fmt.Errorf("ANKISYNCD_TLS_CERT и ANKISYNCD_TLS_KEY должны быть заданы вместе")
	}

	// ANKISYNCD_LOG_LEVEL — уровень логирования (по умолчанию info)
	cfg.LogLevel, err = parseLogLevel(getEnvDefault("ANKISYNCD_LOG_LEVEL", "info"))
	if err != nil {
		return nil, fmt.Errorf("ANKISYNCD_LOG_LEVEL: %w", err)
	}

	// ANKISYNCD_LOG_FORMAT — формат логов (по умолчанию json)
	cfg.LogFormat = getEnvDefault("ANKISYNCD_LOG_FORMAT", "json")
	if cfg.LogFormat != "json" && cfg.LogFormat != "text" {
		return nil, fmt.Errorf("ANKISYNCD_LOG_FORMAT: недопустимое значение %q, допустимые: json, text", cfg.LogFormat)
	}

	// ANKISYNCD_SHUTDOWN_TIMEOUT — таймаут graceful shutdown (по умолчанию 5s)
	cfg.ShutdownTimeout, err = getEnvDuration("ANKISYNCD_SHUTDOWN_TIMEOUT", 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("ANKISYNCD_SHUTDOWN_TIMEOUT: %w", err)
	}

	return cfg, nil
}

// ListenAddr возвращает адрес прослушивания в формате host:port.
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// UserDir возвращает рабочую директорию пользователя: {data_root}/{username}.
func (c *Config) UserDir(username string) string {
	return filepath.Join(c.DataRoot, username)
}

// SetupLogger настраивает глобальный slog-логгер на основе конфигурации.
func SetupLogger(cfg *Config) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}

	var handler slog.Handler
	if cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

// --- Вспомогательные функции ---

// getEnvRequired возвращает значение переменной окружения или ошибку, если она не задана.
func getEnvRequired(key string) (string, error) {
	val := os.Getenv(key)
	if val == "" {
		return "", fmt.Errorf("%s: обязательная переменная окружения не задана", key)
	}
	return val, nil
}

// getEnvDefault возвращает значение переменной окружения или значение по умолчанию.
func getEnvDefault(key, defaultVal string) string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	return val
}

// getEnvInt возвращает целочисленное значение переменной окружения или значение по умолчанию.
func getEnvInt(key string, defaultVal int) (int, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("некорректное целое число: %q", val)
	}
	return n, nil
}

// getEnvDuration возвращает time.Duration из переменной окружения или значение по умолчанию.
func getEnvDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return 0, fmt.Errorf("некорректная длительность: %q (используйте формат Go: 30s, 1h)", val)
	}
	return d, nil
}

// parseLogLevel преобразует строку уровня логирования в slog.Level.
func parseLogLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("недопустимый уровень %q, допустимые: debug, info, warn, error", level)
	}
}
