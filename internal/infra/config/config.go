// Пакет config отвечает за сбор и предоставление конфигурации всего приложения
// (бот + мост Mini App). Он:
//  1. читает переменные окружения из .env (через godotenv),
//  2. нормализует и валидирует входные значения,
//  3. накапливает предупреждения о подставленных дефолтах,
//  4. фиксирует результат в singleton с потокобезопасным доступом.
//
// Бизнес-контекст: BOT_TOKEN и ADMIN_UID определяют бота и первичного
// администратора; API_URL указывает на внешний голосовой/SMS-сервис, через
// который выполняются все звонки; WEB_APP_URL — адрес Mini App, который бот
// подставляет в inline-кнопки. Остальные «ручки» управляют логированием,
// лимитами и адресом встроенного HTTP/WebSocket-сервера.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/joho/godotenv"
)

// EnvConfig описывает параметры, приходящие из окружения (.env). Значения уже
// проходят минимальную валидацию и нормализацию в loadConfig; в рантайме
// предполагается, что EnvConfig последователен.
type EnvConfig struct {
	BotToken      string
	AdminUID      int64
	AdminUsername string
	APIURL        string
	WebAppURL     string
	TestDC        bool

	UsersDBFile string
	// UserExpiryDays — срок жизни не-администраторов в днях; 0 отключает
	// автоматическую чистку.
	UserExpiryDays int

	LogLevel string
	// Файловое логирование
	LogFile           string
	LogFileLevel      string
	LogFileMaxSize    int
	LogFileMaxBackups int
	LogFileMaxAge     int
	LogFileCompress   bool

	// Скоростные лимиты исходящих HTTP-запросов (Bot API и провайдер).
	ThrottleRPS int

	// Web Server
	WebServerAddress   string
	ShutdownTimeoutSec int
}

// Config хранит конфигурацию среды.
//
// Потокобезопасность: публичные геттеры берут RLock; конфигурация после
// загрузки не мутирует, поэтому Env() возвращает снимок без копирования.
type Config struct {
	Env      EnvConfig
	warnings []string     // предупреждения, накопленные при чтении окружения
	mu       sync.RWMutex // защита конкурентного доступа к конфигурации
}

// Значения по умолчанию для параметров окружения.
const (
	defaultLogLevel           = "info"
	defaultUsersDBFile        = "data/users.bbolt"
	defaultThrottleRPS        = 25
	defaultWebServerAddress   = "127.0.0.1:8090"
	defaultUserExpiryDays     = 0
	defaultShutdownTimeoutSec = 10
	// Файловое логирование (LOG_FILE не имеет дефолта — должен быть явно указан)
	defaultLogFileLevel      = "debug"
	defaultLogFileMaxSize    = 50
	defaultLogFileMaxBackups = 3
	defaultLogFileMaxAge     = 7
	defaultLogFileCompress   = true
)

var (
	cfgInstance *Config
	cfgDone     bool
)

// Load — точка входа для инициализации глобальной конфигурации приложения.
// При первом вызове читает .env, формирует EnvConfig и фиксирует результат
// в singleton. Повторный вызов запрещён, чтобы избежать гонок на старте.
func Load(envPath string) error {
	if cfgDone {
		return errors.New("config already loaded")
	}
	newCfg, err := loadConfig(envPath)
	if err != nil {
		return err
	}
	cfgInstance = newCfg
	cfgDone = true
	return nil
}

// loadConfig выполняет фактическую загрузку/валидацию без установки глобального
// состояния. Удобно для тестов: можно собрать временный Config и проверить его.
func loadConfig(envPath string) (*Config, error) {
	if envPath != "" {
		// Отсутствующий .env не фатален: окружение может приходить целиком
		// из контейнера. Ошибку чтения существующего файла не глотаем.
		if err := godotenv.Load(envPath); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to load .env: %w", err)
		}
	}

	botToken := strings.TrimSpace(os.Getenv("BOT_TOKEN"))
	if botToken == "" {
		return nil, errors.New("env BOT_TOKEN must be set")
	}

	apiURL := strings.TrimSpace(strings.TrimSuffix(os.Getenv("API_URL"), "/"))
	if apiURL == "" {
		return nil, errors.New("env API_URL must be set")
	}

	adminUID, err := parseRequiredInt64("ADMIN_UID")
	if err != nil {
		return nil, err
	}

	adminUsername := strings.TrimSpace(strings.TrimPrefix(os.Getenv("ADMIN_USERNAME"), "@"))
	if adminUsername == "" {
		return nil, errors.New("env ADMIN_USERNAME must be set")
	}

	var warnings []string

	webAppURL := strings.TrimSpace(os.Getenv("WEB_APP_URL"))
	if webAppURL == "" {
		appendWarningf(&warnings, "env WEB_APP_URL is not set; Mini App buttons are disabled")
	}

	logLevel := sanitizeLogLevel(os.Getenv("LOG_LEVEL"), defaultLogLevel, &warnings)
	usersDBFile := sanitizeFile("USERS_DB_FILE", os.Getenv("USERS_DB_FILE"), defaultUsersDBFile, &warnings)
	userExpiryDays := defaultUserExpiryDays
	if v := strings.TrimSpace(os.Getenv("USER_EXPIRY_DAYS")); v != "" {
		userExpiryDays = parseIntDefault("USER_EXPIRY_DAYS", defaultUserExpiryDays, nonNegative, &warnings)
	}
	throttleRPS := parseIntDefault("THROTTLE_RPS", defaultThrottleRPS, greaterThanZero, &warnings)
	testDC := strings.EqualFold(strings.TrimSpace(os.Getenv("TEST_DC")), "true")
	webServerAddress := sanitizeFile("WEB_SERVER_ADDRESS", os.Getenv("WEB_SERVER_ADDRESS"),
		defaultWebServerAddress, &warnings)
	shutdownTimeout := parseIntDefault("SHUTDOWN_TIMEOUT_SEC", defaultShutdownTimeoutSec,
		greaterThanZero, &warnings)

	logFile := strings.TrimSpace(os.Getenv("LOG_FILE"))
	logFileLevel := sanitizeLogLevel(os.Getenv("LOG_FILE_LEVEL"), defaultLogFileLevel, &warnings)
	logFileMaxSize := parseIntDefault("LOG_FILE_MAX_SIZE_MB", defaultLogFileMaxSize, greaterThanZero, &warnings)
	logFileMaxBackups := parseIntDefault("LOG_FILE_MAX_BACKUPS", defaultLogFileMaxBackups, nonNegative, &warnings)
	logFileMaxAge := parseIntDefault("LOG_FILE_MAX_AGE_DAYS", defaultLogFileMaxAge, nonNegative, &warnings)
	logFileCompress := parseBoolDefault("LOG_FILE_COMPRESS", defaultLogFileCompress, &warnings)

	env := EnvConfig{
		BotToken:       botToken,
		AdminUID:       adminUID,
		AdminUsername:  adminUsername,
		APIURL:         apiURL,
		WebAppURL:      webAppURL,
		TestDC:         testDC,
		UsersDBFile:    usersDBFile,
		UserExpiryDays: userExpiryDays,
		LogLevel:       logLevel,
		// Файловое логирование
		LogFile:           logFile,
		LogFileLevel:      logFileLevel,
		LogFileMaxSize:    logFileMaxSize,
		LogFileMaxBackups: logFileMaxBackups,
		LogFileMaxAge:     logFileMaxAge,
		LogFileCompress:   logFileCompress,
		ThrottleRPS:       throttleRPS,
		// Web Server
		WebServerAddress:   webServerAddress,
		ShutdownTimeoutSec: shutdownTimeout,
	}

	return &Config{Env: env, warnings: warnings}, nil
}

// Warnings возвращает накопленные предупреждения, возникшие при загрузке .env
// (например, когда подставлено значение по умолчанию). Возвращается копия.
func Warnings() []string {
	cfgInstance.mu.RLock()
	defer cfgInstance.mu.RUnlock()
	result := make([]string, len(cfgInstance.warnings))
	copy(result, cfgInstance.warnings)
	return result
}

// Env возвращает EnvConfig из глобального singleton. Это неизменяемый снимок
// на момент загрузки; для обновления надо перечитать конфиг целиком.
func Env() EnvConfig {
	return cfgInstance.Env
}

// parseRequiredInt64 читает обязательную целочисленную переменную окружения.
// Используется для критичных параметров, без которых приложение не стартует.
func parseRequiredInt64(name string) (int64, error) {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return 0, fmt.Errorf("env %s must be set", name)
	}
	v, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("env %s must be a valid integer: %w", name, err)
	}
	return v, nil
}

// parseIntDefault читает name как int. Если пусто/некорректно/не проходит
// дополнительную проверку validator — возвращает defaultVal и пишет предупреждение.
func parseIntDefault(name string, defaultVal int, validator func(int) bool, warnings *[]string) int {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		appendWarningf(warnings, "env %s is not set; using default %d", name, defaultVal)
		return defaultVal
	}
	v, err := strconv.Atoi(value)
	if err != nil || !validator(v) {
		appendWarningf(warnings, "env %s value %q is invalid; using default %d", name, value, defaultVal)
		return defaultVal
	}
	return v
}

// parseBoolDefault читает name как bool ("true"/"false" без учёта регистра).
func parseBoolDefault(name string, defaultVal bool, warnings *[]string) bool {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return defaultVal
	}
	v, err := strconv.ParseBool(strings.ToLower(value))
	if err != nil {
		appendWarningf(warnings, "env %s value %q is not a valid bool; using default %t", name, value, defaultVal)
		return defaultVal
	}
	return v
}

// sanitizeLogLevel нормализует уровень логирования к одному из поддерживаемых.
func sanitizeLogLevel(value, defaultVal string, warnings *[]string) string {
	v := strings.ToLower(strings.TrimSpace(value))
	switch v {
	case "debug", "info", "warn", "error":
		return v
	case "":
		return defaultVal
	default:
		appendWarningf(warnings, "env LOG_LEVEL value %q is unknown; using %q", value, defaultVal)
		return defaultVal
	}
}

// sanitizeFile подставляет дефолт для пустых строковых значений (пути, адреса).
func sanitizeFile(name, value, defaultVal string, warnings *[]string) string {
	v := strings.TrimSpace(value)
	if v == "" {
		appendWarningf(warnings, "env %s is not set; using default %q", name, defaultVal)
		return defaultVal
	}
	return v
}

// appendWarningf накапливает форматированное предупреждение.
func appendWarningf(warnings *[]string, format string, a ...any) {
	*warnings = append(*warnings, fmt.Sprintf(format, a...))
}

func greaterThanZero(v int) bool { return v > 0 }
func nonNegative(v int) bool     { return v >= 0 }
