// Package logger — централизованная обёртка над zap для всего приложения.
// Инициализирует уровень и формат вывода, опционально подключает файловый
// sink с ротацией (lumberjack). Уровень можно менять динамически через
// zap.AtomicLevel; доступ к глобальному состоянию защищён mutex.

package logger

import (
	"fmt"
	"os"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	// mu защищает глобальное состояние логгера от одновременных изменений.
	mu sync.Mutex
	// log хранит текущий экземпляр zap.Logger, используемый во всём приложении.
	log *zap.Logger
	// logLevel управляет динамическим уровнем консольного вывода.
	logLevel = zap.NewAtomicLevelAt(zap.InfoLevel)
	// fileCore — дополнительное ядро для записи в файл; nil, если файл не настроен.
	fileCore zapcore.Core
)

// FileOptions описывает параметры файлового лога с ротацией.
type FileOptions struct {
	Path       string
	Level      string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// defaultEncoderConfig формирует консольный encoder с цветами и коротким caller.
// Формат времени фиксирован (YYYY-MM-DD HH:MM:SS).
func defaultEncoderConfig() zapcore.EncoderConfig {
	return zapcore.EncoderConfig{
		TimeKey:        "time",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "caller",
		MessageKey:     "msg",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.CapitalColorLevelEncoder,
		EncodeTime:     zapcore.TimeEncoderOfLayout("2006-01-02 15:04:05"),
		EncodeDuration: zapcore.StringDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}
}

// fileEncoderConfig — encoder для файла: тот же формат, но без цветовых кодов.
func fileEncoderConfig() zapcore.EncoderConfig {
	cfg := defaultEncoderConfig()
	cfg.EncodeLevel = zapcore.CapitalLevelEncoder
	return cfg
}

// rebuildLoggerLocked пересоздаёт глобальный логгер с текущими ядрами.
// Вызывающий должен удерживать mu. AddCallerSkip(1) скрывает обёртки logger.*
// в стеке вызовов; перед заменой предыдущий логгер сбрасывает буферы.
func rebuildLoggerLocked() {
	encoder := zapcore.NewConsoleEncoder(defaultEncoderConfig())
	core := zapcore.NewCore(encoder, zapcore.Lock(zapcore.AddSync(os.Stdout)), logLevel)
	if fileCore != nil {
		core = zapcore.NewTee(core, fileCore)
	}
	if log != nil {
		_ = log.Sync()
	}
	log = zap.New(core, zap.AddCaller(), zap.AddCallerSkip(1),
		zap.ErrorOutput(zapcore.Lock(zapcore.AddSync(os.Stderr))))
}

// parseLevel переводит строковый уровень в zapcore.Level. Значение сравнивается
// без учёта регистра; всё незнакомое трактуется как info.
func parseLevel(level string) zapcore.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return zap.DebugLevel
	case "warn":
		return zap.WarnLevel
	case "error":
		return zap.ErrorLevel
	default:
		return zap.InfoLevel
	}
}

// Init инициализирует глобальный zap-логгер и задаёт уровень консольного вывода.
// Допустимые уровни: debug, info (по умолчанию), warn, error. Потокобезопасно.
func Init(level string) {
	mu.Lock()
	defer mu.Unlock()

	logLevel.SetLevel(parseLevel(level))
	rebuildLoggerLocked()
}

// EnableFile подключает файловый sink с ротацией lumberjack. Уровень файла
// независим от консольного: обычно в файл пишется debug, в консоль — info.
// Пустой Path отключает файловый вывод. Потокобезопасно.
func EnableFile(opts FileOptions) {
	mu.Lock()
	defer mu.Unlock()

	if strings.TrimSpace(opts.Path) == "" {
		fileCore = nil
		rebuildLoggerLocked()
		return
	}

	writer := zapcore.AddSync(&lumberjack.Logger{
		Filename:   opts.Path,
		MaxSize:    opts.MaxSizeMB,
		MaxBackups: opts.MaxBackups,
		MaxAge:     opts.MaxAgeDays,
		Compress:   opts.Compress,
	})
	fileCore = zapcore.NewCore(zapcore.NewConsoleEncoder(fileEncoderConfig()),
		writer, zap.NewAtomicLevelAt(parseLevel(opts.Level)))
	rebuildLoggerLocked()
}

// Logger возвращает текущий zap.Logger, лениво создавая его при первом обращении.
// Возвращается «сырое» API (не Sugared); предпочтительнее структурированные zap.Field.
func Logger() *zap.Logger {
	mu.Lock()
	defer mu.Unlock()

	if log == nil {
		rebuildLoggerLocked()
	}
	return log
}

// IsDebugEnabled сообщает, активен ли уровень debug у консольного ядра.
func IsDebugEnabled() bool {
	return logLevel.Level() <= zap.DebugLevel
}

// Debug пишет структурированное сообщение уровня Debug.
func Debug(msg string, fields ...zap.Field) { Logger().Debug(msg, fields...) }

// Info пишет структурированное сообщение уровня Info.
func Info(msg string, fields ...zap.Field) { Logger().Info(msg, fields...) }

// Warn пишет структурированное предупреждение уровня Warn.
func Warn(msg string, fields ...zap.Field) { Logger().Warn(msg, fields...) }

// Error пишет структурированное сообщение об ошибке уровня Error.
func Error(msg string, fields ...zap.Field) { Logger().Error(msg, fields...) }

// Fatal пишет сообщение уровня Fatal и завершает процесс.
func Fatal(msg string, fields ...zap.Field) {
	Logger().Fatal(msg, fields...)
	_ = Logger().Sync()
	os.Exit(1)
}

// Debugf форматирует сообщение через fmt.Sprintf. Используйте экономно:
// форматирование аллоцирует; для горячих путей предпочтительны поля.
func Debugf(msg string, a ...any) { Logger().Debug(fmt.Sprintf(msg, a...)) }

// Infof форматирует сообщение через fmt.Sprintf.
func Infof(msg string, a ...any) { Logger().Info(fmt.Sprintf(msg, a...)) }

// Warnf форматирует сообщение через fmt.Sprintf.
func Warnf(msg string, a ...any) { Logger().Warn(fmt.Sprintf(msg, a...)) }

// Errorf форматирует сообщение через fmt.Sprintf.
func Errorf(msg string, a ...any) { Logger().Error(fmt.Sprintf(msg, a...)) }
