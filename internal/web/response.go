package web

import (
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"strconv"

	"go.uber.org/zap"

	"voicednut-bot/internal/infra/logger"
)

// writeJSON сериализует payload и записывает ответ с указанным статусом.
// Ошибка записи логируется с местом вызова.
func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)

	data, err := json.Marshal(payload)
	if err != nil {
		logger.Error("failed to encode response", zap.Error(err))
		return
	}
	writeResponse(w, data)
}

// writeResponse записывает ответ в ResponseWriter с автоматическим логированием ошибок.
// Автоматически определяет место вызова для отладки.
func writeResponse(w http.ResponseWriter, data []byte) {
	var writeErr error

	if _, writeErr = w.Write(data); writeErr == nil {
		return
	}

	// Получаем информацию о вызывающей функции
	callerLocation := "unknown"
	if _, file, line, ok := runtime.Caller(1); ok {
		if wd, getwdErr := os.Getwd(); getwdErr == nil {
			if rel, relErr := filepath.Rel(wd, file); relErr == nil {
				file = rel
			}
		}
		callerLocation = file + ":" + strconv.Itoa(line)
	}

	logger.Error("failed to write response",
		zap.String("caller", callerLocation),
		zap.Error(writeErr))
}
