// Package debug — вспомогательные утилиты отладки моста.
// Печатает компактные дампы входящих команд и произвольных структур только
// при активном debug-уровне логгера. Пакет не влияет на бизнес-логику.
package debug

import (
	"fmt"

	"github.com/kr/pretty"

	"voicednut-bot/internal/infra/logger"
)

// Dump пишет отладочную строку с произвольными значениями. Формирование
// строки происходит только при включённом debug, чтобы не платить за
// pretty-форматирование в проде.
func Dump(label string, values ...any) {
	if !logger.IsDebugEnabled() {
		return
	}
	out := label
	for _, v := range values {
		out += " " + fmt.Sprintf("%v", pretty.Formatter(v))
	}
	logger.Debug(out)
}
