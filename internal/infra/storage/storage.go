// Package storage — утилиты безопасной работы с локальным хранилищем.
// Используется для файла базы авторизованных пользователей (bbolt) и прочих
// данных, для которых важны права доступа и наличие родительского каталога.
package storage

import (
	"fmt"
	"os"
	"path/filepath"
)

// DefaultFilePerm — права, выставляемые на файлы с чувствительными данными.
// Значение 0o600 ограничивает доступ только владельцу процесса.
const DefaultFilePerm = 0o600

// EnsureDir гарантирует наличие каталога для указанного файла.
// Если путь не содержит директорию ("." или пустая строка), ничего не делает.
// Создание выполняется с правами 0o700, ошибки оборачиваются с указанием каталога.
func EnsureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create dir %s: %w", dir, err)
	}
	return nil
}
