// Package validation содержит функции валидации входных данных.
package validation

import "strings"

// MaxStudentNameLength - максимальная длина имени студента.
const MaxStudentNameLength = 120

// NormalizeStudentName убирает окружающие пробелы из имени студента.
func NormalizeStudentName(name string) string {
	return strings.TrimSpace(name)
}

// IsValidStudentName проверяет корректность имени студента: непустое,
// не длиннее MaxStudentNameLength и без управляющих символов.
func IsValidStudentName(name string) bool {
	if name == "" || len(name) > MaxStudentNameLength {
		return false
	}

	for _, r := range name {
		if r < 0x20 || r == 0x7f {
			return false
		}
	}

	return true
}
