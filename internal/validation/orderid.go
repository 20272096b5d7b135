// Package validation содержит функции проверки и приведения входных данных.
package validation

import (
	"strings"
	"unicode"
)

// OrderIDMarker — символ, которым персонал часто предваряет номер заказа.
const OrderIDMarker = '#'

// NormalizeOrderID убирает пробелы по краям и ведущие маркеры '#'.
// Регистр не меняется: идентификаторы заказов сравниваются как непрозрачные токены.
func NormalizeOrderID(raw string) string {
	id := strings.TrimSpace(raw)
	id = strings.TrimLeft(id, string(OrderIDMarker))
	return strings.TrimSpace(id)
}

// IsValidOrderID проверяет, что идентификатор непустой и не содержит пробельных и управляющих символов.
func IsValidOrderID(id string) bool {
	if id == "" {
		return false
	}

	for _, ch := range id {
		if unicode.IsSpace(ch) || unicode.IsControl(ch) {
			return false
		}
	}

	return true
}
