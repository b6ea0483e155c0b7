package domain

import "strings"

const maxISBNLength = 20

// ISBN — нормализованный идентификатор издания.
// Хранится в верхнем регистре, так что сравнение значений регистронезависимо.
type ISBN string

// NewISBN нормализует и валидирует ISBN: непустой, не длиннее 20 символов,
// допустимы только цифры, латинские буквы и дефис.
func NewISBN(raw string) (ISBN, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", ErrISBNRequired
	}
	if len(trimmed) > maxISBNLength {
		return "", ErrISBNTooLong
	}
	for _, r := range trimmed {
		switch {
		case r >= '0' && r <= '9':
		case r >= 'a' && r <= 'z':
		case r >= 'A' && r <= 'Z':
		case r == '-':
		default:
			return "", ErrISBNInvalidChar
		}
	}
	return ISBN(strings.ToUpper(trimmed)), nil
}

func (i ISBN) String() string {
	return string(i)
}

// Equal сравнивает нормализованные значения.
func (i ISBN) Equal(other ISBN) bool {
	return i == other
}
