package chat

import (
	"regexp"
	"strings"
)

// datePattern совпадает с YYYY/M/D (или YYYY/MM/DD) и необязательным суффиксом из
// одного символа в скобках, например 2024/08/13(火).
// Дефисные даты и HH:MM намеренно не трогаем.
var datePattern = regexp.MustCompile(`\p{Nd}{4}/\p{Nd}{1,2}/\p{Nd}{1,2}(?:\(.\))?`)

// Clean применяет оба правила очистки ответа модели по порядку.
func Clean(raw string) string {
	return StripDates(StripMentions(raw))
}

// StripMentions удаляет каждый символ "@".
func StripMentions(s string) string {
	return strings.ReplaceAll(s, "@", "")
}

// StripDates вырезает даты целиком вместе со скобочным суффиксом.
// Повторяем до неподвижной точки: удаление может склеить соседние цифры в новую дату.
func StripDates(s string) string {
	for {
		out := datePattern.ReplaceAllLiteralString(s, "")
		if out == s {
			return out
		}
		s = out
	}
}
