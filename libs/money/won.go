// Package money formats won amounts for messages, reports and payslips.
package money

import (
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// Won groups thousands the Korean way: 1234567 -> 1,234,567.
func Won(v int64) string {
	return message.NewPrinter(language.Korean).Sprintf("%d", v)
}

// WonSuffix appends the currency unit: 45000 -> 45,000원.
func WonSuffix(v int64) string {
	return Won(v) + "원"
}
