package handler

import (
	"fmt"

	"github.com/shopspring/decimal"
	"golang.org/x/text/currency"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/number"
)

// MoneyFormatter renders prices for the presentation locale
type MoneyFormatter struct {
	printer *message.Printer
	symbol  string
	unit    currency.Unit
}

// NewMoneyFormatter creates a formatter for a BCP 47 locale and an ISO 4217
// currency code
func NewMoneyFormatter(locale, currencyCode string) (*MoneyFormatter, error) {
	tag, err := language.Parse(locale)
	if err != nil {
		return nil, fmt.Errorf("invalid locale %q: %w", locale, err)
	}
	unit, err := currency.ParseISO(currencyCode)
	if err != nil {
		return nil, fmt.Errorf("invalid currency %q: %w", currencyCode, err)
	}

	p := message.NewPrinter(tag)
	return &MoneyFormatter{
		printer: p,
		symbol:  p.Sprint(currency.NarrowSymbol(unit)),
		unit:    unit,
	}, nil
}

// Currency returns the ISO code of the formatter's currency
func (f *MoneyFormatter) Currency() string {
	return f.unit.String()
}

// Format renders amount with two fraction digits, locale grouping and the
// currency symbol
func (f *MoneyFormatter) Format(amount decimal.Decimal) string {
	value, _ := amount.Round(2).Float64()
	sign := ""
	if value < 0 {
		sign = "-"
		value = -value
	}
	return sign + f.symbol + f.printer.Sprint(number.Decimal(value, number.Scale(2)))
}
