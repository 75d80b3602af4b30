package domain

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"golang.org/x/text/currency"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// Money is a USD amount in micro-dollars. Ledger arithmetic never touches floats.
type Money int64

const (
	Microdollar Money = 1
	Cent        Money = 10_000
	Dollar      Money = 1_000_000
)

const moneyScale = 6

var moneyPrinter = message.NewPrinter(language.English)

// ParseMoney parses decimal dollar text such as "0.50", "$1.5" or "10".
func ParseMoney(s string) (Money, error) {
	raw := strings.TrimSpace(s)
	raw = strings.TrimPrefix(raw, "$")
	if raw == "" {
		return 0, fmt.Errorf("parse money %q: empty", s)
	}
	negative := false
	switch raw[0] {
	case '-':
		negative = true
		raw = raw[1:]
	case '+':
		raw = raw[1:]
	}
	whole, frac, _ := strings.Cut(raw, ".")
	if whole == "" && frac == "" {
		return 0, fmt.Errorf("parse money %q: no digits", s)
	}
	if len(frac) > moneyScale {
		return 0, fmt.Errorf("parse money %q: more than %d decimal places", s, moneyScale)
	}
	if whole == "" {
		whole = "0"
	}
	w, err := strconv.ParseInt(whole, 10, 64)
	if err != nil || w < 0 {
		return 0, fmt.Errorf("parse money %q: invalid whole part", s)
	}
	var f int64
	if frac != "" {
		f, err = strconv.ParseInt(frac+strings.Repeat("0", moneyScale-len(frac)), 10, 64)
		if err != nil || f < 0 {
			return 0, fmt.Errorf("parse money %q: invalid fraction", s)
		}
	}
	if w > (math.MaxInt64-f)/int64(Dollar) {
		return 0, fmt.Errorf("parse money %q: out of range", s)
	}
	m := Money(w)*Dollar + Money(f)
	if negative {
		m = -m
	}
	return m, nil
}

// MustMoney is ParseMoney for constants and tests.
func MustMoney(s string) Money {
	m, err := ParseMoney(s)
	if err != nil {
		panic(err)
	}
	return m
}

// String renders the exact decimal amount with at least two decimal places.
func (m Money) String() string {
	sign := ""
	v := int64(m)
	if v < 0 {
		sign = "-"
		v = -v
	}
	whole := v / int64(Dollar)
	frac := strings.TrimRight(fmt.Sprintf("%06d", v%int64(Dollar)), "0")
	for len(frac) < 2 {
		frac += "0"
	}
	return fmt.Sprintf("%s%d.%s", sign, whole, frac)
}

// Display renders the amount for operators, rounded to cents with a currency symbol.
func (m Money) Display() string {
	return moneyPrinter.Sprint(currency.Symbol(currency.USD.Amount(m.Dollars())))
}

// Dollars converts to float for display and metrics only.
func (m Money) Dollars() float64 {
	return float64(m) / float64(Dollar)
}

// MulDiv returns m*num/den rounded half away from zero.
func (m Money) MulDiv(num, den int64) Money {
	if den == 0 {
		return 0
	}
	p := int64(m) * num
	q := p / den
	r := p % den
	if r < 0 {
		r = -r
	}
	if 2*r >= abs64(den) {
		if (p < 0) != (den < 0) {
			q--
		} else {
			q++
		}
	}
	return Money(q)
}

func (m Money) MarshalJSON() ([]byte, error) {
	return json.Marshal(m.String())
}

func (m *Money) UnmarshalJSON(data []byte) error {
	text := strings.TrimSpace(string(data))
	if text == "null" {
		return nil
	}
	if unquoted, err := strconv.Unquote(text); err == nil {
		text = unquoted
	}
	parsed, err := ParseMoney(text)
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

func abs64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
