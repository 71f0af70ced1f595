package pipeline

import (
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"
)

// timestampLayouts are tried in order when truncating a timestamp to its date.
var timestampLayouts = []string{
	time.DateTime,
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04",
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04:05.999999999",
	time.DateOnly,
}

// TruncateToDate parses a timestamp and returns its calendar day in the
// timestamp's own zone, e.g. "2021-06-15 10:23:00" → 2021-06-15.
func TruncateToDate(s string) (civil.Date, error) {
	s = strings.TrimSpace(s)
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return civil.DateOf(t), nil
		}
	}
	return civil.Date{}, fmt.Errorf("TruncateToDate: unrecognized timestamp %q", s)
}

// parsePriceDecimal strips one leading currency symbol and parses the rest.
func parsePriceDecimal(raw, symbol string) (decimal.Decimal, error) {
	s := strings.TrimSpace(raw)
	s = strings.TrimPrefix(s, symbol)
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("could not convert price %q to float: %w", raw, err)
	}
	return d, nil
}

// formatDecimal renders d with at least one fractional digit ("150.0"), so the
// warehouse's schema autodetection reads the column as FLOAT rather than INTEGER.
func formatDecimal(d decimal.Decimal) string {
	return withFraction(d.String())
}

func withFraction(s string) string {
	if strings.ContainsAny(s, ".eE") {
		return s
	}
	return s + ".0"
}
