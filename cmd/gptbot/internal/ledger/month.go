// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package ledger

import (
	"fmt"
	"time"
)

// Month is a calendar month without a day component.
type Month struct {
	Year  int
	Month time.Month
}

// MonthOf returns the month t falls in, in t's location.
func MonthOf(t time.Time) Month { return Month{Year: t.Year(), Month: t.Month()} }

// ParseMonth parses a month formatted as "2006-01".
func ParseMonth(s string) (Month, error) {
	t, err := time.Parse("2006-01", s)
	if err != nil {
		return Month{}, fmt.Errorf("invalid month %q: %w", s, err)
	}
	return MonthOf(t), nil
}

// String formats m as "2006-01".
func (m Month) String() string { return fmt.Sprintf("%04d-%02d", m.Year, int(m.Month)) }

// AddMonths returns the month n months after m. n may be negative.
func (m Month) AddMonths(n int) Month {
	total := m.Year*12 + int(m.Month-1) + n
	return Month{Year: floorDiv(total, 12), Month: time.Month(total-floorDiv(total, 12)*12) + 1}
}

func floorDiv(a, b int) int {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}

// MonthsBetween returns the number of months from from to to. It is zero for
// the same month and negative if to is earlier than from.
func MonthsBetween(from, to Month) int {
	return (to.Year-from.Year)*12 + int(to.Month) - int(from.Month)
}

// Backfill extends costs with zeros so that index is a valid position and
// returns the result. It never shrinks costs, so calling it again with the
// same or a smaller index changes nothing.
func Backfill(costs []float64, index int) []float64 {
	for len(costs) <= index {
		costs = append(costs, 0)
	}
	return costs
}
