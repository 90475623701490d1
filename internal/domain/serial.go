package domain

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

const (
	// CounterSeed is the value a factory counter starts from before its first allocation.
	CounterSeed int64 = 10000

	// OrderIDPrefix and ProductIDPrefix name the human ID sequences.
	OrderIDPrefix   = "ORD"
	ProductIDPrefix = "PRD"
	// SequentialIDWidth is the zero padded width of human IDs.
	SequentialIDWidth = 5
)

// SerialPrefix returns MMYY followed by the upper-cased factory and model codes.
func SerialPrefix(month, year int, factoryCode, modelCode string) string {
	return fmt.Sprintf("%02d%02d%s%s",
		month,
		year%100,
		strings.ToUpper(strings.TrimSpace(factoryCode)),
		strings.ToUpper(strings.TrimSpace(modelCode)),
	)
}

// ItemSerial formats the serial printed on a single unit.
func ItemSerial(month, year int, factoryCode, modelCode string, counter int64) string {
	return SerialPrefix(month, year, factoryCode, modelCode) + strconv.FormatInt(counter, 10)
}

// OrderRangeSerial formats the serial of an order covering counters start..end.
func OrderRangeSerial(month, year int, factoryCode, modelCode string, start, end int64) string {
	return SerialPrefix(month, year, factoryCode, modelCode) + strconv.FormatInt(start, 10) + "-" + strconv.FormatInt(end, 10)
}

// BoxNumber returns the 1-based box for the zero-based unit index.
func BoxNumber(index, unitsPerBox int) int {
	if unitsPerBox <= 0 {
		unitsPerBox = 1
	}
	return (index + unitsPerBox) / unitsPerBox
}

// ParseTrailingCounter extracts the trailing run of decimal digits from a serial.
// Serials whose model code ends in digits yield a value larger than the issued counter;
// callers that know the prefix should use ParseSerialCounter instead.
func ParseTrailingCounter(serial string) (int64, bool) {
	serial = strings.TrimSpace(serial)
	end := len(serial)
	start := end
	for start > 0 && serial[start-1] >= '0' && serial[start-1] <= '9' {
		start--
	}
	if start == end {
		return 0, false
	}
	digits := strings.TrimLeft(serial[start:end], "0")
	if digits == "" {
		return 0, true
	}
	value, err := strconv.ParseInt(digits, 10, 64)
	if err != nil {
		return 0, false
	}
	return value, true
}

// ParseSerialCounter strips a known prefix and parses the remainder as the counter.
func ParseSerialCounter(serial, prefix string) (int64, bool) {
	serial = strings.TrimSpace(serial)
	if prefix == "" || !strings.HasPrefix(serial, prefix) {
		return 0, false
	}
	rest := serial[len(prefix):]
	if rest == "" || strings.TrimLeft(rest, "0123456789") != "" {
		return 0, false
	}
	value, err := strconv.ParseInt(rest, 10, 64)
	if err != nil || value < 0 {
		return 0, false
	}
	return value, true
}

// FormatSequentialID renders a human ID such as ORD00001.
func FormatSequentialID(prefix string, width int, n int64) string {
	if width <= 0 {
		return prefix + strconv.FormatInt(n, 10)
	}
	return fmt.Sprintf("%s%0*d", prefix, width, n)
}

// ParseSequentialID returns the numeric part of a human ID with the given prefix.
func ParseSequentialID(prefix, id string) (int64, bool) {
	id = strings.TrimSpace(id)
	if !strings.HasPrefix(id, prefix) {
		return 0, false
	}
	rest := id[len(prefix):]
	if rest == "" || strings.TrimLeft(rest, "0123456789") != "" {
		return 0, false
	}
	value, err := strconv.ParseInt(rest, 10, 64)
	if err != nil {
		return 0, false
	}
	return value, true
}

// ValidCode reports whether a factory or model code can be embedded in a serial.
func ValidCode(code string) bool {
	code = strings.TrimSpace(code)
	if code == "" || len(code) > 16 {
		return false
	}
	for _, r := range code {
		switch {
		case r >= '0' && r <= '9', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		default:
			return false
		}
	}
	return true
}

// CounterRange returns the exclusive allocation [previous+1, previous+amount].
func CounterRange(previous, amount int64) (start, end int64, err error) {
	if amount <= 0 {
		return 0, 0, fmt.Errorf("allocation amount must be positive, got %d", amount)
	}
	if previous > math.MaxInt64-amount {
		return 0, 0, fmt.Errorf("counter overflow: %d + %d", previous, amount)
	}
	return previous + 1, previous + amount, nil
}
