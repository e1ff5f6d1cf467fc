package order

import (
	"encoding/binary"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	NumberPrefix = "CMD-"

	// BusinessDayLayout formats the calendar day an order number belongs to.
	BusinessDayLayout = "2006-01-02"
)

var (
	numberPattern   = regexp.MustCompile(`^CMD-(\d{4,})$`)
	fallbackPattern = regexp.MustCompile(`^CMD-F[0-9A-Z]+$`)
)

// FormatNumber renders a daily sequence as CMD-NNNN.
func FormatNumber(seq int) string {
	return fmt.Sprintf("%s%04d", NumberPrefix, seq)
}

// ParseNumber extracts the daily sequence from an order number. Fallback and
// malformed numbers report ok=false and are skipped by sequence scans.
func ParseNumber(number string) (seq int, ok bool) {
	m := numberPattern.FindStringSubmatch(strings.TrimSpace(number))
	if m == nil {
		return 0, false
	}
	n, err := strconv.Atoi(m[1])
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}

// FallbackNumber derives a non-sequential identifier from a nanosecond clock
// reading plus 40 random bits, so two calls at the same instant still differ.
// Used only once sequence retries are exhausted.
func FallbackNumber(now time.Time) string {
	id := uuid.New()
	var buf [8]byte
	copy(buf[3:], id[:5])
	suffix := strconv.FormatUint(binary.BigEndian.Uint64(buf[:]), 36)
	if len(suffix) < 8 {
		suffix = strings.Repeat("0", 8-len(suffix)) + suffix
	}
	return NumberPrefix + "F" + strings.ToUpper(strconv.FormatInt(now.UnixNano(), 36)+suffix)
}

// IsFallbackNumber reports whether number came from FallbackNumber.
func IsFallbackNumber(number string) bool {
	return fallbackPattern.MatchString(number)
}

// NextSequence returns max+1 over the parsable numbers, or 1 when none parse.
func NextSequence(numbers []string) int {
	max := 0
	for _, n := range numbers {
		if seq, ok := ParseNumber(n); ok && seq > max {
			max = seq
		}
	}
	return max + 1
}

// DayBounds returns [start, end) of the calendar day containing now in loc.
func DayBounds(now time.Time, loc *time.Location) (time.Time, time.Time) {
	if loc == nil {
		loc = time.Local
	}
	local := now.In(loc)
	start := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
	return start, start.AddDate(0, 0, 1)
}
