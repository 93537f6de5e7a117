package shared

import (
	"fmt"
	"strconv"
	"strings"
)

// FormatNumber renders sequential document numbers such as PED20250001:
// prefix, four-digit year, zero-padded four-digit sequence.
func FormatNumber(prefix string, year, seq int) string {
	return fmt.Sprintf("%s%d%04d", prefix, year, seq)
}

// NextSequence derives the next sequence from the highest existing number
// for the given prefix and year. An empty or foreign number restarts at 1.
// The sequence widens past 9999 naturally since the suffix is parsed, not
// sliced.
func NextSequence(lastNumber, prefix string, year int) int {
	head := fmt.Sprintf("%s%d", prefix, year)
	if !strings.HasPrefix(lastNumber, head) {
		return 1
	}
	seq, err := strconv.Atoi(lastNumber[len(head):])
	if err != nil || seq < 0 {
		return 1
	}
	return seq + 1
}
