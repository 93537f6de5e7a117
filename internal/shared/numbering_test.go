package shared

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFormatNumberPadsSequence(t *testing.T) {
	require.Equal(t, "PED20250001", FormatNumber("PED", 2025, 1))
	require.Equal(t, "COT20250042", FormatNumber("COT", 2025, 42))
	require.Equal(t, "PED202510000", FormatNumber("PED", 2025, 10000))
}

func TestNextSequence(t *testing.T) {
	require.Equal(t, 1, NextSequence("", "PED", 2025))
	require.Equal(t, 2, NextSequence("PED20250001", "PED", 2025))
	require.Equal(t, 100, NextSequence("PED20250099", "PED", 2025))

	// A new year or a foreign prefix restarts the sequence.
	require.Equal(t, 1, NextSequence("PED20240093", "PED", 2025))
	require.Equal(t, 1, NextSequence("COT20250007", "PED", 2025))
	require.Equal(t, 1, NextSequence("PED2025abc", "PED", 2025))

	// Sequences keep counting past four digits.
	require.Equal(t, 10001, NextSequence("PED202510000", "PED", 2025))
}
