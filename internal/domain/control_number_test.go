package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestControlNumberString(t *testing.T) {
	cn := ControlNumber{CategoryCode: "ELEC", Year: 2024, Month: 3, Sequence: 5}
	assert.Equal(t, "RMF-ELEC-2024-03-005", cn.String())

	cn.Sequence = 1000
	assert.Equal(t, "RMF-ELEC-2024-03-1000", cn.String())
}

func TestParseControlNumber(t *testing.T) {
	cn, err := ParseControlNumber("RMF-PLUMB-2025-11-042")
	require.NoError(t, err)
	assert.Equal(t, ControlNumber{CategoryCode: "PLUMB", Year: 2025, Month: 11, Sequence: 42}, cn)

	cn, err = ParseControlNumber("RMF-ELEC-2024-03-12345")
	require.NoError(t, err)
	assert.Equal(t, int64(12345), cn.Sequence)

	for _, bad := range []string{"", "RMF-ELEC-2024-3-001", "RMF-elec-2024-03-001", "RMF-ELEC-2024-13-001", "XYZ-ELEC-2024-03-001", "RMF-ELEC-2024-03-01"} {
		_, err := ParseControlNumber(bad)
		assert.Error(t, err, bad)
	}
}
