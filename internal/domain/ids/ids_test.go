package ids

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewULID(t *testing.T) {
	first := NewULID()
	require.Len(t, first, 26)
	require.True(t, IsULID(first))

	require.NotEqual(t, first, NewULID())
}

func TestIsULID(t *testing.T) {
	cases := []struct {
		name  string
		value string
		want  bool
	}{
		{"valid uppercase", "01HQZX3Y4K6F7G8H9J0K1M2N3P", true},
		{"valid lowercase", "01hqzx3y4k6f7g8h9j0k1m2n3p", true},
		{"valid with surrounding space", "  01HQZX3Y4K6F7G8H9J0K1M2N3P  ", true},
		{"too short", "01HQZX3Y4K", false},
		{"invalid characters", "01HQZX3Y4K6F7G8H9J0K1M2NIL", false},
		{"empty", "", false},
		{"uuid is not a ulid", "6fa459ea-ee8a-3ca4-894e-db77e160355e", false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, IsULID(tc.value))
		})
	}
}

func TestNormalize(t *testing.T) {
	require.Equal(t, "01HQZX3Y4K6F7G8H9J0K1M2N3P", Normalize(" 01hqzx3y4k6f7g8h9j0k1m2n3p "))
}
