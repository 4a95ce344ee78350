package core

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAmount(t *testing.T) {
	cases := []struct {
		in  string
		out string
		ok  bool
	}{
		{"1", "1", true},
		{"1.23", "1.23", true},
		{"1,23", "1.23", true},
		{" 2.50 ", "2.5", true},
		{"-4", "-4", true},
		{"0", "0", true},
		{"abc", "", false},
		{"1.2.3", "", false},
		{"1,000", "", false},
		{"1,000,000", "", false},
		{"1.000,50", "", false},
		{"12,", "", false},
		{"1,5e3", "", false},
		{"1,5", "1.5", true},
		{"1e3", "1000", true},
		{"0.00000001", "0.00000001", true},
		{"1e20000000", "", false},
		{"1e-20000000", "", false},
		{"0.000000001", "", false},
		{"1" + strings.Repeat("0", 40), "", false},
		{"", "", false},
	}
	for _, tc := range cases {
		got, err := ParseAmount("amount", tc.in)
		if !tc.ok {
			assert.ErrorIs(t, err, ErrInvalidArgument, "input %q", tc.in)
			continue
		}
		require.NoError(t, err, "input %q", tc.in)
		assert.True(t, got.Equal(dec(tc.out)), "%q parsed to %s", tc.in, got)
	}
}

func TestLedgerEventValidate(t *testing.T) {
	ev := LedgerEvent{Kind: EventTransferCreated}
	assert.ErrorIs(t, ev.Validate(), ErrInvalidArgument)

	ev.OccurredAt = ev.OccurredAt.AddDate(2025, 0, 0)
	assert.NoError(t, ev.Validate())

	ev.Kind = "bogus"
	assert.ErrorIs(t, ev.Validate(), ErrInvalidArgument)
}
