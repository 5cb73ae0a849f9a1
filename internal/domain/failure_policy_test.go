package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFailureMode(t *testing.T) {
	tests := []struct {
		in      string
		want    FailureMode
		wantErr bool
	}{
		{"strict", FailureModeStrict, false},
		{" STRICT ", FailureModeStrict, false},
		{"best-effort", FailureModeBestEffort, false},
		{"best_effort", FailureModeBestEffort, false},
		{"lenient", "", true},
	}

	for _, tt := range tests {
		got, err := ParseFailureMode(tt.in)
		if tt.wantErr {
			require.Error(t, err, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got)
	}
}

func TestFailureMode_UnmarshalText(t *testing.T) {
	var m FailureMode
	require.NoError(t, m.UnmarshalText([]byte("besteffort")))
	assert.Equal(t, FailureModeBestEffort, m)

	require.Error(t, m.UnmarshalText([]byte("sometimes")))
	assert.Equal(t, FailureModeBestEffort, m)
}

func TestFailurePolicy_ModeFor(t *testing.T) {
	p := DefaultFailurePolicy()
	assert.Equal(t, FailureModeBestEffort, p.ModeFor(CategoryReturnFetch))
	assert.Equal(t, FailureModeBestEffort, p.ModeFor(CategoryReturnSubmit))
	assert.Equal(t, FailureModeBestEffort, p.ModeFor(CategoryReturnClose))
	assert.True(t, p.ModeFor("refund").IsStrict())

	strict := StrictFailurePolicy()
	assert.True(t, strict.ModeFor(CategoryReturnClose).IsStrict())
}
