package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProgressPercent(t *testing.T) {
	tests := []struct {
		name    string
		done    int64
		total   int64
		percent int
		indet   bool
	}{
		{"zero of hundred", 0, 100, 0, false},
		{"floor not round", 999, 1000, 99, false},
		{"complete", 100, 100, 100, false},
		{"overshoot clamps", 150, 100, 100, false},
		{"negative done clamps", -5, 100, 0, false},
		{"zero total indeterminate", 50, 0, 0, true},
		{"negative total indeterminate", 50, -1, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := ProgressPercent(tt.done, tt.total)
			assert.Equal(t, tt.percent, p.Percent)
			assert.Equal(t, tt.indet, p.Indeterminate)
			assert.Equal(t, tt.done, p.BytesUploaded)
		})
	}
}

func TestPrefixIdentityID(t *testing.T) {
	id, err := PrefixIdentityID("u@ex.com_abc123")
	require.NoError(t, err)
	assert.Equal(t, "abc123", id)

	// underscores in the label are part of the label, not the id
	id, err = PrefixIdentityID("first_last@ex.com_abc123")
	require.NoError(t, err)
	assert.Equal(t, "abc123", id)

	for _, malformed := range []string{"", "noseparator", "_leading", "trailing_"} {
		_, err := PrefixIdentityID(malformed)
		assert.Error(t, err, malformed)
	}
}

func TestBuildPrefixRoundTrip(t *testing.T) {
	prefix := BuildPrefix("u@ex.com", "abc123")
	assert.Equal(t, "u@ex.com_abc123", prefix)

	id, err := PrefixIdentityID(prefix)
	require.NoError(t, err)
	assert.Equal(t, "abc123", id)
}

func TestBatchFailedItems(t *testing.T) {
	batch := &Batch{Items: []BatchItem{
		{Index: 0, Status: ItemStatusSucceeded},
		{Index: 1, Status: ItemStatusFailed},
		{Index: 2, Status: ItemStatusSkipped},
		{Index: 3, Status: ItemStatusFailed},
		{Index: 4, Status: ItemStatusCancelled, ErrorKind: ErrorKindCancelled},
		{Index: 5, Status: ItemStatusPending},
	}}

	failed := batch.FailedItems()
	require.Len(t, failed, 2, "only genuine failures are retryable")
	assert.Equal(t, 1, failed[0].Index)
	assert.Equal(t, 3, failed[1].Index)
}
