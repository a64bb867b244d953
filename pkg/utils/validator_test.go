package utils

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseUUID(t *testing.T) {
	id := uuid.New()

	got, err := ParseUUID("workflow_id", " "+id.String()+" ")
	require.NoError(t, err)
	assert.Equal(t, id, got)

	tests := []struct {
		name  string
		value string
		want  string
	}{
		{"empty", "", "workflow_id is required"},
		{"garbage", "abc", "workflow_id must be a valid UUID: abc"},
		{"nil", uuid.Nil.String(), "workflow_id cannot be the nil UUID"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseUUID("workflow_id", tt.value)
			require.Error(t, err)
			assert.Equal(t, tt.want, err.Error())
		})
	}
}

func TestNormalizePage(t *testing.T) {
	tests := []struct {
		limit, offset         int
		wantLimit, wantOffset int
	}{
		{0, 0, DefaultPageSize, 0},
		{50, 10, 50, 10},
		{500, -1, DefaultPageSize, 0},
	}
	for _, tt := range tests {
		limit, offset := NormalizePage(tt.limit, tt.offset)
		assert.Equal(t, tt.wantLimit, limit)
		assert.Equal(t, tt.wantOffset, offset)
	}
}
