package domain

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestValidationError(t *testing.T) {
	v := NewValidationError()
	assert.False(t, v.HasErrors())
	assert.NoError(t, v.OrNil())

	v.Add("name", "must have at least 3 characters")
	v.Add("email", "must be a valid email")
	v.Add("name", "ignored")

	assert.True(t, v.HasErrors())
	assert.Equal(t, []string{"email", "name"}, v.FieldNames())
	assert.Equal(t, "must have at least 3 characters", v.Fields["name"])
	assert.Equal(t, "validation failed: email: must be a valid email; name: must have at least 3 characters", v.Error())

	var target *ValidationError
	assert.True(t, errors.As(fmt.Errorf("wrapped: %w", v.OrNil()), &target))
}

func TestExternalCalendarError(t *testing.T) {
	err := &ExternalCalendarError{SchedulingID: "abc", Op: "insert event", Err: ErrTokenRefreshFailed}

	assert.ErrorIs(t, err, ErrTokenRefreshFailed)
	assert.True(t, IsReconnectRequired(err))
	assert.Contains(t, err.Error(), "scheduling abc")

	other := &ExternalCalendarError{Op: "list busy", Err: errors.New("503")}
	assert.False(t, IsReconnectRequired(other))

	revoked := &ExternalCalendarError{Op: "list busy", Err: fmt.Errorf("%w: 401", ErrCalendarAccessRevoked)}
	assert.True(t, IsReconnectRequired(revoked))
}

func TestTimeRange_Overlaps(t *testing.T) {
	base := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	slot := TimeRange{Start: base, End: base.Add(time.Hour)}

	tests := []struct {
		name  string
		other TimeRange
		want  bool
	}{
		{"same", slot, true},
		{"ends at start", TimeRange{Start: base.Add(-time.Hour), End: base}, false},
		{"starts at end", TimeRange{Start: base.Add(time.Hour), End: base.Add(2 * time.Hour)}, false},
		{"inside", TimeRange{Start: base.Add(15 * time.Minute), End: base.Add(30 * time.Minute)}, true},
		{"straddles start", TimeRange{Start: base.Add(-30 * time.Minute), End: base.Add(time.Minute)}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, slot.Overlaps(tt.other))
		})
	}
}
