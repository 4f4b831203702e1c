package timeunit

import (
	"errors"
	"fmt"
)

// MinutesPerDay is the number of minutes in a day. It is also the largest
// value FromMinutes accepts, rendered as "24:00".
const MinutesPerDay = 24 * 60

// ErrMalformed is returned for strings that are not a 24-hour "HH:MM" clock
// value and for minute counts outside [0, MinutesPerDay].
var ErrMalformed = errors.New("timeunit: malformed clock value")

// ToMinutes converts "HH:MM" to minutes since midnight.
// "24:00" is accepted so that an availability window can end at midnight.
func ToMinutes(s string) (int, error) {
	if len(s) != 5 || s[2] != ':' {
		return 0, fmt.Errorf("%w: %q", ErrMalformed, s)
	}

	hours, ok := twoDigits(s[0], s[1])
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrMalformed, s)
	}
	mins, ok := twoDigits(s[3], s[4])
	if !ok || mins > 59 {
		return 0, fmt.Errorf("%w: %q", ErrMalformed, s)
	}

	total := hours*60 + mins
	if hours > 24 || total > MinutesPerDay {
		return 0, fmt.Errorf("%w: %q", ErrMalformed, s)
	}
	return total, nil
}

// FromMinutes converts minutes since midnight to "HH:MM".
func FromMinutes(m int) (string, error) {
	if m < 0 || m > MinutesPerDay {
		return "", fmt.Errorf("%w: %d minutes", ErrMalformed, m)
	}
	return fmt.Sprintf("%02d:%02d", m/60, m%60), nil
}

// MustFromMinutes is FromMinutes for values already known to be in range.
func MustFromMinutes(m int) string {
	s, err := FromMinutes(m)
	if err != nil {
		panic(err)
	}
	return s
}

func twoDigits(a, b byte) (int, bool) {
	if a < '0' || a > '9' || b < '0' || b > '9' {
		return 0, false
	}
	return int(a-'0')*10 + int(b-'0'), true
}
