package google

import (
	"strings"

	calendar "google.golang.org/api/calendar/v3"
)

// CalendarScope grants read and write access to the user's calendars.
const CalendarScope = calendar.CalendarScope

// DefaultOAuthScopes are requested when connecting a calendar.
var DefaultOAuthScopes = []string{
	// OpenID Connect scopes (required for the provider account id)
	"openid",
	"https://www.googleapis.com/auth/userinfo.email",
	"https://www.googleapis.com/auth/userinfo.profile",

	CalendarScope,
}

// HasScope reports whether the space separated scope list contains want.
func HasScope(granted, want string) bool {
	for _, s := range strings.Fields(granted) {
		if s == want {
			return true
		}
	}
	return false
}
