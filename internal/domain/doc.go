// Package domain holds the entities shared by the scheduling services and the
// error taxonomy that the HTTP layer maps to responses.
//
// User is the aggregate root. Account, WeekdayRule and Scheduling rows are
// owned by exactly one User.
package domain
