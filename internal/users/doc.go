// Package users claims usernames and connects Google calendars to them.
package users
