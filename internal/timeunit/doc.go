// Package timeunit converts between "HH:MM" wall-clock strings and minutes
// since midnight.
package timeunit
