// Package calendar mirrors bookings into Google Calendar and reads busy time
// from it.
//
// Every call takes a google.Credential obtained from the TokenManager; the
// client never refreshes tokens itself.
//
// Example usage:
//
//	client := calendar.NewClient(calendar.Options{Metrics: metrics})
//	ref, err := client.InsertEvent(ctx, cred, calendar.EventSpec{
//	    ID:      calendar.EventIDFromSchedulingID(scheduling.ID),
//	    Summary: "Call: " + scheduling.Name,
//	    Start:   scheduling.Date,
//	    End:     scheduling.Date.Add(time.Hour),
//	})
package calendar
