package models

import "time"

// Event represents a calendar event as the bot sees it.
// This is an internal representation, independent of the Google Calendar wire types.
type Event struct {
	ID          string    // Provider-assigned event ID
	Summary     string    // Title of the event
	Description string    // Detailed description of the event
	StartTime   time.Time // Start time, normalized to the configured zone
	EndTime     time.Time // End time, normalized to the configured zone
	AllDay      bool      // True when the provider only reported a date
	Link        string    // Provider-issued HTML link to the event
	UID         string    // The iCalendar UID
}

// EventInput is the raw user input of the create-event command.
// Start and End are wall-clock values in the form YYYY-MM-DDTHH:MM.
type EventInput struct {
	Summary     string
	Description string
	Start       string
	End         string
}

// Invoker identifies the chat user behind an interaction.
type Invoker struct {
	UserID   string
	Username string
	RoleIDs  []string
}
