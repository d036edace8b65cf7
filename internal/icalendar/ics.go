package icalendar

import (
	"bytes"
	"fmt"
	"time"

	"calbot/internal/models"

	"github.com/emersion/go-ical"
	"github.com/google/uuid"
)

const productID = "-//calbot//EN"

// ContentType is the MIME type of an encoded calendar.
const ContentType = "text/calendar; charset=utf-8"

// FileName returns the attachment name used for an event.
func FileName(event *models.Event) string {
	if event.ID != "" {
		return fmt.Sprintf("event-%s.ics", event.ID)
	}
	return "event.ics"
}

// Encode renders the event as a single-event VCALENDAR carrying the same reminders as the provider copy.
func Encode(event *models.Event) ([]byte, error) {
	cal := ical.NewCalendar()
	cal.Props.SetText(ical.PropVersion, "2.0")
	cal.Props.SetText(ical.PropProductID, productID)
	cal.Children = append(cal.Children, toVEvent(event, time.Now().UTC()))

	var buf bytes.Buffer
	if err := ical.NewEncoder(&buf).Encode(cal); err != nil {
		return nil, fmt.Errorf("failed to encode event to iCal format: %w", err)
	}
	return buf.Bytes(), nil
}

// toVEvent converts an internal Event model to an ical.Component (VEvent).
func toVEvent(event *models.Event, stamp time.Time) *ical.Component {
	uid := event.UID
	if uid == "" {
		uid = uuid.New().String()
	}

	ve := ical.NewComponent(ical.CompEvent)
	ve.Props.SetText(ical.PropUID, uid)
	ve.Props.SetText(ical.PropSummary, event.Summary)
	ve.Props.SetDateTime(ical.PropDateTimeStamp, stamp)
	ve.Props.SetDateTime(ical.PropDateTimeStart, event.StartTime.UTC())
	ve.Props.SetDateTime(ical.PropDateTimeEnd, event.EndTime.UTC())

	if event.Description != "" {
		ve.Props.SetText(ical.PropDescription, event.Description)
	}
	if event.Link != "" {
		ve.Props.SetText(ical.PropURL, event.Link)
	}

	ve.Children = append(ve.Children,
		alarm("EMAIL", "-P1D", event.Summary),
		alarm("DISPLAY", "-PT10M", event.Summary),
	)
	return ve
}

func alarm(action, trigger, summary string) *ical.Component {
	a := ical.NewComponent(ical.CompAlarm)
	a.Props.SetText(ical.PropAction, action)
	a.Props.SetText(ical.PropTrigger, trigger)
	a.Props.SetText(ical.PropDescription, summary)
	if action == "EMAIL" {
		a.Props.SetText(ical.PropSummary, summary)
	}
	return a
}
