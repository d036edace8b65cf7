package google

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"calbot/internal/models"

	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

const (
	// InputLayout is the wall-clock format accepted for new event times.
	InputLayout = "2006-01-02T15:04"

	dateLayout = "2006-01-02"
)

// Reminder policy attached to every created event.
var reminderOverrides = []*calendar.EventReminder{
	{Method: "email", Minutes: 24 * 60},
	{Method: "popup", Minutes: 10},
}

// CalendarClient provides a client for interacting with the Google Calendar API.
type CalendarClient struct {
	service    *calendar.Service
	logger     *slog.Logger
	calendarID string
	loc        *time.Location
}

// NewCalendarClient creates a Google Calendar client for one calendar.
// Authentication is supplied through opts, typically option.WithHTTPClient(creds.Client(ctx)).
func NewCalendarClient(ctx context.Context, logger *slog.Logger, calendarID string, loc *time.Location, opts ...option.ClientOption) (*CalendarClient, error) {
	service, err := calendar.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create calendar service: %w", err)
	}
	return &CalendarClient{
		service:    service,
		logger:     logger,
		calendarID: calendarID,
		loc:        loc,
	}, nil
}

// ListUpcoming fetches at most maxResults single-instance events starting at or after now, earliest first.
func (c *CalendarClient) ListUpcoming(ctx context.Context, now time.Time, maxResults int64) ([]*models.Event, error) {
	c.logger.Debug("Fetching upcoming events", "calendarID", c.calendarID, "max", maxResults)

	events, err := c.service.Events.List(c.calendarID).
		ShowDeleted(false).
		SingleEvents(true).
		TimeMin(now.UTC().Format(time.RFC3339)).
		MaxResults(maxResults).
		OrderBy("startTime").
		Context(ctx).
		Do()
	if err != nil {
		return nil, providerError("list events", err)
	}

	c.logger.Info("Fetched events from Google Calendar", "count", len(events.Items), "calendarID", c.calendarID)

	result := c.toInternalEvents(events.Items)
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].StartTime.Before(result[j].StartTime)
	})
	if int64(len(result)) > maxResults {
		result = result[:maxResults]
	}
	return result, nil
}

// CreateEvent localizes the input times in the configured zone and inserts the event.
func (c *CalendarClient) CreateEvent(ctx context.Context, in models.EventInput) (*models.Event, error) {
	summary := strings.TrimSpace(in.Summary)
	if summary == "" {
		return nil, &models.ValidationError{Field: "summary", Expected: "must not be empty"}
	}
	start, err := ParseLocal("start_time", in.Start, c.loc)
	if err != nil {
		return nil, err
	}
	end, err := ParseLocal("end_time", in.End, c.loc)
	if err != nil {
		return nil, err
	}
	if !end.After(start) {
		return nil, &models.ValidationError{Field: "end_time", Value: in.End, Expected: "must be after start_time"}
	}

	body := &calendar.Event{
		Summary:     summary,
		Description: in.Description,
		Start: &calendar.EventDateTime{
			DateTime: start.Format(time.RFC3339),
			TimeZone: c.loc.String(),
		},
		End: &calendar.EventDateTime{
			DateTime: end.Format(time.RFC3339),
			TimeZone: c.loc.String(),
		},
		Reminders: &calendar.EventReminders{
			UseDefault:      false,
			Overrides:       reminderOverrides,
			ForceSendFields: []string{"UseDefault"},
		},
	}

	c.logger.Debug("Inserting event", "calendarID", c.calendarID, "summary", summary, "start", start, "end", end)
	created, err := c.service.Events.Insert(c.calendarID, body).Context(ctx).Do()
	if err != nil {
		return nil, providerError("insert event", err)
	}
	c.logger.Info("Created event in Google Calendar", "id", created.Id, "calendarID", c.calendarID)

	event := c.toInternalEvent(created)
	if event == nil {
		// The provider echoed no usable times; fall back to what was submitted.
		event = &models.Event{ID: created.Id, Summary: created.Summary, Description: created.Description, Link: created.HtmlLink, UID: created.ICalUID}
		event.StartTime, event.EndTime = start, end
	}
	return event, nil
}

// ParseLocal interprets value as a YYYY-MM-DDTHH:MM wall-clock time in loc.
func ParseLocal(field, value string, loc *time.Location) (time.Time, error) {
	t, err := time.ParseInLocation(InputLayout, strings.TrimSpace(value), loc)
	if err != nil {
		return time.Time{}, &models.ValidationError{Field: field, Value: value, Expected: "expected format YYYY-MM-DDTHH:MM"}
	}
	return t, nil
}

// toInternalEvents converts Google Calendar events to the internal Event model.
func (c *CalendarClient) toInternalEvents(googleEvents []*calendar.Event) []*models.Event {
	internalEvents := make([]*models.Event, 0, len(googleEvents))
	for _, item := range googleEvents {
		event := c.toInternalEvent(item)
		if event == nil {
			c.logger.Warn("Skipping event with unparseable times", "id", item.Id)
			continue
		}
		internalEvents = append(internalEvents, event)
	}
	return internalEvents
}

func (c *CalendarClient) toInternalEvent(item *calendar.Event) *models.Event {
	start, allDay, ok := c.parseEventTime(item.Start)
	if !ok {
		return nil
	}
	end, _, ok := c.parseEventTime(item.End)
	if !ok {
		end = start
	}
	return &models.Event{
		ID:          item.Id,
		Summary:     item.Summary,
		Description: item.Description,
		StartTime:   start,
		EndTime:     end,
		AllDay:      allDay,
		Link:        item.HtmlLink,
		UID:         item.ICalUID,
	}
}

// parseEventTime reads an RFC3339 dateTime, or a date for all-day events, in the configured zone.
func (c *CalendarClient) parseEventTime(dt *calendar.EventDateTime) (time.Time, bool, bool) {
	if dt == nil {
		return time.Time{}, false, false
	}
	if dt.DateTime != "" {
		t, err := time.Parse(time.RFC3339, dt.DateTime)
		if err != nil {
			return time.Time{}, false, false
		}
		return t.In(c.loc), false, true
	}
	if dt.Date != "" {
		t, err := time.ParseInLocation(dateLayout, dt.Date, c.loc)
		if err != nil {
			return time.Time{}, false, false
		}
		return t, true, true
	}
	return time.Time{}, false, false
}

// providerError classifies a failed API call. Credential failures keep their AuthError identity.
func providerError(op string, err error) error {
	var authErr *models.AuthError
	if errors.As(err, &authErr) {
		return authErr
	}
	pe := &models.ProviderError{Op: op, Err: err}
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		pe.Status = apiErr.Code
	}
	return pe
}
