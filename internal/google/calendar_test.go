package google

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"calbot/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/option"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func laZone(t *testing.T) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation("America/Los_Angeles")
	require.NoError(t, err)
	return loc
}

// fakeCalendar serves the two endpoints the client uses.
type fakeCalendar struct {
	listItems []*calendar.Event
	status    int
	delay     time.Duration
	inserts   atomic.Int32

	mu        sync.Mutex
	lastQuery string
	lastBody  *calendar.Event
}

func (f *fakeCalendar) query() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastQuery
}

func (f *fakeCalendar) body() *calendar.Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastBody
}

func (f *fakeCalendar) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-r.Context().Done():
			return
		}
	}
	if f.status != 0 {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(f.status)
		_, _ = fmt.Fprintf(w, `{"error":{"code":%d,"message":"boom"}}`, f.status)
		return
	}
	if !strings.HasSuffix(r.URL.Path, "/calendars/primary/events") {
		http.NotFound(w, r)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	switch r.Method {
	case http.MethodGet:
		f.mu.Lock()
		f.lastQuery = r.URL.RawQuery
		f.mu.Unlock()
		_ = json.NewEncoder(w).Encode(&calendar.Events{Items: f.listItems})
	case http.MethodPost:
		f.inserts.Add(1)
		var ev calendar.Event
		if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		f.mu.Lock()
		f.lastBody = &ev
		f.mu.Unlock()
		ev.Id = "evt123"
		ev.HtmlLink = "https://calendar.google.com/event?eid=evt123"
		ev.ICalUID = "evt123@google.com"
		_ = json.NewEncoder(w).Encode(&ev)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func newTestClient(t *testing.T, h http.Handler) *CalendarClient {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	client, err := NewCalendarClient(context.Background(), testLogger(), "primary", laZone(t),
		option.WithHTTPClient(srv.Client()), option.WithEndpoint(srv.URL+"/"))
	require.NoError(t, err)
	return client
}

func TestListUpcomingQueryAndOrdering(t *testing.T) {
	fake := &fakeCalendar{listItems: []*calendar.Event{
		{Id: "b", Summary: "Later", Start: &calendar.EventDateTime{DateTime: "2025-03-02T18:00:00Z"}, End: &calendar.EventDateTime{DateTime: "2025-03-02T19:00:00Z"}},
		{Id: "a", Summary: "Sooner", Start: &calendar.EventDateTime{DateTime: "2025-03-01T18:00:00Z"}, End: &calendar.EventDateTime{DateTime: "2025-03-01T19:00:00Z"}},
		{Id: "c", Summary: "Holiday", Start: &calendar.EventDateTime{Date: "2025-03-03"}, End: &calendar.EventDateTime{Date: "2025-03-04"}},
	}}
	client := newTestClient(t, fake)

	now := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	events, err := client.ListUpcoming(context.Background(), now, 25)
	require.NoError(t, err)
	require.Len(t, events, 3)

	assert.Equal(t, "Sooner", events[0].Summary)
	assert.Equal(t, "Later", events[1].Summary)
	assert.Equal(t, "Holiday", events[2].Summary)
	assert.True(t, events[2].AllDay)
	assert.Equal(t, "America/Los_Angeles", events[0].StartTime.Location().String())
	assert.Equal(t, 10, events[0].StartTime.Hour(), "18:00Z is 10:00 in Los Angeles")

	assert.Contains(t, fake.query(), "singleEvents=true")
	assert.Contains(t, fake.query(), "orderBy=startTime")
	assert.Contains(t, fake.query(), "maxResults=25")
	assert.Contains(t, fake.query(), "timeMin=2025-03-01T00%3A00%3A00Z")
}

func TestListUpcomingCapsResults(t *testing.T) {
	var items []*calendar.Event
	for i := 0; i < 5; i++ {
		start := time.Date(2025, 3, 1+i, 12, 0, 0, 0, time.UTC).Format(time.RFC3339)
		items = append(items, &calendar.Event{Summary: "e", Start: &calendar.EventDateTime{DateTime: start}})
	}
	client := newTestClient(t, &fakeCalendar{listItems: items})

	events, err := client.ListUpcoming(context.Background(), time.Now(), 3)
	require.NoError(t, err)
	assert.Len(t, events, 3)
}

func TestListUpcomingEmpty(t *testing.T) {
	client := newTestClient(t, &fakeCalendar{})

	events, err := client.ListUpcoming(context.Background(), time.Now(), 25)
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestListUpcomingProviderError(t *testing.T) {
	client := newTestClient(t, &fakeCalendar{status: http.StatusInternalServerError})

	_, err := client.ListUpcoming(context.Background(), time.Now(), 25)
	var pe *models.ProviderError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, http.StatusInternalServerError, pe.Status)
}

func TestListUpcomingTimeout(t *testing.T) {
	client := newTestClient(t, &fakeCalendar{delay: 2 * time.Second})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := client.ListUpcoming(ctx, time.Now(), 25)
	var pe *models.ProviderError
	require.ErrorAs(t, err, &pe)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestCreateEventLocalizesAndAttachesReminders(t *testing.T) {
	fake := &fakeCalendar{}
	client := newTestClient(t, fake)

	event, err := client.CreateEvent(context.Background(), models.EventInput{
		Summary:     "Build night",
		Description: "Bring snacks",
		Start:       "2025-03-01T10:00",
		End:         "2025-03-01T11:00",
	})
	require.NoError(t, err)
	assert.Equal(t, int32(1), fake.inserts.Load())
	assert.Equal(t, "https://calendar.google.com/event?eid=evt123", event.Link)
	assert.Equal(t, "evt123@google.com", event.UID)

	body := fake.body()
	require.NotNil(t, body)
	assert.Equal(t, "Build night", body.Summary)
	assert.Equal(t, "Bring snacks", body.Description)
	assert.Equal(t, "2025-03-01T10:00:00-08:00", body.Start.DateTime)
	assert.Equal(t, "2025-03-01T11:00:00-08:00", body.End.DateTime)
	assert.Equal(t, "America/Los_Angeles", body.Start.TimeZone)
	assert.Equal(t, "America/Los_Angeles", body.End.TimeZone)

	start, err := time.Parse(time.RFC3339, body.Start.DateTime)
	require.NoError(t, err)
	end, err := time.Parse(time.RFC3339, body.End.DateTime)
	require.NoError(t, err)
	assert.Equal(t, time.Hour, end.Sub(start))

	require.NotNil(t, body.Reminders)
	assert.False(t, body.Reminders.UseDefault)
	require.Len(t, body.Reminders.Overrides, 2)
	assert.Equal(t, "email", body.Reminders.Overrides[0].Method)
	assert.Equal(t, int64(1440), body.Reminders.Overrides[0].Minutes)
	assert.Equal(t, "popup", body.Reminders.Overrides[1].Method)
	assert.Equal(t, int64(10), body.Reminders.Overrides[1].Minutes)
}

func TestCreateEventValidation(t *testing.T) {
	tests := []struct {
		name  string
		in    models.EventInput
		field string
	}{
		{"malformed start", models.EventInput{Summary: "x", Start: "not-a-date", End: "2025-03-01T11:00"}, "start_time"},
		{"malformed end", models.EventInput{Summary: "x", Start: "2025-03-01T10:00", End: "11:00"}, "end_time"},
		{"seconds not accepted", models.EventInput{Summary: "x", Start: "2025-03-01T10:00:00", End: "2025-03-01T11:00"}, "start_time"},
		{"end before start", models.EventInput{Summary: "x", Start: "2025-03-01T11:00", End: "2025-03-01T10:00"}, "end_time"},
		{"empty summary", models.EventInput{Summary: "  ", Start: "2025-03-01T10:00", End: "2025-03-01T11:00"}, "summary"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake := &fakeCalendar{}
			client := newTestClient(t, fake)

			_, err := client.CreateEvent(context.Background(), tt.in)
			var ve *models.ValidationError
			require.ErrorAs(t, err, &ve)
			assert.Equal(t, tt.field, ve.Field)
			assert.Equal(t, int32(0), fake.inserts.Load(), "no provider call on invalid input")
		})
	}
}

func TestCreateEventProviderError(t *testing.T) {
	client := newTestClient(t, &fakeCalendar{status: http.StatusForbidden})

	_, err := client.CreateEvent(context.Background(), models.EventInput{Summary: "x", Start: "2025-03-01T10:00", End: "2025-03-01T11:00"})
	var pe *models.ProviderError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, http.StatusForbidden, pe.Status)
	assert.Equal(t, "insert event", pe.Op)
}

func TestCalendarSurfacesAuthError(t *testing.T) {
	fake := &fakeCalendar{}
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	creds := newCredentialStore(t, NewTokenStore(t.TempDir()+"/token.json"), "http://127.0.0.1:1/token")
	ctx := context.Background()
	client, err := NewCalendarClient(ctx, testLogger(), "primary", laZone(t),
		option.WithHTTPClient(creds.Client(ctx)), option.WithEndpoint(srv.URL+"/"))
	require.NoError(t, err)

	_, err = client.ListUpcoming(ctx, time.Now(), 25)
	var authErr *models.AuthError
	require.ErrorAs(t, err, &authErr)
	assert.ErrorIs(t, err, models.ErrNoCredential)
}

func TestParseLocalKeepsWallClock(t *testing.T) {
	loc := laZone(t)

	got, err := ParseLocal("start_time", "2025-07-04T21:30", loc)
	require.NoError(t, err)
	assert.Equal(t, 21, got.Hour())
	assert.Equal(t, 30, got.Minute())
	assert.Equal(t, loc, got.Location())
	assert.Equal(t, "2025-07-04T21:30:00-07:00", got.Format(time.RFC3339))
}
