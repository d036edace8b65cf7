package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"calbot/internal/format"
	"calbot/internal/icalendar"
	"calbot/internal/models"

	"github.com/google/uuid"
)

// Command and option names exposed to the chat platform.
const (
	CommandListEvents  = "list-events"
	CommandCreateEvent = "create-event"

	OptionSummary     = "summary"
	OptionDescription = "description"
	OptionStartTime   = "start_time"
	OptionEndTime     = "end_time"
)

// Calendar is the subset of the calendar client the commands need.
type Calendar interface {
	ListUpcoming(ctx context.Context, now time.Time, maxResults int64) ([]*models.Event, error)
	CreateEvent(ctx context.Context, in models.EventInput) (*models.Event, error)
}

// Authorizer decides who may create events.
type Authorizer interface {
	IsAuthorized(inv models.Invoker) bool
}

// Invocation is one user-invoked command instance.
type Invocation struct {
	Command   string
	Options   map[string]string
	Invoker   models.Invoker
	ChannelID string
}

// Attachment is a file sent with a reply.
type Attachment struct {
	Name        string
	ContentType string
	Data        []byte
}

// Reply is the message sent back for an invocation.
type Reply struct {
	Content     string
	Ephemeral   bool
	Attachments []Attachment
}

// Responder delivers replies on the chat platform.
// Defer acknowledges the invocation before slow work; Send delivers the single final reply.
type Responder interface {
	Defer(ctx context.Context, ephemeral bool) error
	Send(ctx context.Context, reply Reply) error
}

// Options configures a Service.
type Options struct {
	MaxResults int64
	Timeout    time.Duration
	Now        func() time.Time
}

// Service routes invocations to command handlers.
type Service struct {
	logger     *slog.Logger
	calendar   Calendar
	guard      Authorizer
	maxResults int64
	timeout    time.Duration
	now        func() time.Time
}

// NewService creates the command service.
func NewService(logger *slog.Logger, cal Calendar, guard Authorizer, opts Options) *Service {
	if opts.MaxResults <= 0 {
		opts.MaxResults = 25
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Service{
		logger:     logger,
		calendar:   cal,
		guard:      guard,
		maxResults: opts.MaxResults,
		timeout:    opts.Timeout,
		now:        opts.Now,
	}
}

// Dispatch runs one invocation to completion. Every path ends in a reply; nothing escapes.
func (s *Service) Dispatch(ctx context.Context, inv Invocation, r Responder) {
	logger := s.logger.With("interaction", uuid.NewString(), "command", inv.Command, "user", inv.Invoker.UserID)

	defer func() {
		if p := recover(); p != nil {
			logger.Error("Command handler panicked", "panic", p, "stack", string(debug.Stack()))
			s.send(ctx, logger, r, Reply{Content: msgGeneric})
		}
	}()

	logger.Debug("Handling command.", "channel", inv.ChannelID)

	switch inv.Command {
	case CommandListEvents:
		s.listEvents(ctx, logger, r)
	case CommandCreateEvent:
		s.createEvent(ctx, logger, inv, r)
	default:
		logger.Warn("Received unknown command")
		s.send(ctx, logger, r, Reply{Content: msgUnknown, Ephemeral: true})
	}
}

func (s *Service) listEvents(ctx context.Context, logger *slog.Logger, r Responder) {
	if err := r.Defer(ctx, false); err != nil {
		logger.Error("Failed to acknowledge interaction", "error", err)
		return
	}

	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	events, err := s.calendar.ListUpcoming(callCtx, s.now(), s.maxResults)
	if err != nil {
		s.send(ctx, logger, r, s.errorReply(logger, err))
		return
	}

	logger.Info("Listed upcoming events.", "count", len(events))
	s.send(ctx, logger, r, Reply{Content: format.CodeBlock(format.Render(events))})
}

func (s *Service) createEvent(ctx context.Context, logger *slog.Logger, inv Invocation, r Responder) {
	if !s.guard.IsAuthorized(inv.Invoker) {
		err := &models.PermissionError{UserID: inv.Invoker.UserID, Command: inv.Command}
		logger.Info("Denied command", "reason", err)
		s.send(ctx, logger, r, Reply{Content: msgDenied, Ephemeral: true})
		return
	}

	if err := r.Defer(ctx, false); err != nil {
		logger.Error("Failed to acknowledge interaction", "error", err)
		return
	}

	in := models.EventInput{
		Summary:     inv.Options[OptionSummary],
		Description: inv.Options[OptionDescription],
		Start:       inv.Options[OptionStartTime],
		End:         inv.Options[OptionEndTime],
	}

	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	event, err := s.calendar.CreateEvent(callCtx, in)
	if err != nil {
		s.send(ctx, logger, r, s.errorReply(logger, err))
		return
	}
	logger.Info("Created event.", "id", event.ID, "summary", event.Summary)

	reply := Reply{Content: fmt.Sprintf("Event created: %s", event.Link)}
	if data, err := icalendar.Encode(event); err != nil {
		logger.Warn("Could not build calendar attachment", "error", err)
	} else {
		reply.Attachments = append(reply.Attachments, Attachment{
			Name:        icalendar.FileName(event),
			ContentType: icalendar.ContentType,
			Data:        data,
		})
	}
	s.send(ctx, logger, r, reply)
}

func (s *Service) send(ctx context.Context, logger *slog.Logger, r Responder, reply Reply) {
	reply.Content = format.Truncate(reply.Content, format.MessageLimit)
	if err := r.Send(ctx, reply); err != nil {
		logger.Error("Failed to send reply", "error", err)
	}
}

// errorReply maps a handler failure to the user-facing reply and logs it at the matching level.
func (s *Service) errorReply(logger *slog.Logger, err error) Reply {
	var (
		validationErr *models.ValidationError
		authErr       *models.AuthError
		providerErr   *models.ProviderError
	)

	switch {
	case errors.As(err, &validationErr):
		logger.Info("Rejected invalid input", "error", err)
		return Reply{Content: validationMessage(validationErr)}
	case errors.Is(err, context.DeadlineExceeded):
		logger.Error("Calendar request timed out", "timeout", s.timeout, "error", err)
		return Reply{Content: msgTimeout}
	case errors.As(err, &authErr):
		logger.Error("Calendar credential unavailable", "error", err)
		return Reply{Content: msgAuth}
	case errors.As(err, &providerErr):
		logger.Error("Calendar request failed", "op", providerErr.Op, "status", providerErr.Status, "error", err)
		return Reply{Content: msgProvider}
	default:
		logger.Error("Command failed", "error", err)
		return Reply{Content: msgGeneric}
	}
}
