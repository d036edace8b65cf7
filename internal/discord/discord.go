package discord

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"

	"calbot/internal/bot"

	"github.com/bwmarrin/discordgo"
)

// Commands are the application commands registered on startup.
var Commands = []*discordgo.ApplicationCommand{
	{
		Name:        bot.CommandListEvents,
		Description: "List upcoming calendar events",
	},
	{
		Name:        bot.CommandCreateEvent,
		Description: "Create a calendar event",
		Options: []*discordgo.ApplicationCommandOption{
			stringOption(bot.OptionSummary, "Event title"),
			stringOption(bot.OptionDescription, "Event description"),
			stringOption(bot.OptionStartTime, "Start, YYYY-MM-DDTHH:MM"),
			stringOption(bot.OptionEndTime, "End, YYYY-MM-DDTHH:MM"),
		},
	},
}

func stringOption(name, description string) *discordgo.ApplicationCommandOption {
	return &discordgo.ApplicationCommandOption{
		Type:        discordgo.ApplicationCommandOptionString,
		Name:        name,
		Description: description,
		Required:    true,
	}
}

// Dispatcher runs invocations; *bot.Service satisfies it.
type Dispatcher interface {
	Dispatch(ctx context.Context, inv bot.Invocation, r bot.Responder)
}

// Bot connects the command service to a Discord gateway session.
type Bot struct {
	session    *discordgo.Session
	dispatcher Dispatcher
	guildID    string
	logger     *slog.Logger
	ctx        context.Context
}

// New creates a bot for token. Commands are registered in guildID, or globally when empty.
func New(ctx context.Context, logger *slog.Logger, token, guildID string, dispatcher Dispatcher) (*Bot, error) {
	session, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("failed to create discord session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsGuilds

	b := &Bot{
		session:    session,
		dispatcher: dispatcher,
		guildID:    guildID,
		logger:     logger,
		ctx:        ctx,
	}
	session.AddHandler(b.onReady)
	session.AddHandler(b.onInteraction)
	return b, nil
}

// Open connects to the gateway and registers the commands.
func (b *Bot) Open() error {
	if err := b.session.Open(); err != nil {
		return fmt.Errorf("failed to open discord session: %w", err)
	}

	registered, err := b.session.ApplicationCommandBulkOverwrite(b.session.State.User.ID, b.guildID, Commands)
	if err != nil {
		_ = b.session.Close()
		return fmt.Errorf("failed to register commands: %w", err)
	}
	b.logger.Info("Registered commands.", "count", len(registered), "guild", b.guildID)
	return nil
}

// Close disconnects from the gateway.
func (b *Bot) Close() error {
	return b.session.Close()
}

func (b *Bot) onReady(_ *discordgo.Session, r *discordgo.Ready) {
	b.logger.Info("Bot is up and running.", "user", r.User.Username, "guilds", len(r.Guilds))
}

// onInteraction runs on its own goroutine per event; discordgo dispatches handlers concurrently.
func (b *Bot) onInteraction(s *discordgo.Session, i *discordgo.InteractionCreate) {
	inv, ok := invocationFrom(i)
	if !ok {
		return
	}
	b.dispatcher.Dispatch(b.ctx, inv, &responder{session: s, interaction: i.Interaction})
}

// invocationFrom converts an application command interaction. Other interaction types are ignored.
func invocationFrom(i *discordgo.InteractionCreate) (bot.Invocation, bool) {
	if i == nil || i.Interaction == nil || i.Type != discordgo.InteractionApplicationCommand {
		return bot.Invocation{}, false
	}

	data := i.ApplicationCommandData()
	inv := bot.Invocation{
		Command:   data.Name,
		Options:   make(map[string]string, len(data.Options)),
		ChannelID: i.ChannelID,
	}
	for _, opt := range data.Options {
		if opt.Type == discordgo.ApplicationCommandOptionString {
			inv.Options[opt.Name] = opt.StringValue()
		}
	}

	switch {
	case i.Member != nil:
		inv.Invoker.RoleIDs = append([]string(nil), i.Member.Roles...)
		if i.Member.User != nil {
			inv.Invoker.UserID = i.Member.User.ID
			inv.Invoker.Username = i.Member.User.Username
		}
	case i.User != nil:
		inv.Invoker.UserID = i.User.ID
		inv.Invoker.Username = i.User.Username
	}
	return inv, true
}

// responder answers one interaction. The first message is the interaction response;
// after a deferral the answer is a followup.
type responder struct {
	session     *discordgo.Session
	interaction *discordgo.Interaction
	deferred    bool
}

func (r *responder) Defer(ctx context.Context, ephemeral bool) error {
	err := r.session.InteractionRespond(r.interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseDeferredChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{Flags: flags(ephemeral)},
	}, discordgo.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("failed to defer interaction: %w", err)
	}
	r.deferred = true
	return nil
}

func (r *responder) Send(ctx context.Context, reply bot.Reply) error {
	if r.deferred {
		if _, err := r.session.FollowupMessageCreate(r.interaction, true, followupParams(reply), discordgo.WithContext(ctx)); err != nil {
			return fmt.Errorf("failed to send followup: %w", err)
		}
		return nil
	}

	err := r.session.InteractionRespond(r.interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: responseData(reply),
	}, discordgo.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("failed to respond to interaction: %w", err)
	}
	return nil
}

// Replies echo user input, so they never ping anyone.
func noMentions() *discordgo.MessageAllowedMentions {
	return &discordgo.MessageAllowedMentions{Parse: []discordgo.AllowedMentionType{}}
}

func responseData(reply bot.Reply) *discordgo.InteractionResponseData {
	return &discordgo.InteractionResponseData{
		Content:         reply.Content,
		Files:           toFiles(reply.Attachments),
		Flags:           flags(reply.Ephemeral),
		AllowedMentions: noMentions(),
	}
}

func followupParams(reply bot.Reply) *discordgo.WebhookParams {
	return &discordgo.WebhookParams{
		Content:         reply.Content,
		Files:           toFiles(reply.Attachments),
		Flags:           flags(reply.Ephemeral),
		AllowedMentions: noMentions(),
	}
}

func flags(ephemeral bool) discordgo.MessageFlags {
	if ephemeral {
		return discordgo.MessageFlagsEphemeral
	}
	return 0
}

func toFiles(attachments []bot.Attachment) []*discordgo.File {
	if len(attachments) == 0 {
		return nil
	}
	files := make([]*discordgo.File, 0, len(attachments))
	for _, a := range attachments {
		files = append(files, &discordgo.File{
			Name:        a.Name,
			ContentType: a.ContentType,
			Reader:      bytes.NewReader(a.Data),
		})
	}
	return files
}
