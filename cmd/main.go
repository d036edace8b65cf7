package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"calbot/internal/access"
	"calbot/internal/bot"
	"calbot/internal/config"
	"calbot/internal/discord"
	"calbot/internal/format"
	"calbot/internal/google"
	"calbot/internal/models"

	"github.com/joho/godotenv"
	"github.com/urfave/cli/v2"
	"google.golang.org/api/option"
)

func main() {
	// Load .env file first, but don't error if it doesn't exist.
	_ = godotenv.Load()

	app := &cli.App{
		Name:  "calbot",
		Usage: "Discord bot that lists and creates Google Calendar events.",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", EnvVars: []string{"CALBOT_CONFIG"}, Usage: "Path to a TOML config file."},
			&cli.StringFlag{Name: "log-level", EnvVars: []string{"LOG_LEVEL"}, Value: "info", Usage: "debug, info, warn or error."},
		},
		Commands: []*cli.Command{
			authCommand(),
			serveCommand(),
			eventsCommand(),
		},
	}

	if err := app.Run(os.Args); err != nil {
		slog.Error("Application failed", "error", err)
		os.Exit(1)
	}
}

func authCommand() *cli.Command {
	return &cli.Command{
		Name:  "auth",
		Usage: "Authorize Google Calendar access once and store the token.",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "manual", Usage: "Paste the authorization code instead of using a loopback redirect."},
		},
		Action: func(c *cli.Context) error {
			logger := setupLogger(c.String("log-level"))
			cfg, err := loadConfig(c)
			if err != nil {
				return err
			}
			if err := cfg.ValidateGoogle(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}

			oauthConfig, err := google.GetOAuthConfig(cfg.GoogleClientID, cfg.GoogleClientSecret, cfg.CredentialsFile)
			if err != nil {
				return fmt.Errorf("failed to get google oauth config: %w", err)
			}

			logger.Info("Starting Google authentication flow.")
			ctx, cancel := context.WithTimeout(c.Context, 10*time.Minute)
			defer cancel()

			token, err := google.Consent(ctx, oauthConfig, google.ConsentOptions{
				Manual: c.Bool("manual"),
				Out:    os.Stdout,
				In:     os.Stdin,
			})
			if err != nil {
				return fmt.Errorf("unable to retrieve token: %w", err)
			}

			store := google.NewTokenStore(cfg.TokenFile)
			if err := store.Save(token); err != nil {
				return fmt.Errorf("failed to save token: %w", err)
			}

			logger.Info("Successfully authenticated and saved token.", "file", store.Path())
			return nil
		},
	}
}

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Connect to Discord and serve the calendar commands.",
		Action: func(c *cli.Context) error {
			logger := setupLogger(c.String("log-level"))
			cfg, err := loadConfig(c)
			if err != nil {
				return err
			}
			if err := cfg.ValidateBot(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}

			ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
			defer stop()

			calendarClient, timeout, err := newCalendar(ctx, logger, cfg)
			if err != nil {
				return err
			}

			service := bot.NewService(logger, calendarClient, access.NewGuard(cfg.AllowedID), bot.Options{
				MaxResults: cfg.MaxResults,
				Timeout:    timeout,
			})

			b, err := discord.New(ctx, logger, cfg.DiscordToken, cfg.GuildID, service)
			if err != nil {
				return err
			}
			if err := b.Open(); err != nil {
				return err
			}
			defer func() {
				if err := b.Close(); err != nil {
					logger.Warn("Failed to close discord session", "error", err)
				}
			}()

			logger.Info("Serving commands. Press Ctrl+C to exit.")
			<-ctx.Done()
			logger.Info("Shutting down.")
			return nil
		},
	}
}

func eventsCommand() *cli.Command {
	return &cli.Command{
		Name:  "events",
		Usage: "Print the upcoming events table, as list-events would.",
		Action: func(c *cli.Context) error {
			logger := setupLogger(c.String("log-level"))
			cfg, err := loadConfig(c)
			if err != nil {
				return err
			}
			if err := cfg.ValidateGoogle(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}

			calendarClient, timeout, err := newCalendar(c.Context, logger, cfg)
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(c.Context, timeout)
			defer cancel()
			events, err := calendarClient.ListUpcoming(ctx, time.Now(), cfg.MaxResults)
			if err != nil {
				return fmt.Errorf("failed to list events: %w", err)
			}
			fmt.Println(format.Render(events))
			return nil
		},
	}
}

func loadConfig(c *cli.Context) (*config.Config, error) {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return cfg, nil
}

// newCalendar builds the credential store and calendar client, and verifies the credential up front.
func newCalendar(ctx context.Context, logger *slog.Logger, cfg *config.Config) (*google.CalendarClient, time.Duration, error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, 0, err
	}
	timeout, err := cfg.Timeout()
	if err != nil {
		return nil, 0, err
	}

	oauthConfig, err := google.GetOAuthConfig(cfg.GoogleClientID, cfg.GoogleClientSecret, cfg.CredentialsFile)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to get google oauth config: %w", err)
	}

	creds := google.NewCredentialStore(ctx, logger, oauthConfig, google.NewTokenStore(cfg.TokenFile))
	if _, err := creds.Token(); err != nil {
		if errors.Is(err, models.ErrNoCredential) {
			return nil, 0, fmt.Errorf("no Google token at %s, run the 'auth' command first: %w", cfg.TokenFile, err)
		}
		return nil, 0, fmt.Errorf("google credential unusable, run the 'auth' command again: %w", err)
	}

	client, err := google.NewCalendarClient(ctx, logger, cfg.CalendarID, loc, option.WithHTTPClient(creds.Client(ctx)))
	if err != nil {
		return nil, 0, err
	}
	logger.Info("Initialized Google Calendar client.", "calendarID", cfg.CalendarID, "timezone", loc.String())
	return client, timeout, nil
}

func setupLogger(level string) *slog.Logger {
	var logLevel slog.Level
	switch strings.ToLower(level) {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(logger)
	return logger
}
