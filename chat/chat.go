package chat

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	twitch "github.com/gempir/go-twitch-irc/v4"
	"github.com/google/uuid"

	"github.com/onnwee/fluxbot/telemetry"
)

// Config holds the Twitch IRC credentials and channel.
type Config struct {
	Channel  string
	Username string
	OAuth    string
}

// ircClient is the part of the go-twitch-irc client the listener drives.
type ircClient interface {
	OnPrivateMessage(func(twitch.PrivateMessage))
	OnConnect(func())
	Join(channels ...string)
	Say(channel, text string)
	Connect() error
	Disconnect() error
}

// Listener joins a channel and routes its chat commands.
type Listener struct {
	cfg    Config
	router *Router
	client ircClient
	logger *slog.Logger

	connected atomic.Bool
}

// NewListener returns a listener for cfg using a fresh go-twitch-irc client.
func NewListener(cfg Config, router *Router) *Listener {
	return newListener(cfg, router, twitch.NewClient(cfg.Username, cfg.OAuth))
}

func newListener(cfg Config, router *Router, client ircClient) *Listener {
	l := &Listener{
		cfg:    cfg,
		router: router,
		client: client,
		logger: slog.Default().With(slog.String("component", "chat"), slog.String("channel", cfg.Channel)),
	}
	client.OnConnect(func() {
		l.connected.Store(true)
		l.logger.Info("twitch chat connected")
	})
	client.OnPrivateMessage(l.onMessage)
	return l
}

// Connected reports whether the IRC connection is up.
func (l *Listener) Connected() bool { return l.connected.Load() }

// Ready is a readiness probe that fails while chat is disconnected.
func (l *Listener) Ready(context.Context) error {
	if !l.Connected() {
		return errors.New("twitch chat not connected")
	}
	return nil
}

// Start connects and blocks until ctx is cancelled. go-twitch-irc reconnects on
// its own; a Connect error other than a disconnect is retried after a pause.
func (l *Listener) Start(ctx context.Context) {
	go func() {
		<-ctx.Done()
		_ = l.client.Disconnect()
	}()

	prune := time.NewTicker(10 * time.Minute)
	defer prune.Stop()
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-prune.C:
				l.router.Prune()
			}
		}
	}()

	l.client.Join(l.cfg.Channel)
	backoff := time.Second
	for {
		err := l.client.Connect()
		l.connected.Store(false)
		if ctx.Err() != nil || errors.Is(err, twitch.ErrClientDisconnected) {
			l.logger.Info("twitch chat stopped")
			return
		}
		l.logger.Error("twitch chat connect error", slog.Any("err", err), slog.Duration("retry_in", backoff))
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		if backoff < time.Minute {
			backoff *= 2
		}
	}
}

func (l *Listener) onMessage(msg twitch.PrivateMessage) {
	ctx := telemetry.WithCorrelation(context.Background(), uuid.NewString())
	from := Sender{Name: msg.User.Name, Mod: isModerator(msg.User.Badges)}

	cmd, handled, err := l.router.Route(ctx, from, msg.Message)
	if !handled {
		return
	}
	log := telemetry.LoggerWithCorr(ctx).With(slog.String("component", "chat"), slog.String("user", from.Name))
	switch {
	case err == nil:
		if cmd.Reply != "" {
			l.client.Say(msg.Channel, cmd.Reply)
		}
	case errors.Is(err, ErrUnknownCommand), errors.Is(err, ErrCooldown), errors.Is(err, ErrDisabled):
		log.Debug("chat command ignored", slog.Any("err", err))
	default:
		log.Warn("chat command failed", slog.Any("err", err))
		l.client.Say(msg.Channel, "@"+from.Name+" "+userMessage(err))
	}
}

func isModerator(badges map[string]int) bool {
	return badges["broadcaster"] > 0 || badges["moderator"] > 0
}

func userMessage(err error) string {
	switch {
	case errors.Is(err, ErrNotPermitted):
		return "that command is for moderators"
	case errors.Is(err, ErrMissingArgument):
		return "that command needs an argument"
	default:
		return "that did not work: " + err.Error()
	}
}
