package bot

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"

	"github.com/susu3304/anonchat/internal/relay"
)

const handleTimeout = 30 * time.Second

// Handler consumes inbound user events.
type Handler interface {
	Handle(ctx context.Context, ev relay.Event)
}

// discordSession is the subset of *discordgo.Session used for delivery.
type discordSession interface {
	UserChannelCreate(recipientID string, options ...discordgo.RequestOption) (*discordgo.Channel, error)
	ChannelMessageSend(channelID, content string, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend, options ...discordgo.RequestOption) (*discordgo.Message, error)
	InteractionRespond(interaction *discordgo.Interaction, resp *discordgo.InteractionResponse, options ...discordgo.RequestOption) error
}

// Bot is the Discord side of the relay: it turns direct messages and
// interactions into events and delivers outbound messages as DMs.
type Bot struct {
	session *discordgo.Session
	api     discordSession
	pool    *relay.Pool
	handler Handler
	http    *http.Client
	log     *zap.Logger

	mu       sync.Mutex
	channels map[string]string
}

func New(token string, pool *relay.Pool, log *zap.Logger) (*Bot, error) {
	session, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("failed to create discord session: %w", err)
	}

	bot := newBot(session, pool, log)
	bot.session = session

	// Register event handlers
	session.AddHandler(bot.onReady)
	session.AddHandler(bot.onMessageCreate)
	session.AddHandler(bot.onInteractionCreate)

	session.Identify.Intents = discordgo.IntentsDirectMessages | discordgo.IntentsGuilds

	return bot, nil
}

func newBot(api discordSession, pool *relay.Pool, log *zap.Logger) *Bot {
	if log == nil {
		log = zap.NewNop()
	}
	return &Bot{
		api:      api,
		pool:     pool,
		http:     &http.Client{Timeout: 30 * time.Second},
		log:      log,
		channels: make(map[string]string),
	}
}

// SetHandler must be called before Start.
func (b *Bot) SetHandler(h Handler) {
	b.handler = h
}

func (b *Bot) Start() error {
	if b.handler == nil {
		return fmt.Errorf("discord bot has no event handler")
	}
	if err := b.session.Open(); err != nil {
		return fmt.Errorf("failed to open discord session: %w", err)
	}
	b.log.Info("discord bot is running")
	return nil
}

func (b *Bot) Stop() error {
	return b.session.Close()
}

func (b *Bot) dispatch(ev relay.Event) {
	b.pool.Go(func() {
		ctx, cancel := context.WithTimeout(context.Background(), handleTimeout)
		defer cancel()
		b.handler.Handle(ctx, ev)
	})
}
