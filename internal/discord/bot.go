package discord

import (
	"fmt"
	"sync"

	"github.com/bwmarrin/discordgo"

	"github.com/discord-companion/internal/config"
	"github.com/discord-companion/internal/logging"
	"github.com/discord-companion/internal/metrics"
	"github.com/discord-companion/internal/openai"
	"github.com/discord-companion/internal/voice"
)

// Bot owns the gateway session and bridges slash commands to the inference
// session and the voice registry.
type Bot struct {
	session  *discordgo.Session
	registry *voice.Registry
	ai       *openai.Session
	cfg      *config.Config
	metrics  *metrics.Metrics

	mu         sync.Mutex
	transports map[string]*VoiceTransport
}

// New builds the gateway session with the intents the voice path needs.
// Guild voice states are required to find the caller's channel on /join.
func New(cfg *config.Config, ai *openai.Session, registry *voice.Registry, m *metrics.Metrics) (*Bot, error) {
	dg, err := discordgo.New("Bot " + cfg.Discord.Token)
	if err != nil {
		return nil, fmt.Errorf("failed to create gateway session: %w", err)
	}
	dg.Identify.Intents = discordgo.IntentsGuilds | discordgo.IntentsGuildVoiceStates

	b := &Bot{
		session:    dg,
		registry:   registry,
		ai:         ai,
		cfg:        cfg,
		metrics:    m,
		transports: make(map[string]*VoiceTransport),
	}

	dg.AddHandler(b.onGuildCreate)
	dg.AddHandler(b.onInteraction)
	dg.AddHandler(b.onVoiceState)
	return b, nil
}

// Open connects to the gateway.
func (b *Bot) Open() error {
	if err := b.session.Open(); err != nil {
		return fmt.Errorf("failed to open gateway session: %w", err)
	}
	logging.Infow("gateway connected", "user", b.session.State.User.Username)
	return nil
}

// Close tears down every voice session, then the gateway connection.
func (b *Bot) Close() error {
	b.registry.CloseAll()
	return b.session.Close()
}

// onGuildCreate registers the command set per guild, so changes are visible
// immediately instead of after global command propagation.
func (b *Bot) onGuildCreate(s *discordgo.Session, g *discordgo.GuildCreate) {
	if _, err := s.ApplicationCommandBulkOverwrite(s.State.User.ID, g.ID, commandDefs); err != nil {
		logging.Errorw("command registration failed", "guild", g.ID, "err", err)
		return
	}
	logging.Infow("commands registered", "guild", g.ID, "name", g.Name)
}

// onVoiceState forwards voice channel departures into the room's event
// stream. A participant leaving must not flush their buffered speech; the
// session only logs it.
func (b *Bot) onVoiceState(s *discordgo.Session, vs *discordgo.VoiceStateUpdate) {
	if vs.ChannelID != "" || vs.GuildID == "" {
		return
	}
	b.mu.Lock()
	t := b.transports[vs.GuildID]
	b.mu.Unlock()
	if t != nil {
		t.NotifyDisconnect(vs.UserID)
	}
}

func (b *Bot) rememberTransport(guildID string, t *VoiceTransport) {
	b.mu.Lock()
	b.transports[guildID] = t
	b.mu.Unlock()
}

func (b *Bot) forgetTransport(guildID string) {
	b.mu.Lock()
	delete(b.transports, guildID)
	b.mu.Unlock()
}
