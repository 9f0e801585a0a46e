package discord

import (
	"context"
	"errors"
	"fmt"

	"github.com/bwmarrin/discordgo"

	"github.com/discord-companion/internal/logging"
	"github.com/discord-companion/internal/voice"
)

const replyLimit = 2000

var commandDefs = []*discordgo.ApplicationCommand{
	{
		Name:        "ping",
		Description: "Check that the companion is alive",
	},
	{
		Name:        "chat",
		Description: "Talk to the companion in text",
		Options: []*discordgo.ApplicationCommandOption{
			{
				Type:        discordgo.ApplicationCommandOptionString,
				Name:        "message",
				Description: "What to say",
				Required:    true,
			},
		},
	},
	{
		Name:        "image",
		Description: "Generate an image",
		Options: []*discordgo.ApplicationCommandOption{
			{
				Type:        discordgo.ApplicationCommandOptionString,
				Name:        "prompt",
				Description: "What to draw",
				Required:    true,
			},
		},
	},
	{
		Name:        "describe",
		Description: "Describe an attached image",
		Options: []*discordgo.ApplicationCommandOption{
			{
				Type:        discordgo.ApplicationCommandOptionAttachment,
				Name:        "image",
				Description: "Image to describe",
				Required:    true,
			},
		},
	},
	{
		Name:        "join",
		Description: "Join your current voice channel and start listening",
	},
	{
		Name:        "leave",
		Description: "Leave the voice channel",
	},
}

func (b *Bot) onInteraction(s *discordgo.Session, i *discordgo.InteractionCreate) {
	if i.Type != discordgo.InteractionApplicationCommand {
		return
	}
	data := i.ApplicationCommandData()
	logging.Infow("command received", "guild", i.GuildID, "command", data.Name)

	switch data.Name {
	case "ping":
		b.reply(s, i, "Pong!")
	case "chat":
		b.handleChat(s, i, data)
	case "image":
		b.handleImage(s, i, data)
	case "describe":
		b.handleDescribe(s, i, data)
	case "join":
		b.handleJoin(s, i)
	case "leave":
		b.handleLeave(s, i)
	default:
		b.reply(s, i, fmt.Sprintf("Unknown command %q", data.Name))
	}
}

func (b *Bot) handleChat(s *discordgo.Session, i *discordgo.InteractionCreate, data discordgo.ApplicationCommandInteractionData) {
	msg := stringOption(data, "message")
	if msg == "" {
		b.reply(s, i, "Nothing to say?")
		return
	}
	b.deferReply(s, i)

	ctx, cancel := context.WithTimeout(context.Background(), b.ai.Timeout())
	defer cancel()
	reply, err := b.ai.ChatTurn(ctx, msg)
	if err != nil {
		logging.Warnw("chat command failed", "guild", i.GuildID, "err", err)
		b.followUp(s, i, "Sorry, I couldn't come up with a reply.")
		return
	}
	b.followUp(s, i, truncate(reply, replyLimit))
}

func (b *Bot) handleImage(s *discordgo.Session, i *discordgo.InteractionCreate, data discordgo.ApplicationCommandInteractionData) {
	prompt := stringOption(data, "prompt")
	if prompt == "" {
		b.reply(s, i, "Describe what you want drawn.")
		return
	}
	b.deferReply(s, i)

	ctx, cancel := context.WithTimeout(context.Background(), b.ai.Timeout())
	defer cancel()
	url, err := b.ai.Image(ctx, prompt)
	if err != nil {
		logging.Warnw("image command failed", "guild", i.GuildID, "err", err)
		b.followUp(s, i, "Sorry, image generation failed.")
		return
	}
	_, err = s.FollowupMessageCreate(i.Interaction, true, &discordgo.WebhookParams{
		Embeds: []*discordgo.MessageEmbed{{
			Title: truncate(prompt, 256),
			Image: &discordgo.MessageEmbedImage{URL: url},
		}},
	})
	if err != nil {
		logging.Warnw("followup failed", "guild", i.GuildID, "err", err)
	}
}

func (b *Bot) handleDescribe(s *discordgo.Session, i *discordgo.InteractionCreate, data discordgo.ApplicationCommandInteractionData) {
	att := attachmentOption(data, "image")
	if att == nil {
		b.reply(s, i, "Attach an image to describe.")
		return
	}
	b.deferReply(s, i)

	ctx, cancel := context.WithTimeout(context.Background(), b.ai.Timeout())
	defer cancel()
	desc, err := b.ai.Vision(ctx, att.URL)
	if err != nil {
		logging.Warnw("describe command failed", "guild", i.GuildID, "err", err)
		b.followUp(s, i, "Sorry, I couldn't make that image out.")
		return
	}
	b.followUp(s, i, truncate(desc, replyLimit))
}

func (b *Bot) handleJoin(s *discordgo.Session, i *discordgo.InteractionCreate) {
	if i.Member == nil || i.Member.User == nil {
		b.reply(s, i, "This command only works inside a server.")
		return
	}
	vs, err := s.State.VoiceState(i.GuildID, i.Member.User.ID)
	if err != nil || vs == nil || vs.ChannelID == "" {
		b.reply(s, i, "Join a voice channel first, then ask me again.")
		return
	}

	// The registry reserves the guild before connect runs, so a concurrent
	// /join never wraps the same voice connection in a second transport.
	var t *VoiceTransport
	err = b.registry.Join(i.GuildID, func() (voice.Transport, error) {
		vc, err := s.ChannelVoiceJoin(i.GuildID, vs.ChannelID, false, false)
		if err != nil {
			return nil, err
		}
		t = NewVoiceTransport(vc, &b.cfg.Audio, b.metrics)
		return t, nil
	})
	if err != nil {
		if errors.Is(err, voice.ErrSessionExists) {
			b.reply(s, i, "I'm already in a voice channel here. Use /leave first.")
			return
		}
		logging.Errorw("voice join failed", "guild", i.GuildID, "channel", vs.ChannelID, "err", err)
		b.reply(s, i, "I couldn't join that voice channel.")
		return
	}
	b.rememberTransport(i.GuildID, t)
	b.reply(s, i, "Listening! Talk to me and pause when you're done.")
}

func (b *Bot) handleLeave(s *discordgo.Session, i *discordgo.InteractionCreate) {
	if err := b.registry.Leave(i.GuildID); err != nil {
		b.reply(s, i, "I'm not in a voice channel here.")
		return
	}
	b.forgetTransport(i.GuildID)
	b.reply(s, i, "Bye for now.")
}

func (b *Bot) reply(s *discordgo.Session, i *discordgo.InteractionCreate, content string) {
	err := s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{Content: content},
	})
	if err != nil {
		logging.Warnw("interaction reply failed", "guild", i.GuildID, "err", err)
	}
}

// deferReply acknowledges the interaction so inference can exceed the 3s
// interaction deadline.
func (b *Bot) deferReply(s *discordgo.Session, i *discordgo.InteractionCreate) {
	err := s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseDeferredChannelMessageWithSource,
	})
	if err != nil {
		logging.Warnw("interaction defer failed", "guild", i.GuildID, "err", err)
	}
}

func (b *Bot) followUp(s *discordgo.Session, i *discordgo.InteractionCreate, content string) {
	_, err := s.FollowupMessageCreate(i.Interaction, true, &discordgo.WebhookParams{Content: content})
	if err != nil {
		logging.Warnw("followup failed", "guild", i.GuildID, "err", err)
	}
}

func stringOption(data discordgo.ApplicationCommandInteractionData, name string) string {
	for _, opt := range data.Options {
		if opt.Name == name && opt.Type == discordgo.ApplicationCommandOptionString {
			return opt.StringValue()
		}
	}
	return ""
}

func attachmentOption(data discordgo.ApplicationCommandInteractionData, name string) *discordgo.MessageAttachment {
	for _, opt := range data.Options {
		if opt.Name == name && opt.Type == discordgo.ApplicationCommandOptionAttachment {
			id, ok := opt.Value.(string)
			if !ok || data.Resolved == nil {
				return nil
			}
			return data.Resolved.Attachments[id]
		}
	}
	return nil
}

func truncate(s string, limit int) string {
	r := []rune(s)
	if len(r) <= limit {
		return s
	}
	return string(r[:limit-1]) + "…"
}
