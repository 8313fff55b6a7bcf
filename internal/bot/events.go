package bot

import (
	"fmt"
	"strings"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"

	"github.com/susu3304/anonchat/internal/relay"
)

func (b *Bot) onReady(s *discordgo.Session, event *discordgo.Ready) {
	b.log.Info("connected to discord", zap.String("username", event.User.Username))

	// Global commands so they are available in DMs
	if _, err := s.ApplicationCommandBulkOverwrite(event.User.ID, "", GetCommands()); err != nil {
		b.log.Error("failed to register application commands", zap.Error(err))
		return
	}
	b.log.Info("registered application commands")
}

func (b *Bot) onMessageCreate(s *discordgo.Session, m *discordgo.MessageCreate) {
	// Only direct messages from people take part in relaying
	if m.Author == nil || m.Author.Bot || m.GuildID != "" {
		return
	}
	for _, ev := range messageEvents(m.Message) {
		b.dispatch(ev)
	}
}

func (b *Bot) onInteractionCreate(s *discordgo.Session, i *discordgo.InteractionCreate) {
	user := interactionUser(i)
	if user == "" {
		return
	}

	switch i.Type {
	case discordgo.InteractionMessageComponent:
		b.dispatch(relay.Event{
			UserID:      user,
			Callback:    i.MessageComponentData().CustomID,
			CallbackRef: callbackRef(i.Interaction),
		})
	case discordgo.InteractionApplicationCommand:
		text := commandText(i.ApplicationCommandData())
		err := s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
			Type: discordgo.InteractionResponseChannelMessageWithSource,
			Data: &discordgo.InteractionResponseData{
				Content: "👌 " + text,
				Flags:   discordgo.MessageFlagsEphemeral,
			},
		})
		if err != nil {
			b.log.Warn("failed to acknowledge command", zap.String("command", text), zap.Error(err))
		}
		b.dispatch(relay.Event{UserID: user, Text: text})
	}
}

// messageEvents converts a DM into relay events: the text or the first
// attachment carries the message content, further attachments follow as
// separate events.
func messageEvents(m *discordgo.Message) []relay.Event {
	if len(m.Attachments) == 0 {
		if strings.TrimSpace(m.Content) == "" {
			return nil
		}
		return []relay.Event{{UserID: m.Author.ID, Text: m.Content}}
	}

	events := make([]relay.Event, 0, len(m.Attachments))
	for n, a := range m.Attachments {
		file := &relay.File{
			Ref:         a.URL,
			Kind:        attachmentKind(a),
			Name:        a.Filename,
			ContentType: a.ContentType,
		}
		ev := relay.Event{UserID: m.Author.ID, File: file}
		if n == 0 {
			ev.Caption = m.Content
		}
		events = append(events, ev)
	}
	return events
}

func attachmentKind(a *discordgo.MessageAttachment) relay.Kind {
	ct := strings.ToLower(a.ContentType)
	switch {
	case strings.HasPrefix(ct, "image/"):
		return relay.KindPhoto
	case strings.HasPrefix(ct, "video/"):
		return relay.KindVideo
	case strings.HasPrefix(ct, "audio/") && strings.HasPrefix(a.Filename, "voice-message"):
		return relay.KindVoice
	case strings.HasPrefix(ct, "audio/"):
		return relay.KindAudio
	}
	return relay.KindDocument
}

func interactionUser(i *discordgo.InteractionCreate) string {
	if i.User != nil {
		return i.User.ID
	}
	if i.Member != nil && i.Member.User != nil {
		return i.Member.User.ID
	}
	return ""
}

// commandText renders a slash command as the equivalent text command.
func commandText(data discordgo.ApplicationCommandInteractionData) string {
	if data.Name == "switch" {
		for _, opt := range data.Options {
			if opt.Name == "index" {
				return fmt.Sprintf("/switch_%d", opt.IntValue())
			}
		}
	}
	return "/" + data.Name
}

func callbackRef(i *discordgo.Interaction) string {
	return i.ID + ":" + i.Token
}

func parseCallbackRef(ref string) (*discordgo.Interaction, error) {
	id, token, ok := strings.Cut(ref, ":")
	if !ok || id == "" || token == "" {
		return nil, fmt.Errorf("invalid callback reference %q", ref)
	}
	return &discordgo.Interaction{ID: id, Token: token}, nil
}
