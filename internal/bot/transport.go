package bot

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/bwmarrin/discordgo"

	"github.com/susu3304/anonchat/internal/relay"
)

const (
	maxMessageLen  = 2000
	maxButtonLabel = 80
	maxRows        = 5
	maxRowButtons  = 5
)

var _ relay.Transport = (*Bot)(nil)

func (b *Bot) DeliverText(ctx context.Context, userID, text string) error {
	channelID, err := b.dmChannel(ctx, userID)
	if err != nil {
		return err
	}
	for _, chunk := range splitMessage(text, maxMessageLen) {
		if _, err := b.api.ChannelMessageSend(channelID, chunk, discordgo.WithContext(ctx)); err != nil {
			return fmt.Errorf("send message to %s: %w", userID, err)
		}
	}
	return nil
}

// DeliverFile sends photos as embedded images and re-uploads everything
// else as an attachment.
func (b *Bot) DeliverFile(ctx context.Context, userID string, file relay.File, caption string) error {
	channelID, err := b.dmChannel(ctx, userID)
	if err != nil {
		return err
	}

	msg := &discordgo.MessageSend{Content: truncate(caption, maxMessageLen)}
	if file.Kind == relay.KindPhoto {
		msg.Embeds = []*discordgo.MessageEmbed{{Image: &discordgo.MessageEmbedImage{URL: file.Ref}}}
	} else {
		resp, err := b.download(ctx, file.Ref)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		msg.Files = []*discordgo.File{{
			Name:        fileName(file),
			ContentType: file.ContentType,
			Reader:      resp.Body,
		}}
	}

	if _, err := b.api.ChannelMessageSendComplex(channelID, msg, discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("send %s to %s: %w", file.Kind, userID, err)
	}
	return nil
}

func (b *Bot) DeliverMenu(ctx context.Context, userID string, menu relay.Menu) error {
	channelID, err := b.dmChannel(ctx, userID)
	if err != nil {
		return err
	}
	msg := &discordgo.MessageSend{
		Content:    truncate(menu.Text, maxMessageLen),
		Components: menuComponents(menu),
	}
	if _, err := b.api.ChannelMessageSendComplex(channelID, msg, discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("send menu to %s: %w", userID, err)
	}
	return nil
}

// UpdateMenu replaces the message a button press came from.
func (b *Bot) UpdateMenu(ctx context.Context, ref string, menu relay.Menu) error {
	interaction, err := parseCallbackRef(ref)
	if err != nil {
		return err
	}
	components := menuComponents(menu)
	return b.api.InteractionRespond(interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseUpdateMessage,
		Data: &discordgo.InteractionResponseData{
			Content:    truncate(menu.Text, maxMessageLen),
			Components: components,
		},
	}, discordgo.WithContext(ctx))
}

// AckCallback acknowledges a button press without changing the message.
func (b *Bot) AckCallback(ctx context.Context, ref string) error {
	interaction, err := parseCallbackRef(ref)
	if err != nil {
		return err
	}
	return b.api.InteractionRespond(interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseDeferredMessageUpdate,
	}, discordgo.WithContext(ctx))
}

func (b *Bot) dmChannel(ctx context.Context, userID string) (string, error) {
	b.mu.Lock()
	channelID, ok := b.channels[userID]
	b.mu.Unlock()
	if ok {
		return channelID, nil
	}

	ch, err := b.api.UserChannelCreate(userID, discordgo.WithContext(ctx))
	if err != nil {
		return "", fmt.Errorf("open DM channel for %s: %w", userID, err)
	}
	b.mu.Lock()
	b.channels[userID] = ch.ID
	b.mu.Unlock()
	return ch.ID, nil
}

func (b *Bot) download(ctx context.Context, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := b.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download attachment: %w", err)
	}
	if resp.StatusCode/100 != 2 {
		resp.Body.Close()
		return nil, fmt.Errorf("download attachment: %s", resp.Status)
	}
	return resp, nil
}

// menuComponents lays buttons out in action rows. Discord allows five rows,
// so overflowing rows are dropped while the last row is always kept.
func menuComponents(menu relay.Menu) []discordgo.MessageComponent {
	rows := menu.Rows
	if len(rows) > maxRows {
		rows = append(append([][]relay.Button{}, rows[:maxRows-1]...), rows[len(rows)-1])
	}

	components := make([]discordgo.MessageComponent, 0, len(rows))
	for _, row := range rows {
		buttons := make([]discordgo.MessageComponent, 0, len(row))
		for n, btn := range row {
			if n == maxRowButtons {
				break
			}
			buttons = append(buttons, toButton(btn))
		}
		if len(buttons) > 0 {
			components = append(components, discordgo.ActionsRow{Components: buttons})
		}
	}
	return components
}

func toButton(btn relay.Button) discordgo.Button {
	label := truncate(btn.Label, maxButtonLabel)
	if btn.URL != "" {
		return discordgo.Button{Label: label, Style: discordgo.LinkButton, URL: btn.URL}
	}
	style := discordgo.SecondaryButton
	if strings.HasPrefix(btn.Label, "✅") {
		style = discordgo.SuccessButton
	} else if strings.HasPrefix(btn.Label, "❌") {
		style = discordgo.DangerButton
	}
	return discordgo.Button{Label: label, Style: style, CustomID: btn.Token}
}

// splitMessage cuts text into chunks of at most limit runes, preferring
// line boundaries.
func splitMessage(text string, limit int) []string {
	if utf8.RuneCountInString(text) <= limit {
		return []string{text}
	}

	var chunks []string
	var buf strings.Builder
	bufLen := 0
	flush := func() {
		if bufLen > 0 {
			chunks = append(chunks, buf.String())
			buf.Reset()
			bufLen = 0
		}
	}

	for _, line := range strings.SplitAfter(text, "\n") {
		lineLen := utf8.RuneCountInString(line)
		if bufLen+lineLen > limit {
			flush()
		}
		for lineLen > limit {
			runes := []rune(line)
			chunks = append(chunks, string(runes[:limit]))
			line = string(runes[limit:])
			lineLen -= limit
		}
		buf.WriteString(line)
		bufLen += lineLen
	}
	flush()
	return chunks
}

func truncate(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	return string([]rune(s)[:limit])
}

func fileName(file relay.File) string {
	if file.Name != "" {
		return file.Name
	}
	switch file.Kind {
	case relay.KindVoice:
		return "voice-message.ogg"
	case relay.KindVideo:
		return "video.mp4"
	case relay.KindAudio:
		return "audio.mp3"
	}
	return "file"
}
