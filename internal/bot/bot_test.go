package bot

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/susu3304/anonchat/internal/relay"
)

type fakeSession struct {
	mu        sync.Mutex
	opened    int
	texts     []string
	complex   []*discordgo.MessageSend
	uploads   []string
	responses []*discordgo.InteractionResponse
	failOpen  bool
}

func (f *fakeSession) UserChannelCreate(recipientID string, _ ...discordgo.RequestOption) (*discordgo.Channel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failOpen {
		return nil, errors.New("cannot DM user")
	}
	f.opened++
	return &discordgo.Channel{ID: "dm-" + recipientID}, nil
}

func (f *fakeSession) ChannelMessageSend(_ string, content string, _ ...discordgo.RequestOption) (*discordgo.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.texts = append(f.texts, content)
	return &discordgo.Message{}, nil
}

func (f *fakeSession) ChannelMessageSendComplex(_ string, data *discordgo.MessageSend, _ ...discordgo.RequestOption) (*discordgo.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, file := range data.Files {
		body, _ := io.ReadAll(file.Reader)
		f.uploads = append(f.uploads, string(body))
	}
	f.complex = append(f.complex, data)
	return &discordgo.Message{}, nil
}

func (f *fakeSession) InteractionRespond(_ *discordgo.Interaction, resp *discordgo.InteractionResponse, _ ...discordgo.RequestOption) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.responses = append(f.responses, resp)
	return nil
}

func TestDeliverTextSplitsLongMessages(t *testing.T) {
	fs := &fakeSession{}
	b := newBot(fs, relay.NewPool(1, nil), nil)
	ctx := context.Background()

	long := strings.Repeat("a", 1500) + "\n" + strings.Repeat("b", 1500)
	require.NoError(t, b.DeliverText(ctx, "u1", long))
	require.NoError(t, b.DeliverText(ctx, "u1", "short"))

	assert.Equal(t, 1, fs.opened)
	require.Len(t, fs.texts, 3)
	assert.Equal(t, strings.Repeat("a", 1500)+"\n", fs.texts[0])
	assert.Equal(t, strings.Repeat("b", 1500), fs.texts[1])
	assert.Equal(t, "short", fs.texts[2])
}

func TestDeliverTextReportsDMFailure(t *testing.T) {
	b := newBot(&fakeSession{failOpen: true}, relay.NewPool(1, nil), nil)
	assert.Error(t, b.DeliverText(context.Background(), "u1", "hi"))
}

func TestDeliverFile(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte("pdf-bytes"))
	}))
	defer srv.Close()

	fs := &fakeSession{}
	b := newBot(fs, relay.NewPool(1, nil), nil)
	ctx := context.Background()

	require.NoError(t, b.DeliverFile(ctx, "u1", relay.File{Ref: "https://cdn/p.png", Kind: relay.KindPhoto}, "photo"))
	require.NoError(t, b.DeliverFile(ctx, "u1", relay.File{Ref: srv.URL + "/doc", Kind: relay.KindDocument, Name: "a.pdf"}, "doc"))
	assert.Error(t, b.DeliverFile(ctx, "u1", relay.File{Ref: srv.URL + "/missing", Kind: relay.KindDocument}, "doc"))

	require.Len(t, fs.complex, 2)
	assert.Equal(t, "https://cdn/p.png", fs.complex[0].Embeds[0].Image.URL)
	assert.Equal(t, "a.pdf", fs.complex[1].Files[0].Name)
	assert.Equal(t, []string{"pdf-bytes"}, fs.uploads)
}

func TestMenuComponents(t *testing.T) {
	var rows [][]relay.Button
	for i := 0; i < 7; i++ {
		rows = append(rows, []relay.Button{{Label: "● chat", Token: "switch_x"}, {Label: "❌", Token: "close_x"}})
	}
	rows = append(rows, []relay.Button{{Label: "🔄 Refresh", Token: "refresh_sessions"}})

	components := menuComponents(relay.Menu{Text: "chats", Rows: rows})
	require.Len(t, components, maxRows)

	last := components[maxRows-1].(discordgo.ActionsRow)
	assert.Equal(t, "refresh_sessions", last.Components[0].(discordgo.Button).CustomID)

	first := components[0].(discordgo.ActionsRow)
	assert.Equal(t, discordgo.DangerButton, first.Components[1].(discordgo.Button).Style)

	link := toButton(relay.Button{Label: "Pay", URL: "https://pay"})
	assert.Equal(t, discordgo.LinkButton, link.Style)
	assert.Empty(t, link.CustomID)
}

func TestUpdateMenuAndAck(t *testing.T) {
	fs := &fakeSession{}
	b := newBot(fs, relay.NewPool(1, nil), nil)
	ctx := context.Background()

	require.NoError(t, b.UpdateMenu(ctx, "123:tok", relay.Menu{Text: "updated"}))
	require.NoError(t, b.AckCallback(ctx, "123:tok"))
	assert.Error(t, b.AckCallback(ctx, "garbage"))

	require.Len(t, fs.responses, 2)
	assert.Equal(t, discordgo.InteractionResponseUpdateMessage, fs.responses[0].Type)
	assert.Equal(t, "updated", fs.responses[0].Data.Content)
	assert.Equal(t, discordgo.InteractionResponseDeferredMessageUpdate, fs.responses[1].Type)
}

func TestMessageEvents(t *testing.T) {
	author := &discordgo.User{ID: "u1"}

	evs := messageEvents(&discordgo.Message{Author: author, Content: "hello"})
	require.Len(t, evs, 1)
	assert.Equal(t, relay.Event{UserID: "u1", Text: "hello"}, evs[0])

	assert.Empty(t, messageEvents(&discordgo.Message{Author: author, Content: "  "}))

	evs = messageEvents(&discordgo.Message{
		Author:  author,
		Content: "see attached",
		Attachments: []*discordgo.MessageAttachment{
			{URL: "u/1", Filename: "cat.png", ContentType: "image/png"},
			{URL: "u/2", Filename: "voice-message.ogg", ContentType: "audio/ogg"},
			{URL: "u/3", Filename: "song.mp3", ContentType: "audio/mpeg"},
			{URL: "u/4", Filename: "clip.mp4", ContentType: "video/mp4"},
			{URL: "u/5", Filename: "notes.txt", ContentType: ""},
		},
	})
	require.Len(t, evs, 5)
	assert.Equal(t, "see attached", evs[0].Caption)
	assert.Empty(t, evs[1].Caption)

	kinds := make([]relay.Kind, 0, len(evs))
	for _, ev := range evs {
		kinds = append(kinds, ev.File.Kind)
	}
	assert.Equal(t, []relay.Kind{relay.KindPhoto, relay.KindVoice, relay.KindAudio, relay.KindVideo, relay.KindDocument}, kinds)
}

func TestCommandText(t *testing.T) {
	assert.Equal(t, "/pay", commandText(discordgo.ApplicationCommandInteractionData{Name: "pay"}))
	assert.Equal(t, "/switch_3", commandText(discordgo.ApplicationCommandInteractionData{
		Name: "switch",
		Options: []*discordgo.ApplicationCommandInteractionDataOption{
			{Name: "index", Type: discordgo.ApplicationCommandOptionInteger, Value: float64(3)},
		},
	}))
}

type recordingHandler struct {
	events chan relay.Event
}

func (h *recordingHandler) Handle(_ context.Context, ev relay.Event) {
	h.events <- ev
}

func TestDispatchRunsHandlerOnPool(t *testing.T) {
	pool := relay.NewPool(2, nil)
	b := newBot(&fakeSession{}, pool, nil)
	h := &recordingHandler{events: make(chan relay.Event, 1)}
	b.SetHandler(h)

	b.dispatch(relay.Event{UserID: "u1", Text: "/status"})

	select {
	case ev := <-h.events:
		assert.Equal(t, "/status", ev.Text)
	case <-time.After(5 * time.Second):
		t.Fatal("handler was not called")
	}
	pool.Wait()
}

func TestGetCommandsAllowDMs(t *testing.T) {
	for _, cmd := range GetCommands() {
		require.NotNil(t, cmd.DMPermission, cmd.Name)
		assert.True(t, *cmd.DMPermission, cmd.Name)
	}
}
