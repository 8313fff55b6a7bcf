package consensus

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/susu3304/anonchat/internal/relay"
	"github.com/susu3304/anonchat/internal/session"
)

type sent struct {
	To   string
	Text string
	File *relay.File
}

type recordingRelay struct {
	mu   sync.Mutex
	msgs []sent
}

func done() relay.Receipt {
	ch := make(chan struct{})
	close(ch)
	return ch
}

func (r *recordingRelay) SendText(userID, text string) relay.Receipt {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, sent{To: userID, Text: text})
	return done()
}

func (r *recordingRelay) SendFile(userID string, file relay.File, caption string) relay.Receipt {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, sent{To: userID, Text: caption, File: &file})
	return done()
}

func (r *recordingRelay) SendMenu(userID string, menu relay.Menu) relay.Receipt {
	return r.SendText(userID, menu.Text)
}

func (r *recordingRelay) to(userID string) []sent {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []sent
	for _, m := range r.msgs {
		if m.To == userID {
			out = append(out, m)
		}
	}
	return out
}

func (r *recordingRelay) last(userID string) string {
	msgs := r.to(userID)
	if len(msgs) == 0 {
		return ""
	}
	return msgs[len(msgs)-1].Text
}

func (r *recordingRelay) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = nil
}

type fixture struct {
	mr     *miniredis.Miniredis
	store  *session.RedisStore
	index  *session.Index
	relay  *recordingRelay
	engine *Engine
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	cfg := session.Config{Namespace: "test", TTL: 7 * 24 * time.Hour}
	store := session.NewRedisStore(client, cfg)
	index := session.NewIndex(client, store, cfg)
	rec := &recordingRelay{}
	return &fixture{
		mr:     mr,
		store:  store,
		index:  index,
		relay:  rec,
		engine: New(store, index, rec, nil),
	}
}

func (f *fixture) create(t *testing.T) *session.Session {
	t.Helper()
	s, err := f.engine.Create(context.Background(), "alice", "bob", "42")
	require.NoError(t, err)
	f.relay.reset()
	return s
}

func TestCreate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	s, err := f.engine.Create(ctx, "alice", "bob", "42")
	require.NoError(t, err)
	assert.True(t, s.Active())
	assert.False(t, s.Paid)

	for _, user := range []string{"alice", "bob"} {
		current, err := f.index.Current(ctx, user)
		require.NoError(t, err)
		assert.Equal(t, s.ID, current)

		active, err := f.index.ListActive(ctx, user)
		require.NoError(t, err)
		assert.Equal(t, []string{s.ID}, active)
	}

	assert.Contains(t, f.relay.last("alice"), s.TempIDA)
	assert.Contains(t, f.relay.last("alice"), s.TempIDB)
	assert.Contains(t, f.relay.last("bob"), "#42")
}

func TestCreateIsIdempotentForActivePair(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.engine.Create(ctx, "alice", "bob", "42")
	require.NoError(t, err)
	f.relay.reset()

	second, err := f.engine.Create(ctx, "bob", "alice", "42")
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Empty(t, f.relay.to("alice"))
}

func TestCreateIsIdempotentPerPairOnSharedOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.engine.Create(ctx, "alice", "bob", "42")
	require.NoError(t, err)
	other, err := f.engine.Create(ctx, "alice", "carol", "42")
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, other.ID)

	again, err := f.engine.Create(ctx, "bob", "alice", "42")
	require.NoError(t, err)
	assert.Equal(t, first.ID, again.ID)

	active, err := f.index.ListActive(ctx, "bob")
	require.NoError(t, err)
	assert.Equal(t, []string{first.ID}, active)
}

func TestCreateRejectsInvalidParticipants(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.engine.Create(ctx, "alice", "alice", "42")
	assert.ErrorIs(t, err, session.ErrInvalidParticipants)

	_, err = f.engine.Create(ctx, "", "bob", "42")
	assert.ErrorIs(t, err, session.ErrInvalidParticipants)
}

func TestPaidLifecycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s := f.create(t)

	_, err := f.engine.ConfirmPayment(ctx, s.ID, "alice")
	require.NoError(t, err)
	assert.Equal(t, textPaymentConfirmed, f.relay.last("alice"))
	assert.Equal(t, textPaymentPrompt, f.relay.last("bob"))

	_, err = f.engine.InitiateClose(ctx, s.ID, "alice")
	var ce *session.CompletionError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, 0, ce.Approvals)
	assert.ErrorIs(t, err, session.ErrCompletionRequired)

	got, err := f.engine.ConfirmCompletion(ctx, s.ID, "alice")
	require.NoError(t, err)
	assert.Equal(t, 1, got.CompletionApprovals.Len())
	assert.Equal(t, textCompletionPrompt, f.relay.last("bob"))

	_, err = f.engine.ApproveClose(ctx, s.ID, "bob")
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, 1, ce.Approvals)

	got, err = f.engine.ConfirmCompletion(ctx, s.ID, "bob")
	require.NoError(t, err)
	assert.Equal(t, 2, got.CompletionApprovals.Len())
	assert.Equal(t, textCompletionBoth, f.relay.last("alice"))
	assert.Equal(t, textCompletionBoth, f.relay.last("bob"))

	got, err = f.engine.InitiateClose(ctx, s.ID, "alice")
	require.NoError(t, err)
	assert.True(t, got.Active())
	assert.Equal(t, textCloseProposed, f.relay.last("bob"))

	got, err = f.engine.ApproveClose(ctx, s.ID, "bob")
	require.NoError(t, err)
	assert.Equal(t, session.StatusClosed, got.Status)
	assert.Equal(t, textClosed, f.relay.last("alice"))
	assert.Equal(t, textClosed, f.relay.last("bob"))

	for _, user := range []string{"alice", "bob"} {
		_, err := f.index.Current(ctx, user)
		assert.ErrorIs(t, err, session.ErrNotFound)
		active, err := f.index.ListActive(ctx, user)
		require.NoError(t, err)
		assert.Empty(t, active)
		raw, _ := f.mr.List("test:user:active:" + user)
		assert.Empty(t, raw)
	}

	_, err = f.engine.ConfirmCompletion(ctx, s.ID, "alice")
	assert.ErrorIs(t, err, session.ErrInvalidState)
	_, err = f.engine.Switch(ctx, "alice", s.ID)
	assert.ErrorIs(t, err, session.ErrInvalidState)
}

func TestUnpaidCloseNeedsNoCompletion(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s := f.create(t)

	_, err := f.engine.InitiateClose(ctx, s.ID, "alice")
	require.NoError(t, err)

	got, err := f.engine.ApproveClose(ctx, s.ID, "bob")
	require.NoError(t, err)
	assert.Equal(t, session.StatusClosed, got.Status)
	assert.Empty(t, got.CompletionApprovals)
}

func TestInitiateCloseByBothPartiesCloses(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s := f.create(t)

	_, err := f.engine.InitiateClose(ctx, s.ID, "alice")
	require.NoError(t, err)
	got, err := f.engine.InitiateClose(ctx, s.ID, "bob")
	require.NoError(t, err)
	assert.Equal(t, session.StatusClosed, got.Status)

	stored, err := f.store.Get(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, session.StatusClosed, stored.Status)
	assert.Equal(t, 2, stored.CloseApprovals.Len())
}

func TestRepeatedApprovalsAreIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s := f.create(t)

	_, err := f.engine.InitiateClose(ctx, s.ID, "alice")
	require.NoError(t, err)
	got, err := f.engine.ApproveClose(ctx, s.ID, "alice")
	require.NoError(t, err)
	assert.True(t, got.Active())
	assert.Equal(t, session.Approvals{"alice"}, got.CloseApprovals)
}

func TestConfirmPaymentTwice(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s := f.create(t)

	paid, err := f.engine.ConfirmPayment(ctx, s.ID, "alice")
	require.NoError(t, err)

	_, err = f.engine.ConfirmPayment(ctx, s.ID, "bob")
	assert.ErrorIs(t, err, session.ErrAlreadyConfirmed)

	stored, err := f.store.Get(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, paid.Version, stored.Version)
}

func TestConfirmCompletionRequiresPayment(t *testing.T) {
	f := newFixture(t)
	s := f.create(t)

	_, err := f.engine.ConfirmCompletion(context.Background(), s.ID, "alice")
	assert.ErrorIs(t, err, session.ErrPaymentRequired)
}

func TestAccessChecks(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s := f.create(t)

	_, err := f.engine.ConfirmPayment(ctx, s.ID, "mallory")
	assert.ErrorIs(t, err, session.ErrNotParticipant)

	_, err = f.engine.Status(ctx, s.ID, "mallory")
	assert.ErrorIs(t, err, session.ErrNotParticipant)

	_, err = f.engine.ConfirmPayment(ctx, "session_missing", "alice")
	assert.ErrorIs(t, err, session.ErrNotFound)

	f.mr.FastForward(8 * 24 * time.Hour)
	_, err = f.engine.InitiateClose(ctx, s.ID, "alice")
	assert.ErrorIs(t, err, session.ErrNotFound)
}

func TestStatus(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s := f.create(t)

	text, err := f.engine.Status(ctx, s.ID, "alice")
	require.NoError(t, err)
	assert.Contains(t, text, "pending")
	assert.Contains(t, text, "0/2")

	_, err = f.engine.ConfirmPayment(ctx, s.ID, "alice")
	require.NoError(t, err)
	_, err = f.engine.ConfirmCompletion(ctx, s.ID, "bob")
	require.NoError(t, err)

	text, err = f.engine.Status(ctx, s.ID, "alice")
	require.NoError(t, err)
	assert.Contains(t, text, "confirmed")
	assert.Contains(t, text, "1/2")
	assert.Contains(t, text, "waiting for you")
	assert.Contains(t, text, s.TempIDB)
}

func TestForward(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s := f.create(t)

	require.NoError(t, f.engine.Forward(ctx, s.ID, "alice", Content{Text: "hello"}))
	assert.Equal(t, "💬 "+s.TempIDA+":\nhello", f.relay.last("bob"))
	assert.Equal(t, "✓ Delivered to "+s.TempIDB, f.relay.last("alice"))

	doc := &relay.File{Ref: "https://cdn/x.pdf", Kind: relay.KindDocument, Name: "x.pdf"}
	require.NoError(t, f.engine.Forward(ctx, s.ID, "bob", Content{File: doc, Caption: "invoice"}))
	msgs := f.relay.to("alice")
	fileMsg := msgs[len(msgs)-1]
	require.NotNil(t, fileMsg.File)
	assert.Equal(t, "x.pdf", fileMsg.File.Name)
	assert.True(t, strings.HasPrefix(fileMsg.Text, "📄 Document from "+s.TempIDB))
	assert.Contains(t, fileMsg.Text, "invoice")
	assert.Contains(t, fileMsg.Text, "📎 x.pdf")

	assert.ErrorIs(t, f.engine.Forward(ctx, s.ID, "bob", Content{}), ErrEmptyContent)
	assert.ErrorIs(t, f.engine.Forward(ctx, s.ID, "mallory", Content{Text: "hi"}), session.ErrNotParticipant)

	stored, err := f.store.Get(ctx, s.ID)
	require.NoError(t, err)
	assert.True(t, stored.LastActivity.After(s.LastActivity) || stored.LastActivity.Equal(s.LastActivity))
}

func TestSwitch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.engine.Create(ctx, "alice", "bob", "1")
	require.NoError(t, err)
	second, err := f.engine.Create(ctx, "alice", "carol", "2")
	require.NoError(t, err)

	current, err := f.index.Current(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, second.ID, current)

	_, err = f.engine.Switch(ctx, "alice", first.ID)
	require.NoError(t, err)
	current, err = f.index.Current(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, first.ID, current)

	_, err = f.engine.Switch(ctx, "carol", first.ID)
	assert.ErrorIs(t, err, session.ErrNotParticipant)
}

func TestCloseKeepsOtherCurrentSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.engine.Create(ctx, "alice", "bob", "1")
	require.NoError(t, err)
	second, err := f.engine.Create(ctx, "alice", "carol", "2")
	require.NoError(t, err)

	_, err = f.engine.InitiateClose(ctx, first.ID, "alice")
	require.NoError(t, err)
	closed, err := f.engine.ApproveClose(ctx, first.ID, "bob")
	require.NoError(t, err)
	assert.Equal(t, session.StatusClosed, closed.Status)

	current, err := f.index.Current(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, second.ID, current)

	_, err = f.index.Current(ctx, "bob")
	assert.ErrorIs(t, err, session.ErrNotFound)

	active, err := f.index.ListActive(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, []string{second.ID}, active)
}

// racingStore commits a competing update right before the first Save so that
// the engine's write hits a version conflict.
type racingStore struct {
	*session.RedisStore
	once sync.Once
	race func()
}

func (r *racingStore) Save(ctx context.Context, s *session.Session) (*session.Session, error) {
	r.once.Do(r.race)
	return r.RedisStore.Save(ctx, s)
}

func TestConcurrentApprovalsRetryOnConflict(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s := f.create(t)
	_, err := f.engine.ConfirmPayment(ctx, s.ID, "alice")
	require.NoError(t, err)

	racing := &racingStore{RedisStore: f.store}
	racing.race = func() {
		current, err := f.store.Get(ctx, s.ID)
		require.NoError(t, err)
		current.CompletionApprovals.Add("bob")
		_, err = f.store.Save(ctx, current)
		require.NoError(t, err)
	}
	engine := New(racing, f.index, f.relay, nil)

	got, err := engine.ConfirmCompletion(ctx, s.ID, "alice")
	require.NoError(t, err)
	assert.Equal(t, session.Approvals{"alice", "bob"}, got.CompletionApprovals)

	stored, err := f.store.Get(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, stored.CompletionApprovals.Len())
}

func TestConflictRetriesAreBounded(t *testing.T) {
	f := newFixture(t)
	s := f.create(t)

	engine := New(alwaysConflict{f.store}, f.index, f.relay, nil, WithMaxRetries(2))
	_, err := engine.ConfirmPayment(context.Background(), s.ID, "alice")
	assert.ErrorIs(t, err, session.ErrConflict)
}

type alwaysConflict struct {
	*session.RedisStore
}

func (alwaysConflict) Save(context.Context, *session.Session) (*session.Session, error) {
	return nil, session.ErrConflict
}
