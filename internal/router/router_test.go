package router_test

import (
	"context"
	"database/sql"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"securechat/internal/domain"
	"securechat/internal/presence"
	"securechat/internal/protocol"
	"securechat/internal/router"
	"securechat/internal/store/sqlite"
)

type recordingSink struct {
	id   string
	user string

	mu     sync.Mutex
	events []protocol.Event
}

func (s *recordingSink) ConnID() string   { return s.id }
func (s *recordingSink) Username() string { return s.user }

func (s *recordingSink) Send(e protocol.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
	return nil
}

func (s *recordingSink) received() []protocol.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]protocol.Event(nil), s.events...)
}

type fixture struct {
	db       *sql.DB
	groups   *sqlite.GroupRepo
	messages *sqlite.MessageRepo
	registry *presence.Registry
	router   *router.Router
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, err := sqlite.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, sqlite.Migrate(db))

	groups := sqlite.NewGroupRepo(db)
	messages := sqlite.NewMessageRepo(db)
	registry := presence.NewRegistry()
	return &fixture{
		db:       db,
		groups:   groups,
		messages: messages,
		registry: registry,
		router:   router.New(registry, groups, messages, zap.NewNop()),
	}
}

func (f *fixture) connect(id, user string) *recordingSink {
	s := &recordingSink{id: id, user: user}
	f.registry.Register(s)
	return s
}

func msgTo(groupID, author, content string) *domain.GroupMessage {
	return &domain.GroupMessage{
		MessageID: "msg-" + content,
		GroupID:   groupID,
		Author:    author,
		Content:   content,
		Timestamp: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestOpenGroupBroadcast(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	require.NoError(t, f.groups.AddMember(ctx, domain.GeneralGroupID, "alice"))
	require.NoError(t, f.groups.AddMember(ctx, domain.GeneralGroupID, "bob"))

	aliceMain := f.connect("a1", "alice")
	aliceOther := f.connect("a2", "alice")
	bob := f.connect("b1", "bob")
	// Online but holding no membership row at all.
	carol := f.connect("c1", "carol")

	f.router.RouteGroupMessage(ctx, aliceMain, msgTo(domain.GeneralGroupID, "alice", "hello"))

	// Everyone online receives it except the origin connection; the
	// author's second device is included.
	assert.Empty(t, aliceMain.received())
	require.Len(t, aliceOther.received(), 1)
	require.Len(t, bob.received(), 1)
	require.Len(t, carol.received(), 1)

	got, ok := bob.received()[0].(*protocol.DeliverGroupMessage)
	require.True(t, ok)
	assert.Equal(t, "hello", got.Content)
	assert.Equal(t, "alice", got.Author)
	assert.Equal(t, "a1", got.OriginConnID)

	msgs, err := f.messages.HistoryForGroup(ctx, domain.GeneralGroupID)
	require.NoError(t, err)
	assert.Len(t, msgs, 1)
}

func TestClosedGroupFanOut(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	require.NoError(t, f.groups.CreateWithMembers(ctx, &domain.Group{ID: "g1", Name: "Ops"}, []string{"alice", "bob"}))

	alice := f.connect("a1", "alice")
	bob := f.connect("b1", "bob")
	outsider := f.connect("c1", "carol")

	f.router.RouteGroupMessage(ctx, alice, msgTo("g1", "alice", "secret"))

	require.Len(t, bob.received(), 1)
	assert.Empty(t, outsider.received())
	assert.Empty(t, alice.received())
}

func TestNonMemberSendDroppedSilently(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	require.NoError(t, f.groups.CreateWithMembers(ctx, &domain.Group{ID: "g1", Name: "Ops"}, []string{"bob"}))

	intruder := f.connect("x1", "mallory")
	bob := f.connect("b1", "bob")

	f.router.RouteGroupMessage(ctx, intruder, msgTo("g1", "mallory", "let me in"))

	// Nothing delivered, nothing persisted, no error surfaced to the
	// sender.
	assert.Empty(t, bob.received())
	assert.Empty(t, intruder.received())

	msgs, err := f.messages.HistoryForGroup(ctx, "g1")
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestAuthorMismatchDropped(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	require.NoError(t, f.groups.AddMember(ctx, domain.GeneralGroupID, "alice"))

	mallory := f.connect("x1", "mallory")
	alice := f.connect("a1", "alice")

	// mallory claims to be alice.
	f.router.RouteGroupMessage(ctx, mallory, msgTo(domain.GeneralGroupID, "alice", "spoofed"))

	assert.Empty(t, alice.received())
	msgs, err := f.messages.HistoryForGroup(ctx, domain.GeneralGroupID)
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestUnknownGroupDropped(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	alice := f.connect("a1", "alice")
	f.router.RouteGroupMessage(ctx, alice, msgTo("no-such-group", "alice", "void"))

	msgs, err := f.messages.HistoryForGroup(ctx, "no-such-group")
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestDuplicateRouteStoresOnce(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	alice := f.connect("a1", "alice")
	bob := f.connect("b1", "bob")

	msg := msgTo(domain.GeneralGroupID, "alice", "retry")
	f.router.RouteGroupMessage(ctx, alice, msg)
	f.router.RouteGroupMessage(ctx, alice, msg)

	msgs, err := f.messages.HistoryForGroup(ctx, domain.GeneralGroupID)
	require.NoError(t, err)
	assert.Len(t, msgs, 1)

	// The retried fan-out reaches bob twice; deduplication is the
	// receiving cache's job, keyed on the message id.
	require.Len(t, bob.received(), 2)
	first := bob.received()[0].(*protocol.DeliverGroupMessage)
	second := bob.received()[1].(*protocol.DeliverGroupMessage)
	assert.Equal(t, first.MessageID, second.MessageID)
}

func TestDirectMessageDelivery(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	aliceMain := f.connect("a1", "alice")
	aliceOther := f.connect("a2", "alice")
	bobPhone := f.connect("b1", "bob")
	bobLaptop := f.connect("b2", "bob")
	carol := f.connect("c1", "carol")

	dm := &domain.DirectMessage{
		MessageID: "d1",
		Sender:    "alice",
		Receiver:  "bob",
		Content:   "ping",
		Timestamp: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	f.router.RouteDirectMessage(ctx, aliceMain, dm)

	// Every receiver connection gets the push; the sender's devices and
	// third parties get nothing.
	require.Len(t, bobPhone.received(), 1)
	require.Len(t, bobLaptop.received(), 1)
	assert.Empty(t, aliceMain.received())
	assert.Empty(t, aliceOther.received())
	assert.Empty(t, carol.received())

	got := bobPhone.received()[0].(*protocol.DeliverDM)
	assert.Equal(t, "ping", got.Content)

	hist, err := f.messages.HistoryBetween(ctx, "alice", "bob")
	require.NoError(t, err)
	assert.Len(t, hist, 1)
}

func TestDirectMessageOfflineReceiverPersisted(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	alice := f.connect("a1", "alice")

	dm := &domain.DirectMessage{
		MessageID: "d1",
		Sender:    "alice",
		Receiver:  "bob",
		Content:   "see this later",
		Timestamp: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	f.router.RouteDirectMessage(ctx, alice, dm)

	hist, err := f.messages.HistoryBetween(ctx, "alice", "bob")
	require.NoError(t, err)
	assert.Len(t, hist, 1)
}

func TestDirectMessageSenderMismatchDropped(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	mallory := f.connect("x1", "mallory")
	bob := f.connect("b1", "bob")

	f.router.RouteDirectMessage(ctx, mallory, &domain.DirectMessage{
		MessageID: "d1",
		Sender:    "alice",
		Receiver:  "bob",
		Content:   "spoofed",
		Timestamp: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC),
	})

	assert.Empty(t, bob.received())
	hist, err := f.messages.HistoryBetween(ctx, "alice", "bob")
	require.NoError(t, err)
	assert.Empty(t, hist)
}
