package ws_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"securechat/internal/client"
	"securechat/internal/clientcache"
	"securechat/internal/domain"
	"securechat/internal/presence"
	"securechat/internal/router"
	"securechat/internal/security"
	"securechat/internal/service"
	"securechat/internal/store/sqlite"
	"securechat/internal/ws"
)

type testServer struct {
	srv    *httptest.Server
	tokens *security.TokenService
	users  *sqlite.UserRepo
	groups *sqlite.GroupRepo
}

func startServer(t *testing.T, wrap ...func(http.Handler) http.Handler) *testServer {
	t.Helper()

	db, err := sqlite.Open(filepath.Join(t.TempDir(), "server.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, sqlite.Migrate(db))

	users := sqlite.NewUserRepo(db)
	groups := sqlite.NewGroupRepo(db)
	messages := sqlite.NewMessageRepo(db)
	registry := presence.NewRegistry()
	log := zap.NewNop()

	tokens := security.NewTokenService("test-secret", time.Hour)
	rt := router.New(registry, groups, messages, log)
	syncSvc := service.NewSyncService(users, groups, messages)
	gateway := ws.NewGateway(registry, rt, syncSvc, tokens, users, log)

	// The allowed origin is the server's own URL, known only after the
	// listener is bound, so the handler is swapped in afterwards.
	var handler http.HandlerFunc
	var h http.Handler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { handler(w, r) })
	for _, mw := range wrap {
		h = mw(h)
	}
	mux := http.NewServeMux()
	mux.Handle("/ws", h)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	handler = gateway.Handler([]string{srv.URL})

	return &testServer{srv: srv, tokens: tokens, users: users, groups: groups}
}

func (ts *testServer) addUser(t *testing.T, username string) string {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, ts.users.Create(ctx, &domain.User{Username: username, HashedPassword: "irrelevant"}))
	require.NoError(t, ts.groups.AddMember(ctx, domain.GeneralGroupID, username))

	token, err := ts.tokens.CreateForUser(username)
	require.NoError(t, err)
	return token
}

func dialClient(t *testing.T, ts *testServer, username, token string) (*client.Client, *client.Engine) {
	t.Helper()
	cache, err := clientcache.Open(filepath.Join(t.TempDir(), username+".db"))
	require.NoError(t, err)
	t.Cleanup(func() { cache.Close() })

	engine := client.NewEngine(cache, username)
	c, err := client.Dial(context.Background(), ts.srv.URL, token, engine, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c, engine
}

func waitNote(t *testing.T, ch <-chan client.Notification, kind client.NotificationKind) client.Notification {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case n, ok := <-ch:
			if !ok {
				t.Fatalf("notification stream closed waiting for %s", kind)
			}
			if n.Kind == kind {
				return n
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s", kind)
		}
	}
}

func TestConnectAnnounceSnapshot(t *testing.T) {
	ts := startServer(t)
	aliceToken := ts.addUser(t, "alice")
	ts.addUser(t, "bob")

	c, _ := dialClient(t, ts, "alice", aliceToken)

	note := waitNote(t, c.Notifications(), client.NoteSnapshotApplied)
	require.NotNil(t, note.Snapshot)
	assert.Equal(t, []string{"alice", "bob"}, note.Snapshot.Users)

	ids := make([]string, 0, len(note.Snapshot.Groups))
	for _, g := range note.Snapshot.Groups {
		ids = append(ids, g.ID)
	}
	assert.Contains(t, ids, domain.GeneralGroupID)
}

func TestGroupMessageEndToEnd(t *testing.T) {
	ctx := context.Background()
	ts := startServer(t)
	aliceToken := ts.addUser(t, "alice")
	bobToken := ts.addUser(t, "bob")

	bob, bobEngine := dialClient(t, ts, "bob", bobToken)
	waitNote(t, bob.Notifications(), client.NoteSnapshotApplied)

	alice, aliceEngine := dialClient(t, ts, "alice", aliceToken)
	waitNote(t, alice.Notifications(), client.NoteSnapshotApplied)

	require.NoError(t, alice.SendGroupMessage(ctx, domain.GeneralGroupID, "hello everyone"))

	note := waitNote(t, bob.Notifications(), client.NoteGroupMessage)
	require.NotNil(t, note.Group)
	assert.Equal(t, "alice", note.Group.Author)
	assert.Equal(t, "hello everyone", note.Group.Content)

	// Both caches converge on a single copy of the message.
	bobMsgs, err := bobEngine.GroupMessages(ctx, domain.GeneralGroupID)
	require.NoError(t, err)
	require.Len(t, bobMsgs, 1)

	// A history pull does not duplicate what the push already stored.
	require.NoError(t, bob.RequestGroupHistory(domain.GeneralGroupID))
	waitNote(t, bob.Notifications(), client.NoteGroupHistoryLoaded)
	bobMsgs, err = bobEngine.GroupMessages(ctx, domain.GeneralGroupID)
	require.NoError(t, err)
	assert.Len(t, bobMsgs, 1)

	aliceMsgs, err := aliceEngine.GroupMessages(ctx, domain.GeneralGroupID)
	require.NoError(t, err)
	assert.Len(t, aliceMsgs, 1)
	assert.Equal(t, bobMsgs[0].MessageID, aliceMsgs[0].MessageID)
}

func TestDirectMessageEndToEnd(t *testing.T) {
	ctx := context.Background()
	ts := startServer(t)
	aliceToken := ts.addUser(t, "alice")
	bobToken := ts.addUser(t, "bob")

	bob, _ := dialClient(t, ts, "bob", bobToken)
	waitNote(t, bob.Notifications(), client.NoteSnapshotApplied)

	alice, aliceEngine := dialClient(t, ts, "alice", aliceToken)
	waitNote(t, alice.Notifications(), client.NoteSnapshotApplied)

	require.NoError(t, alice.SendDirectMessage(ctx, "bob", "psst"))

	note := waitNote(t, bob.Notifications(), client.NoteDirectMessage)
	require.NotNil(t, note.Direct)
	assert.Equal(t, "alice", note.Direct.Sender)
	assert.Equal(t, "psst", note.Direct.Content)

	// The sender's copy is the optimistic insert; the receiver's is the
	// push. A later history pull changes neither.
	require.NoError(t, alice.RequestDMHistory("bob"))
	waitNote(t, alice.Notifications(), client.NoteDMHistoryLoaded)
	msgs, err := aliceEngine.DirectMessages(ctx, "bob")
	require.NoError(t, err)
	assert.Len(t, msgs, 1)
}

func TestConnectionOutlivesRequestDeadline(t *testing.T) {
	ctx := context.Background()
	// A deadline on the upgrade request must not leak into the serve
	// loop: the connection stays usable long after it fires.
	ts := startServer(t, middleware.Timeout(150*time.Millisecond))
	aliceToken := ts.addUser(t, "alice")
	bobToken := ts.addUser(t, "bob")

	bob, _ := dialClient(t, ts, "bob", bobToken)
	waitNote(t, bob.Notifications(), client.NoteSnapshotApplied)

	alice, _ := dialClient(t, ts, "alice", aliceToken)
	waitNote(t, alice.Notifications(), client.NoteSnapshotApplied)

	require.NoError(t, alice.SendGroupMessage(ctx, domain.GeneralGroupID, "early"))
	note := waitNote(t, bob.Notifications(), client.NoteGroupMessage)
	assert.Equal(t, "early", note.Group.Content)

	time.Sleep(400 * time.Millisecond)

	require.NoError(t, alice.SendGroupMessage(ctx, domain.GeneralGroupID, "late"))
	note = waitNote(t, bob.Notifications(), client.NoteGroupMessage)
	assert.Equal(t, "late", note.Group.Content)

	// Both messages are durable, not just delivered.
	require.NoError(t, bob.RequestGroupHistory(domain.GeneralGroupID))
	loaded := waitNote(t, bob.Notifications(), client.NoteGroupHistoryLoaded)
	assert.Equal(t, 2, loaded.Count)
}

func TestClosedGroupHistoryDenied(t *testing.T) {
	ctx := context.Background()
	ts := startServer(t)
	aliceToken := ts.addUser(t, "alice")
	ts.addUser(t, "bob")

	require.NoError(t, ts.groups.CreateWithMembers(ctx, &domain.Group{ID: "g1", Name: "Ops"}, []string{"bob"}))

	alice, _ := dialClient(t, ts, "alice", aliceToken)
	waitNote(t, alice.Notifications(), client.NoteSnapshotApplied)

	// alice is not a member of g1. Her request gets no reply at all;
	// the follow-up request proves the silence, since replies on one
	// connection are ordered.
	require.NoError(t, alice.RequestGroupHistory("g1"))
	require.NoError(t, alice.RequestGroupHistory(domain.GeneralGroupID))

	note := waitNote(t, alice.Notifications(), client.NoteGroupHistoryLoaded)
	assert.Equal(t, domain.GeneralGroupID, note.GroupID)
}

func TestPresenceBroadcastOnJoin(t *testing.T) {
	ts := startServer(t)
	aliceToken := ts.addUser(t, "alice")
	bobToken := ts.addUser(t, "bob")

	bob, _ := dialClient(t, ts, "bob", bobToken)
	waitNote(t, bob.Notifications(), client.NoteSnapshotApplied)

	alice, _ := dialClient(t, ts, "alice", aliceToken)
	waitNote(t, alice.Notifications(), client.NoteSnapshotApplied)

	// bob sees alice come online.
	deadline := time.After(5 * time.Second)
	for {
		var note client.Notification
		select {
		case note = <-bob.Notifications():
		case <-deadline:
			t.Fatal("bob never saw alice online")
		}
		if note.Kind == client.NotePresenceChanged && len(note.Users) == 2 {
			assert.Equal(t, []string{"alice", "bob"}, note.Users)
			return
		}
	}
}

func TestUpgradeRejections(t *testing.T) {
	ts := startServer(t)
	token := ts.addUser(t, "alice")

	t.Run("missing origin", func(t *testing.T) {
		req, err := http.NewRequest(http.MethodGet, ts.srv.URL+"/ws", nil)
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+token)

		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	})

	t.Run("missing token", func(t *testing.T) {
		req, err := http.NewRequest(http.MethodGet, ts.srv.URL+"/ws", nil)
		require.NoError(t, err)
		req.Header.Set("Origin", ts.srv.URL)

		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})

	t.Run("garbage token", func(t *testing.T) {
		req, err := http.NewRequest(http.MethodGet, ts.srv.URL+"/ws", nil)
		require.NoError(t, err)
		req.Header.Set("Origin", ts.srv.URL)
		req.Header.Set("Authorization", "Bearer not.a.token")

		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})
}
