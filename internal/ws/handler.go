package ws

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"securechat/internal/domain"
	"securechat/internal/presence"
	"securechat/internal/protocol"
	"securechat/internal/router"
	"securechat/internal/security"
	"securechat/internal/service"
)

type wsAuthError struct {
	status int
	msg    string
}

func (e wsAuthError) Error() string {
	return e.msg
}

func normalizeAllowedOrigins(origins []string) map[string]struct{} {
	res := make(map[string]struct{}, len(origins))
	for _, origin := range origins {
		o := strings.TrimSpace(strings.ToLower(origin))
		if o != "" {
			res[o] = struct{}{}
		}
	}
	return res
}

func makeCheckOrigin(allowedOrigins []string) func(r *http.Request) bool {
	allowed := normalizeAllowedOrigins(allowedOrigins)
	if len(allowed) == 0 {
		return func(r *http.Request) bool {
			return false
		}
	}

	return func(r *http.Request) bool {
		origin := strings.TrimSpace(strings.ToLower(r.Header.Get("Origin")))
		if origin == "" {
			return false
		}
		if _, ok := allowed[origin]; ok {
			return true
		}

		u, err := url.Parse(origin)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return false
		}
		normalized := strings.ToLower(fmt.Sprintf("%s://%s", u.Scheme, u.Host))
		_, ok := allowed[normalized]
		return ok
	}
}

func extractTokenFromWSRequest(r *http.Request) (string, error) {
	authHeader := strings.TrimSpace(r.Header.Get("Authorization"))
	if strings.HasPrefix(strings.ToLower(authHeader), "bearer ") {
		token := strings.TrimSpace(authHeader[len("Bearer "):])
		if token != "" {
			return token, nil
		}
	}

	protocolHeader := r.Header.Get("Sec-WebSocket-Protocol")
	if protocolHeader != "" {
		parts := strings.Split(protocolHeader, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		if len(parts) >= 2 && strings.EqualFold(parts[0], "bearer") {
			token := parts[1]
			if token != "" {
				return token, nil
			}
		}
	}

	return "", wsAuthError{status: http.StatusUnauthorized, msg: "missing bearer token"}
}

// Gateway owns the sync protocol endpoint: it authenticates upgrades,
// walks each connection through Connecting -> Announced -> Synced, and
// dispatches decoded events.
type Gateway struct {
	registry *presence.Registry
	router   *router.Router
	sync     *service.SyncService
	tokens   *security.TokenService
	users    domain.UserRepository
	log      *zap.Logger
}

func NewGateway(
	registry *presence.Registry,
	rt *router.Router,
	syncSvc *service.SyncService,
	tokens *security.TokenService,
	users domain.UserRepository,
	log *zap.Logger,
) *Gateway {
	return &Gateway{
		registry: registry,
		router:   rt,
		sync:     syncSvc,
		tokens:   tokens,
		users:    users,
		log:      log,
	}
}

// Handler returns the HTTP handler for the /ws endpoint. The bearer
// token comes from the Authorization header or, for browser clients,
// the Sec-WebSocket-Protocol header.
func (g *Gateway) Handler(allowedOrigins []string) http.HandlerFunc {
	checkOrigin := makeCheckOrigin(allowedOrigins)
	upgrader := websocket.Upgrader{
		CheckOrigin: checkOrigin,
		Subprotocols: []string{
			"bearer",
		},
	}

	return func(w http.ResponseWriter, r *http.Request) {
		if !checkOrigin(r) {
			http.Error(w, "origin not allowed", http.StatusForbidden)
			return
		}

		tokenStr, err := extractTokenFromWSRequest(r)
		if err != nil {
			if authErr, ok := err.(wsAuthError); ok {
				http.Error(w, authErr.msg, authErr.status)
				return
			}
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		username, err := g.tokens.Subject(tokenStr)
		if err != nil || username == "" {
			http.Error(w, "invalid token", http.StatusUnauthorized)
			return
		}

		ctx := r.Context()
		user, err := g.users.GetByUsername(ctx, username)
		if err != nil || user == nil {
			http.Error(w, "user not found", http.StatusUnauthorized)
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		// The serve loop outlives the HTTP request: a deadline on the
		// request context would fire mid-connection and fail every
		// later store call while the socket still looks open.
		g.serve(context.WithoutCancel(ctx), &session{
			id:       uuid.NewString(),
			username: user.Username,
			conn:     conn,
		})
	}
}

// serve runs the read loop for one connection. Events before the
// announce are dropped; after it the connection is considered synced
// and receives live pushes until it goes away.
func (g *Gateway) serve(ctx context.Context, sess *session) {
	log := g.log.With(zap.String("conn_id", sess.id), zap.String("username", sess.username))
	announced := false

	defer func() {
		if announced {
			g.registry.Unregister(sess.id)
			g.broadcastPresence()
		}
		log.Info("connection closed")
	}()

	for {
		_, raw, err := sess.conn.ReadMessage()
		if err != nil {
			return
		}

		ev, err := protocol.Decode(raw)
		if err != nil {
			log.Warn("undecodable frame", zap.Error(err))
			continue
		}

		if !announced {
			a, ok := ev.(*protocol.Announce)
			if !ok {
				log.Warn("event before announce", zap.String("kind", string(ev.Kind())))
				continue
			}
			if a.Username != sess.username {
				log.Warn("announce identity mismatch", zap.String("claimed", a.Username))
				continue
			}
			g.registry.Register(sess)
			announced = true
			g.broadcastPresence()
			g.sendSnapshot(ctx, sess, log)
			log.Info("connection announced")
			continue
		}

		g.dispatch(ctx, sess, ev, log, &announced)
	}
}

func (g *Gateway) dispatch(ctx context.Context, sess *session, ev protocol.Event, log *zap.Logger, announced *bool) {
	switch e := ev.(type) {
	case *protocol.Announce:
		// Re-announce is a cheap resync: resend the snapshot.
		if e.Username == sess.username {
			g.sendSnapshot(ctx, sess, log)
		}

	case *protocol.RequestGroupHistory:
		msgs, err := g.sync.GroupHistory(ctx, e.GroupID, sess.username)
		if err != nil {
			// Non-members get no reply and no error frame, so the request
			// leaks nothing about the group.
			if errors.Is(err, domain.ErrForbidden) {
				log.Warn("group history denied", zap.String("group_id", e.GroupID))
			} else {
				log.Error("group history", zap.String("group_id", e.GroupID), zap.Error(err))
			}
			return
		}
		g.push(sess, &protocol.GroupHistory{GroupID: e.GroupID, Messages: msgs}, log)

	case *protocol.SendGroupMessage:
		g.router.RouteGroupMessage(ctx, sess, &e.GroupMessage)

	case *protocol.RequestDMHistory:
		msgs, err := g.sync.DMHistory(ctx, sess.username, e.TargetUser)
		if err != nil {
			log.Error("dm history", zap.String("target", e.TargetUser), zap.Error(err))
			return
		}
		g.push(sess, &protocol.DMHistory{WithUser: e.TargetUser, Messages: msgs}, log)

	case *protocol.SendDM:
		g.router.RouteDirectMessage(ctx, sess, &e.DirectMessage)

	case *protocol.CreateGroup:
		if _, err := g.sync.CreateGroup(ctx, sess.username, e.Name, e.Description, e.Members); err != nil {
			log.Warn("create group", zap.String("name", e.Name), zap.Error(err))
			return
		}
		g.broadcastSidebarInvalidate()

	case *protocol.DeleteGroup:
		if err := g.sync.DeleteGroup(ctx, e.GroupID); err != nil {
			// Deleting an open-membership group is refused. The requester
			// gets no error frame; the refusal is only logged here.
			log.Warn("delete group", zap.String("group_id", e.GroupID), zap.Error(err))
			return
		}
		g.broadcastSidebarInvalidate()

	case *protocol.DeleteDMConversation:
		if err := g.sync.DeleteDMConversation(ctx, sess.username, e.TargetUser); err != nil {
			log.Error("delete dm conversation", zap.String("target", e.TargetUser), zap.Error(err))
			return
		}
		g.push(sess, &protocol.DMConversationDeleted{WithUser: e.TargetUser}, log)

	case *protocol.MarkGroupRead:
		if err := g.sync.MarkRead(ctx, e.GroupID, sess.username); err != nil {
			if errors.Is(err, domain.ErrForbidden) || errors.Is(err, domain.ErrNotFound) {
				log.Warn("mark read rejected", zap.String("group_id", e.GroupID), zap.Error(err))
			} else {
				log.Error("mark read", zap.String("group_id", e.GroupID), zap.Error(err))
			}
		}

	case *protocol.Logout:
		// Presence is torn down ahead of the socket closing; the client
		// wipes its local cache on its side.
		g.registry.Unregister(sess.id)
		*announced = false
		g.broadcastPresence()
		log.Info("logged out")

	default:
		// Server-to-client kinds echoed back by a confused client.
		log.Warn("unexpected event", zap.String("kind", string(ev.Kind())))
	}
}

func (g *Gateway) sendSnapshot(ctx context.Context, sess *session, log *zap.Logger) {
	g.push(sess, &protocol.PresenceSnapshot{Users: g.registry.Snapshot()}, log)

	snap, err := g.sync.BuildSnapshot(ctx, sess.username)
	if err != nil {
		log.Error("build snapshot", zap.Error(err))
		return
	}
	g.push(sess, &protocol.InitialSnapshot{
		Groups:                snap.Groups,
		Users:                 snap.Users,
		DirectMessagePartners: snap.Partners,
	}, log)
}

// broadcastPresence re-sends the full distinct-username snapshot to
// every connection. No diffing; the set is small and resending is
// simpler than tracking deltas.
func (g *Gateway) broadcastPresence() {
	snapshot := &protocol.PresenceSnapshot{Users: g.registry.Snapshot()}
	for _, sink := range g.registry.All() {
		if err := sink.Send(snapshot); err != nil {
			g.log.Debug("presence push failed", zap.String("conn_id", sink.ConnID()), zap.Error(err))
		}
	}
}

func (g *Gateway) broadcastSidebarInvalidate() {
	ev := &protocol.SidebarInvalidate{}
	for _, sink := range g.registry.All() {
		if err := sink.Send(ev); err != nil {
			g.log.Debug("sidebar push failed", zap.String("conn_id", sink.ConnID()), zap.Error(err))
		}
	}
}

func (g *Gateway) push(sess *session, e protocol.Event, log *zap.Logger) {
	if err := sess.Send(e); err != nil {
		log.Debug("push failed", zap.Error(err))
	}
}
