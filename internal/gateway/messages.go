package gateway

import (
	"context"
	"fmt"
	"time"

	apperrors "github.com/kychiang/studydeck/internal/errors"
)

// Message is the tagged union of page-to-gateway messages. Adding a variant
// without extending the dispatch switch fails at Send time rather than being
// silently ignored.
type Message interface {
	messageType() string
}

// SkipWaiting asks a waiting gateway to activate immediately. No reply.
type SkipWaiting struct{}

// ClearAllCaches asks the gateway to drop every bucket. Replies CachesCleared.
type ClearAllCaches struct{}

// KeepAlive is the liveness ping. Replies KeepAliveResponse.
type KeepAlive struct {
	Timestamp int64 `json:"timestamp"`
}

// HealthCheck requests a full health report. Replies HealthStatus.
type HealthCheck struct {
	Timestamp int64 `json:"timestamp"`
}

// AuthStateChanged notifies the gateway of a sign-in/sign-out. No reply.
type AuthStateChanged struct {
	Event     string `json:"event"`
	Timestamp int64  `json:"timestamp"`
}

func (SkipWaiting) messageType() string      { return "SKIP_WAITING" }
func (ClearAllCaches) messageType() string   { return "CLEAR_ALL_CACHES" }
func (KeepAlive) messageType() string        { return "KEEP_ALIVE" }
func (HealthCheck) messageType() string      { return "HEALTH_CHECK" }
func (AuthStateChanged) messageType() string { return "AUTH_STATE_CHANGED" }

// Reply is the union of gateway replies.
type Reply interface {
	replyType() string
}

// Ack is the empty reply for messages that define none.
type Ack struct{}

// CachesCleared confirms a ClearAllCaches.
type CachesCleared struct {
	Timestamp int64 `json:"timestamp"`
}

// KeepAliveResponse answers a KeepAlive with the gateway's last-recorded
// activity timestamp.
type KeepAliveResponse struct {
	Timestamp int64 `json:"timestamp"`
}

// CacheStatus summarizes the bucket population for health reports.
type CacheStatus string

const (
	CacheStatusOK    CacheStatus = "ok"
	CacheStatusEmpty CacheStatus = "empty"
	CacheStatusError CacheStatus = "error"
)

// HealthStatus answers a HealthCheck.
type HealthStatus struct {
	Timestamp    int64       `json:"timestamp"`
	CacheStatus  CacheStatus `json:"cacheStatus"`
	UptimeMillis int64       `json:"uptime"`
	IsResponding bool        `json:"isResponding"`
}

func (Ack) replyType() string               { return "ACK" }
func (CachesCleared) replyType() string     { return "CACHES_CLEARED" }
func (KeepAliveResponse) replyType() string { return "KEEP_ALIVE_RESPONSE" }
func (HealthStatus) replyType() string      { return "HEALTH_STATUS" }

// envelope pairs a message with its reply channel on the gateway mailbox.
type envelope struct {
	msg   Message
	reply chan Reply
}

// Send delivers a message to the gateway and waits for the reply or the
// context deadline. A stopped gateway fails fast with ErrGatewayUnresponsive.
func (g *Gateway) Send(ctx context.Context, msg Message) (Reply, error) {
	env := envelope{msg: msg, reply: make(chan Reply, 1)}

	select {
	case g.mailbox <- env:
	case <-ctx.Done():
		return nil, apperrors.Timeout("gateway mailbox send", ctx.Err())
	case <-g.stopped:
		return nil, apperrors.New(apperrors.ErrGatewayUnresponsive, "gateway is not running")
	}

	select {
	case reply := <-env.reply:
		return reply, nil
	case <-ctx.Done():
		return nil, apperrors.Timeout("gateway reply wait", ctx.Err())
	case <-g.stopped:
		return nil, apperrors.New(apperrors.ErrGatewayUnresponsive, "gateway stopped mid-message")
	}
}

// dispatch handles one message. The switch is exhaustive over the Message
// variants; an unknown variant is a programming error surfaced loudly.
func (g *Gateway) dispatch(msg Message) Reply {
	g.refreshActivity()

	switch m := msg.(type) {
	case SkipWaiting:
		g.skipWaiting()
		return Ack{}

	case ClearAllCaches:
		n := g.registry.DeleteAll()
		g.log.Info("cleared all cache buckets", map[string]interface{}{"buckets": n})
		return CachesCleared{Timestamp: time.Now().UnixMilli()}

	case KeepAlive:
		return KeepAliveResponse{Timestamp: g.lastActivity()}

	case HealthCheck:
		return g.healthStatus()

	case AuthStateChanged:
		if m.Event == "SIGNED_OUT" {
			n := g.registry.DeleteAll()
			g.log.Info("auth sign-out, dropped cache buckets", map[string]interface{}{"buckets": n})
		}
		return Ack{}

	default:
		panic(fmt.Sprintf("gateway: unhandled message variant %T", msg))
	}
}
