package telemetry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/wattwatch/wattwatch/pkg/common"
	"github.com/wattwatch/wattwatch/pkg/log"
	"github.com/wattwatch/wattwatch/pkg/metrics"
	"github.com/wattwatch/wattwatch/pkg/types"
)

// Phoenix channel events used by Supabase Realtime.
const (
	phxJoin         = "phx_join"
	phxReply        = "phx_reply"
	phxError        = "phx_error"
	phxClose        = "phx_close"
	phxHeartbeat    = "heartbeat"
	postgresChanges = "postgres_changes"
)

type phxMessage struct {
	Topic   string          `json:"topic"`
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
	Ref     *string         `json:"ref"`
	JoinRef *string         `json:"join_ref,omitempty"`
}

type phxReplyPayload struct {
	Status   string          `json:"status"`
	Response json.RawMessage `json:"response"`
}

type postgresChangesPayload struct {
	Data struct {
		Type   string `json:"type"`
		Schema string `json:"schema"`
		Table  string `json:"table"`
		Record row    `json:"record"`
	} `json:"data"`
}

type postgresChangesFilter struct {
	Event  string `json:"event"`
	Schema string `json:"schema"`
	Table  string `json:"table"`
}

type joinPayload struct {
	Config struct {
		Broadcast struct {
			Self bool `json:"self"`
		} `json:"broadcast"`
		Presence struct {
			Key string `json:"key"`
		} `json:"presence"`
		PostgresChanges []postgresChangesFilter `json:"postgres_changes"`
	} `json:"config"`
	AccessToken string `json:"access_token,omitempty"`
}

// realtimeURL converts the project URL into the Realtime websocket endpoint.
func (s *Supabase) realtimeURL() (string, error) {
	u, err := url.Parse(s.url)
	if err != nil {
		return "", fmt.Errorf("invalid supabase url: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/realtime/v1/websocket"
	q := url.Values{}
	q.Set("apikey", s.key)
	q.Set("vsn", "1.0.0")
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (s *Supabase) topic() string {
	return "realtime:" + s.schema + ":" + s.table
}

// channel serializes writes to a websocket and hands out message refs.
type channel struct {
	conn *websocket.Conn

	mu  sync.Mutex
	ref int
}

func (c *channel) send(topic, event string, payload any) (string, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to encode %s payload: %w", event, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.ref++
	ref := strconv.Itoa(c.ref)
	msg := phxMessage{
		Topic:   topic,
		Event:   event,
		Payload: b,
		Ref:     &ref,
	}
	if event == phxJoin {
		msg.JoinRef = &ref
	}
	if err := c.conn.WriteJSON(msg); err != nil {
		return "", fmt.Errorf("failed to write %s: %w", event, err)
	}
	return ref, nil
}

// Subscribe implements Store by joining the table's postgres_changes channel
// and calling fn for every INSERT.
func (s *Supabase) Subscribe(ctx context.Context, fn func(types.Reading)) error {
	wsURL, err := s.realtimeURL()
	if err != nil {
		return err
	}

	header := http.Header{"User-Agent": {common.UserAgent()}}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, header)
	if err != nil {
		return fmt.Errorf("failed to connect to realtime: %w", err)
	}
	ch := &channel{conn: conn}

	// closing the connection unblocks the read loop below
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
		case <-done:
		}
		conn.Close()
	}()

	var join joinPayload
	join.Config.PostgresChanges = []postgresChangesFilter{{
		Event:  "INSERT",
		Schema: s.schema,
		Table:  s.table,
	}}
	join.AccessToken = s.key
	topic := s.topic()
	joinRef, err := ch.send(topic, phxJoin, join)
	if err != nil {
		return err
	}
	log.Ctx(ctx).InfoContext(ctx, "joining realtime channel", slog.String("topic", topic))

	go func() {
		ticker := time.NewTicker(s.heartbeat)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := ch.send("phoenix", phxHeartbeat, struct{}{}); err != nil {
					log.Ctx(ctx).WarnContext(ctx, "failed to send heartbeat", slog.Any("error", err))
					return
				}
			}
		}
	}()

	for {
		var msg phxMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("failed to read realtime message: %w", err)
		}

		switch msg.Event {
		case phxReply:
			var reply phxReplyPayload
			if err := json.Unmarshal(msg.Payload, &reply); err != nil {
				return fmt.Errorf("failed to decode reply: %w", err)
			}
			if msg.Ref != nil && *msg.Ref == joinRef {
				if reply.Status != "ok" {
					return fmt.Errorf("realtime join rejected: %s: %s", reply.Status, string(reply.Response))
				}
				log.Ctx(ctx).InfoContext(ctx, "joined realtime channel", slog.String("topic", topic))
			} else if reply.Status != "ok" {
				log.Ctx(ctx).WarnContext(ctx, "realtime reply error", slog.String("status", reply.Status), slog.String("response", string(reply.Response)))
			}
		case phxError:
			return fmt.Errorf("realtime channel error on %s", msg.Topic)
		case phxClose:
			if msg.Topic == topic {
				return errors.New("realtime channel closed by server")
			}
		case postgresChanges:
			var p postgresChangesPayload
			if err := json.Unmarshal(msg.Payload, &p); err != nil {
				log.Ctx(ctx).WarnContext(ctx, "failed to decode postgres change", slog.Any("error", err))
				continue
			}
			if p.Data.Type != "" && p.Data.Type != "INSERT" {
				continue
			}
			r, err := p.Data.Record.reading()
			if err != nil {
				log.Ctx(ctx).WarnContext(ctx, "skipping invalid realtime reading", slog.Any("error", err))
				continue
			}
			metrics.RecordReadings("realtime", 1)
			fn(r)
		default:
			// system, presence_state and friends
			log.Ctx(ctx).DebugContext(ctx, "ignoring realtime event", slog.String("event", msg.Event))
		}
	}
}
