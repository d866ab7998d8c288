package realtime

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/livepoll/backend/internal/models"
	"github.com/livepoll/backend/internal/polls"
)

// Inbound events.
const (
	EventNewPoll       = "new_poll"
	EventPollAnswer    = "poll_answer"
	EventEndPoll       = "end_poll"
	EventChatMessage   = "chat_message"
	EventGetPollStatus = "get_poll_status"
)

// Outbound events.
const (
	EventPollStarted      = "poll_started"
	EventPollUpdate       = "poll_update"
	EventPollEnded        = "poll_ended"
	EventPollStatus       = "poll_status"
	EventError            = "error"
	EventParticipantCount = "participant_count"
)

// NewPollRequest is the payload of new_poll.
type NewPollRequest struct {
	Question string   `json:"question"`
	Options  []string `json:"options"`
}

// PollAnswerRequest is the payload of poll_answer.
type PollAnswerRequest struct {
	StudentName string `json:"student_name"`
	Answer      string `json:"answer"`
}

// ChatRequest is the payload of chat_message.
type ChatRequest struct {
	SenderName string `json:"sender_name"`
	Message    string `json:"message"`
	SenderType string `json:"sender_type"`
}

// ErrorReply is sent to the originating participant only.
type ErrorReply struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// Gateway dispatches participant commands to the session store and broadcasts the results.
// Store mutations and their broadcasts happen under one lock, so every participant observes
// broadcasts in mutation order.
type Gateway struct {
	mu     sync.Mutex
	store  *polls.Store
	hub    *Hub
	logger *zap.Logger
	now    func() time.Time
}

// NewGateway wires store to hub. The participant count is broadcast on every connect/disconnect.
func NewGateway(store *polls.Store, hub *Hub, logger *zap.Logger) *Gateway {
	if logger == nil {
		logger = zap.NewNop()
	}
	g := &Gateway{store: store, hub: hub, logger: logger, now: time.Now}
	hub.SetParticipantChangeHandler(func(count int) {
		hub.Broadcast(EventParticipantCount, map[string]int{"count": count})
	})
	return g
}

// Join registers c. A late joiner immediately receives the live poll, if any.
func (g *Gateway) Join(c *Client) {
	g.mu.Lock()
	g.hub.Register(c)
	if s := g.store.GetStatus(); s != nil {
		g.hub.SendTo(c.ID, EventPollStarted, s)
	}
	g.mu.Unlock()
	g.hub.EnsureSubscribed()
}

// Leave removes c from the registry. Its recorded answers stay.
func (g *Gateway) Leave(c *Client) {
	g.hub.Unregister(c)
}

// Handle processes one inbound message from c.
func (g *Gateway) Handle(ctx context.Context, c *Client, msg WSMessage) {
	switch msg.Event {
	case EventNewPoll:
		var req NewPollRequest
		if !g.decode(c, msg, &req) {
			return
		}
		g.mu.Lock()
		defer g.mu.Unlock()
		s, err := g.store.StartPoll(req.Question, req.Options)
		if err != nil {
			g.replyError(c, err)
			return
		}
		g.hub.Broadcast(EventPollStarted, s)

	case EventPollAnswer:
		var req PollAnswerRequest
		if !g.decode(c, msg, &req) {
			return
		}
		g.mu.Lock()
		defer g.mu.Unlock()
		update, err := g.store.SubmitAnswer(req.StudentName, req.Answer)
		if err != nil {
			g.replyError(c, err)
			return
		}
		g.hub.Broadcast(EventPollUpdate, update)

	case EventEndPoll:
		g.mu.Lock()
		defer g.mu.Unlock()
		result, err := g.store.EndPoll(context.WithoutCancel(ctx))
		if result != nil {
			g.hub.Broadcast(EventPollEnded, result)
		}
		if err != nil {
			g.replyError(c, err)
		}

	case EventChatMessage:
		var req ChatRequest
		if !g.decode(c, msg, &req) {
			return
		}
		chat, ok := g.chatMessage(c, req)
		if !ok {
			g.hub.SendTo(c.ID, EventError, ErrorReply{Kind: polls.KindValidation, Message: "Invalid message data"})
			return
		}
		g.logger.Debug("chat message", zap.String("sender", chat.SenderName), zap.String("sender_type", chat.SenderType))
		g.hub.BroadcastAndPublish(EventChatMessage, chat)

	case EventGetPollStatus:
		g.mu.Lock()
		defer g.mu.Unlock()
		g.hub.SendTo(c.ID, EventPollStatus, g.store.GetStatus())

	default:
		g.logger.Debug("ignoring unknown event", zap.String("client_id", c.ID), zap.String("event", msg.Event))
	}
}

func (g *Gateway) chatMessage(c *Client, req ChatRequest) (models.ChatMessage, bool) {
	name := strings.TrimSpace(req.SenderName)
	body := strings.TrimSpace(req.Message)
	role := strings.TrimSpace(req.SenderType)
	if name == "" || body == "" {
		return models.ChatMessage{}, false
	}
	if role != models.RoleTeacher && role != models.RoleStudent {
		return models.ChatMessage{}, false
	}
	return models.ChatMessage{
		SenderName: name,
		Message:    body,
		SenderType: role,
		Timestamp:  g.now(),
		SocketID:   c.ID,
	}, true
}

func (g *Gateway) decode(c *Client, msg WSMessage, v interface{}) bool {
	if len(msg.Data) == 0 {
		msg.Data = json.RawMessage("{}")
	}
	if err := json.Unmarshal(msg.Data, v); err != nil {
		g.hub.SendTo(c.ID, EventError, ErrorReply{Kind: polls.KindValidation, Message: "malformed " + msg.Event + " payload"})
		return false
	}
	return true
}

func (g *Gateway) replyError(c *Client, err error) {
	kind := polls.ErrorKind(err)
	if kind == polls.KindInternal || kind == polls.KindPersistence {
		g.logger.Error("command failed", zap.String("client_id", c.ID), zap.Error(err))
	}
	g.hub.SendTo(c.ID, EventError, ErrorReply{Kind: kind, Message: polls.PublicMessage(err)})
}
