package notifications

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"tenderdesk/procurement-backend/internal/approvals"
	"tenderdesk/procurement-backend/internal/auth"
)

// Message is the wire shape pushed to connected clients.
type Message struct {
	Type      string      `json:"type"`
	RequestID uuid.UUID   `json:"request_id"`
	Payload   interface{} `json:"payload,omitempty"`
	SentAt    time.Time   `json:"sent_at"`
}

const (
	TypeAwaitingApproval = "awaiting_approval"
	TypeRequestCompleted = "request_completed"
)

// Hub fans approval events out to websocket clients keyed by user id.
// It implements approvals.Notifier; delivery is fire-and-forget and a
// slow client is disconnected rather than allowed to block a transition.
type Hub struct {
	conns    map[uuid.UUID]map[*client]bool
	mu       sync.RWMutex
	upgrader websocket.Upgrader
	logger   *zap.Logger
}

type client struct {
	userID uuid.UUID
	conn   *websocket.Conn
	send   chan Message
}

func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		conns:  make(map[uuid.UUID]map[*client]bool),
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// Handle upgrades an authenticated HTTP connection and registers it for
// the actor's events.
func (h *Hub) Handle(c *gin.Context) {
	userID, ok := auth.UserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
		return
	}
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	cl := &client{userID: userID, conn: conn, send: make(chan Message, 16)}
	h.register(cl)
	go h.writePump(cl)
	go h.readPump(cl)
}

func (h *Hub) register(cl *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.conns[cl.userID] == nil {
		h.conns[cl.userID] = make(map[*client]bool)
	}
	h.conns[cl.userID][cl] = true
}

func (h *Hub) unregister(cl *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if set, ok := h.conns[cl.userID]; ok {
		if set[cl] {
			delete(set, cl)
			close(cl.send)
		}
		if len(set) == 0 {
			delete(h.conns, cl.userID)
		}
	}
}

func (h *Hub) readPump(cl *client) {
	defer func() {
		h.unregister(cl)
		cl.conn.Close()
	}()
	cl.conn.SetReadLimit(512)
	cl.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	cl.conn.SetPongHandler(func(string) error {
		return cl.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	})
	for {
		if _, _, err := cl.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writePump(cl *client) {
	ticker := time.NewTicker(54 * time.Second)
	defer func() {
		ticker.Stop()
		cl.conn.Close()
	}()
	for {
		select {
		case msg, ok := <-cl.send:
			if !ok {
				cl.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			cl.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := cl.conn.WriteJSON(msg); err != nil {
				return
			}
		case <-ticker.C:
			cl.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := cl.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (h *Hub) sendTo(userID uuid.UUID, msg Message) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for cl := range h.conns[userID] {
		select {
		case cl.send <- msg:
		default:
			// Client is not draining; drop the message.
			h.logger.Debug("dropping notification for slow client",
				zap.String("user_id", userID.String()))
		}
	}
}

// RequestAwaitingApproval notifies the newly empowered approver.
func (h *Hub) RequestAwaitingApproval(req *approvals.ApprovalRequest, step *approvals.ApprovalStep) {
	if req.CurrentApproverID == nil {
		return
	}
	h.sendTo(*req.CurrentApproverID, Message{
		Type:      TypeAwaitingApproval,
		RequestID: req.ID,
		Payload: gin.H{
			"request_title": req.RequestTitle,
			"step_order":    req.CurrentStepOrder,
			"step_name":     step.StepName,
			"due_date":      req.CurrentStepDueDate,
		},
		SentAt: time.Now(),
	})
}

// RequestCompleted notifies the requester of the terminal outcome.
func (h *Hub) RequestCompleted(req *approvals.ApprovalRequest) {
	h.sendTo(req.RequestedBy, Message{
		Type:      TypeRequestCompleted,
		RequestID: req.ID,
		Payload: gin.H{
			"request_title": req.RequestTitle,
			"status":        req.Status,
		},
		SentAt: time.Now(),
	})
}
