package api

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/repertory-sheet-server/internal/domain"
	"github.com/repertory-sheet-server/internal/service"
)

const (
	liveWriteWait  = 10 * time.Second
	livePongWait   = 60 * time.Second
	livePingPeriod = (livePongWait * 9) / 10
	liveSendBuffer = 16
	liveMaxMessage = 1 << 20
)

// Live channel actions
const (
	actionAddRubric     = "add_rubric"
	actionFetchRubrics  = "fetch_rubrics"
	actionRemoveRubric  = "remove_rubric"
	actionSetImportance = "set_importance"
	actionClear         = "clear"
	actionAnalyze       = "analyze"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
}

// liveCommand is a mutation or query sent by a live client
type liveCommand struct {
	Action     string               `json:"action"`
	Rubric     *domain.RubricResult `json:"rubric,omitempty"`
	RubricIDs  []string             `json:"rubric_ids,omitempty"`
	RubricID   string               `json:"rubric_id,omitempty"`
	Importance int                  `json:"importance,omitempty"`
	Top        int                  `json:"top,omitempty"`
}

// liveMessage is pushed to live clients
type liveMessage struct {
	Type     string            `json:"type"` // "analysis" or "error"
	Analysis *service.Analysis `json:"analysis,omitempty"`
	Error    *domain.MCPError  `json:"error,omitempty"`
}

type liveConn struct {
	ws        *websocket.Conn
	sessionID string
	send      chan liveMessage
	once      sync.Once
}

func (c *liveConn) close() {
	c.once.Do(func() { close(c.send) })
}

// liveHub fans analysis updates out to every websocket watching a session
type liveHub struct {
	mu      sync.Mutex
	conns   map[string]map[*liveConn]struct{}
	cases   *service.CaseService
	timeout time.Duration
	logger  *logrus.Logger
}

func newLiveHub(cases *service.CaseService, timeout time.Duration, logger *logrus.Logger) *liveHub {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &liveHub{
		conns:   make(map[string]map[*liveConn]struct{}),
		cases:   cases,
		timeout: timeout,
		logger:  logger,
	}
}

func (h *liveHub) register(c *liveConn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.conns[c.sessionID] == nil {
		h.conns[c.sessionID] = make(map[*liveConn]struct{})
	}
	h.conns[c.sessionID][c] = struct{}{}
}

func (h *liveHub) unregister(c *liveConn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(c)
}

// removeLocked must be called with the mutex held
func (h *liveHub) removeLocked(c *liveConn) {
	if set, ok := h.conns[c.sessionID]; ok {
		delete(set, c)
		if len(set) == 0 {
			delete(h.conns, c.sessionID)
		}
	}
	c.close()
}

// publish sends the analysis to every listener of the session. Slow listeners are dropped.
func (h *liveHub) publish(sessionID string, analysis service.Analysis) {
	h.mu.Lock()
	defer h.mu.Unlock()

	msg := liveMessage{Type: "analysis", Analysis: &analysis}
	for c := range h.conns[sessionID] {
		select {
		case c.send <- msg:
		default:
			h.logger.WithField("session_id", sessionID).Warn("Live listener too slow, disconnecting")
			h.removeLocked(c)
		}
	}
}

func (h *liveHub) reply(c *liveConn, msg liveMessage) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.conns[c.sessionID][c]; !ok {
		return
	}
	select {
	case c.send <- msg:
	default:
		h.removeLocked(c)
	}
}

func (h *liveHub) closeSession(sessionID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.conns[sessionID] {
		h.removeLocked(c)
	}
}

func (h *liveHub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, set := range h.conns {
		for c := range set {
			h.removeLocked(c)
		}
	}
}

// handleLive upgrades to a websocket that accepts case commands and streams the
// analysis after every mutation of the session, whoever made it.
func (s *Server) handleLive(c *gin.Context) {
	sessionID := c.Param("id")
	analysis, err := s.cases.Analyze(sessionID, 0)
	if err != nil {
		respondError(c, err)
		return
	}

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.WithError(err).Warn("Websocket upgrade failed")
		return
	}

	conn := &liveConn{
		ws:        ws,
		sessionID: sessionID,
		send:      make(chan liveMessage, liveSendBuffer),
	}
	s.live.register(conn)
	s.live.reply(conn, liveMessage{Type: "analysis", Analysis: &analysis})

	s.logger.WithField("session_id", sessionID).Info("Live listener connected")

	go s.live.writePump(conn)
	s.live.readPump(conn)
}

func (h *liveHub) readPump(c *liveConn) {
	defer func() {
		h.unregister(c)
		c.ws.Close()
		h.logger.WithField("session_id", c.sessionID).Info("Live listener disconnected")
	}()

	c.ws.SetReadLimit(liveMaxMessage)
	_ = c.ws.SetReadDeadline(time.Now().Add(livePongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(livePongWait))
	})

	for {
		var cmd liveCommand
		if err := c.ws.ReadJSON(&cmd); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.WithError(err).Debug("Live read failed")
			}
			return
		}
		h.execute(c, cmd)
	}
}

func (h *liveHub) writePump(c *liveConn) {
	ticker := time.NewTicker(livePingPeriod)
	defer func() {
		ticker.Stop()
		c.ws.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(liveWriteWait))
			if !ok {
				_ = c.ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.ws.WriteJSON(msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(liveWriteWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// execute runs one command. Mutations are broadcast; analyze and errors go to the sender only.
func (h *liveHub) execute(c *liveConn, cmd liveCommand) {
	var err error
	switch cmd.Action {
	case actionAddRubric:
		if cmd.Rubric == nil {
			err = domain.NewValidationError("rubric", "rubric is required", nil)
			break
		}
		var rubric domain.Rubric
		if rubric, err = cmd.Rubric.ToRubric(); err == nil {
			_, err = h.cases.AddRubric(c.sessionID, rubric)
		}
	case actionFetchRubrics:
		ctx, cancel := context.WithTimeout(context.Background(), h.timeout)
		_, err = h.cases.AddRubricsByID(ctx, c.sessionID, cmd.RubricIDs)
		cancel()
	case actionRemoveRubric:
		_, err = h.cases.RemoveRubric(c.sessionID, cmd.RubricID)
	case actionSetImportance:
		err = h.cases.SetImportance(c.sessionID, cmd.RubricID, cmd.Importance)
	case actionClear:
		err = h.cases.ClearCase(c.sessionID)
	case actionAnalyze:
		analysis, aerr := h.cases.Analyze(c.sessionID, cmd.Top)
		if aerr != nil {
			h.replyError(c, aerr)
			return
		}
		h.reply(c, liveMessage{Type: "analysis", Analysis: &analysis})
		return
	default:
		err = domain.NewValidationError("action", fmt.Sprintf("unknown action %q", cmd.Action), cmd.Action)
	}

	if err != nil {
		h.replyError(c, err)
		return
	}

	analysis, err := h.cases.Analyze(c.sessionID, 0)
	if err != nil {
		h.replyError(c, err)
		return
	}
	h.publish(c.sessionID, analysis)
}

func (h *liveHub) replyError(c *liveConn, err error) {
	_, body := newErrorBody(err, "")
	h.reply(c, liveMessage{Type: "error", Error: body})
}
