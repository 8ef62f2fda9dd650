package server

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/michaelbrown/assessor/internal/grading"
	"github.com/michaelbrown/assessor/internal/sandbox"
)

const wsWriteWait = 10 * time.Second

// wsIncoming is a message from the client. The first message carries the
// question and answer; later messages may only be {"type":"cancel"}.
type wsIncoming struct {
	Type     string                  `json:"type"`
	Question *grading.Question       `json:"question"`
	Answer   *grading.AnswerEnvelope `json:"answer"`
}

// wsOutgoing is a message to the client.
type wsOutgoing struct {
	Type         string                   `json:"type"` // started, result, summary, error
	ID           string                   `json:"id,omitempty"`
	TotalTests   int                      `json:"totalTests,omitempty"`
	Result       *sandbox.ExecutionResult `json:"result,omitempty"`
	Results      *grading.GradeSummary    `json:"results,omitempty"`
	SubmissionID string                   `json:"submissionId,omitempty"`
	Error        string                   `json:"error,omitempty"`
}

func (s *Server) upgrader() websocket.Upgrader {
	allowed := make(map[string]bool, len(s.cfg.Server.CORSOrigins))
	for _, o := range s.cfg.Server.CORSOrigins {
		allowed[o] = true
	}
	return websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || allowed["*"] || allowed[origin]
		},
	}
}

// wsConn serialises writes; gorilla connections allow one concurrent writer.
type wsConn struct {
	conn *websocket.Conn
	mu   sync.Mutex
	s    *Server
}

func (c *wsConn) send(msg wsOutgoing) {
	data, err := json.Marshal(msg)
	if err != nil {
		c.s.logger.Error().Err(err).Msg("websocket marshal error")
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		c.s.logger.Debug().Err(err).Msg("websocket write error")
	}
}

func (c *wsConn) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	c.conn.Close()
}

func (s *Server) handleExecuteWS(w http.ResponseWriter, r *http.Request) {
	up := s.upgrader()
	conn, err := up.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn().Err(err).Msg("websocket upgrade error")
		return
	}
	conn.SetReadLimit(maxBodyBytes)
	ws := &wsConn{conn: conn, s: s}
	defer ws.close()

	var msg wsIncoming
	if err := conn.ReadJSON(&msg); err != nil {
		if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
			ws.send(wsOutgoing{Type: "error", Error: "Invalid request body: " + err.Error()})
		}
		return
	}
	if msg.Type != "" && msg.Type != "execute" {
		ws.send(wsOutgoing{Type: "error", Error: "Expected an execute message"})
		return
	}

	sub, err := s.coordinator.Prepare(msg.Question, msg.Answer)
	if err != nil {
		_, text := errorStatus(err)
		ws.send(wsOutgoing{Type: "error", Error: text})
		return
	}

	ctx, run := s.runs.Start(r.Context(), sub.Question.ID, "websocket")
	defer s.runs.Finish(run.ID)

	// Cancel the run when the client asks to or goes away.
	go func() {
		for {
			var in wsIncoming
			if err := conn.ReadJSON(&in); err != nil {
				s.runs.Cancel(run.ID)
				return
			}
			if in.Type == "cancel" {
				s.runs.Cancel(run.ID)
			}
		}
	}()

	ws.send(wsOutgoing{Type: "started", ID: run.ID, TotalTests: len(sub.Question.Content.TestCases)})

	summary, submissionID, err := s.grade(ctx, run, sub, func(res sandbox.ExecutionResult) {
		ws.send(wsOutgoing{Type: "result", Result: &res})
	})
	if err != nil {
		_, text := errorStatus(err)
		ws.send(wsOutgoing{Type: "error", ID: run.ID, Error: text})
		return
	}
	ws.send(wsOutgoing{Type: "summary", ID: run.ID, Results: summary, SubmissionID: submissionID})
}
