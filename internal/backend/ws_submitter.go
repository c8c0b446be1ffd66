package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/stemsi/exstem-runner/internal/model"
	"github.com/stemsi/exstem-runner/internal/response"
	wsschema "github.com/stemsi/exstem-runner/internal/websocket"
)

// StreamSubmitter sends answer submissions over the backend's exam stream
// instead of REST. It expects one outstanding request at a time; the
// submission serializer guarantees that.
type StreamSubmitter struct {
	wsBase  string
	auth    Authenticator
	dialer  *websocket.Dialer
	timeout time.Duration
	log     zerolog.Logger

	mu     sync.Mutex
	conn   *websocket.Conn
	examID string
}

// NewStreamSubmitter creates a new StreamSubmitter. The connection is opened
// lazily on the first submission and re-opened after any failure.
func NewStreamSubmitter(wsBase string, auth Authenticator, timeout time.Duration, log zerolog.Logger) *StreamSubmitter {
	return &StreamSubmitter{
		wsBase: strings.TrimRight(wsBase, "/"),
		auth:   auth,
		dialer: &websocket.Dialer{
			HandshakeTimeout: timeout,
			Proxy:            http.ProxyFromEnvironment,
		},
		timeout: timeout,
		log:     log.With().Str("component", "stream_submitter").Logger(),
	}
}

// SubmitAnswer sends one autosave action and waits for its success or error event.
func (s *StreamSubmitter) SubmitAnswer(ctx context.Context, req model.SubmitRequest) (*model.SubmitResult, error) {
	payload, err := json.Marshal(req.Answer)
	if err != nil {
		return nil, fmt.Errorf("marshal answer: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	conn, err := s.connLocked(ctx, req.ExamID)
	if err != nil {
		return nil, err
	}

	deadline := s.deadline(ctx)
	msg := wsschema.AutosaveRequest{
		Action:          wsschema.ActionAutosave,
		QID:             req.QuestionID,
		Answer:          string(payload),
		StudentAnswerID: req.StudentAnswerID,
		TimeSpent:       req.TimeSpentSeconds,
		RequestID:       req.IdempotencyKey,
	}
	if err := wsschema.WriteTyped(conn, msg, deadline); err != nil {
		s.dropLocked()
		return nil, fmt.Errorf("stream write: %w", err)
	}

	for {
		var ev wsschema.EventMessage
		if err := wsschema.ReadJSON(conn, &ev, deadline); err != nil {
			s.dropLocked()
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("stream read: %w", err)
		}
		if ev.RequestID != "" && ev.RequestID != req.IdempotencyKey {
			continue
		}

		switch ev.Event {
		case wsschema.EventSuccess:
			res := &model.SubmitResult{
				StudentAnswerID: req.StudentAnswerID,
				IsCorrect:       ev.IsCorrect,
				AwardedMark:     ev.AwardedMark,
			}
			if ev.StudentAnswerID != "" {
				res.StudentAnswerID = ev.StudentAnswerID
			}
			return res, nil
		case wsschema.EventError:
			return nil, &APIError{
				Status:  http.StatusUnprocessableEntity,
				Code:    response.ErrSubmissionFailed,
				Message: ev.Error,
			}
		default:
			// Pongs and grading notices are not answers to this request.
			continue
		}
	}
}

// Close shuts the stream down.
func (s *StreamSubmitter) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return nil
	}
	err := s.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	s.dropLocked()
	return err
}

func (s *StreamSubmitter) connLocked(ctx context.Context, examID string) (*websocket.Conn, error) {
	if s.conn != nil && s.examID == examID {
		return s.conn, nil
	}
	s.dropLocked()

	token, err := s.auth.Token()
	if err != nil {
		return nil, err
	}
	endpoint := fmt.Sprintf("%s/student/exams/%s/stream?token=%s",
		s.wsBase, url.PathEscape(examID), url.QueryEscape(token))

	conn, resp, err := s.dialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		if resp != nil {
			return nil, &APIError{Status: resp.StatusCode, Message: fmt.Sprintf("stream handshake: %v", err)}
		}
		return nil, fmt.Errorf("dial stream: %w", err)
	}

	s.log.Info().Str("exam_id", examID).Msg("Exam stream connected")
	s.conn = conn
	s.examID = examID
	return conn, nil
}

func (s *StreamSubmitter) dropLocked() {
	if s.conn == nil {
		return
	}
	_ = s.conn.Close()
	s.conn = nil
	s.examID = ""
}

func (s *StreamSubmitter) deadline(ctx context.Context) time.Time {
	d := time.Now().Add(s.timeout)
	if s.timeout <= 0 {
		d = time.Now().Add(30 * time.Second)
	}
	if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(d) {
		return ctxDeadline
	}
	return d
}
