package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/stemsi/exstem-runner/internal/backend"
	"github.com/stemsi/exstem-runner/internal/middleware"
	"github.com/stemsi/exstem-runner/internal/model"
	"github.com/stemsi/exstem-runner/internal/repository"
	"github.com/stemsi/exstem-runner/internal/response"
	"github.com/stemsi/exstem-runner/internal/service"
	"github.com/stemsi/exstem-runner/internal/validator"
)

const viewStreamInterval = time.Second

// ExamSessionHandler exposes exam sessions to the local exam UI.
type ExamSessionHandler struct {
	sessions *service.SessionManager
	log      zerolog.Logger
}

// NewExamSessionHandler creates a new ExamSessionHandler.
func NewExamSessionHandler(sessions *service.SessionManager, log zerolog.Logger) *ExamSessionHandler {
	return &ExamSessionHandler{
		sessions: sessions,
		log:      log.With().Str("component", "exam_session_handler").Logger(),
	}
}

// Mount godoc
// POST /api/v1/exams/:exam_id/session
// Loads the exam and starts or resumes the attempt. Idempotent while the
// session is live.
func (h *ExamSessionHandler) Mount(c *gin.Context) {
	var uri model.SessionURI
	if fields := validator.BindURI(c, &uri); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrInvalidID, fields)
		return
	}

	sess, err := h.sessions.Open(c.Request.Context(), uri.ExamID)
	if err != nil {
		h.fail(c, err)
		return
	}

	if sess.Exit() == model.ExitRevision {
		response.FailWithData(c, http.StatusConflict, response.ErrExamRevisionRequired, gin.H{
			"exam_id":  uri.ExamID,
			"redirect": "review",
		})
		return
	}

	if claims := middleware.GetClaims(c); claims != nil {
		h.log.Info().
			Str("exam_id", uri.ExamID).
			Int("student_id", claims.UserID).
			Str("status", string(sess.Status())).
			Msg("Exam session opened")
	}
	response.Success(c, http.StatusOK, sess.View())
}

// View godoc
// GET /api/v1/exams/:exam_id/session
func (h *ExamSessionHandler) View(c *gin.Context) {
	sess, ok := h.session(c)
	if !ok {
		return
	}
	response.Success(c, http.StatusOK, sess.View())
}

// StreamView godoc
// GET /api/v1/exams/:exam_id/session/stream
// Pushes the session view every second over SSE until the session ends.
func (h *ExamSessionHandler) StreamView(c *gin.Context) {
	sess, ok := h.session(c)
	if !ok {
		return
	}

	reqCtx := c.Request.Context()

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")

	ticker := time.NewTicker(viewStreamInterval)
	defer ticker.Stop()

	// Send immediately on connect, then every tick
	h.writeView(c, sess.View())

	for {
		select {
		case <-reqCtx.Done():
			return
		case <-sess.Done():
			h.writeView(c, sess.View())
			return
		case <-ticker.C:
			h.writeView(c, sess.View())
		}
	}
}

func (h *ExamSessionHandler) writeView(c *gin.Context, view model.SessionView) {
	data, err := json.Marshal(view)
	if err != nil {
		return
	}
	c.Writer.Write([]byte("data: "))
	c.Writer.Write(data)
	c.Writer.Write([]byte("\n\n"))
	c.Writer.Flush()
}

// UpdateAnswer godoc
// PUT /api/v1/exams/:exam_id/session/answers/:question_id
// Records an edit without sending it.
func (h *ExamSessionHandler) UpdateAnswer(c *gin.Context) {
	sess, questionID, value, ok := h.answerInput(c)
	if !ok {
		return
	}

	if err := sess.UpdateAnswer(c.Request.Context(), questionID, value); err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, http.StatusOK, sess.View())
}

// SubmitAnswer godoc
// POST /api/v1/exams/:exam_id/session/answers/:question_id/submit
// Sends the answer through the session's submission queue and waits for the
// backend's verdict.
func (h *ExamSessionHandler) SubmitAnswer(c *gin.Context) {
	sess, questionID, value, ok := h.answerInput(c)
	if !ok {
		return
	}

	result, err := sess.SubmitAnswer(c.Request.Context(), questionID, value)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{
		"result": result,
		"view":   sess.View(),
	})
}

// Navigate godoc
// POST /api/v1/exams/:exam_id/session/navigation
func (h *ExamSessionHandler) Navigate(c *gin.Context) {
	sess, ok := h.session(c)
	if !ok {
		return
	}

	var req model.NavigationRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}
	if req.Action == model.NavigateGoTo && req.Index == nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, map[string]string{
			"index": "index is required for goto",
		})
		return
	}

	var err error
	switch req.Action {
	case model.NavigateNext:
		err = sess.NextQuestion()
	case model.NavigatePrevious:
		err = sess.PreviousQuestion()
	case model.NavigateGoTo:
		err = sess.GoToQuestion(*req.Index)
	}
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, http.StatusOK, sess.View())
}

// End godoc
// POST /api/v1/exams/:exam_id/session/end
// Finishes the attempt. Pending submissions are flushed first.
func (h *ExamSessionHandler) End(c *gin.Context) {
	sess, ok := h.session(c)
	if !ok {
		return
	}

	if err := sess.EndExam(c.Request.Context()); err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, http.StatusOK, sess.View())
}

// Unmount godoc
// DELETE /api/v1/exams/:exam_id/session
// Leaves the session without finishing the attempt.
func (h *ExamSessionHandler) Unmount(c *gin.Context) {
	var uri model.SessionURI
	if fields := validator.BindURI(c, &uri); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrInvalidID, fields)
		return
	}

	if !h.sessions.Close(uri.ExamID) {
		response.Fail(c, http.StatusNotFound, response.ErrSessionNotFound)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"exam_id": uri.ExamID, "closed": true})
}

// ─── Helpers ────────────────────────────────────────────────────────

func (h *ExamSessionHandler) session(c *gin.Context) (*service.ExamSession, bool) {
	var uri model.SessionURI
	if fields := validator.BindURI(c, &uri); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrInvalidID, fields)
		return nil, false
	}

	sess, ok := h.sessions.Get(uri.ExamID)
	if !ok {
		response.Fail(c, http.StatusNotFound, response.ErrSessionNotFound)
		return nil, false
	}
	return sess, true
}

func (h *ExamSessionHandler) answerInput(c *gin.Context) (*service.ExamSession, string, any, bool) {
	var uri model.AnswerURI
	if fields := validator.BindURI(c, &uri); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrInvalidID, fields)
		return nil, "", nil, false
	}

	sess, ok := h.sessions.Get(uri.ExamID)
	if !ok {
		response.Fail(c, http.StatusNotFound, response.ErrSessionNotFound)
		return nil, "", nil, false
	}

	var req model.AnswerRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return nil, "", nil, false
	}
	value, err := req.Decode()
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidPayload)
		return nil, "", nil, false
	}
	return sess, uri.QuestionID, value, true
}

// fail maps session errors onto the response envelope.
func (h *ExamSessionHandler) fail(c *gin.Context, err error) {
	var loadErr *service.LoadError
	var subErr *service.SubmissionError

	switch {
	case errors.As(err, &loadErr):
		response.FailWithMessage(c, loadErrorStatus(loadErr.Code), loadErr.Code, loadErr.Message)
	case errors.Is(err, service.ErrSessionNotFound):
		response.Fail(c, http.StatusNotFound, response.ErrSessionNotFound)
	case errors.Is(err, service.ErrSessionNotActive), errors.Is(err, service.ErrSessionClosed):
		response.Fail(c, http.StatusConflict, response.ErrSessionNotActive)
	case errors.Is(err, service.ErrQuestionIndexOutOfRange):
		response.Fail(c, http.StatusBadRequest, response.ErrQuestionOutOfRange)
	case errors.Is(err, repository.ErrUnknownQuestion):
		response.Fail(c, http.StatusNotFound, response.ErrUnknownQuestion)
	case errors.Is(err, model.ErrInvalidAnswerValue):
		response.Fail(c, http.StatusUnprocessableEntity, response.ErrInvalidAnswer)
	case errors.As(err, &subErr):
		msg := ""
		if apiErr, ok := backend.AsAPIError(err); ok && apiErr.Code != "" {
			msg = apiErr.Message
		}
		response.FailWithMessage(c, http.StatusBadGateway, response.ErrSubmissionFailed, msg)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		// Client went away; the queued submission still runs.
		c.Status(http.StatusRequestTimeout)
	default:
		h.log.Error().Err(err).Str("path", c.FullPath()).Msg("Unhandled session error")
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
	}
}

func loadErrorStatus(code response.ErrCode) int {
	switch code {
	case response.ErrTokenRequired, response.ErrTokenInvalid, response.ErrTokenExpired:
		return http.StatusUnauthorized
	case response.ErrExamNotAvailable:
		return http.StatusForbidden
	case response.ErrNotFound:
		return http.StatusNotFound
	case response.ErrBackendUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusBadGateway
	}
}
