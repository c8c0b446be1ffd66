package backend

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/andybalholm/brotli"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/stemsi/exstem-runner/internal/model"
	"github.com/stemsi/exstem-runner/internal/response"
)

const maxResponseBytes = 8 << 20

// Authenticator supplies the bearer token for backend calls.
type Authenticator interface {
	Token() (string, error)
}

// Client talks to the exam backend's REST API.
type Client struct {
	baseURL string
	http    *http.Client
	auth    Authenticator
	log     zerolog.Logger
}

// NewClient creates a new Client. baseURL is the API root, e.g.
// https://exam.school.id/api/v1.
func NewClient(baseURL string, timeout time.Duration, auth Authenticator, log zerolog.Logger) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
		auth:    auth,
		log:     log.With().Str("component", "backend_client").Logger(),
	}
}

// ─── Operations ─────────────────────────────────────────────────────

// LoadExam asks the backend for the student's attempt state of examID.
func (c *Client) LoadExam(ctx context.Context, examID string) (*model.ExamState, error) {
	data, err := c.do(ctx, http.MethodGet, "/student/exams/"+url.PathEscape(examID)+"/attempt", nil, nil, true)
	if err != nil {
		return nil, err
	}
	return NormalizeExamState(examID, data)
}

type submitBody struct {
	Answer           map[string]any `json:"answer"`
	TimeSpentSeconds int            `json:"time_spent_seconds"`
}

// SubmitAnswer sends one answer. An answer that already has a server row is
// updated in place; otherwise a new row is created under the attempt.
func (c *Client) SubmitAnswer(ctx context.Context, req model.SubmitRequest) (*model.SubmitResult, error) {
	method := http.MethodPost
	path := fmt.Sprintf("/student/attempts/%s/questions/%s/answer",
		url.PathEscape(req.AttemptID), url.PathEscape(req.QuestionID))
	if req.StudentAnswerID != "" {
		method = http.MethodPut
		path = "/student/answers/" + url.PathEscape(req.StudentAnswerID)
	}

	var headers map[string]string
	if req.IdempotencyKey != "" {
		headers = map[string]string{"Idempotency-Key": req.IdempotencyKey}
	}

	data, err := c.do(ctx, method, path, submitBody{
		Answer:           req.Answer,
		TimeSpentSeconds: req.TimeSpentSeconds,
	}, headers, true)
	if err != nil {
		return nil, err
	}
	return normalizeSubmitResult(data, req.StudentAnswerID)
}

// FinishAttempt closes the attempt on the backend.
func (c *Client) FinishAttempt(ctx context.Context, attemptID string) error {
	_, err := c.do(ctx, http.MethodPost, "/student/attempts/"+url.PathEscape(attemptID)+"/finish", nil, nil, true)
	return err
}

// Login exchanges NISN and password for a student JWT.
func (c *Client) Login(ctx context.Context, nisn, password string) (string, error) {
	data, err := c.do(ctx, http.MethodPost, "/auth/student/login", model.StudentLoginRequest{
		NISN:     nisn,
		Password: password,
	}, nil, false)
	if err != nil {
		return "", err
	}

	var out model.StudentLoginResponse
	if err := json.Unmarshal(data, &out); err != nil || out.Token == "" {
		return "", fmt.Errorf("%w: login response carries no token", ErrUnexpectedShape)
	}
	return out.Token, nil
}

// ─── Transport ──────────────────────────────────────────────────────

func (c *Client) do(ctx context.Context, method, path string, body any, headers map[string]string, authed bool) (json.RawMessage, error) {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	reqID := uuid.NewString()
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Accept-Encoding", "br, gzip")
	req.Header.Set("X-Request-ID", reqID)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	if authed {
		token, err := c.auth.Token()
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	started := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := readBody(resp)
	if err != nil {
		return nil, fmt.Errorf("%s %s: read body: %w", method, path, err)
	}

	c.log.Debug().
		Str("request_id", reqID).
		Str("method", method).
		Str("path", path).
		Int("status", resp.StatusCode).
		Dur("took", time.Since(started)).
		Msg("Backend call")

	return parseEnvelope(resp.StatusCode, raw)
}

// readBody undoes the Content-Encoding. Setting Accept-Encoding by hand turns
// off net/http's transparent gzip, so both encodings are handled here.
func readBody(resp *http.Response) ([]byte, error) {
	var r io.Reader = resp.Body
	switch strings.ToLower(strings.TrimSpace(resp.Header.Get("Content-Encoding"))) {
	case "br":
		r = brotli.NewReader(resp.Body)
	case "gzip":
		gz, err := gzip.NewReader(resp.Body)
		if err != nil {
			return nil, err
		}
		defer gz.Close()
		r = gz
	}
	return io.ReadAll(io.LimitReader(r, maxResponseBytes))
}

type envelope struct {
	Data    json.RawMessage     `json:"data"`
	Error   *response.ErrorBody `json:"error"`
	Success *bool               `json:"success"`
	Message string              `json:"message"`
}

// parseEnvelope accepts the standard {data, error, metadata} envelope and the
// older {success, data, message} layout, returning the data payload.
func parseEnvelope(status int, raw []byte) (json.RawMessage, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		if status >= http.StatusBadRequest {
			return nil, &APIError{Status: status, Message: http.StatusText(status)}
		}
		return nil, nil
	}

	var keys map[string]json.RawMessage
	if err := json.Unmarshal(raw, &keys); err != nil {
		if status >= http.StatusBadRequest {
			return nil, &APIError{Status: status, Message: http.StatusText(status)}
		}
		return nil, fmt.Errorf("%w: %v", ErrUnexpectedShape, err)
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnexpectedShape, err)
	}

	failed := status >= http.StatusBadRequest ||
		env.Error != nil ||
		(env.Success != nil && !*env.Success)
	if failed {
		apiErr := &APIError{Status: status, Message: env.Message}
		if env.Error != nil {
			apiErr.Code = env.Error.Code
			if env.Error.Message != "" {
				apiErr.Message = env.Error.Message
			}
		}
		if apiErr.Message == "" {
			apiErr.Message = http.StatusText(status)
		}
		return nil, apiErr
	}

	_, hasData := keys["data"]
	_, hasSuccess := keys["success"]
	if !hasData && !hasSuccess {
		return nil, ErrUnexpectedShape
	}
	if isNull(env.Data) {
		return nil, nil
	}
	return env.Data, nil
}

func isNull(raw json.RawMessage) bool {
	return len(raw) == 0 || string(raw) == "null"
}
