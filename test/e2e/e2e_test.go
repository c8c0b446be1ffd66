//go:build e2e
// +build e2e

package e2e

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"testing"
	"time"

	"github.com/joho/godotenv"
)

// Drives a running `exstem-runner serve` that points at a live exam backend.
// The student must be allowed to take E2E_EXAM_ID and have no finished
// attempt for it yet.

const defaultBridgeURL = "http://127.0.0.1:7070"

var (
	bridgeURL   string
	examID      string
	studentNISN string
	studentPass string
)

func TestMain(m *testing.M) {
	// Load .env if present (ignore error)
	_ = godotenv.Load("../../.env")

	bridgeURL = os.Getenv("E2E_BRIDGE_URL")
	if bridgeURL == "" {
		bridgeURL = defaultBridgeURL
	}
	examID = os.Getenv("E2E_EXAM_ID")
	studentNISN = os.Getenv("E2E_NISN")
	studentPass = os.Getenv("E2E_PASSWORD")
	if examID == "" || studentNISN == "" || studentPass == "" {
		fmt.Println("E2E_EXAM_ID, E2E_NISN and E2E_PASSWORD are required")
		os.Exit(1)
	}

	os.Exit(m.Run())
}

type sessionView struct {
	Status          string `json:"status"`
	AttemptID       string `json:"attempt_id"`
	CurrentIndex    int    `json:"current_index"`
	CurrentQuestion *struct {
		ID           string `json:"id"`
		QuestionType string `json:"question_type"`
	} `json:"current_question"`
	Progress struct {
		Total int `json:"total"`
	} `json:"progress"`
	RemainingSeconds int `json:"remaining_seconds"`
}

func TestE2EExamSession(t *testing.T) {
	sessionPath := "/api/v1/exams/" + examID + "/session"

	// Step 1: Health
	t.Run("Health", func(t *testing.T) {
		resp, err := do(http.MethodGet, "/health", nil)
		if err != nil {
			t.Fatalf("request failed: %v", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("status %d: %s", resp.StatusCode, readBody(resp))
		}
	})

	// Step 2: Login through the bridge
	t.Run("StudentLogin", func(t *testing.T) {
		resp, err := do(http.MethodPost, "/api/v1/auth/login", map[string]string{
			"nisn":     studentNISN,
			"password": studentPass,
		})
		if err != nil {
			t.Fatalf("request failed: %v", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("status %d: %s", resp.StatusCode, readBody(resp))
		}
	})

	var view sessionView

	// Step 3: Mount
	t.Run("Mount", func(t *testing.T) {
		resp, err := do(http.MethodPost, sessionPath, nil)
		if err != nil {
			t.Fatalf("request failed: %v", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("status %d: %s", resp.StatusCode, readBody(resp))
		}

		var body struct {
			Data sessionView `json:"data"`
		}
		decodeJSON(t, resp, &body)
		view = body.Data
		if view.Status != "active" {
			t.Fatalf("expected active session, got %q", view.Status)
		}
		if view.CurrentQuestion == nil || view.Progress.Total == 0 {
			t.Fatal("session has no questions")
		}
		t.Logf("Attempt %s, %d questions, %ds left", view.AttemptID, view.Progress.Total, view.RemainingSeconds)
	})

	// Step 4: Submit the first question
	t.Run("SubmitAnswer", func(t *testing.T) {
		if view.CurrentQuestion == nil {
			t.Skip("mount failed")
		}
		resp, err := do(http.MethodPost, sessionPath+"/answers/"+view.CurrentQuestion.ID+"/submit",
			map[string]any{"value": sampleAnswer(view.CurrentQuestion.QuestionType)})
		if err != nil {
			t.Fatalf("request failed: %v", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("status %d: %s", resp.StatusCode, readBody(resp))
		}
	})

	// Step 5: Navigate
	t.Run("Navigate", func(t *testing.T) {
		if view.Progress.Total < 2 {
			t.Skip("single-question exam")
		}
		resp, err := do(http.MethodPost, sessionPath+"/navigation", map[string]string{"action": "next"})
		if err != nil {
			t.Fatalf("request failed: %v", err)
		}
		defer resp.Body.Close()

		var body struct {
			Data sessionView `json:"data"`
		}
		decodeJSON(t, resp, &body)
		if body.Data.CurrentIndex != 1 {
			t.Errorf("expected index 1, got %d", body.Data.CurrentIndex)
		}
	})

	// Step 6: End
	t.Run("EndExam", func(t *testing.T) {
		resp, err := do(http.MethodPost, sessionPath+"/end", nil)
		if err != nil {
			t.Fatalf("request failed: %v", err)
		}
		defer resp.Body.Close()

		var body struct {
			Data sessionView `json:"data"`
		}
		decodeJSON(t, resp, &body)
		if body.Data.Status != "finished" {
			t.Errorf("expected finished, got %q", body.Data.Status)
		}
	})
}

func sampleAnswer(questionType string) any {
	switch questionType {
	case "MULTIPLE_ANSWER":
		return []string{"A"}
	case "TRUE_FALSE":
		return true
	case "SHORT_ANSWER", "ESSAY":
		return "e2e"
	default:
		return "A"
	}
}

// Helpers

func do(method, path string, body interface{}) (*http.Response, error) {
	var bodyReader io.Reader
	if body != nil {
		jsonBytes, _ := json.Marshal(body)
		bodyReader = bytes.NewBuffer(jsonBytes)
	}

	req, err := http.NewRequest(method, bridgeURL+path, bodyReader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	client := &http.Client{Timeout: 30 * time.Second}
	return client.Do(req)
}

func readBody(resp *http.Response) string {
	b, _ := io.ReadAll(resp.Body)
	return string(b)
}

func decodeJSON(t *testing.T, resp *http.Response, v interface{}) {
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("json decode: %v", err)
	}
}
