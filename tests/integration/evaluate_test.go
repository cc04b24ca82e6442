//go:build integration

// Package integration provides end-to-end tests against a running bedside
// server started with the built-in instruments:
//
//	bedside serve
//	go test -tags=integration -v ./tests/integration/...
//
// Set BEDSIDE_TEST_URL to target another address.
package integration

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"testing"
	"time"
)

// TestConfig holds test environment configuration
type TestConfig struct {
	BaseURL string
}

func getTestConfig() TestConfig {
	baseURL := os.Getenv("BEDSIDE_TEST_URL")
	if baseURL == "" {
		baseURL = "http://localhost:8080"
	}
	return TestConfig{BaseURL: baseURL}
}

// EvaluateRequest is the body of POST /instruments/{id}/evaluate
type EvaluateRequest struct {
	Inputs map[string]any `json:"inputs"`
}

// EvaluateResponse mirrors the fields these tests read.
type EvaluateResponse struct {
	Evaluation struct {
		InstrumentID      string   `json:"instrumentId"`
		Score             int      `json:"score"`
		RawValue          float64  `json:"rawValue"`
		OutcomeValue      float64  `json:"outcomeValue"`
		ScoreOutcomeValue *float64 `json:"scoreOutcomeValue"`
		Tier              struct {
			Label string `json:"label"`
		} `json:"tier"`
		Components []struct {
			RuleID string `json:"ruleId"`
			Met    bool   `json:"met"`
		} `json:"components"`
	} `json:"evaluation"`
	Metadata struct {
		TraceID string `json:"traceId"`
		TotalMs int64  `json:"totalMs"`
		Version string `json:"version"`
	} `json:"metadata"`
}

func post(t *testing.T, config TestConfig, path string, body any) (*http.Response, []byte) {
	t.Helper()

	data, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("Failed to marshal request: %v", err)
	}

	httpReq, err := http.NewRequest(http.MethodPost, config.BaseURL+path, bytes.NewReader(data))
	if err != nil {
		t.Fatalf("Failed to create request: %v", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(httpReq)
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("Failed to read response: %v", err)
	}
	return resp, respBody
}

func evaluate(t *testing.T, config TestConfig, id string, inputs map[string]any) EvaluateResponse {
	t.Helper()

	resp, body := post(t, config, fmt.Sprintf("/instruments/%s/evaluate", id), EvaluateRequest{Inputs: inputs})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", resp.StatusCode, string(body))
	}

	var result EvaluateResponse
	if err := json.Unmarshal(body, &result); err != nil {
		t.Fatalf("Failed to unmarshal response: %v (body: %s)", err, string(body))
	}
	return result
}

// ============================================================================
// RAMS
// ============================================================================

func TestRAMSSevereGCS(t *testing.T) {
	result := evaluate(t, getTestConfig(), "rams", map[string]any{"gcs": 6})

	if result.Evaluation.Score != 5 {
		t.Errorf("Expected score 5, got %d", result.Evaluation.Score)
	}
	if result.Evaluation.Tier.Label != "Moderate Risk" {
		t.Errorf("Expected Moderate Risk, got %s", result.Evaluation.Tier.Label)
	}
	t.Logf("✓ RAMS gcs=6: score=%d tier=%s", result.Evaluation.Score, result.Evaluation.Tier.Label)
}

func TestRAMSDefaults(t *testing.T) {
	result := evaluate(t, getTestConfig(), "rams", nil)

	if result.Evaluation.Score != 2 || result.Evaluation.Tier.Label != "Low Risk" {
		t.Errorf("Expected 2 / Low Risk, got %d / %s", result.Evaluation.Score, result.Evaluation.Tier.Label)
	}
}

// ============================================================================
// PRIME-ICU
// ============================================================================

func TestPRIMEICUDefaults(t *testing.T) {
	result := evaluate(t, getTestConfig(), "prime_icu", nil)

	if result.Evaluation.Score != 3 {
		t.Errorf("Expected score 3, got %d", result.Evaluation.Score)
	}
	if result.Evaluation.Tier.Label != "Low Risk" {
		t.Errorf("Expected Low Risk, got %s", result.Evaluation.Tier.Label)
	}
	if result.Evaluation.OutcomeValue != 5.7 {
		t.Errorf("Expected outcome 5.7, got %v", result.Evaluation.OutcomeValue)
	}
}

func TestPRIMEICUAllRulesUnmet(t *testing.T) {
	result := evaluate(t, getTestConfig(), "prime_icu", map[string]any{
		"age": 30,
		"sex": "Female",
		"sbp": 110,
	})

	if result.Evaluation.RawValue != 3 {
		t.Errorf("Expected raw value exactly 3, got %v", result.Evaluation.RawValue)
	}
	if len(result.Evaluation.Components) != 31 {
		t.Errorf("Expected 31 components, got %d", len(result.Evaluation.Components))
	}
	for _, c := range result.Evaluation.Components {
		if c.Met {
			t.Errorf("Rule %s unexpectedly met", c.RuleID)
		}
	}
}

// ============================================================================
// FORD
// ============================================================================

func TestFORDDefaults(t *testing.T) {
	result := evaluate(t, getTestConfig(), "ford", nil)

	if result.Evaluation.Score != 1 || result.Evaluation.Tier.Label != "Low" {
		t.Errorf("Expected 1 / Low, got %d / %s", result.Evaluation.Score, result.Evaluation.Tier.Label)
	}
	if result.Evaluation.OutcomeValue != 1.2 {
		t.Errorf("Expected tier outcome 1.2, got %v", result.Evaluation.OutcomeValue)
	}
	if result.Evaluation.ScoreOutcomeValue == nil || *result.Evaluation.ScoreOutcomeValue != 1.7 {
		t.Errorf("Expected per-score outcome 1.7, got %v", result.Evaluation.ScoreOutcomeValue)
	}
}

func TestFORDClampsAtMaximum(t *testing.T) {
	result := evaluate(t, getTestConfig(), "ford", map[string]any{
		"age":           80,
		"sex":           "Female",
		"gcs":           12,
		"sbp":           80,
		"hr":            120,
		"fracture_site": "Both",
		"transport":     "Ambulance/Air",
		"insurance":     "Medicare",
	})

	if result.Evaluation.RawValue != 11 {
		t.Errorf("Expected raw value 11, got %v", result.Evaluation.RawValue)
	}
	if result.Evaluation.Score != 10 || result.Evaluation.Tier.Label != "High" {
		t.Errorf("Expected 10 / High, got %d / %s", result.Evaluation.Score, result.Evaluation.Tier.Label)
	}
}

// ============================================================================
// Errors and contract
// ============================================================================

func TestOutOfDomainInput_Error(t *testing.T) {
	resp, body := post(t, getTestConfig(), "/instruments/rams/evaluate", EvaluateRequest{
		Inputs: map[string]any{"gcs": 20},
	})

	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Errorf("Expected 422 for gcs=20, got %d: %s", resp.StatusCode, string(body))
	}
}

func TestUnknownInstrument_Error(t *testing.T) {
	resp, _ := post(t, getTestConfig(), "/instruments/apache_ii/evaluate", EvaluateRequest{})

	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("Expected 404, got %d", resp.StatusCode)
	}
}

func TestDeterministicResults(t *testing.T) {
	config := getTestConfig()
	inputs := map[string]any{"age": 70, "gcs": 6, "sbp": 85}

	first := evaluate(t, config, "prime_icu", inputs)
	second := evaluate(t, config, "prime_icu", inputs)

	if first.Evaluation.RawValue != second.Evaluation.RawValue || first.Evaluation.Score != second.Evaluation.Score {
		t.Errorf("Expected identical results, got %v/%d and %v/%d",
			first.Evaluation.RawValue, first.Evaluation.Score,
			second.Evaluation.RawValue, second.Evaluation.Score)
	}
}

func TestResponseMetadata(t *testing.T) {
	result := evaluate(t, getTestConfig(), "rams", nil)

	if result.Evaluation.InstrumentID != "rams" {
		t.Errorf("Expected instrumentId rams, got %q", result.Evaluation.InstrumentID)
	}
	if result.Metadata.TraceID == "" {
		t.Error("Missing metadata.traceId")
	}
	if result.Metadata.Version == "" {
		t.Error("Missing metadata.version")
	}
	// TotalMs can be 0 for sub-millisecond evaluations
	if result.Metadata.TotalMs < 0 {
		t.Error("Invalid metadata.totalMs (negative)")
	}
}
