//go:build integration
// +build integration

// Package integration provides end-to-end tests for the Kestrel fraud
// detection engine.
//
// These tests verify the COMPLETE scoring pipeline:
//
//	Transaction → Features → Ensemble → Risk Score → Decision → Persistence
//
// Run with: go test -tags=integration -v ./tests/integration/...
//
// UNDERSTANDING THE DOMAIN:
//
// 1. TRANSACTION: A payment to be scored (user, merchant, amount, device,
//    location). Submitted via POST /api/v1/score (sync) or /api/v1/ingest
//    (async via the event bus).
//
// 2. ENSEMBLE: Active models each predict a fraud probability; the
//    weighted combination plus a confidence estimate feeds the scorer.
//
// 3. RISK SCORE: probability×100 plus rule-based factor points, clamped
//    to [0,100]. Scores of 60 or more flag the transaction.
//
// 4. RECOMMENDATION: Score bands map to APPROVE / REVIEW / CHALLENGE /
//    BLOCK; low confidence in the challenge band falls back to REVIEW.
//
// The server seeds its reference ensemble on first boot, so a fresh
// instance is fully scorable with no setup:
//
//	go run cmd/kestrel/main.go
package integration

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"testing"
	"time"
)

func baseURL() string {
	if url := os.Getenv("KESTREL_TEST_URL"); url != "" {
		return url
	}
	return "http://localhost:8080"
}

var client = &http.Client{Timeout: 10 * time.Second}

type scoreResponse struct {
	TransactionID    string             `json:"transaction_id"`
	FraudProbability float64            `json:"fraud_probability"`
	RiskScore        float64            `json:"risk_score"`
	IsFlagged        bool               `json:"is_flagged"`
	Confidence       float64            `json:"confidence"`
	Recommendation   string             `json:"recommendation"`
	ModelPredictions map[string]float64 `json:"model_predictions"`
	ProcessingTimeMs float64            `json:"processing_time_ms"`
}

func requireServer(t *testing.T) {
	t.Helper()
	resp, err := client.Get(baseURL() + "/health")
	if err != nil {
		t.Skipf("kestrel not reachable at %s: %v", baseURL(), err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Skipf("kestrel unhealthy: status %d", resp.StatusCode)
	}
}

func postJSON(t *testing.T, path string, body any) (*http.Response, []byte) {
	t.Helper()
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	resp, err := client.Post(baseURL()+path, "application/json", bytes.NewReader(data))
	if err != nil {
		t.Fatalf("POST %s: %v", path, err)
	}
	defer resp.Body.Close()
	var buf bytes.Buffer
	buf.ReadFrom(resp.Body)
	return resp, buf.Bytes()
}

func getJSON(t *testing.T, path string, out any) int {
	t.Helper()
	resp, err := client.Get(baseURL() + path)
	if err != nil {
		t.Fatalf("GET %s: %v", path, err)
	}
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s: %v", path, err)
		}
	}
	return resp.StatusCode
}

func quietRequest(userID string) map[string]any {
	return map[string]any{
		"user_id":            userID,
		"amount":             42.50,
		"currency":           "USD",
		"merchant_id":        "merchant-grocery-1",
		"merchant_category":  "grocery",
		"account_balance":    8000.0,
		"payment_method":     "credit_card",
		"device_fingerprint": "device-trusted-1",
		"location": map[string]any{
			"latitude":  40.71,
			"longitude": -74.00,
			"country":   "US",
		},
	}
}

func riskyRequest(userID string) map[string]any {
	// Near-total balance drain at a high-risk merchant from an unknown
	// device with no location. Every reference model scores this high.
	return map[string]any{
		"user_id":           userID,
		"amount":            9500.0,
		"currency":          "USD",
		"merchant_id":       "merchant-crypto-1",
		"merchant_category": "cryptocurrency",
		"account_balance":   9600.0,
		"payment_method":    "wire",
	}
}

func TestScoreLowRiskTransaction(t *testing.T) {
	requireServer(t)

	resp, body := postJSON(t, "/api/v1/score", quietRequest(fmt.Sprintf("it-user-low-%d", time.Now().UnixNano())))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, body = %s", resp.StatusCode, body)
	}

	var result scoreResponse
	if err := json.Unmarshal(body, &result); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if result.TransactionID == "" {
		t.Error("missing transaction_id")
	}
	if result.IsFlagged {
		t.Errorf("quiet transaction flagged: score %.1f", result.RiskScore)
	}
	if result.Recommendation != "APPROVE" && result.Recommendation != "REVIEW" {
		t.Errorf("recommendation = %s for a quiet transaction", result.Recommendation)
	}
	if len(result.ModelPredictions) == 0 {
		t.Error("no model predictions in response")
	}
	if result.Confidence <= 0 || result.Confidence > 1 {
		t.Errorf("confidence = %f, want (0,1]", result.Confidence)
	}
}

func TestScoreHighRiskTransaction(t *testing.T) {
	requireServer(t)

	resp, body := postJSON(t, "/api/v1/score", riskyRequest(fmt.Sprintf("it-user-high-%d", time.Now().UnixNano())))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, body = %s", resp.StatusCode, body)
	}

	var result scoreResponse
	if err := json.Unmarshal(body, &result); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !result.IsFlagged {
		t.Errorf("balance-drain transaction not flagged: score %.1f", result.RiskScore)
	}
	if result.Recommendation == "APPROVE" {
		t.Error("balance-drain transaction approved")
	}
}

func TestScoredResultIsRetrievable(t *testing.T) {
	requireServer(t)

	userID := fmt.Sprintf("it-user-lookup-%d", time.Now().UnixNano())
	resp, body := postJSON(t, "/api/v1/score", riskyRequest(userID))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("score status = %d", resp.StatusCode)
	}
	var scored scoreResponse
	if err := json.Unmarshal(body, &scored); err != nil {
		t.Fatalf("decode: %v", err)
	}

	var stored struct {
		TransactionID  string  `json:"transactionId"`
		RiskScore      float64 `json:"riskScore"`
		Recommendation string  `json:"recommendation"`
	}
	status := getJSON(t, "/api/v1/transactions/"+scored.TransactionID+"/result", &stored)
	if status != http.StatusOK {
		t.Fatalf("lookup status = %d", status)
	}
	if stored.TransactionID != scored.TransactionID {
		t.Errorf("stored tx = %s, want %s", stored.TransactionID, scored.TransactionID)
	}
	if stored.RiskScore != scored.RiskScore {
		t.Errorf("stored score = %f, want %f", stored.RiskScore, scored.RiskScore)
	}
}

func TestIngestScoresAsynchronously(t *testing.T) {
	requireServer(t)

	userID := fmt.Sprintf("it-user-ingest-%d", time.Now().UnixNano())
	resp, body := postJSON(t, "/api/v1/ingest", riskyRequest(userID))
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("ingest status = %d, body = %s", resp.StatusCode, body)
	}
	var accepted struct {
		TransactionID string `json:"transaction_id"`
	}
	if err := json.Unmarshal(body, &accepted); err != nil {
		t.Fatalf("decode: %v", err)
	}

	// The worker scores off the bus; poll for the persisted result.
	deadline := time.Now().Add(10 * time.Second)
	for {
		status := getJSON(t, "/api/v1/transactions/"+accepted.TransactionID+"/result", nil)
		if status == http.StatusOK {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("no result for ingested transaction %s", accepted.TransactionID)
		}
		time.Sleep(100 * time.Millisecond)
	}
}

func TestMetricsReflectScoring(t *testing.T) {
	requireServer(t)

	resp, _ := postJSON(t, "/api/v1/score", quietRequest(fmt.Sprintf("it-user-metrics-%d", time.Now().UnixNano())))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("score status = %d", resp.StatusCode)
	}

	var snap struct {
		TotalTransactions int64     `json:"total_transactions"`
		Timestamp         time.Time `json:"timestamp"`
	}
	deadline := time.Now().Add(5 * time.Second)
	for {
		status := getJSON(t, "/api/v1/metrics/1h", &snap)
		if status != http.StatusOK {
			t.Fatalf("metrics status = %d", status)
		}
		if snap.TotalTransactions >= 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("metrics never reflected the scored transaction")
		}
		time.Sleep(100 * time.Millisecond)
	}

	for _, g := range []string{"24h", "7d", "30d"} {
		if status := getJSON(t, "/api/v1/metrics/"+g, nil); status != http.StatusOK {
			t.Errorf("metrics/%s status = %d", g, status)
		}
	}
}

func TestValidationRejectsBadRequests(t *testing.T) {
	requireServer(t)

	bad := quietRequest("it-user-bad")
	delete(bad, "merchant_id")

	resp, body := postJSON(t, "/api/v1/score", bad)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400, body = %s", resp.StatusCode, body)
	}

	negative := quietRequest("it-user-bad")
	negative["amount"] = -5.0
	resp, _ = postJSON(t, "/api/v1/score", negative)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("negative amount status = %d, want 400", resp.StatusCode)
	}
}

func TestModelAdministration(t *testing.T) {
	requireServer(t)

	modelID := fmt.Sprintf("it-model-%d", time.Now().UnixNano())
	resp, body := postJSON(t, "/api/v1/models", map[string]any{
		"id":      modelID,
		"type":    "neural_network",
		"version": "it-1.0",
		"weight":  0.1,
		"active":  false,
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("register status = %d, body = %s", resp.StatusCode, body)
	}

	req, err := http.NewRequest(http.MethodDelete, baseURL()+"/api/v1/models/"+modelID, nil)
	if err != nil {
		t.Fatalf("build delete: %v", err)
	}
	delResp, err := client.Do(req)
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	delResp.Body.Close()
	if delResp.StatusCode != http.StatusOK {
		t.Errorf("delete status = %d", delResp.StatusCode)
	}
}
