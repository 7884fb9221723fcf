package server_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"capledger/internal/audit"
	"capledger/internal/ledger"
	"capledger/internal/server"
	"capledger/internal/service"
	"capledger/internal/store"
)

type fixture struct {
	app    *fiber.App
	store  *store.Memory
	fundID uuid.UUID
	dealID uuid.UUID
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mem := store.NewMemory()

	fundID := uuid.New()
	target := decimal.RequireFromString("1000000")
	mem.PutFund(ledger.Fund{ID: fundID, Name: "Fund I", TargetSize: &target})

	dealID := uuid.New()
	mem.PutDeal(ledger.Deal{ID: dealID, Name: "Acme"})

	svc := service.New(mem, audit.NopSink{}, zerolog.Nop())
	srv := server.New(svc, nil, zerolog.Nop())
	return &fixture{app: srv.App(), store: mem, fundID: fundID, dealID: dealID}
}

func (f *fixture) do(t *testing.T, method, path string, body interface{}) *http.Response {
	t.Helper()
	var req *http.Request
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		req = httptest.NewRequest(method, path, bytes.NewReader(data))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}

	resp, err := f.app.Test(req, -1)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	return resp
}

func decodeBody(t *testing.T, resp *http.Response) map[string]interface{} {
	t.Helper()
	defer resp.Body.Close()
	var out map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	return out
}

func (f *fixture) createCommitment(t *testing.T, amount string) map[string]interface{} {
	t.Helper()
	resp := f.do(t, http.MethodPost, "/api/v1/commitments", fiber.Map{
		"fund_id": f.fundID,
		"deal_id": f.dealID,
		"amount":  amount,
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create commitment: status %d", resp.StatusCode)
	}
	return decodeBody(t, resp)
}

// ============================================================================
// Test: commitments
// ============================================================================

func TestCreateCommitment_Created(t *testing.T) {
	f := newFixture(t)
	body := f.createCommitment(t, "500000")

	if body["status"] != "committed" {
		t.Errorf("status = %v, want committed", body["status"])
	}
	if body["committed_amount"] != "500000" {
		t.Errorf("committed_amount = %v, want 500000", body["committed_amount"])
	}
}

func TestCreateCommitment_PercentageKind(t *testing.T) {
	f := newFixture(t)
	resp := f.do(t, http.MethodPost, "/api/v1/commitments", fiber.Map{
		"fund_id": f.fundID,
		"deal_id": f.dealID,
		"amount":  "50",
		"kind":    "percentage",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status %d, want 201", resp.StatusCode)
	}
	body := decodeBody(t, resp)
	if body["committed_amount"] != "500000" {
		t.Errorf("committed_amount = %v, want 500000", body["committed_amount"])
	}
}

func TestCreateCommitment_DuplicateConflict(t *testing.T) {
	f := newFixture(t)
	f.createCommitment(t, "100000")

	resp := f.do(t, http.MethodPost, "/api/v1/commitments", fiber.Map{
		"fund_id": f.fundID,
		"deal_id": f.dealID,
		"amount":  "50000",
	})
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("status %d, want 409", resp.StatusCode)
	}
	body := decodeBody(t, resp)
	if body["error"] != "duplicate_commitment" {
		t.Errorf("error = %v, want duplicate_commitment", body["error"])
	}
}

func TestCreateCommitment_CapacityUnprocessable(t *testing.T) {
	f := newFixture(t)
	f.createCommitment(t, "900000")

	otherDeal := uuid.New()
	f.store.PutDeal(ledger.Deal{ID: otherDeal, Name: "Beta"})

	resp := f.do(t, http.MethodPost, "/api/v1/commitments", fiber.Map{
		"fund_id": f.fundID,
		"deal_id": otherDeal,
		"amount":  "200000",
	})
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("status %d, want 422", resp.StatusCode)
	}
	body := decodeBody(t, resp)
	if body["error"] != "capacity_exceeded" {
		t.Errorf("error = %v, want capacity_exceeded", body["error"])
	}
	detail, _ := body["detail"].(map[string]interface{})
	if detail["committed"] != "900000" || detail["target"] != "1000000" {
		t.Errorf("detail = %v, want committed=900000 target=1000000", detail)
	}
}

func TestCreateCommitment_InvalidAmountBadRequest(t *testing.T) {
	f := newFixture(t)
	resp := f.do(t, http.MethodPost, "/api/v1/commitments", fiber.Map{
		"fund_id": f.fundID,
		"deal_id": f.dealID,
		"amount":  "-5",
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status %d, want 400", resp.StatusCode)
	}
}

func TestGetCommitment_NotFound(t *testing.T) {
	f := newFixture(t)
	resp := f.do(t, http.MethodGet, "/api/v1/commitments/"+uuid.NewString(), nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status %d, want 404", resp.StatusCode)
	}
}

func TestGetCommitment_MalformedID(t *testing.T) {
	f := newFixture(t)
	resp := f.do(t, http.MethodGet, "/api/v1/commitments/not-a-uuid", nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status %d, want 400", resp.StatusCode)
	}
}

func TestDeleteCommitment_NoContent(t *testing.T) {
	f := newFixture(t)
	body := f.createCommitment(t, "100000")
	id := body["id"].(string)

	resp := f.do(t, http.MethodDelete, "/api/v1/commitments/"+id, nil)
	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("status %d, want 204", resp.StatusCode)
	}

	resp = f.do(t, http.MethodGet, "/api/v1/commitments/"+id, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status after delete %d, want 404", resp.StatusCode)
	}
}

// ============================================================================
// Test: calls and payments
// ============================================================================

func TestCallAndPaymentFlow(t *testing.T) {
	f := newFixture(t)
	commitment := f.createCommitment(t, "500000")
	commitmentID := commitment["id"].(string)

	resp := f.do(t, http.MethodPost, fmt.Sprintf("/api/v1/commitments/%s/calls", commitmentID), fiber.Map{
		"amount":    "200000",
		"first_due": "2026-10-01T00:00:00Z",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create call: status %d", resp.StatusCode)
	}
	callsBody := decodeBody(t, resp)
	calls := callsBody["calls"].([]interface{})
	if len(calls) != 1 {
		t.Fatalf("got %d calls, want 1", len(calls))
	}
	callID := calls[0].(map[string]interface{})["id"].(string)

	resp = f.do(t, http.MethodPost, fmt.Sprintf("/api/v1/calls/%s/payments", callID), fiber.Map{
		"amount":      "120000",
		"recorded_by": "ops@fund",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("payment: status %d", resp.StatusCode)
	}
	payBody := decodeBody(t, resp)
	if payBody["call_status"] != "partial" {
		t.Errorf("call_status = %v, want partial", payBody["call_status"])
	}
	if payBody["commitment_status"] != "partially_paid" {
		t.Errorf("commitment_status = %v, want partially_paid", payBody["commitment_status"])
	}
	if payBody["remaining_on_call"] != "80000" {
		t.Errorf("remaining_on_call = %v, want 80000", payBody["remaining_on_call"])
	}

	resp = f.do(t, http.MethodGet, fmt.Sprintf("/api/v1/commitments/%s/progress", commitmentID), nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("progress: status %d", resp.StatusCode)
	}
	progress := decodeBody(t, resp)
	if progress["outstanding"] != "80000" {
		t.Errorf("outstanding = %v, want 80000", progress["outstanding"])
	}
	if progress["paid_percentage"] != "24" {
		t.Errorf("paid_percentage = %v, want 24", progress["paid_percentage"])
	}
}

func TestScheduledCalls(t *testing.T) {
	f := newFixture(t)
	commitment := f.createCommitment(t, "500000")
	commitmentID := commitment["id"].(string)

	resp := f.do(t, http.MethodPost, fmt.Sprintf("/api/v1/commitments/%s/calls", commitmentID), fiber.Map{
		"amount":       "100000",
		"count":        3,
		"first_due":    "2026-10-01T00:00:00Z",
		"cadence_days": 30,
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("schedule: status %d", resp.StatusCode)
	}
	body := decodeBody(t, resp)
	calls := body["calls"].([]interface{})
	if len(calls) != 3 {
		t.Fatalf("got %d calls, want 3", len(calls))
	}
	first := calls[0].(map[string]interface{})
	if first["call_amount"] != "33333.34" {
		t.Errorf("first tranche = %v, want 33333.34", first["call_amount"])
	}
}

func TestPayment_OverpaymentUnprocessable(t *testing.T) {
	f := newFixture(t)
	commitment := f.createCommitment(t, "500000")
	commitmentID := commitment["id"].(string)

	resp := f.do(t, http.MethodPost, fmt.Sprintf("/api/v1/commitments/%s/calls", commitmentID), fiber.Map{
		"amount":    "100000",
		"first_due": "2026-10-01T00:00:00Z",
	})
	callID := decodeBody(t, resp)["calls"].([]interface{})[0].(map[string]interface{})["id"].(string)

	resp = f.do(t, http.MethodPost, fmt.Sprintf("/api/v1/calls/%s/payments", callID), fiber.Map{
		"amount": "150000", "recorded_by": "ops@fund",
	})
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("status %d, want 422", resp.StatusCode)
	}
	body := decodeBody(t, resp)
	if body["error"] != "overpayment" {
		t.Errorf("error = %v, want overpayment", body["error"])
	}
}

// ============================================================================
// Test: rollups
// ============================================================================

func TestFundMetricsEndpoint(t *testing.T) {
	f := newFixture(t)
	f.createCommitment(t, "600000")

	resp := f.do(t, http.MethodGet, fmt.Sprintf("/api/v1/funds/%s/metrics", f.fundID), nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d, want 200", resp.StatusCode)
	}
	body := decodeBody(t, resp)
	if body["total_committed"] != "600000" {
		t.Errorf("total_committed = %v, want 600000", body["total_committed"])
	}
	if body["commitment_count"] != float64(1) {
		t.Errorf("commitment_count = %v, want 1", body["commitment_count"])
	}
}

func TestReconcileEndpoint(t *testing.T) {
	f := newFixture(t)
	f.createCommitment(t, "600000")

	resp := f.do(t, http.MethodPost, fmt.Sprintf("/api/v1/funds/%s/reconcile", f.fundID), nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d, want 200", resp.StatusCode)
	}
	body := decodeBody(t, resp)
	if body["drifted"] != float64(0) {
		t.Errorf("drifted = %v, want 0", body["drifted"])
	}
}

func TestDealMetricsEndpoint(t *testing.T) {
	f := newFixture(t)
	f.createCommitment(t, "400000")

	resp := f.do(t, http.MethodGet, fmt.Sprintf("/api/v1/deals/%s/metrics", f.dealID), nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d, want 200", resp.StatusCode)
	}
	body := decodeBody(t, resp)
	if body["total_committed"] != "400000" {
		t.Errorf("total_committed = %v, want 400000", body["total_committed"])
	}
}
