package settlement

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/kasuwahq/settlement/internal/gateway"
)

func setupTestRouter() (*gin.Engine, *testEnv) {
	gin.SetMode(gin.TestMode)

	env := newTestEnv()
	handler := NewHandler(env.service)

	r := gin.New()
	v1 := r.Group("/v1")
	handler.RegisterRoutes(v1)

	return r, env
}

func postJSON(router *gin.Engine, path string, body any) *httptest.ResponseRecorder {
	data, _ := json.Marshal(body)
	req := httptest.NewRequest("POST", path, bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestHandler_CreateAndGetHold(t *testing.T) {
	router, _ := setupTestRouter()

	w := postJSON(router, "/v1/escrows", CreateHoldRequest{
		OrderID:       "order-h1",
		BuyerID:       "buyer-1",
		SellerID:      "seller-1",
		Total:         "25000.00",
		PaymentMethod: PaymentFull,
		PaymentRef:    "pi_h1",
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("Expected 201, got %d: %s", w.Code, w.Body.String())
	}

	var createResp struct {
		Hold struct {
			ID     string `json:"id"`
			Status string `json:"status"`
			Amount string `json:"amount"`
		} `json:"hold"`
	}
	json.Unmarshal(w.Body.Bytes(), &createResp)

	if createResp.Hold.Status != "held" {
		t.Errorf("Expected status held, got %s", createResp.Hold.Status)
	}
	if createResp.Hold.Amount != "23750" {
		t.Errorf("Expected seller payout 23750, got %s", createResp.Hold.Amount)
	}

	w2 := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/v1/escrows/"+createResp.Hold.ID, nil)
	router.ServeHTTP(w2, req)
	if w2.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w2.Code, w2.Body.String())
	}
}

func TestHandler_CreateHoldValidation(t *testing.T) {
	router, _ := setupTestRouter()

	// Missing required fields
	w := postJSON(router, "/v1/escrows", map[string]string{"orderId": "order-x"})
	if w.Code != http.StatusBadRequest {
		t.Errorf("missing fields: expected 400, got %d", w.Code)
	}

	// POD over the cap
	w = postJSON(router, "/v1/escrows", CreateHoldRequest{
		OrderID:       "order-pod",
		BuyerID:       "buyer-1",
		SellerID:      "seller-1",
		Total:         "35000.00",
		PaymentMethod: PaymentPOD,
	})
	if w.Code != http.StatusUnprocessableEntity {
		t.Errorf("POD over cap: expected 422, got %d: %s", w.Code, w.Body.String())
	}

	// Duplicate order
	body := CreateHoldRequest{
		OrderID:       "order-dup",
		BuyerID:       "buyer-1",
		SellerID:      "seller-1",
		Total:         "5000.00",
		PaymentMethod: PaymentFull,
		PaymentRef:    "pi_dup",
	}
	if w := postJSON(router, "/v1/escrows", body); w.Code != http.StatusCreated {
		t.Fatalf("first create: expected 201, got %d", w.Code)
	}
	if w := postJSON(router, "/v1/escrows", body); w.Code != http.StatusConflict {
		t.Errorf("duplicate order: expected 409, got %d", w.Code)
	}
}

func TestHandler_ReleaseAndConflict(t *testing.T) {
	router, env := setupTestRouter()
	hold := env.createHold(t, "10000.00")

	w := postJSON(router, "/v1/escrows/"+hold.ID+"/release", settleRequest{Reason: "delivered"})
	if w.Code != http.StatusOK {
		t.Fatalf("release: expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp struct {
		Hold struct {
			Status string `json:"status"`
		} `json:"hold"`
	}
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.Hold.Status != "released" {
		t.Errorf("Expected status released, got %s", resp.Hold.Status)
	}

	// Releasing again conflicts.
	w = postJSON(router, "/v1/escrows/"+hold.ID+"/release", settleRequest{})
	if w.Code != http.StatusConflict {
		t.Errorf("second release: expected 409, got %d", w.Code)
	}
}

func TestHandler_RefundRequiresReason(t *testing.T) {
	router, env := setupTestRouter()
	hold := env.createHold(t, "8000.00")

	w := postJSON(router, "/v1/escrows/"+hold.ID+"/refund", settleRequest{})
	if w.Code != http.StatusBadRequest {
		t.Errorf("refund without reason: expected 400, got %d", w.Code)
	}

	w = postJSON(router, "/v1/escrows/"+hold.ID+"/refund", settleRequest{Reason: "item damaged"})
	if w.Code != http.StatusOK {
		t.Fatalf("refund: expected 200, got %d: %s", w.Code, w.Body.String())
	}
}

func TestHandler_GatewayFailureMapsTo502(t *testing.T) {
	router, env := setupTestRouter()
	hold := env.createHold(t, "8000.00")
	env.gateway.FailWith(gateway.ErrUnavailable)

	w := postJSON(router, "/v1/escrows/"+hold.ID+"/refund", settleRequest{Reason: "item damaged"})
	if w.Code != http.StatusBadGateway {
		t.Errorf("gateway down: expected 502, got %d: %s", w.Code, w.Body.String())
	}
}

func TestHandler_NotFound(t *testing.T) {
	router, _ := setupTestRouter()

	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/v1/escrows/hold_nope", nil)
	router.ServeHTTP(w, req)
	if w.Code != http.StatusNotFound {
		t.Errorf("get missing: expected 404, got %d", w.Code)
	}

	w2 := postJSON(router, "/v1/escrows/hold_nope/release", settleRequest{})
	if w2.Code != http.StatusNotFound {
		t.Errorf("release missing: expected 404, got %d", w2.Code)
	}
}

func TestHandler_ListBySeller(t *testing.T) {
	router, env := setupTestRouter()
	env.createHold(t, "4000.00")
	env.createHold(t, "6000.00")

	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/v1/sellers/seller-1/escrows", nil)
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp struct {
		Count int `json:"count"`
	}
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.Count != 2 {
		t.Errorf("Expected count 2, got %d", resp.Count)
	}
}
