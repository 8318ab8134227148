package chi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/x402pay/x402-go"
	x402http "github.com/x402pay/x402-go/http"
)

func testConfig(facilitatorURL string) x402http.PaymentConfig {
	return x402http.PaymentConfig{
		PayTo:          "0x70997970C51812dc3A010C7d01b50e0d17dc79C8",
		Asset:          "0x036CbD53842c5426634e7929541eC2318f3dCF7e",
		Decimals:       6,
		Network:        "84532",
		PriceUSD:       0.01,
		FacilitatorURL: facilitatorURL,
		TokenName:      "USDC",
		TokenVersion:   "2",
	}
}

func TestChiMiddlewareChallengesUnpaidRequests(t *testing.T) {
	r := chi.NewRouter()
	r.Use(MustMiddleware(testConfig("http://facilitator.local")))
	r.Get("/premium", func(w http.ResponseWriter, req *http.Request) {
		t.Error("handler should not run without payment")
	})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/premium", nil)
	r.ServeHTTP(w, req)

	if w.Code != http.StatusPaymentRequired {
		t.Fatalf("status = %d, want 402", w.Code)
	}
	var required x402.PaymentRequiredResponse
	if err := json.Unmarshal(w.Body.Bytes(), &required); err != nil {
		t.Fatalf("decode 402 body: %v", err)
	}
	if len(required.Accepts) != 1 || required.Accepts[0].MaxAmountRequired != "10000" {
		t.Errorf("accepts = %+v", required.Accepts)
	}
}

func TestMustMiddlewarePanicsOnBadConfig(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("expected panic")
		}
	}()
	MustMiddleware()
}
