package types

import (
	"bytes"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

func TestNewChargeRequestFromContextUsesHeaderRequestID(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest("POST", "/charges", bytes.NewBufferString(`{"merchant_account_id":7,"customer_id":" cus-1 ","amount_minor":5000,"currency":"usd","parameters":{"payment_method":"pm_card_visa"},"documents":[" inv-1 ",""]}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	req.Header.Set(echo.HeaderXRequestID, "req-from-header")
	rec := httptest.NewRecorder()
	ctx := e.NewContext(req, rec)

	parsed, err := NewChargeRequestFromContext(ctx)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if parsed.GetRequestId() != "req-from-header" {
		t.Fatalf("expected header request id, got %q", parsed.GetRequestId())
	}
	if parsed.GetCurrency() != "USD" {
		t.Fatalf("expected upper-cased currency, got %q", parsed.GetCurrency())
	}
	if parsed.GetCustomerId() != "cus-1" {
		t.Fatalf("expected trimmed customer id, got %q", parsed.GetCustomerId())
	}
	if len(parsed.GetDocuments()) != 1 || parsed.GetDocuments()[0] != "inv-1" {
		t.Fatalf("expected trimmed documents, got %v", parsed.GetDocuments())
	}
	if err := parsed.Validate(); err != nil {
		t.Fatalf("expected valid request, got %v", err)
	}
}

func TestChargeRequestValidate(t *testing.T) {
	req := &ChargeRequest{}
	if err := req.Validate(); err == nil {
		t.Fatal("expected merchant_account_id validation error")
	}

	req = &ChargeRequest{MerchantAccountId: 1, RequestId: "req-1", CustomerId: "cus-1", AmountMinor: 0, Currency: "USD"}
	if err := req.Validate(); err == nil {
		t.Fatal("expected amount validation error")
	}

	req.AmountMinor = 100
	req.Currency = "US"
	if err := req.Validate(); err == nil {
		t.Fatal("expected currency validation error")
	}

	req.Currency = "USD"
	req.Level3 = &Level3Request{Items: []Level3Item{{Quantity: 0, UnitPriceMinor: 100}}}
	if err := req.Validate(); err == nil {
		t.Fatal("expected level3 quantity validation error")
	}

	req.Level3 = &Level3Request{Items: []Level3Item{{Quantity: 1, UnitPriceMinor: 100}}, OrderDate: "14/10/2026"}
	if err := req.Validate(); err == nil {
		t.Fatal("expected level3 order date validation error")
	}

	req.Level3.OrderDate = "2026-10-14"
	if err := req.Validate(); err != nil {
		t.Fatalf("expected valid request, got %v", err)
	}
}

func TestNewRefundChargeRequestFromContextAllowsEmptyBody(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest("POST", "/charges/12/refund", nil)
	req.Header.Set(echo.HeaderXRequestID, "req-refund")
	rec := httptest.NewRecorder()
	ctx := e.NewContext(req, rec)
	ctx.SetParamNames("id")
	ctx.SetParamValues("12")

	parsed, err := NewRefundChargeRequestFromContext(ctx)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if parsed.GetChargeId() != 12 || parsed.GetAmountMinor() != 0 || parsed.GetRequestId() != "req-refund" {
		t.Fatalf("unexpected parsed request: %+v", parsed)
	}
	if err := parsed.Validate(); err != nil {
		t.Fatalf("expected valid request, got %v", err)
	}
}

func TestVerifySourceRequestValidate(t *testing.T) {
	req := &VerifySourceRequest{SourceId: 3, AmountsMinor: []int64{32}}
	if err := req.Validate(); err == nil {
		t.Fatal("expected two amounts to be required")
	}
	req.AmountsMinor = []int64{32, 120}
	if err := req.Validate(); err == nil {
		t.Fatal("expected out of range amount error")
	}
	req.AmountsMinor = []int64{32, 45}
	if err := req.Validate(); err != nil {
		t.Fatalf("expected valid request, got %v", err)
	}
}

func TestNewHandleWebhookRequestFromContextReadsSignature(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest("POST", "/webhooks/merchants/4", bytes.NewBufferString(`{"id":"evt_1"}`))
	req.Header.Set("Stripe-Signature", "t=1,v1=abc")
	rec := httptest.NewRecorder()
	ctx := e.NewContext(req, rec)
	ctx.SetParamNames("merchant_id")
	ctx.SetParamValues("4")

	parsed, err := NewHandleWebhookRequestFromContext(ctx)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if parsed.GetSignature() != "t=1,v1=abc" || parsed.GetPayload() != `{"id":"evt_1"}` {
		t.Fatalf("unexpected parsed webhook: %+v", parsed)
	}
	if err := parsed.Validate(); err != nil {
		t.Fatalf("expected valid webhook, got %v", err)
	}

	parsed.Signature = ""
	if err := parsed.Validate(); err == nil {
		t.Fatal("expected signature validation error")
	}
}
