package types

import (
	"errors"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
)

const maxDocuments = 20

func NewChargeRequestFromContext(ctx echo.Context) (*ChargeRequest, error) {
	var body ChargeRequest
	if err := ctx.Bind(&body); err != nil {
		return nil, err
	}

	body.RequestId = requestIDOrHeader(ctx, body.RequestId)
	body.CustomerId = strings.TrimSpace(body.CustomerId)
	body.Currency = strings.ToUpper(strings.TrimSpace(body.Currency))
	body.Description = strings.TrimSpace(body.Description)
	body.Documents = trimStrings(body.Documents)

	return &body, nil
}

func (r *ChargeRequest) Validate() error {
	if r.GetMerchantAccountId() == 0 {
		return errors.New("merchant_account_id is required")
	}
	if strings.TrimSpace(r.GetRequestId()) == "" {
		return errors.New("request_id is required")
	}
	if strings.TrimSpace(r.GetCustomerId()) == "" {
		return errors.New("customer_id is required")
	}
	if err := validateAmount(r.GetAmountMinor(), r.GetCurrency()); err != nil {
		return err
	}
	if len(r.GetDocuments()) > maxDocuments {
		return errors.New("at most 20 documents may be referenced")
	}
	return r.GetLevel3().Validate()
}

func NewVaultSourceRequestFromContext(ctx echo.Context) (*VaultSourceRequest, error) {
	var body VaultSourceRequest
	if err := ctx.Bind(&body); err != nil {
		return nil, err
	}

	body.RequestId = requestIDOrHeader(ctx, body.RequestId)
	body.CustomerId = strings.TrimSpace(body.CustomerId)

	return &body, nil
}

func (r *VaultSourceRequest) Validate() error {
	if r.GetMerchantAccountId() == 0 {
		return errors.New("merchant_account_id is required")
	}
	if strings.TrimSpace(r.GetRequestId()) == "" {
		return errors.New("request_id is required")
	}
	if strings.TrimSpace(r.GetCustomerId()) == "" {
		return errors.New("customer_id is required")
	}
	if len(r.GetParameters()) == 0 {
		return errors.New("parameters are required")
	}
	return nil
}

func NewChargeSourceRequestFromContext(ctx echo.Context) (*ChargeSourceRequest, error) {
	id, err := strconv.ParseUint(ctx.Param("id"), 10, 64)
	if err != nil {
		return nil, err
	}

	var body ChargeSourceRequest
	if err := ctx.Bind(&body); err != nil {
		return nil, err
	}
	body.SourceId = id
	body.RequestId = requestIDOrHeader(ctx, body.RequestId)
	body.Currency = strings.ToUpper(strings.TrimSpace(body.Currency))
	body.Description = strings.TrimSpace(body.Description)
	body.Documents = trimStrings(body.Documents)

	return &body, nil
}

func (r *ChargeSourceRequest) Validate() error {
	if r.GetSourceId() == 0 {
		return errors.New("invalid source id")
	}
	if strings.TrimSpace(r.GetRequestId()) == "" {
		return errors.New("request_id is required")
	}
	if err := validateAmount(r.GetAmountMinor(), r.GetCurrency()); err != nil {
		return err
	}
	if len(r.GetDocuments()) > maxDocuments {
		return errors.New("at most 20 documents may be referenced")
	}
	return r.GetLevel3().Validate()
}

func NewSourceRequestFromContext(ctx echo.Context) (*SourceRequest, error) {
	id, err := strconv.ParseUint(ctx.Param("id"), 10, 64)
	if err != nil {
		return nil, err
	}
	return &SourceRequest{SourceId: id}, nil
}

func (r *SourceRequest) Validate() error {
	if r.GetSourceId() == 0 {
		return errors.New("invalid source id")
	}
	return nil
}

func NewVerifySourceRequestFromContext(ctx echo.Context) (*VerifySourceRequest, error) {
	id, err := strconv.ParseUint(ctx.Param("id"), 10, 64)
	if err != nil {
		return nil, err
	}

	var body VerifySourceRequest
	if err := ctx.Bind(&body); err != nil {
		return nil, err
	}
	body.SourceId = id
	return &body, nil
}

func (r *VerifySourceRequest) Validate() error {
	if r.GetSourceId() == 0 {
		return errors.New("invalid source id")
	}
	amounts := r.GetAmountsMinor()
	if len(amounts) != 2 {
		return errors.New("exactly two micro-deposit amounts are required")
	}
	for _, amount := range amounts {
		if amount <= 0 || amount > 99 {
			return errors.New("micro-deposit amounts must be between 1 and 99")
		}
	}
	return nil
}

func NewListSourcesRequestFromContext(ctx echo.Context) (*ListSourcesRequest, error) {
	id, err := strconv.ParseUint(ctx.Param("merchant_id"), 10, 64)
	if err != nil {
		return nil, err
	}
	return &ListSourcesRequest{
		MerchantAccountId: id,
		CustomerId:        strings.TrimSpace(ctx.Param("customer_id")),
	}, nil
}

func (r *ListSourcesRequest) Validate() error {
	if r.MerchantAccountId == 0 {
		return errors.New("invalid merchant account id")
	}
	if r.CustomerId == "" {
		return errors.New("customer_id is required")
	}
	return nil
}

func NewChargeIDRequestFromContext(ctx echo.Context) (*ChargeIDRequest, error) {
	id, err := strconv.ParseUint(ctx.Param("id"), 10, 64)
	if err != nil {
		return nil, err
	}
	return &ChargeIDRequest{ChargeId: id}, nil
}

func (r *ChargeIDRequest) Validate() error {
	if r.GetChargeId() == 0 {
		return errors.New("invalid charge id")
	}
	return nil
}

func NewRefundChargeRequestFromContext(ctx echo.Context) (*RefundChargeRequest, error) {
	id, err := strconv.ParseUint(ctx.Param("id"), 10, 64)
	if err != nil {
		return nil, err
	}

	var body RefundChargeRequest
	if err = ctx.Bind(&body); err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	body.ChargeId = id
	body.RequestId = requestIDOrHeader(ctx, body.RequestId)

	return &body, nil
}

func (r *RefundChargeRequest) Validate() error {
	if r.GetChargeId() == 0 {
		return errors.New("invalid charge id")
	}
	if r.GetAmountMinor() < 0 {
		return errors.New("amount_minor must be >= 0")
	}
	return nil
}

func NewMerchantRequestFromContext(ctx echo.Context) (*MerchantRequest, error) {
	id, err := strconv.ParseUint(ctx.Param("id"), 10, 64)
	if err != nil {
		return nil, err
	}
	return &MerchantRequest{MerchantAccountId: id}, nil
}

func (r *MerchantRequest) Validate() error {
	if r.MerchantAccountId == 0 {
		return errors.New("invalid merchant account id")
	}
	return nil
}

func NewHandleWebhookRequestFromContext(ctx echo.Context) (*HandleWebhookRequest, error) {
	id, err := strconv.ParseUint(ctx.Param("merchant_id"), 10, 64)
	if err != nil {
		return nil, err
	}

	signature := strings.TrimSpace(ctx.Request().Header.Get("Stripe-Signature"))
	if signature == "" {
		signature = strings.TrimSpace(ctx.Request().Header.Get("X-Gateway-Signature"))
	}

	rawBody, err := io.ReadAll(ctx.Request().Body)
	if err != nil {
		return nil, err
	}

	return &HandleWebhookRequest{
		RequestId:         strings.TrimSpace(ctx.Request().Header.Get(echo.HeaderXRequestID)),
		MerchantAccountId: id,
		Signature:         signature,
		Payload:           string(rawBody),
	}, nil
}

func (r *HandleWebhookRequest) Validate() error {
	if r.GetMerchantAccountId() == 0 {
		return errors.New("invalid merchant account id")
	}
	if strings.TrimSpace(r.GetSignature()) == "" {
		return errors.New("gateway signature is required")
	}
	if strings.TrimSpace(r.GetPayload()) == "" {
		return errors.New("payload is required")
	}
	return nil
}

// Validate accepts a nil request; level 3 data is optional.
func (l *Level3Request) Validate() error {
	if l == nil {
		return nil
	}
	for _, item := range l.Items {
		if item.Quantity <= 0 {
			return errors.New("level3 item quantity must be > 0")
		}
		if item.UnitPriceMinor < 0 || item.DiscountMinor < 0 {
			return errors.New("level3 item amounts must be >= 0")
		}
	}
	if l.TaxMinor < 0 || l.ShippingMinor < 0 {
		return errors.New("level3 tax and shipping must be >= 0")
	}
	if strings.TrimSpace(l.OrderDate) != "" {
		if _, err := time.Parse(time.DateOnly, strings.TrimSpace(l.OrderDate)); err != nil {
			return errors.New("level3 order_date must be YYYY-MM-DD")
		}
	}
	return nil
}

func validateAmount(amountMinor int64, currency string) error {
	if amountMinor <= 0 {
		return errors.New("amount_minor must be > 0")
	}
	if len(strings.TrimSpace(currency)) != 3 {
		return errors.New("currency must be 3 letters")
	}
	return nil
}

func requestIDOrHeader(ctx echo.Context, requestID string) string {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		requestID = strings.TrimSpace(ctx.Request().Header.Get(echo.HeaderXRequestID))
	}
	return requestID
}

func trimStrings(in []string) []string {
	out := make([]string, 0, len(in))
	for _, v := range in {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
