package mapper

import (
	"time"

	"github.com/vibast-solutions/ms-go-gateways/app/entity"
	"github.com/vibast-solutions/ms-go-gateways/app/gateway"
	"github.com/vibast-solutions/ms-go-gateways/app/money"
	"github.com/vibast-solutions/ms-go-gateways/app/types"
)

func ChargeToResponse(item *entity.Charge) *types.ChargeResponse {
	if item == nil {
		return nil
	}

	return &types.ChargeResponse{
		Id:                     item.ID,
		RequestId:              item.RequestID,
		CustomerId:             item.CustomerID,
		MerchantAccountId:      item.MerchantAccountID,
		SourceId:               derefUint64(item.SourceID),
		Gateway:                item.Gateway,
		ProcessorTransactionId: derefString(item.ProcessorTransactionID),
		PaymentMethod:          item.PaymentMethod,
		Status:                 item.Status,
		AmountMinor:            item.AmountMinor,
		RequestedMinor:         item.RequestedMinor,
		Amount:                 majorAmount(item.AmountMinor, item.Currency),
		Currency:               item.Currency,
		Description:            item.Description,
		Documents:              cloneStrings(item.Documents),
		FailureReason:          derefString(item.FailureReason),
		CreatedAt:              formatTime(item.CreatedAt),
	}
}

func SourceToResponse(item *entity.PaymentSource) *types.SourceResponse {
	if item == nil {
		return nil
	}

	return &types.SourceResponse{
		Id:                  item.ID,
		CustomerId:          item.CustomerID,
		MerchantAccountId:   item.MerchantAccountID,
		Kind:                item.Kind,
		Gateway:             item.Gateway,
		ProcessorSourceId:   item.ProcessorSourceID,
		ProcessorCustomerId: derefString(item.ProcessorCustomerID),
		Chargeable:          item.Chargeable,
		Verified:            item.Verified,
		Last4:               item.Last4,
		Brand:               item.Brand,
		BankName:            derefString(item.BankName),
		RoutingNumber:       derefString(item.RoutingNumber),
		AccountType:         derefString(item.AccountType),
		CreatedAt:           formatTime(item.CreatedAt),
	}
}

func SourcesToResponse(items []*entity.PaymentSource) []*types.SourceResponse {
	result := make([]*types.SourceResponse, 0, len(items))
	for _, item := range items {
		result = append(result, SourceToResponse(item))
	}
	return result
}

func RefundToResponse(item *entity.Refund, states []gateway.RefundState) *types.RefundResponse {
	if item == nil {
		return nil
	}

	resp := &types.RefundResponse{
		Id:                item.ID,
		ChargeId:          item.ChargeID,
		Gateway:           item.Gateway,
		ProcessorRefundId: item.ProcessorRefundID,
		Method:            item.Method,
		Status:            item.Status,
		AmountMinor:       item.AmountMinor,
		Amount:            majorAmount(item.AmountMinor, item.Currency),
		Currency:          item.Currency,
		Message:           derefString(item.Message),
	}
	for _, s := range states {
		resp.States = append(resp.States, string(s))
	}
	return resp
}

func TransactionStatusToResponse(chargeID uint64, status *gateway.TransactionStatus) *types.TransactionStatusResponse {
	resp := &types.TransactionStatusResponse{ChargeId: chargeID}
	if status == nil {
		return resp
	}
	resp.Status = string(status.Status)
	resp.Settled = status.Settled
	resp.Message = status.Message
	return resp
}

// majorAmount renders minor units in the currency's major unit, e.g. 5000 USD as "50.00".
func majorAmount(minor int64, currency string) string {
	cur := money.Currency(currency)
	return money.New(minor, cur).Major().StringFixed(cur.Exponent())
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func derefString(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}

func derefUint64(v *uint64) uint64 {
	if v == nil {
		return 0
	}
	return *v
}

func cloneStrings(src []string) []string {
	if len(src) == 0 {
		return nil
	}
	dst := make([]string, len(src))
	copy(dst, src)
	return dst
}
