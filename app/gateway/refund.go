package gateway

import (
	"context"
	"errors"
	"fmt"

	"github.com/vibast-solutions/ms-go-gateways/app/entity"
	"github.com/vibast-solutions/ms-go-gateways/app/money"
)

type RefundState string

const (
	RefundAttemptingVoid   RefundState = "attempting_void"
	RefundVoided           RefundState = "voided"
	RefundAlreadySettled   RefundState = "already_settled"
	RefundAttemptingCredit RefundState = "attempting_credit"
	RefundCredited         RefundState = "credited"
	RefundStateFailed      RefundState = "failed"
)

type RefundOutcome struct {
	Result *RefundResult
	States []RefundState
}

func (o *RefundOutcome) push(s RefundState) {
	o.States = append(o.States, s)
}

// Final returns the terminal state reached.
func (o *RefundOutcome) Final() RefundState {
	if o == nil || len(o.States) == 0 {
		return ""
	}
	return o.States[len(o.States)-1]
}

// RefundWithVoidFallback voids a full refund of an unsettled charge and credits otherwise.
// Credit runs only after the void failed with VoidAlreadySettled, or when the gateway cannot
// void, or for a partial amount. Any other void failure is returned without crediting.
func RefundWithVoidFallback(ctx context.Context, g Gateway, merchant *entity.MerchantAccount, charge ChargeRef, amount money.Money) (*RefundOutcome, error) {
	outcome := &RefundOutcome{}
	id := ""
	if g != nil {
		id = g.ID()
	}
	n := NewNormalizer(id)

	if err := validateRefundAmount(charge.Amount, amount); err != nil {
		outcome.push(RefundStateFailed)
		return outcome, n.Business(KindRefund, "refund", err.Error(), err)
	}

	full := amount.Equal(charge.Amount)
	if voider, err := Lookup[Voider](g, CapVoid); err == nil && full {
		outcome.push(RefundAttemptingVoid)
		voidID, err := voider.Void(ctx, merchant, charge.ProcessorTransactionID)
		switch {
		case err == nil:
			outcome.push(RefundVoided)
			outcome.Result = &RefundResult{
				Amount:            charge.Amount,
				Gateway:           id,
				ProcessorRefundID: voidID,
				Method:            entity.RefundMethodVoid,
				Status:            RefundSucceeded,
			}
			return outcome, nil
		case errors.Is(err, ErrVoidAlreadySettled):
			outcome.push(RefundAlreadySettled)
		default:
			outcome.push(RefundStateFailed)
			return outcome, err
		}
	}

	refunder, err := Lookup[Refunder](g, CapRefund)
	if err != nil {
		outcome.push(RefundStateFailed)
		return outcome, err
	}
	outcome.push(RefundAttemptingCredit)
	result, err := refunder.Refund(ctx, merchant, charge.ProcessorTransactionID, amount)
	if err != nil {
		outcome.push(RefundStateFailed)
		return outcome, err
	}
	if result.Method == "" {
		result.Method = entity.RefundMethodCredit
	}
	if result.Gateway == "" {
		result.Gateway = id
	}
	if result.Status == RefundFailed {
		outcome.push(RefundStateFailed)
	} else {
		outcome.push(RefundCredited)
	}
	outcome.Result = result
	return outcome, nil
}

func validateRefundAmount(charged, requested money.Money) error {
	if !requested.IsPositive() {
		return errors.New("refund amount must be positive")
	}
	if !requested.SameCurrency(charged) {
		return fmt.Errorf("refund currency %s does not match charge currency %s", requested.Currency(), charged.Currency())
	}
	if requested.Cmp(charged) > 0 {
		return fmt.Errorf("refund amount %s exceeds charged amount %s", requested, charged)
	}
	return nil
}
