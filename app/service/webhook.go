package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/vibast-solutions/ms-go-gateways/app/entity"
	"github.com/vibast-solutions/ms-go-gateways/app/gateway"
	"github.com/vibast-solutions/ms-go-gateways/app/repository"
)

type handleWebhookRequest interface {
	GetMerchantAccountId() uint64
	GetSignature() string
	GetPayload() string
}

type WebhookOutput struct {
	Event     *entity.WebhookEvent
	Duplicate bool
	Changed   bool
}

// HandleWebhook verifies a processor notification and appends the charge status it reports.
// Each (gateway, event id) is applied once; rejected notifications are recorded too.
func (s *GatewayService) HandleWebhook(ctx context.Context, req handleWebhookRequest) (*WebhookOutput, error) {
	merchant, err := s.loadMerchant(ctx, req.GetMerchantAccountId())
	if err != nil {
		return nil, err
	}
	g, err := s.gateways.Resolve(merchant)
	if err != nil {
		return nil, err
	}
	parser, err := gateway.Lookup[gateway.WebhookParser](g, gateway.CapWebhooks)
	if err != nil {
		return nil, err
	}

	payload := []byte(req.GetPayload())
	signature := strings.TrimSpace(req.GetSignature())
	record := &entity.WebhookEvent{
		MerchantAccountID: merchant.ID,
		Gateway:           g.ID(),
		Signature:         truncate(signature, 1024),
		PayloadJSON:       req.GetPayload(),
		CreatedAt:         time.Now().UTC(),
	}

	parsed, err := parser.ParseWebhook(ctx, merchant, payload, signature)
	if err != nil {
		s.persistUnappliedWebhook(ctx, record, entity.WebhookStatusFailed, "webhook validation failed: "+gateway.MessageOf(err))
		return nil, ErrWebhookRejected
	}
	if parsed == nil {
		s.persistUnappliedWebhook(ctx, record, entity.WebhookStatusIgnored, "")
		return &WebhookOutput{Event: record}, nil
	}
	record.EventID = parsed.EventID

	charge, err := s.chargeRepo.FindByProcessorTransactionID(ctx, g.ID(), parsed.ProcessorTransactionID)
	if err != nil {
		return nil, err
	}
	if charge == nil {
		// The charge may still be in flight; keep the real event id free for the redelivery.
		s.persistUnappliedWebhook(ctx, record, entity.WebhookStatusIgnored,
			"event "+parsed.EventID+": no charge for processor transaction "+parsed.ProcessorTransactionID)
		return &WebhookOutput{Event: record}, nil
	}

	chargeID := charge.ID
	record.ChargeID = &chargeID
	record.Status = entity.WebhookStatusProcessed
	if err := s.createWebhook(ctx, record); err != nil {
		if errors.Is(err, repository.ErrWebhookEventAlreadyExists) {
			return &WebhookOutput{Event: record, Duplicate: true}, nil
		}
		return nil, err
	}

	changed, err := s.applyWebhookStatus(ctx, charge, parsed, record.CreatedAt)
	if err != nil {
		s.releaseWebhook(ctx, record, err)
		return nil, err
	}

	s.logger.WithFields(logrus.Fields{
		"charge_id": charge.ID,
		"event_id":  parsed.EventID,
		"status":    parsed.Status,
		"changed":   changed,
	}).Info("Gateway webhook processed")

	return &WebhookOutput{Event: record, Changed: changed}, nil
}

func (s *GatewayService) applyWebhookStatus(ctx context.Context, charge *entity.Charge, parsed *gateway.WebhookEvent, now time.Time) (bool, error) {
	next := string(parsed.Status)
	if next == "" {
		return false, nil
	}
	current, err := s.eventRepo.LatestStatus(ctx, charge.ID)
	if err != nil {
		return false, err
	}
	if current == "" {
		current = charge.Status
	}
	if current == next {
		return false, nil
	}

	event := &entity.ChargeEvent{
		ChargeID:  charge.ID,
		OldStatus: current,
		NewStatus: next,
		CreatedAt: now,
	}
	if m := strings.TrimSpace(parsed.Message); m != "" {
		m = truncate(m, 1024)
		event.Message = &m
	}
	if err := s.eventRepo.Create(ctx, event); err != nil {
		return false, err
	}
	return true, nil
}

func (s *GatewayService) createWebhook(ctx context.Context, record *entity.WebhookEvent) error {
	if strings.TrimSpace(record.EventID) == "" {
		record.EventID = "unidentified:" + uuid.NewString()
	}
	return s.webhookRepo.Create(ctx, record)
}

func (s *GatewayService) persistUnappliedWebhook(ctx context.Context, record *entity.WebhookEvent, status, reason string) {
	record.EventID = status + ":" + uuid.NewString()
	record.Status = status
	if reason = strings.TrimSpace(reason); reason != "" {
		trimmed := truncate(reason, 1024)
		record.Error = &trimmed
	}
	if err := s.webhookRepo.Create(ctx, record); err != nil {
		s.logger.WithError(err).WithFields(logrus.Fields{
			"merchant_account_id": record.MerchantAccountID,
			"gateway":             record.Gateway,
			"status":              status,
		}).Error("Storing unapplied webhook failed")
	}
}

// releaseWebhook turns a claimed notification whose status could not be applied into a failed
// record, so the processor's redelivery is applied.
func (s *GatewayService) releaseWebhook(ctx context.Context, record *entity.WebhookEvent, cause error) {
	eventID := record.EventID
	reason := truncate("event "+eventID+" not applied: "+cause.Error(), 1024)
	record.EventID = entity.WebhookStatusFailed + ":" + uuid.NewString()
	record.Status = entity.WebhookStatusFailed
	record.Error = &reason
	if err := s.webhookRepo.MarkFailed(ctx, record.ID, record.EventID, reason); err != nil {
		s.logger.WithError(err).WithFields(logrus.Fields{
			"webhook_id": record.ID,
			"event_id":   eventID,
		}).Error("Releasing unapplied webhook failed")
	}
}
