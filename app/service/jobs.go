package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/vibast-solutions/ms-go-gateways/app/entity"
	"github.com/vibast-solutions/ms-go-gateways/app/gateway"
)

const defaultStatusPollStaleAfter = 30 * time.Minute

// RunStatusPollBatch polls processors for pending charges older than the stale window and
// appends the status changes they report.
func (s *GatewayService) RunStatusPollBatch(ctx context.Context) error {
	now := time.Now().UTC()
	before := now.Add(-s.statusPollStaleAfter())
	items, err := s.chargeRepo.ListPendingForReconcile(ctx, before, s.batchSize())
	if err != nil {
		return err
	}

	type resolved struct {
		merchant *entity.MerchantAccount
		gw       gateway.Gateway
		err      error
	}
	byMerchant := make(map[uint64]resolved)

	var firstErr error
	changed := 0
	for _, charge := range items {
		if charge == nil || charge.ProcessorTransactionID == nil || strings.TrimSpace(*charge.ProcessorTransactionID) == "" {
			continue
		}

		r, ok := byMerchant[charge.MerchantAccountID]
		if !ok {
			merchant, err := s.loadMerchant(ctx, charge.MerchantAccountID)
			if err == nil {
				r.merchant = merchant
				r.gw, err = s.gateways.Resolve(merchant)
			}
			r.err = err
			byMerchant[charge.MerchantAccountID] = r
		}
		if r.err != nil {
			firstErr = keepFirstErr(firstErr, r.err)
			continue
		}

		out, err := s.pollCharge(ctx, charge, r.merchant, r.gw, now)
		if err != nil {
			if errors.Is(err, gateway.ErrCapabilityNotSupported) {
				continue
			}
			s.logger.WithError(err).WithField("charge_id", charge.ID).Warn("Charge status poll failed")
			firstErr = keepFirstErr(firstErr, err)
			continue
		}
		if out.Changed {
			changed++
		}
	}

	s.logger.WithFields(logrus.Fields{"polled": len(items), "changed": changed}).Info("Status poll batch finished")
	return firstErr
}

func (s *GatewayService) statusPollStaleAfter() time.Duration {
	if s.cfg.StatusPollStaleAfter > 0 {
		return s.cfg.StatusPollStaleAfter
	}
	return defaultStatusPollStaleAfter
}

func keepFirstErr(current error, candidate error) error {
	if current != nil {
		return current
	}
	return candidate
}
