package fulfillment

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"resellbot/internal/ledger"
	"resellbot/internal/models"
	"resellbot/internal/panel"
	"resellbot/internal/pkg/utils"
)

// RenewResult is the outcome of a successful renewal.
type RenewResult struct {
	Service *models.Service `json:"service"`
	Price   int64           `json:"price"`
}

// RemoveResult reports whether the upstream account was already gone.
type RemoveResult struct {
	UpstreamMissing bool `json:"upstream_missing"`
}

type bound struct {
	svc     *models.Service
	adapter panel.Adapter
}

func (p *Pipeline) bind(serviceID uint) (*bound, error) {
	svc, err := p.services.FindByID(serviceID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrServiceNotFound
		}
		return nil, err
	}
	server, err := p.servers.FindByID(svc.ServerID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrServerNotFound, err)
	}
	adapter, err := p.panels.For(server)
	if err != nil {
		return nil, err
	}
	return &bound{svc: svc, adapter: adapter}, nil
}

// externalID is how the adapter addresses the account upstream.
func (b *bound) externalID() string {
	if b.svc.UpstreamID != "" {
		return b.svc.UpstreamID
	}
	return b.svc.UpstreamUsername
}

// Usage returns the live upstream snapshot of a service.
func (p *Pipeline) Usage(ctx context.Context, serviceID uint) (*panel.Snapshot, error) {
	b, err := p.bind(serviceID)
	if err != nil {
		return nil, err
	}
	return b.adapter.FetchAccount(ctx, b.externalID())
}

// SetEnabled enables or disables a service upstream and mirrors the status locally.
func (p *Pipeline) SetEnabled(ctx context.Context, serviceID uint, enabled bool) error {
	b, err := p.bind(serviceID)
	if err != nil {
		return err
	}
	if err := b.adapter.UpdateAccount(ctx, b.externalID(), panel.Delta{Enabled: &enabled}); err != nil {
		return err
	}
	status := models.ServiceActive
	if !enabled {
		status = models.ServiceDisabled
	}
	return p.services.Update(serviceID, map[string]interface{}{"status": status})
}

// Renew adds volumeGB and days to a service at the global renewal prices.
// The debit is compensated when the upstream update fails.
func (p *Pipeline) Renew(ctx context.Context, serviceID uint, volumeGB, days int) (*RenewResult, error) {
	if volumeGB < 0 || days < 0 || (volumeGB == 0 && days == 0) {
		return nil, ErrInvalidSelection
	}
	b, err := p.bind(serviceID)
	if err != nil {
		return nil, err
	}
	settings, err := p.settings.GetSettings()
	if err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}

	snap, err := b.adapter.FetchAccount(ctx, b.externalID())
	if err != nil {
		return nil, err
	}

	// Unlimited dimensions cannot be extended and are not charged.
	if snap.UnlimitedVolume() {
		volumeGB = 0
	}
	if snap.NoExpiry() {
		days = 0
	}
	if volumeGB == 0 && days == 0 {
		return nil, fmt.Errorf("%w: service is already unlimited", ErrInvalidSelection)
	}

	price := int64(volumeGB)*settings.RenewalPricePerGB + int64(days)*settings.RenewalPricePerDay
	ref := ledger.Ref{Reason: ledger.ReasonRenewal, ID: fmt.Sprintf("RNW-%d-%s", serviceID, utils.RandomHex(4))}
	log := p.logger.With(zap.Uint("service_id", serviceID), zap.String("ref", ref.ID))

	if price > 0 {
		if _, err := p.ledger.Debit(ctx, b.svc.OwnerID, price, ref); err != nil {
			return nil, err
		}
	}

	delta := panel.Delta{}
	newVolumeGB := b.svc.VolumeGB
	if volumeGB > 0 {
		quota := snap.QuotaBytes + panel.GBToBytes(volumeGB)
		delta.VolumeBytes = &quota
		newVolumeGB = panel.BytesToGB(quota)
	}
	newExpire := snap.ExpireAt
	if days > 0 {
		from := snap.ExpireAt
		if now := p.now().Unix(); from < now {
			from = now
		}
		newExpire = from + int64(days)*86400
		delta.ExpireAt = &newExpire
	}
	if !snap.Enabled {
		on := true
		delta.Enabled = &on
	}

	if err := b.adapter.UpdateAccount(ctx, b.externalID(), delta); err != nil {
		if price > 0 {
			if _, cerr := p.ledger.Credit(ctx, b.svc.OwnerID, price, ledger.Ref{Reason: ledger.ReasonRefund, ID: ref.ID}); cerr != nil {
				log.Error("renewal refund failed", zap.Error(cerr))
			}
		}
		log.Error("renewal failed, compensated", zap.Error(err))
		if nerr := p.notifier.NotifyOperator(ctx, fmt.Sprintf("Renewal failed for service %d: %s", serviceID, panel.Describe(err))); nerr != nil {
			log.Warn("notify operator failed", zap.Error(nerr))
		}
		return nil, fmt.Errorf("%w: %w", ErrCompensated, err)
	}

	updates := map[string]interface{}{
		"volume_gb": newVolumeGB,
		"expire_at": newExpire,
		"status":    models.ServiceActive,
	}
	if err := p.services.Update(serviceID, updates); err != nil {
		log.Error("renewal applied upstream but not saved locally", zap.Error(err))
	}
	b.svc.VolumeGB, b.svc.ExpireAt, b.svc.Status = newVolumeGB, newExpire, models.ServiceActive
	log.Info("service renewed", zap.Int("volume_gb", volumeGB), zap.Int("days", days), zap.Int64("price", price))
	return &RenewResult{Service: b.svc, Price: price}, nil
}

// RemoveService deletes the upstream account and then the local row. An
// upstream account that is already gone still removes the row.
func (p *Pipeline) RemoveService(ctx context.Context, serviceID uint) (*RemoveResult, error) {
	b, err := p.bind(serviceID)
	if err != nil {
		return nil, err
	}

	res := &RemoveResult{}
	if err := b.adapter.DeleteAccount(ctx, b.externalID()); err != nil {
		if !errors.Is(err, panel.ErrNotFound) {
			return nil, err
		}
		res.UpstreamMissing = true
		p.logger.Warn("upstream account already missing", zap.Uint("service_id", serviceID), zap.String("external_id", b.externalID()))
	}
	if err := p.services.Delete(serviceID); err != nil {
		return nil, fmt.Errorf("delete service: %w", err)
	}
	return res, nil
}
