package fulfillment

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"

	"resellbot/internal/models"
)

// Intent is what the buyer asked for.
type Intent struct {
	UserID             string `json:"user_id"`
	PlanID             uint   `json:"plan_id"`
	CustomVolumeGB     int    `json:"custom_volume_gb,omitempty"`
	CustomDurationDays int    `json:"custom_duration_days,omitempty"`
	DiscountCode       string `json:"discount_code,omitempty"`
}

// Quote is the resolved price of an intent.
type Quote struct {
	Base         int64 `json:"base"`
	Discount     int64 `json:"discount"`
	Final        int64 `json:"final"`
	VolumeGB     int   `json:"volume_gb"`
	DurationDays int   `json:"duration_days"`

	plan     *models.Plan
	discount *models.DiscountCode
}

// Plan returns the plan the quote was computed for.
func (q *Quote) Plan() *models.Plan { return q.plan }

// computeFinalPrice applies a discount to base and never goes below zero.
func computeFinalPrice(base int64, d *models.DiscountCode) int64 {
	if base < 0 {
		base = 0
	}
	if d == nil {
		return base
	}
	final := base
	switch d.Type {
	case models.DiscountPercent:
		pct := d.Value
		if pct < 0 {
			pct = 0
		}
		if pct > 100 {
			pct = 100
		}
		final = base - base*pct/100
	case models.DiscountFixed:
		if d.Value > 0 {
			final = base - d.Value
		}
	}
	if final < 0 {
		return 0
	}
	return final
}

// basePrice is the plan price, or for custom plans the per-unit total where a
// zero per-unit price falls back to the global renewal price.
func basePrice(plan *models.Plan, volumeGB, days int, settings *models.Setting) int64 {
	if !plan.CustomVolumeEnabled {
		return plan.Price
	}
	perGB := plan.PricePerGB
	if perGB == 0 {
		perGB = settings.RenewalPricePerGB
	}
	perDay := plan.PricePerDay
	if perDay == 0 {
		perDay = settings.RenewalPricePerDay
	}
	return int64(volumeGB)*perGB + int64(days)*perDay
}

// Quote validates an intent and prices it. Nothing is reserved or charged.
func (p *Pipeline) Quote(ctx context.Context, in Intent) (*Quote, error) {
	plan, err := p.plans.FindByID(in.PlanID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrPlanNotFound
		}
		return nil, fmt.Errorf("load plan: %w", err)
	}
	if plan.Status != "active" {
		return nil, ErrPlanNotFound
	}
	if !plan.HasCapacity() {
		return nil, ErrPlanSoldOut
	}

	volume, days, err := selection(plan, in)
	if err != nil {
		return nil, err
	}

	settings, err := p.settings.GetSettings()
	if err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}

	q := &Quote{
		Base:         basePrice(plan, volume, days, settings),
		VolumeGB:     volume,
		DurationDays: days,
		plan:         plan,
	}

	if code := strings.TrimSpace(in.DiscountCode); code != "" {
		d, err := p.discounts.FindByCode(code)
		if err != nil || !d.Usable() {
			return nil, ErrInvalidDiscount
		}
		q.discount = d
	}
	q.Final = computeFinalPrice(q.Base, q.discount)
	q.Discount = q.Base - q.Final
	return q, nil
}

// selection resolves volume and duration, checking custom values against the plan bounds.
func selection(plan *models.Plan, in Intent) (volumeGB, days int, err error) {
	if !plan.CustomVolumeEnabled {
		if in.CustomVolumeGB != 0 || in.CustomDurationDays != 0 {
			return 0, 0, fmt.Errorf("%w: plan does not take a custom volume or duration", ErrInvalidSelection)
		}
		return plan.VolumeGB, plan.DurationDays, nil
	}

	volumeGB, days = in.CustomVolumeGB, in.CustomDurationDays
	if !within(volumeGB, plan.MinVolumeGB, plan.MaxVolumeGB) {
		return 0, 0, fmt.Errorf("%w: volume %d GB outside [%d, %d]", ErrInvalidSelection, volumeGB, plan.MinVolumeGB, plan.MaxVolumeGB)
	}
	if !within(days, plan.MinDurationDays, plan.MaxDurationDays) {
		return 0, 0, fmt.Errorf("%w: duration %d days outside [%d, %d]", ErrInvalidSelection, days, plan.MinDurationDays, plan.MaxDurationDays)
	}
	return volumeGB, days, nil
}

// within checks v against [lo, hi]; hi 0 means no upper bound. Custom values must be positive.
func within(v, lo, hi int) bool {
	if v <= 0 || v < lo {
		return false
	}
	return hi <= 0 || v <= hi
}
