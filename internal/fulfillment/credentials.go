package fulfillment

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"resellbot/internal/models"
	"resellbot/internal/notify"
)

const qrEndpoint = "https://api.qrserver.com/v1/create-qr-code/?size=300x300&data="

// QRImageURL returns a QR code image URL encoding data.
func QRImageURL(data string) string {
	if data == "" {
		return ""
	}
	return qrEndpoint + url.QueryEscape(data)
}

func (p *Pipeline) credentials(q *Quote, svc *models.Service) *notify.Delivery {
	var b strings.Builder
	fmt.Fprintf(&b, "Your service is ready.\n\n")
	fmt.Fprintf(&b, "Plan: %s\n", q.plan.Name)
	fmt.Fprintf(&b, "Username: %s\n", svc.UpstreamUsername)
	fmt.Fprintf(&b, "Volume: %s\n", volumeText(svc.VolumeGB))
	fmt.Fprintf(&b, "Expires: %s\n", expiryText(svc.ExpireAt))
	if svc.SubscriptionURL != "" {
		fmt.Fprintf(&b, "\nSubscription:\n%s", svc.SubscriptionURL)
	}

	return &notify.Delivery{
		Caption:         b.String(),
		QRImageURL:      QRImageURL(svc.SubscriptionURL),
		SubscriptionURL: svc.SubscriptionURL,
	}
}

func volumeText(gb int) string {
	if gb <= 0 {
		return "unlimited"
	}
	return fmt.Sprintf("%d GB", gb)
}

func expiryText(expireAt int64) string {
	if expireAt <= 0 {
		return "never"
	}
	return time.Unix(expireAt, 0).UTC().Format("2006-01-02")
}
