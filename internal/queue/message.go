package queue

import (
	"fmt"
	"strings"

	"storefront-notifier/internal/models"
)

// ComposeText renders the free-form message body for a job. Templates ignore
// it for rendering, but the fallback deep-link still embeds it so manual
// follow-up sends something sensible.
func ComposeText(job models.NotificationJob) string {
	p := job.Payload
	name := p.CustomerName
	if name == "" {
		name = "there"
	}
	storeName := p.StoreName
	if storeName == "" {
		storeName = "the store"
	}

	var b strings.Builder
	switch job.Kind {
	case models.KindOrderCreated:
		fmt.Fprintf(&b, "Hi %s! %s received your order #%s.", name, storeName, job.OrderID)
	case models.KindStatusChanged:
		fmt.Fprintf(&b, "Hi %s! Your order #%s from %s is now %s.", name, job.OrderID, storeName, statusLabel(p.NewStatus))
	default:
		fmt.Fprintf(&b, "Hi %s! Update on your order #%s from %s.", name, job.OrderID, storeName)
	}

	if p.DeliveryType == "delivery" && p.DeliveryAddress != "" {
		fmt.Fprintf(&b, " We'll deliver to %s.", p.DeliveryAddress)
	} else if p.DeliveryType == "pickup" {
		b.WriteString(" It will be ready for pickup.")
	}
	if p.ETA != "" {
		fmt.Fprintf(&b, " Estimated time: %s.", p.ETA)
	}
	return b.String()
}

func statusLabel(status string) string {
	if status == "" {
		return "updated"
	}
	return strings.ReplaceAll(status, "_", " ")
}
