package queue

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"storefront-notifier/internal/models"
)

func TestComposeText(t *testing.T) {
	base := models.NotificationJob{
		OrderID: "A-100",
		Kind:    models.KindStatusChanged,
		Payload: models.OrderPayload{
			CustomerName: "Ana",
			StoreName:    "Panaderia Sol",
			NewStatus:    "out_for_delivery",
		},
	}

	t.Run("status change", func(t *testing.T) {
		got := ComposeText(base)
		assert.Equal(t, "Hi Ana! Your order #A-100 from Panaderia Sol is now out for delivery.", got)
	})

	t.Run("order created with delivery and eta", func(t *testing.T) {
		job := base
		job.Kind = models.KindOrderCreated
		job.Payload.DeliveryType = "delivery"
		job.Payload.DeliveryAddress = "Av. Siempreviva 742"
		job.Payload.ETA = "45 min"
		got := ComposeText(job)
		assert.Equal(t, "Hi Ana! Panaderia Sol received your order #A-100. We'll deliver to Av. Siempreviva 742. Estimated time: 45 min.", got)
	})

	t.Run("pickup", func(t *testing.T) {
		job := base
		job.Payload.DeliveryType = "pickup"
		got := ComposeText(job)
		assert.Contains(t, got, "ready for pickup")
	})

	t.Run("missing fields degrade gracefully", func(t *testing.T) {
		job := models.NotificationJob{OrderID: "B-2", Kind: "unknown_kind"}
		got := ComposeText(job)
		assert.Equal(t, "Hi there! Update on your order #B-2 from the store.", got)
	})
}
