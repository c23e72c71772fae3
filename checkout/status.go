package checkout

import (
	"context"
	"fmt"
	"net/http"

	"marketplace-orders/client"
	"marketplace-orders/models"
)

// Progress is the display state of an order on its lifecycle track.
type Progress struct {
	Status    models.OrderStatus
	Steps     []models.OrderStatus
	Position  int // index into Steps; -1 when cancelled or awaiting confirmation
	Percent   int
	Cancelled bool
	Awaiting  bool
	Label     string
}

var labels = map[models.OrderStatus]string{
	models.StatusPending:    "Awaiting payment",
	models.StatusPaid:       "Paid",
	models.StatusProcessing: "Processing",
	models.StatusShipped:    "Shipped",
	models.StatusDelivered:  "Delivered",
	models.StatusCancelled:  "Cancelled",
}

func Render(status models.OrderStatus) Progress {
	p := Progress{
		Status:   status,
		Steps:    append([]models.OrderStatus(nil), models.HappyPath...),
		Position: status.Position(),
		Label:    labels[status],
	}
	if p.Label == "" {
		p.Label = "Unknown"
	}
	if status == models.StatusCancelled {
		p.Cancelled = true
		return p
	}
	if p.Position >= 0 {
		p.Percent = p.Position * 100 / (len(p.Steps) - 1)
	}
	return p
}

// RenderAwaiting is shown between payment initiation and its confirmation.
// The order itself is still pending.
func RenderAwaiting() Progress {
	p := Render(models.StatusPending)
	p.Awaiting = true
	p.Label = "Awaiting payment confirmation"
	return p
}

// Updater applies seller-side status changes.
type Updater struct {
	api OrderAPI
}

func NewUpdater(api OrderAPI) *Updater {
	return &Updater{api: api}
}

// Advance moves the order to the requested status. Role and transition are
// checked locally first so a doomed request is never sent; the server
// enforces both again.
func (u *Updater) Advance(ctx context.Context, p models.Principal, order *models.Order, to models.OrderStatus) (*models.Order, error) {
	if !p.CanManageOrders() {
		return nil, ErrForbidden
	}
	if !order.Status.CanTransitionTo(to) {
		return nil, &InvalidTransitionError{From: order.Status, To: to}
	}

	updated, err := u.api.UpdateStatus(ctx, order.ID, to)
	switch client.StatusCode(err) {
	case 0:
	case http.StatusConflict:
		return nil, &InvalidTransitionError{From: order.Status, To: to}
	case http.StatusForbidden:
		return nil, ErrForbidden
	}
	if err != nil {
		return nil, fmt.Errorf("update order %d: %w", order.ID, err)
	}
	return updated, nil
}
