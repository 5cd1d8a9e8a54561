package service

import (
	"context"
	"errors"
	"fmt"
	"log"

	"ambassadorbonus/internal/domain"
	"ambassadorbonus/internal/models"
	"ambassadorbonus/internal/repository"

	"github.com/shopspring/decimal"
)

var ErrUnknownEventType = errors.New("order event: unknown type")

// OrderEvent is one lifecycle notification from the commerce system.
type OrderEvent struct {
	Type       string          `json:"type"`
	OrderID    string          `json:"order_id"`
	CustomerID uint            `json:"customer_id"`
	Email      string          `json:"email"`
	Total      decimal.Decimal `json:"total"`
	Status     string          `json:"status"`
	CouponCode string          `json:"coupon_code"`
	IP         string          `json:"ip"`
	RefundID   string          `json:"refund_id"`
}

// OrderReport collects what each component did with an event.
type OrderReport struct {
	OrderID    string                         `json:"order_id"`
	Type       string                         `json:"type"`
	Attachment *AttachResult                  `json:"attachment,omitempty"`
	Counters   map[domain.Tier]CounterOutcome `json:"counters,omitempty"`
	Commission *CommissionOutcome             `json:"commission,omitempty"`
	StepErrors []string                       `json:"errors,omitempty"`
}

// OrderEngine feeds order lifecycle events through attachment, counting and
// commission. A failing step is logged and the remaining steps still run.
type OrderEngine struct {
	orders      *repository.OrderRepository
	users       *repository.UserRepository
	attachments *AttachmentService
	counters    *CounterService
	commissions *CommissionService
}

func NewOrderEngine(
	orders *repository.OrderRepository,
	users *repository.UserRepository,
	attachments *AttachmentService,
	counters *CounterService,
	commissions *CommissionService,
) *OrderEngine {
	return &OrderEngine{
		orders:      orders,
		users:       users,
		attachments: attachments,
		counters:    counters,
		commissions: commissions,
	}
}

func (e *OrderEngine) HandleOrderEvent(ctx context.Context, ev OrderEvent) (OrderReport, error) {
	report := OrderReport{OrderID: ev.OrderID, Type: ev.Type}
	status := ev.Status
	switch ev.Type {
	case domain.OrderEventCreated, domain.OrderEventCompleted:
		if status == "" {
			status = ev.Type
		}
	case domain.OrderEventRefunded:
		status = domain.OrderEventRefunded
	default:
		return report, ErrUnknownEventType
	}

	if err := e.storeOrder(ctx, ev, status); err != nil {
		return report, fmt.Errorf("store order %s: %w", ev.OrderID, err)
	}

	fail := func(step string, err error) {
		log.Printf("[webhook] order=%s %s: %v", ev.OrderID, step, err)
		report.StepErrors = append(report.StepErrors, step+": "+err.Error())
	}

	switch ev.Type {
	case domain.OrderEventCreated:
		e.attach(ctx, ev, &report, fail, false)
	case domain.OrderEventCompleted:
		e.attach(ctx, ev, &report, fail, true)
		e.count(ctx, ev, &report, fail, false)
		if out, err := e.commissions.OnOrderEvent(ctx, ev.OrderID, status); err != nil {
			fail("commission", err)
		} else {
			report.Commission = &out
		}
		if err := e.users.UpdateLastOrderIP(ctx, ev.CustomerID, ev.IP); err != nil {
			fail("last_order_ip", err)
		}
	case domain.OrderEventRefunded:
		log.Printf("[webhook] order=%s refund=%s", ev.OrderID, ev.RefundID)
		e.count(ctx, ev, &report, fail, true)
		if out, err := e.commissions.OnOrderEvent(ctx, ev.OrderID, domain.OrderEventRefunded); err != nil {
			fail("commission", err)
		} else {
			report.Commission = &out
		}
	}
	return report, nil
}

// storeOrder records the order snapshot. A refund of a known order only
// changes its status.
func (e *OrderEngine) storeOrder(ctx context.Context, ev OrderEvent, status string) error {
	if ev.Type == domain.OrderEventRefunded {
		updated, err := e.orders.UpdateStatus(ctx, ev.OrderID, status)
		if err != nil || updated {
			return err
		}
	}
	return e.orders.Upsert(ctx, &models.Order{
		OrderID:    ev.OrderID,
		CustomerID: ev.CustomerID,
		Email:      ev.Email,
		Total:      ev.Total,
		Status:     status,
		CouponCode: ev.CouponCode,
		IP:         ev.IP,
	})
}

// attach tries the coupon first, then (on completion) the first-touch link.
// Whichever attaches first wins; the other sees the customer already attached.
func (e *OrderEngine) attach(ctx context.Context, ev OrderEvent, report *OrderReport, fail func(string, error), withLink bool) {
	if ev.CouponCode != "" {
		res, err := e.attachments.AttachFromCoupon(ctx, ev.CustomerID, ev.CouponCode, ev.OrderID)
		if err != nil {
			fail("attach_coupon", err)
		} else {
			report.Attachment = &res
			if res.Success || res.Reason == ReasonAlreadyAttached {
				return
			}
		}
	}
	if !withLink {
		return
	}
	res, err := e.attachments.AttachFromCapture(ctx, ev.CustomerID, ev.OrderID)
	if err != nil {
		fail("attach_link", err)
		return
	}
	if report.Attachment == nil || res.Reason != ReasonNoCapture {
		report.Attachment = &res
	}
}

func (e *OrderEngine) count(ctx context.Context, ev OrderEvent, report *OrderReport, fail func(string, error), refund bool) {
	var child *models.User
	if !refund {
		u, err := e.users.GetByID(ctx, ev.CustomerID)
		if errors.Is(err, repository.ErrNotFound) {
			return
		}
		if err != nil {
			fail("load_customer", err)
			return
		}
		child = u
	}
	report.Counters = make(map[domain.Tier]CounterOutcome, len(domain.Tiers))
	for _, tier := range domain.Tiers {
		qe := QualifyingEvent{
			Tier:     tier,
			ChildID:  ev.CustomerID,
			OrderID:  ev.OrderID,
			Amount:   ev.Total,
			IsRefund: refund,
		}
		if child != nil {
			qe.ParentID = child.ParentFor(tier)
			if qe.ParentID == 0 {
				continue
			}
		}
		out, err := e.counters.OnQualifyingOrder(ctx, qe)
		if err != nil {
			fail("counter_"+string(tier), err)
			continue
		}
		report.Counters[tier] = out
	}
}
