package fulfillment

import (
	"context"
	"log/slog"
	"time"

	"fulfillment-service/internal/apperr"
	"fulfillment-service/internal/db"
	"fulfillment-service/internal/logcontext"
	"fulfillment-service/internal/model"
	"fulfillment-service/internal/notify"
	"github.com/VictoriaMetrics/metrics"
	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"
)

var (
	transitionUpdatedCounter   = metrics.GetOrCreateCounter(`fulfillment_transitions_total{result="updated"}`)
	transitionUnknownCounter   = metrics.GetOrCreateCounter(`fulfillment_transitions_total{result="unknown_order"}`)
	transitionDuplicateCounter = metrics.GetOrCreateCounter(`fulfillment_transitions_total{result="duplicate"}`)
	transitionFailedCounter    = metrics.GetOrCreateCounter(`fulfillment_transitions_total{result="failed"}`)

	emailQueuedCounter  = metrics.GetOrCreateCounter(`fulfillment_emails_total{result="queued"}`)
	emailSkippedCounter = metrics.GetOrCreateCounter(`fulfillment_emails_total{result="skipped"}`)
)

type Result struct {
	Updated     bool
	EmailQueued bool
	Duplicate   bool
}

// Service applies print vendor and shipping aggregator updates to orders.
// Each transition writes only its own columns, and the customer email for it
// is enqueued in the same transaction as the once-only flag that guards it.
type Service struct {
	orders *db.OrderRepository
	outbox notify.Enqueuer
	seen   *EventSet
	loc    *time.Location
	logger *slog.Logger
	now    func() time.Time
}

func NewService(orders *db.OrderRepository, outbox notify.Enqueuer, seen *EventSet, loc *time.Location, logger *slog.Logger) *Service {
	if seen == nil {
		seen = NewEventSet(0)
	}
	if loc == nil {
		loc = time.UTC
	}
	return &Service{orders: orders, outbox: outbox, seen: seen, loc: loc, logger: logger, now: time.Now}
}

func (s *Service) MarkInProduction(ctx context.Context, ev ProductionEvent) (Result, error) {
	ctx = logcontext.AppendCtx(ctx, slog.String("orderId", ev.OrderReference))

	return s.inTx(ctx, func(tx pgx.Tx) (Result, error) {
		updated, err := s.orders.UpdateProduction(ctx, tx, ev.OrderReference, db.ProductionUpdate{
			StartedAt:     ev.Datetime,
			VendorOrderID: ev.Order,
			VendorItemID:  ev.Item,
			ItemReference: ev.ItemReference,
		})
		if err != nil {
			return Result{}, apperr.NewOrderStoreError("update production", err)
		}
		if !updated {
			s.logger.WarnContext(ctx, "Production update for unknown order")
			transitionUnknownCounter.Inc()
			return Result{}, nil
		}

		res := Result{Updated: true}
		order, err := s.claim(ctx, tx, db.OrderRef{OrderID: ev.OrderReference}, db.ProductionEmailSent)
		if err != nil || order == nil {
			return res, err
		}

		subject, body, err := notify.RenderProduction(notify.ProductionEmail{
			DisplayName: order.UserName,
			ChildName:   order.ChildName,
			JobID:       order.JobID,
		})
		if err != nil {
			return res, errors.Wrap(err, "rendering production email")
		}
		res.EmailQueued, err = s.enqueue(ctx, tx, notify.Email{
			Kind:        notify.KindProduction,
			AggregateID: order.OrderID,
			Recipients:  []string{order.Email},
			Subject:     subject,
			Body:        body,
		})
		return res, err
	})
}

func (s *Service) MarkShipped(ctx context.Context, ev ShipmentEvent) (Result, error) {
	ctx = logcontext.AppendCtx(ctx, slog.String("orderId", ev.OrderReference))

	return s.inTx(ctx, func(tx pgx.Tx) (Result, error) {
		updated, err := s.orders.UpdateShipment(ctx, tx, ev.OrderReference, db.ShipmentUpdate{
			TrackingCode:   ev.Tracking,
			ShippingOption: ev.ShippingOption,
			ShippedAt:      ev.Datetime,
		})
		if err != nil {
			return Result{}, apperr.NewOrderStoreError("update shipment", err)
		}
		if !updated {
			s.logger.WarnContext(ctx, "Shipment update for unknown order")
			transitionUnknownCounter.Inc()
			return Result{}, nil
		}

		res := Result{Updated: true}
		order, err := s.claim(ctx, tx, db.OrderRef{OrderID: ev.OrderReference}, db.ShippedEmailSent)
		if err != nil || order == nil {
			return res, err
		}

		res.EmailQueued, err = s.shippedEmail(ctx, tx, order, ev.OrderReference, ev.Tracking, CloudprinterTrackingURL)
		return res, err
	})
}

// ApplyTracking records an aggregator event. Events already applied by this
// process are acknowledged without touching the store.
func (s *Service) ApplyTracking(ctx context.Context, ev TrackingEvent, raw []byte) (Result, error) {
	ctx = logcontext.AppendCtx(ctx, slog.String("awb", ev.AWB))

	key := ev.DedupeKey()
	if s.seen.Contains(key) {
		transitionDuplicateCounter.Inc()
		return Result{Duplicate: true}, nil
	}

	ref := db.OrderRef{OrderID: ev.OrderID, AWB: ev.AWB}
	if ref.OrderID == "" && ref.AWB == "" {
		s.logger.WarnContext(ctx, "Tracking event without order id or AWB")
		transitionUnknownCounter.Inc()
		return Result{}, nil
	}

	processedAt, ok := ParseTimestamp(ev.CurrentTimestamp, s.loc)
	if !ok {
		processedAt = s.now()
	}

	res, err := s.inTx(ctx, func(tx pgx.Tx) (Result, error) {
		updated, err := s.orders.UpdateTracking(ctx, tx, ref, db.TrackingUpdate{
			AWB:         ev.AWB,
			Courier:     ev.CourierName,
			Status:      ev.CurrentStatus,
			StatusID:    ev.CurrentStatusID,
			Delivered:   ev.Delivered(),
			RawEvent:    raw,
			ProcessedAt: processedAt.UTC(),
		})
		if err != nil {
			return Result{}, apperr.NewOrderStoreError("update tracking", err)
		}
		if !updated {
			s.logger.WarnContext(ctx, "Tracking event for unknown order", "orderId", ev.OrderID)
			transitionUnknownCounter.Inc()
			return Result{}, nil
		}

		res := Result{Updated: true}
		if ev.AWB == "" {
			return res, nil
		}
		order, err := s.claim(ctx, tx, ref, db.ShippedEmailSent)
		if err != nil || order == nil {
			return res, err
		}

		tracking := order.TrackingCode
		if tracking == "" {
			tracking = ev.AWB
		}
		orderRef := order.OrderID
		if orderRef == "" {
			orderRef = ev.OrderID
		}
		res.EmailQueued, err = s.shippedEmail(ctx, tx, order, orderRef, tracking, ShiprocketTrackingURL)
		return res, err
	})
	if err == nil {
		s.seen.Add(key)
	}
	return res, err
}

// claim flips the flag and loads the order when this caller won it.
func (s *Service) claim(ctx context.Context, tx pgx.Tx, ref db.OrderRef, flag db.EmailFlag) (*model.Order, error) {
	claimed, err := s.orders.ClaimEmailFlag(ctx, tx, ref, flag)
	if err != nil {
		return nil, apperr.NewOrderStoreError("claim "+string(flag), err)
	}
	if !claimed {
		s.logger.InfoContext(ctx, "Email already sent for order", "flag", string(flag))
		return nil, nil
	}

	order, err := s.orders.FindByRef(ctx, tx, ref)
	if err != nil {
		return nil, apperr.NewOrderStoreError("load order", err)
	}
	return order, nil
}

func (s *Service) shippedEmail(ctx context.Context, tx pgx.Tx, order *model.Order, orderRef, tracking, template string) (bool, error) {
	subject, body, err := notify.RenderShipped(notify.ShippedEmail{
		DisplayName: order.UserName,
		ChildName:   order.ChildName,
		OrderRef:    orderRef,
		Tracking:    tracking,
		TrackURL:    TrackingURL(template, tracking),
	})
	if err != nil {
		return false, errors.Wrap(err, "rendering shipped email")
	}
	return s.enqueue(ctx, tx, notify.Email{
		Kind:        notify.KindShipped,
		AggregateID: order.OrderID,
		Recipients:  []string{order.Email},
		Subject:     subject,
		Body:        body,
	})
}

// enqueue skips orders without an email address; the flag stays claimed.
func (s *Service) enqueue(ctx context.Context, tx pgx.Tx, email notify.Email) (bool, error) {
	id, err := s.outbox.Enqueue(ctx, tx, email)
	if errors.Is(err, notify.ErrNoRecipients) {
		s.logger.WarnContext(ctx, "Order has no email address; email skipped", "kind", email.Kind)
		emailSkippedCounter.Inc()
		return false, nil
	}
	if err != nil {
		return false, err
	}

	s.logger.InfoContext(ctx, "Customer email queued", "kind", email.Kind, "notificationId", id)
	emailQueuedCounter.Inc()
	return true, nil
}

func (s *Service) inTx(ctx context.Context, fn func(tx pgx.Tx) (Result, error)) (Result, error) {
	tx, err := s.orders.BeginTx(ctx)
	if err != nil {
		transitionFailedCounter.Inc()
		return Result{}, apperr.NewOrderStoreError("begin", err)
	}
	defer tx.Rollback(ctx)

	res, err := fn(tx)
	if err != nil {
		transitionFailedCounter.Inc()
		return Result{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		transitionFailedCounter.Inc()
		return Result{}, apperr.NewOrderStoreError("commit", err)
	}
	if res.Updated {
		transitionUpdatedCounter.Inc()
	}
	return res, nil
}
