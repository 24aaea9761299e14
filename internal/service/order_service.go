package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"checkout-service/internal/entity"
	"checkout-service/internal/repository"
)

type AdvanceOptions struct {
	// Override allows jumping forward over intermediate states.
	Override bool
	Actor    string
	Note     string
}

// OrderService drives orders through their lifecycle after checkout.
type OrderService struct {
	store    *repository.Store
	notifier Notifier
	ledger   LedgerFactory
	now      func() time.Time
	tracer   trace.Tracer
}

type OrderOption func(*OrderService)

// WithOrderTracerProvider traces lifecycle changes through tp instead of the
// global provider.
func WithOrderTracerProvider(tp trace.TracerProvider) OrderOption {
	return func(s *OrderService) { s.tracer = tp.Tracer(tracerName) }
}

func NewOrderService(store *repository.Store, notifier Notifier, ledger LedgerFactory, now func() time.Time, opts ...OrderOption) *OrderService {
	if ledger == nil {
		ledger = DefaultLedger
	}
	if now == nil {
		now = time.Now
	}
	s := &OrderService{store: store, notifier: notifier, ledger: ledger, now: now, tracer: otel.Tracer(tracerName)}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *OrderService) GetOrder(ctx context.Context, orderID string) (*entity.Order, error) {
	order, err := s.store.Repos().Orders.GetByID(ctx, orderID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, notFoundError("order", orderID)
	}
	if err != nil {
		logger.Error().Err(err).Msgf("Error getting order by ID %s", orderID)
		return nil, err
	}
	return order, nil
}

// Advance moves an order forward on its happy path and stamps the milestone.
func (s *OrderService) Advance(ctx context.Context, orderID string, to entity.OrderStatus, opts AdvanceOptions) (order *entity.Order, err error) {
	ctx, span := s.tracer.Start(ctx, "OrderService.Advance", trace.WithAttributes(
		attribute.String("order.id", orderID),
		attribute.String("order.status", string(to)),
	))
	defer endSpan(span, &err)

	if to == entity.OrderCancelled || to == entity.OrderRefunded {
		return nil, stateError(fmt.Sprintf("orders become %s through cancel or refund, not advance", to))
	}
	if !to.Valid() {
		return nil, validationError("status", "is unknown")
	}

	err = s.store.RunInTx(ctx, func(r *repository.Repos) error {
		var err error
		order, err = s.load(ctx, r, orderID)
		if err != nil {
			return err
		}
		from := order.Status
		if !entity.CanAdvance(from, to, opts.Override) {
			return stateError(fmt.Sprintf("cannot move order from %s to %s", from, to))
		}

		now := s.now().UTC()
		order.Status = to
		order.UpdatedAt = now
		stampMilestone(order, to, now)
		note := fmt.Sprintf("%s -> %s", from, to)
		if opts.Note != "" {
			note += " (" + opts.Note + ")"
		}
		order.Notes = appendNote(order.Notes, auditLine(now, actorOr(opts.Actor, "system"), note))

		return s.transition(ctx, r, order, from)
	})
	if err = contentionError(err); err != nil {
		return nil, err
	}

	logger.Info().Str("order_id", orderID).Msgf("Order %s moved to %s", order.OrderNumber, to)
	notify(ctx, s.notifier, entity.NewOrderEvent(entity.EventOrderStatus, order, s.now().UTC()))
	return order, nil
}

// Cancel cancels a non-terminal order and gives every reserved unit back to
// stock in the same transaction as the status change.
func (s *OrderService) Cancel(ctx context.Context, orderID, reason, actor string) (order *entity.Order, err error) {
	ctx, span := s.tracer.Start(ctx, "OrderService.Cancel", trace.WithAttributes(attribute.String("order.id", orderID)))
	defer endSpan(span, &err)

	order, err = s.terminate(ctx, orderID, entity.OrderCancelled, reason, actor)
	if err != nil {
		return nil, err
	}
	notify(ctx, s.notifier, entity.NewOrderEvent(entity.EventOrderCancelled, order, s.now().UTC()))
	return order, nil
}

// Refund marks a non-terminal order refunded. Stock is released only when the
// goods never left, i.e. the order had not shipped yet.
func (s *OrderService) Refund(ctx context.Context, orderID, reason, actor string) (order *entity.Order, err error) {
	ctx, span := s.tracer.Start(ctx, "OrderService.Refund", trace.WithAttributes(attribute.String("order.id", orderID)))
	defer endSpan(span, &err)

	order, err = s.terminate(ctx, orderID, entity.OrderRefunded, reason, actor)
	if err != nil {
		return nil, err
	}
	notify(ctx, s.notifier, entity.NewOrderEvent(entity.EventOrderRefunded, order, s.now().UTC()))
	return order, nil
}

func (s *OrderService) terminate(ctx context.Context, orderID string, to entity.OrderStatus, reason, actor string) (*entity.Order, error) {
	var order *entity.Order
	err := s.store.RunInTx(ctx, func(r *repository.Repos) error {
		var err error
		order, err = s.load(ctx, r, orderID)
		if err != nil {
			return err
		}
		from := order.Status
		if from.IsTerminal() {
			return stateError(fmt.Sprintf("order is already %s", from))
		}

		now := s.now().UTC()
		order.Status = to
		order.UpdatedAt = now
		order.CancelReason = reason
		if to == entity.OrderCancelled {
			order.CancelledAt = &now
		} else {
			order.PaymentStatus = entity.PaymentRefunded
		}
		note := fmt.Sprintf("%s -> %s", from, to)
		if reason != "" {
			note += ": " + reason
		}
		order.Notes = appendNote(order.Notes, auditLine(now, actorOr(actor, "system"), note))

		if err := s.transition(ctx, r, order, from); err != nil {
			return err
		}

		if to == entity.OrderRefunded && from.Step() >= entity.OrderShipped.Step() {
			return nil
		}
		ledger := s.ledger(r)
		for _, it := range byProductID(order.Items) {
			if err := ledger.Release(ctx, it.ProductID, it.Quantity); err != nil {
				logger.Error().Err(err).Msgf("Error releasing %d units of product %s for order %s", it.Quantity, it.ProductID, orderID)
				return err
			}
		}
		return nil
	})
	if err = contentionError(err); err != nil {
		return nil, err
	}

	logger.Info().Str("order_id", orderID).Msgf("Order %s %s: %s", order.OrderNumber, to, reason)
	return order, nil
}

// ConfirmDelivery records the customer's acknowledgement and feedback. Stock
// is not affected.
func (s *OrderService) ConfirmDelivery(ctx context.Context, orderID, userID string, rating *int, comment string) (*entity.Order, error) {
	if rating != nil && (*rating < 1 || *rating > 5) {
		return nil, validationError("rating", "must be between 1 and 5")
	}

	var order *entity.Order
	err := s.store.RunInTx(ctx, func(r *repository.Repos) error {
		var err error
		order, err = s.load(ctx, r, orderID)
		if err != nil {
			return err
		}
		if order.UserID != userID {
			return &Error{Kind: KindState, Err: ErrForbidden, Message: "order belongs to another user"}
		}
		if order.Status != entity.OrderDelivered {
			return stateError(fmt.Sprintf("order is %s, not delivered", order.Status))
		}
		if order.DeliveryConfirmed {
			return stateError("delivery was already confirmed")
		}

		now := s.now().UTC()
		err = r.Orders.ConfirmDelivery(ctx, orderID, rating, comment, now)
		if errors.Is(err, repository.ErrConflict) {
			return stateError("delivery was already confirmed")
		}
		if err != nil {
			return err
		}
		order.DeliveryConfirmed = true
		order.Rating = rating
		order.Feedback = comment
		order.UpdatedAt = now
		return nil
	})
	if err = contentionError(err); err != nil {
		return nil, err
	}
	return order, nil
}

// SetPaymentStatus records the outcome reported by the payment gateway.
func (s *OrderService) SetPaymentStatus(ctx context.Context, orderID string, status entity.PaymentStatus) (*entity.Order, error) {
	if !status.Valid() {
		return nil, validationError("payment_status", "is unknown")
	}

	var order *entity.Order
	err := s.store.RunInTx(ctx, func(r *repository.Repos) error {
		var err error
		order, err = s.load(ctx, r, orderID)
		if err != nil {
			return err
		}
		if order.Status == entity.OrderCancelled || order.Status == entity.OrderRefunded {
			if status == entity.PaymentApproved {
				return stateError(fmt.Sprintf("cannot approve payment of a %s order", order.Status))
			}
		}
		now := s.now().UTC()
		if err := r.Orders.SetPaymentStatus(ctx, orderID, status, now); err != nil {
			return err
		}
		order.PaymentStatus = status
		order.UpdatedAt = now
		return nil
	})
	if err = contentionError(err); err != nil {
		return nil, err
	}
	return order, nil
}

func (s *OrderService) load(ctx context.Context, r *repository.Repos, orderID string) (*entity.Order, error) {
	order, err := r.Orders.GetByID(ctx, orderID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, notFoundError("order", orderID)
	}
	if err != nil {
		logger.Error().Err(err).Msgf("Error getting order by ID %s", orderID)
		return nil, err
	}
	return order, nil
}

// transition writes the new status only if nobody moved the order meanwhile.
func (s *OrderService) transition(ctx context.Context, r *repository.Repos, order *entity.Order, from entity.OrderStatus) error {
	err := r.Orders.Transition(ctx, order, from)
	if errors.Is(err, repository.ErrConflict) {
		return stateError(fmt.Sprintf("order is no longer %s", from))
	}
	return err
}

func stampMilestone(o *entity.Order, status entity.OrderStatus, at time.Time) {
	switch status {
	case entity.OrderConfirmed:
		o.ConfirmedAt = &at
	case entity.OrderPreparing:
		o.PreparingAt = &at
	case entity.OrderShipped:
		o.ShippedAt = &at
	case entity.OrderDelivered:
		o.DeliveredAt = &at
	}
}

func appendNote(notes, line string) string {
	if notes == "" {
		return line
	}
	return notes + "\n" + line
}

func actorOr(actor, fallback string) string {
	if actor == "" {
		return fallback
	}
	return actor
}

func endSpan(span trace.Span, err *error) {
	if *err != nil {
		span.RecordError(*err)
		span.SetStatus(codes.Error, (*err).Error())
	}
	span.End()
}
