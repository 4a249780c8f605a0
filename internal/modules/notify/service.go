// README: Notification, ledger and error-record sink. Failures are logged and returned, never fatal.
package notify

import (
	"context"
	"fmt"

	"dispatchd/internal/logger"
	"dispatchd/internal/model"
	"dispatchd/internal/store"
)

// Pusher delivers a device push for a driver notification.
type Pusher interface {
	Push(ctx context.Context, token string, n model.Notification) error
}

// Ledger mirrors successful credits outside Firestore.
type Ledger interface {
	Record(ctx context.Context, e model.LedgerEntry) error
}

type Service struct {
	store  store.Store
	pusher Pusher
	ledger Ledger
	log    logger.Logger
}

type Option func(*Service)

func WithPusher(p Pusher) Option { return func(s *Service) { s.pusher = p } }

func WithLedger(l Ledger) Option { return func(s *Service) { s.ledger = l } }

func NewService(st store.Store, log logger.Logger, opts ...Option) *Service {
	s := &Service{store: st, log: log}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NotifyDriver appends a driver notification and pushes it to the driver's
// device when a token is known. Push failures are logged only.
func (s *Service) NotifyDriver(ctx context.Context, d *model.Driver, n model.Notification) error {
	n.Audience = model.AudienceDriver
	n.DriverID = d.ID
	if err := s.store.Append(ctx, model.CollectionNotifications, n); err != nil {
		s.log.Errorf("notify driver %s (%s): %v", d.ID, n.Type, err)
		return err
	}
	if s.pusher != nil && d.FCMToken != "" {
		if err := s.pusher.Push(ctx, d.FCMToken, n); err != nil {
			s.log.Warnf("push to driver %s (%s): %v", d.ID, n.Type, err)
		}
	}
	return nil
}

func (s *Service) NotifyAdmin(ctx context.Context, n model.Notification) error {
	n.Audience = model.AudienceAdmin
	if err := s.store.Append(ctx, model.CollectionNotifications, n); err != nil {
		s.log.Errorf("notify admin (%s): %v", n.Type, err)
		return err
	}
	return nil
}

// RecordLedger appends to credit_logs, then mirrors to the external ledger.
func (s *Service) RecordLedger(ctx context.Context, e model.LedgerEntry) error {
	if err := s.store.Append(ctx, model.CollectionCreditLogs, e); err != nil {
		s.log.Errorf("ledger entry for %s: %v", e.ReservationID, err)
		return err
	}
	if s.ledger != nil {
		if err := s.ledger.Record(ctx, e); err != nil {
			s.log.Warnf("ledger mirror for %s: %v", e.ReservationID, err)
		}
	}
	return nil
}

// RecordError appends rec to collection (credit_errors or dispatch_errors).
func (s *Service) RecordError(ctx context.Context, collection string, rec model.ErrorRecord) error {
	if err := s.store.Append(ctx, collection, rec); err != nil {
		s.log.Errorf("record %s error for %s: %v", rec.Operation, rec.ReservationID, err)
		return fmt.Errorf("record error: %w", err)
	}
	return nil
}
