// README: Cloud Firestore implementation of store.Store.
package fsstore

import (
	"context"
	"errors"
	"fmt"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"dispatchd/internal/logger"
	"dispatchd/internal/model"
	"dispatchd/internal/store"
	"dispatchd/internal/types"
)

const (
	collectionReservations = "reservations"
	collectionDrivers      = "drivers"
	collectionSettings     = "settings"
	paramsDocument         = "dispatch"
)

type Store struct {
	client      *firestore.Client
	maxAttempts int
	log         logger.Logger
}

func New(client *firestore.Client, maxAttempts int, log logger.Logger) *Store {
	if maxAttempts <= 0 {
		maxAttempts = firestore.DefaultTransactionMaxAttempts
	}
	if log == nil {
		log = logger.NopLogger{}
	}
	return &Store{client: client, maxAttempts: maxAttempts, log: log}
}

func (s *Store) reservationRef(id types.ID) *firestore.DocumentRef {
	return s.client.Collection(collectionReservations).Doc(string(id))
}

func (s *Store) driverRef(id types.ID) *firestore.DocumentRef {
	return s.client.Collection(collectionDrivers).Doc(string(id))
}

func (s *Store) Reservation(ctx context.Context, id types.ID) (*model.Reservation, error) {
	snap, err := s.reservationRef(id).Get(ctx)
	if err != nil {
		return nil, mapErr(err)
	}
	return decodeReservation(snap)
}

func (s *Store) Driver(ctx context.Context, id types.ID) (*model.Driver, error) {
	snap, err := s.driverRef(id).Get(ctx)
	if err != nil {
		return nil, mapErr(err)
	}
	return decodeDriver(snap)
}

func reservationQuery(col *firestore.CollectionRef, q store.ReservationQuery) firestore.Query {
	query := col.Query
	if q.Status != "" {
		query = query.Where(model.FieldStatus, "==", string(q.Status))
	}
	if q.PaymentValidated != nil {
		query = query.Where(model.FieldPaymentValidated, "==", *q.PaymentValidated)
	}
	if q.DriverCredited != nil {
		query = query.Where(model.FieldDriverCredited, "==", *q.DriverCredited)
	}
	return query
}

func (s *Store) Reservations(ctx context.Context, q store.ReservationQuery) ([]*model.Reservation, error) {
	snaps, err := reservationQuery(s.client.Collection(collectionReservations), q).Documents(ctx).GetAll()
	if err != nil {
		return nil, mapErr(err)
	}
	out := make([]*model.Reservation, 0, len(snaps))
	for _, snap := range snaps {
		r, err := decodeReservation(snap)
		if err != nil {
			s.log.Warnf("skip reservation %s: %v", snap.Ref.ID, err)
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

func (s *Store) Drivers(ctx context.Context, q store.DriverQuery) ([]*model.Driver, error) {
	query := s.client.Collection(collectionDrivers).Query
	if q.Status != "" {
		query = query.Where(model.FieldDriverStatus, "==", string(q.Status))
	}
	snaps, err := query.Documents(ctx).GetAll()
	if err != nil {
		return nil, mapErr(err)
	}
	out := make([]*model.Driver, 0, len(snaps))
	for _, snap := range snaps {
		d, err := decodeDriver(snap)
		if err != nil {
			s.log.Warnf("skip driver %s: %v", snap.Ref.ID, err)
			continue
		}
		out = append(out, d)
	}
	return out, nil
}

func (s *Store) Params(ctx context.Context) (*model.Params, error) {
	snap, err := s.client.Collection(collectionSettings).Doc(paramsDocument).Get(ctx)
	if err != nil {
		return nil, mapErr(err)
	}
	var p model.Params
	if err := snap.DataTo(&p); err != nil {
		return nil, fmt.Errorf("decode params: %w", err)
	}
	return &p, nil
}

func (s *Store) RunTransaction(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	var fnErr error
	err := s.client.RunTransaction(ctx, func(ctx context.Context, t *firestore.Transaction) error {
		fnErr = fn(ctx, &tx{s: s, t: t})
		return fnErr
	}, firestore.MaxAttempts(s.maxAttempts))
	if err == nil {
		return nil
	}
	// Errors from fn come back unchanged; anything else originated in the
	// commit path.
	if fnErr != nil && errors.Is(err, fnErr) {
		return fnErr
	}
	return mapErr(err)
}

func (s *Store) BatchUpdateDrivers(ctx context.Context, updates map[types.ID][]store.Update) error {
	if len(updates) == 0 {
		return nil
	}
	bw := s.client.BulkWriter(ctx)
	jobs := make(map[types.ID]*firestore.BulkWriterJob, len(updates))
	failed := make(map[types.ID]error)
	for id, ups := range updates {
		job, err := bw.Update(s.driverRef(id), toUpdates(ups))
		if err != nil {
			failed[id] = err
			continue
		}
		jobs[id] = job
	}
	bw.End()
	for id, job := range jobs {
		if _, err := job.Results(); err != nil {
			failed[id] = mapErr(err)
		}
	}
	return store.NewBatchError(failed)
}

func (s *Store) Append(ctx context.Context, collection string, record any) error {
	if _, _, err := s.client.Collection(collection).Add(ctx, record); err != nil {
		return fmt.Errorf("append %s: %w", collection, mapErr(err))
	}
	return nil
}

func (s *Store) WatchReservations(ctx context.Context, q store.ReservationQuery, fn func(context.Context, store.ReservationChange)) error {
	it := reservationQuery(s.client.Collection(collectionReservations), q).Snapshots(ctx)
	defer it.Stop()
	for {
		snap, err := it.Next()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, iterator.Done) || status.Code(err) == codes.Canceled {
				return nil
			}
			return mapErr(err)
		}
		for _, ch := range snap.Changes {
			r, err := decodeReservation(ch.Doc)
			if err != nil {
				s.log.Warnf("skip reservation change %s: %v", ch.Doc.Ref.ID, err)
				continue
			}
			fn(ctx, store.ReservationChange{Kind: changeKind(ch.Kind), Reservation: r})
		}
	}
}

func changeKind(k firestore.DocumentChangeKind) store.ChangeKind {
	switch k {
	case firestore.DocumentAdded:
		return store.Added
	case firestore.DocumentModified:
		return store.Modified
	default:
		return store.Removed
	}
}

type tx struct {
	s *Store
	t *firestore.Transaction
}

func (x *tx) Reservation(id types.ID) (*model.Reservation, error) {
	snap, err := x.t.Get(x.s.reservationRef(id))
	if err != nil {
		return nil, mapErr(err)
	}
	return decodeReservation(snap)
}

func (x *tx) Driver(id types.ID) (*model.Driver, error) {
	snap, err := x.t.Get(x.s.driverRef(id))
	if err != nil {
		return nil, mapErr(err)
	}
	return decodeDriver(snap)
}

func (x *tx) UpdateReservation(id types.ID, updates ...store.Update) error {
	return x.t.Update(x.s.reservationRef(id), toUpdates(updates))
}

func (x *tx) UpdateDriver(id types.ID, updates ...store.Update) error {
	return x.t.Update(x.s.driverRef(id), toUpdates(updates))
}

func decodeReservation(snap *firestore.DocumentSnapshot) (*model.Reservation, error) {
	var r model.Reservation
	if err := snap.DataTo(&r); err != nil {
		return nil, fmt.Errorf("decode reservation %s: %w", snap.Ref.ID, err)
	}
	r.ID = types.ID(snap.Ref.ID)
	return &r, nil
}

func decodeDriver(snap *firestore.DocumentSnapshot) (*model.Driver, error) {
	var d model.Driver
	if err := snap.DataTo(&d); err != nil {
		return nil, fmt.Errorf("decode driver %s: %w", snap.Ref.ID, err)
	}
	d.ID = types.ID(snap.Ref.ID)
	return &d, nil
}

func toUpdates(ups []store.Update) []firestore.Update {
	out := make([]firestore.Update, 0, len(ups))
	for _, u := range ups {
		out = append(out, firestore.Update{Path: u.Field, Value: toValue(u.Value)})
	}
	return out
}

func toValue(v any) any {
	switch val := v.(type) {
	case store.Sentinel:
		switch val {
		case store.ServerTimestamp:
			return firestore.ServerTimestamp
		case store.Delete:
			return firestore.Delete
		}
	case store.Increment:
		return firestore.Increment(int64(val))
	case store.ArrayUnion:
		elems := make([]any, 0, len(val))
		for _, e := range val {
			elems = append(elems, toValue(e))
		}
		return firestore.ArrayUnion(elems...)
	case types.ID:
		return string(val)
	case model.ReservationStatus:
		return string(val)
	case model.DriverStatus:
		return string(val)
	}
	return v
}

func mapErr(err error) error {
	switch status.Code(err) {
	case codes.NotFound:
		return fmt.Errorf("%w: %v", store.ErrNotFound, err)
	case codes.Aborted:
		return fmt.Errorf("%w: %v", store.ErrConflict, err)
	}
	return err
}
