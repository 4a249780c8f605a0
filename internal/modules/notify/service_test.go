package notify

import (
	"context"
	"errors"
	"sync"
	"testing"

	"firebase.google.com/go/v4/messaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dispatchd/internal/logger"
	"dispatchd/internal/model"
	"dispatchd/internal/store/memstore"
)

type stubPusher struct {
	mu     sync.Mutex
	tokens []string
	err    error
}

func (p *stubPusher) Push(ctx context.Context, token string, n model.Notification) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tokens = append(p.tokens, token)
	return p.err
}

type stubLedger struct {
	entries []model.LedgerEntry
	err     error
}

func (l *stubLedger) Record(ctx context.Context, e model.LedgerEntry) error {
	l.entries = append(l.entries, e)
	return l.err
}

type stubSender struct {
	last *messaging.Message
	err  error
}

func (s *stubSender) Send(ctx context.Context, m *messaging.Message) (string, error) {
	s.last = m
	return "msg-1", s.err
}

func TestNotifyDriverAppendsAndPushes(t *testing.T) {
	st := memstore.New()
	p := &stubPusher{err: errors.New("unregistered")}
	svc := NewService(st, logger.NopLogger{}, WithPusher(p))

	d := &model.Driver{ID: "d1", FCMToken: "tok"}
	err := svc.NotifyDriver(context.Background(), d, model.Notification{Type: model.NotifyNewAssignment, ReservationID: "r1"})
	require.NoError(t, err, "push failure must not fail the notification")

	recs := st.Records(model.CollectionNotifications)
	require.Len(t, recs, 1)
	n := recs[0].(model.Notification)
	assert.Equal(t, model.AudienceDriver, n.Audience)
	assert.Equal(t, "d1", string(n.DriverID))
	assert.Equal(t, []string{"tok"}, p.tokens)

	require.NoError(t, svc.NotifyDriver(context.Background(), &model.Driver{ID: "d2"}, model.Notification{Type: model.NotifyCreditReceived}))
	assert.Len(t, p.tokens, 1, "no token, no push")
}

func TestNotifyAdminFailureReturned(t *testing.T) {
	st := memstore.New()
	st.FailAppend(model.CollectionNotifications, errors.New("unavailable"))
	svc := NewService(st, logger.NopLogger{})
	assert.Error(t, svc.NotifyAdmin(context.Background(), model.Notification{Type: model.NotifyNoDriverAvailable}))
}

func TestRecordLedgerMirrors(t *testing.T) {
	st := memstore.New()
	l := &stubLedger{err: errors.New("pg down")}
	svc := NewService(st, logger.NopLogger{}, WithLedger(l))

	e := model.LedgerEntry{ReservationID: "r1", DriverID: "d1", Fare: 10000, DriverShare: 7000, PlatformShare: 3000, Success: true}
	require.NoError(t, svc.RecordLedger(context.Background(), e))
	assert.Len(t, st.Records(model.CollectionCreditLogs), 1)
	assert.Len(t, l.entries, 1)
}

func TestRecordError(t *testing.T) {
	st := memstore.New()
	svc := NewService(st, logger.NopLogger{})
	require.NoError(t, svc.RecordError(context.Background(), model.CollectionDispatchErrors, model.ErrorRecord{Operation: "dispatch", Kind: "internal"}))
	assert.Len(t, st.Records(model.CollectionDispatchErrors), 1)
}

func TestFCMPusherBuildsMessage(t *testing.T) {
	sender := &stubSender{}
	p := NewFCMPusher(sender)
	err := p.Push(context.Background(), "tok", model.Notification{
		Type:          model.NotifyCreditReceived,
		ReservationID: "r1",
		Amount:        7000,
		Message:       "7000 XOF credited",
	})
	require.NoError(t, err)
	require.NotNil(t, sender.last)
	assert.Equal(t, "tok", sender.last.Token)
	assert.Equal(t, "r1", sender.last.Data["reservation_id"])
	assert.Equal(t, "7000", sender.last.Data["amount"])
	assert.Equal(t, "Payment received", sender.last.Notification.Title)

	assert.Error(t, p.Push(context.Background(), "", model.Notification{}))
	sender.err = errors.New("quota")
	assert.Error(t, p.Push(context.Background(), "tok", model.Notification{}))
}
