// README: FCM push delivery for driver notifications.
package notify

import (
	"context"
	"fmt"
	"strconv"

	"firebase.google.com/go/v4/messaging"

	"dispatchd/internal/model"
)

// MessageSender is the subset of *messaging.Client used for delivery.
type MessageSender interface {
	Send(ctx context.Context, message *messaging.Message) (string, error)
}

type FCMPusher struct {
	client MessageSender
}

func NewFCMPusher(client MessageSender) *FCMPusher {
	return &FCMPusher{client: client}
}

func (p *FCMPusher) Push(ctx context.Context, token string, n model.Notification) error {
	if token == "" {
		return fmt.Errorf("empty device token for %s", n.Type)
	}
	if _, err := p.client.Send(ctx, buildMessage(token, n)); err != nil {
		return fmt.Errorf("sending FCM %s: %w", n.Type, err)
	}
	return nil
}

func buildMessage(token string, n model.Notification) *messaging.Message {
	data := map[string]string{"type": n.Type}
	if n.ReservationID != "" {
		data["reservation_id"] = string(n.ReservationID)
	}
	if n.Amount != 0 {
		data["amount"] = strconv.FormatInt(n.Amount, 10)
	}
	for k, v := range n.Data {
		data[k] = fmt.Sprint(v)
	}
	return &messaging.Message{
		Token: token,
		Data:  data,
		Notification: &messaging.Notification{
			Title: title(n.Type),
			Body:  n.Message,
		},
		Android: &messaging.AndroidConfig{
			Priority: "high",
		},
	}
}

func title(kind string) string {
	switch kind {
	case model.NotifyNewAssignment:
		return "New ride assigned"
	case model.NotifyAssignmentExpired:
		return "Assignment expired"
	case model.NotifyReservationCancelled:
		return "Ride cancelled"
	case model.NotifyCreditReceived:
		return "Payment received"
	}
	return "Dispatch update"
}
