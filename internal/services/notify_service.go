package services

import (
	"context"
	"fmt"
	"log/slog"

	"curevo/utils"

	pubnub "github.com/pubnub/go"
)

// NotifyService publishes queue-state changes over PubNub. Delivery is
// best-effort, at most once: clients poll the position endpoint as the
// source of truth when a push is missed. A nil service (tests, missing
// keys) silently drops everything.
type NotifyService struct {
	pubnub  *pubnub.PubNub
	breaker *utils.CircuitBreaker
}

func NewNotifyService(pn *pubnub.PubNub) *NotifyService {
	return &NotifyService{
		pubnub:  pn,
		breaker: utils.NewCircuitBreaker("pubnub"),
	}
}

func appointmentChannel(appointmentID string) string {
	return fmt.Sprintf("appointment-%s", appointmentID)
}

func clinicChannel(clinicID string) string {
	return fmt.Sprintf("clinic-%s", clinicID)
}

// YourTurn tells a single patient they are being called.
func (n *NotifyService) YourTurn(appointmentID string, tokenNumber int64) {
	n.publish(appointmentChannel(appointmentID), map[string]any{
		"type":         "your-turn",
		"token_number": tokenNumber,
	})
}

// PositionUpdate refreshes a waiting patient's place in line.
func (n *NotifyService) PositionUpdate(appointmentID string, position, patientsAhead, estimatedWaitMinutes int) {
	n.publish(appointmentChannel(appointmentID), map[string]any{
		"type":                   "position-update",
		"position":               position,
		"patients_ahead":         patientsAhead,
		"estimated_wait_minutes": estimatedWaitMinutes,
	})
}

// QueueUpdate feeds the clinic board displays.
func (n *NotifyService) QueueUpdate(clinicID, doctorID string, currentToken int64, waitingCount int) {
	n.publish(clinicChannel(clinicID), map[string]any{
		"type":          "queue-update",
		"doctor_id":     doctorID,
		"current_token": currentToken,
		"waiting_count": waitingCount,
	})
}

func (n *NotifyService) publish(channel string, message map[string]any) {
	if n == nil || n.pubnub == nil {
		return
	}

	// Fire-and-forget: never block a queue mutation on the push channel.
	go func() {
		_, err := n.breaker.Execute(context.Background(), func() (interface{}, error) {
			_, _, err := n.pubnub.Publish().
				Channel(channel).
				Message(message).
				Execute()
			return nil, err
		})
		if err != nil {
			slog.Warn("pubnub publish dropped", "channel", channel, "error", err)
		}
	}()
}
