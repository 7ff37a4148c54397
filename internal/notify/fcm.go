// README: FCM ride-progress push to the passenger's topic.
package notify

import (
	"context"
	"fmt"
	"strconv"

	"firebase.google.com/go/v4/messaging"

	"ridetrack/internal/modules/tracking"
)

// Messenger is the subset of *messaging.Client used here.
type Messenger interface {
	Send(ctx context.Context, message *messaging.Message) (string, error)
}

// FCM publishes ride progress as data messages on topic passenger_<id>.
type FCM struct {
	client Messenger
}

func NewFCM(client Messenger) *FCM {
	return &FCM{client: client}
}

func (f *FCM) NotifyRideProgress(ctx context.Context, p tracking.Progress) error {
	if p.PassengerID == "" {
		return fmt.Errorf("empty passenger id for ride %s", string(p.RideID))
	}
	if _, err := f.client.Send(ctx, progressMessage(p)); err != nil {
		return fmt.Errorf("fcm send for ride %s: %w", string(p.RideID), err)
	}
	return nil
}

func PassengerTopic(passengerID string) string {
	return "passenger_" + passengerID
}

func progressMessage(p tracking.Progress) *messaging.Message {
	return &messaging.Message{
		Topic: PassengerTopic(string(p.PassengerID)),
		Data: map[string]string{
			"type":                     "ride_progress",
			"ride_id":                  string(p.RideID),
			"driver_id":                string(p.DriverID),
			"latitude":                 strconv.FormatFloat(p.Location.Latitude, 'f', 6, 64),
			"longitude":                strconv.FormatFloat(p.Location.Longitude, 'f', 6, 64),
			"progress_percentage":      strconv.FormatFloat(p.ProgressPercentage, 'f', 1, 64),
			"distance_traveled_meters": strconv.FormatFloat(p.DistanceTraveledMeters, 'f', 0, 64),
			"eta_seconds":              strconv.FormatFloat(p.ETASeconds, 'f', 0, 64),
		},
		Android: &messaging.AndroidConfig{
			Priority: "high",
		},
	}
}
