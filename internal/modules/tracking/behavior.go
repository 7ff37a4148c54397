// README: Driver behavior analysis over the retained location history. Read-only.
package tracking

import (
	"context"
	"math"

	"ridetrack/internal/types"
)

const (
	hardEventThreshold = 5.0 // m/s²
	speedingWeight     = 5.0
	brakingWeight      = 3.0
	accelerationWeight = 2.0
)

// AnalyzeDriverBehavior scores the driver from up to historyLimit recent
// samples. Speeds are derived from consecutive positions, not from the
// reported speed.
func (s *Service) AnalyzeDriverBehavior(ctx context.Context, driverID types.ID, historyLimit int) (*BehaviorReport, error) {
	samples, err := s.GetLocationHistory(ctx, driverID, historyLimit)
	if err != nil {
		return nil, err
	}
	if len(samples) < s.cfg.MinBehaviorData {
		return nil, ErrInsufficientData
	}
	r := analyzeSamples(samples, s.cfg.SpeedLimitKmh)
	r.DriverID = driverID
	r.AnalyzedAt = s.now()
	return r, nil
}

// analyzeSamples expects samples newest first, as stored.
func analyzeSamples(samples []LocationSample, speedLimitKmh float64) *BehaviorReport {
	r := &BehaviorReport{SampleCount: len(samples)}

	var (
		totalMeters  float64
		totalSeconds float64
		prevSpeed    float64 // m/s
		havePrev     bool
	)
	for i := len(samples) - 1; i > 0; i-- {
		from, to := samples[i], samples[i-1]
		dt := to.Timestamp.Sub(from.Timestamp).Seconds()
		if dt <= 0 {
			continue
		}
		meters := haversineMeters(from.Point(), to.Point())
		speed := meters / dt
		kmh := speed * 3.6

		totalMeters += meters
		totalSeconds += dt
		if kmh > r.MaxSpeedKmh {
			r.MaxSpeedKmh = kmh
		}
		if kmh > speedLimitKmh {
			r.SpeedingEvents++
		}
		if havePrev {
			accel := (speed - prevSpeed) / dt
			switch {
			case accel > hardEventThreshold:
				r.HardAccelerationEvents++
			case accel < -hardEventThreshold:
				r.HardBrakingEvents++
			}
		}
		prevSpeed = speed
		havePrev = true
	}

	r.TotalDistanceKm = totalMeters / 1000
	r.TotalDurationSeconds = totalSeconds
	if totalSeconds > 0 {
		r.AverageSpeedKmh = totalMeters / totalSeconds * 3.6
	}
	r.SafetyScore = safetyScore(r.SpeedingEvents, r.HardBrakingEvents, r.HardAccelerationEvents, totalSeconds/3600)
	return r
}

// safetyScore is 100 minus weighted per-hour event rates, floored at 0.
func safetyScore(speeding, braking, accel int, hours float64) int {
	if hours <= 0 {
		return 100
	}
	score := 100 -
		float64(speeding)/hours*speedingWeight -
		float64(braking)/hours*brakingWeight -
		float64(accel)/hours*accelerationWeight
	return int(math.Round(math.Max(0, score)))
}
