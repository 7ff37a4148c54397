package tracking

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"ridetrack/internal/types"
)

const (
	driverGeoKey     = "tracking:drivers:geo"
	driverSeenKey    = "tracking:drivers:seen"
	driverKeyPrefix  = "tracking:driver:%s"
	historyKeyPrefix = "tracking:history:%s"
	rideKeyPrefix    = "tracking:ride:%s"
	alertLogKey      = "tracking:alerts"
	geofencesKey     = "tracking:geofences"

	// Redis GEO rejects latitudes beyond the Web Mercator limit.
	maxGeoLatitude = 85.05112878
)

// pruneIndexScript removes members last seen at or before ARGV[1] from both
// the GEO set (KEYS[1]) and the last-seen set (KEYS[2]) in one step, so a
// concurrent update cannot lose its index entry.
var pruneIndexScript = redis.NewScript(`
local stale = redis.call("ZRANGEBYSCORE", KEYS[2], "-inf", ARGV[1])
for _, id in ipairs(stale) do
	redis.call("ZREM", KEYS[1], id)
end
redis.call("ZREMRANGEBYSCORE", KEYS[2], "-inf", ARGV[1])
return #stale
`)

// RedisStore keeps driver and ride records as hashes, location history as
// capped lists and positions in a single GEO sorted set.
type RedisStore struct {
	redis *redis.Client
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{redis: client}
}

func (s *RedisStore) PutDriver(ctx context.Context, d *DriverTrackingState, ttl time.Duration) error {
	_, err := s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		writeDriver(ctx, pipe, d, ttl)
		// Refresh the last-seen score only for drivers still indexed.
		pipe.ZAddXX(ctx, driverSeenKey, redis.Z{Score: seenScore(d), Member: string(d.DriverID)})
		return nil
	})
	if err != nil {
		return storeErr("put driver", err)
	}
	return nil
}

func (s *RedisStore) GetDriver(ctx context.Context, id types.ID) (*DriverTrackingState, error) {
	fields, err := s.redis.HGetAll(ctx, driverKey(id)).Result()
	if err != nil {
		return nil, storeErr("get driver", err)
	}
	if len(fields) == 0 {
		return nil, ErrDriverNotTracked
	}
	d, err := driverFromHash(fields)
	if err != nil {
		return nil, storeErr("decode driver", err)
	}
	return d, nil
}

func (s *RedisStore) GetDrivers(ctx context.Context, ids []types.ID) ([]*DriverTrackingState, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	cmds := make([]*redis.MapStringStringCmd, len(ids))
	_, err := s.redis.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, id := range ids {
			cmds[i] = pipe.HGetAll(ctx, driverKey(id))
		}
		return nil
	})
	if err != nil {
		return nil, storeErr("get drivers", err)
	}
	out := make([]*DriverTrackingState, len(ids))
	for i, cmd := range cmds {
		fields := cmd.Val()
		if len(fields) == 0 {
			continue
		}
		d, err := driverFromHash(fields)
		if err != nil {
			return nil, storeErr("decode driver", err)
		}
		out[i] = d
	}
	return out, nil
}

func (s *RedisStore) RecordLocation(ctx context.Context, d *DriverTrackingState, sample LocationSample, historyCap int, ttl time.Duration) error {
	encoded, err := json.Marshal(sample)
	if err != nil {
		return fmt.Errorf("encoding location sample: %w", err)
	}
	hk := historyKey(d.DriverID)
	_, err = s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		writeDriver(ctx, pipe, d, ttl)
		pipe.LPush(ctx, hk, encoded)
		pipe.LTrim(ctx, hk, 0, int64(historyCap-1))
		pipe.Expire(ctx, hk, ttl)
		pipe.GeoAdd(ctx, driverGeoKey, &redis.GeoLocation{
			Name:      string(d.DriverID),
			Longitude: sample.Longitude,
			Latitude:  math.Max(-maxGeoLatitude, math.Min(maxGeoLatitude, sample.Latitude)),
		})
		pipe.ZAdd(ctx, driverSeenKey, redis.Z{Score: seenScore(d), Member: string(d.DriverID)})
		return nil
	})
	if err != nil {
		return storeErr("record location", err)
	}
	return nil
}

func (s *RedisStore) RemoveFromIndex(ctx context.Context, id types.ID) error {
	_, err := s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZRem(ctx, driverGeoKey, string(id))
		pipe.ZRem(ctx, driverSeenKey, string(id))
		return nil
	})
	if err != nil {
		return storeErr("remove from index", err)
	}
	return nil
}

func (s *RedisStore) PruneIndex(ctx context.Context, cutoff time.Time) (int64, error) {
	n, err := pruneIndexScript.Run(ctx, s.redis, []string{driverGeoKey, driverSeenKey}, cutoff.UnixMilli()).Int64()
	if err != nil {
		return 0, storeErr("prune index", err)
	}
	return n, nil
}

func (s *RedisStore) History(ctx context.Context, id types.ID, limit int) ([]LocationSample, error) {
	if limit <= 0 {
		return nil, nil
	}
	raw, err := s.redis.LRange(ctx, historyKey(id), 0, int64(limit-1)).Result()
	if err != nil {
		return nil, storeErr("history", err)
	}
	out := make([]LocationSample, 0, len(raw))
	for _, item := range raw {
		var sample LocationSample
		if err := json.Unmarshal([]byte(item), &sample); err != nil {
			return nil, storeErr("decode history", err)
		}
		out = append(out, sample)
	}
	return out, nil
}

func (s *RedisStore) Nearby(ctx context.Context, p types.Point, radiusKm float64, limit int) ([]GeoHit, error) {
	results, err := s.redis.GeoSearchLocation(ctx, driverGeoKey, &redis.GeoSearchLocationQuery{
		GeoSearchQuery: redis.GeoSearchQuery{
			Longitude:  p.Lng,
			Latitude:   p.Lat,
			Radius:     radiusKm,
			RadiusUnit: "km",
			Sort:       "ASC",
			Count:      limit,
		},
		WithCoord: true,
		WithDist:  true,
	}).Result()
	if err != nil {
		return nil, storeErr("geo search radius", err)
	}
	return toGeoHits(results), nil
}

func (s *RedisStore) InBox(ctx context.Context, p types.Point, widthKm, heightKm float64) ([]GeoHit, error) {
	results, err := s.redis.GeoSearchLocation(ctx, driverGeoKey, &redis.GeoSearchLocationQuery{
		GeoSearchQuery: redis.GeoSearchQuery{
			Longitude: p.Lng,
			Latitude:  p.Lat,
			BoxWidth:  widthKm,
			BoxHeight: heightKm,
			BoxUnit:   "km",
			Sort:      "ASC",
		},
		WithCoord: true,
		WithDist:  true,
	}).Result()
	if err != nil {
		return nil, storeErr("geo search box", err)
	}
	return toGeoHits(results), nil
}

func (s *RedisStore) IndexedCount(ctx context.Context) (int64, error) {
	n, err := s.redis.ZCard(ctx, driverGeoKey).Result()
	if err != nil {
		return 0, storeErr("index count", err)
	}
	return n, nil
}

func (s *RedisStore) PutRide(ctx context.Context, r *RideTrackingState, ttl time.Duration) error {
	fields, err := rideToHash(r)
	if err != nil {
		return fmt.Errorf("encoding ride tracking: %w", err)
	}
	key := rideKey(r.RideID)
	_, err = s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, fields)
		if r.CurrentLocation == nil {
			pipe.HDel(ctx, key, "current_location")
		}
		if r.EndedAt == nil {
			pipe.HDel(ctx, key, "ended_at")
		}
		pipe.Expire(ctx, key, ttl)
		return nil
	})
	if err != nil {
		return storeErr("put ride", err)
	}
	return nil
}

func (s *RedisStore) GetRide(ctx context.Context, id types.ID) (*RideTrackingState, error) {
	fields, err := s.redis.HGetAll(ctx, rideKey(id)).Result()
	if err != nil {
		return nil, storeErr("get ride", err)
	}
	if len(fields) == 0 {
		return nil, ErrRideTrackingNotFound
	}
	r, err := rideFromHash(fields)
	if err != nil {
		return nil, storeErr("decode ride", err)
	}
	return r, nil
}

func (s *RedisStore) AppendAlert(ctx context.Context, a TrackingAlert, logCap int) error {
	encoded, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("encoding alert: %w", err)
	}
	_, err = s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LPush(ctx, alertLogKey, encoded)
		pipe.LTrim(ctx, alertLogKey, 0, int64(logCap-1))
		return nil
	})
	if err != nil {
		return storeErr("append alert", err)
	}
	return nil
}

func (s *RedisStore) RecentAlerts(ctx context.Context, limit int) ([]TrackingAlert, error) {
	if limit <= 0 {
		return nil, nil
	}
	raw, err := s.redis.LRange(ctx, alertLogKey, 0, int64(limit-1)).Result()
	if err != nil {
		return nil, storeErr("recent alerts", err)
	}
	out := make([]TrackingAlert, 0, len(raw))
	for _, item := range raw {
		var a TrackingAlert
		if err := json.Unmarshal([]byte(item), &a); err != nil {
			return nil, storeErr("decode alert", err)
		}
		out = append(out, a)
	}
	return out, nil
}

func (s *RedisStore) PutGeofence(ctx context.Context, g Geofence) error {
	encoded, err := json.Marshal(g)
	if err != nil {
		return fmt.Errorf("encoding geofence: %w", err)
	}
	if err := s.redis.HSet(ctx, geofencesKey, g.Name, encoded).Err(); err != nil {
		return storeErr("put geofence", err)
	}
	return nil
}

func (s *RedisStore) DeleteGeofence(ctx context.Context, name string) (bool, error) {
	n, err := s.redis.HDel(ctx, geofencesKey, name).Result()
	if err != nil {
		return false, storeErr("delete geofence", err)
	}
	return n > 0, nil
}

func (s *RedisStore) ListGeofences(ctx context.Context) ([]Geofence, error) {
	raw, err := s.redis.HGetAll(ctx, geofencesKey).Result()
	if err != nil {
		return nil, storeErr("list geofences", err)
	}
	out := make([]Geofence, 0, len(raw))
	for _, item := range raw {
		var g Geofence
		if err := json.Unmarshal([]byte(item), &g); err != nil {
			return nil, storeErr("decode geofence", err)
		}
		out = append(out, g)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func writeDriver(ctx context.Context, pipe redis.Pipeliner, d *DriverTrackingState, ttl time.Duration) {
	key := driverKey(d.DriverID)
	pipe.HSet(ctx, key, driverToHash(d))
	if d.CurrentRideID == "" {
		pipe.HDel(ctx, key, "current_ride_id")
	}
	if d.CurrentLocation == nil {
		pipe.HDel(ctx, key, "current_location")
	}
	pipe.Expire(ctx, key, ttl)
}

func driverToHash(d *DriverTrackingState) map[string]any {
	fields := map[string]any{
		"driver_id":            string(d.DriverID),
		"status":               string(d.Status),
		"is_online":            strconv.FormatBool(d.IsOnline),
		"last_speed_update_at": formatTime(d.LastSpeedUpdateAt),
		"last_idle_alert_at":   formatTime(d.LastIdleAlertAt),
		"started_at":           formatTime(d.StartedAt),
		"updated_at":           formatTime(d.UpdatedAt),
	}
	if d.CurrentRideID != "" {
		fields["current_ride_id"] = string(d.CurrentRideID)
	}
	if d.CurrentLocation != nil {
		// LocationSample only holds floats and a time; Marshal cannot fail.
		loc, _ := json.Marshal(d.CurrentLocation)
		fields["current_location"] = string(loc)
	}
	return fields
}

func driverFromHash(fields map[string]string) (*DriverTrackingState, error) {
	d := &DriverTrackingState{
		DriverID:      types.ID(fields["driver_id"]),
		Status:        DriverStatus(fields["status"]),
		IsOnline:      fields["is_online"] == "true",
		CurrentRideID: types.ID(fields["current_ride_id"]),
	}
	var err error
	if d.LastSpeedUpdateAt, err = parseTime(fields["last_speed_update_at"]); err != nil {
		return nil, err
	}
	if d.LastIdleAlertAt, err = parseTime(fields["last_idle_alert_at"]); err != nil {
		return nil, err
	}
	if d.StartedAt, err = parseTime(fields["started_at"]); err != nil {
		return nil, err
	}
	if d.UpdatedAt, err = parseTime(fields["updated_at"]); err != nil {
		return nil, err
	}
	if raw := fields["current_location"]; raw != "" {
		var loc LocationSample
		if err := json.Unmarshal([]byte(raw), &loc); err != nil {
			return nil, fmt.Errorf("current_location: %w", err)
		}
		d.CurrentLocation = &loc
	}
	return d, nil
}

func rideToHash(r *RideTrackingState) (map[string]any, error) {
	route, err := json.Marshal(r.Route)
	if err != nil {
		return nil, err
	}
	fields := map[string]any{
		"ride_id":                  string(r.RideID),
		"driver_id":                string(r.DriverID),
		"passenger_id":             string(r.PassengerID),
		"status":                   string(r.Status),
		"route":                    string(route),
		"progress_percentage":      strconv.FormatFloat(r.ProgressPercentage, 'f', -1, 64),
		"distance_traveled_meters": strconv.FormatFloat(r.DistanceTraveledMeters, 'f', -1, 64),
		"eta_seconds":              strconv.FormatFloat(r.ETASeconds, 'f', -1, 64),
		"started_at":               formatTime(r.StartedAt),
		"updated_at":               formatTime(r.UpdatedAt),
	}
	if r.CurrentLocation != nil {
		loc, err := json.Marshal(r.CurrentLocation)
		if err != nil {
			return nil, err
		}
		fields["current_location"] = string(loc)
	}
	if r.EndedAt != nil {
		fields["ended_at"] = formatTime(*r.EndedAt)
	}
	return fields, nil
}

func rideFromHash(fields map[string]string) (*RideTrackingState, error) {
	r := &RideTrackingState{
		RideID:      types.ID(fields["ride_id"]),
		DriverID:    types.ID(fields["driver_id"]),
		PassengerID: types.ID(fields["passenger_id"]),
		Status:      RideStatus(fields["status"]),
	}
	if err := json.Unmarshal([]byte(fields["route"]), &r.Route); err != nil {
		return nil, fmt.Errorf("route: %w", err)
	}
	var err error
	if r.ProgressPercentage, err = parseFloat(fields["progress_percentage"]); err != nil {
		return nil, err
	}
	if r.DistanceTraveledMeters, err = parseFloat(fields["distance_traveled_meters"]); err != nil {
		return nil, err
	}
	if r.ETASeconds, err = parseFloat(fields["eta_seconds"]); err != nil {
		return nil, err
	}
	if r.StartedAt, err = parseTime(fields["started_at"]); err != nil {
		return nil, err
	}
	if r.UpdatedAt, err = parseTime(fields["updated_at"]); err != nil {
		return nil, err
	}
	if raw := fields["current_location"]; raw != "" {
		var loc LocationSample
		if err := json.Unmarshal([]byte(raw), &loc); err != nil {
			return nil, fmt.Errorf("current_location: %w", err)
		}
		r.CurrentLocation = &loc
	}
	if raw := fields["ended_at"]; raw != "" {
		t, err := parseTime(raw)
		if err != nil {
			return nil, err
		}
		r.EndedAt = &t
	}
	return r, nil
}

func toGeoHits(results []redis.GeoLocation) []GeoHit {
	hits := make([]GeoHit, 0, len(results))
	for _, r := range results {
		hits = append(hits, GeoHit{
			DriverID:   types.ID(r.Name),
			DistanceKm: r.Dist,
			Position:   types.Point{Lat: r.Latitude, Lng: r.Longitude},
		})
	}
	return hits
}

func seenScore(d *DriverTrackingState) float64 {
	return float64(d.UpdatedAt.UnixMilli())
}

func storeErr(op string, err error) error {
	if errors.Is(err, ErrStoreUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %s: %v", ErrStoreUnavailable, op, err)
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(v string) (time.Time, error) {
	if v == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339Nano, v)
}

func parseFloat(v string) (float64, error) {
	if v == "" {
		return 0, nil
	}
	return strconv.ParseFloat(v, 64)
}

func driverKey(id types.ID) string {
	return fmt.Sprintf(driverKeyPrefix, string(id))
}

func historyKey(id types.ID) string {
	return fmt.Sprintf(historyKeyPrefix, string(id))
}

func rideKey(id types.ID) string {
	return fmt.Sprintf(rideKeyPrefix, string(id))
}
