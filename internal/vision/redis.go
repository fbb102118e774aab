package vision

import (
	"context"
	"errors"
	"fmt"
	"image"
	"math"
	"sync"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/banshee-data/picar.autonav/internal/monitoring"
	"github.com/banshee-data/picar.autonav/internal/timeutil"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// DefaultSnapshotKey is the key an external detector publishes to.
const DefaultSnapshotKey = "picar:detections"

// RedisOptions configures a RedisSensor.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	Key      string
	// MaxAge is how old a published snapshot may be before the frame is
	// treated as unavailable.
	MaxAge time.Duration
}

// wireSnapshot is the JSON document an external detector writes.
type wireSnapshot struct {
	Width      int             `json:"width"`
	Height     int             `json:"height"`
	Normalized bool            `json:"normalized"`
	Taken      time.Time       `json:"taken"`
	Detections []wireDetection `json:"detections"`
}

type wireDetection struct {
	Label      string    `json:"label"`
	Box        []float64 `json:"box"` // x_min, y_min, x_max, y_max
	Confidence float64   `json:"confidence"`
}

// RedisSensor reads detection snapshots published to a Redis key by a
// detector running outside this process.
type RedisSensor struct {
	opts  RedisOptions
	clock timeutil.Clock
	log   logrus.FieldLogger

	mu     sync.Mutex
	client *redis.Client
	width  int
	height int
	// untimed is set once an untimestamped snapshot has been reported.
	untimed bool
}

// NewRedisSensor returns a sensor for opts. The connection is made by Open.
func NewRedisSensor(opts RedisOptions) *RedisSensor {
	if opts.Key == "" {
		opts.Key = DefaultSnapshotKey
	}
	if opts.MaxAge <= 0 {
		opts.MaxAge = time.Second
	}
	return &RedisSensor{
		opts:  opts,
		clock: timeutil.RealClock{},
		log:   monitoring.Component("vision"),
	}
}

// SetClock replaces the clock used for staleness checks.
func (s *RedisSensor) SetClock(c timeutil.Clock) { s.clock = c }

// SetLogger replaces the sensor's logger.
func (s *RedisSensor) SetLogger(l logrus.FieldLogger) { s.log = l }

// Open connects to Redis and checks the server answers.
func (s *RedisSensor) Open() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.client == nil {
		s.client = redis.NewClient(&redis.Options{
			Addr:     s.opts.Addr,
			Password: s.opts.Password,
			DB:       s.opts.DB,
		})
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.client.Ping(ctx).Err(); err != nil {
		_ = s.client.Close()
		s.client = nil
		return fmt.Errorf("connect to redis at %s: %w", s.opts.Addr, err)
	}
	s.log.WithField("addr", s.opts.Addr).Info("connected to detection feed")
	return nil
}

// Sense fetches the newest snapshot.
func (s *RedisSensor) Sense(ctx context.Context) (Snapshot, error) {
	s.mu.Lock()
	client := s.client
	s.mu.Unlock()
	if client == nil {
		return Snapshot{}, fmt.Errorf("redis sensor not open: %w", ErrFrameUnavailable)
	}

	raw, err := client.Get(ctx, s.opts.Key).Bytes()
	if errors.Is(err, redis.Nil) {
		return s.emptySnapshot(), nil
	} else if err != nil {
		if ctx.Err() != nil {
			return Snapshot{}, ctx.Err()
		}
		s.log.WithError(err).Warn("detection feed read failed")
		return s.emptySnapshot(), nil
	}

	snap, err := DecodeSnapshot(raw)
	if err != nil {
		return Snapshot{}, fmt.Errorf("%w: %v", ErrFrameUnavailable, err)
	}
	if snap.Taken.IsZero() {
		s.warnUntimed()
		return Snapshot{}, fmt.Errorf("%w: snapshot has no taken time", ErrFrameUnavailable)
	}
	if age := s.clock.Since(snap.Taken); age > s.opts.MaxAge {
		return Snapshot{}, fmt.Errorf("%w: snapshot is %s old", ErrFrameUnavailable, age.Round(time.Millisecond))
	}

	s.mu.Lock()
	s.width, s.height = snap.Width, snap.Height
	s.mu.Unlock()
	return snap, nil
}

// warnUntimed logs the first snapshot published without a taken time. Every
// such snapshot is unavailable, so the robot will not move on this feed.
func (s *RedisSensor) warnUntimed() {
	s.mu.Lock()
	first := !s.untimed
	s.untimed = true
	s.mu.Unlock()
	if first {
		s.log.WithField("key", s.opts.Key).Warn("detection feed publishes snapshots without a taken time; frames are treated as unavailable")
	}
}

// emptySnapshot keeps the last known frame size so the evaluator still has
// valid dimensions.
func (s *RedisSensor) emptySnapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{Width: s.width, Height: s.height, Taken: s.clock.Now()}
}

// Close releases the Redis connection. It is safe to call more than once.
func (s *RedisSensor) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.client == nil {
		return nil
	}
	err := s.client.Close()
	s.client = nil
	return err
}

// DecodeSnapshot parses a published snapshot. Normalised boxes are scaled to
// pixels. Boxes without exactly four coordinates decode to the zero
// rectangle and are ignored downstream.
func DecodeSnapshot(raw []byte) (Snapshot, error) {
	var w wireSnapshot
	if err := json.Unmarshal(raw, &w); err != nil {
		return Snapshot{}, fmt.Errorf("decode snapshot: %w", err)
	}
	if w.Width <= 0 || w.Height <= 0 {
		return Snapshot{}, fmt.Errorf("snapshot has invalid frame size %dx%d", w.Width, w.Height)
	}

	sx, sy := 1.0, 1.0
	if w.Normalized {
		sx, sy = float64(w.Width), float64(w.Height)
	}

	snap := Snapshot{Width: w.Width, Height: w.Height, Taken: w.Taken}
	for _, d := range w.Detections {
		det := Detection{Label: d.Label, Confidence: d.Confidence}
		if len(d.Box) == 4 {
			det.Box = image.Rectangle{
				Min: image.Pt(int(math.Round(d.Box[0]*sx)), int(math.Round(d.Box[1]*sy))),
				Max: image.Pt(int(math.Round(d.Box[2]*sx)), int(math.Round(d.Box[3]*sy))),
			}
		}
		snap.Detections = append(snap.Detections, det)
	}
	return snap, nil
}

// EncodeSnapshot produces the document DecodeSnapshot reads, in pixels.
func EncodeSnapshot(s Snapshot) ([]byte, error) {
	w := wireSnapshot{Width: s.Width, Height: s.Height, Taken: s.Taken}
	for _, d := range s.Detections {
		w.Detections = append(w.Detections, wireDetection{
			Label:      d.Label,
			Confidence: d.Confidence,
			Box: []float64{
				float64(d.Box.Min.X), float64(d.Box.Min.Y),
				float64(d.Box.Max.X), float64(d.Box.Max.Y),
			},
		})
	}
	return json.Marshal(w)
}
