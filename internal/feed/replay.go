package feed

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/Capstone-Design2/Backend/internal/domain"
)

// Publisher is the bus side the feed sources write into.
type Publisher interface {
	Publish(domain.Tick) error
}

// maxReplayGap bounds the pause for one recorded gap. A recording that
// jumps across a session break replays as a short pause, not a stall.
const maxReplayGap = 10 * time.Second

// Replayer streams recorded wire frames from a file through the
// normalizer, one per line. It gives a deterministic end-to-end run
// with no upstream connection: same parse path, same bus, same engine.
type Replayer struct {
	path  string
	speed float64
	norm  *Normalizer
	out   Publisher
}

// NewReplayer creates a replayer. speed scales the recorded inter-tick
// gaps: 1.0 replays at the recorded cadence, 2.0 twice as fast; a
// non-positive speed replays as fast as the pipeline consumes.
func NewReplayer(path string, speed float64, norm *Normalizer, out Publisher) *Replayer {
	return &Replayer{path: path, speed: speed, norm: norm, out: out}
}

// Run streams every frame and returns when the file is exhausted or the
// context ends. Lines that fail to normalize are skipped and counted by
// the normalizer like any live frame.
func (r *Replayer) Run(ctx context.Context) error {
	f, err := os.Open(r.path)
	if err != nil {
		return fmt.Errorf("open replay file: %w", err)
	}
	defer f.Close()

	slog.Info("Replaying frames", "file", r.path, "speed", r.speed)

	var total, published int
	var prev time.Time
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		total++

		tick, err := r.norm.Normalize(line)
		if err != nil {
			continue
		}

		if r.speed > 0 && !prev.IsZero() {
			wait := time.Duration(float64(tick.EventTime.Sub(prev)) / r.speed)
			if wait > maxReplayGap {
				wait = maxReplayGap
			}
			if wait > 0 {
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-time.After(wait):
				}
			}
		}
		prev = tick.EventTime

		if err := r.out.Publish(tick); err != nil {
			return fmt.Errorf("publish replayed tick: %w", err)
		}
		published++
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("read replay file: %w", err)
	}

	slog.Info("Replay finished", "frames", total, "published", published)
	return nil
}
