// Package partitionoffsets keeps a bounded, time-ordered history of
// watermark samples per partition and answers offset/time lag estimates
// against it, guarding its map the way the teacher's SQLiteTimeseriesStore
// guards its own state: a single sync.RWMutex, reads far outnumbering
// writes.
package partitionoffsets

import (
	"sync"
	"time"

	"github.com/kafkesc/kcl-lag-exporter/internal/kafkatypes"
	"github.com/kafkesc/kcl-lag-exporter/internal/kcerrors"
)

// Register holds, per TopicPartition, up to History samples in offset
// order, oldest evicted first.
type Register struct {
	mu      sync.RWMutex
	history int
	samples map[kafkatypes.TopicPartition][]kafkatypes.WatermarkSample
}

// New returns an empty Register retaining up to history samples per
// partition. history must be >= 1.
func New(history int) *Register {
	if history < 1 {
		history = 1
	}
	return &Register{
		history: history,
		samples: make(map[kafkatypes.TopicPartition][]kafkatypes.WatermarkSample),
	}
}

// Append records one watermark observation for tp, evicting the oldest
// sample by insertion order if the partition is already at capacity.
// Samples are expected to arrive in non-decreasing offset order, since
// watermarks never move backward.
func (r *Register) Append(tp kafkatypes.TopicPartition, sample kafkatypes.WatermarkSample) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := r.samples[tp]
	s = append(s, sample)
	if len(s) > r.history {
		s = s[len(s)-r.history:]
	}
	r.samples[tp] = s
}

// GetLatestTrackedOffset returns the most recent sample for tp.
func (r *Register) GetLatestTrackedOffset(tp kafkatypes.TopicPartition) (kafkatypes.WatermarkSample, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s := r.samples[tp]
	if len(s) == 0 {
		return kafkatypes.WatermarkSample{}, kcerrors.ErrNoData
	}
	return s[len(s)-1], nil
}

// EstimateOffsetLag returns max(0, latest.offset - committedOffset).
func (r *Register) EstimateOffsetLag(tp kafkatypes.TopicPartition, committedOffset int64) (int64, error) {
	latest, err := r.GetLatestTrackedOffset(tp)
	if err != nil {
		return 0, err
	}
	lag := latest.Offset - committedOffset
	if lag < 0 {
		lag = 0
	}
	return lag, nil
}

// EstimateTimeLag interpolates the production time of committedOffset from
// the retained history and returns latest.at - estimatedProductionTime.
func (r *Register) EstimateTimeLag(tp kafkatypes.TopicPartition, committedOffset int64, committedTimestamp time.Time) (time.Duration, error) {
	r.mu.RLock()
	s := append([]kafkatypes.WatermarkSample(nil), r.samples[tp]...)
	r.mu.RUnlock()

	if len(s) == 0 {
		return 0, kcerrors.ErrNoData
	}

	latest := s[len(s)-1]
	earliest := s[0]

	if committedOffset >= latest.Offset {
		return 0, nil
	}
	if committedOffset < earliest.Offset {
		return latest.At.Sub(earliest.At), nil
	}

	at := interpolate(s, committedOffset)
	return latest.At.Sub(at), nil
}

// interpolate locates the two samples bracketing offset and linearly
// interpolates the timestamp proportional to offset position within the
// bracket. samples must already be sorted by offset.
func interpolate(samples []kafkatypes.WatermarkSample, offset int64) time.Time {
	lo := samples[0]
	hi := samples[len(samples)-1]

	for i := 0; i < len(samples)-1; i++ {
		if samples[i].Offset <= offset && offset <= samples[i+1].Offset {
			lo, hi = samples[i], samples[i+1]
			break
		}
	}

	if hi.Offset == lo.Offset {
		return lo.At
	}

	frac := float64(offset-lo.Offset) / float64(hi.Offset-lo.Offset)
	delta := hi.At.Sub(lo.At)
	return lo.At.Add(time.Duration(frac * float64(delta)))
}
