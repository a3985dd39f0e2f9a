package logging

// ProgressSampler thins out progress logging for long transfers and capture
// loops. It emits on the first observation, whenever the completed share
// enters a new bucket, and once more on completion.
type ProgressSampler struct {
	bucketSize float64
	lastBucket int
	finished   bool
}

// NewProgressSampler constructs a sampler with buckets of bucketSize percent
// (default 10).
func NewProgressSampler(bucketSize float64) *ProgressSampler {
	if bucketSize <= 0 || bucketSize > 100 {
		bucketSize = 10
	}
	return &ProgressSampler{bucketSize: bucketSize, lastBucket: -1}
}

// Observe records done out of total units and returns the completed percent
// and whether this update deserves a log line. A non-positive total never
// emits. A nil sampler emits every update.
func (s *ProgressSampler) Observe(done, total int64) (float64, bool) {
	if total <= 0 {
		return 0, false
	}
	done = min(max(done, 0), total)
	percent := float64(done) / float64(total) * 100
	if s == nil {
		return percent, true
	}
	if done == total {
		if s.finished {
			return percent, false
		}
		s.finished = true
		return percent, true
	}
	bucket := int(percent / s.bucketSize)
	if bucket <= s.lastBucket {
		return percent, false
	}
	s.lastBucket = bucket
	return percent, true
}
