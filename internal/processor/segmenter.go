package processor

import "time"

// MinFramesBetweenReports is the number of classified frames required
// between two reported transitions.
const MinFramesBetweenReports = 10

// Segmenter debounces per-frame voice classifications into silence and
// voice transitions. Each direction is reported once until the opposite
// transition has been reported.
type Segmenter struct {
	threshold time.Duration

	silent         bool
	silenceStart   time.Time
	frames         int
	reportedSilent bool
}

// NewSegmenter creates a segmenter that reports silence only after it has
// lasted longer than threshold. The initial state is voice.
func NewSegmenter(threshold time.Duration) *Segmenter {
	return &Segmenter{threshold: threshold}
}

// Observe records one classified frame at time now. report is true when a
// transition should be emitted, and silent tells which one.
func (s *Segmenter) Observe(voice bool, now time.Time) (silent bool, report bool) {
	s.frames++

	if !voice {
		if !s.silent {
			s.silent = true
			s.silenceStart = now
		}
		if !s.reportedSilent && s.frames >= MinFramesBetweenReports && now.Sub(s.silenceStart) > s.threshold {
			s.reportedSilent = true
			s.frames = 0
			return true, true
		}
		return false, false
	}

	s.silent = false
	s.silenceStart = time.Time{}
	if s.reportedSilent && s.frames >= MinFramesBetweenReports {
		s.reportedSilent = false
		s.frames = 0
		return false, true
	}
	return false, false
}

// Silent reports the last transition emitted.
func (s *Segmenter) Silent() bool {
	return s.reportedSilent
}
