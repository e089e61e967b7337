// Package capability reports whether the environment can recognize and
// synthesize speech. Components that depend on either stay inert without it.
package capability

import "sync"

// Report is the result of one probe.
type Report struct {
	CanRecognizeSpeech  bool `json:"canRecognizeSpeech"`
	CanSynthesizeSpeech bool `json:"canSynthesizeSpeech"`
}

// Probe is queried at engine start and on every (re)initialisation.
type Probe interface {
	Probe() Report
}

// Availability is implemented by providers that can tell whether they work in
// the current environment.
type Availability interface {
	IsAvailable() bool
}

// Detector builds a Report from the configured recognizer and voice.
type Detector struct {
	Recognizer Availability
	Voice      Availability
}

// Probe checks both providers on every call; nothing is cached.
func (d Detector) Probe() Report {
	return Report{
		CanRecognizeSpeech:  d.Recognizer != nil && d.Recognizer.IsAvailable(),
		CanSynthesizeSpeech: d.Voice != nil && d.Voice.IsAvailable(),
	}
}

// Static is a fixed report, used when the host already knows the answer.
type Static struct {
	mu     sync.RWMutex
	report Report
}

// NewStatic returns a Static probe.
func NewStatic(recognize, synthesize bool) *Static {
	return &Static{report: Report{CanRecognizeSpeech: recognize, CanSynthesizeSpeech: synthesize}}
}

// Probe returns the stored report.
func (s *Static) Probe() Report {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.report
}

// Set replaces the stored report, e.g. when a device is plugged in.
func (s *Static) Set(r Report) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.report = r
}
