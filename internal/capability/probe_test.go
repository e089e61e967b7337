package capability

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

type flag bool

func (f *flag) IsAvailable() bool { return bool(*f) }

func TestDetector_RechecksEachProbe(t *testing.T) {
	rec := flag(false)
	voice := flag(true)
	d := Detector{Recognizer: &rec, Voice: &voice}

	assert.Equal(t, Report{CanRecognizeSpeech: false, CanSynthesizeSpeech: true}, d.Probe())

	rec = true
	assert.True(t, d.Probe().CanRecognizeSpeech)
}

func TestDetector_NilProviders(t *testing.T) {
	assert.Equal(t, Report{}, Detector{}.Probe())
}

func TestStatic(t *testing.T) {
	s := NewStatic(true, false)
	assert.Equal(t, Report{CanRecognizeSpeech: true}, s.Probe())

	s.Set(Report{CanSynthesizeSpeech: true})
	assert.Equal(t, Report{CanSynthesizeSpeech: true}, s.Probe())
}
