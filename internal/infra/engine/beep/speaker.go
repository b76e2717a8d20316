//go:build (linux && cgo) || windows || darwin

package beep

import (
	"time"

	"github.com/gopxl/beep/v2"
	"github.com/gopxl/beep/v2/speaker"
)

// Available reports whether this build can play audio.
const Available = true

// speakerOutput sends audio to the default device.
type speakerOutput struct{}

func (speakerOutput) Init(sampleRate beep.SampleRate, bufferSize int) error {
	return speaker.Init(sampleRate, bufferSize)
}

func (speakerOutput) Play(s ...beep.Streamer) { speaker.Play(s...) }
func (speakerOutput) Clear()                  { speaker.Clear() }
func (speakerOutput) Lock()                   { speaker.Lock() }
func (speakerOutput) Unlock()                 { speaker.Unlock() }

// New creates an engine on the default audio device. Status is reported
// every interval.
func New(settings Settings, interval time.Duration) (*Engine, error) {
	e := newEngine(speakerOutput{}, decodeMP3, settings, interval)
	e.start()
	return e, nil
}
