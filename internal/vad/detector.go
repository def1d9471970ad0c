// Package vad implements the energy based end-of-speech detector that decides when a
// spoken utterance is finished.
//
// Frames are unsigned 8-bit time-domain samples centred on 128, the same shape a
// browser AnalyserNode hands out, so thresholds carry over unchanged from clients
// that run the detector locally.
package vad

import (
	"errors"
	"fmt"
	"time"
)

// FrameInterval is the default sampling cadence (one animation frame at 60Hz).
const FrameInterval = time.Second / 60

// Params holds the detector thresholds.
type Params struct {
	VoicedThreshold float64 // amplitude above which a frame counts as voiced (2)
	EndAmplitude    float64 // amplitude the trailing frame must be under to end (1.5)
	MinVoicedFrames int     // voiced frames required before an end can fire (60)
	MinSilentFrames int     // consecutive silent frames required to end (120)
	Center          float64 // silence centerline of the frame encoding (128)
	FrameSize       int     // samples analysed per tick (2048)
}

// DefaultParams returns the stock thresholds.
func DefaultParams() Params {
	return Params{
		VoicedThreshold: 2,
		EndAmplitude:    1.5,
		MinVoicedFrames: 60,
		MinSilentFrames: 120,
		Center:          128,
		FrameSize:       2048,
	}
}

// Validate rejects parameter sets the detector cannot run with.
func (p Params) Validate() error {
	var errs []error
	if p.VoicedThreshold <= 0 {
		errs = append(errs, fmt.Errorf("voiced threshold must be positive, got %v", p.VoicedThreshold))
	}
	if p.EndAmplitude <= 0 {
		errs = append(errs, fmt.Errorf("end amplitude must be positive, got %v", p.EndAmplitude))
	}
	if p.MinVoicedFrames < 0 || p.MinSilentFrames < 0 {
		errs = append(errs, errors.New("frame counts must not be negative"))
	}
	if p.FrameSize <= 0 {
		errs = append(errs, fmt.Errorf("frame size must be positive, got %d", p.FrameSize))
	}
	return errors.Join(errs...)
}

// Amplitude is the mean absolute deviation of the frame from center.
func Amplitude(frame []byte, center float64) float64 {
	if len(frame) == 0 {
		return 0
	}
	var sum float64
	for _, s := range frame {
		d := float64(s) - center
		if d < 0 {
			d = -d
		}
		sum += d
	}
	return sum / float64(len(frame))
}

// Frame is the classification of one sampled frame.
type Frame struct {
	Amplitude    float64
	Voiced       bool
	VoicedFrames int
	SilentFrames int
	// EndOfSpeech is set on the single frame that satisfied the end rule.
	EndOfSpeech bool
}

// Detector counts voiced and silent frames and applies the two-threshold end rule:
// more than MinVoicedFrames voiced frames, then more than MinSilentFrames silent
// frames with the current amplitude under EndAmplitude. It fires at most once.
type Detector struct {
	p      Params
	voiced int
	silent int
	fired  bool
}

func NewDetector(p Params) *Detector { return &Detector{p: p} }

// Classify scores one frame and updates the counters.
func (d *Detector) Classify(frame []byte) Frame {
	amp := Amplitude(frame, d.p.Center)
	voiced := amp > d.p.VoicedThreshold
	if voiced {
		d.voiced++
		d.silent = 0
	} else {
		d.silent++
	}
	f := Frame{Amplitude: amp, Voiced: voiced, VoicedFrames: d.voiced, SilentFrames: d.silent}
	if !d.fired && d.voiced > d.p.MinVoicedFrames && d.silent > d.p.MinSilentFrames && amp < d.p.EndAmplitude {
		d.fired = true
		f.EndOfSpeech = true
	}
	return f
}

// Fired reports whether end of speech was already signalled.
func (d *Detector) Fired() bool { return d.fired }
