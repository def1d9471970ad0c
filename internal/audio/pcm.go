// Package audio holds the small PCM utilities shared by capture, the VAD and the
// transports: sample conversion, a ring buffer for the analysis tap, WAV framing,
// MP3 decoding and resampling.
package audio

import "encoding/binary"

// Format describes signed 16-bit little-endian PCM.
type Format struct {
	SampleRate int
	Channels   int
}

// Mono16k is the capture format the browser clients send.
var Mono16k = Format{SampleRate: 16000, Channels: 1}

// Mono48k is the Opus playback format.
var Mono48k = Format{SampleRate: 48000, Channels: 1}

// BytesPerSecond returns the byte rate of the format.
func (f Format) BytesPerSecond() int { return f.SampleRate * f.Channels * 2 }

// DecodePCM16LE converts little-endian bytes into samples. A trailing odd byte is ignored.
func DecodePCM16LE(b []byte) []int16 {
	n := len(b) / 2
	out := make([]int16, n)
	for i := 0; i < n; i++ {
		out[i] = int16(binary.LittleEndian.Uint16(b[i*2 : i*2+2]))
	}
	return out
}

// EncodePCM16LE converts samples into little-endian bytes.
func EncodePCM16LE(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:(i+1)*2], uint16(s))
	}
	return out
}

// ByteSample maps a signed 16-bit sample onto the unsigned 8-bit time domain
// used by browser analysers, where 128 is the silence centerline.
func ByteSample(s int16) byte {
	v := 128 + int(s)/256
	if v < 0 {
		v = 0
	} else if v > 255 {
		v = 255
	}
	return byte(v)
}

// ToByteDomain converts little-endian PCM16 into 8-bit time-domain samples.
func ToByteDomain(pcm []byte) []byte {
	n := len(pcm) / 2
	out := make([]byte, n)
	for i := 0; i < n; i++ {
		out[i] = ByteSample(int16(binary.LittleEndian.Uint16(pcm[i*2 : i*2+2])))
	}
	return out
}

// Downmix averages interleaved channels into mono.
func Downmix(samples []int16, channels int) []int16 {
	if channels <= 1 {
		return samples
	}
	n := len(samples) / channels
	out := make([]int16, n)
	for i := 0; i < n; i++ {
		var sum int
		for c := 0; c < channels; c++ {
			sum += int(samples[i*channels+c])
		}
		out[i] = int16(sum / channels)
	}
	return out
}
