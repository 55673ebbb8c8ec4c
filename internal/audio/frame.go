// Package audio holds the fixed PCM frame contract shared by every capture
// source: mono 16-bit little-endian samples at a single agreed sample rate.
package audio

import (
	"encoding/binary"
	"time"
)

// Frame is one timestamped block of mono 16-bit LE PCM. Frames are owned by
// the pipeline instance processing them and are never retained past segment
// assembly.
type Frame struct {
	PCM    []byte
	Offset time.Duration // position relative to session start
}

// Samples returns the number of 16-bit samples in the frame.
func (f Frame) Samples() int {
	return len(f.PCM) / 2
}

// Duration reports how much audio the frame covers at the given sample rate.
func (f Frame) Duration(sampleRate int) time.Duration {
	if sampleRate <= 0 {
		return 0
	}
	return time.Duration(f.Samples()) * time.Second / time.Duration(sampleRate)
}

// PCMDuration reports the play time of a raw PCM byte buffer.
func PCMDuration(pcm []byte, sampleRate int) time.Duration {
	if sampleRate <= 0 {
		return 0
	}
	return time.Duration(len(pcm)/2) * time.Second / time.Duration(sampleRate)
}

// Split chunks a PCM buffer into frames of frameMS milliseconds. The last
// frame may be shorter. Offsets start at zero.
func Split(pcm []byte, sampleRate, frameMS int) []Frame {
	if sampleRate <= 0 || frameMS <= 0 || len(pcm) == 0 {
		return nil
	}
	frameBytes := sampleRate * frameMS / 1000 * 2
	if frameBytes <= 0 {
		return nil
	}
	var frames []Frame
	for off := 0; off < len(pcm); off += frameBytes {
		end := off + frameBytes
		if end > len(pcm) {
			end = len(pcm)
		}
		frames = append(frames, Frame{
			PCM:    pcm[off:end],
			Offset: PCMDuration(pcm[:off], sampleRate),
		})
	}
	return frames
}

// Samples16 decodes a PCM byte buffer into int16 samples.
func Samples16(pcm []byte) []int16 {
	samples := make([]int16, len(pcm)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(pcm[i*2 : i*2+2]))
	}
	return samples
}
