// Package tempoestimate derives a default tempo from a reference WAV file
// — used once, at first-boot, to seed the tempo parameter when no preset
// has ever set one. It guesses the sample's BPM from its duration alone,
// by a brute-force search over plausible beat counts and tempos; the
// filename is not examined.
package tempoestimate

import (
	"fmt"
	"math"
	"os"
	"sort"
	"time"

	"github.com/go-audio/wav"
	"github.com/schollz/duovox/internal/convert"
)

// Length returns a WAV file's duration in seconds, decoding PCM data
// directly and falling back to the decoder's own Duration() for
// compressed formats.
func Length(filename string) (seconds float64, err error) {
	f, openErr := os.Open(filename)
	if openErr != nil {
		return 0, fmt.Errorf("open: %w", openErr)
	}
	defer f.Close()

	d := wav.NewDecoder(f)
	if !d.IsValidFile() {
		return 0, fmt.Errorf("invalid WAV file")
	}
	d.ReadInfo()

	const wavFormatPCM = 1
	const wavFormatExtensible = 65534
	if int(d.WavAudioFormat) != wavFormatPCM && int(d.WavAudioFormat) != wavFormatExtensible {
		var dur time.Duration
		dur, err = d.Duration()
		if err != nil {
			return 0, fmt.Errorf("duration (non-PCM): %w", err)
		}
		return dur.Seconds(), nil
	}

	if d.SampleRate == 0 {
		return 0, fmt.Errorf("invalid sample rate: 0")
	}
	bytesPerSample := int64(d.BitDepth) / 8
	if bytesPerSample <= 0 {
		return 0, fmt.Errorf("invalid bit depth: %d", d.BitDepth)
	}
	chans := int64(d.NumChans)
	if chans <= 0 {
		return 0, fmt.Errorf("invalid channel count: %d", d.NumChans)
	}
	if !d.WasPCMAccessed() && d.PCMChunk == nil {
		if fwdErr := d.FwdToPCM(); fwdErr != nil {
			return 0, fmt.Errorf("locate PCM: %w", fwdErr)
		}
	}
	totalBytes := d.PCMLen()
	if totalBytes <= 0 {
		return 0, fmt.Errorf("no PCM data")
	}
	frameSize := bytesPerSample * chans
	if frameSize == 0 {
		return 0, fmt.Errorf("invalid frame size")
	}
	totalFrames := totalBytes / frameSize
	return float64(totalFrames) / float64(d.SampleRate), nil
}

// EstimateFromDuration brute-forces the (beats, bpm) pair within this
// instrument's tempo range whose implied loop duration is closest to
// seconds, preferring power-of-two beat counts and, among ties, the
// smallest beat count.
func EstimateFromDuration(seconds float64) (beats, bpm float64) {
	type guess struct{ diff, bpm, beats float64 }
	var guesses []guess
	for beat := 1.0; beat <= 64; beat++ {
		for bp := convert.MinTempoBPM; bp <= convert.MaxTempoBPM; bp++ {
			guesses = append(guesses, guess{math.Abs(seconds - beat*60.0/bp), bp, beat})
		}
	}
	sort.Slice(guesses, func(i, j int) bool {
		if guesses[i].diff != guesses[j].diff {
			return guesses[i].diff < guesses[j].diff
		}
		iPow := isPowerOfTwo(guesses[i].beats)
		jPow := isPowerOfTwo(guesses[j].beats)
		if iPow != jPow {
			return iPow
		}
		return guesses[i].beats < guesses[j].beats
	})
	if len(guesses) == 0 {
		return 0, 0
	}
	return guesses[0].beats, guesses[0].bpm
}

func isPowerOfTwo(n float64) bool {
	if n < 1 {
		return false
	}
	log2 := math.Log2(n)
	return math.Abs(log2-math.Round(log2)) < 1e-9
}

// EstimateFile reads filename's duration and returns its estimated tempo,
// clamped to this instrument's tempo range.
func EstimateFile(filename string) (bpm float64, err error) {
	seconds, err := Length(filename)
	if err != nil {
		return 0, err
	}
	_, bpm = EstimateFromDuration(seconds)
	if bpm < convert.MinTempoBPM {
		bpm = convert.MinTempoBPM
	}
	if bpm > convert.MaxTempoBPM {
		bpm = convert.MaxTempoBPM
	}
	return bpm, nil
}
