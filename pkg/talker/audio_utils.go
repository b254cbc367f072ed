package talker

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Audio processing utilities

func CalculateRMS(samples []float32) float32 {
	if len(samples) == 0 {
		return 0
	}

	var sum float64
	for _, sample := range samples {
		sum += float64(sample) * float64(sample)
	}

	return float32(math.Sqrt(sum / float64(len(samples))))
}

func CalculatePeak(samples []float32) float32 {
	var peak float32
	for _, s := range samples {
		if a := float32(math.Abs(float64(s))); a > peak {
			peak = a
		}
	}
	return peak
}

// Level is the meter value reported in RecordingState: RMS clamped to [0,1].
func Level(samples []float32) float64 {
	rms := float64(CalculateRMS(samples))
	switch {
	case math.IsNaN(rms) || rms < 0:
		return 0
	case rms > 1:
		return 1
	}
	return rms
}

// NormalizeAudio scales samples so the loudest one sits at target. Silent
// input is returned unchanged.
func NormalizeAudio(samples []float32, target float32) []float32 {
	peak := CalculatePeak(samples)
	if peak == 0 || target <= 0 {
		return samples
	}
	return scaleSamples(samples, target/peak)
}

// ApplyGain amplifies samples by gainDB decibels. The result is not clipped;
// FloatToPCM16 clips when the samples are written out.
func ApplyGain(samples []float32, gainDB float32) []float32 {
	if gainDB == 0 {
		return samples
	}
	return scaleSamples(samples, float32(math.Pow(10, float64(gainDB)/20)))
}

func scaleSamples(samples []float32, factor float32) []float32 {
	out := make([]float32, len(samples))
	for i, s := range samples {
		out[i] = s * factor
	}
	return out
}

// AdjustWAV applies peak normalization and then gainDB to a 16 bit PCM WAV
// file as written by WAVEncoder. The header is kept as is.
func AdjustWAV(data []byte, gainDB float32, normalize bool) ([]byte, error) {
	if len(data) < wavHeaderSize || string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" || string(data[36:40]) != "data" {
		return nil, NewEncodeError("not a PCM WAV file written by the recorder").AddDetail("bytes", len(data))
	}
	samples, err := PCM16ToFloat(data[wavHeaderSize:])
	if err != nil {
		return nil, WrapError(err, ErrCodeEncode)
	}
	if normalize {
		samples = NormalizeAudio(samples, 0.95)
	}
	samples = ApplyGain(samples, gainDB)

	out := make([]byte, 0, len(data))
	out = append(out, data[:wavHeaderSize]...)
	return append(out, FloatToPCM16(samples)...), nil
}

// FloatToPCM16 converts samples to little endian signed 16 bit PCM, clipping
// anything outside [-1,1].
func FloatToPCM16(samples []float32) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		if s > 1 {
			s = 1
		} else if s < -1 {
			s = -1
		}
		binary.LittleEndian.PutUint16(out[i*2:], uint16(int16(s*math.MaxInt16)))
	}
	return out
}

// PCM16ToFloat is the inverse of FloatToPCM16.
func PCM16ToFloat(data []byte) ([]float32, error) {
	if len(data)%2 != 0 {
		return nil, fmt.Errorf("pcm16 data length %d is not a multiple of 2", len(data))
	}
	samples := make([]float32, len(data)/2)
	for i := range samples {
		v := int16(binary.LittleEndian.Uint16(data[i*2:]))
		samples[i] = float32(v) / math.MaxInt16
	}
	return samples, nil
}
