package audio

import (
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-audio/wav"
)

// DecodePCM converts interleaved little-endian PCM to mono samples in
// [-1,1]. Channels are averaged. A trailing partial frame is dropped.
func DecodePCM(data []byte, f Format) ([]float64, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}
	width := f.BitDepth / 8
	frame := width * f.Channels
	n := len(data) / frame
	out := make([]float64, n)

	for i := 0; i < n; i++ {
		var sum float64
		for c := 0; c < f.Channels; c++ {
			off := i*frame + c*width
			sum += decodeSample(data[off:off+width], f.BitDepth)
		}
		out[i] = sum / float64(f.Channels)
	}
	return out, nil
}

func decodeSample(b []byte, bitDepth int) float64 {
	switch bitDepth {
	case 16:
		return float64(int16(binary.LittleEndian.Uint16(b))) / 32768.0
	case 32:
		return float64(math.Float32frombits(binary.LittleEndian.Uint32(b)))
	default:
		return (float64(b[0]) - 128.0) / 128.0
	}
}

// LoadPCM reads a headerless PCM file.
func LoadPCM(path string, f Format) (*Signal, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	samples, err := DecodePCM(data, f)
	if err != nil {
		return nil, err
	}
	if len(samples) == 0 {
		return nil, ErrEmptySignal
	}
	return &Signal{Samples: samples, SampleRate: f.SampleRate}, nil
}

// LoadWAV reads a RIFF/WAVE file and downmixes it to mono.
func LoadWAV(path string) (*Signal, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	dec := wav.NewDecoder(file)
	if !dec.IsValidFile() {
		return nil, fmt.Errorf("%s: %w", path, ErrInvalidFormat)
	}
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}

	channels := int(dec.NumChans)
	if channels <= 0 || dec.SampleRate == 0 {
		return nil, fmt.Errorf("%s: %w", path, ErrInvalidFormat)
	}
	n := len(buf.Data) / channels
	if n == 0 {
		return nil, ErrEmptySignal
	}

	scale := math.Pow(2, float64(dec.BitDepth)-1)
	var bias float64
	if dec.BitDepth == 8 {
		bias = 128
	}
	samples := make([]float64, n)
	for i := 0; i < n; i++ {
		var sum float64
		for c := 0; c < channels; c++ {
			sum += float64(buf.Data[i*channels+c])
		}
		samples[i] = (sum/float64(channels) - bias) / scale
	}
	return &Signal{Samples: samples, SampleRate: int(dec.SampleRate)}, nil
}

// Load picks the decoder by extension: .wav is parsed, anything else is
// read as raw PCM in the given format.
func Load(path string, f Format) (*Signal, error) {
	if strings.EqualFold(filepath.Ext(path), ".wav") {
		return LoadWAV(path)
	}
	return LoadPCM(path, f)
}
