package clip

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/qmuntal/gltf"

	"github.com/normanking/cortexmotion/internal/skeleton"
)

const extVRMAnimation = "VRMC_vrm_animation"

type vrmaHumanoid struct {
	Humanoid struct {
		HumanBones map[string]struct {
			Node int `json:"node"`
		} `json:"humanBones"`
	} `json:"humanoid"`
}

// FromDocument decodes every animation in the document. Tracks are named
// after the humanoid role of their node when the file carries a
// VRMC_vrm_animation mapping, otherwise after the node name. Morph weight
// channels are skipped.
func FromDocument(doc *gltf.Document) ([]*Clip, error) {
	if len(doc.Animations) == 0 {
		return nil, ErrNoAnimations
	}

	names, err := nodeNames(doc)
	if err != nil {
		return nil, err
	}

	clips := make([]*Clip, 0, len(doc.Animations))
	for i, anim := range doc.Animations {
		c, err := decodeAnimation(doc, anim, names)
		if err != nil {
			return nil, fmt.Errorf("animation %d: %w", i, err)
		}
		if c.Name == "" {
			c.Name = fmt.Sprintf("animation_%d", i)
		}
		clips = append(clips, c)
	}
	return clips, nil
}

func nodeNames(doc *gltf.Document) ([]string, error) {
	names := make([]string, len(doc.Nodes))
	for i, n := range doc.Nodes {
		names[i] = n.Name
		if names[i] == "" {
			names[i] = fmt.Sprintf("node_%d", i)
		}
	}

	var ext vrmaHumanoid
	ok, err := skeleton.DecodeExtension(doc.Extensions, extVRMAnimation, &ext)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", extVRMAnimation, err)
	}
	if ok {
		for role, ref := range ext.Humanoid.HumanBones {
			if ref.Node >= 0 && ref.Node < len(names) {
				names[ref.Node] = role
			}
		}
	}
	return names, nil
}

func decodeAnimation(doc *gltf.Document, anim *gltf.Animation, names []string) (*Clip, error) {
	tracks := make([]*Track, 0, len(anim.Channels))
	for _, ch := range anim.Channels {
		if ch.Target.Node == nil {
			continue
		}
		node := int(*ch.Target.Node)
		if node < 0 || node >= len(names) {
			return nil, fmt.Errorf("channel targets missing node %d", node)
		}

		var prop Property
		switch ch.Target.Path {
		case gltf.TRSTranslation:
			prop = Position
		case gltf.TRSRotation:
			prop = Rotation
		case gltf.TRSScale:
			prop = Scale
		default:
			continue
		}

		sampler := anim.Samplers[int(ch.Sampler)]
		times, err := readFloats(doc, int(sampler.Input), 1)
		if err != nil {
			return nil, fmt.Errorf("%s input: %w", names[node], err)
		}
		values, err := readFloats(doc, int(sampler.Output), prop.Components())
		if err != nil {
			return nil, fmt.Errorf("%s output: %w", names[node], err)
		}

		track := &Track{Bone: names[node], Property: prop, Times: times, Values: values}
		switch sampler.Interpolation {
		case gltf.InterpolationStep:
			track.Interpolation = Step
		case gltf.InterpolationCubicSpline:
			// in-tangent, value, out-tangent per key; keep the values only
			track.Values = cubicValues(values, prop.Components())
		}
		if err := track.Validate(); err != nil {
			return nil, err
		}
		tracks = append(tracks, track)
	}
	return New(anim.Name, 0, tracks), nil
}

func cubicValues(values []float32, comps int) []float32 {
	keys := len(values) / (3 * comps)
	out := make([]float32, 0, keys*comps)
	for k := 0; k < keys; k++ {
		start := (k*3 + 1) * comps
		out = append(out, values[start:start+comps]...)
	}
	return out
}

// readFloats reads an accessor as a flat float slice of count*comps values,
// dequantizing normalized integer components.
func readFloats(doc *gltf.Document, accessorIdx, comps int) ([]float32, error) {
	if accessorIdx < 0 || accessorIdx >= len(doc.Accessors) {
		return nil, fmt.Errorf("accessor %d out of range", accessorIdx)
	}
	accessor := doc.Accessors[accessorIdx]
	if accessor.BufferView == nil {
		return nil, fmt.Errorf("accessor %d has no buffer view", accessorIdx)
	}
	bufferView := doc.BufferViews[int(*accessor.BufferView)]
	buffer := doc.Buffers[int(bufferView.Buffer)]
	if len(buffer.Data) == 0 {
		return nil, fmt.Errorf("buffer %d has no data", bufferView.Buffer)
	}

	size, read, err := componentReader(accessor.ComponentType, accessor.Normalized)
	if err != nil {
		return nil, err
	}

	offset := int(bufferView.ByteOffset) + int(accessor.ByteOffset)
	count := int(accessor.Count)
	stride := int(bufferView.ByteStride)
	if stride == 0 {
		stride = size * comps
	}
	if need := offset + (count-1)*stride + size*comps; count > 0 && need > len(buffer.Data) {
		return nil, fmt.Errorf("accessor %d overruns buffer (%d > %d)", accessorIdx, need, len(buffer.Data))
	}

	out := make([]float32, count*comps)
	for i := 0; i < count; i++ {
		base := offset + i*stride
		for c := 0; c < comps; c++ {
			out[i*comps+c] = read(buffer.Data[base+c*size:])
		}
	}
	return out, nil
}

func componentReader(ct gltf.ComponentType, normalized bool) (int, func([]byte) float32, error) {
	le := binary.LittleEndian
	switch ct {
	case gltf.ComponentFloat:
		return 4, func(b []byte) float32 { return math.Float32frombits(le.Uint32(b)) }, nil
	case gltf.ComponentByte:
		return 1, func(b []byte) float32 { return dequant(float32(int8(b[0])), 127, normalized, true) }, nil
	case gltf.ComponentUbyte:
		return 1, func(b []byte) float32 { return dequant(float32(b[0]), 255, normalized, false) }, nil
	case gltf.ComponentShort:
		return 2, func(b []byte) float32 { return dequant(float32(int16(le.Uint16(b))), 32767, normalized, true) }, nil
	case gltf.ComponentUshort:
		return 2, func(b []byte) float32 { return dequant(float32(le.Uint16(b)), 65535, normalized, false) }, nil
	}
	return 0, nil, fmt.Errorf("unsupported component type %v", ct)
}

func dequant(v, max float32, normalized, signed bool) float32 {
	if !normalized {
		return v
	}
	v /= max
	if signed && v < -1 {
		v = -1
	}
	return v
}
