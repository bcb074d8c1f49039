package avatar3d

import "strings"

type BlendshapeIndex int

const (
	BrowDownLeft BlendshapeIndex = iota
	BrowDownRight
	BrowInnerUp
	BrowOuterUpLeft
	BrowOuterUpRight
	CheekPuff
	CheekSquintLeft
	CheekSquintRight
	EyeBlinkLeft
	EyeBlinkRight
	EyeLookDownLeft
	EyeLookDownRight
	EyeLookInLeft
	EyeLookInRight
	EyeLookOutLeft
	EyeLookOutRight
	EyeLookUpLeft
	EyeLookUpRight
	EyeSquintLeft
	EyeSquintRight
	EyeWideLeft
	EyeWideRight
	JawForward
	JawLeft
	JawOpen
	JawRight
	MouthClose
	MouthDimpleLeft
	MouthDimpleRight
	MouthFrownLeft
	MouthFrownRight
	MouthFunnel
	MouthLeft
	MouthLowerDownLeft
	MouthLowerDownRight
	MouthPressLeft
	MouthPressRight
	MouthPucker
	MouthRight
	MouthRollLower
	MouthRollUpper
	MouthShrugLower
	MouthShrugUpper
	MouthSmileLeft
	MouthSmileRight
	MouthStretchLeft
	MouthStretchRight
	MouthUpperUpLeft
	MouthUpperUpRight
	NoseSneerLeft
	NoseSneerRight
	TongueOut
	BlendshapeCount
)

var BlendshapeNames = [BlendshapeCount]string{
	"browDownLeft",
	"browDownRight",
	"browInnerUp",
	"browOuterUpLeft",
	"browOuterUpRight",
	"cheekPuff",
	"cheekSquintLeft",
	"cheekSquintRight",
	"eyeBlinkLeft",
	"eyeBlinkRight",
	"eyeLookDownLeft",
	"eyeLookDownRight",
	"eyeLookInLeft",
	"eyeLookInRight",
	"eyeLookOutLeft",
	"eyeLookOutRight",
	"eyeLookUpLeft",
	"eyeLookUpRight",
	"eyeSquintLeft",
	"eyeSquintRight",
	"eyeWideLeft",
	"eyeWideRight",
	"jawForward",
	"jawLeft",
	"jawOpen",
	"jawRight",
	"mouthClose",
	"mouthDimpleLeft",
	"mouthDimpleRight",
	"mouthFrownLeft",
	"mouthFrownRight",
	"mouthFunnel",
	"mouthLeft",
	"mouthLowerDownLeft",
	"mouthLowerDownRight",
	"mouthPressLeft",
	"mouthPressRight",
	"mouthPucker",
	"mouthRight",
	"mouthRollLower",
	"mouthRollUpper",
	"mouthShrugLower",
	"mouthShrugUpper",
	"mouthSmileLeft",
	"mouthSmileRight",
	"mouthStretchLeft",
	"mouthStretchRight",
	"mouthUpperUpLeft",
	"mouthUpperUpRight",
	"noseSneerLeft",
	"noseSneerRight",
	"tongueOut",
}

type BlendshapeWeights [BlendshapeCount]float32

func (w *BlendshapeWeights) Set(idx BlendshapeIndex, value float32) {
	if idx < 0 || idx >= BlendshapeCount {
		return
	}
	w[idx] = clamp(value, 0, 1)
}

func (w *BlendshapeWeights) Get(idx BlendshapeIndex) float32 {
	if idx < 0 || idx >= BlendshapeCount {
		return 0
	}
	return w[idx]
}

func (w *BlendshapeWeights) Reset() {
	for i := range w {
		w[i] = 0
	}
}

func (w *BlendshapeWeights) ToSlice() []float32 {
	return w[:]
}

func clamp(v, min, max float32) float32 {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}

var blendshapeByLower = func() map[string]BlendshapeIndex {
	m := make(map[string]BlendshapeIndex, BlendshapeCount)
	for i, n := range BlendshapeNames {
		m[strings.ToLower(n)] = BlendshapeIndex(i)
	}
	return m
}()

// BlendshapeIndexFromName resolves an ARKit name case-insensitively, or -1.
func BlendshapeIndexFromName(name string) BlendshapeIndex {
	if idx, ok := blendshapeByLower[strings.ToLower(name)]; ok {
		return idx
	}
	return -1
}

// BlendshapeTable exposes an ARKit weight array as a ChannelTable, for
// avatars that carry the 52 ARKit morph targets instead of VRM expressions.
type BlendshapeTable struct {
	Weights *BlendshapeWeights
}

func NewBlendshapeTable() *BlendshapeTable {
	return &BlendshapeTable{Weights: &BlendshapeWeights{}}
}

func (t *BlendshapeTable) Names() []string {
	return append([]string(nil), BlendshapeNames[:]...)
}

func (t *BlendshapeTable) Get(name string) float32 {
	return t.Weights.Get(BlendshapeIndexFromName(name))
}

func (t *BlendshapeTable) Set(name string, weight float32) {
	t.Weights.Set(BlendshapeIndexFromName(name), weight)
}
