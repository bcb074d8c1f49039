package avatar3d

import (
	"fmt"
	"sort"
	"strings"

	"github.com/qmuntal/gltf"

	"github.com/normanking/cortexmotion/internal/skeleton"
)

// ChannelTable is the expression channel set of one avatar. Unknown names
// read as 0 and ignore writes.
type ChannelTable interface {
	Names() []string
	Get(name string) float32
	Set(name string, weight float32)
}

// MapTable is a ChannelTable over a fixed list of channel names.
type MapTable struct {
	names   []string
	weights map[string]float32
}

func NewChannelTable(names ...string) *MapTable {
	t := &MapTable{weights: make(map[string]float32, len(names))}
	for _, n := range names {
		if n == "" {
			continue
		}
		if _, dup := t.weights[n]; dup {
			continue
		}
		t.names = append(t.names, n)
		t.weights[n] = 0
	}
	return t
}

func (t *MapTable) Names() []string {
	return append([]string(nil), t.names...)
}

func (t *MapTable) Get(name string) float32 {
	return t.weights[name]
}

func (t *MapTable) Set(name string, weight float32) {
	if _, ok := t.weights[name]; ok {
		t.weights[name] = clamp(weight, 0, 1)
	}
}

// WeightVector is a snapshot of every channel weight.
type WeightVector map[string]float32

func Snapshot(t ChannelTable) WeightVector {
	names := t.Names()
	v := make(WeightVector, len(names))
	for _, n := range names {
		v[n] = t.Get(n)
	}
	return v
}

func (v WeightVector) Names() []string {
	names := make([]string, 0, len(v))
	for n := range v {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// VRM 0.x preset names, renamed to their VRM 1.0 equivalents.
var vrm0Presets = map[string]string{
	"a":         "aa",
	"i":         "ih",
	"u":         "ou",
	"e":         "ee",
	"o":         "oh",
	"joy":       "happy",
	"angry":     "angry",
	"sorrow":    "sad",
	"fun":       "relaxed",
	"neutral":   "neutral",
	"blink":     "blink",
	"blink_l":   "blinkLeft",
	"blink_r":   "blinkRight",
	"lookup":    "lookUp",
	"lookdown":  "lookDown",
	"lookleft":  "lookLeft",
	"lookright": "lookRight",
}

type vrm1Expressions struct {
	Expressions struct {
		Preset map[string]any `json:"preset"`
		Custom map[string]any `json:"custom"`
	} `json:"expressions"`
}

type vrm0BlendShapes struct {
	BlendShapeMaster struct {
		Groups []struct {
			Name       string `json:"name"`
			PresetName string `json:"presetName"`
		} `json:"blendShapeGroups"`
	} `json:"blendShapeMaster"`
}

// ChannelNames lists the expression channels of a model: VRM 1.0
// expressions, VRM 0.x blend shape groups, or failing both the morph target
// names of every mesh.
func ChannelNames(doc *gltf.Document) ([]string, error) {
	var v1 vrm1Expressions
	ok, err := skeleton.DecodeExtension(doc.Extensions, "VRMC_vrm", &v1)
	if err != nil {
		return nil, fmt.Errorf("decode VRMC_vrm expressions: %w", err)
	}
	if ok && len(v1.Expressions.Preset)+len(v1.Expressions.Custom) > 0 {
		names := make([]string, 0, len(v1.Expressions.Preset)+len(v1.Expressions.Custom))
		for n := range v1.Expressions.Preset {
			names = append(names, n)
		}
		for n := range v1.Expressions.Custom {
			names = append(names, n)
		}
		sort.Strings(names)
		return names, nil
	}

	var v0 vrm0BlendShapes
	ok, err = skeleton.DecodeExtension(doc.Extensions, "VRM", &v0)
	if err != nil {
		return nil, fmt.Errorf("decode VRM blend shapes: %w", err)
	}
	if ok && len(v0.BlendShapeMaster.Groups) > 0 {
		names := make([]string, 0, len(v0.BlendShapeMaster.Groups))
		for _, g := range v0.BlendShapeMaster.Groups {
			name := g.Name
			if p, known := vrm0Presets[strings.ToLower(g.PresetName)]; known {
				name = p
			}
			names = append(names, name)
		}
		return dedupe(names), nil
	}

	var names []string
	for _, m := range doc.Meshes {
		extras, ok := m.Extras.(map[string]any)
		if !ok {
			continue
		}
		list, _ := extras["targetNames"].([]any)
		for _, n := range list {
			if s, ok := n.(string); ok {
				names = append(names, s)
			}
		}
	}
	return dedupe(names), nil
}

func dedupe(names []string) []string {
	seen := make(map[string]bool, len(names))
	out := names[:0]
	for _, n := range names {
		if n == "" || seen[n] {
			continue
		}
		seen[n] = true
		out = append(out, n)
	}
	return out
}

// TableFor picks the channel table for a model: the ARKit table when the
// model's channels are the ARKit set, a map table otherwise.
func TableFor(names []string) ChannelTable {
	arkit := 0
	for _, n := range names {
		if BlendshapeIndexFromName(n) >= 0 {
			arkit++
		}
	}
	if len(names) > 0 && arkit == len(names) && arkit >= int(BlendshapeCount)/2 {
		return NewBlendshapeTable()
	}
	return NewChannelTable(names...)
}
