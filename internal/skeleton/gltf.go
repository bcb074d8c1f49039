package skeleton

import (
	"encoding/json"
	"fmt"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/qmuntal/gltf"
)

const (
	extVRM1 = "VRMC_vrm"
	extVRM0 = "VRM"
)

type vrm1Humanoid struct {
	Humanoid struct {
		HumanBones map[string]struct {
			Node int `json:"node"`
		} `json:"humanBones"`
	} `json:"humanoid"`
}

type vrm0Humanoid struct {
	Humanoid struct {
		HumanBones []struct {
			Bone string `json:"bone"`
			Node int    `json:"node"`
		} `json:"humanBones"`
	} `json:"humanoid"`
}

// Load opens a .vrm/.glb/.gltf file and builds its skeleton.
func Load(path string) (*Skeleton, error) {
	doc, err := gltf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open gltf: %w", err)
	}
	return FromDocument(doc)
}

// FromDocument builds a skeleton from every node of the document. Humanoid
// roles come from the VRM 1.0 or VRM 0.x extension when present.
func FromDocument(doc *gltf.Document) (*Skeleton, error) {
	if len(doc.Nodes) == 0 {
		return nil, ErrEmptySkeleton
	}

	bones := make([]*Bone, len(doc.Nodes))
	for i, node := range doc.Nodes {
		name := node.Name
		if name == "" {
			name = fmt.Sprintf("node_%d", i)
		}
		t := node.TranslationOrDefault()
		r := node.RotationOrDefault()
		s := node.ScaleOrDefault()
		rest := Transform{
			Position: mgl32.Vec3{float32(t[0]), float32(t[1]), float32(t[2])},
			Rotation: mgl32.Quat{W: float32(r[3]), V: mgl32.Vec3{float32(r[0]), float32(r[1]), float32(r[2])}},
			Scale:    mgl32.Vec3{float32(s[0]), float32(s[1]), float32(s[2])},
		}
		bones[i] = &Bone{Name: name, Parent: -1, Rest: rest, Local: rest}
	}

	for i, node := range doc.Nodes {
		for _, child := range node.Children {
			if int(child) < len(bones) {
				bones[child].Parent = i
			}
		}
	}

	roles, err := HumanoidRoles(doc)
	if err != nil {
		return nil, err
	}
	for node, role := range roles {
		if node >= 0 && node < len(bones) {
			bones[node].Human = role
		}
	}

	return New(bones)
}

// HumanoidRoles returns node index to humanoid role from the VRM extension.
// Documents without one yield an empty map.
func HumanoidRoles(doc *gltf.Document) (map[int]HumanBone, error) {
	roles := make(map[int]HumanBone)

	var v1 vrm1Humanoid
	ok, err := DecodeExtension(doc.Extensions, extVRM1, &v1)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", extVRM1, err)
	}
	if ok {
		for name, ref := range v1.Humanoid.HumanBones {
			if role, known := LookupHumanBone(name); known {
				roles[ref.Node] = role
			}
		}
		return roles, nil
	}

	var v0 vrm0Humanoid
	ok, err = DecodeExtension(doc.Extensions, extVRM0, &v0)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", extVRM0, err)
	}
	if ok {
		for _, hb := range v0.Humanoid.HumanBones {
			if role, known := LookupHumanBone(hb.Bone); known {
				roles[hb.Node] = role
			}
		}
	}
	return roles, nil
}

// DecodeExtension unmarshals a document-level extension into v. Unregistered
// extensions arrive as raw JSON; anything else is re-encoded first.
func DecodeExtension(ext gltf.Extensions, name string, v any) (bool, error) {
	raw, ok := ext[name]
	if !ok {
		return false, nil
	}

	var data []byte
	switch r := raw.(type) {
	case json.RawMessage:
		data = r
	case []byte:
		data = r
	default:
		var err error
		if data, err = json.Marshal(r); err != nil {
			return true, err
		}
	}
	return true, json.Unmarshal(data, v)
}
