package skeleton

import "strings"

// HumanBone is a role in the humanoid taxonomy. Values follow the VRM 1.0
// humanoid naming so that VRM and VRMA files resolve without translation.
type HumanBone string

const (
	Hips       HumanBone = "hips"
	Spine      HumanBone = "spine"
	Chest      HumanBone = "chest"
	UpperChest HumanBone = "upperChest"
	Neck       HumanBone = "neck"
	Head       HumanBone = "head"
	Jaw        HumanBone = "jaw"
	LeftEye    HumanBone = "leftEye"
	RightEye   HumanBone = "rightEye"

	LeftShoulder  HumanBone = "leftShoulder"
	LeftUpperArm  HumanBone = "leftUpperArm"
	LeftLowerArm  HumanBone = "leftLowerArm"
	LeftHand      HumanBone = "leftHand"
	RightShoulder HumanBone = "rightShoulder"
	RightUpperArm HumanBone = "rightUpperArm"
	RightLowerArm HumanBone = "rightLowerArm"
	RightHand     HumanBone = "rightHand"

	LeftUpperLeg  HumanBone = "leftUpperLeg"
	LeftLowerLeg  HumanBone = "leftLowerLeg"
	LeftFoot      HumanBone = "leftFoot"
	LeftToes      HumanBone = "leftToes"
	RightUpperLeg HumanBone = "rightUpperLeg"
	RightLowerLeg HumanBone = "rightLowerLeg"
	RightFoot     HumanBone = "rightFoot"
	RightToes     HumanBone = "rightToes"

	LeftUpperArmTwist  HumanBone = "leftUpperArmTwist"
	LeftLowerArmTwist  HumanBone = "leftLowerArmTwist"
	RightUpperArmTwist HumanBone = "rightUpperArmTwist"
	RightLowerArmTwist HumanBone = "rightLowerArmTwist"
	LeftUpperLegTwist  HumanBone = "leftUpperLegTwist"
	RightUpperLegTwist HumanBone = "rightUpperLegTwist"
)

var (
	sides         = []string{"left", "right"}
	fingers       = []string{"Thumb", "Index", "Middle", "Ring", "Little"}
	fingerJoints  = []string{"Proximal", "Intermediate", "Distal"}
	thumbMetacarp = "Metacarpal"
)

// FingerBone returns the taxonomy name of one finger joint, e.g.
// FingerBone("left", "Index", "Distal") == "leftIndexDistal".
func FingerBone(side, finger, joint string) HumanBone {
	return HumanBone(side + finger + joint)
}

// Taxonomy lists every humanoid role the engine knows about, including
// roles that are never retargeted (eyes, jaw, twist and metacarpal bones).
var Taxonomy = buildTaxonomy()

// Standard is the retargeting whitelist: spine and head chain, arm and leg
// chains, and three-segment fingers. Twist, metacarpal, eye and jaw bones
// are not part of it.
var Standard = buildStandard()

func buildTaxonomy() []HumanBone {
	bones := []HumanBone{
		Hips, Spine, Chest, UpperChest, Neck, Head, Jaw, LeftEye, RightEye,
		LeftShoulder, LeftUpperArm, LeftLowerArm, LeftHand,
		RightShoulder, RightUpperArm, RightLowerArm, RightHand,
		LeftUpperLeg, LeftLowerLeg, LeftFoot, LeftToes,
		RightUpperLeg, RightLowerLeg, RightFoot, RightToes,
		LeftUpperArmTwist, LeftLowerArmTwist, RightUpperArmTwist, RightLowerArmTwist,
		LeftUpperLegTwist, RightUpperLegTwist,
	}
	for _, side := range sides {
		bones = append(bones, FingerBone(side, "Thumb", thumbMetacarp))
		for _, finger := range fingers {
			for _, joint := range fingerJoints {
				bones = append(bones, FingerBone(side, finger, joint))
			}
		}
	}
	return bones
}

func buildStandard() map[HumanBone]struct{} {
	set := make(map[HumanBone]struct{})
	for _, b := range Taxonomy {
		if IsSecondary(b) || b == LeftEye || b == RightEye || b == Jaw {
			continue
		}
		set[b] = struct{}{}
	}
	return set
}

// IsSecondary reports whether a role is a twist or palm/metacarpal helper.
func IsSecondary(b HumanBone) bool {
	lower := strings.ToLower(string(b))
	return strings.Contains(lower, "twist") ||
		strings.Contains(lower, "metacarpal") ||
		strings.Contains(lower, "palm")
}

// IsStandard reports whether b is on the retargeting whitelist.
func IsStandard(b HumanBone) bool {
	_, ok := Standard[b]
	return ok
}

// LookupHumanBone resolves a taxonomy name case-insensitively.
func LookupHumanBone(name string) (HumanBone, bool) {
	b, ok := taxonomyByLower[strings.ToLower(name)]
	return b, ok
}

var taxonomyByLower = func() map[string]HumanBone {
	m := make(map[string]HumanBone, len(Taxonomy))
	for _, b := range Taxonomy {
		m[strings.ToLower(string(b))] = b
	}
	return m
}()
