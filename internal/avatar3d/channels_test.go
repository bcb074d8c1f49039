package avatar3d

import (
	"encoding/json"
	"math/rand"
	"testing"

	"github.com/qmuntal/gltf"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMapTable(t *testing.T) {
	table := NewChannelTable("happy", "blink", "happy", "")
	assert.Equal(t, []string{"happy", "blink"}, table.Names())

	table.Set("happy", 1.5)
	table.Set("blink", -1)
	table.Set("missing", 0.5)
	assert.Equal(t, float32(1), table.Get("happy"))
	assert.Zero(t, table.Get("blink"))
	assert.Zero(t, table.Get("missing"))

	v := Snapshot(table)
	assert.Equal(t, WeightVector{"happy": 1, "blink": 0}, v)
	assert.Equal(t, []string{"blink", "happy"}, v.Names())
}

func TestBlendshapeTable(t *testing.T) {
	table := NewBlendshapeTable()
	assert.Len(t, table.Names(), int(BlendshapeCount))

	table.Set("JawOpen", 0.4)
	table.Set("unknown", 1)
	assert.Equal(t, float32(0.4), table.Get("jawOpen"))
	assert.Equal(t, float32(0.4), table.Weights.Get(JawOpen))
	assert.Equal(t, BlendshapeIndex(-1), BlendshapeIndexFromName("unknown"))
}

func TestTableFor(t *testing.T) {
	_, arkit := TableFor(BlendshapeNames[:]).(*BlendshapeTable)
	assert.True(t, arkit)

	_, mapped := TableFor([]string{"happy", "jawOpen"}).(*MapTable)
	assert.True(t, mapped)
}

func docWithExtension(t *testing.T, name string, v any) *gltf.Document {
	t.Helper()
	raw, err := json.Marshal(v)
	require.NoError(t, err)
	doc := gltf.NewDocument()
	doc.Extensions = gltf.Extensions{name: json.RawMessage(raw)}
	return doc
}

func TestChannelNames(t *testing.T) {
	t.Run("vrm1", func(t *testing.T) {
		doc := docWithExtension(t, "VRMC_vrm", map[string]any{
			"expressions": map[string]any{
				"preset": map[string]any{"happy": map[string]any{}, "aa": map[string]any{}, "blink": map[string]any{}},
				"custom": map[string]any{"wink_cute": map[string]any{}},
			},
		})
		names, err := ChannelNames(doc)
		require.NoError(t, err)
		assert.Equal(t, []string{"aa", "blink", "happy", "wink_cute"}, names)
	})

	t.Run("vrm0", func(t *testing.T) {
		doc := docWithExtension(t, "VRM", map[string]any{
			"blendShapeMaster": map[string]any{
				"blendShapeGroups": []map[string]any{
					{"name": "A", "presetName": "a"},
					{"name": "Joy", "presetName": "joy"},
					{"name": "Blink_L", "presetName": "blink_l"},
					{"name": "Smug", "presetName": "unknown"},
					{"name": "Joy2", "presetName": "joy"},
				},
			},
		})
		names, err := ChannelNames(doc)
		require.NoError(t, err)
		assert.Equal(t, []string{"aa", "happy", "blinkLeft", "Smug"}, names)
	})

	t.Run("morph targets", func(t *testing.T) {
		doc := gltf.NewDocument()
		doc.Meshes = []*gltf.Mesh{
			{Name: "face", Extras: map[string]any{"targetNames": []any{"jawOpen", "eyeBlinkLeft"}}},
			{Name: "body"},
		}
		names, err := ChannelNames(doc)
		require.NoError(t, err)
		assert.Equal(t, []string{"jawOpen", "eyeBlinkLeft"}, names)
	})
}

func TestBlinker(t *testing.T) {
	b := NewBlinker(DefaultExpressionConfig().Blink, rand.New(rand.NewSource(5)))

	b.Update(2.5)
	assert.Equal(t, BlinkStateOpen, b.State())
	b.Update(0.5)
	assert.Equal(t, BlinkStateClosing, b.State())

	b.Update(0.125)
	assert.InDelta(t, 0.5, float64(b.Weight()), 1e-6)
	b.Update(0.125)
	assert.Equal(t, BlinkStateOpening, b.State())
	assert.Equal(t, float32(1), b.Weight())
	b.Update(0.3)
	assert.Equal(t, BlinkStateOpen, b.State())
	assert.Zero(t, b.Weight())

	assert.GreaterOrEqual(t, b.next, float32(2))
	assert.LessOrEqual(t, b.next, float32(5))
}

func TestBlinker_DisableFinishesBlink(t *testing.T) {
	b := NewBlinker(DefaultExpressionConfig().Blink, rand.New(rand.NewSource(5)))
	b.Trigger()
	b.Update(0.1)
	b.SetEnabled(false)

	for i := 0; i < 20; i++ {
		b.Update(0.05)
	}
	assert.Zero(t, b.Weight())
	assert.False(t, b.IsBlinking())

	b.Update(10)
	assert.False(t, b.IsBlinking())
}

func TestMoodSet_CaseInsensitive(t *testing.T) {
	m := NewMoodSet(DefaultExpressionConfig().Mood, rand.New(rand.NewSource(1)))
	require.NoError(t, m.Set("HAPPY"))
	assert.Equal(t, "happy", m.Current())
	assert.True(t, m.Matches("Joy"))
	assert.False(t, m.Matches("sorrow"))
	assert.Equal(t, []string{"happy", "neutral", "relaxed", "sad", "surprised"}, m.Moods())
}

func TestMoodSet_PoolSkipsUnknownMoods(t *testing.T) {
	cfg := DefaultExpressionConfig().Mood
	cfg.AutoChange = true
	cfg.AutoReturn = false
	cfg.Pool = []string{"Happy", "angry_face"}
	m := NewMoodSet(cfg, rand.New(rand.NewSource(3)))
	assert.Equal(t, []string{"angry_face"}, m.UnknownPool())

	for i := 0; i < 5; i++ {
		m.Update(cfg.ChangeMax + 0.1)
		assert.Contains(t, []string{"neutral", "happy"}, m.Current())
	}
	assert.Equal(t, "happy", m.Current())
}
