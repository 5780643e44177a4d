package jsonval

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func decode(t *testing.T, raw string) any {
	t.Helper()
	var v any
	require.NoError(t, json.Unmarshal([]byte(raw), &v))
	return v
}

func TestParsePathDotAndBracketSegments(t *testing.T) {
	p, err := ParsePath("$.users[0].tags[*]")
	require.NoError(t, err)
	require.Len(t, p.segs, 4)
}

func TestGetReturnsNestedValue(t *testing.T) {
	doc := decode(t, `{"a":{"b":[1,2,3]}}`)
	p, err := ParsePath("$.a.b[1]")
	require.NoError(t, err)
	vals, err := Get(doc, p)
	require.NoError(t, err)
	require.Equal(t, []any{float64(2)}, vals)
}

func TestSetCreatesNewLeafKey(t *testing.T) {
	doc := decode(t, `{"a":{}}`)
	p, err := ParsePath("$.a.b")
	require.NoError(t, err)
	root, count, err := Set(doc, p, float64(5))
	require.NoError(t, err)
	require.Equal(t, 1, count)
	require.Equal(t, float64(5), root.(map[string]any)["a"].(map[string]any)["b"])
}

func TestSetAtRootReplacesWholeDocument(t *testing.T) {
	doc := decode(t, `{"a":1}`)
	p, err := ParsePath("$")
	require.NoError(t, err)
	root, count, err := Set(doc, p, decode(t, `{"b":2}`))
	require.NoError(t, err)
	require.Equal(t, 1, count)
	require.Equal(t, float64(2), root.(map[string]any)["b"])
}

func TestDelRemovesMapKey(t *testing.T) {
	doc := decode(t, `{"a":1,"b":2}`)
	p, err := ParsePath("$.a")
	require.NoError(t, err)
	root, count := Del(doc, p)
	require.Equal(t, 1, count)
	_, present := root.(map[string]any)["a"]
	require.False(t, present)
}

func TestArrAppendGrowsArray(t *testing.T) {
	doc := decode(t, `{"arr":[1,2]}`)
	p, err := ParsePath("$.arr")
	require.NoError(t, err)
	root, newLen, err := ArrAppend(doc, p, float64(3), float64(4))
	require.NoError(t, err)
	require.Equal(t, 4, newLen)
	require.Equal(t, []any{float64(1), float64(2), float64(3), float64(4)}, root.(map[string]any)["arr"])
}

func TestArrPopRemovesLastByDefault(t *testing.T) {
	doc := decode(t, `{"arr":[1,2,3]}`)
	p, err := ParsePath("$.arr")
	require.NoError(t, err)
	root, popped, err := ArrPop(doc, p, -1)
	require.NoError(t, err)
	require.Equal(t, float64(3), popped)
	require.Equal(t, []any{float64(1), float64(2)}, root.(map[string]any)["arr"])
}

func TestNumIncrByAddsDelta(t *testing.T) {
	doc := decode(t, `{"n":10}`)
	p, err := ParsePath("$.n")
	require.NoError(t, err)
	root, results, err := NumIncrBy(doc, p, 5)
	require.NoError(t, err)
	require.Equal(t, []float64{15}, results)
	require.Equal(t, float64(15), root.(map[string]any)["n"])
}

func TestToggleFlipsBoolean(t *testing.T) {
	doc := decode(t, `{"flag":true}`)
	p, err := ParsePath("$.flag")
	require.NoError(t, err)
	root, results, err := Toggle(doc, p)
	require.NoError(t, err)
	require.Equal(t, []bool{false}, results)
	require.Equal(t, false, root.(map[string]any)["flag"])
}

func TestMergeAppliesRFC7396Patch(t *testing.T) {
	doc := decode(t, `{"a":1,"b":{"c":2,"d":3}}`)
	patch := decode(t, `{"b":{"c":null,"e":4}}`)
	p, err := ParsePath("$")
	require.NoError(t, err)
	root, err := Merge(doc, p, patch)
	require.NoError(t, err)
	b := root.(map[string]any)["b"].(map[string]any)
	_, hasC := b["c"]
	require.False(t, hasC)
	require.Equal(t, float64(4), b["e"])
	require.Equal(t, float64(3), b["d"])
}

func TestArrIndexFindsMatchingElement(t *testing.T) {
	doc := decode(t, `{"arr":["x","y","z"]}`)
	p, err := ParsePath("$.arr")
	require.NoError(t, err)
	vals, err := Get(doc, p)
	require.NoError(t, err)
	idx, err := ArrIndex(vals[0], "y")
	require.NoError(t, err)
	require.Equal(t, 1, idx)
}

func TestTypeOfReportsRedisJSONTypeNames(t *testing.T) {
	require.Equal(t, "object", TypeOf(map[string]any{}))
	require.Equal(t, "array", TypeOf([]any{}))
	require.Equal(t, "number", TypeOf(float64(1)))
	require.Equal(t, "boolean", TypeOf(true))
	require.Equal(t, "null", TypeOf(nil))
}
