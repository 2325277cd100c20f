package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func mustJSON(t *testing.T, doc string) Node {
	t.Helper()
	result, err := Load([]byte(doc), FormatJSON, "inline.json")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	return result.Tree
}

func TestNodeGet_MissingLinksAreAbsent(t *testing.T) {
	tree := mustJSON(t, `{"Spec":{"Probes":{"LivenessProbes":[]}},"Inbound":null}`)

	paths := [][]any{
		{"Inbound", "TrafficMatches"},
		{"Outbound"},
		{"Spec", "Traffic", "EnableEgress"},
		{"Spec", "Probes", "LivenessProbes", 0, "httpGet", "scheme"},
		{"Spec", "Probes", "LivenessProbes", -1},
		{"Spec", "Probes", 0},
		{"Spec", 3.5},
	}
	for _, p := range paths {
		n := tree.Get(p...)
		assert.False(t, n.Present(), "path %v", p)
		assert.False(t, n.Truthy(), "path %v", p)
		assert.Equal(t, "dflt", n.String("dflt"), "path %v", p)
		assert.Equal(t, 7, n.Int(7), "path %v", p)
	}
}

func TestNodeGet_ZeroNode(t *testing.T) {
	var n Node
	assert.False(t, n.Get("a", 0, "b").Present())
	assert.Nil(t, n.Value())
	assert.Equal(t, 0, n.Len())
}

func TestNodeTruthy(t *testing.T) {
	tree := mustJSON(t, `{
		"f": false, "t": true, "zero": 0, "one": 1, "empty": "", "s": "x",
		"list": [], "obj": {}, "null": null
	}`)

	tests := map[string]bool{
		"f": false, "t": true, "zero": false, "one": true, "empty": false,
		"s": true, "list": true, "obj": true, "null": false, "missing": false,
	}
	for key, want := range tests {
		assert.Equal(t, want, tree.Get(key).Truthy(), key)
	}
}

func TestNodeScalars(t *testing.T) {
	tree := mustJSON(t, `{"port": 8080, "named": "8081", "frac": 1.5, "flag": true, "scheme": "HTTP"}`)

	assert.Equal(t, 8080, tree.Get("port").Int(0))
	assert.Equal(t, 8081, tree.Get("named").Int(0))
	assert.Equal(t, 0, tree.Get("frac").Int(0))
	assert.Equal(t, "8080", tree.Get("port").String(""))
	assert.Equal(t, "HTTP", tree.Get("scheme").String(""))
	assert.True(t, tree.Get("flag").Bool(false))
	assert.True(t, tree.Get("scheme").Bool(true), "non-bool falls back to default")
	assert.Equal(t, 5, tree.Len())
}

func TestWrapNormalizesYAMLMaps(t *testing.T) {
	n := Wrap(map[any]any{
		"Spec": map[any]any{
			"Traffic": map[any]any{"EnableEgress": true},
		},
		1: []any{map[any]any{"k": "v"}},
	})

	assert.True(t, n.Get("Spec", "Traffic", "EnableEgress").Truthy())
	assert.Equal(t, "v", n.Get("1", 0, "k").String(""))
}
