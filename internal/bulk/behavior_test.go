package bulk

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func defaultRule(behaviors ...any) map[string]any {
	return map[string]any{"name": "default", "behaviors": behaviors, "children": []any{}}
}

func allowPost(enable bool) map[string]any {
	return map[string]any{"name": "allowPost", "options": map[string]any{"enable": enable}}
}

func TestApplyBehaviorAlreadyPresent(t *testing.T) {
	rules := defaultRule(allowPost(true))
	exist, warning, err := ApplyBehavior(rules, allowPost(true), true, true)
	require.NoError(t, err)
	assert.True(t, exist)
	assert.Empty(t, warning)
	assert.Equal(t, defaultRule(allowPost(true)), rules)
}

func TestApplyBehaviorReplaces(t *testing.T) {
	origin := map[string]any{"name": "origin", "options": map[string]any{}}
	rules := defaultRule(origin, allowPost(true))
	exist, warning, err := ApplyBehavior(rules, allowPost(false), true, false)
	require.NoError(t, err)
	assert.False(t, exist)
	assert.Empty(t, warning)
	assert.Equal(t, []any{origin, allowPost(false)}, rules["behaviors"])
}

func TestApplyBehaviorWarnsOnUnexpectedValue(t *testing.T) {
	rules := defaultRule(allowPost(false))
	exist, warning, err := ApplyBehavior(rules, allowPost(true), true, true)
	require.NoError(t, err)
	assert.False(t, exist)
	assert.Contains(t, warning, "allowPost")
	assert.Equal(t, []any{allowPost(true)}, rules["behaviors"])
}

func TestApplyBehaviorReplacesEntryWithoutEnable(t *testing.T) {
	bare := map[string]any{"name": "allowPost", "options": map[string]any{"allowWithoutContentLength": true}}
	rules := defaultRule(bare)
	exist, warning, err := ApplyBehavior(rules, allowPost(false), true, false)
	require.NoError(t, err)
	assert.False(t, exist)
	assert.Contains(t, warning, "no enable option")
	assert.Equal(t, []any{allowPost(false)}, rules["behaviors"])
}

func TestApplyBehaviorAppends(t *testing.T) {
	rules := map[string]any{"name": "default"}
	exist, _, err := ApplyBehavior(rules, allowPost(false), true, false)
	require.NoError(t, err)
	assert.False(t, exist)
	assert.Equal(t, []any{allowPost(false)}, rules["behaviors"])
}

func TestApplyBehaviorDoesNotAliasDesired(t *testing.T) {
	desired := allowPost(true)
	rules := defaultRule()
	_, _, err := ApplyBehavior(rules, desired, false, true)
	require.NoError(t, err)

	desired["options"].(map[string]any)["enable"] = false
	added := rules["behaviors"].([]any)[0].(map[string]any)
	assert.Equal(t, true, added["options"].(map[string]any)["enable"])
}

func TestApplyBehaviorErrors(t *testing.T) {
	_, _, err := ApplyBehavior(defaultRule(), map[string]any{"options": map[string]any{}}, true, true)
	assert.ErrorIs(t, err, ErrNoBehaviorName)

	_, _, err = ApplyBehavior(nil, allowPost(true), true, true)
	assert.Error(t, err)

	_, _, err = ApplyBehavior(map[string]any{"behaviors": "nope"}, allowPost(true), true, true)
	assert.Error(t, err)
}

func TestBehaviorEnable(t *testing.T) {
	v, ok := BehaviorEnable(allowPost(true))
	assert.True(t, ok)
	assert.True(t, v)

	v, ok = BehaviorEnable(map[string]any{"name": "http2", "options": map[string]any{"enabled": false}})
	assert.True(t, ok)
	assert.False(t, v)

	_, ok = BehaviorEnable(map[string]any{"name": "origin"})
	assert.False(t, ok)
}
