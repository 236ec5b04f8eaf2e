package bulk

import (
	"errors"
	"fmt"
)

// ErrNoBehaviorName is returned for a desired behavior without a name.
var ErrNoBehaviorName = errors.New("behavior has no name")

// BehaviorEnable reads the enable option of a behavior. Both "enable" and
// "enabled" are accepted; ok is false when neither is a boolean.
func BehaviorEnable(behavior map[string]any) (enabled, ok bool) {
	opts, _ := behavior["options"].(map[string]any)
	for _, key := range []string{"enable", "enabled"} {
		if v, found := opts[key].(bool); found {
			return v, true
		}
	}
	return false, false
}

// ApplyBehavior makes the default rule in rules carry desired. It reports
// exist when a behavior of the same name already has enable == newValue, in
// which case rules is left untouched. A same-named behavior without an enable
// option never matches and is replaced. current is the value the caller expects
// to find; a mismatch is returned as a warning string, not an error.
func ApplyBehavior(rules map[string]any, desired map[string]any, current, newValue bool) (exist bool, warning string, err error) {
	name, _ := desired["name"].(string)
	if name == "" {
		return false, "", ErrNoBehaviorName
	}
	if rules == nil {
		return false, "", errors.New("rule tree has no rules")
	}

	var behaviors []any
	if raw, found := rules["behaviors"]; found && raw != nil {
		list, ok := raw.([]any)
		if !ok {
			return false, "", fmt.Errorf("default rule behaviors is %T, not a list", raw)
		}
		behaviors = list
	}

	for i, b := range behaviors {
		existing, ok := b.(map[string]any)
		if !ok || existing["name"] != name {
			continue
		}
		enabled, ok := BehaviorEnable(existing)
		switch {
		case ok && enabled == newValue:
			return true, "", nil
		case !ok:
			warning = fmt.Sprintf("%s has no enable option, expected %t", name, current)
		case enabled != current:
			warning = fmt.Sprintf("%s has enable=%t, expected %t", name, enabled, current)
		}
		behaviors[i] = cloneBehavior(desired)
		rules["behaviors"] = behaviors
		return false, warning, nil
	}

	rules["behaviors"] = append(behaviors, cloneBehavior(desired))
	return false, "", nil
}

func cloneBehavior(b map[string]any) map[string]any {
	out := make(map[string]any, len(b))
	for k, v := range b {
		if m, ok := v.(map[string]any); ok {
			v = cloneBehavior(m)
		}
		out[k] = v
	}
	return out
}

