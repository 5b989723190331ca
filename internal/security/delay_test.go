package security

import (
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestThrottleRulesMatchPicksHighestReached(t *testing.T) {
	rules := ThrottleRules{
		{Threshold: 9, Delay: Seconds(120)},
		{Threshold: 4, Delay: Seconds(10)},
		{Threshold: 12, Delay: Captcha},
	}

	_, ok := rules.Match(3)
	assert.False(t, ok)

	rule, ok := rules.Match(4)
	require.True(t, ok)
	assert.Equal(t, 4, rule.Threshold)

	rule, ok = rules.Match(11)
	require.True(t, ok)
	assert.Equal(t, 9, rule.Threshold)

	rule, ok = rules.Match(40)
	require.True(t, ok)
	assert.True(t, rule.Delay.IsCaptcha())
}

func TestRemainingDelay(t *testing.T) {
	rule := ThrottleRule{Threshold: 5, Delay: Seconds(30)}

	d, ok := RemainingDelay(rule, fixedNow, fixedNow)
	require.True(t, ok)
	assert.Equal(t, 30, d.Seconds())

	d, ok = RemainingDelay(rule, fixedNow.Add(-10*time.Second), fixedNow)
	require.True(t, ok)
	assert.Equal(t, 20, d.Seconds())

	d, ok = RemainingDelay(rule, fixedNow.Add(-9500*time.Millisecond), fixedNow)
	require.True(t, ok)
	assert.Equal(t, 21, d.Seconds(), "partial seconds round up")

	_, ok = RemainingDelay(rule, fixedNow.Add(-30*time.Second), fixedNow)
	assert.False(t, ok)

	d, ok = RemainingDelay(ThrottleRule{Threshold: 1, Delay: Captcha}, fixedNow.Add(-time.Hour), fixedNow)
	require.True(t, ok)
	assert.True(t, d.IsCaptcha())
}

func TestLoginDelayIsPure(t *testing.T) {
	rules := DefaultSettings().LoginThrottleRules
	last := fixedNow.Add(-3 * time.Second)
	first, ok1 := LoginDelay(rules, 4, last, fixedNow)
	second, ok2 := LoginDelay(rules, 4, last, fixedNow)
	assert.Equal(t, ok1, ok2)
	assert.Equal(t, first, second)
	assert.Equal(t, 7, first.Seconds())
}

func TestThrottleRulesValidate(t *testing.T) {
	assert.NoError(t, DefaultSettings().LoginThrottleRules.Validate())
	assert.ErrorIs(t, ThrottleRules{{Threshold: 0, Delay: Seconds(1)}}.Validate(), ErrInvalidSettings)
	assert.ErrorIs(t, ThrottleRules{{Threshold: 2, Delay: Seconds(1)}, {Threshold: 2, Delay: Captcha}}.Validate(), ErrInvalidSettings)
	assert.ErrorIs(t, ThrottleRules{{Threshold: 2}}.Validate(), ErrInvalidSettings)
}

func TestDelayJSON(t *testing.T) {
	b, err := json.Marshal(map[string]Delay{"a": Seconds(12), "b": Captcha})
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":12,"b":"captcha"}`, string(b))

	var got struct {
		A Delay `json:"a"`
		B Delay `json:"b"`
	}
	require.NoError(t, json.Unmarshal(b, &got))
	assert.Equal(t, Seconds(12), got.A)
	assert.True(t, got.B.IsCaptcha())

	var bad Delay
	assert.Error(t, json.Unmarshal([]byte(`-3`), &bad))
	assert.Error(t, json.Unmarshal([]byte(`true`), &bad))
}

func TestDelayYAML(t *testing.T) {
	src := `
- threshold: 3
  delay: 15
- threshold: 6
  delay: 2m
- threshold: 9
  delay: captcha
`
	var rules ThrottleRules
	require.NoError(t, yaml.Unmarshal([]byte(src), &rules))
	require.Len(t, rules, 3)
	assert.Equal(t, 15, rules[0].Delay.Seconds())
	assert.Equal(t, 120, rules[1].Delay.Seconds())
	assert.True(t, rules[2].Delay.IsCaptcha())

	err := yaml.Unmarshal([]byte("- threshold: 1\n  delay: soon\n"), &rules)
	assert.Error(t, err)
}

func TestThrottleErrorHelpers(t *testing.T) {
	var err error = &ThrottleError{Type: TypeUserLogin, Delay: Seconds(4), Reason: "slow down"}
	wrapped := fmt.Errorf("login: %w", err)

	te, ok := AsThrottle(wrapped)
	require.True(t, ok)
	assert.Equal(t, TypeUserLogin, te.Type)
	assert.True(t, IsThrottle(wrapped))
	assert.False(t, IsThrottle(errBoom))
	assert.Contains(t, err.Error(), "USER_LOGIN")
	assert.Contains(t, err.Error(), "4s")
}
