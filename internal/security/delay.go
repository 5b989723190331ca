package security

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const captchaValue = "captcha"

// Delay is either a number of seconds to wait or a captcha requirement.
type Delay struct {
	seconds int
	captcha bool
}

// Captcha is the delay that can only be lifted by solving a captcha.
var Captcha = Delay{captcha: true}

// Seconds returns a numeric delay.
func Seconds(n int) Delay { return Delay{seconds: n} }

// IsCaptcha reports whether the delay requires a captcha.
func (d Delay) IsCaptcha() bool { return d.captcha }

// Seconds returns the numeric delay, zero for captcha delays.
func (d Delay) Seconds() int { return d.seconds }

// Duration returns the numeric delay as a duration.
func (d Delay) Duration() time.Duration { return time.Duration(d.seconds) * time.Second }

func (d Delay) String() string {
	if d.captcha {
		return captchaValue
	}
	return strconv.Itoa(d.seconds) + "s"
}

// MarshalJSON encodes a captcha delay as "captcha" and a numeric one as seconds.
func (d Delay) MarshalJSON() ([]byte, error) {
	if d.captcha {
		return json.Marshal(captchaValue)
	}
	return json.Marshal(d.seconds)
}

func (d *Delay) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		return d.parse(s)
	}
	var n int
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("delay must be seconds or %q: %w", captchaValue, err)
	}
	return d.parse(strconv.Itoa(n))
}

func (d Delay) MarshalYAML() (any, error) {
	if d.captcha {
		return captchaValue, nil
	}
	return d.seconds, nil
}

func (d *Delay) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: delay must be a scalar", node.Line)
	}
	if err := d.parse(node.Value); err != nil {
		return fmt.Errorf("line %d: %w", node.Line, err)
	}
	return nil
}

func (d *Delay) parse(s string) error {
	s = strings.TrimSpace(s)
	if strings.EqualFold(s, captchaValue) {
		*d = Captcha
		return nil
	}
	if n, err := strconv.Atoi(s); err == nil {
		if n <= 0 {
			return fmt.Errorf("delay must be positive, got %d", n)
		}
		*d = Seconds(n)
		return nil
	}
	dur, err := time.ParseDuration(s)
	if err != nil || dur < time.Second {
		return fmt.Errorf("invalid delay %q", s)
	}
	*d = Seconds(int(dur / time.Second))
	return nil
}

// ThrottleRule applies Delay once a counter reaches Threshold.
type ThrottleRule struct {
	Threshold int   `yaml:"threshold" json:"threshold"`
	Delay     Delay `yaml:"delay" json:"delay"`
}

// ThrottleRules is a tiered backoff table.
type ThrottleRules []ThrottleRule

// Validate requires positive, distinct thresholds and positive delays.
func (r ThrottleRules) Validate() error {
	seen := make(map[int]struct{}, len(r))
	for _, rule := range r {
		if rule.Threshold <= 0 {
			return fmt.Errorf("%w: threshold must be positive, got %d", ErrInvalidSettings, rule.Threshold)
		}
		if _, dup := seen[rule.Threshold]; dup {
			return fmt.Errorf("%w: duplicate threshold %d", ErrInvalidSettings, rule.Threshold)
		}
		seen[rule.Threshold] = struct{}{}
		if !rule.Delay.IsCaptcha() && rule.Delay.Seconds() <= 0 {
			return fmt.Errorf("%w: threshold %d has no delay", ErrInvalidSettings, rule.Threshold)
		}
	}
	return nil
}

// Sorted returns the rules ordered by ascending threshold.
func (r ThrottleRules) Sorted() ThrottleRules {
	out := make(ThrottleRules, len(r))
	copy(out, r)
	sort.Slice(out, func(i, j int) bool { return out[i].Threshold < out[j].Threshold })
	return out
}

// Match returns the rule with the highest threshold reached by count.
func (r ThrottleRules) Match(count int) (ThrottleRule, bool) {
	var (
		best  ThrottleRule
		found bool
	)
	for _, rule := range r {
		if count >= rule.Threshold && (!found || rule.Threshold > best.Threshold) {
			best, found = rule, true
		}
	}
	return best, found
}

// RemainingDelay returns how long a client still has to wait under rule, given the time of
// its latest counted request. It is a pure function of its inputs.
func RemainingDelay(rule ThrottleRule, last, now time.Time) (Delay, bool) {
	if rule.Delay.IsCaptcha() {
		return Captcha, true
	}
	remaining := last.Add(rule.Delay.Duration()).Sub(now)
	if remaining <= 0 {
		return Delay{}, false
	}
	return Seconds(int(math.Ceil(remaining.Seconds()))), true
}

// Evaluate combines Match and RemainingDelay for one counter.
func (r ThrottleRules) Evaluate(count int, last, now time.Time) (Delay, bool) {
	rule, ok := r.Match(count)
	if !ok {
		return Delay{}, false
	}
	return RemainingDelay(rule, last, now)
}

// LoginDelay is the delay owed by a client with count failures, the latest at last.
func LoginDelay(rules ThrottleRules, count int, last, now time.Time) (Delay, bool) {
	return rules.Evaluate(count, last, now)
}
