package driver

import (
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// DefaultTick is the update cadence used when none is configured.
const DefaultTick = "5s"

// Tick describes how often Update is called: either a cron expression or a
// fixed interval.
//
// Accepted forms:
//   - interval: "5s", "1m30s", "@every 10s", "every:15s"
//   - cron, seconds optional: "*/10 * * * * *", "* * * * *", "@minutely", "cron:0 * * * *"
type Tick struct {
	Cron  string
	Every time.Duration
}

// extraDescriptors covers descriptors the cron parser lacks.
var extraDescriptors = map[string]string{
	"@minutely": "0 * * * * *",
}

var tickParser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// ParseTick parses raw; an empty string yields DefaultTick.
func ParseTick(raw string) (Tick, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		s = DefaultTick
	}
	low := strings.ToLower(s)

	switch {
	case strings.HasPrefix(low, "cron:"):
		return parseCron(strings.TrimSpace(s[len("cron:"):]))
	case strings.HasPrefix(low, "every:"):
		return parseEvery(strings.TrimSpace(s[len("every:"):]))
	case strings.HasPrefix(low, "@every "):
		return parseEvery(strings.TrimSpace(s[len("@every "):]))
	case strings.HasPrefix(s, "@"), strings.ContainsAny(s, " \t"):
		return parseCron(s)
	}

	if d, err := time.ParseDuration(s); err == nil {
		return everyTick(d)
	}
	return Tick{}, fmt.Errorf("invalid tick %q (use a duration like '5s' or cron like '*/10 * * * * *')", raw)
}

func parseCron(expr string) (Tick, error) {
	if expr == "" {
		return Tick{}, fmt.Errorf("cron expression required")
	}
	if mapped, ok := extraDescriptors[strings.ToLower(expr)]; ok {
		expr = mapped
	}
	if _, err := tickParser.Parse(expr); err != nil {
		return Tick{}, fmt.Errorf("invalid cron tick %q: %w", expr, err)
	}
	return Tick{Cron: expr}, nil
}

func parseEvery(v string) (Tick, error) {
	d, err := time.ParseDuration(v)
	if err != nil {
		return Tick{}, fmt.Errorf("invalid interval %q: %w", v, err)
	}
	return everyTick(d)
}

func everyTick(d time.Duration) (Tick, error) {
	// cron.Every rounds down to whole seconds.
	if d < time.Second {
		return Tick{}, fmt.Errorf("tick interval must be at least 1s, got %s", d)
	}
	return Tick{Every: d.Truncate(time.Second)}, nil
}

// Schedule returns the cron schedule for t.
func (t Tick) Schedule() (cron.Schedule, error) {
	if t.Every > 0 {
		return cron.Every(t.Every), nil
	}
	return tickParser.Parse(t.Cron)
}

func (t Tick) String() string {
	if t.Every > 0 {
		return "@every " + t.Every.String()
	}
	return t.Cron
}
