package config

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration is a YAML duration that accepts Go units plus d (days) and w (weeks).
type Duration time.Duration

func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return fmt.Errorf("duration: %w", err)
	}
	parsed, err := parseDurationExtended(raw)
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

var durationTerm = regexp.MustCompile(`^([0-9]+(?:\.[0-9]+)?)([a-zµ]+)`)

// parseDurationExtended parses Go-style duration strings and adds support for:
// - d (days) where 1d = 24h
// - w (weeks) where 1w = 7d
//
// Examples: "168h", "7d", "1w2d", "1.5d", "-2w".
func parseDurationExtended(raw string) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, fmt.Errorf("duration is required")
	}
	if !strings.ContainsAny(raw, "dw") {
		return time.ParseDuration(raw)
	}

	rest := raw
	var b strings.Builder
	if rest[0] == '+' || rest[0] == '-' {
		b.WriteByte(rest[0])
		rest = rest[1:]
	}
	if rest == "" {
		return 0, fmt.Errorf("invalid duration %q", raw)
	}

	for rest != "" {
		m := durationTerm.FindStringSubmatch(rest)
		if m == nil {
			return 0, fmt.Errorf("invalid duration %q", raw)
		}
		rest = rest[len(m[0]):]

		num, unit := m[1], m[2]
		var scale float64
		switch unit {
		case "d":
			scale = 24
		case "w":
			scale = 7 * 24
		default:
			b.WriteString(num + unit)
			continue
		}
		f, err := strconv.ParseFloat(num, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid duration %q", raw)
		}
		b.WriteString(strconv.FormatFloat(f*scale, 'f', -1, 64) + "h")
	}
	return time.ParseDuration(b.String())
}
