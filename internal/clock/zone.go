package clock

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// DefaultZone is the game server zone: a fixed UTC+8 offset with no DST.
var DefaultZone = time.FixedZone("GMT+8", 8*60*60)

var offsetRe = regexp.MustCompile(`^(?i:(?:utc|gmt))?\s*([+-])(\d{1,2})(?::?(\d{2}))?$`)

// LoadZone resolves a timezone setting. Accepted forms: empty (DefaultZone),
// fixed offsets such as "+08:00", "GMT+8" or "UTC-0530", and IANA names.
func LoadZone(spec string) (*time.Location, error) {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return DefaultZone, nil
	}
	if m := offsetRe.FindStringSubmatch(spec); m != nil {
		h, _ := strconv.Atoi(m[2])
		mins := 0
		if m[3] != "" {
			mins, _ = strconv.Atoi(m[3])
		}
		if h > 14 || mins > 59 {
			return nil, fmt.Errorf("offset %q out of range", spec)
		}
		secs := h*3600 + mins*60
		if m[1] == "-" {
			secs = -secs
		}
		return time.FixedZone(ZoneLabel(secs), secs), nil
	}
	loc, err := time.LoadLocation(spec)
	if err != nil {
		return nil, fmt.Errorf("unknown timezone %q: %w", spec, err)
	}
	return loc, nil
}

// ZoneLabel renders an offset the way reminders print it ("GMT+8", "GMT-5:30").
func ZoneLabel(offsetSeconds int) string {
	sign := "+"
	if offsetSeconds < 0 {
		sign = "-"
		offsetSeconds = -offsetSeconds
	}
	h := offsetSeconds / 3600
	m := (offsetSeconds % 3600) / 60
	if m == 0 {
		return fmt.Sprintf("GMT%s%d", sign, h)
	}
	return fmt.Sprintf("GMT%s%d:%02d", sign, h, m)
}
