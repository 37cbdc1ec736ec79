package tools

import (
	"context"
	"fmt"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/lestrrat-go/strftime"
)

const defaultDateFormat = "%Y-%m-%d %H:%M:%S"

var dateLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
	"2006/01/02 15:04:05",
	"2006/01/02",
	"01/02/2006 15:04:05",
	"01/02/2006",
	"02/01/2006 15:04:05",
	"02/01/2006",
	"01-02-2006 15:04",
	"02-01-2006 15:04",
	time.RFC1123Z,
	time.RFC1123,
	"January 2, 2006",
	"Jan 2, 2006",
}

var commonTimezones = []string{
	"UTC",
	"US/Eastern",
	"US/Central",
	"US/Mountain",
	"US/Pacific",
	"Europe/London",
	"Europe/Paris",
	"Europe/Berlin",
	"Asia/Tokyo",
	"Asia/Shanghai",
	"Asia/Kolkata",
	"Australia/Sydney",
	"America/New_York",
	"America/Chicago",
	"America/Denver",
	"America/Los_Angeles",
}

// ParseDate tries the supported layouts in order. Strings without an offset
// are interpreted in loc.
func ParseDate(s string, loc *time.Location) (time.Time, error) {
	s = strings.TrimSpace(s)
	if loc == nil {
		loc = time.UTC
	}
	for _, layout := range dateLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unable to parse date string: %s", s)
}

func loadLocation(name string) (*time.Location, error) {
	name = strings.TrimSpace(name)
	if name == "" || strings.EqualFold(name, "utc") {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone %q: %w", name, err)
	}
	return loc, nil
}

// DateTimeTool reports the current time and performs date arithmetic,
// formatting and timezone conversion.
type DateTimeTool struct {
	// Now is overridable in tests.
	Now func() time.Time
}

func NewDateTimeTool() *DateTimeTool { return &DateTimeTool{Now: time.Now} }

func (t *DateTimeTool) Descriptor() Descriptor {
	return Descriptor{
		Name:        "datetime",
		Description: "Get current date/time, convert timezones, and perform date calculations",
		Parameters: []Parameter{
			{
				Name:        "operation",
				Type:        TypeString,
				Description: "Operation to perform",
				Required:    true,
				Enum:        []string{"current", "convert_timezone", "add_days", "format", "parse"},
			},
			{Name: "timezone", Type: TypeString, Description: "Timezone (e.g., 'UTC', 'US/Eastern', 'Europe/London')", Default: "UTC"},
			{Name: "date_string", Type: TypeString, Description: "Date string to parse or convert"},
			{Name: "days", Type: TypeInteger, Description: "Number of days to add (can be negative)", Default: 0},
			{Name: "format", Type: TypeString, Description: "strftime format string for date formatting", Default: defaultDateFormat},
		},
	}
}

func (t *DateTimeTool) now() time.Time {
	if t.Now == nil {
		return time.Now()
	}
	return t.Now()
}

func (t *DateTimeTool) Execute(_ context.Context, args map[string]any) Result {
	var in struct {
		Operation  string `mapstructure:"operation"`
		Timezone   string `mapstructure:"timezone"`
		DateString string `mapstructure:"date_string"`
		Days       int    `mapstructure:"days"`
		Format     string `mapstructure:"format"`
	}
	if err := Decode(args, &in); err != nil {
		return FromError(err)
	}
	if in.Format == "" {
		in.Format = defaultDateFormat
	}
	loc, err := loadLocation(in.Timezone)
	if err != nil {
		return FromError(err)
	}

	switch strings.ToLower(strings.TrimSpace(in.Operation)) {
	case "current":
		now := t.now().In(loc)
		formatted, err := strftime.Format(in.Format, now)
		if err != nil {
			return Fail("invalid format %q: %v", in.Format, err)
		}
		return OK(map[string]any{
			"timezone":     loc.String(),
			"current_time": formatted,
			"iso_format":   now.Format(time.RFC3339),
			"timestamp":    now.Unix(),
			"weekday":      now.Weekday().String(),
		})

	case "convert_timezone":
		if in.DateString == "" {
			return Fail("date_string is required for timezone conversion")
		}
		parsed, err := ParseDate(in.DateString, time.UTC)
		if err != nil {
			return FromError(err)
		}
		converted := parsed.In(loc)
		formatted, err := strftime.Format(in.Format, converted)
		if err != nil {
			return Fail("invalid format %q: %v", in.Format, err)
		}
		return OK(map[string]any{
			"original":        in.DateString,
			"target_timezone": loc.String(),
			"converted":       formatted,
			"iso_format":      converted.Format(time.RFC3339),
		})

	case "add_days":
		base := t.now().In(loc)
		original := "current"
		if in.DateString != "" {
			base, err = ParseDate(in.DateString, loc)
			if err != nil {
				return FromError(err)
			}
			original = in.DateString
		}
		shifted := base.AddDate(0, 0, in.Days)
		formatted, err := strftime.Format(in.Format, shifted)
		if err != nil {
			return Fail("invalid format %q: %v", in.Format, err)
		}
		return OK(map[string]any{
			"original_date": original,
			"days_added":    in.Days,
			"result":        formatted,
			"iso_format":    shifted.Format(time.RFC3339),
		})

	case "format":
		if in.DateString == "" {
			return Fail("date_string is required for formatting")
		}
		parsed, err := ParseDate(in.DateString, loc)
		if err != nil {
			return FromError(err)
		}
		formatted, err := strftime.Format(in.Format, parsed)
		if err != nil {
			return Fail("invalid format %q: %v", in.Format, err)
		}
		return OK(map[string]any{
			"original":   in.DateString,
			"formatted":  formatted,
			"iso_format": parsed.Format(time.RFC3339),
		})

	case "parse":
		if in.DateString == "" {
			return Fail("date_string is required for parsing")
		}
		parsed, err := ParseDate(in.DateString, loc)
		if err != nil {
			return FromError(err)
		}
		return OK(map[string]any{
			"original": in.DateString,
			"parsed": map[string]any{
				"year":       parsed.Year(),
				"month":      int(parsed.Month()),
				"day":        parsed.Day(),
				"hour":       parsed.Hour(),
				"minute":     parsed.Minute(),
				"second":     parsed.Second(),
				"weekday":    parsed.Weekday().String(),
				"iso_format": parsed.Format(time.RFC3339),
			},
		})

	default:
		return Fail("unknown operation: %s", in.Operation)
	}
}

// TimezoneInfoTool describes a timezone, or lists common ones.
type TimezoneInfoTool struct {
	Now func() time.Time
}

func NewTimezoneInfoTool() *TimezoneInfoTool { return &TimezoneInfoTool{Now: time.Now} }

func (t *TimezoneInfoTool) Descriptor() Descriptor {
	return Descriptor{
		Name:        "timezone_info",
		Description: "Get information about timezones",
		Parameters: []Parameter{
			{Name: "timezone", Type: TypeString, Description: "Timezone name (e.g., 'US/Eastern') or 'list' to see common ones", Default: "list"},
		},
	}
}

func (t *TimezoneInfoTool) Execute(_ context.Context, args map[string]any) Result {
	var in struct {
		Timezone string `mapstructure:"timezone"`
	}
	if err := Decode(args, &in); err != nil {
		return FromError(err)
	}
	name := strings.TrimSpace(in.Timezone)
	if name == "" || strings.EqualFold(name, "list") {
		return OK(map[string]any{
			"common_timezones": commonTimezones,
			"note":             "Use IANA timezone names like 'US/Eastern' or 'Europe/London'",
		})
	}
	loc, err := loadLocation(name)
	if err != nil {
		return FromError(err)
	}
	now := time.Now
	if t.Now != nil {
		now = t.Now
	}
	local := now().In(loc)
	zone, offset := local.Zone()
	return OK(map[string]any{
		"timezone":     name,
		"current_time": local.Format("2006-01-02 15:04:05 MST"),
		"utc_offset":   formatOffset(offset),
		"dst_active":   local.IsDST(),
		"zone_name":    zone,
	})
}

func formatOffset(seconds int) string {
	sign := "+"
	if seconds < 0 {
		sign = "-"
		seconds = -seconds
	}
	return fmt.Sprintf("%s%02d:%02d", sign, seconds/3600, (seconds%3600)/60)
}
