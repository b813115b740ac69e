package builtin

import (
	"context"
	"time"
)

func clockTool(now func() time.Time) Tool {
	if now == nil {
		now = time.Now
	}
	return Tool{
		Name:        "current_time",
		Description: "Returns the current date and time, optionally in a given IANA time zone.",
		Category:    "system",
		Tags:        []string{"time", "clock", "date"},
		Schema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"timezone": map[string]any{
					"type":        "string",
					"description": "IANA zone name such as 'Europe/Paris'. Defaults to UTC.",
				},
			},
		},
		Execute: func(_ context.Context, args map[string]any) (any, error) {
			loc := time.UTC
			if tz, _ := args["timezone"].(string); tz != "" {
				l, err := time.LoadLocation(tz)
				if err != nil {
					return nil, invalidArgs("unknown timezone %q", tz)
				}
				loc = l
			}
			t := now().In(loc)
			return map[string]any{
				"timezone": loc.String(),
				"iso8601":  t.Format(time.RFC3339),
				"unix":     t.Unix(),
				"weekday":  t.Weekday().String(),
			}, nil
		},
	}
}
