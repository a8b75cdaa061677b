package http

import (
	"time"

	xutil "RegimeFolio/pkg/util"
)

// ParseTimeDefault parses a daily date, RFC3339 timestamp or unix
// seconds, returning def if empty/invalid.
func ParseTimeDefault(s string, def time.Time) time.Time { return xutil.ParseTimeDefault(s, def) }
