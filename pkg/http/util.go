package http

import (
	"time"

	"TradePilot/pkg/util"
)

// Query-parameter helpers re-exported so handlers only import this
// package.

func ParseIntDefault(s string, def int) int { return util.ParseIntDefault(s, def) }

func ParseTimeDefault(s string, def time.Time) time.Time { return util.ParseTimeDefault(s, def) }
