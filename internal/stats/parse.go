// Package stats extracts numeric metrics from free-text job diagnostics output.
package stats

import (
	"regexp"
	"strconv"
)

var (
	rateRe     = regexp.MustCompile(`speed (\d+\.\d+)`)
	acceptedRe = regexp.MustCompile(`accepted (\d+)`)
	rejectedRe = regexp.MustCompile(`rejected (\d+)`)
)

// Metrics is the numeric triple parsed out of diagnostics output.
type Metrics struct {
	Rate     float64
	Accepted int64
	Rejected int64
}

// Parse extracts the rate and the two outcome counters from output. Missing or
// malformed fields default to zero; Parse never fails, so a garbled diagnostics
// read cannot abort a supervisor tick.
func Parse(output string) Metrics {
	var m Metrics
	if match := rateRe.FindStringSubmatch(output); match != nil {
		m.Rate, _ = strconv.ParseFloat(match[1], 64)
	}
	if match := acceptedRe.FindStringSubmatch(output); match != nil {
		m.Accepted, _ = strconv.ParseInt(match[1], 10, 64)
	}
	if match := rejectedRe.FindStringSubmatch(output); match != nil {
		m.Rejected, _ = strconv.ParseInt(match[1], 10, 64)
	}
	return m
}
