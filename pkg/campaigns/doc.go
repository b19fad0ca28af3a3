// Package campaigns collects one immutable record per campaign decision
// execution and derives performance statistics from them: success and error
// rates, execution time percentiles, time-bucketed trends and an error
// breakdown. A coarse rolling aggregate is also kept per decision id.
package campaigns
