// Package stats holds the small numeric helpers shared by the analyzers:
// percentile extraction, guarded division, calendar bucketing and top-N
// frequency tables.
//
// All helpers are pure functions. Callers own the slices they pass in;
// nothing here retains or mutates them unless the function name says so
// (SortFloats).
package stats
