// Package ingest reads newline-delimited JSON telemetry and applies it to
// engines.
//
// Each line is an envelope:
//
//	{"type":"atom_usage","tenant":"acme","data":{"atom_id":"a1","execution_time_ms":12.5,"success":true}}
//	{"type":"campaign_execution","data":{"campaign_id":"c1","status":"success","execution_time_ms":40}}
//	{"type":"user_request","data":{"user_id":"u1","session_id":"s1","decision_made":true}}
//	{"type":"session_end","data":{"session_id":"s1","timestamp":"2026-03-01T10:00:00Z"}}
//
// Timings are milliseconds on the wire. Timestamps are RFC 3339 and default
// to the engine clock when absent. The tenant is optional.
//
// Malformed or rejected lines are counted and reported without stopping
// the stream.
package ingest
