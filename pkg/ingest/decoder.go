package ingest

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/platinummonkey/decisionlens/pkg/atoms"
	"github.com/platinummonkey/decisionlens/pkg/campaigns"
	"github.com/platinummonkey/decisionlens/pkg/users"
)

// Kind names an envelope type.
type Kind string

const (
	KindAtomUsage         Kind = "atom_usage"
	KindCampaignExecution Kind = "campaign_execution"
	KindUserRequest       Kind = "user_request"
	KindSessionEnd        Kind = "session_end"
)

// MaxLineSize bounds a single NDJSON line.
const MaxLineSize = 1 << 20

var (
	// ErrUnknownKind is returned for envelopes with an unrecognized type.
	ErrUnknownKind = errors.New("unknown record type")
	// ErrMissingData is returned for envelopes without a data object.
	ErrMissingData = errors.New("missing data")
)

// LineError ties a decode or apply failure to its input line.
type LineError struct {
	Line int
	Kind Kind
	Err  error
}

func (e *LineError) Error() string {
	if e.Kind == "" {
		return fmt.Sprintf("line %d: %v", e.Line, e.Err)
	}
	return fmt.Sprintf("line %d (%s): %v", e.Line, e.Kind, e.Err)
}

func (e *LineError) Unwrap() error { return e.Err }

// SessionEnd closes a session.
type SessionEnd struct {
	SessionID string
	// At defaults to the engine clock when zero.
	At time.Time
}

// Record is one decoded line. Payload is an atoms.Usage,
// campaigns.Execution, users.Request or SessionEnd.
type Record struct {
	Line    int
	Kind    Kind
	Tenant  string
	Payload interface{}
}

type envelope struct {
	Type   Kind            `json:"type"`
	Tenant string          `json:"tenant,omitempty"`
	Data   json.RawMessage `json:"data"`
}

type atomUsageWire struct {
	AtomID          string                 `json:"atom_id"`
	RuleID          string                 `json:"rule_id"`
	CampaignID      string                 `json:"campaign_id"`
	ExecutionTimeMs float64                `json:"execution_time_ms"`
	Success         bool                   `json:"success"`
	Input           map[string]interface{} `json:"input,omitempty"`
	Output          map[string]interface{} `json:"output,omitempty"`
	ErrorMessage    string                 `json:"error_message,omitempty"`
	Context         map[string]interface{} `json:"context,omitempty"`
	Timestamp       time.Time              `json:"timestamp"`
}

type executionWire struct {
	CampaignID      string                 `json:"campaign_id"`
	DecisionID      string                 `json:"decision_id"`
	ExecutionTimeMs float64                `json:"execution_time_ms"`
	Status          campaigns.Status       `json:"status"`
	RulesEvaluated  int                    `json:"rules_evaluated"`
	RulesTriggered  int                    `json:"rules_triggered"`
	Errors          []string               `json:"errors,omitempty"`
	Timestamp       time.Time              `json:"timestamp"`
	Context         map[string]interface{} `json:"context,omitempty"`
}

type locationWire struct {
	Country string `json:"country"`
	Region  string `json:"region"`
	City    string `json:"city"`
}

type requestWire struct {
	UserID         string                 `json:"user_id"`
	SessionID      string                 `json:"session_id"`
	RequestID      string                 `json:"request_id"`
	CampaignID     string                 `json:"campaign_id"`
	Timestamp      time.Time              `json:"timestamp"`
	ContextData    map[string]interface{} `json:"context_data,omitempty"`
	DecisionMade   bool                   `json:"decision_made"`
	ResponseTimeMs float64                `json:"response_time_ms"`
	DeviceType     string                 `json:"device_type"`
	Location       locationWire           `json:"location"`
}

type sessionEndWire struct {
	SessionID string    `json:"session_id"`
	Timestamp time.Time `json:"timestamp"`
}

func millis(ms float64) time.Duration {
	return time.Duration(ms * float64(time.Millisecond))
}

// Decoder reads records from an NDJSON stream.
type Decoder struct {
	scanner *bufio.Scanner
	line    int
}

// NewDecoder returns a decoder reading from r.
func NewDecoder(r io.Reader) *Decoder {
	s := bufio.NewScanner(r)
	s.Buffer(make([]byte, 0, 64*1024), MaxLineSize)
	return &Decoder{scanner: s}
}

// Next returns the next record. Blank lines are skipped. A *LineError means
// the line was malformed and decoding may continue; io.EOF marks the end of
// the stream and any other error is fatal.
func (d *Decoder) Next() (Record, error) {
	for d.scanner.Scan() {
		d.line++
		raw := bytes.TrimSpace(d.scanner.Bytes())
		if len(raw) == 0 {
			continue
		}
		return decodeLine(d.line, raw)
	}
	if err := d.scanner.Err(); err != nil {
		return Record{}, fmt.Errorf("failed to read line %d: %w", d.line+1, err)
	}
	return Record{}, io.EOF
}

func decodeLine(line int, raw []byte) (Record, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Record{}, &LineError{Line: line, Err: err}
	}
	rec := Record{Line: line, Kind: env.Type, Tenant: env.Tenant}
	if len(env.Data) == 0 || bytes.Equal(env.Data, []byte("null")) {
		return rec, &LineError{Line: line, Kind: env.Type, Err: ErrMissingData}
	}

	var err error
	switch env.Type {
	case KindAtomUsage:
		var w atomUsageWire
		if err = json.Unmarshal(env.Data, &w); err == nil {
			rec.Payload = atoms.Usage{
				AtomID:        w.AtomID,
				RuleID:        w.RuleID,
				CampaignID:    w.CampaignID,
				ExecutionTime: millis(w.ExecutionTimeMs),
				Success:       w.Success,
				Input:         w.Input,
				Output:        w.Output,
				ErrorMessage:  w.ErrorMessage,
				Context:       w.Context,
				Timestamp:     w.Timestamp,
			}
		}
	case KindCampaignExecution:
		var w executionWire
		if err = json.Unmarshal(env.Data, &w); err == nil {
			rec.Payload = campaigns.Execution{
				CampaignID:     w.CampaignID,
				DecisionID:     w.DecisionID,
				ExecutionTime:  millis(w.ExecutionTimeMs),
				Status:         w.Status,
				RulesEvaluated: w.RulesEvaluated,
				RulesTriggered: w.RulesTriggered,
				Errors:         w.Errors,
				Timestamp:      w.Timestamp,
				Context:        w.Context,
			}
		}
	case KindUserRequest:
		var w requestWire
		if err = json.Unmarshal(env.Data, &w); err == nil {
			rec.Payload = users.Request{
				UserID:       w.UserID,
				SessionID:    w.SessionID,
				RequestID:    w.RequestID,
				CampaignID:   w.CampaignID,
				Timestamp:    w.Timestamp,
				ContextData:  w.ContextData,
				DecisionMade: w.DecisionMade,
				ResponseTime: millis(w.ResponseTimeMs),
				DeviceType:   w.DeviceType,
				Location:     users.Location(w.Location),
			}
		}
	case KindSessionEnd:
		var w sessionEndWire
		if err = json.Unmarshal(env.Data, &w); err == nil {
			rec.Payload = SessionEnd{SessionID: w.SessionID, At: w.Timestamp}
		}
	default:
		err = fmt.Errorf("%w: %q", ErrUnknownKind, env.Type)
	}
	if err != nil {
		return rec, &LineError{Line: line, Kind: env.Type, Err: err}
	}
	return rec, nil
}
