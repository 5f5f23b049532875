package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Initiator values describe how a job reached the agent
const (
	InitiatorPoll = "poll"
	InitiatorPush = "push"
)

// JobID is the controller-issued job identifier. Controllers send either a
// JSON number or a string; the original kind is kept so results echo it back
// unchanged.
type JobID struct {
	raw     string
	numeric bool
}

// NumericJobID creates a JobID that encodes as a JSON number
func NumericJobID(n json.Number) JobID {
	return JobID{raw: n.String(), numeric: true}
}

// StringJobID creates a JobID that encodes as a JSON string
func StringJobID(s string) JobID {
	return JobID{raw: s}
}

// IsZero reports whether the identifier is missing
func (id JobID) IsZero() bool {
	return id.raw == ""
}

// IsNumeric reports whether the identifier arrived as a JSON number
func (id JobID) IsNumeric() bool {
	return id.numeric
}

func (id JobID) String() string {
	return id.raw
}

// MarshalJSON encodes the id in the JSON kind it arrived in
func (id JobID) MarshalJSON() ([]byte, error) {
	if id.numeric {
		return []byte(id.raw), nil
	}
	return json.Marshal(id.raw)
}

// UnmarshalJSON accepts a JSON number, a JSON string or null
func (id *JobID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case len(data) == 0 || bytes.Equal(data, []byte("null")):
		*id = JobID{}
	case data[0] == '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return fmt.Errorf("invalid job id: %w", err)
		}
		*id = StringJobID(strings.TrimSpace(s))
	default:
		var n json.Number
		if err := json.Unmarshal(data, &n); err != nil {
			return fmt.Errorf("invalid job id: %w", err)
		}
		*id = NumericJobID(n)
	}
	return nil
}

// Int64 returns the numeric value of the id when it has one
func (id JobID) Int64() (int64, bool) {
	if !id.numeric {
		return 0, false
	}
	n, err := strconv.ParseInt(id.raw, 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

// Job represents one certificate check accepted from a task source
type Job struct {
	ID            JobID
	RequestID     string
	Target        Target
	Callback      string
	CallbackToken string
	Context       json.RawMessage
	ReportTimeout time.Duration
	Initiator     string
	ReceivedAt    time.Time
}
