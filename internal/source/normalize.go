package source

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/dandantas/certwatch/internal/model"
	"github.com/google/uuid"
)

// NormalizeTask converts a decoded task object into a Job. Numbers are
// expected as json.Number (decoder UseNumber) but float64 is accepted too.
// Only a missing identifier is an error; target problems are left for
// Target.Resolve so they surface as invalid_url results.
func NormalizeTask(raw map[string]any, initiator string, now time.Time) (model.Job, error) {
	id, ok := jobID(raw["id"])
	if !ok {
		return model.Job{}, model.ErrMissingID
	}

	job := model.Job{
		ID:            id,
		RequestID:     coerceToString(raw["request_id"]),
		Callback:      coerceToString(raw["callback"]),
		CallbackToken: coerceToString(raw["token"]),
		Initiator:     initiator,
		ReceivedAt:    now,
	}
	if job.RequestID == "" {
		job.RequestID = uuid.NewString()
	}

	if secs, err := coerceToNumber(raw["report_timeout"]); err == nil && secs > 0 {
		job.ReportTimeout = time.Duration(secs * float64(time.Second))
	}

	job.Target.SiteURL = coerceToString(raw["site_url"])

	if ctxMap, ok := raw["context"].(map[string]any); ok {
		if job.Target.SiteURL == "" {
			job.Target.SiteURL = coerceToString(ctxMap["site_url"])
		}
		job.Target.Host = coerceToString(ctxMap["target_host"])
		job.Target.Scheme = strings.ToLower(coerceToString(ctxMap["scheme"]))
		if v := ctxMap["target_port"]; v != nil && coerceToString(v) != "" {
			job.Target.Port = coercePort(v)
		}

		if encoded, err := json.Marshal(ctxMap); err == nil {
			job.Context = encoded
		}
	}

	return job, nil
}

// DecodeTask decodes one JSON task object preserving number precision
func DecodeTask(data []byte) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var raw map[string]any
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("invalid task JSON: %w", err)
	}
	if raw == nil {
		return nil, fmt.Errorf("task must be a JSON object")
	}
	return raw, nil
}

func jobID(value any) (model.JobID, bool) {
	switch v := value.(type) {
	case json.Number:
		if v.String() == "" {
			return model.JobID{}, false
		}
		return model.NumericJobID(v), true
	case float64:
		return model.NumericJobID(json.Number(strconv.FormatFloat(v, 'f', -1, 64))), true
	case string:
		if s := strings.TrimSpace(v); s != "" {
			return model.StringJobID(s), true
		}
	}
	return model.JobID{}, false
}

// coercePort returns -1 for values that are not a whole number so that
// target resolution rejects them
func coercePort(value any) int {
	n, err := coerceToNumber(value)
	if err != nil || n != math.Trunc(n) || n < 0 || n > math.MaxInt32 {
		return -1
	}
	return int(n)
}

// coerceToString converts scalar values to a trimmed string; nil and
// composite values become ""
func coerceToString(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(v)
	case json.Number:
		return v.String()
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(v)
	default:
		return ""
	}
}

// coerceToNumber attempts to convert a value to float64
func coerceToNumber(value any) (float64, error) {
	switch v := value.(type) {
	case json.Number:
		return v.Float64()
	case float64:
		return v, nil
	case int:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case string:
		num, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return 0, fmt.Errorf("cannot convert string '%s' to number", v)
		}
		return num, nil
	default:
		return 0, fmt.Errorf("cannot convert %T to number", value)
	}
}
