package webhook

import (
	"time"

	"github.com/dandantas/certwatch/internal/model"
)

// ReportPayload is the body of a report request
type ReportPayload struct {
	Results []model.Result `json:"results"`
}

// AckEntry identifies one received job
type AckEntry struct {
	ID        model.JobID `json:"id"`
	RequestID string      `json:"request_id"`
}

// AckPayload is the body of an acknowledgment request
type AckPayload struct {
	Tasks []AckEntry `json:"tasks"`
}

// Delivery is a set of results bound for one report endpoint
type Delivery struct {
	Endpoint string
	// Token is sent as X-SSL-Token when set
	Token   string
	Timeout time.Duration
	Results []model.Result
}

// Batch merges deliveries that share endpoint and token into one request
// each. Groups keep the order of their first appearance and results keep
// their original order within a group.
func Batch(deliveries []Delivery) []Delivery {
	type key struct{ endpoint, token string }

	index := make(map[key]int)
	var out []Delivery
	for _, d := range deliveries {
		k := key{d.Endpoint, d.Token}
		i, ok := index[k]
		if !ok {
			index[k] = len(out)
			out = append(out, Delivery{
				Endpoint: d.Endpoint,
				Token:    d.Token,
				Timeout:  d.Timeout,
				Results:  append([]model.Result(nil), d.Results...),
			})
			continue
		}
		out[i].Results = append(out[i].Results, d.Results...)
		if d.Timeout > out[i].Timeout {
			out[i].Timeout = d.Timeout
		}
	}
	return out
}
