package source

import (
	"strings"
)

// Endpoint actions exposed by the controller
const (
	ActionPoll   = "poll"
	ActionAck    = "ack"
	ActionReport = "report"
)

// Endpoints holds the resolved controller URLs
type Endpoints struct {
	Poll   string
	Ack    string
	Report string
}

// BuildAPIURL joins a controller base and an action. Bases using the
// rest_route query form ("https://site/?rest_route=/ssl-agent/v1") get the
// action appended to the route instead of the path.
func BuildAPIURL(base, action string) string {
	base = strings.TrimSpace(base)
	if base == "" {
		return ""
	}

	if idx := strings.Index(base, "rest_route="); idx >= 0 {
		before := base[:idx]
		route := strings.TrimRight(base[idx+len("rest_route="):], "/")
		return before + "rest_route=" + route + "/" + action
	}

	return strings.TrimRight(base, "/") + "/" + action
}

// ResolveEndpoints derives endpoints from base; explicit URLs take precedence
func ResolveEndpoints(base, poll, ack, report string) Endpoints {
	pick := func(explicit, action string) string {
		if explicit = strings.TrimSpace(explicit); explicit != "" {
			return explicit
		}
		return BuildAPIURL(base, action)
	}

	return Endpoints{
		Poll:   pick(poll, ActionPoll),
		Ack:    pick(ack, ActionAck),
		Report: pick(report, ActionReport),
	}
}
