// Package ngsi projects web services onto an NGSIv2 context broker.
package ngsi

import (
	"time"

	"webservice-io/internal/core/webservices"
)

// Attribute types and placeholder values used when an entity is created
// before any device data has arrived.
const (
	LocationType     = "geo:point"
	LocationDefault  = "0, 0"
	DateTimeType     = "DateTime"
	DateTimeDefault  = "1970-01-01T00:00:00.000Z"
	AttributeDefault = " "

	CommandStatusSuffix = "_status"
	CommandResultSuffix = "_info"
	CommandStatusType   = "commandStatus"
	CommandResultType   = "commandResult"
	CommandStatusInit   = "UNKNOWN"
	CommandResultInit   = " "

	TimestampAttribute = "TimeInstant"
	TimestampType      = "DateTime"
)

// Attr is the NGSIv2 attribute shape.
type Attr struct {
	Type  string `json:"type"`
	Value any    `json:"value"`
}

// Payload maps attribute names to their NGSIv2 representation.
type Payload map[string]Attr

// InitialValue returns the placeholder for an attribute of the given type.
func InitialValue(attrType string) any {
	switch attrType {
	case LocationType:
		return LocationDefault
	case DateTimeType:
		return DateTimeDefault
	default:
		return AttributeDefault
	}
}

// AttributePayload formats attrs. Static attributes keep their configured
// value; the rest start from InitialValue and are filled by live data later.
// Attributes redirected to another entity via entity_name are skipped.
func AttributePayload(attrs []webservices.Attribute, static bool) Payload {
	out := make(Payload, len(attrs))
	for _, a := range attrs {
		if a.EntityName != "" {
			continue
		}
		if static {
			out[a.Name] = Attr{Type: a.Type, Value: a.Value}
		} else {
			out[a.Name] = Attr{Type: a.Type, Value: InitialValue(a.Type)}
		}
	}
	return out
}

// CommandPayload emits the status and result attributes of every command.
func CommandPayload(cmds []webservices.Attribute) Payload {
	out := make(Payload, 2*len(cmds))
	for _, c := range cmds {
		out[c.Name+CommandStatusSuffix] = Attr{Type: CommandStatusType, Value: CommandStatusInit}
		out[c.Name+CommandResultSuffix] = Attr{Type: CommandResultType, Value: CommandResultInit}
	}
	return out
}

// EntityPayload merges active, static and command attributes of ws, in that
// order, and adds a TimeInstant when timestamp is set and none is present.
func EntityPayload(ws *webservices.WebService, timestamp bool, now time.Time) Payload {
	out := Payload{}
	for _, p := range []Payload{
		AttributePayload(ws.Active, false),
		AttributePayload(ws.StaticAttributes, true),
		CommandPayload(ws.Commands),
	} {
		for k, v := range p {
			out[k] = v
		}
	}
	if timestamp {
		if _, ok := out[TimestampAttribute]; !ok {
			out[TimestampAttribute] = Attr{
				Type:  TimestampType,
				Value: now.UTC().Format("2006-01-02T15:04:05.000Z07:00"),
			}
		}
	}
	return out
}
