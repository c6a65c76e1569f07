package webservices

import (
	"encoding/json"
	"time"
)

// Attribute is one entry of an attribute list (active, lazy, command or static).
type Attribute struct {
	Name       string            `json:"name" yaml:"name" example:"temperature"`
	Type       string            `json:"type" yaml:"type" example:"Number"`
	Value      any               `json:"value,omitempty" yaml:"value,omitempty"`
	ObjectID   string            `json:"object_id,omitempty" yaml:"object_id,omitempty" example:"t"`
	Expression string            `json:"expression,omitempty" yaml:"expression,omitempty"`
	EntityName string            `json:"entity_name,omitempty" yaml:"entity_name,omitempty"`
	EntityType string            `json:"entity_type,omitempty" yaml:"entity_type,omitempty"`
	Reverse    []json.RawMessage `json:"reverse,omitempty" yaml:"-"`
}

// Subscription is a context-broker subscription owned by a web service.
type Subscription struct {
	ID        string `json:"id"`
	TriggerID string `json:"triggerId,omitempty"`
}

// WebService is a provisioned device group. It lives in the registry and is
// projected as an entity onto the context broker.
type WebService struct {
	ID               string         `json:"id" example:"ws-weather"`
	Type             string         `json:"type" example:"WeatherObserved"`
	Name             string         `json:"name" example:"WeatherObserved:ws-weather"`
	Service          string         `json:"service" example:"smartcity"`
	Subservice       string         `json:"subservice" example:"/environment"`
	Prefix           string         `json:"prefix,omitempty"`
	Expression       string         `json:"expression,omitempty"`
	Endpoint         string         `json:"endpoint,omitempty" example:"https://api.example.org/observations"`
	Active           []Attribute    `json:"active,omitempty"`
	Lazy             []Attribute    `json:"lazy,omitempty"`
	Commands         []Attribute    `json:"commands,omitempty"`
	StaticAttributes []Attribute    `json:"staticAttributes,omitempty"`
	Timezone         string         `json:"timezone,omitempty"`
	RegistrationID   string         `json:"registrationId,omitempty"`
	InternalID       string         `json:"internalId,omitempty"`
	Polling          bool           `json:"polling,omitempty"`
	Protocol         string         `json:"protocol,omitempty"`
	Subscriptions    []Subscription `json:"subscriptions,omitempty"`
	CreationDate     time.Time      `json:"creationDate,omitempty"`
}

// DeepCopy returns a copy that shares no slices with ws.
func (ws *WebService) DeepCopy() *WebService {
	if ws == nil {
		return nil
	}
	out := *ws
	out.Active = copyAttributes(ws.Active)
	out.Lazy = copyAttributes(ws.Lazy)
	out.Commands = copyAttributes(ws.Commands)
	out.StaticAttributes = copyAttributes(ws.StaticAttributes)
	if ws.Subscriptions != nil {
		out.Subscriptions = append([]Subscription(nil), ws.Subscriptions...)
	}
	return &out
}

// Field returns the string form of a top-level field addressed by its JSON
// name. It backs attribute lookups in the registries.
func (ws *WebService) Field(name string) (string, bool) {
	switch name {
	case "id":
		return ws.ID, true
	case "type":
		return ws.Type, true
	case "name":
		return ws.Name, true
	case "service":
		return ws.Service, true
	case "subservice":
		return ws.Subservice, true
	case "prefix":
		return ws.Prefix, true
	case "expression":
		return ws.Expression, true
	case "endpoint":
		return ws.Endpoint, true
	case "timezone":
		return ws.Timezone, true
	case "registrationId":
		return ws.RegistrationID, true
	case "internalId":
		return ws.InternalID, true
	case "protocol":
		return ws.Protocol, true
	}
	return "", false
}

func copyAttributes(in []Attribute) []Attribute {
	if in == nil {
		return nil
	}
	out := make([]Attribute, len(in))
	for i, a := range in {
		out[i] = a
		if a.Reverse != nil {
			out[i].Reverse = make([]json.RawMessage, len(a.Reverse))
			for j, r := range a.Reverse {
				out[i].Reverse[j] = append(json.RawMessage(nil), r...)
			}
		}
	}
	return out
}

// MergeAttributes appends extra to base. An attribute of extra whose name is
// already in base overwrites that entry's value instead of being appended.
func MergeAttributes(base, extra []Attribute) []Attribute {
	out := copyAttributes(base)
	index := make(map[string]int, len(out))
	for i, a := range out {
		index[a.Name] = i
	}
	for _, a := range extra {
		if i, ok := index[a.Name]; ok {
			out[i].Value = a.Value
			continue
		}
		index[a.Name] = len(out)
		out = append(out, copyAttributes([]Attribute{a})...)
	}
	return out
}

// ListResult is one page of a registry listing.
type ListResult struct {
	Count       int64         `json:"count"`
	WebServices []*WebService `json:"webServices"`
}

// Group carries the tenant and default type used by FindOrCreate.
type Group struct {
	Service    string
	Subservice string
	Type       string
}

// TypeTemplate holds the defaults configured for one entity type.
type TypeTemplate struct {
	Type             string      `json:"entity_type,omitempty" yaml:"entity_type,omitempty"`
	Endpoint         string      `json:"endpoint,omitempty" yaml:"endpoint,omitempty"`
	Timezone         string      `json:"timezone,omitempty" yaml:"timezone,omitempty"`
	Active           []Attribute `json:"attributes,omitempty" yaml:"attributes,omitempty"`
	Lazy             []Attribute `json:"lazy,omitempty" yaml:"lazy,omitempty"`
	Commands         []Attribute `json:"commands,omitempty" yaml:"commands,omitempty"`
	StaticAttributes []Attribute `json:"static_attributes,omitempty" yaml:"static_attributes,omitempty"`
}

// Defaults is the read-only configuration consulted while registering.
type Defaults struct {
	DefaultType string
	Protocol    string
	Types       map[string]TypeTemplate
}
