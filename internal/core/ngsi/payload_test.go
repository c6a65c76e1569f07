package ngsi

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"webservice-io/internal/core/webservices"
)

func TestInitialValue(t *testing.T) {
	assert.Equal(t, LocationDefault, InitialValue("geo:point"))
	assert.Equal(t, DateTimeDefault, InitialValue("DateTime"))
	assert.Equal(t, AttributeDefault, InitialValue("Number"))
	assert.Equal(t, AttributeDefault, InitialValue(""))
}

func TestAttributePayload(t *testing.T) {
	attrs := []webservices.Attribute{
		{Name: "temp", Type: "Number", Value: 21},
		{Name: "loc", Type: "geo:point"},
		{Name: "other", Type: "Text", EntityName: "elsewhere"},
	}

	assert.Equal(t, Payload{
		"temp": {Type: "Number", Value: AttributeDefault},
		"loc":  {Type: "geo:point", Value: LocationDefault},
	}, AttributePayload(attrs, false))

	assert.Equal(t, Payload{
		"temp": {Type: "Number", Value: 21},
		"loc":  {Type: "geo:point", Value: nil},
	}, AttributePayload(attrs, true))
}

func TestCommandPayload(t *testing.T) {
	got := CommandPayload([]webservices.Attribute{{Name: "reset", Type: "command"}})
	assert.Equal(t, Payload{
		"reset_status": {Type: "commandStatus", Value: "UNKNOWN"},
		"reset_info":   {Type: "commandResult", Value: " "},
	}, got)
}

func TestEntityPayload(t *testing.T) {
	now := time.Date(2024, 3, 4, 5, 6, 7, 890e6, time.FixedZone("CET", 3600))
	ws := &webservices.WebService{
		Active:           []webservices.Attribute{{Name: "temp", Type: "Number"}},
		StaticAttributes: []webservices.Attribute{{Name: "temp", Type: "Number", Value: 0}, {Name: "vendor", Type: "Text", Value: "acme"}},
		Commands:         []webservices.Attribute{{Name: "reset"}},
	}

	t.Run("later sections win", func(t *testing.T) {
		p := EntityPayload(ws, false, now)
		assert.Len(t, p, 4)
		assert.Equal(t, Attr{Type: "Number", Value: 0}, p["temp"])
		assert.NotContains(t, p, TimestampAttribute)
	})

	t.Run("timestamp", func(t *testing.T) {
		p := EntityPayload(ws, true, now)
		assert.Equal(t, Attr{Type: "DateTime", Value: "2024-03-04T04:06:07.890Z"}, p[TimestampAttribute])
	})

	t.Run("timestamp on empty entity", func(t *testing.T) {
		p := EntityPayload(&webservices.WebService{}, true, now)
		assert.Len(t, p, 1)
	})

	t.Run("configured TimeInstant is kept", func(t *testing.T) {
		own := &webservices.WebService{StaticAttributes: []webservices.Attribute{
			{Name: TimestampAttribute, Type: "DateTime", Value: "2000-01-01T00:00:00.000Z"},
		}}
		p := EntityPayload(own, true, now)
		assert.Equal(t, "2000-01-01T00:00:00.000Z", p[TimestampAttribute].Value)
	})
}
