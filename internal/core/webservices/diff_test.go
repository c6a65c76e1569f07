package webservices

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func names(attrs []Attribute) []string {
	out := make([]string, len(attrs))
	for i, a := range attrs {
		out[i] = a.Name
	}
	return out
}

func TestDiff(t *testing.T) {
	tests := []struct {
		name string
		old  []Attribute
		new  []Attribute
		want []string
	}{
		{
			name: "only new names",
			old:  []Attribute{{Name: "temp"}},
			new:  []Attribute{{Name: "temp"}, {Name: "hum"}},
			want: []string{"hum"},
		},
		{
			name: "changed value is not a difference",
			old:  []Attribute{{Name: "temp", Type: "Number", Value: 1}},
			new:  []Attribute{{Name: "temp", Type: "Text", Value: 2}},
			want: []string{},
		},
		{
			name: "removed names are ignored",
			old:  []Attribute{{Name: "temp"}, {Name: "hum"}},
			new:  []Attribute{{Name: "pres"}},
			want: []string{"pres"},
		},
		{
			name: "nil old returns everything",
			old:  nil,
			new:  []Attribute{{Name: "a"}, {Name: "b"}},
			want: []string{"a", "b"},
		},
		{
			name: "nil new returns nothing",
			old:  []Attribute{{Name: "a"}},
			new:  nil,
			want: []string{},
		},
		{
			name: "order of new list is kept",
			old:  []Attribute{{Name: "b"}},
			new:  []Attribute{{Name: "c"}, {Name: "b"}, {Name: "a"}},
			want: []string{"c", "a"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, names(Diff(tt.old, tt.new)))
		})
	}
}

func TestDiffDoesNotAliasInput(t *testing.T) {
	in := []Attribute{{Name: "hum", Value: "x"}}
	out := Diff(nil, in)
	out[0].Value = "y"
	assert.Equal(t, "x", in[0].Value)
}

func TestDiffWebServiceKeepsIdentityOfOld(t *testing.T) {
	old := &WebService{
		ID: "dev1", Name: "Sensor:dev1", Type: "Sensor", Service: "A", Subservice: "/s",
		Active:   []Attribute{{Name: "temp"}},
		Commands: []Attribute{{Name: "reset"}},
	}
	upd := &WebService{
		ID: "dev1", Name: "renamed", Type: "Sensor",
		Active:   []Attribute{{Name: "temp"}, {Name: "hum"}},
		Commands: []Attribute{{Name: "reset"}, {Name: "reboot"}},
	}

	d := diffWebService(old, upd)
	assert.Equal(t, "Sensor:dev1", d.Name)
	assert.Equal(t, "A", d.Service)
	assert.Equal(t, "/s", d.Subservice)
	assert.Equal(t, []string{"hum"}, names(d.Active))
	assert.Equal(t, []string{"reboot"}, names(d.Commands))
	assert.Empty(t, d.Lazy)
	assert.Empty(t, d.StaticAttributes)
}
