// Package health tracks reachability alarms for the remote systems the
// process depends on. One Alarms value is shared by every in-flight request.
package health

import (
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Alarm names.
const (
	OrionAlarm    = "ORION-ALARM"
	RegistryAlarm = "REGISTRY-ALARM"
)

// Alarm is a raised condition. It stays raised until released.
type Alarm struct {
	Name  string    `json:"name"`
	Cause string    `json:"cause"`
	Since time.Time `json:"since"`
}

type Alarms struct {
	mu     sync.RWMutex
	active map[string]Alarm
	lg     zerolog.Logger
	now    func() time.Time
}

func New(lg zerolog.Logger) *Alarms {
	return &Alarms{
		active: make(map[string]Alarm),
		lg:     lg.With().Str("component", "alarms").Logger(),
		now:    time.Now,
	}
}

// Raise marks name as alarmed. Only the first raise after a healthy period is
// recorded and logged; it reports whether this call changed the state.
func (a *Alarms) Raise(name string, cause error) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	if _, ok := a.active[name]; ok {
		return false
	}
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	a.active[name] = Alarm{Name: name, Cause: msg, Since: a.now().UTC()}
	a.lg.Error().Str("alarm", name).Str("cause", msg).Msg("alarm raised")
	return true
}

// Release clears name. Releasing a healthy alarm is a no-op.
func (a *Alarms) Release(name string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	if _, ok := a.active[name]; !ok {
		return false
	}
	delete(a.active, name)
	a.lg.Info().Str("alarm", name).Msg("alarm released")
	return true
}

func (a *Alarms) IsActive(name string) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	_, ok := a.active[name]
	return ok
}

// Active returns the raised alarms ordered by name.
func (a *Alarms) Active() []Alarm {
	a.mu.RLock()
	defer a.mu.RUnlock()

	out := make([]Alarm, 0, len(a.active))
	for _, al := range a.active {
		out = append(out, al)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (a *Alarms) Healthy() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.active) == 0
}
