package webservices

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// MemoryRegistry keeps web services in process, keyed by service then id.
type MemoryRegistry struct {
	mu    sync.RWMutex
	byID  map[string]map[string]*WebService
	lg    zerolog.Logger
	clock func() time.Time
}

func NewMemoryRegistry(lg zerolog.Logger) *MemoryRegistry {
	return &MemoryRegistry{
		byID:  make(map[string]map[string]*WebService),
		lg:    lg.With().Str("registry", "memory").Logger(),
		clock: time.Now,
	}
}

func (m *MemoryRegistry) Store(_ context.Context, ws *WebService) (*WebService, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	scope := m.byID[ws.Service]
	if scope == nil {
		scope = make(map[string]*WebService)
		m.byID[ws.Service] = scope
	}
	if _, ok := scope[ws.ID]; ok {
		return nil, &DuplicateIDError{ID: ws.ID}
	}
	if ws.Name != "" && m.nameTakenLocked(ws.Name, ws.Service, ws.Subservice, ws.ID) {
		return nil, &DuplicateNameError{Name: ws.Name}
	}

	stored := ws.DeepCopy()
	stored.CreationDate = m.clock().UTC()
	scope[ws.ID] = stored

	m.lg.Debug().Str("id", ws.ID).Str("type", ws.Type).Msg("stored web service")
	return stored.DeepCopy(), nil
}

func (m *MemoryRegistry) Get(_ context.Context, id, service, subservice string) (*WebService, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ws, ok := m.byID[service][id]
	if !ok || !MatchesScope(ws, "", subservice) {
		return nil, &NotFoundError{Key: id}
	}
	return ws.DeepCopy(), nil
}

func (m *MemoryRegistry) GetByName(_ context.Context, name, service, subservice string) (*WebService, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, ws := range m.sortedLocked(service) {
		if ws.Name == name && MatchesScope(ws, "", subservice) {
			return ws.DeepCopy(), nil
		}
	}
	return nil, &NotFoundError{Key: name}
}

func (m *MemoryRegistry) GetByAttribute(_ context.Context, attrName, attrValue, service, subservice string) ([]*WebService, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*WebService
	for _, ws := range m.sortedLocked(service) {
		if !MatchesScope(ws, "", subservice) {
			continue
		}
		if v, ok := ws.Field(attrName); ok && v == attrValue {
			out = append(out, ws.DeepCopy())
		}
	}
	if len(out) == 0 {
		return nil, &NotFoundError{Key: attrName + "=" + attrValue}
	}
	return out, nil
}

func (m *MemoryRegistry) List(_ context.Context, service, subservice string, limit, offset int) (*ListResult, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var matches []*WebService
	for _, ws := range m.sortedLocked(service) {
		if MatchesScope(ws, "", subservice) {
			matches = append(matches, ws.DeepCopy())
		}
	}
	return Paginate(matches, limit, offset), nil
}

func (m *MemoryRegistry) Update(_ context.Context, ws *WebService) (*WebService, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored, ok := m.byID[ws.Service][ws.ID]
	if !ok {
		return nil, &NotFoundError{Key: ws.ID}
	}
	if ws.Name != "" && m.nameTakenLocked(ws.Name, ws.Service, stored.Subservice, ws.ID) {
		return nil, &DuplicateNameError{Name: ws.Name}
	}
	next := stored.DeepCopy()
	ReplaceMutable(next, ws)
	m.byID[ws.Service][ws.ID] = next
	return next.DeepCopy(), nil
}

// Remove drops id from every service it appears in.
func (m *MemoryRegistry) Remove(_ context.Context, id, _, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for service, scope := range m.byID {
		if _, ok := scope[id]; ok {
			m.lg.Debug().Str("id", id).Str("service", service).Msg("removing web service")
			delete(scope, id)
		}
	}
	return nil
}

func (m *MemoryRegistry) Clear(_ context.Context) error {
	m.mu.Lock()
	m.byID = make(map[string]map[string]*WebService)
	m.mu.Unlock()
	return nil
}

// sortedLocked returns the records of service ordered by id, or of every
// service when service is empty.
func (m *MemoryRegistry) sortedLocked(service string) []*WebService {
	var out []*WebService
	for svc, scope := range m.byID {
		if service != "" && svc != service {
			continue
		}
		for _, ws := range scope {
			out = append(out, ws)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Service != out[j].Service {
			return out[i].Service < out[j].Service
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (m *MemoryRegistry) nameTakenLocked(name, service, subservice, exceptID string) bool {
	for id, ws := range m.byID[service] {
		if id != exceptID && ws.Subservice == subservice && ws.Name == name {
			return true
		}
	}
	return false
}

// ReplaceMutable copies the fields an update may change from src onto dst.
// Identity (id, service, subservice) and the creation date are kept.
func ReplaceMutable(dst, src *WebService) {
	dst.Name = src.Name
	dst.Type = src.Type
	dst.Prefix = src.Prefix
	dst.Expression = src.Expression
	dst.Endpoint = src.Endpoint
	dst.Timezone = src.Timezone
	dst.RegistrationID = src.RegistrationID
	dst.InternalID = src.InternalID
	dst.Polling = src.Polling
	dst.Protocol = src.Protocol
	dst.Active = copyAttributes(src.Active)
	dst.Lazy = copyAttributes(src.Lazy)
	dst.Commands = copyAttributes(src.Commands)
	dst.StaticAttributes = copyAttributes(src.StaticAttributes)
	if src.Subscriptions != nil {
		dst.Subscriptions = append([]Subscription(nil), src.Subscriptions...)
	} else {
		dst.Subscriptions = nil
	}
}
