package webservices

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
)

// Projector mirrors web services onto the context broker.
type Projector interface {
	// Push creates (create=true) or appends attributes to the remote entity.
	Push(ctx context.Context, ws *WebService, create bool) error
	DeleteEntity(ctx context.Context, ws *WebService) error
	// SendRegistrations creates, refreshes or (removal=true) deletes the
	// context-provider registration of ws and returns the updated record.
	SendRegistrations(ctx context.Context, removal bool, ws *WebService) (*WebService, error)
	Unsubscribe(ctx context.Context, ws *WebService, subscriptionID string) error
}

// Service runs the provisioning pipelines against a registry and the broker.
type Service struct {
	mu       sync.RWMutex
	registry Registry
	remote   Projector
	defaults Defaults
	lg       zerolog.Logger
}

func NewService(reg Registry, remote Projector, defaults Defaults, lg zerolog.Logger) *Service {
	return &Service{
		registry: reg,
		remote:   remote,
		defaults: defaults,
		lg:       lg.With().Str("component", "webservices").Logger(),
	}
}

// SetRegistry swaps the active backend. In-flight calls keep the backend they
// started with.
func (s *Service) SetRegistry(reg Registry) {
	s.mu.Lock()
	s.registry = reg
	s.mu.Unlock()
}

func (s *Service) reg() (Registry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.registry == nil {
		s.lg.Error().Msg("web service registry accessed before it was available")
		return nil, ErrRegistryNotAvailable
	}
	return s.registry, nil
}

// Register checks for duplicates, resolves defaults, creates the remote
// entity and only then commits the record. Nothing is stored when the
// broker call fails.
func (s *Service) Register(ctx context.Context, ws *WebService) (*WebService, error) {
	reg, err := s.reg()
	if err != nil {
		return nil, err
	}
	if ws.ID == "" {
		return nil, &MissingAttributesError{Msg: "web service id missing"}
	}

	if _, err := reg.Get(ctx, ws.ID, ws.Service, ""); err == nil {
		return nil, &DuplicateIDError{ID: ws.ID}
	} else if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	data := s.prepare(ws)
	lg := s.lg.With().Str("id", data.ID).Str("type", data.Type).Str("service", data.Service).Logger()

	if err := s.checkName(ctx, reg, data.Name, data.Service, data.Subservice, data.ID); err != nil {
		return nil, err
	}

	if err := s.remote.Push(ctx, data, true); err != nil {
		lg.Error().Err(err).Msg("initial entity creation failed")
		return nil, err
	}

	stored, err := reg.Store(ctx, data)
	if err != nil {
		if errors.Is(err, ErrDuplicateID) {
			lg.Warn().Msg("concurrent registration won the store; remote entity left in place")
		}
		return nil, err
	}
	lg.Info().Str("name", stored.Name).Msg("web service registered")
	return stored, nil
}

// checkName fails with DuplicateNameError when another web service of the
// same (service, subservice) already uses name. It runs before any broker
// call since the entity id on the broker is the name.
func (s *Service) checkName(ctx context.Context, reg Registry, name, service, subservice, id string) error {
	other, err := reg.GetByName(ctx, name, service, subservice)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if other.ID != id && other.Subservice == subservice {
		return &DuplicateNameError{Name: name}
	}
	return nil
}

// prepare fills type, name and attribute lists from the configured defaults.
func (s *Service) prepare(ws *WebService) *WebService {
	data := ws.DeepCopy()

	if data.Type == "" {
		data.Type = s.defaults.DefaultType
	}
	tpl, ok := s.defaults.Types[data.Type]
	if ok && tpl.Type != "" && ws.Type == "" {
		data.Type = tpl.Type
	}
	if data.Name == "" {
		data.Name = data.Type + ":" + data.ID
		s.lg.Debug().Str("name", data.Name).Msg("web service name not found, falling back to type:id")
	}
	if ok {
		data.Active = MergeAttributes(tpl.Active, data.Active)
		data.Lazy = MergeAttributes(tpl.Lazy, data.Lazy)
		data.Commands = MergeAttributes(tpl.Commands, data.Commands)
		data.StaticAttributes = MergeAttributes(tpl.StaticAttributes, data.StaticAttributes)
		if data.Endpoint == "" {
			data.Endpoint = tpl.Endpoint
		}
		if data.Timezone == "" {
			data.Timezone = tpl.Timezone
		}
	}
	return data
}

// UpdateRegister pushes the attributes newly introduced by ws, merges ws into
// the stored record, refreshes the provider registration and commits.
func (s *Service) UpdateRegister(ctx context.Context, ws *WebService) (*WebService, error) {
	if ws.ID == "" || ws.Type == "" {
		return nil, &MissingAttributesError{Msg: "id or type missing"}
	}
	reg, err := s.reg()
	if err != nil {
		return nil, err
	}
	s.lg.Debug().Str("id", ws.ID).Msg("updating provisioned web service")

	old, err := reg.Get(ctx, ws.ID, ws.Service, ws.Subservice)
	if err != nil {
		return nil, err
	}
	if ws.Name != "" && ws.Name != old.Name {
		if err := s.checkName(ctx, reg, ws.Name, old.Service, old.Subservice, old.ID); err != nil {
			return nil, err
		}
	}

	if err := s.remote.Push(ctx, diffWebService(old, ws), false); err != nil {
		return nil, err
	}

	merged, err := s.remote.SendRegistrations(ctx, false, mergeUpdate(old, ws))
	if err != nil {
		return nil, fmt.Errorf("update registrations: %w", err)
	}
	return reg.Update(ctx, merged)
}

// mergeUpdate applies the fields present in upd onto a copy of old. Empty
// strings and nil lists count as absent.
func mergeUpdate(old, upd *WebService) *WebService {
	out := old.DeepCopy()
	out.Type = upd.Type
	if upd.Name != "" {
		out.Name = upd.Name
	}
	if upd.InternalID != "" {
		out.InternalID = upd.InternalID
	}
	if upd.Endpoint != "" {
		out.Endpoint = upd.Endpoint
	}
	if upd.Timezone != "" {
		out.Timezone = upd.Timezone
	}
	if upd.Prefix != "" {
		out.Prefix = upd.Prefix
	}
	if upd.Expression != "" {
		out.Expression = upd.Expression
	}
	// Polling has no absent state in an update, so it can only be switched on.
	if upd.Polling {
		out.Polling = true
	}
	if upd.Active != nil {
		out.Active = copyAttributes(upd.Active)
	}
	if upd.Lazy != nil {
		out.Lazy = copyAttributes(upd.Lazy)
	}
	if upd.Commands != nil {
		out.Commands = copyAttributes(upd.Commands)
	}
	if upd.StaticAttributes != nil {
		out.StaticAttributes = copyAttributes(upd.StaticAttributes)
	}
	return out
}

// Unregister removes the web service locally even when the broker refuses
// the de-registration. Subscription and registration cleanup failures are
// logged; a failed entity removal is returned after the local delete.
func (s *Service) Unregister(ctx context.Context, id, service, subservice string) error {
	reg, err := s.reg()
	if err != nil {
		return err
	}
	lg := s.lg.With().Str("id", id).Str("service", service).Logger()
	lg.Debug().Msg("removing web service")

	ws, err := reg.Get(ctx, id, service, subservice)
	if err != nil {
		return err
	}

	var warnings []error
	for _, sub := range ws.Subscriptions {
		if err := s.remote.Unsubscribe(ctx, ws, sub.ID); err != nil {
			warnings = append(warnings, fmt.Errorf("unsubscribe %s: %w", sub.ID, err))
		}
	}
	if _, err := s.remote.SendRegistrations(ctx, true, ws); err != nil {
		warnings = append(warnings, fmt.Errorf("remove registrations: %w", err))
	}
	if len(warnings) > 0 {
		lg.Warn().Err(errors.Join(warnings...)).Msg("cleanup incomplete")
	}

	remoteErr := s.remote.DeleteEntity(ctx, ws)
	if remoteErr != nil {
		lg.Error().Err(remoteErr).Msg("remote entity removal failed; removing local record anyway")
	}

	if err := reg.Remove(ctx, id, service, subservice); err != nil {
		return errors.Join(remoteErr, err)
	}
	return remoteErr
}

// FindOrCreate returns the web service with id in the group's tenant,
// registering it when the registry reports it missing. Any other lookup
// error is returned untouched so ambiguous failures never create duplicates.
func (s *Service) FindOrCreate(ctx context.Context, id string, group Group) (*WebService, error) {
	ws, err := s.Get(ctx, id, group.Service, group.Subservice)
	if err == nil {
		return ws, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	return s.Register(ctx, &WebService{
		ID:         id,
		Service:    group.Service,
		Subservice: group.Subservice,
		Type:       group.Type,
		Protocol:   s.defaults.Protocol,
	})
}

func (s *Service) List(ctx context.Context, service, subservice string, limit, offset int) (*ListResult, error) {
	reg, err := s.reg()
	if err != nil {
		return nil, err
	}
	return reg.List(ctx, service, subservice, limit, offset)
}

func (s *Service) Get(ctx context.Context, id, service, subservice string) (*WebService, error) {
	reg, err := s.reg()
	if err != nil {
		return nil, err
	}
	return reg.Get(ctx, id, service, subservice)
}

func (s *Service) GetByName(ctx context.Context, name, service, subservice string) (*WebService, error) {
	reg, err := s.reg()
	if err != nil {
		return nil, err
	}
	return reg.GetByName(ctx, name, service, subservice)
}

func (s *Service) GetByAttribute(ctx context.Context, attrName, attrValue, service, subservice string) ([]*WebService, error) {
	reg, err := s.reg()
	if err != nil {
		return nil, err
	}
	return reg.GetByAttribute(ctx, attrName, attrValue, service, subservice)
}

// Clear wipes the registry. Meant for environment resets.
func (s *Service) Clear(ctx context.Context) error {
	reg, err := s.reg()
	if err != nil {
		return err
	}
	return reg.Clear(ctx)
}
