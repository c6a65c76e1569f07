package webservices

import (
	"context"
	"errors"

	"webservice-io/internal/core/health"
)

// alarmedRegistry raises the registry alarm whenever the backend reports an
// internal failure and releases it on the next call that reaches the backend.
type alarmedRegistry struct {
	next   Registry
	alarms *health.Alarms
}

// WithAlarms wraps r so backend failures drive health.RegistryAlarm.
func WithAlarms(r Registry, alarms *health.Alarms) Registry {
	if alarms == nil {
		return r
	}
	return &alarmedRegistry{next: r, alarms: alarms}
}

func (a *alarmedRegistry) observe(err error) {
	if errors.Is(err, ErrInternalStore) {
		a.alarms.Raise(health.RegistryAlarm, err)
		return
	}
	a.alarms.Release(health.RegistryAlarm)
}

func (a *alarmedRegistry) Store(ctx context.Context, ws *WebService) (*WebService, error) {
	out, err := a.next.Store(ctx, ws)
	a.observe(err)
	return out, err
}

func (a *alarmedRegistry) Get(ctx context.Context, id, service, subservice string) (*WebService, error) {
	out, err := a.next.Get(ctx, id, service, subservice)
	a.observe(err)
	return out, err
}

func (a *alarmedRegistry) GetByName(ctx context.Context, name, service, subservice string) (*WebService, error) {
	out, err := a.next.GetByName(ctx, name, service, subservice)
	a.observe(err)
	return out, err
}

func (a *alarmedRegistry) GetByAttribute(ctx context.Context, attrName, attrValue, service, subservice string) ([]*WebService, error) {
	out, err := a.next.GetByAttribute(ctx, attrName, attrValue, service, subservice)
	a.observe(err)
	return out, err
}

func (a *alarmedRegistry) List(ctx context.Context, service, subservice string, limit, offset int) (*ListResult, error) {
	out, err := a.next.List(ctx, service, subservice, limit, offset)
	a.observe(err)
	return out, err
}

func (a *alarmedRegistry) Update(ctx context.Context, ws *WebService) (*WebService, error) {
	out, err := a.next.Update(ctx, ws)
	a.observe(err)
	return out, err
}

func (a *alarmedRegistry) Remove(ctx context.Context, id, service, subservice string) error {
	err := a.next.Remove(ctx, id, service, subservice)
	a.observe(err)
	return err
}

func (a *alarmedRegistry) Clear(ctx context.Context) error {
	err := a.next.Clear(ctx)
	a.observe(err)
	return err
}
