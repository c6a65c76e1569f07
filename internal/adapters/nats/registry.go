package nats

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"sort"
	"strings"
	"time"

	"webservice-io/internal/core/webservices"

	natsgo "github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
)

// Registry stores web services in a JetStream key-value bucket, one key per
// (service, id). Create on the bucket is the atomic uniqueness check.
type Registry struct {
	kv    KeyValue
	lg    zerolog.Logger
	clock func() time.Time
}

func NewRegistry(kv KeyValue, lg zerolog.Logger) *Registry {
	return &Registry{
		kv:    kv,
		lg:    lg.With().Str("registry", "nats").Logger(),
		clock: time.Now,
	}
}

var enc = base64.RawURLEncoding

// key encodes service and id into the bucket's key alphabet.
func key(service, id string) string {
	return "s" + enc.EncodeToString([]byte(service)) + ".i" + enc.EncodeToString([]byte(id))
}

func idSuffix(id string) string {
	return ".i" + enc.EncodeToString([]byte(id))
}

func (r *Registry) Store(ctx context.Context, ws *webservices.WebService) (*webservices.WebService, error) {
	if ws.Name != "" {
		taken, err := r.nameTaken(ctx, ws.Name, ws.Service, ws.Subservice, ws.ID)
		if err != nil {
			return nil, err
		}
		if taken {
			return nil, &webservices.DuplicateNameError{Name: ws.Name}
		}
	}

	stored := ws.DeepCopy()
	stored.CreationDate = r.clock().UTC()
	b, err := json.Marshal(stored)
	if err != nil {
		return nil, webservices.StoreError("store", err)
	}

	r.lg.Debug().Str("id", ws.ID).Str("type", ws.Type).Msg("storing web service")
	if _, err := r.kv.Create(key(ws.Service, ws.ID), b); err != nil {
		if errors.Is(err, ErrKeyExists) {
			return nil, &webservices.DuplicateIDError{ID: ws.ID}
		}
		return nil, webservices.StoreError("store", err)
	}
	return stored, nil
}

func (r *Registry) Get(_ context.Context, id, service, subservice string) (*webservices.WebService, error) {
	ws, _, err := r.load(key(service, id))
	if err != nil {
		return nil, err
	}
	if ws == nil || !webservices.MatchesScope(ws, "", subservice) {
		return nil, &webservices.NotFoundError{Key: id}
	}
	return ws, nil
}

func (r *Registry) GetByName(ctx context.Context, name, service, subservice string) (*webservices.WebService, error) {
	all, err := r.scan(ctx, service, subservice)
	if err != nil {
		return nil, err
	}
	for _, ws := range all {
		if ws.Name == name {
			return ws, nil
		}
	}
	return nil, &webservices.NotFoundError{Key: name}
}

func (r *Registry) GetByAttribute(ctx context.Context, attrName, attrValue, service, subservice string) ([]*webservices.WebService, error) {
	all, err := r.scan(ctx, service, subservice)
	if err != nil {
		return nil, err
	}
	var out []*webservices.WebService
	for _, ws := range all {
		if v, ok := ws.Field(attrName); ok && v == attrValue {
			out = append(out, ws)
		}
	}
	if len(out) == 0 {
		return nil, &webservices.NotFoundError{Key: attrName + "=" + attrValue}
	}
	return out, nil
}

func (r *Registry) List(ctx context.Context, service, subservice string, limit, offset int) (*webservices.ListResult, error) {
	all, err := r.scan(ctx, service, subservice)
	if err != nil {
		return nil, err
	}
	return webservices.Paginate(all, limit, offset), nil
}

// Update rewrites the record with optimistic concurrency on the key revision.
func (r *Registry) Update(ctx context.Context, ws *webservices.WebService) (*webservices.WebService, error) {
	k := key(ws.Service, ws.ID)
	stored, rev, err := r.load(k)
	if err != nil {
		return nil, err
	}
	if stored == nil {
		return nil, &webservices.NotFoundError{Key: ws.ID}
	}
	if ws.Name != "" && ws.Name != stored.Name {
		taken, err := r.nameTaken(ctx, ws.Name, stored.Service, stored.Subservice, ws.ID)
		if err != nil {
			return nil, err
		}
		if taken {
			return nil, &webservices.DuplicateNameError{Name: ws.Name}
		}
	}

	webservices.ReplaceMutable(stored, ws)
	b, err := json.Marshal(stored)
	if err != nil {
		return nil, webservices.StoreError("update", err)
	}
	if _, err := r.kv.Update(k, b, rev); err != nil {
		if errors.Is(err, ErrKeyExists) {
			r.lg.Warn().Str("id", ws.ID).Uint64("revision", rev).Msg("web service changed since it was read")
			return nil, &webservices.ConflictError{ID: ws.ID}
		}
		return nil, webservices.StoreError("update", err)
	}
	return stored, nil
}

// Remove deletes id under every service present in the bucket.
func (r *Registry) Remove(ctx context.Context, id, _, _ string) error {
	keys, err := r.keys(ctx)
	if err != nil {
		return err
	}
	suffix := idSuffix(id)
	for _, k := range keys {
		if !strings.HasSuffix(k, suffix) {
			continue
		}
		if err := r.kv.Delete(k); err != nil && !errors.Is(err, ErrKeyNotFound) {
			return webservices.StoreError("remove", err)
		}
		r.lg.Debug().Str("id", id).Str("key", k).Msg("web service removed")
	}
	return nil
}

func (r *Registry) Clear(ctx context.Context) error {
	keys, err := r.keys(ctx)
	if err != nil {
		return err
	}
	for _, k := range keys {
		if err := r.kv.Purge(k); err != nil {
			return webservices.StoreError("clear", err)
		}
	}
	return nil
}

// load returns (nil, 0, nil) when the key is absent or deleted.
func (r *Registry) load(k string) (*webservices.WebService, uint64, error) {
	entry, err := r.kv.Get(k)
	if errors.Is(err, ErrKeyNotFound) {
		return nil, 0, nil
	}
	if err != nil {
		return nil, 0, webservices.StoreError("get", err)
	}
	var ws webservices.WebService
	if err := json.Unmarshal(entry.Value(), &ws); err != nil {
		return nil, 0, webservices.StoreError("decode", err)
	}
	return &ws, entry.Revision(), nil
}

func (r *Registry) keys(ctx context.Context) ([]string, error) {
	keys, err := r.kv.Keys(natsgo.Context(ctx))
	if errors.Is(err, ErrNoKeysFound) {
		return nil, nil
	}
	if err != nil {
		return nil, webservices.StoreError("keys", err)
	}
	return keys, nil
}

// scan loads every record in scope ordered by service then id.
func (r *Registry) scan(ctx context.Context, service, subservice string) ([]*webservices.WebService, error) {
	keys, err := r.keys(ctx)
	if err != nil {
		return nil, err
	}
	prefix := ""
	if service != "" {
		prefix = "s" + enc.EncodeToString([]byte(service)) + "."
	}

	var out []*webservices.WebService
	for _, k := range keys {
		if !strings.HasPrefix(k, prefix) {
			continue
		}
		ws, _, err := r.load(k)
		if err != nil {
			return nil, err
		}
		if ws != nil && webservices.MatchesScope(ws, service, subservice) {
			out = append(out, ws)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Service != out[j].Service {
			return out[i].Service < out[j].Service
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// nameTaken is a scan, not a constraint: two concurrent writers picking the
// same new name can both pass it.
func (r *Registry) nameTaken(ctx context.Context, name, service, subservice, exceptID string) (bool, error) {
	all, err := r.scan(ctx, service, subservice)
	if err != nil {
		return false, err
	}
	for _, ws := range all {
		if ws.ID != exceptID && ws.Name == name && ws.Service == service && ws.Subservice == subservice {
			return true, nil
		}
	}
	return false, nil
}
