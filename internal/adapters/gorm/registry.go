package gorm

import (
	"context"
	"errors"
	"time"

	"webservice-io/internal/core/webservices"

	"github.com/rs/zerolog"
	"gorm.io/gorm"
)

// webServiceRow is the table layout. (service, ws_id) is the primary key so
// the insert itself enforces id uniqueness; names are unique per tenant scope.
type webServiceRow struct {
	Service          string `gorm:"primaryKey;size:64;uniqueIndex:idx_ws_scope_name,priority:1"`
	WSID             string `gorm:"column:ws_id;primaryKey;size:256"`
	Subservice       string `gorm:"size:256;index;uniqueIndex:idx_ws_scope_name,priority:2"`
	Name             string `gorm:"size:512;uniqueIndex:idx_ws_scope_name,priority:3"`
	Type             string `gorm:"size:256"`
	Prefix           string
	Expression       string
	Endpoint         string
	Timezone         string
	RegistrationID   string
	InternalID       string
	Polling          bool
	Protocol         string
	Active           []webservices.Attribute    `gorm:"serializer:json;type:jsonb"`
	Lazy             []webservices.Attribute    `gorm:"serializer:json;type:jsonb"`
	Commands         []webservices.Attribute    `gorm:"serializer:json;type:jsonb"`
	StaticAttributes []webservices.Attribute    `gorm:"serializer:json;type:jsonb"`
	Subscriptions    []webservices.Subscription `gorm:"serializer:json;type:jsonb"`
	CreatedAt        time.Time
}

func (webServiceRow) TableName() string { return "web_services" }

// attributeColumns maps the JSON field names accepted by GetByAttribute to
// table columns.
var attributeColumns = map[string]string{
	"id":             "ws_id",
	"type":           "type",
	"name":           "name",
	"service":        "service",
	"subservice":     "subservice",
	"prefix":         "prefix",
	"expression":     "expression",
	"endpoint":       "endpoint",
	"timezone":       "timezone",
	"registrationId": "registration_id",
	"internalId":     "internal_id",
	"protocol":       "protocol",
}

func toRow(ws *webservices.WebService) *webServiceRow {
	c := ws.DeepCopy()
	return &webServiceRow{
		Service:          c.Service,
		WSID:             c.ID,
		Subservice:       c.Subservice,
		Name:             c.Name,
		Type:             c.Type,
		Prefix:           c.Prefix,
		Expression:       c.Expression,
		Endpoint:         c.Endpoint,
		Timezone:         c.Timezone,
		RegistrationID:   c.RegistrationID,
		InternalID:       c.InternalID,
		Polling:          c.Polling,
		Protocol:         c.Protocol,
		Active:           c.Active,
		Lazy:             c.Lazy,
		Commands:         c.Commands,
		StaticAttributes: c.StaticAttributes,
		Subscriptions:    c.Subscriptions,
		CreatedAt:        c.CreationDate,
	}
}

func (r *webServiceRow) toWebService() *webservices.WebService {
	return &webservices.WebService{
		ID:               r.WSID,
		Type:             r.Type,
		Name:             r.Name,
		Service:          r.Service,
		Subservice:       r.Subservice,
		Prefix:           r.Prefix,
		Expression:       r.Expression,
		Endpoint:         r.Endpoint,
		Active:           r.Active,
		Lazy:             r.Lazy,
		Commands:         r.Commands,
		StaticAttributes: r.StaticAttributes,
		Timezone:         r.Timezone,
		RegistrationID:   r.RegistrationID,
		InternalID:       r.InternalID,
		Polling:          r.Polling,
		Protocol:         r.Protocol,
		Subscriptions:    r.Subscriptions,
		CreationDate:     r.CreatedAt.UTC(),
	}
}

// updatedColumns are rewritten by Update, zero values included.
var updatedColumns = []string{
	"name", "type", "prefix", "expression", "endpoint", "timezone",
	"registration_id", "internal_id", "polling", "protocol",
	"active", "lazy", "commands", "static_attributes", "subscriptions",
}

// Registry is the PostgreSQL web service registry.
type Registry struct {
	db    *gorm.DB
	lg    zerolog.Logger
	clock func() time.Time
}

func NewRegistry(db *gorm.DB, lg zerolog.Logger) *Registry {
	return &Registry{
		db:    db,
		lg:    lg.With().Str("registry", "postgres").Logger(),
		clock: time.Now,
	}
}

func (r *Registry) Store(ctx context.Context, ws *webservices.WebService) (*webservices.WebService, error) {
	row := toRow(ws)
	row.CreatedAt = r.clock().UTC()

	r.lg.Debug().Str("id", ws.ID).Str("type", ws.Type).Msg("storing web service")
	err := r.db.WithContext(ctx).Create(row).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return nil, r.duplicateCause(ctx, ws)
	}
	if err != nil {
		return nil, webservices.StoreError("store", err)
	}
	return row.toWebService(), nil
}

// duplicateCause tells an id clash from a name clash after a unique violation.
func (r *Registry) duplicateCause(ctx context.Context, ws *webservices.WebService) error {
	var n int64
	err := r.db.WithContext(ctx).Model(&webServiceRow{}).
		Where("service = ? AND ws_id = ?", ws.Service, ws.ID).Count(&n).Error
	if err != nil {
		return webservices.StoreError("store", err)
	}
	if n > 0 {
		return &webservices.DuplicateIDError{ID: ws.ID}
	}
	return &webservices.DuplicateNameError{Name: ws.Name}
}

func (r *Registry) Get(ctx context.Context, id, service, subservice string) (*webservices.WebService, error) {
	return r.first(ctx, "get", id, r.scoped(service, subservice).Where("ws_id = ?", id))
}

func (r *Registry) GetByName(ctx context.Context, name, service, subservice string) (*webservices.WebService, error) {
	return r.first(ctx, "getByName", name, r.scoped(service, subservice).Where("name = ?", name))
}

func (r *Registry) first(ctx context.Context, op, key string, q *gorm.DB) (*webservices.WebService, error) {
	var row webServiceRow
	err := q.WithContext(ctx).Order("service, ws_id").Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, &webservices.NotFoundError{Key: key}
	}
	if err != nil {
		r.lg.Debug().Err(err).Str("key", key).Msg("internal database error")
		return nil, webservices.StoreError(op, err)
	}
	return row.toWebService(), nil
}

func (r *Registry) GetByAttribute(ctx context.Context, attrName, attrValue, service, subservice string) ([]*webservices.WebService, error) {
	col, ok := attributeColumns[attrName]
	if !ok {
		return nil, &webservices.NotFoundError{Key: attrName + "=" + attrValue}
	}

	var rows []webServiceRow
	err := r.scoped(service, subservice).WithContext(ctx).
		Where(col+" = ?", attrValue).Order("service, ws_id").Find(&rows).Error
	if err != nil {
		return nil, webservices.StoreError("getByAttribute", err)
	}
	if len(rows) == 0 {
		return nil, &webservices.NotFoundError{Key: attrName + "=" + attrValue}
	}
	out := make([]*webservices.WebService, len(rows))
	for i := range rows {
		out[i] = rows[i].toWebService()
	}
	return out, nil
}

func (r *Registry) List(ctx context.Context, service, subservice string, limit, offset int) (*webservices.ListResult, error) {
	var count int64
	if err := r.scoped(service, subservice).WithContext(ctx).Model(&webServiceRow{}).Count(&count).Error; err != nil {
		return nil, webservices.StoreError("list", err)
	}

	q := r.scoped(service, subservice).WithContext(ctx).Order("service, ws_id")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if offset > 0 {
		q = q.Offset(offset)
	}
	var rows []webServiceRow
	if err := q.Find(&rows).Error; err != nil {
		return nil, webservices.StoreError("list", err)
	}

	res := &webservices.ListResult{Count: count, WebServices: make([]*webservices.WebService, len(rows))}
	for i := range rows {
		res.WebServices[i] = rows[i].toWebService()
	}
	return res, nil
}

func (r *Registry) Update(ctx context.Context, ws *webservices.WebService) (*webservices.WebService, error) {
	res := r.db.WithContext(ctx).Model(&webServiceRow{}).
		Where("service = ? AND ws_id = ?", ws.Service, ws.ID).
		Select(updatedColumns).
		Updates(toRow(ws))
	if errors.Is(res.Error, gorm.ErrDuplicatedKey) {
		return nil, &webservices.DuplicateNameError{Name: ws.Name}
	}
	if res.Error != nil {
		return nil, webservices.StoreError("update", res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, &webservices.NotFoundError{Key: ws.ID}
	}
	return r.Get(ctx, ws.ID, ws.Service, "")
}

// Remove deletes id in every tenant. Unknown ids are not an error.
func (r *Registry) Remove(ctx context.Context, id, _, _ string) error {
	res := r.db.WithContext(ctx).Where("ws_id = ?", id).Delete(&webServiceRow{})
	if res.Error != nil {
		return webservices.StoreError("remove", res.Error)
	}
	r.lg.Debug().Str("id", id).Int64("rows", res.RowsAffected).Msg("web service removed")
	return nil
}

func (r *Registry) Clear(ctx context.Context) error {
	err := r.db.WithContext(ctx).Session(&gorm.Session{AllowGlobalUpdate: true}).
		Delete(&webServiceRow{}).Error
	return webservices.StoreError("clear", err)
}

func (r *Registry) scoped(service, subservice string) *gorm.DB {
	q := r.db
	if service != "" {
		q = q.Where("service = ?", service)
	}
	if subservice != "" {
		q = q.Where("subservice = ?", subservice)
	}
	return q
}
