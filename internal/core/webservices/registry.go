package webservices

import "context"

// Registry is the storage contract shared by every backend. Apart from
// GetByAttribute and Clear, every operation is scoped by service and
// subservice.
//
// Implementations must make Store a single conditional insert: two
// concurrent Store calls for the same (service, id) never both succeed.
// Errors from the underlying engine are returned as *InternalStoreError.
type Registry interface {
	// Store inserts a deep copy of ws stamped with its creation date.
	Store(ctx context.Context, ws *WebService) (*WebService, error)
	Get(ctx context.Context, id, service, subservice string) (*WebService, error)
	GetByName(ctx context.Context, name, service, subservice string) (*WebService, error)
	// GetByAttribute matches a top-level field (see WebService.Field).
	// Empty service or subservice disable that filter.
	GetByAttribute(ctx context.Context, attrName, attrValue, service, subservice string) ([]*WebService, error)
	// List returns at most limit records after skipping offset; Count is the
	// size of the whole matching set. Zero limit or offset means no cap or skip.
	List(ctx context.Context, service, subservice string, limit, offset int) (*ListResult, error)
	// Update replaces the mutable fields of the stored (service, id) record.
	Update(ctx context.Context, ws *WebService) (*WebService, error)
	// Remove deletes id wherever it is found. Removing an unknown id is not
	// an error.
	Remove(ctx context.Context, id, service, subservice string) error
	Clear(ctx context.Context) error
}

// MatchesScope reports whether ws belongs to service/subservice, treating an
// empty filter as a wildcard.
func MatchesScope(ws *WebService, service, subservice string) bool {
	if service != "" && ws.Service != service {
		return false
	}
	if subservice != "" && ws.Subservice != subservice {
		return false
	}
	return true
}

// Paginate slices an ordered match set the way every backend does.
func Paginate(all []*WebService, limit, offset int) *ListResult {
	res := &ListResult{Count: int64(len(all)), WebServices: []*WebService{}}
	if offset < 0 {
		offset = 0
	}
	if offset >= len(all) {
		return res
	}
	page := all[offset:]
	if limit > 0 && limit < len(page) {
		page = page[:limit]
	}
	res.WebServices = append(res.WebServices, page...)
	return res
}
