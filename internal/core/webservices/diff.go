package webservices

// Diff returns the attributes of newList whose name does not appear in
// oldList. Attributes present in both lists are left out even when their
// value changed. A nil oldList yields newList unchanged.
func Diff(oldList, newList []Attribute) []Attribute {
	if newList == nil {
		return []Attribute{}
	}
	if oldList == nil {
		return copyAttributes(newList)
	}

	known := make(map[string]struct{}, len(oldList))
	for _, a := range oldList {
		known[a.Name] = struct{}{}
	}

	out := make([]Attribute, 0, len(newList))
	for _, a := range newList {
		if _, ok := known[a.Name]; !ok {
			out = append(out, a)
		}
	}
	return copyAttributes(out)
}

// diffWebService builds the record pushed on update: identity from old, each
// list reduced to the names newly introduced by upd.
func diffWebService(old, upd *WebService) *WebService {
	return &WebService{
		ID:               old.ID,
		Name:             old.Name,
		Type:             old.Type,
		Service:          old.Service,
		Subservice:       old.Subservice,
		Active:           Diff(old.Active, upd.Active),
		Lazy:             Diff(old.Lazy, upd.Lazy),
		Commands:         Diff(old.Commands, upd.Commands),
		StaticAttributes: Diff(old.StaticAttributes, upd.StaticAttributes),
	}
}
