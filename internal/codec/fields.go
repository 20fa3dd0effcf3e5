// Package codec implements the ordered, field-tagged record encoding every
// node and edge kind is persisted as.
//
// Grounded on aruna-server's storage/obkv_ext.rs (an index-ordered field
// reader over a KvReaderU16) and storage/milli_helpers.rs (prepopulate_fields,
// which asserts a field-name registry against whatever mapping is already
// persisted in the index). This package reproduces both: a stable
// name-to-u16 registry (fields.go) and an ordered encoder/decoder over it
// (codec.go).
package codec

import "fmt"

// FieldID is the stable, persisted identifier for a record field. Once
// assigned, a FieldID is never reused or reassigned to a different name —
// doing so would silently corrupt every record written before the change.
type FieldID uint16

// Field pairs a stable ID with the name it was assigned under, purely for
// the startup assertion and for diagnostics; only the ID is ever persisted.
type Field struct {
	ID   FieldID
	Name string
}

// Registry order below is append-only. New fields are added at the end with
// the next unused ID; nothing already here is ever renumbered.
var Registry = []Field{
	{0, "id"},
	{1, "kind"},
	{2, "name"},
	{3, "description"},
	{4, "variant"},
	{5, "tags"},
	{6, "created_at"},
	{7, "updated_at"},
	{8, "parent_id"},
	{9, "owner_id"},
	{10, "realm_id"},
	{11, "group_id"},
	{12, "content_hash"},
	{13, "content_len"},
	{14, "location"},
	{15, "key_id"},
	{16, "public_key"},
	{17, "access_key"},
	{18, "secret_key_cipher"},
	{19, "level"},
	{20, "expires_at"},
	{21, "rule_expr"},
	{22, "endpoint_addr"},
	{23, "event_kind"},
	{24, "event_payload"},
	{25, "subscriber_cursor"},
	{26, "metadata"},
	// 27+ were added for internal/dispatch's transaction envelopes, which
	// reuse this same registry rather than inventing a second wire format.
	{27, "public"},
	{28, "email"},
	{29, "external_subject"},
	{30, "scope_id"},
	{31, "from_id"},
	{32, "to_id"},
	{33, "project_id"},
	{34, "rule_id"},
}

// byName and byID are built once at init for O(1) lookups by either key.
var (
	byName = map[string]FieldID{}
	byID   = map[FieldID]string{}
)

func init() {
	for i, f := range Registry {
		if int(f.ID) != i {
			panic(fmt.Sprintf("codec: field registry out of order at index %d (field %q has id %d)", i, f.Name, f.ID))
		}
		if _, dup := byName[f.Name]; dup {
			panic(fmt.Sprintf("codec: duplicate field name %q in registry", f.Name))
		}
		byName[f.Name] = f.ID
		byID[f.ID] = f.Name
	}
}

// FieldByName returns the stable ID for a field name, and whether it exists.
func FieldByName(name string) (FieldID, bool) {
	id, ok := byName[name]
	return id, ok
}

// NameByField returns the registered name for an ID, and whether it exists.
func NameByField(id FieldID) (string, bool) {
	name, ok := byID[id]
	return name, ok
}

// AssertPersisted checks that persisted, the name-to-id mapping read back
// from the store's meta bucket at startup, agrees with Registry exactly for
// every entry persisted is aware of. New registry entries not yet in
// persisted are fine (forward-compatible schema growth); persisted entries
// that disagree with Registry are fatal, since reopening an old store under
// a renumbered registry would silently misdecode every field that moved.
func AssertPersisted(persisted map[string]FieldID) error {
	for name, id := range persisted {
		want, ok := byName[name]
		if !ok {
			return fmt.Errorf("codec: field %q (id %d) present in store but missing from registry", name, id)
		}
		if want != id {
			return fmt.Errorf("codec: field %q registered as id %d but store has id %d", name, want, id)
		}
	}
	return nil
}

// Snapshot returns the current name-to-id mapping, suitable for persisting
// into the store's meta bucket on first startup.
func Snapshot() map[string]FieldID {
	out := make(map[string]FieldID, len(Registry))
	for _, f := range Registry {
		out[f.Name] = f.ID
	}
	return out
}
