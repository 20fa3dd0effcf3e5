package codec

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	enc := NewEncoder()
	idField, _ := FieldByName("id")
	nameField, _ := FieldByName("name")
	createdField, _ := FieldByName("created_at")

	now := time.Now().UTC().Round(time.Nanosecond)
	enc.PutString(idField, "01HXYZ")
	enc.PutString(nameField, "my-project")
	enc.PutTime(createdField, now)

	data := enc.Encode()

	dec, err := NewDecoder(data)
	require.NoError(t, err)

	id, err := dec.RequiredString(idField)
	require.NoError(t, err)
	require.Equal(t, "01HXYZ", id)

	name, err := dec.RequiredString(nameField)
	require.NoError(t, err)
	require.Equal(t, "my-project", name)

	require.True(t, dec.Time(createdField).Equal(now))
}

func TestDecodeOrderIndependentOfPutOrder(t *testing.T) {
	nameField, _ := FieldByName("name")
	idField, _ := FieldByName("id")

	enc := NewEncoder()
	enc.PutString(nameField, "z")
	enc.PutString(idField, "a")

	data := enc.Encode()
	dec, err := NewDecoder(data)
	require.NoError(t, err)

	// id has the lower FieldID so it must decode first regardless of Put order.
	got, err := dec.RequiredString(idField)
	require.NoError(t, err)
	require.Equal(t, "a", got)
}

func TestFieldAbsentReturnsZeroValue(t *testing.T) {
	nameField, _ := FieldByName("name")
	descField, _ := FieldByName("description")

	enc := NewEncoder()
	enc.PutString(nameField, "only-name")
	data := enc.Encode()

	dec, err := NewDecoder(data)
	require.NoError(t, err)
	require.Equal(t, "", dec.String(descField))
}

func TestRequiredFieldMissingErrors(t *testing.T) {
	nameField, _ := FieldByName("name")
	enc := NewEncoder()
	data := enc.Encode()

	dec, err := NewDecoder(data)
	require.NoError(t, err)
	_, err = dec.RequiredString(nameField)
	require.Error(t, err)
}

// TestForwardCompatibility ensures a decoder that only knows about an older,
// shorter slice of the registry still decodes the fields it does know,
// ignoring trailing fields a hypothetical newer writer appended.
func TestForwardCompatibility(t *testing.T) {
	idField, _ := FieldByName("id")
	nameField, _ := FieldByName("name")
	metadataField, _ := FieldByName("metadata")

	enc := NewEncoder()
	enc.PutString(idField, "01HXYZ")
	enc.PutString(nameField, "proj")
	enc.PutString(metadataField, `{"future":"field"}`)
	data := enc.Encode()

	dec, err := NewDecoder(data)
	require.NoError(t, err)

	got, err := dec.RequiredString(idField)
	require.NoError(t, err)
	require.Equal(t, "01HXYZ", got)

	got, err = dec.RequiredString(nameField)
	require.NoError(t, err)
	require.Equal(t, "proj", got)
	// Never asked for metadataField; decoding the two fields we wanted
	// succeeded without needing to consume it.
}

func TestAssertPersistedDetectsMismatch(t *testing.T) {
	persisted := Snapshot()
	require.NoError(t, AssertPersisted(persisted))

	persisted["name"] = 999
	err := AssertPersisted(persisted)
	require.Error(t, err)
}

func TestAssertPersistedAllowsNewRegistryFields(t *testing.T) {
	persisted := map[string]FieldID{"id": 0, "kind": 1}
	require.NoError(t, AssertPersisted(persisted))
}
