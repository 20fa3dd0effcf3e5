// Package dispatch implements the transaction dispatcher (spec §4.I): the
// single place a committed Raft log entry is turned into graph mutations,
// search ingest, and an appended event, all inside one write transaction.
//
// Grounded on original_source/aruna-server/src/transactions/transaction.rs's
// Transaction trait (a tag-dispatched request type deserialized from the
// replicated payload, executed against a write txn, producing an event) and
// request.rs's enum of request variants. Each write command gets its own Tag
// byte instead of transaction.rs's trait-object dispatch, since Go has no
// direct equivalent of downcasting a deserialized trait object — a byte
// switch is the idiomatic stand-in, the same shape cuemby-warren's
// pkg/manager.Command.Op string switch uses for its own replicated commands.
package dispatch

import (
	"encoding/binary"
	"fmt"

	"github.com/cuemby/strata/internal/types"
)

// Tag identifies which handler a committed envelope routes to.
type Tag byte

const (
	TagCreateProject Tag = iota + 1
	TagCreateResource
	TagCreateResourceBatch
	TagUpdateResourceName
	TagUpdateResourceTitle
	TagCreateRealm
	TagCreateGroup
	TagAddGroupToRealm
	TagRegisterUser
	TagCreateToken
	TagCreateRelation
	TagCreateRelationVariant
	TagCreateComponent
	TagAddComponentToRealm
	TagRegisterData
	TagCreateRule
	TagAddRuleBinding
)

// envelope is the payload format proposed to consensus: a tag byte, the
// requester's resolved user index (0 for the pre-bootstrap RegisterUser
// call, where no user exists yet), and the tag's codec-encoded body.
// Requester is stamped by Service before Propose, per spec §6: "the ingress
// validates the token... and stamps the transaction with the resolved
// requester before proposal" — stamping happens once, here, rather than
// re-validating the bearer token again inside Apply.
type envelope struct {
	tag       Tag
	requester types.Index
	body      []byte
}

func encodeEnvelope(e envelope) []byte {
	out := make([]byte, 0, 5+len(e.body))
	out = append(out, byte(e.tag))
	var idx [4]byte
	binary.BigEndian.PutUint32(idx[:], uint32(e.requester))
	out = append(out, idx[:]...)
	out = append(out, e.body...)
	return out
}

func decodeEnvelope(payload []byte) (envelope, error) {
	if len(payload) < 5 {
		return envelope{}, fmt.Errorf("dispatch: truncated envelope")
	}
	return envelope{
		tag:       Tag(payload[0]),
		requester: types.Index(binary.BigEndian.Uint32(payload[1:5])),
		body:      payload[5:],
	}, nil
}

// encodeRepeated frames a list of sub-records as a 4-byte count followed by
// a 4-byte length plus bytes per item, used only by TagCreateResourceBatch —
// the one command whose body is itself a list of the single-resource body
// shape, which the flat field registry has no native way to repeat.
func encodeRepeated(items [][]byte) []byte {
	var out []byte
	var hdr [4]byte
	binary.BigEndian.PutUint32(hdr[:], uint32(len(items)))
	out = append(out, hdr[:]...)
	for _, item := range items {
		var lenBuf [4]byte
		binary.BigEndian.PutUint32(lenBuf[:], uint32(len(item)))
		out = append(out, lenBuf[:]...)
		out = append(out, item...)
	}
	return out
}

// encodeTokenResult frames CreateToken's four return values — the token's
// own ID, its plaintext access key, the hex-encoded secret (which
// Service.CreateToken does not pass on to its caller), and the signed
// JWT — as length-prefixed segments
// following the ID's fixed 16 bytes, the same length-prefix style as
// encodeRepeated.
func encodeTokenResult(id types.ID, accessKey, secretHex, jwtStr string) []byte {
	out := append([]byte{}, id.Bytes()...)
	for _, s := range []string{accessKey, secretHex, jwtStr} {
		var lenBuf [4]byte
		binary.BigEndian.PutUint32(lenBuf[:], uint32(len(s)))
		out = append(out, lenBuf[:]...)
		out = append(out, s...)
	}
	return out
}

func decodeTokenResult(data []byte) (id types.ID, accessKey, secretHex, jwtStr string, err error) {
	if len(data) < 16 {
		return types.ID{}, "", "", "", fmt.Errorf("dispatch: truncated token result")
	}
	id, err = types.IDFromBytes(data[:16])
	if err != nil {
		return types.ID{}, "", "", "", err
	}
	data = data[16:]
	strs := make([]string, 0, 3)
	for i := 0; i < 3; i++ {
		if len(data) < 4 {
			return types.ID{}, "", "", "", fmt.Errorf("dispatch: truncated token result segment %d", i)
		}
		n := binary.BigEndian.Uint32(data[0:4])
		data = data[4:]
		if uint32(len(data)) < n {
			return types.ID{}, "", "", "", fmt.Errorf("dispatch: truncated token result segment %d body", i)
		}
		strs = append(strs, string(data[:n]))
		data = data[n:]
	}
	return id, strs[0], strs[1], strs[2], nil
}

func decodeRepeated(data []byte) ([][]byte, error) {
	if len(data) < 4 {
		return nil, fmt.Errorf("dispatch: truncated batch header")
	}
	count := binary.BigEndian.Uint32(data[0:4])
	data = data[4:]
	items := make([][]byte, 0, count)
	for i := uint32(0); i < count; i++ {
		if len(data) < 4 {
			return nil, fmt.Errorf("dispatch: truncated batch item %d header", i)
		}
		n := binary.BigEndian.Uint32(data[0:4])
		data = data[4:]
		if uint32(len(data)) < n {
			return nil, fmt.Errorf("dispatch: truncated batch item %d body", i)
		}
		items = append(items, data[:n])
		data = data[n:]
	}
	return items, nil
}
