// Log record format.
//
// Every mutation is persisted as a tagged union: one operation byte, one
// flags byte, then the JSON body. The encoding is fixed for the life of a
// log: recovery on any later version must decode records written by any
// earlier one.
//
//	byte 0   operation: 0 = insert, 1 = remove
//	byte 1   flags: bit 0 set when the body is zstd-compressed
//	byte 2+  body: JSON of recordBody
//
// Insert bodies carry the key and the document; remove bodies carry only
// the key. Framing (the u32 length prefix) is the page writer's concern,
// not the record's. See page.go.
package quire

import (
	"cmp"

	json "github.com/goccy/go-json"
)

// Operation identifies a mutation in the log and in events.
type Operation uint8

const (
	// OpInsert records that a key was bound to a document.
	OpInsert Operation = 0

	// OpRemove records that a key was deleted.
	OpRemove Operation = 1
)

// Record flag bits.
const flagCompressed = 1 << 0

// recordBody is the JSON body of a log record. Doc is nil for removes.
type recordBody[K cmp.Ordered, D Document[K]] struct {
	Key K  `json:"k"`
	Doc *D `json:"d,omitempty"`
}

// encodeRecord serialises a mutation. A nil doc encodes a remove.
func encodeRecord[K cmp.Ordered, D Document[K]](op Operation, key K, doc *D, threshold int) ([]byte, error) {
	body, err := json.Marshal(recordBody[K, D]{Key: key, Doc: doc})
	if err != nil {
		return nil, err
	}

	var flags byte
	if threshold >= 0 && len(body) > threshold {
		body = compress(body)
		flags |= flagCompressed
	}

	out := make([]byte, 0, 2+len(body))
	out = append(out, byte(op), flags)
	return append(out, body...), nil
}

// decodeRecord parses a log payload back into a mutation.
func decodeRecord[K cmp.Ordered, D Document[K]](payload []byte) (Operation, K, *D, error) {
	var zero K
	if len(payload) < 2 {
		return 0, zero, nil, ErrCorruptRecord
	}

	op := Operation(payload[0])
	if op != OpInsert && op != OpRemove {
		return 0, zero, nil, ErrCorruptRecord
	}

	body := payload[2:]
	if payload[1]&flagCompressed != 0 {
		var err error
		if body, err = decompress(body); err != nil {
			return 0, zero, nil, ErrCorruptRecord
		}
	}

	var rec recordBody[K, D]
	if err := json.Unmarshal(body, &rec); err != nil {
		return 0, zero, nil, ErrCorruptRecord
	}
	if op == OpInsert && rec.Doc == nil {
		return 0, zero, nil, ErrCorruptRecord
	}
	return op, rec.Key, rec.Doc, nil
}
