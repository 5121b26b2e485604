package conflict

import (
	"encoding/json"
	"fmt"

	"github.com/playforge/arcadia/pkg/cache"
)

// MergeFunc combines a stored payload with an incoming one. Returning an
// error falls the resolution back to OptimisticLock rejection.
type MergeFunc func(stored, incoming []byte) ([]byte, error)

func (d *Detector) mergeFor(cat cache.Category) MergeFunc {
	if fn, ok := d.merges[cat]; ok {
		return fn
	}
	return MergeJSONObjects
}

// MergeJSONObjects is the default merge: both payloads must be JSON objects;
// the result is their shallow union with the incoming side winning on
// overlapping fields.
func MergeJSONObjects(stored, incoming []byte) ([]byte, error) {
	var base, over map[string]json.RawMessage
	if err := json.Unmarshal(stored, &base); err != nil {
		return nil, fmt.Errorf("stored payload is not a JSON object: %w", err)
	}
	if err := json.Unmarshal(incoming, &over); err != nil {
		return nil, fmt.Errorf("incoming payload is not a JSON object: %w", err)
	}
	for k, v := range over {
		base[k] = v
	}
	return json.Marshal(base)
}
