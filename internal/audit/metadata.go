package audit

import "encoding/json"

// Metadata encodes v as the JSON metadata of an audit entry. Values that fail to marshal yield "".
func Metadata(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(b)
}
