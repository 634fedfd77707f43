package persistence

import "encoding/json"

// EncodeList serializes a string list for storage. A nil list is stored as [].
func EncodeList(items []string) string {
	if items == nil {
		items = []string{}
	}
	b, _ := json.Marshal(items)
	return string(b)
}

// DecodeList is the inverse of EncodeList and never returns nil
func DecodeList(raw string) []string {
	out := []string{}
	_ = json.Unmarshal([]byte(raw), &out)
	return out
}
