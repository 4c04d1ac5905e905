package handler

import (
	"encoding/base64"
	"strings"

	"github.com/ingestd/ingestd/pkg/store"
)

// ParseMetadataHeader parses an Upload-Metadata header, e.g.
// "filename bHVucmpzLnBuZw==,filetype aW1hZ2UvcG5n", preserving key
// order as received. A key without a value is kept with an empty value;
// a pair with an empty key or a non-base64 value is skipped rather than
// failing the whole header.
func ParseMetadataHeader(header string) store.MetaData {
	var keys []string
	values := make(map[string]string)

	for _, element := range strings.Split(header, ",") {
		element = strings.TrimSpace(element)
		if element == "" {
			continue
		}

		parts := strings.SplitN(element, " ", 2)
		key := parts[0]
		if key == "" {
			continue
		}

		value := ""
		if len(parts) == 2 {
			dec, err := base64.StdEncoding.DecodeString(parts[1])
			if err != nil {
				continue
			}
			value = string(dec)
		}

		if _, exists := values[key]; !exists {
			keys = append(keys, key)
		}
		values[key] = value
	}

	return store.NewMetaData(keys, values)
}

// SerializeMetadataHeader renders meta back into Upload-Metadata header
// form, in its original key order.
func SerializeMetadataHeader(meta store.MetaData) string {
	parts := make([]string, 0, len(meta.Keys))
	for _, key := range meta.Keys {
		value := meta.Values[key]
		parts = append(parts, key+" "+base64.StdEncoding.EncodeToString([]byte(value)))
	}
	return strings.Join(parts, ",")
}
