package storage

import (
	"fmt"
	"path"
	"regexp"
	"strings"
)

var pathComponentPattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._=-]{0,127}$`)

// ObjectRef is one entry of an object list option. A ref ending in "/" names
// every Parquet object under that prefix.
type ObjectRef struct {
	Key    string
	Prefix bool
}

// ParseObjectList splits a comma-separated list of object keys. Empty entries
// are ignored and every path component is validated.
func ParseObjectList(raw string) ([]ObjectRef, error) {
	var refs []ObjectRef
	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		prefix := strings.HasSuffix(entry, "/")
		key := strings.Trim(entry, "/")
		if err := ValidateObjectKey(key); err != nil {
			return nil, err
		}
		if prefix {
			key += "/"
		}
		refs = append(refs, ObjectRef{Key: key, Prefix: prefix})
	}
	if len(refs) == 0 {
		return nil, fmt.Errorf("object list is empty")
	}
	return refs, nil
}

func ValidateObjectKey(key string) error {
	if key == "" {
		return fmt.Errorf("object key is required")
	}
	for _, component := range strings.Split(key, "/") {
		if err := validatePathComponent(component, "object key component"); err != nil {
			return err
		}
	}
	return nil
}

// IsParquet reports whether key names a Parquet object.
func IsParquet(key string) bool {
	return strings.EqualFold(path.Ext(key), ".parquet")
}

func validatePathComponent(value, field string) error {
	if !pathComponentPattern.MatchString(value) {
		return fmt.Errorf("invalid %s: %q", field, value)
	}
	return nil
}
