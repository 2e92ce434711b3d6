// Package enums holds the closed string sets persisted in the database and
// exchanged over the API.
package enums

import (
	"fmt"
	"slices"
)

func oneOf[T ~string](v T, set []T) bool {
	return slices.Contains(set, v)
}

// parse matches an already normalized value against set; kind names the set
// in the error.
func parse[T ~string](kind, value string, set []T) (T, error) {
	if v := T(value); oneOf(v, set) {
		return v, nil
	}
	var zero T
	return zero, fmt.Errorf("invalid %s %q", kind, value)
}
