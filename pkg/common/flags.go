package common

import (
	"fmt"
	"strconv"
)

// MustAtoi parses an integer flag value and panics with the flag name when it
// is invalid. It is meant to be called inside lflag.Do.
func MustAtoi(name, v string) int {
	i, err := strconv.Atoi(v)
	if err != nil {
		panic(fmt.Sprintf("invalid %s (%q): %v", name, v, err))
	}
	return i
}
