package common

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMustAtoi(t *testing.T) {
	assert.Equal(t, 1000, MustAtoi("max-samples", "1000"))
	assert.Equal(t, -1, MustAtoi("max-samples", "-1"))
	assert.PanicsWithValue(t, `invalid max-samples ("ten"): strconv.Atoi: parsing "ten": invalid syntax`, func() {
		MustAtoi("max-samples", "ten")
	})
}
