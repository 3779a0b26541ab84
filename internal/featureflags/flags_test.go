package featureflags

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEnabled(t *testing.T) {
	for _, v := range []string{"1", "true", "YES", " on "} {
		t.Setenv("FLAG_STRICT_LOOPBACK", v)
		assert.True(t, Enabled(StrictLoopback), v)
		assert.False(t, LoopbackBypass(), v)
	}
	for _, v := range []string{"", "0", "off", "nope"} {
		t.Setenv("FLAG_STRICT_LOOPBACK", v)
		assert.False(t, Enabled(StrictLoopback), v)
		assert.True(t, LoopbackBypass(), v)
	}
}
