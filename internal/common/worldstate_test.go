package common

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestWorldState_Jitter(t *testing.T) {
	ws := WorldOfTime(time.Unix(10, 0))
	assert.Equal(t, time.Unix(10, 0), ws.Now())
	for i := 0; i < 100; i++ {
		j := ws.Jitter(time.Second)
		assert.GreaterOrEqual(t, j, 500*time.Millisecond)
		assert.Less(t, j, time.Second)
	}
	assert.Equal(t, time.Duration(1), ws.Jitter(1))
}
