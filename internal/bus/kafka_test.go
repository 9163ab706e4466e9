package bus

import (
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
)

func TestReplayable(t *testing.T) {
	tests := []struct {
		name       string
		start, end int64
		want       bool
	}{
		{"messages in range", 3, 10, true},
		{"from first offset", 0, 1, true},
		{"caught up", 10, 10, false},
		{"empty partition", 0, 0, false},
		{"nothing newer than lookback", kafka.LastOffset, 10, false},
		{"first offset sentinel", kafka.FirstOffset, 10, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, replayable(tt.start, tt.end))
		})
	}
}
