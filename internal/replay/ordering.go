package replay

import "click-datastreams/internal/bus"

// compareMessages orders replayed messages by (time, topic rank, partition,
// offset). Topic rank is the position of the topic in the replay list, so
// token and pool creation sort ahead of trades written in the same instant.
//
// Returns:
//   - negative if a < b
//   - zero if a == b
//   - positive if a > b
func compareMessages(a bus.Message, aRank int, b bus.Message, bRank int) int {
	if !a.Time.Equal(b.Time) {
		if a.Time.Before(b.Time) {
			return -1
		}
		return 1
	}
	if aRank != bRank {
		if aRank < bRank {
			return -1
		}
		return 1
	}
	if a.Partition != b.Partition {
		if a.Partition < b.Partition {
			return -1
		}
		return 1
	}
	if a.Offset != b.Offset {
		if a.Offset < b.Offset {
			return -1
		}
		return 1
	}
	return 0
}
