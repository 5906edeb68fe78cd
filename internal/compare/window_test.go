package compare

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/kiroku/internal/model"
)

func TestPartitionWindowScenario(t *testing.T) {
	base := time.UnixMilli(0).UTC()
	records := []model.CallRecord{
		{Method: "GET", Endpoint: "/c", Status: 200, Timestamp: base.Add(4000 * time.Millisecond)},
		{Method: "GET", Endpoint: "/b", Status: 200, Timestamp: base.Add(30 * time.Millisecond)},
		{Method: "GET", Endpoint: "/a", Status: 200, Timestamp: base},
	}

	current, previous := Partition(records, 2000*time.Millisecond)

	require.Len(t, current, 1)
	assert.Equal(t, "/c", current[0].Endpoint)
	require.Len(t, previous, 2)
	assert.Equal(t, "/b", previous[0].Endpoint)
	assert.Equal(t, "/a", previous[1].Endpoint)
}

func TestPartitionBoundaryIsExclusive(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	records := []model.CallRecord{
		{Timestamp: base.Add(time.Minute)},
		{Timestamp: base.Add(time.Second)},
		{Timestamp: base},
	}
	current, previous := Partition(records, time.Minute)
	assert.Len(t, current, 2)
	assert.Len(t, previous, 1, "a record exactly one gap old belongs to the previous run")
}

func TestPartitionEmpty(t *testing.T) {
	current, previous := Partition(nil, DefaultGap)
	assert.Nil(t, current)
	assert.Nil(t, previous)
}
