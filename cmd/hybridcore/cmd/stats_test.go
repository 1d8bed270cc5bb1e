package cmd

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Each cobra invocation constructs its own in-process Engine, so
// per-process counters like total_searches don't carry over across
// separate command runs — only persisted index state does. This test
// checks the stats command against a freshly built (never queried)
// index, where every counter is known to start at zero.
func TestStatsCmd_OnFreshIndex_ReportsZeroedCounters(t *testing.T) {
	cfgPath := buildTestIndex(t)

	statsCmd := NewRootCmd()
	buf := &bytes.Buffer{}
	statsCmd.SetOut(buf)
	statsCmd.SetArgs([]string{"--config", cfgPath, "stats", "--json"})
	require.NoError(t, statsCmd.Execute())

	var out struct {
		Performance struct {
			TotalSearches int64   `json:"total_searches"`
			CacheHitRate  float64 `json:"cache_hit_rate"`
		} `json:"performance"`
		Incremental struct {
			QueueSize int `json:"queue_size"`
		} `json:"incremental"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &out))

	assert.Equal(t, int64(0), out.Performance.TotalSearches)
	assert.Equal(t, float64(0), out.Performance.CacheHitRate)
	assert.Equal(t, 0, out.Incremental.QueueSize)
}

func TestStatsCmd_TextOutput_IsNonEmpty(t *testing.T) {
	cfgPath := buildTestIndex(t)

	statsCmd := NewRootCmd()
	buf := &bytes.Buffer{}
	statsCmd.SetOut(buf)
	statsCmd.SetArgs([]string{"--config", cfgPath, "stats"})
	require.NoError(t, statsCmd.Execute())

	assert.Contains(t, buf.String(), "Total searches")
}
