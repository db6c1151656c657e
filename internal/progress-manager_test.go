package internal

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestProgressManagerLifecycle(t *testing.T) {
	pm := NewProgressManager()
	pm.Register("job1", "/tmp/a.bin", 1000)
	pm.Register("job2", "/tmp/b.bin", -1)

	pm.Update("job1", 250)
	pm.Update("job1", 700)
	assert.Equal(t, int64(700), pm.progressMap["job1"].Downloaded)

	pm.Complete("job1", 1000)
	assert.True(t, pm.progressMap["job1"].Completed)
	assert.Equal(t, int64(1000), pm.progressMap["job1"].CompletedSize)

	pm.ReportError("job2", errors.New("stream reset"))
	assert.True(t, pm.progressMap["job2"].Completed)
	assert.Contains(t, pm.progressMap["job2"].Failure, "stream reset")

	// Updates for unknown jobs are ignored.
	pm.Update("nope", 5)
}

func TestDisplayName(t *testing.T) {
	assert.Equal(t, "short.bin", displayName("short.bin"))
	long := "/very/long/path/that/definitely/exceeds/the/limit/file.bin"
	got := displayName(long)
	assert.Len(t, got, 25)
	assert.Equal(t, "...", got[:3])
}
