package usage

import (
	"bufio"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTrailWriter(t *testing.T) {
	tmpDir := t.TempDir()
	trailPath := filepath.Join(tmpDir, "usage.log")

	writer, err := NewTrailWriter(trailPath, 3)
	require.NoError(t, err)
	defer writer.Close()

	records := []Record{
		{Time: 1, RequestID: "req-1", Method: "POST", Path: "/v1/chat", Status: 200, DurationMS: 120, BytesOut: 512},
		{Time: 2, RequestID: "req-2", Method: "POST", Path: "/v1/messages", Status: 200, DurationMS: 80, BytesOut: 2048},
		{Time: 3, RequestID: "req-3", Method: "GET", Path: "/v1/models", Status: 404, DurationMS: 15, BytesOut: 64},
		{Time: 4, RequestID: "req-4", Method: "POST", Path: "/v1/chat", Status: 0, DurationMS: 30000, BytesOut: 0},
	}
	for _, rec := range records {
		require.NoError(t, writer.AddRecord(rec))
	}
	require.NoError(t, writer.Flush())

	file, err := os.Open(trailPath)
	require.NoError(t, err)
	defer file.Close()

	var read []Record
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		var rec Record
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &rec))
		read = append(read, rec)
	}
	require.NoError(t, scanner.Err())
	assert.Equal(t, records, read)
}

func TestTrailWriterFlushesOnInterval(t *testing.T) {
	trailPath := filepath.Join(t.TempDir(), "usage.log")
	writer, err := NewTrailWriter(trailPath, 2)
	require.NoError(t, err)
	defer writer.Close()

	require.NoError(t, writer.AddRecord(Record{RequestID: "req-1"}))
	data, err := os.ReadFile(trailPath)
	require.NoError(t, err)
	assert.Empty(t, data, "single record below interval should stay buffered")

	require.NoError(t, writer.AddRecord(Record{RequestID: "req-2"}))
	data, err = os.ReadFile(trailPath)
	require.NoError(t, err)
	assert.NotEmpty(t, data, "hitting the interval should flush")
}

func TestTrailWriterClose(t *testing.T) {
	trailPath := filepath.Join(t.TempDir(), "usage.log")
	writer, err := NewTrailWriter(trailPath, 100)
	require.NoError(t, err)

	require.NoError(t, writer.AddRecord(Record{RequestID: "req-1"}))
	require.NoError(t, writer.Close())
	require.NoError(t, writer.Close()) // idempotent

	data, err := os.ReadFile(trailPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), "req-1")

	assert.Error(t, writer.AddRecord(Record{RequestID: "req-2"}))
}

func TestCounters(t *testing.T) {
	c := NewCounters()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				c.RecordRequest()
				c.RecordProxied(10)
			}
			c.RecordProxyFailure()
		}()
	}
	wg.Wait()

	snap := c.Snapshot()
	assert.Equal(t, int64(800), snap.Requests)
	assert.Equal(t, int64(800), snap.Proxied)
	assert.Equal(t, int64(8), snap.ProxyFailures)
	assert.Equal(t, int64(8000), snap.BytesOut)
}
