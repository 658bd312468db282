package frame

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIoU(t *testing.T) {
	a := NewBox(0, 0, 10, 10)
	assert.InDelta(t, 1.0, a.IoU(a), 1e-9)
	assert.InDelta(t, 25.0/175.0, a.IoU(NewBox(5, 5, 10, 10)), 1e-9)
	assert.Zero(t, a.IoU(NewBox(20, 20, 5, 5)))
	assert.Zero(t, Box{}.IoU(Box{}))
}

func TestRefCounting(t *testing.T) {
	released := 0
	f := New(7, time.Now(), TaskStream, 25, "buf", func(*Context) { released++ })
	require.NotEmpty(t, f.TraceID)
	f.Retain()
	assert.False(t, f.Release())
	assert.Equal(t, 0, released)
	assert.True(t, f.Release())
	assert.Equal(t, 1, released)
	assert.Nil(t, f.Buffer)
	assert.Panics(t, func() { f.Release() })
}

func TestCarry(t *testing.T) {
	f := New(0, time.Now(), TaskStream, 25, nil, nil)
	f.Append(StageResult{Detections: []Detection{{ID: 0, ClassID: 3}}})
	g := New(1, time.Now(), TaskStream, 25, nil, nil)
	g.Carry(f.Results())
	require.True(t, g.Carried())
	require.False(t, f.Carried())
	g.Results()[0].Detections[0].ClassID = 9
	assert.Equal(t, 3, f.Results()[0].Detections[0].ClassID)
}

func TestGatedCountsAsCarried(t *testing.T) {
	f := New(0, time.Now(), TaskStream, 25, nil, nil)
	require.False(t, f.Carried())
	f.Append(StageResult{Gated: true})
	assert.True(t, f.Carried())
	assert.Equal(t, 0, f.Results()[0].Stage)
}
