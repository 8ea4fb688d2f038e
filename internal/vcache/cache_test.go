package vcache

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/StreetsDigital/prebidjs-light-sub004/internal/detect"
)

func TestKey(t *testing.T) {
	tests := []struct {
		name  string
		pub   int64
		attrs detect.Attributes
		want  string
	}{
		{
			name:  "full tuple",
			pub:   42,
			attrs: detect.Attributes{Geo: "GB", Device: detect.DeviceMobile, Browser: "chrome", OS: "android"},
			want:  "42:GB:mobile:chrome:android",
		},
		{
			name:  "absent fields use sentinel",
			pub:   42,
			attrs: detect.Attributes{Device: detect.DeviceDesktop},
			want:  "42:none:desktop:none:none",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Key(tt.pub, tt.attrs))
		})
	}
}

func TestCache_GetPut(t *testing.T) {
	c := New(Options{TTL: time.Minute})
	defer c.Stop()

	_, ok := c.Get("1:GB:mobile:none:none")
	assert.False(t, ok)

	c.Put("1:GB:mobile:none:none", []byte("payload-a"))
	got, ok := c.Get("1:GB:mobile:none:none")
	require.True(t, ok)
	assert.Equal(t, []byte("payload-a"), got)

	// overwrite
	c.Put("1:GB:mobile:none:none", []byte("payload-b"))
	got, _ = c.Get("1:GB:mobile:none:none")
	assert.Equal(t, []byte("payload-b"), got)
}

func TestCache_TTLExpiry(t *testing.T) {
	c := New(Options{TTL: 20 * time.Millisecond})
	defer c.Stop()

	c.Put("k", []byte("v"))
	_, ok := c.Get("k")
	require.True(t, ok)

	time.Sleep(30 * time.Millisecond)
	_, ok = c.Get("k")
	assert.False(t, ok, "stale entry must read as a miss")
}

func TestCache_InvalidatePublisher(t *testing.T) {
	c := New(Options{TTL: time.Minute})
	defer c.Stop()

	c.Put("7:GB:mobile:none:none", []byte("a"))
	c.Put("7:DE:desktop:none:none", []byte("b"))
	c.Put("77:GB:mobile:none:none", []byte("c"))

	removed := c.InvalidatePublisher(7)
	assert.Equal(t, 2, removed)

	_, ok := c.Get("7:GB:mobile:none:none")
	assert.False(t, ok, "invalidation beats TTL")
	_, ok = c.Get("77:GB:mobile:none:none")
	assert.True(t, ok, "publisher 77 must be untouched by publisher 7's invalidation")
}

func TestCache_SweepExpiredAndCapacity(t *testing.T) {
	c := New(Options{TTL: time.Minute, MaxEntries: 10})
	defer c.Stop()

	for i := 0; i < 25; i++ {
		c.Put(fmt.Sprintf("1:k%02d:desktop:none:none", i), []byte("v"))
		time.Sleep(time.Millisecond) // distinct insertion order
	}
	require.Equal(t, 25, c.Len())

	c.Sweep(time.Now())
	assert.Equal(t, 10, c.Len(), "sweep must bring size back under the limit")

	// oldest-inserted entries are the ones evicted
	_, ok := c.Get("1:k00:desktop:none:none")
	assert.False(t, ok)
	_, ok = c.Get("1:k24:desktop:none:none")
	assert.True(t, ok)
}

func TestCache_SweepRemovesExpiredFirst(t *testing.T) {
	c := New(Options{TTL: 10 * time.Millisecond, MaxEntries: 100})
	defer c.Stop()

	c.Put("1:a:desktop:none:none", []byte("v"))
	time.Sleep(20 * time.Millisecond)
	c.Sweep(time.Now())
	assert.Equal(t, 0, c.Len())
}

func TestCache_BackgroundSweeper(t *testing.T) {
	c := New(Options{TTL: 10 * time.Millisecond, SweepInterval: 20 * time.Millisecond})
	c.Start()
	defer c.Stop()

	c.Put("1:a:desktop:none:none", []byte("v"))
	assert.Eventually(t, func() bool { return c.Len() == 0 }, time.Second, 5*time.Millisecond)
}

func TestCache_StopIsIdempotent(t *testing.T) {
	c := New(Options{})
	c.Start()
	c.Stop()
	c.Stop()
}

func TestCache_ConcurrentAccess(t *testing.T) {
	c := New(Options{TTL: time.Minute, SweepInterval: time.Millisecond, MaxEntries: 64})
	c.Start()
	defer c.Stop()

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 500; i++ {
				key := Key(int64(g%4), detect.Attributes{Geo: fmt.Sprintf("C%d", i%16), Device: detect.DeviceMobile})
				if i%3 == 0 {
					c.Put(key, []byte("payload"))
				} else {
					c.Get(key)
				}
				if i%100 == 0 {
					c.InvalidatePublisher(int64(g % 4))
				}
			}
		}(g)
	}
	wg.Wait()
}
