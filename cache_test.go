// Volatile TTL cache tests.
//
// The cache is intentionally small: set, set-if-absent, get, delete, with
// per-entry expiry and no durability. The expiry tests use real (short)
// clocks, so they assert around comfortable margins rather than exact
// deadlines.
package quire

import (
	"testing"
	"time"
)

func TestCacheSetGet(t *testing.T) {
	c := NewCache[string, int]()
	defer c.Close()

	c.Set("a", 1, 0)
	got, ok := c.Get("a")
	if !ok || got != 1 {
		t.Errorf("Get = %d, %v, want 1, true", got, ok)
	}

	if _, ok := c.Get("ghost"); ok {
		t.Error("Get absent key reported present")
	}
}

func TestCacheOverwrite(t *testing.T) {
	c := NewCache[string, int]()
	defer c.Close()

	c.Set("a", 1, 0)
	c.Set("a", 2, 0)
	if got, _ := c.Get("a"); got != 2 {
		t.Errorf("Get after overwrite = %d, want 2", got)
	}
}

func TestCacheSetNX(t *testing.T) {
	c := NewCache[string, int]()
	defer c.Close()

	if !c.SetNX("a", 1, 0) {
		t.Error("SetNX on fresh key = false, want true")
	}
	if c.SetNX("a", 2, 0) {
		t.Error("SetNX on existing key = true, want false")
	}
	if got, _ := c.Get("a"); got != 1 {
		t.Errorf("SetNX overwrote: Get = %d, want 1", got)
	}
}

func TestCacheDel(t *testing.T) {
	c := NewCache[string, int]()
	defer c.Close()

	c.Set("a", 1, 0)
	c.Del("a")
	if _, ok := c.Get("a"); ok {
		t.Error("Get after Del reported present")
	}

	c.Del("ghost") // absent delete is a no-op
}

func TestCacheExpiry(t *testing.T) {
	c := NewCache[string, int]()
	defer c.Close()

	c.Set("short", 1, 30*time.Millisecond)
	c.Set("long", 2, time.Hour)
	c.Set("forever", 3, 0)

	if _, ok := c.Get("short"); !ok {
		t.Error("entry expired immediately")
	}

	time.Sleep(80 * time.Millisecond)

	if _, ok := c.Get("short"); ok {
		t.Error("entry outlived its TTL")
	}
	if _, ok := c.Get("long"); !ok {
		t.Error("long-lived entry expired")
	}
	if _, ok := c.Get("forever"); !ok {
		t.Error("no-TTL entry expired")
	}
}

// TestCacheGetDoesNotExtendTTL pins the touch-on-hit choice: reads must
// not keep an entry alive past its deadline.
func TestCacheGetDoesNotExtendTTL(t *testing.T) {
	c := NewCache[string, int]()
	defer c.Close()

	c.Set("a", 1, 50*time.Millisecond)
	for range 4 {
		c.Get("a")
		time.Sleep(20 * time.Millisecond)
	}
	if _, ok := c.Get("a"); ok {
		t.Error("reads extended the TTL")
	}
}

func TestCacheLen(t *testing.T) {
	c := NewCache[string, int]()
	defer c.Close()

	for i := range 5 {
		c.Set(string(rune('a'+i)), i, 0)
	}
	if got := c.Len(); got != 5 {
		t.Errorf("Len = %d, want 5", got)
	}
}
