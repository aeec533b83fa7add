package templating

import (
	"errors"
	"fmt"
	"sync"
	"testing"
)

func TestRegistry_MemoizesPureCalls(t *testing.T) {
	reg := newTestRegistry(t, nil)

	for i := 0; i < 5; i++ {
		got, err := reg.Call("upper", "memo")
		if err != nil || got != "MEMO" {
			t.Fatalf("upper(memo) = %q, %v", got, err)
		}
	}
	stats := reg.CacheStats()
	if stats.Stores != 1 || stats.Hits != 4 || stats.Misses != 1 {
		t.Errorf("unexpected cache stats after 5 identical calls: %+v", stats)
	}
}

func TestRegistry_ImpureCallsBypassCache(t *testing.T) {
	reg := newTestRegistry(t, nil)

	seen := make(map[string]bool)
	for i := 0; i < 5; i++ {
		id, err := reg.Call("uuid")
		if err != nil {
			t.Fatalf("uuid failed: %v", err)
		}
		seen[id] = true
	}
	if len(seen) != 5 {
		t.Errorf("uuid returned %d distinct values across 5 calls", len(seen))
	}
	if stats := reg.CacheStats(); stats.Stores != 0 || stats.Hits != 0 || stats.Misses != 0 {
		t.Errorf("impure calls touched the cache: %+v", stats)
	}
}

func TestRegistry_CacheBound(t *testing.T) {
	reg := newTestRegistry(t, func(c *TemplateConfig) { c.CacheCapacity = 2 })

	for _, s := range []string{"a", "b", "c", "d", "e"} {
		if _, err := reg.Call("upper", s); err != nil {
			t.Fatal(err)
		}
	}
	stats := reg.CacheStats()
	if stats.Entries > 2 {
		t.Errorf("cache holds %d entries, bound is 2", stats.Entries)
	}
	if stats.Clears != 2 {
		t.Errorf("expected 2 clears, got %d", stats.Clears)
	}

	reg.ResetCache()
	if stats := reg.CacheStats(); stats.Entries != 0 {
		t.Errorf("ResetCache left %d entries", stats.Entries)
	}
}

func TestRegistry_CacheDisabled(t *testing.T) {
	reg := newTestRegistry(t, func(c *TemplateConfig) { c.CacheCapacity = 0 })

	for i := 0; i < 3; i++ {
		if got, _ := reg.Call("lower", "X"); got != "x" {
			t.Fatalf("lower(X) = %q", got)
		}
	}
	if stats := reg.CacheStats(); stats.Stores != 0 || stats.Entries != 0 {
		t.Errorf("disabled cache stored results: %+v", stats)
	}
}

func TestRegistry_CachedErrorsAreNotStored(t *testing.T) {
	reg := newTestRegistry(t, nil)

	for i := 0; i < 2; i++ {
		if _, err := reg.Call("div", "1", "0"); !errors.Is(err, ErrDivideByZero) {
			t.Fatalf("div(1, 0) error = %v", err)
		}
	}
	if stats := reg.CacheStats(); stats.Stores != 0 {
		t.Errorf("failed calls were memoized: %+v", stats)
	}
}

func TestRegistry_Register(t *testing.T) {
	reg := newTestRegistry(t, nil)

	echo := FunctionEntry{
		Name:    "echo",
		MinArgs: 1,
		MaxArgs: 1,
		Pure:    true,
		Fn:      func(args []any) (any, error) { return args[0], nil },
	}
	if err := reg.Register(echo); err != nil {
		t.Fatalf("Register(echo) failed: %v", err)
	}
	if got, _ := reg.Call("echo", "hi"); got != "hi" {
		t.Errorf("echo(hi) = %q", got)
	}
	if err := reg.Register(echo); err == nil {
		t.Error("registering echo twice should fail")
	}
	if err := reg.Register(FunctionEntry{Name: "upper", Fn: echo.Fn}); err == nil {
		t.Error("shadowing a builtin should fail")
	}
	if err := reg.Register(FunctionEntry{Name: "broken", MinArgs: 2, MaxArgs: 1, Fn: echo.Fn}); err == nil {
		t.Error("invalid arity should be rejected")
	}
	if err := reg.Register(FunctionEntry{Name: "noop"}); err == nil {
		t.Error("missing implementation should be rejected")
	}
}

func TestRegistry_DisabledFunctions(t *testing.T) {
	reg := newTestRegistry(t, func(c *TemplateConfig) {
		c.DisabledFunctions = []string{"upper", "doesNotExist"}
	})

	if reg.HasFunction("upper") {
		t.Error("upper should be disabled")
	}
	if !reg.HasFunction("getenv") {
		t.Error("getenv should be enabled once the default list is replaced")
	}
	if _, err := reg.Call("upper", "x"); !errors.Is(err, ErrUnknownFunction) {
		t.Errorf("calling a disabled function error = %v", err)
	}
	if !reg.HasFunction("lower") {
		t.Error("lower should still be registered")
	}

	def := newTestRegistry(t, nil)
	if def.HasFunction("getenv") {
		t.Error("getenv should be disabled by default")
	}
}

func TestRegistry_Catalog(t *testing.T) {
	reg := newTestRegistry(t, nil)

	names := reg.FunctionList()
	for i := 1; i < len(names); i++ {
		if names[i-1] >= names[i] {
			t.Fatalf("FunctionList not sorted at %q, %q", names[i-1], names[i])
		}
	}

	categories := make(map[string]int)
	for _, e := range reg.Entries() {
		if e.Category == "" {
			t.Errorf("%s has no category", e.Name)
		}
		categories[e.Category]++
	}
	for _, c := range []string{CategoryStrings, CategoryMath, CategoryLogic, CategoryArrays,
		CategoryDates, CategoryURIs, CategoryUnicode, CategoryRandom} {
		if categories[c] == 0 {
			t.Errorf("category %s has no functions", c)
		}
	}

	if e, ok := reg.Entry("now"); !ok || e.Pure {
		t.Error("now must be registered as impure")
	}
	if e, ok := reg.Entry("add"); !ok || !e.Pure || e.MaxArgs != -1 {
		t.Errorf("add registration = %+v", e)
	}
}

func TestRegistry_UncacheableArguments(t *testing.T) {
	reg := newTestRegistry(t, nil)

	ch := make(chan int)
	if _, err := reg.Invoke("isSet", []any{ch}); err != nil {
		t.Fatalf("isSet(chan) failed: %v", err)
	}
	if stats := reg.CacheStats(); stats.Stores != 0 {
		t.Errorf("call with an unserializable argument was memoized: %+v", stats)
	}
}

func TestRegistry_ConcurrentInvoke(t *testing.T) {
	reg := newTestRegistry(t, func(c *TemplateConfig) { c.CacheCapacity = 8 })

	var wg sync.WaitGroup
	errs := make(chan error, 16)
	for g := 0; g < 16; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				want := fmt.Sprint(g%4 + i%5)
				got, err := reg.Call("add", fmt.Sprint(g%4), fmt.Sprint(i%5))
				if err != nil || got != want {
					errs <- fmt.Errorf("add(%d, %d) = %q, %v", g%4, i%5, got, err)
					return
				}
			}
		}(g)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}
	if stats := reg.CacheStats(); stats.Entries > 8 {
		t.Errorf("cache exceeded its bound under concurrency: %d entries", stats.Entries)
	}
}
