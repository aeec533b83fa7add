package templating

import (
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/microcosm-cc/bluemonday"
)

// Function categories reported by FunctionEntry.Category.
const (
	CategoryStrings = "strings"
	CategoryMath    = "math"
	CategoryLogic   = "logic"
	CategoryArrays  = "arrays"
	CategoryDates   = "dates"
	CategoryURIs    = "uris"
	CategoryUnicode = "unicode"
	CategoryRandom  = "random"
)

// Func is the calling convention shared by every builtin. Implementations
// must not mutate args: results of pure functions are memoized and may be
// handed to later calls.
type Func func(args []any) (any, error)

// FunctionEntry describes one registered function.
type FunctionEntry struct {
	Name     string
	Category string
	MinArgs  int
	MaxArgs  int // -1 means variadic
	Pure     bool
	Fn       Func
}

func (e FunctionEntry) checkArity(n int) error {
	if n < e.MinArgs || (e.MaxArgs >= 0 && n > e.MaxArgs) {
		var want string
		switch {
		case e.MaxArgs < 0:
			want = fmt.Sprintf("at least %d", e.MinArgs)
		case e.MinArgs == e.MaxArgs:
			want = fmt.Sprintf("%d", e.MinArgs)
		default:
			want = fmt.Sprintf("%d to %d", e.MinArgs, e.MaxArgs)
		}
		return argError(e.Name, ErrArity, "%s expects %s arguments, got %d", e.Name, want, n)
	}
	return nil
}

// pure and impure build entries for the builtin tables; the category is
// filled in at registration.
func pure(name string, minArgs, maxArgs int, fn Func) FunctionEntry {
	return FunctionEntry{Name: name, MinArgs: minArgs, MaxArgs: maxArgs, Pure: true, Fn: fn}
}

func impure(name string, minArgs, maxArgs int, fn Func) FunctionEntry {
	return FunctionEntry{Name: name, MinArgs: minArgs, MaxArgs: maxArgs, Fn: fn}
}

// Registry maps function names to builtins and owns the memoization cache
// for pure calls. All methods are concurrent-safe.
type Registry struct {
	logger    *slog.Logger
	config    *TemplateConfig
	cache     *MemoCache
	sanitizer *bluemonday.Policy
	regexps   sync.Map // pattern -> *regexp.Regexp

	mu      sync.RWMutex
	entries map[string]FunctionEntry
}

// NewRegistry builds a registry holding every builtin except those named in
// config.DisabledFunctions.
func NewRegistry(logger *slog.Logger, config *TemplateConfig) *Registry {
	r := &Registry{
		logger:    logger,
		config:    config,
		cache:     NewMemoCache(config.CacheCapacity),
		sanitizer: bluemonday.UGCPolicy(),
		entries:   make(map[string]FunctionEntry),
	}

	// Strings (from funcs_string.go)
	r.mustRegister(CategoryStrings, r.stringFuncs()...)
	// Math (from funcs_math.go)
	r.mustRegister(CategoryMath, mathFuncs()...)
	// Logic & comparison (from funcs_logic.go)
	r.mustRegister(CategoryLogic, logicFuncs()...)
	// Collections (from funcs_array.go)
	r.mustRegister(CategoryArrays, r.arrayFuncs()...)
	// Dates (from funcs_date.go)
	r.mustRegister(CategoryDates, dateFuncs()...)
	// URLs & paths (from funcs_uri.go)
	r.mustRegister(CategoryURIs, uriFuncs()...)
	// Unicode (from funcs_unicode.go)
	r.mustRegister(CategoryUnicode, unicodeFuncs()...)
	// Impure generators (from funcs_random.go)
	r.mustRegister(CategoryRandom, randomFuncs()...)

	for _, name := range config.DisabledFunctions {
		if _, ok := r.entries[name]; ok {
			delete(r.entries, name)
			logger.Debug("Disabled template function", "function", name)
		}
	}
	return r
}

// mustRegister adds builtin entries. A duplicate builtin name is a programming
// error and panics at construction.
func (r *Registry) mustRegister(category string, entries ...FunctionEntry) {
	for _, e := range entries {
		e.Category = category
		if err := r.Register(e); err != nil {
			panic(err)
		}
	}
}

// Register adds a function. Names cannot be re-registered, so an entry's
// purity never changes once the registry is in use.
func (r *Registry) Register(e FunctionEntry) error {
	if e.Name == "" {
		return fmt.Errorf("templating: function name must not be empty")
	}
	if e.Fn == nil {
		return fmt.Errorf("templating: function %q has no implementation", e.Name)
	}
	if e.MinArgs < 0 || (e.MaxArgs >= 0 && e.MaxArgs < e.MinArgs) {
		return fmt.Errorf("templating: function %q has invalid arity %d..%d", e.Name, e.MinArgs, e.MaxArgs)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.entries[e.Name]; exists {
		return fmt.Errorf("templating: function %q already registered", e.Name)
	}
	r.entries[e.Name] = e
	return nil
}

// HasFunction reports whether name is registered.
func (r *Registry) HasFunction(name string) bool {
	_, ok := r.Entry(name)
	return ok
}

// Entry returns the registration for name.
func (r *Registry) Entry(name string) (FunctionEntry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[name]
	return e, ok
}

// FunctionList returns every registered name in sorted order.
func (r *Registry) FunctionList() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.entries))
	for name := range r.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Entries returns every registration sorted by category then name.
func (r *Registry) Entries() []FunctionEntry {
	r.mu.RLock()
	out := make([]FunctionEntry, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].Category != out[j].Category {
			return out[i].Category < out[j].Category
		}
		return out[i].Name < out[j].Name
	})
	return out
}

// Invoke validates the argument count and runs the named function, consulting
// the memoization cache for pure functions.
func (r *Registry) Invoke(name string, args []any) (any, error) {
	entry, ok := r.Entry(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownFunction, name)
	}
	if err := entry.checkArity(len(args)); err != nil {
		return nil, err
	}
	if !entry.Pure {
		return entry.Fn(args)
	}
	key, cacheable := cacheKey(name, args)
	if !cacheable {
		return entry.Fn(args)
	}
	if v, hit := r.cache.Get(key); hit {
		return v, nil
	}
	v, err := entry.Fn(args)
	if err != nil {
		return nil, err
	}
	r.cache.Set(key, v)
	return v, nil
}

// Call is the string-in, string-out form of Invoke. Numeric and list
// arguments are parsed from their string forms by each function.
func (r *Registry) Call(name string, args ...string) (string, error) {
	vals := make([]any, len(args))
	for i, a := range args {
		vals[i] = a
	}
	v, err := r.Invoke(name, vals)
	if err != nil {
		return "", err
	}
	return toString(v), nil
}

// CacheStats returns the memoization counters.
func (r *Registry) CacheStats() CacheStats {
	return r.cache.Stats()
}

// ResetCache drops every memoized result.
func (r *Registry) ResetCache() {
	r.cache.Clear()
}

func cacheKey(name string, args []any) (string, bool) {
	var b strings.Builder
	b.WriteString(name)
	b.WriteByte('\x1f')
	for _, a := range args {
		if !appendKey(&b, a) {
			return "", false
		}
	}
	return b.String(), true
}

// compile returns the compiled form of a pattern supplied by a template.
// Patterns are compiled once per registry.
func (r *Registry) compile(fn, pattern string) (*regexp.Regexp, error) {
	if re, ok := r.regexps.Load(pattern); ok {
		return re.(*regexp.Regexp), nil
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, invalidArg(fn, "bad pattern %q: %v", pattern, err)
	}
	actual, _ := r.regexps.LoadOrStore(pattern, re)
	return actual.(*regexp.Regexp), nil
}
