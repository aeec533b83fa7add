package templating

// TemplateConfig holds all configuration options for the templating engine.
type TemplateConfig struct {
	// MaxPartialDepth is the nesting ceiling for partial expansion. A partial
	// invoked at this depth renders nothing (or a marker, see DepthMarker).
	MaxPartialDepth int `validate:"min=1,max=100"`

	// MaxShortcodeDepth is the rescan ceiling for shortcode expansion output.
	MaxShortcodeDepth int `validate:"min=1,max=100"`

	// MaxShortcodeExpansions caps the shortcodes expanded in one pipeline
	// phase of one page, nested expansions included. Zero means the default.
	MaxShortcodeExpansions int `validate:"min=0"`

	// CacheCapacity bounds the number of memoized pure function results.
	// Zero disables memoization.
	CacheCapacity int `validate:"min=0"`

	// StrictMode records silent degradations (unresolved paths, unknown
	// functions, malformed tags) as warnings on the render result and logs
	// them at Warn level instead of Debug.
	StrictMode bool

	// DepthMarker replaces an aborted partial with an HTML comment instead of
	// an empty string.
	DepthMarker bool

	// MaxSeqLength caps the number of elements seq and repeat may produce.
	MaxSeqLength int `validate:"min=1"`

	// MaxStringLength caps the size of strings built by repeat and the pad
	// functions.
	MaxStringLength int `validate:"min=1"`

	// DisabledFunctions lists builtin names removed from the registry at
	// construction.
	DisabledFunctions []string
}

// DefaultMaxShortcodeExpansions is the expansion budget used when the config
// leaves it unset.
const DefaultMaxShortcodeExpansions = 1000

// DefaultConfig returns a TemplateConfig with safe default values.
// getenv is disabled by default so a theme cannot read the build environment
// unless the site owner opts in.
func DefaultConfig() TemplateConfig {
	return TemplateConfig{
		MaxPartialDepth:        10,
		MaxShortcodeDepth:      10,
		MaxShortcodeExpansions: DefaultMaxShortcodeExpansions,
		CacheCapacity:          1000,
		StrictMode:             false,
		DepthMarker:            false,
		MaxSeqLength:           10_000,
		MaxStringLength:        1 << 20, // 1MB
		DisabledFunctions:      []string{"getenv"},
	}
}
