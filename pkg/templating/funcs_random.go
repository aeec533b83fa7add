package templating

import (
	"fmt"
	"math/rand/v2"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/samber/lo"
)

const (
	lowerHexChars = "0123456789abcdef"
	alphaNumChars = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	alphaChars    = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ"
	digitChars    = "0123456789"
)

// maxRandomString bounds randomString independently of MaxStringLength since
// the output is rarely meant to be large.
const maxRandomString = 4096

// Everything here is impure: results differ between calls, so none of it is
// ever memoized.
func randomFuncs() []FunctionEntry {
	return []FunctionEntry{
		impure("randomInt", 2, 2, randomInt),
		impure("randomChoice", 1, 1, randomChoice),
		impure("randomString", 2, 2, randomString),
		impure("randomColor", 0, 0, func([]any) (any, error) { return randomColor(), nil }),
		impure("randomID", 2, 2, randomID),
		impure("uuid", 0, 0, func([]any) (any, error) { return uuid.NewString(), nil }),
		impure("shuffle", 1, 1, shuffle),
		impure("getenv", 1, 1, func(args []any) (any, error) { return os.Getenv(toString(args[0])), nil }),
	}
}

// randomInt returns a random integer within the range [min, max).
func randomInt(args []any) (any, error) {
	low, err := intArg("randomInt", args[0])
	if err != nil {
		return nil, err
	}
	high, err := intArg("randomInt", args[1])
	if err != nil {
		return nil, err
	}
	if low >= high {
		return int64(low), nil
	}
	return int64(rand.IntN(high-low) + low), nil
}

// randomChoice selects and returns a single random element from a list.
func randomChoice(args []any) (any, error) {
	items, err := listArg("randomChoice", args[0])
	if err != nil {
		return nil, err
	}
	return lo.Sample(items), nil
}

// randomString generates a string of the given kind: "alpha", "alphanum",
// "numeric", "hex" or "uuid" (length is ignored for uuid).
func randomString(args []any) (any, error) {
	kind := toString(args[0])
	length, err := intArg("randomString", args[1])
	if err != nil {
		return nil, err
	}
	if length < 0 || length > maxRandomString {
		return nil, argError("randomString", ErrLimitExceeded, "randomString: length must be between 0 and %d", maxRandomString)
	}
	var charset string
	switch kind {
	case "uuid":
		return uuid.NewString(), nil
	case "hex":
		charset = lowerHexChars
	case "alpha":
		charset = alphaChars
	case "numeric":
		charset = digitChars
	case "alphanum", "":
		charset = alphaNumChars
	default:
		return nil, invalidArg("randomString", "unknown kind %q", kind)
	}
	return randomFrom(charset, length), nil
}

func randomFrom(charset string, length int) string {
	var builder strings.Builder
	builder.Grow(length)
	for i := 0; i < length; i++ {
		builder.WriteByte(charset[rand.IntN(len(charset))])
	}
	return builder.String()
}

// randomColor generates a random hex color code string (e.g., "#a1b2c3").
func randomColor() string {
	return fmt.Sprintf("#%06x", rand.IntN(0xFFFFFF+1))
}

// randomID generates a random HTML ID string with a given prefix.
func randomID(args []any) (any, error) {
	length, err := intArg("randomID", args[1])
	if err != nil {
		return nil, err
	}
	if length <= 0 || length > 64 {
		return nil, invalidArg("randomID", "length must be between 1 and 64")
	}
	return toString(args[0]) + "-" + randomFrom(lowerHexChars, length), nil
}

func shuffle(args []any) (any, error) {
	items, err := listArg("shuffle", args[0])
	if err != nil {
		return nil, err
	}
	return lo.Shuffle(append([]any{}, items...)), nil
}
