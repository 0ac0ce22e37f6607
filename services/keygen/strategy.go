package keygen

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Strategy names a key construction algorithm.
type Strategy string

const (
	StrategyStandard  Strategy = "standard"
	StrategyCompact   Strategy = "compact"
	StrategySegmented Strategy = "segmented"
	StrategyCustom    Strategy = "custom"

	// StrategyUnknown is reported by ParseLicenseKey when no format matches.
	StrategyUnknown Strategy = "unknown"
)

const (
	DefaultPrefix          = "MEDI"
	DefaultSegmentLength   = 4
	DefaultSegments        = 4
	DefaultCompactLength   = 12
	DefaultSegmentedFormat = "MEDI-{segment1}-{segment2}-{segment3}"
	DefaultCustomFormat    = "MEDI-{year}{month}-{random:8}"

	// minCustomLength is the shortest key the generic format check accepts.
	minCustomLength = 10
	maxRandomLength = 64
)

// ParseStrategy resolves a strategy name, failing with ErrInvalidStrategy
// for anything it does not know.
func ParseStrategy(name string) (Strategy, error) {
	switch s := Strategy(strings.ToLower(strings.TrimSpace(name))); s {
	case StrategyStandard, StrategyCompact, StrategySegmented, StrategyCustom:
		return s, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidStrategy, name)
	}
}

// Options is the per-strategy configuration. The set of implementations is
// closed: StandardOptions, CompactOptions, SegmentedOptions, CustomOptions.
type Options interface {
	Strategy() Strategy
	// Matches reports whether key has the structure these options produce.
	Matches(key string) bool

	withDefaults() Options
	render(g *Generator) (string, error)
}

// DefaultOptions returns the default options of a strategy.
func DefaultOptions(s Strategy) (Options, error) {
	switch s {
	case StrategyStandard:
		return StandardOptions{}.withDefaults(), nil
	case StrategyCompact:
		return CompactOptions{}.withDefaults(), nil
	case StrategySegmented:
		return SegmentedOptions{}.withDefaults(), nil
	case StrategyCustom:
		return CustomOptions{}.withDefaults(), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidStrategy, s)
	}
}

const alnum = `[A-Z0-9]`

func prefixPattern(prefix string) string {
	if prefix == "" {
		return alnum + `+`
	}
	return regexp.QuoteMeta(prefix)
}

// StandardOptions builds {prefix}-{SEG}-{SEG}-... keys.
type StandardOptions struct {
	Prefix        string
	SegmentLength int
	Segments      int
}

func (StandardOptions) Strategy() Strategy { return StrategyStandard }

func (o StandardOptions) sizes() (int, int) {
	length, count := o.SegmentLength, o.Segments
	if length <= 0 {
		length = DefaultSegmentLength
	}
	if count <= 0 {
		count = DefaultSegments
	}
	return length, count
}

func (o StandardOptions) withDefaults() Options {
	if o.Prefix == "" {
		o.Prefix = DefaultPrefix
	}
	o.SegmentLength, o.Segments = o.sizes()
	return o
}

func (o StandardOptions) render(g *Generator) (string, error) {
	parts := make([]string, 0, o.Segments+1)
	parts = append(parts, o.Prefix)
	for i := 0; i < o.Segments; i++ {
		seg, err := g.random(o.SegmentLength)
		if err != nil {
			return "", err
		}
		parts = append(parts, seg)
	}
	return strings.Join(parts, "-"), nil
}

func (o StandardOptions) Matches(key string) bool {
	length, count := o.sizes()
	pattern := fmt.Sprintf(`^%s(-%s{%d}){%d}$`, prefixPattern(o.Prefix), alnum, length, count)
	return regexp.MustCompile(pattern).MatchString(key)
}

// CompactOptions builds {prefix}-{RANDOM} keys.
type CompactOptions struct {
	Prefix string
	Length int
}

func (CompactOptions) Strategy() Strategy { return StrategyCompact }

func (o CompactOptions) length() int {
	if o.Length <= 0 {
		return DefaultCompactLength
	}
	return o.Length
}

func (o CompactOptions) withDefaults() Options {
	if o.Prefix == "" {
		o.Prefix = DefaultPrefix
	}
	o.Length = o.length()
	return o
}

func (o CompactOptions) render(g *Generator) (string, error) {
	blob, err := g.random(o.Length)
	if err != nil {
		return "", err
	}
	return o.Prefix + "-" + blob, nil
}

func (o CompactOptions) Matches(key string) bool {
	pattern := fmt.Sprintf(`^%s-%s{%d}$`, prefixPattern(o.Prefix), alnum, o.length())
	return regexp.MustCompile(pattern).MatchString(key)
}

var (
	segmentPlaceholder = regexp.MustCompile(`\{segment(\d+)\}`)
	segmentedShape     = regexp.MustCompile(`^[A-Z0-9]+(-[A-Z0-9]+)+$`)
)

// SegmentedOptions fills {segment1}, {segment2}, ... placeholders of Format
// with random strings of SegmentLength.
type SegmentedOptions struct {
	Format        string
	SegmentLength int
}

func (SegmentedOptions) Strategy() Strategy { return StrategySegmented }

func (o SegmentedOptions) length() int {
	if o.SegmentLength <= 0 {
		return DefaultSegmentLength
	}
	return o.SegmentLength
}

func (o SegmentedOptions) withDefaults() Options {
	if o.Format == "" {
		o.Format = DefaultSegmentedFormat
	}
	o.SegmentLength = o.length()
	return o
}

// SegmentCount is the number of distinct placeholders in Format.
func (o SegmentedOptions) SegmentCount() int {
	seen := make(map[string]struct{})
	for _, m := range segmentPlaceholder.FindAllString(o.Format, -1) {
		seen[m] = struct{}{}
	}
	return len(seen)
}

func (o SegmentedOptions) render(g *Generator) (string, error) {
	if o.SegmentCount() == 0 {
		return "", fmt.Errorf("%w: segmented format %q has no {segmentN} placeholder", ErrMalformedTemplate, o.Format)
	}

	values := make(map[string]string)
	var renderErr error
	key := segmentPlaceholder.ReplaceAllStringFunc(o.Format, func(m string) string {
		if v, ok := values[m]; ok {
			return v
		}
		v, err := g.random(o.SegmentLength)
		if err != nil {
			renderErr = err
			return ""
		}
		values[m] = v
		return v
	})
	if renderErr != nil {
		return "", renderErr
	}

	if !segmentedShape.MatchString(key) {
		return "", fmt.Errorf("%w: segmented format %q does not yield dash separated groups", ErrMalformedTemplate, o.Format)
	}
	return key, nil
}

func (o SegmentedOptions) Matches(key string) bool {
	if o.Format == "" {
		return segmentedShape.MatchString(key)
	}

	var b strings.Builder
	b.WriteString("^")
	last := 0
	for _, loc := range segmentPlaceholder.FindAllStringIndex(o.Format, -1) {
		b.WriteString(regexp.QuoteMeta(o.Format[last:loc[0]]))
		fmt.Fprintf(&b, "%s{%d}", alnum, o.length())
		last = loc[1]
	}
	b.WriteString(regexp.QuoteMeta(o.Format[last:]))
	b.WriteString("$")

	re, err := regexp.Compile(b.String())
	if err != nil {
		return false
	}
	return re.MatchString(key) && segmentedShape.MatchString(key)
}

var customPlaceholder = regexp.MustCompile(`\{([a-z]+)(?::([^}]*))?\}`)

// CustomOptions substitutes {random:N}, {timestamp:FORMAT} (strftime
// layout), {year}, {month} and {day} in Format.
type CustomOptions struct {
	Format string
}

func (CustomOptions) Strategy() Strategy { return StrategyCustom }

func (o CustomOptions) withDefaults() Options {
	if o.Format == "" {
		o.Format = DefaultCustomFormat
	}
	return o
}

func (o CustomOptions) render(g *Generator) (string, error) {
	now := g.now()

	var renderErr error
	key := customPlaceholder.ReplaceAllStringFunc(o.Format, func(m string) string {
		if renderErr != nil {
			return ""
		}
		sub := customPlaceholder.FindStringSubmatch(m)
		name, arg := sub[1], sub[2]

		switch name {
		case "random":
			n, err := strconv.Atoi(arg)
			if err != nil || n <= 0 || n > maxRandomLength {
				renderErr = fmt.Errorf("%w: invalid placeholder %s", ErrMalformedTemplate, m)
				return ""
			}
			v, err := g.random(n)
			if err != nil {
				renderErr = err
				return ""
			}
			return v
		case "timestamp":
			if arg == "" {
				renderErr = fmt.Errorf("%w: timestamp placeholder needs a layout", ErrMalformedTemplate)
				return ""
			}
			return formatTime(arg, now)
		case "year":
			return fmt.Sprintf("%04d", now.Year())
		case "month":
			return fmt.Sprintf("%02d", int(now.Month()))
		case "day":
			return fmt.Sprintf("%02d", now.Day())
		default:
			renderErr = fmt.Errorf("%w: unknown placeholder %s", ErrMalformedTemplate, m)
			return ""
		}
	})
	if renderErr != nil {
		return "", renderErr
	}

	if len(key) < minCustomLength {
		return "", fmt.Errorf("%w: custom format %q yields keys shorter than %d characters", ErrMalformedTemplate, o.Format, minCustomLength)
	}
	return key, nil
}

func (o CustomOptions) Matches(key string) bool {
	if len(key) < minCustomLength {
		return false
	}
	if o.Format == "" {
		return true
	}

	var b strings.Builder
	b.WriteString("^")
	last := 0
	for _, loc := range customPlaceholder.FindAllStringSubmatchIndex(o.Format, -1) {
		b.WriteString(regexp.QuoteMeta(o.Format[last:loc[0]]))
		name := o.Format[loc[2]:loc[3]]
		arg := ""
		if loc[4] >= 0 {
			arg = o.Format[loc[4]:loc[5]]
		}
		switch name {
		case "random":
			n, err := strconv.Atoi(arg)
			if err != nil || n <= 0 {
				return false
			}
			fmt.Fprintf(&b, "%s{%d}", alnum, n)
		case "year":
			b.WriteString(`\d{4}`)
		case "month", "day":
			b.WriteString(`\d{2}`)
		case "timestamp":
			b.WriteString(`.+?`)
		default:
			return false
		}
		last = loc[1]
	}
	b.WriteString(regexp.QuoteMeta(o.Format[last:]))
	b.WriteString("$")

	re, err := regexp.Compile(b.String())
	if err != nil {
		return false
	}
	return re.MatchString(key)
}
