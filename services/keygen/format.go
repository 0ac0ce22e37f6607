package keygen

import "strings"

// ValidateFormat checks key against the default structure of a strategy.
// Unknown strategies accept any key of at least ten characters.
func ValidateFormat(key string, strategy Strategy) bool {
	switch strategy {
	case StrategyStandard:
		return StandardOptions{}.Matches(key)
	case StrategyCompact:
		return CompactOptions{}.Matches(key)
	case StrategySegmented:
		return SegmentedOptions{}.Matches(key)
	default:
		return key != "" && len(key) >= minCustomLength
	}
}

type ParsedKey struct {
	Key          string   `json:"key"`
	Prefix       string   `json:"prefix"`
	Segments     []string `json:"segments"`
	SegmentCount int      `json:"segment_count"`
	Format       Strategy `json:"format"`
}

// classificationOrder is the order formats are tried in; first match wins.
var classificationOrder = []Strategy{
	StrategyStandard,
	StrategyCompact,
	StrategySegmented,
	StrategyCustom,
}

// ParseLicenseKey splits key on dashes and classifies its format.
func ParseLicenseKey(key string) ParsedKey {
	parts := strings.Split(key, "-")
	parsed := ParsedKey{
		Key:      key,
		Prefix:   parts[0],
		Segments: parts[1:],
		Format:   StrategyUnknown,
	}
	parsed.SegmentCount = len(parsed.Segments)

	for _, s := range classificationOrder {
		if ValidateFormat(key, s) {
			parsed.Format = s
			break
		}
	}
	return parsed
}
