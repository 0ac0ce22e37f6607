package keygen

import (
	"context"
	"errors"
	"regexp"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

type zeroReader struct{}

func (zeroReader) Read(p []byte) (int, error) {
	for i := range p {
		p[i] = 0
	}
	return len(p), nil
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestGenerate_AllStrategiesRoundTrip(t *testing.T) {
	g := New(nil)
	ctx := context.Background()

	for _, s := range []Strategy{StrategyStandard, StrategyCompact, StrategySegmented, StrategyCustom} {
		opts, err := DefaultOptions(s)
		require.NoError(t, err)

		for i := 0; i < 20; i++ {
			key, err := g.Generate(ctx, opts)
			require.NoError(t, err)
			require.True(t, ValidateFormat(key, s), "strategy %s produced %s", s, key)
			require.True(t, opts.Matches(key), "strategy %s produced %s", s, key)
		}
	}
}

func TestGenerate_StandardDefaults(t *testing.T) {
	g := New(nil)

	key, err := g.Generate(context.Background(), StandardOptions{})
	require.NoError(t, err)
	require.Regexp(t, `^MEDI-[A-Z0-9]{4}-[A-Z0-9]{4}-[A-Z0-9]{4}-[A-Z0-9]{4}$`, key)

	parsed := ParseLicenseKey(key)
	require.Equal(t, StrategyStandard, parsed.Format)
	require.Equal(t, "MEDI", parsed.Prefix)
	require.Equal(t, 4, parsed.SegmentCount)
}

func TestGenerate_StandardCustomSizes(t *testing.T) {
	g := New(nil)
	opts := StandardOptions{Prefix: "CLINIC", SegmentLength: 5, Segments: 3}

	key, err := g.Generate(context.Background(), opts)
	require.NoError(t, err)
	require.Regexp(t, `^CLINIC-[A-Z0-9]{5}-[A-Z0-9]{5}-[A-Z0-9]{5}$`, key)
	require.True(t, opts.Matches(key))
	require.False(t, ValidateFormat(key, StrategyStandard))
}

func TestGenerate_Compact(t *testing.T) {
	g := New(nil)

	key, err := g.Generate(context.Background(), CompactOptions{Prefix: "MEDI"})
	require.NoError(t, err)
	require.Regexp(t, `^MEDI-[A-Z0-9]{12}$`, key)

	parsed := ParseLicenseKey(key)
	require.Equal(t, StrategyCompact, parsed.Format)
	require.Len(t, parsed.Segments, 1)
}

func TestGenerate_SegmentedInfersSegmentCount(t *testing.T) {
	g := New(nil)
	opts := SegmentedOptions{Format: "MC-{segment1}-{segment2}", SegmentLength: 6}
	require.Equal(t, 2, opts.SegmentCount())

	key, err := g.Generate(context.Background(), opts)
	require.NoError(t, err)
	require.Regexp(t, `^MC-[A-Z0-9]{6}-[A-Z0-9]{6}$`, key)
	require.True(t, opts.Matches(key))
	require.True(t, ValidateFormat(key, StrategySegmented))
}

func TestGenerate_SegmentedWithoutPlaceholderFails(t *testing.T) {
	g := New(nil)

	_, err := g.Generate(context.Background(), SegmentedOptions{Format: "MEDI-FIXED"})
	require.ErrorIs(t, err, ErrMalformedTemplate)
}

func TestGenerate_CustomYearAndRandom(t *testing.T) {
	g := New(nil, WithClock(fixedClock(time.Date(2025, 1, 1, 9, 30, 0, 0, time.UTC))))

	key, err := g.Generate(context.Background(), CustomOptions{Format: "MEDI-{year}-{random:6}"})
	require.NoError(t, err)
	require.Regexp(t, regexp.MustCompile(`^MEDI-2025-[A-Z0-9]{6}$`), key)
}

func TestGenerate_CustomDateAndTimestamp(t *testing.T) {
	g := New(nil, WithClock(fixedClock(time.Date(2025, 3, 7, 0, 0, 0, 0, time.UTC))))

	key, err := g.Generate(context.Background(), CustomOptions{Format: "LIC-{month}{day}-{timestamp:%Y%m%d}-{random:2}"})
	require.NoError(t, err)
	require.Regexp(t, `^LIC-0307-20250307-[A-Z0-9]{2}$`, key)
}

func TestGenerate_CustomMalformed(t *testing.T) {
	g := New(nil)
	ctx := context.Background()

	cases := []string{
		"MEDI-{random:0}-XXXXXXXX",
		"MEDI-{random:abc}-XXXXXXX",
		"MEDI-{unknown}-XXXXXXXXXX",
		"MEDI-{timestamp:}-XXXXXXX",
		"{random:3}",
	}
	for _, format := range cases {
		_, err := g.Generate(ctx, CustomOptions{Format: format})
		require.ErrorIs(t, err, ErrMalformedTemplate, format)
	}
}

func TestGenerate_NilOptionsIsInvalidStrategy(t *testing.T) {
	g := New(nil)

	_, err := g.Generate(context.Background(), nil)
	require.ErrorIs(t, err, ErrInvalidStrategy)
}

func TestParseStrategy(t *testing.T) {
	s, err := ParseStrategy(" Compact ")
	require.NoError(t, err)
	require.Equal(t, StrategyCompact, s)

	_, err = ParseStrategy("quantum")
	require.ErrorIs(t, err, ErrInvalidStrategy)

	_, err = New(nil).GenerateByName(context.Background(), "quantum")
	require.ErrorIs(t, err, ErrInvalidStrategy)
}

func TestGenerate_NeverReturnsExistingKey(t *testing.T) {
	var calls int32
	exists := func(ctx context.Context, key string) (bool, error) {
		// first three candidates collide
		return atomic.AddInt32(&calls, 1) <= 3, nil
	}
	g := New(exists)

	key, err := g.Generate(context.Background(), StandardOptions{})
	require.NoError(t, err)
	require.NotEmpty(t, key)
	require.Equal(t, int32(4), atomic.LoadInt32(&calls))
}

func TestGenerate_ExhaustedAfterMaxAttempts(t *testing.T) {
	var calls int32
	exists := func(ctx context.Context, key string) (bool, error) {
		atomic.AddInt32(&calls, 1)
		return true, nil
	}
	g := New(exists)

	key, err := g.Generate(context.Background(), CompactOptions{})
	require.ErrorIs(t, err, ErrGenerationExhausted)
	require.Empty(t, key)
	require.LessOrEqual(t, atomic.LoadInt32(&calls), int32(MaxAttempts))
}

func TestGenerate_MemoizesTakenKeys(t *testing.T) {
	var calls int32
	exists := func(ctx context.Context, key string) (bool, error) {
		atomic.AddInt32(&calls, 1)
		return true, nil
	}
	g := New(exists, WithRand(zeroReader{}), WithMaxAttempts(5))

	_, err := g.Generate(context.Background(), StandardOptions{})
	require.ErrorIs(t, err, ErrGenerationExhausted)
	// the same candidate repeats and is only looked up once
	require.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestGenerate_PredicateErrorSurfaces(t *testing.T) {
	boom := errors.New("db down")
	g := New(func(ctx context.Context, key string) (bool, error) { return false, boom })

	_, err := g.Generate(context.Background(), StandardOptions{})
	require.ErrorIs(t, err, boom)
}

func TestGenerateMultiple_DistinctKeys(t *testing.T) {
	g := New(nil)

	keys, err := g.GenerateMultiple(context.Background(), 25, StandardOptions{})
	require.NoError(t, err)
	require.Len(t, keys, 25)

	seen := make(map[string]struct{})
	for _, k := range keys {
		seen[k] = struct{}{}
	}
	require.Len(t, seen, 25)
}

func TestGenerateMultiple_DuplicatesExhaustBatch(t *testing.T) {
	g := New(nil, WithRand(zeroReader{}))

	keys, err := g.GenerateMultiple(context.Background(), 2, StandardOptions{})
	require.ErrorIs(t, err, ErrGenerationExhausted)
	require.Nil(t, keys)
}

func TestGenerateMultiple_AllOrNothing(t *testing.T) {
	var calls int32
	exists := func(ctx context.Context, key string) (bool, error) {
		// two free keys, then the store is full
		return atomic.AddInt32(&calls, 1) > 2, nil
	}
	g := New(exists)

	keys, err := g.GenerateMultiple(context.Background(), 5, CompactOptions{})
	require.ErrorIs(t, err, ErrGenerationExhausted)
	require.Nil(t, keys)
}

func TestGenerateMultiple_ZeroCount(t *testing.T) {
	keys, err := New(nil).GenerateMultiple(context.Background(), 0, StandardOptions{})
	require.NoError(t, err)
	require.Empty(t, keys)
}
