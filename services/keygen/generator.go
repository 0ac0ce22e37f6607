package keygen

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"math/big"
	"sync"
	"time"

	strftime "github.com/ncruces/go-strftime"
	"go.uber.org/zap"
)

var (
	ErrInvalidStrategy     = errors.New("invalid key strategy")
	ErrGenerationExhausted = errors.New("license key generation exhausted")
	ErrMalformedTemplate   = errors.New("malformed key template")
)

const (
	// MaxAttempts bounds the uniqueness loop of a single Generate call.
	MaxAttempts = 100
	// BatchAttemptFactor bounds GenerateMultiple at count*factor generations.
	BatchAttemptFactor = 10

	charset      = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	memoCapacity = 10000
)

// ExistsFunc reports whether a key is already stored.
type ExistsFunc func(ctx context.Context, key string) (bool, error)

type Generator struct {
	exists      ExistsFunc
	now         func() time.Time
	rand        io.Reader
	maxAttempts int

	mu    sync.Mutex
	taken map[string]struct{}
}

type GeneratorOption func(*Generator)

// WithClock overrides the time source used by date placeholders.
func WithClock(now func() time.Time) GeneratorOption {
	return func(g *Generator) { g.now = now }
}

// WithRand overrides the randomness source.
func WithRand(r io.Reader) GeneratorOption {
	return func(g *Generator) { g.rand = r }
}

func WithMaxAttempts(n int) GeneratorOption {
	return func(g *Generator) {
		if n > 0 {
			g.maxAttempts = n
		}
	}
}

// New returns a Generator. A nil exists predicate treats every key as free.
func New(exists ExistsFunc, opts ...GeneratorOption) *Generator {
	g := &Generator{
		exists:      exists,
		now:         time.Now,
		rand:        rand.Reader,
		maxAttempts: MaxAttempts,
		taken:       make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Generate returns a key that the existence predicate reports as free.
func (g *Generator) Generate(ctx context.Context, opts Options) (string, error) {
	if opts == nil {
		return "", fmt.Errorf("%w: no options", ErrInvalidStrategy)
	}
	opts = opts.withDefaults()

	for attempt := 1; attempt <= g.maxAttempts; attempt++ {
		key, err := opts.render(g)
		if err != nil {
			return "", err
		}

		taken, err := g.isTaken(ctx, key)
		if err != nil {
			return "", fmt.Errorf("check key existence: %w", err)
		}
		if !taken {
			return key, nil
		}

		zap.L().Debug("license key collision, retrying",
			zap.String("strategy", string(opts.Strategy())),
			zap.Int("attempt", attempt),
		)
	}

	return "", fmt.Errorf("%w: no free key after %d attempts", ErrGenerationExhausted, g.maxAttempts)
}

// GenerateByName generates a key with the default options of a strategy.
func (g *Generator) GenerateByName(ctx context.Context, strategy string) (string, error) {
	s, err := ParseStrategy(strategy)
	if err != nil {
		return "", err
	}
	opts, err := DefaultOptions(s)
	if err != nil {
		return "", err
	}
	return g.Generate(ctx, opts)
}

// GenerateMultiple returns exactly count distinct keys or an error; partial
// batches are never returned.
func (g *Generator) GenerateMultiple(ctx context.Context, count int, opts Options) ([]string, error) {
	if count <= 0 {
		return []string{}, nil
	}

	keys := make([]string, 0, count)
	seen := make(map[string]struct{}, count)
	maxAttempts := count * BatchAttemptFactor

	for attempts := 0; len(keys) < count; attempts++ {
		if attempts >= maxAttempts {
			return nil, fmt.Errorf("%w: %d of %d keys after %d attempts", ErrGenerationExhausted, len(keys), count, maxAttempts)
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		key, err := g.Generate(ctx, opts)
		if err != nil {
			return nil, err
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		keys = append(keys, key)
	}

	return keys, nil
}

// isTaken consults the predicate, remembering keys already known to exist.
// Stored keys are never released, so positive answers stay true.
func (g *Generator) isTaken(ctx context.Context, key string) (bool, error) {
	g.mu.Lock()
	_, known := g.taken[key]
	g.mu.Unlock()
	if known {
		return true, nil
	}

	if g.exists == nil {
		return false, nil
	}

	exists, err := g.exists(ctx, key)
	if err != nil {
		return false, err
	}
	if exists {
		g.mu.Lock()
		if len(g.taken) >= memoCapacity {
			g.taken = make(map[string]struct{})
		}
		g.taken[key] = struct{}{}
		g.mu.Unlock()
	}
	return exists, nil
}

func (g *Generator) random(n int) (string, error) {
	b := make([]byte, n)
	max := big.NewInt(int64(len(charset)))
	for i := range b {
		num, err := rand.Int(g.rand, max)
		if err != nil {
			return "", fmt.Errorf("read random: %w", err)
		}
		b[i] = charset[num.Int64()]
	}
	return string(b), nil
}

func formatTime(layout string, t time.Time) string {
	return strftime.Format(layout, t)
}
