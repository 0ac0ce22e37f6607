package dns

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/miekg/dns"
	"go.uber.org/zap"
)

var (
	ErrEmptyDomain = errors.New("domain cannot be empty")
	ErrEmptyToken  = errors.New("verification token cannot be empty")
	ErrNoMatch     = errors.New("no matching TXT record")
)

// DefaultResolvers are queried in order before the system resolver.
var DefaultResolvers = []string{"1.1.1.1:53", "8.8.8.8:53"}

// TXTVerifier proves control of a domain by looking for token in the TXT
// records of <Label>.<domain>. Every lookup is bounded by ctx.
type TXTVerifier struct {
	Label string
	// Resolvers overrides DefaultResolvers. With SkipSystem set only these
	// are asked.
	Resolvers  []string
	SkipSystem bool
}

func (v TXTVerifier) Verify(ctx context.Context, domain, token string) error {
	host := strings.TrimSuffix(strings.TrimSpace(domain), ".")
	if host == "" {
		return ErrEmptyDomain
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return ErrEmptyToken
	}
	if v.Label != "" {
		host = v.Label + "." + host
	}
	fqdn := dns.Fqdn(host)

	resolvers := v.Resolvers
	if resolvers == nil {
		resolvers = DefaultResolvers
	}

	for _, resolver := range resolvers {
		if err := ctx.Err(); err != nil {
			return err
		}
		found, err := lookupWith(ctx, fqdn, token, resolver)
		if err != nil {
			zap.L().Debug("TXT query failed", zap.String("resolver", resolver), zap.String("host", fqdn), zap.Error(err))
			continue
		}
		if found {
			zap.L().Info("domain verified", zap.String("resolver", resolver), zap.String("host", fqdn))
			return nil
		}
	}

	if err := ctx.Err(); err != nil {
		return err
	}
	if v.SkipSystem {
		return fmt.Errorf("%w at %s", ErrNoMatch, fqdn)
	}

	records, err := net.DefaultResolver.LookupTXT(ctx, fqdn)
	if err != nil {
		return fmt.Errorf("system TXT lookup for %s: %w", fqdn, err)
	}
	if containsToken(records, token) {
		zap.L().Info("domain verified", zap.String("resolver", "system"), zap.String("host", fqdn))
		return nil
	}
	return fmt.Errorf("%w at %s", ErrNoMatch, fqdn)
}

func lookupWith(ctx context.Context, fqdn, token, resolver string) (bool, error) {
	msg := new(dns.Msg)
	msg.SetQuestion(fqdn, dns.TypeTXT)

	resp, _, err := new(dns.Client).ExchangeContext(ctx, msg, resolver)
	if err != nil {
		return false, err
	}
	if resp.Rcode != dns.RcodeSuccess && resp.Rcode != dns.RcodeNameError {
		return false, fmt.Errorf("resolver answered %s", dns.RcodeToString[resp.Rcode])
	}

	for _, ans := range resp.Answer {
		if txt, ok := ans.(*dns.TXT); ok && containsToken(txt.Txt, token) {
			return true, nil
		}
	}
	return false, nil
}

func containsToken(records []string, token string) bool {
	for _, r := range records {
		if strings.TrimSpace(r) == token {
			return true
		}
	}
	return false
}
