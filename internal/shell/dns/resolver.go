package dns

import (
	"context"
	"net"

	coredns "github.com/artpar/pagehost/internal/core/dns"
)

// Resolver performs DNS lookups for propagation checks.
type Resolver struct {
	resolver *net.Resolver
}

// NewResolver creates a resolver. A nil r uses the system resolver.
func NewResolver(r *net.Resolver) *Resolver {
	if r == nil {
		r = net.DefaultResolver
	}
	return &Resolver{resolver: r}
}

// Resolve looks up the CNAME for hostname and returns a VerificationInput
// that can be passed to the pure verification function.
func (r *Resolver) Resolve(ctx context.Context, hostname string) coredns.VerificationInput {
	input := coredns.VerificationInput{
		Hostname: hostname,
	}

	cname, err := r.resolver.LookupCNAME(ctx, hostname)
	if err != nil {
		input.LookupError = err.Error()
		return input
	}

	// LookupCNAME returns the name itself when no CNAME exists.
	if cname != "" && !coredns.MatchesName(cname, hostname) {
		input.CNAMERecords = []string{cname}
	}
	return input
}
