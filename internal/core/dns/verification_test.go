package dns

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateDomainName(t *testing.T) {
	assert.NoError(t, ValidateDomainName("codeer.org"))
	assert.NoError(t, ValidateDomainName("Sub.Example.COM."))
	assert.NoError(t, ValidateDomainName("my-domain.dev"))

	assert.ErrorIs(t, ValidateDomainName(""), ErrInvalidHostname)
	assert.ErrorIs(t, ValidateDomainName("localhost"), ErrInvalidHostname)
	assert.ErrorIs(t, ValidateDomainName("-bad.com"), ErrInvalidHostname)
	assert.ErrorIs(t, ValidateDomainName("bad_name.com"), ErrInvalidHostname)
	assert.ErrorIs(t, ValidateDomainName(strings.Repeat("a.", 130)+"com"), ErrHostnameTooLong)
}

func TestFQDN(t *testing.T) {
	assert.Equal(t, "alice.codeer.org", FQDN("alice", "codeer.org"))
	assert.Equal(t, "alice.codeer.org", FQDN("Alice", "codeer.org."))
}

func TestMatchesName(t *testing.T) {
	assert.True(t, MatchesName("alice.codeer.org.", "alice.codeer.org"))
	assert.True(t, MatchesName("ALICE.codeer.org", "alice.codeer.org"))
	assert.False(t, MatchesName("bob.codeer.org", "alice.codeer.org"))
}

func TestValidateProvider(t *testing.T) {
	for _, p := range []string{ProviderCloudflare, ProviderDigitalOcean, ProviderHetzner, ProviderRoute53} {
		assert.NoError(t, ValidateProvider(p, false), p)
	}
	assert.ErrorIs(t, ValidateProvider(ProviderMemory, false), ErrUnknownProvider)
	assert.NoError(t, ValidateProvider(ProviderMemory, true))
	assert.ErrorIs(t, ValidateProvider("godaddy", true), ErrUnknownProvider)
}

func TestParseProbePolicy(t *testing.T) {
	p, err := ParseProbePolicy("")
	require.NoError(t, err)
	assert.Equal(t, FailOpen, p)

	p, err = ParseProbePolicy("FAIL-CLOSED")
	require.NoError(t, err)
	assert.Equal(t, FailClosed, p)

	_, err = ParseProbePolicy("maybe")
	assert.ErrorIs(t, err, ErrUnknownProbePolicy)
}

func TestProbePolicy_Apply(t *testing.T) {
	probeErr := errors.New("timeout")

	available, err := FailOpen.Apply(false, nil)
	assert.False(t, available)
	assert.NoError(t, err)

	available, err = FailOpen.Apply(false, probeErr)
	assert.True(t, available)
	assert.NoError(t, err)

	available, err = FailClosed.Apply(true, probeErr)
	assert.False(t, available)
	assert.ErrorIs(t, err, probeErr)

	available, err = FailClosed.Apply(true, nil)
	assert.True(t, available)
	assert.NoError(t, err)
}

func TestVerify(t *testing.T) {
	result := Verify(VerificationInput{
		Hostname:     "alice.codeer.org",
		CNAMERecords: []string{"pagehost-bot.github.io."},
	}, "pagehost-bot.github.io")
	assert.True(t, result.Verified)

	result = Verify(VerificationInput{
		Hostname:     "alice.codeer.org",
		CNAMERecords: []string{"elsewhere.net."},
	}, "pagehost-bot.github.io")
	assert.False(t, result.Verified)
	assert.Contains(t, result.Error, "pagehost-bot.github.io")

	result = Verify(VerificationInput{LookupError: "no such host"}, "x.github.io")
	assert.False(t, result.Verified)
	assert.Contains(t, result.Error, "no such host")
}
