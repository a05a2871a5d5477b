package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOf(t *testing.T) {
	assert.Equal(t, KindValidation, KindOf(Validation("bad %s", "title")))
	assert.Equal(t, KindConflict, KindOf(Conflict("taken")))
	assert.Equal(t, KindAuth, KindOf(Auth("no identity")))
	assert.Equal(t, KindNotFound, KindOf(NotFound("missing")))
	assert.Equal(t, KindDownstream, KindOf(Downstream("upload", "upload failed", errors.New("boom"))))
	assert.Equal(t, KindDownstream, KindOf(errors.New("plain")))
}

func TestKindOf_Wrapped(t *testing.T) {
	err := fmt.Errorf("outer: %w", Conflict("subdomain taken"))

	assert.True(t, Is(err, KindConflict))
	assert.False(t, Is(nil, KindConflict))
}

func TestError_Message(t *testing.T) {
	cause := errors.New("502 bad gateway")
	err := Downstream("dns", "DNS provisioning failed", cause)

	assert.Equal(t, "dns: DNS provisioning failed: 502 bad gateway", err.Error())
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "dns", StageOf(err))
	assert.Equal(t, http.StatusInternalServerError, err.StatusCode())
}

func TestHTTPStatus(t *testing.T) {
	assert.Equal(t, http.StatusBadRequest, HTTPStatus(KindValidation))
	assert.Equal(t, http.StatusConflict, HTTPStatus(KindConflict))
	assert.Equal(t, http.StatusUnauthorized, HTTPStatus(KindAuth))
	assert.Equal(t, http.StatusNotFound, HTTPStatus(KindNotFound))
	assert.Equal(t, http.StatusInternalServerError, HTTPStatus(KindDownstream))
}

func TestKindString(t *testing.T) {
	assert.Equal(t, "validation", KindValidation.String())
	assert.Equal(t, "not_found", KindNotFound.String())
	assert.Equal(t, "downstream", KindDownstream.String())
}
