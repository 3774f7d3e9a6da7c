package apperr

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
)

func TestKindOfWrapped(t *testing.T) {
	err := errors.Wrap(Conflict(CodeAlreadyPaid, "order is already paid"), "initiate")

	assert.Equal(t, KindConflict, KindOf(err))
	assert.Equal(t, 409, HTTPStatus(err))
	assert.True(t, IsClient(err))

	e, ok := As(err)
	assert.True(t, ok)
	assert.Equal(t, CodeAlreadyPaid, e.Code)
}

func TestHTTPStatus(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{Validation("bad"), 400},
		{NotFound("missing"), 404},
		{RateLimited("", "slow down", 1), 429},
		{Unavailable("down", 60, nil), 503},
		{Security(CodeInvalidSignature, "invalid payment signature"), 403},
		{Security(CodeAmountMismatch, "payment amount mismatch"), 400},
		{PaymentNotRecorded(errors.New("db down")), 500},
		{errors.New("plain"), 500},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, HTTPStatus(tc.err), tc.err.Error())
	}
}

func TestUnavailableIsNotClient(t *testing.T) {
	assert.False(t, IsClient(Unavailable("down", 60, nil)))
	assert.False(t, IsClient(errors.New("connection reset")))
	assert.False(t, IsClient(nil))
}
