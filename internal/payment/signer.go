package payment

import (
	"context"

	"github.com/wichananm65/storefront-backend/internal/payu"
)

// Signer computes and checks gateway hashes. Calls are routed through the
// retry gate, so implementations may be slow or fail.
type Signer interface {
	Sign(ctx context.Context, f payu.Fields) (string, error)
	Verify(ctx context.Context, r payu.Response, received string) (bool, error)
}

// SaltSigner signs locally with the merchant salt.
type SaltSigner struct {
	Salt string
}

func (s SaltSigner) Sign(_ context.Context, f payu.Fields) (string, error) {
	return payu.Generate(f, s.Salt), nil
}

func (s SaltSigner) Verify(_ context.Context, r payu.Response, received string) (bool, error) {
	return payu.Verify(r, s.Salt, received), nil
}
