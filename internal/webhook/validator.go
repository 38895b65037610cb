// Package webhook validates Shopify webhook deliveries and applies order
// decrements to the FileMaker directory.
package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"

	"github.com/gaspcr/shopify-filemaker/internal/engine"
	"github.com/gaspcr/shopify-filemaker/internal/obs"
)

// Validator checks webhook authenticity before any business logic runs.
// Rejections are security events: never retried, logged at the boundary.
type Validator struct {
	// Secret is the shared webhook signing secret.
	Secret string
	// ShopDomain is the only storefront trusted to send events.
	ShopDomain string
	// Enabled disables signature checking when false (local development
	// only; the config default is on).
	Enabled bool
}

// ValidateSignature recomputes the HMAC-SHA256 of the raw body and compares
// it against the header value in constant time. Shopify sends base64;
// hex-encoded signatures are accepted too.
func (v *Validator) ValidateSignature(body []byte, signature string) error {
	if !v.Enabled {
		obs.Logger.Warn("webhook_signature_validation_disabled")
		return nil
	}
	if signature == "" {
		return &engine.EngineError{Code: engine.CodeInvalidSignature, Message: "missing signature header"}
	}

	mac := hmac.New(sha256.New, []byte(v.Secret))
	mac.Write(body)
	digest := mac.Sum(nil)

	if constantTimeEqual(base64.StdEncoding.EncodeToString(digest), signature) {
		return nil
	}
	if constantTimeEqual(hex.EncodeToString(digest), signature) {
		return nil
	}
	return &engine.EngineError{Code: engine.CodeInvalidSignature, Message: "webhook signature mismatch"}
}

// ValidateShopDomain checks the sending shop against the configured domain.
// With no domain configured, any *.myshopify.com sender is accepted.
func (v *Validator) ValidateShopDomain(domain string) error {
	if domain == "" {
		return &engine.EngineError{Code: engine.CodeUntrustedSource, Message: "missing shop domain header"}
	}
	if v.ShopDomain != "" {
		if domain != v.ShopDomain {
			return &engine.EngineError{Code: engine.CodeUntrustedSource, Message: "unexpected shop domain: " + domain}
		}
		return nil
	}
	if len(domain) < len(".myshopify.com") || domain[len(domain)-len(".myshopify.com"):] != ".myshopify.com" {
		return &engine.EngineError{Code: engine.CodeUntrustedSource, Message: "invalid shop domain: " + domain}
	}
	return nil
}

func constantTimeEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
