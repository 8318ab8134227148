// Package chi exposes the x402 payment middleware in the shape chi
// routers expect.
package chi

import (
	"net/http"

	x402http "github.com/x402pay/x402-go/http"
)

// Middleware returns payment-gating middleware for chi's Use. It is the
// standard net/http middleware; this package exists so chi users get a
// matching import path and a construction error at router setup time.
func Middleware(configs ...x402http.PaymentConfig) (func(http.Handler) http.Handler, error) {
	return x402http.NewMiddleware(configs...)
}

// MustMiddleware is Middleware but panics on a bad config, for use in
// router setup where an invalid config is a programming error.
func MustMiddleware(configs ...x402http.PaymentConfig) func(http.Handler) http.Handler {
	mw, err := Middleware(configs...)
	if err != nil {
		panic(err)
	}
	return mw
}
