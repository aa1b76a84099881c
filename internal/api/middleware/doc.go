// Package middleware provides gin middleware for the local API.
//
//   - RequestID tags requests with a UUID echoed in X-Request-ID
//   - CORS lets browser front ends on other origins call the API
//   - RateLimit limits requests per client IP with a token bucket
package middleware
