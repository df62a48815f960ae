// Package integration runs the whole service against PostgreSQL and Redis containers.
// Run with: go test -tags integration_test ./internal/integration/...
package integration
