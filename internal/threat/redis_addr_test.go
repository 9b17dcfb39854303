//go:build !integration

package threat

import (
	"os"
	"testing"
)

// testRedisAddr uses MTD_TEST_REDIS_ADDR. Run with -tags integration to get a
// throwaway container instead.
func testRedisAddr(t *testing.T) string {
	t.Helper()
	addr := os.Getenv("MTD_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("MTD_TEST_REDIS_ADDR not set")
	}
	return addr
}
