package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestGetEnv(t *testing.T) {
	t.Setenv("AUCTION_TEST_STR", "")
	assert.Equal(t, "fallback", GetEnv("AUCTION_TEST_STR", "fallback"))

	t.Setenv("AUCTION_TEST_STR", "value")
	assert.Equal(t, "value", GetEnv("AUCTION_TEST_STR", "fallback"))
}

func TestGetEnvNumbers(t *testing.T) {
	t.Setenv("AUCTION_TEST_INT", "42")
	t.Setenv("AUCTION_TEST_INT64", "9000000000")
	t.Setenv("AUCTION_TEST_BAD", "x")

	assert.Equal(t, 42, GetEnvInt("AUCTION_TEST_INT", 1))
	assert.Equal(t, int64(9000000000), GetEnvInt64("AUCTION_TEST_INT64", 1))
	assert.Equal(t, 1, GetEnvInt("AUCTION_TEST_BAD", 1))
	assert.Equal(t, int64(7), GetEnvInt64("AUCTION_TEST_BAD", 7))
}

func TestGetEnvBool(t *testing.T) {
	t.Setenv("AUCTION_TEST_BOOL", "true")
	assert.True(t, GetEnvBool("AUCTION_TEST_BOOL", false))

	t.Setenv("AUCTION_TEST_BOOL", "nope")
	assert.False(t, GetEnvBool("AUCTION_TEST_BOOL", false))
}

func TestGetEnvDuration(t *testing.T) {
	t.Setenv("AUCTION_TEST_DUR", "15s")
	assert.Equal(t, 15*time.Second, GetEnvDuration("AUCTION_TEST_DUR", time.Minute))

	t.Setenv("AUCTION_TEST_DUR", "soon")
	assert.Equal(t, time.Minute, GetEnvDuration("AUCTION_TEST_DUR", time.Minute))
}

func TestGetEnvList(t *testing.T) {
	t.Setenv("AUCTION_TEST_LIST", " admin , seller,, ")
	assert.Equal(t, []string{"admin", "seller"}, GetEnvList("AUCTION_TEST_LIST", nil))

	t.Setenv("AUCTION_TEST_LIST", "")
	assert.Equal(t, []string{"x"}, GetEnvList("AUCTION_TEST_LIST", []string{"x"}))
}
