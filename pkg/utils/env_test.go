package utils

import (
	"os"
	"testing"
)

func TestEnvOrDefaultFallsBackWhenUnset(t *testing.T) {
	clearEnvCache("STARKDEVNET_TEST_UNSET")
	if got := EnvOrDefault("STARKDEVNET_TEST_UNSET", "fallback"); got != "fallback" {
		t.Fatalf("expected fallback, got %q", got)
	}
}

func TestEnvOrDefaultUsesCachedValue(t *testing.T) {
	const key = "STARKDEVNET_TEST_SET"
	os.Setenv(key, "value")
	clearEnvCache(key)
	if got := EnvOrDefault(key, "fallback"); got != "value" {
		t.Fatalf("expected value, got %q", got)
	}
	os.Unsetenv(key)
	// still cached from the lookup above
	if got := EnvOrDefault(key, "fallback"); got != "value" {
		t.Fatalf("expected cached value to survive unset, got %q", got)
	}
}

func TestEnvOrDefaultIntParsesOrFallsBack(t *testing.T) {
	const key = "STARKDEVNET_TEST_INT"
	os.Setenv(key, "42")
	clearEnvCache(key)
	if got := EnvOrDefaultInt(key, 0); got != 42 {
		t.Fatalf("expected 42, got %d", got)
	}

	const bad = "STARKDEVNET_TEST_INT_BAD"
	os.Setenv(bad, "not-a-number")
	clearEnvCache(bad)
	if got := EnvOrDefaultInt(bad, 7); got != 7 {
		t.Fatalf("expected fallback 7 for unparseable int, got %d", got)
	}
}

func TestEnvOrDefaultUint64ParsesOrFallsBack(t *testing.T) {
	const key = "STARKDEVNET_TEST_UINT64"
	os.Setenv(key, "18446744073709551615")
	clearEnvCache(key)
	if got := EnvOrDefaultUint64(key, 0); got != 18446744073709551615 {
		t.Fatalf("expected max uint64, got %d", got)
	}
}

func BenchmarkEnvOrDefault(b *testing.B) {
	const key = "STARKDEVNET_BENCH_KEY"
	os.Setenv(key, "value")
	clearEnvCache(key)
	EnvOrDefault(key, "fallback")
	b.ResetTimer()
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		EnvOrDefault(key, "fallback")
	}
}

func BenchmarkEnvOrDefaultInt(b *testing.B) {
	const key = "STARKDEVNET_BENCH_INT"
	os.Setenv(key, "123")
	clearEnvCache(key)
	EnvOrDefaultInt(key, 0)
	b.ResetTimer()
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		EnvOrDefaultInt(key, 0)
	}
}

func BenchmarkEnvOrDefaultUint64(b *testing.B) {
	const key = "STARKDEVNET_BENCH_UINT"
	os.Setenv(key, "123")
	clearEnvCache(key)
	EnvOrDefaultUint64(key, 0)
	b.ResetTimer()
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		EnvOrDefaultUint64(key, 0)
	}
}
