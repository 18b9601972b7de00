package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestOrchestrationStrategy_IsValid(t *testing.T) {
	valid := []OrchestrationStrategy{StrategySequential, StrategyParallel, StrategyHierarchical, StrategyAdaptive}
	for _, s := range valid {
		assert.True(t, s.IsValid(), string(s))
	}
	assert.False(t, OrchestrationStrategy("round-robin").IsValid())
	assert.False(t, OrchestrationStrategy("").IsValid())
}

func TestIsolationLevel_IsValid(t *testing.T) {
	valid := []IsolationLevel{IsolationStrict, IsolationModerate, IsolationRelaxed}
	for _, l := range valid {
		assert.True(t, l.IsValid(), string(l))
	}
	assert.False(t, IsolationLevel("open").IsValid())
}

func TestDigestAlgo_IsValid(t *testing.T) {
	assert.True(t, DigestFNV1a32.IsValid())
	assert.True(t, DigestSHA256.IsValid())
	assert.False(t, DigestAlgo("md5").IsValid())
}

func TestEvictionPolicy_IsValid(t *testing.T) {
	valid := []EvictionPolicy{EvictionLRU, EvictionTTL, EvictionImportance, EvictionSize}
	for _, p := range valid {
		assert.True(t, p.IsValid(), string(p))
	}
	assert.False(t, EvictionPolicy("fifo").IsValid())
}
