package config

// OrchestrationStrategy defines how an orchestrator composes sub-agents
type OrchestrationStrategy string

const (
	// StrategySequential runs sub-agents one after another, aborting on failure
	StrategySequential OrchestrationStrategy = "sequential"
	// StrategyParallel runs sub-agents concurrently and collects all results
	StrategyParallel OrchestrationStrategy = "parallel"
	// StrategyHierarchical delegates failures to the parent node's compensator
	StrategyHierarchical OrchestrationStrategy = "hierarchical"
	// StrategyAdaptive may replan once after a sub-agent failure
	StrategyAdaptive OrchestrationStrategy = "adaptive"
)

// IsValid checks if the orchestration strategy is valid
func (s OrchestrationStrategy) IsValid() bool {
	switch s {
	case StrategySequential, StrategyParallel, StrategyHierarchical, StrategyAdaptive:
		return true
	default:
		return false
	}
}

// IsolationLevel defines how strictly a session fences its agents
type IsolationLevel string

const (
	// IsolationStrict requires allow-listed agents or a minimum trust floor
	IsolationStrict IsolationLevel = "strict"
	// IsolationModerate enforces the trust floor only
	IsolationModerate IsolationLevel = "moderate"
	// IsolationRelaxed admits any registered agent
	IsolationRelaxed IsolationLevel = "relaxed"
)

// IsValid checks if the isolation level is valid
func (l IsolationLevel) IsValid() bool {
	return l == IsolationStrict || l == IsolationModerate || l == IsolationRelaxed
}

// DigestAlgo defines supported audit digest algorithms
type DigestAlgo string

const (
	// DigestFNV1a32 is the fast non-cryptographic default
	DigestFNV1a32 DigestAlgo = "fnv1a32"
	// DigestSHA256 is the cryptographic option, verified asynchronously
	DigestSHA256 DigestAlgo = "sha256"
)

// IsValid checks if the digest algorithm is valid
func (a DigestAlgo) IsValid() bool {
	return a == DigestFNV1a32 || a == DigestSHA256
}

// EvictionPolicy defines bounded-store eviction behavior
type EvictionPolicy string

const (
	EvictionLRU        EvictionPolicy = "lru"
	EvictionTTL        EvictionPolicy = "ttl"
	EvictionImportance EvictionPolicy = "importance"
	EvictionSize       EvictionPolicy = "size"
)

// IsValid checks if the eviction policy is valid
func (p EvictionPolicy) IsValid() bool {
	switch p {
	case EvictionLRU, EvictionTTL, EvictionImportance, EvictionSize:
		return true
	default:
		return false
	}
}
