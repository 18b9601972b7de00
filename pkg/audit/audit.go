// Package audit seals task executions into immutable, digest-verified
// artifacts. A session collects ordered step records and namespaced
// claims, then finalize computes a canonical digest (fnv1a32 or sha256)
// and optionally signs it. Verification recomputes the digest from the
// artifact's own contents.
package audit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/praxis-platform/praxis/pkg/config"
	"github.com/praxis-platform/praxis/pkg/fault"
)

// ArtifactVersion is the artifact document version.
const ArtifactVersion = "1"

// ClaimTotalTasks must be present in every sealed artifact.
const ClaimTotalTasks = "core.totalTasks"

var (
	// ErrDigestMismatch is returned when a recomputed digest differs
	// from the artifact's recorded one.
	ErrDigestMismatch = errors.New("digest-mismatch")

	// ErrMissingClaim is returned when a required claim is absent.
	ErrMissingClaim = errors.New("missing-claim")

	// ErrSignatureInvalid is returned when the signer rejects the
	// artifact's signature.
	ErrSignatureInvalid = errors.New("signature-invalid")
)

// Record is one canonicalized execution step.
type Record struct {
	ID      string `json:"id"`
	Success bool   `json:"success"`
	Value   any    `json:"value,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Digest names the algorithm and its hex value.
type Digest struct {
	Algo  config.DigestAlgo `json:"algo"`
	Value string            `json:"value"`
}

// Artifact is the sealed, write-once output of a session.
type Artifact struct {
	ID            string         `json:"id"`
	Version       string         `json:"version"`
	Seed          int64          `json:"seed"`
	ExecutionHash string         `json:"executionHash"`
	Claims        map[string]any `json:"claims"`
	Digest        Digest         `json:"digest"`
	Timestamp     time.Time      `json:"timestamp"`
	Records       []Record       `json:"records"`
	Signature     string         `json:"signature,omitempty"`
	SignerID      string         `json:"signerId,omitempty"`
}

// Signer produces and checks detached signatures over digest strings.
// Concrete implementations live outside the core.
type Signer interface {
	ID() string
	Sign(digest string) (string, error)
	Verify(digest, signature string) error
}

// FinalizeOptions selects the digest algorithm and an optional signer.
type FinalizeOptions struct {
	DigestAlgo config.DigestAlgo
	Signer     Signer
}

// Session accumulates records and claims until finalized.
type Session struct {
	mu            sync.Mutex
	seed          int64
	executionHash string
	records       []Record
	claims        map[string]any
	sealed        bool
}

// OpenSession starts an audit session over an ordered record set.
func OpenSession(seed int64, executionHash string, records []Record) *Session {
	s := &Session{
		seed:          seed,
		executionHash: executionHash,
		records:       make([]Record, len(records)),
		claims:        make(map[string]any),
	}
	copy(s.records, records)
	return s
}

// AddClaim attaches a namespaced claim. Keys must carry a namespace
// prefix such as "core.".
func (s *Session) AddClaim(key string, value any) error {
	if !strings.Contains(key, ".") {
		return fault.New(fault.CodeValidation, "claim key %q is not namespaced", key)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sealed {
		return fault.New(fault.CodeValidation, "session already finalized")
	}
	s.claims[key] = value
	return nil
}

// AppendRecord adds a step record to the session in insertion order.
func (s *Session) AppendRecord(rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sealed {
		return fault.New(fault.CodeValidation, "session already finalized")
	}
	s.records = append(s.records, rec)
	return nil
}

// Finalize seals the session into an artifact. The session rejects all
// mutation afterwards, and a second finalize fails.
func (s *Session) Finalize(opts FinalizeOptions) (*Artifact, error) {
	algo := opts.DigestAlgo
	if algo == "" {
		algo = config.DigestFNV1a32
	}
	if !algo.IsValid() {
		return nil, fault.New(fault.CodeValidation, "unknown digest algorithm %q", algo)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sealed {
		return nil, fault.New(fault.CodeValidation, "session already finalized")
	}
	if _, ok := s.claims[ClaimTotalTasks]; !ok {
		return nil, fmt.Errorf("%w:%s", ErrMissingClaim, ClaimTotalTasks)
	}

	canonical, err := canonicalInput(s.records, s.claims)
	if err != nil {
		return nil, fault.Wrap(fault.CodeInternal, err, "canonicalizing audit input")
	}

	artifact := &Artifact{
		ID:            uuid.NewString(),
		Version:       ArtifactVersion,
		Seed:          s.seed,
		ExecutionHash: s.executionHash,
		Claims:        copyClaims(s.claims),
		Digest:        Digest{Algo: algo, Value: digestValue(algo, canonical)},
		Timestamp:     time.Now().UTC(),
		Records:       make([]Record, len(s.records)),
	}
	copy(artifact.Records, s.records)

	if opts.Signer != nil {
		signature, err := opts.Signer.Sign(artifact.Digest.Value)
		if err != nil {
			return nil, fault.Wrap(fault.CodeInternal, err, "signing audit digest")
		}
		artifact.Signature = signature
		artifact.SignerID = opts.Signer.ID()
	}

	s.sealed = true
	return artifact, nil
}

// Verify recomputes the digest from the artifact's records and claims
// and checks required claims and the signature. It runs synchronously
// for every algorithm.
func Verify(artifact *Artifact, signer Signer) error {
	if artifact == nil {
		return fault.New(fault.CodeValidation, "nil artifact")
	}
	if _, ok := artifact.Claims[ClaimTotalTasks]; !ok {
		return fmt.Errorf("%w:%s", ErrMissingClaim, ClaimTotalTasks)
	}

	canonical, err := canonicalInput(artifact.Records, artifact.Claims)
	if err != nil {
		return fault.Wrap(fault.CodeInternal, err, "canonicalizing audit input")
	}
	if digestValue(artifact.Digest.Algo, canonical) != artifact.Digest.Value {
		return ErrDigestMismatch
	}

	if signer != nil && artifact.Signature != "" {
		if err := signer.Verify(artifact.Digest.Value, artifact.Signature); err != nil {
			return fmt.Errorf("%w: %v", ErrSignatureInvalid, err)
		}
	}
	return nil
}

// VerifyAsync runs Verify off the caller's goroutine and delivers the
// outcome on the returned channel. sha256 verification is expected to
// take this path.
func VerifyAsync(ctx context.Context, artifact *Artifact, signer Signer) <-chan error {
	out := make(chan error, 1)
	go func() {
		defer close(out)
		select {
		case <-ctx.Done():
			out <- fault.FromContext(ctx)
		default:
			out <- Verify(artifact, signer)
		}
	}()
	return out
}

// canonicalInput builds the digest preimage: each record rendered as
// "id|success?|JSON(value)|error" joined by newlines, a claims marker,
// then the stable-key-sorted JSON of the claims.
func canonicalInput(records []Record, claims map[string]any) (string, error) {
	var b strings.Builder
	for i, rec := range records {
		if i > 0 {
			b.WriteByte('\n')
		}
		value, err := json.Marshal(rec.Value)
		if err != nil {
			return "", err
		}
		fmt.Fprintf(&b, "%s|%t|%s|%s", rec.ID, rec.Success, value, rec.Error)
	}
	b.WriteString("\n--claims--\n")

	// encoding/json already sorts map keys, kept explicit for clarity.
	keys := make([]string, 0, len(claims))
	for k := range claims {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	sorted := make(map[string]any, len(claims))
	for _, k := range keys {
		sorted[k] = claims[k]
	}
	claimsJSON, err := json.Marshal(sorted)
	if err != nil {
		return "", err
	}
	b.Write(claimsJSON)
	return b.String(), nil
}

func digestValue(algo config.DigestAlgo, canonical string) string {
	switch algo {
	case config.DigestSHA256:
		sum := sha256.Sum256([]byte(canonical))
		return hex.EncodeToString(sum[:])
	default:
		h := fnv.New32a()
		h.Write([]byte(canonical))
		return hex.EncodeToString(h.Sum(nil))
	}
}

func copyClaims(claims map[string]any) map[string]any {
	out := make(map[string]any, len(claims))
	for k, v := range claims {
		out[k] = v
	}
	return out
}
