package governance

import (
	"log/slog"

	"github.com/taurushq-io/taurus-protect-sdk-sub009/pkg/crypto"
	"github.com/taurushq-io/taurus-protect-sdk-sub009/pkg/rules"
)

// Evaluator checks user signatures against a threshold tree.
// It holds no per-call state and is safe for concurrent use.
type Evaluator struct {
	verifier crypto.SignatureVerifier
	logger   *slog.Logger
}

// NewEvaluator creates an Evaluator.
func NewEvaluator(opts ...Option) *Evaluator {
	o := buildOptions(opts)
	return &Evaluator{verifier: o.verifier, logger: o.logger}
}

// Evaluate reports whether sigs satisfy parallel for hash. Paths are tried in
// order and the first satisfied path wins. Within a path every group
// threshold must hold; the first failing threshold abandons the path.
//
// A path with no thresholds, or an empty parallel list, never passes.
func (e *Evaluator) Evaluate(parallel rules.ParallelThresholds, c *rules.DecodedRulesContainer, sigs []rules.UserSignature, hash string) bool {
	if c == nil {
		return false
	}
	approvals := &approvalSet{
		container: c,
		sigs:      sigs,
		hash:      hash,
		verifier:  e.verifier,
		logger:    e.logger,
		valid:     make(map[string]bool),
	}
	for i := range parallel {
		if e.pathSatisfied(&parallel[i], approvals) {
			e.logger.Debug("threshold path satisfied", "path", i, "hash", hash)
			return true
		}
	}
	e.logger.Debug("no threshold path satisfied", "paths", len(parallel), "hash", hash)
	return false
}

func (e *Evaluator) pathSatisfied(path *rules.SequentialThresholds, approvals *approvalSet) bool {
	if len(path.Thresholds) == 0 {
		return false
	}
	for _, t := range path.Thresholds {
		group, ok := approvals.container.Group(t.GroupID)
		if !ok {
			e.logger.Debug("threshold references unknown group", "group_id", t.GroupID)
			return false
		}
		count := approvals.countGroup(group)
		if count < t.MinimumSignatures {
			e.logger.Debug("group threshold not met",
				"group_id", t.GroupID,
				"valid_signatures", count,
				"required", t.MinimumSignatures,
			)
			return false
		}
	}
	return true
}

// approvalSet memoizes, per user, whether that user approved the hash, so a
// user shared by several groups or paths is verified once per evaluation.
type approvalSet struct {
	container *rules.DecodedRulesContainer
	sigs      []rules.UserSignature
	hash      string
	verifier  crypto.SignatureVerifier
	logger    *slog.Logger
	valid     map[string]bool
}

// countGroup counts distinct members of g that approved the hash.
func (a *approvalSet) countGroup(g *rules.RuleGroup) int {
	seen := make(map[string]struct{}, len(g.UserIDs))
	count := 0
	for _, id := range g.UserIDs {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		if a.approved(id) {
			count++
		}
	}
	return count
}

func (a *approvalSet) approved(userID string) bool {
	if v, ok := a.valid[userID]; ok {
		return v
	}
	v := a.verifyUser(userID)
	a.valid[userID] = v
	return v
}

func (a *approvalSet) verifyUser(userID string) bool {
	user, ok := a.container.User(userID)
	if !ok || user.PublicKey == nil {
		return false
	}
	for i := range a.sigs {
		sig := &a.sigs[i]
		if sig.UserID != userID || !sig.Covers(a.hash) {
			continue
		}
		payload, err := crypto.HashesPayload(sig.Hashes)
		if err != nil {
			continue
		}
		ok, err := a.verifier.Verify(user.PublicKey, payload, sig.Signature)
		if err != nil {
			a.logger.Debug("user signature rejected", "user_id", userID, "error", err)
			continue
		}
		if ok {
			return true
		}
	}
	return false
}
