// Package verrors defines the two disjoint failure classes of verification.
//
// IntegrityError signals tampering or a cryptographic failure and must be
// treated as a security incident. WhitelistError signals that governance
// policy is not (yet) satisfied, for example not enough approvals.
package verrors

import (
	"errors"
	"fmt"
)

// IntegrityError is returned when data cannot be proven authentic: hash
// mismatch, malformed encodings, missing or invalid SuperAdmin signatures.
type IntegrityError struct {
	Step   string `json:"step"`
	Reason string `json:"reason"`
	Err    error  `json:"-"`
}

func (e *IntegrityError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("integrity check failed at step '%s': %s: %v", e.Step, e.Reason, e.Err)
	}
	return fmt.Sprintf("integrity check failed at step '%s': %s", e.Step, e.Reason)
}

func (e *IntegrityError) Unwrap() error { return e.Err }

// WhitelistError is returned when the approval policy is not met.
type WhitelistError struct {
	Step   string `json:"step"`
	Reason string `json:"reason"`
	Err    error  `json:"-"`
}

func (e *WhitelistError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("whitelist check failed at step '%s': %s: %v", e.Step, e.Reason, e.Err)
	}
	return fmt.Sprintf("whitelist check failed at step '%s': %s", e.Step, e.Reason)
}

func (e *WhitelistError) Unwrap() error { return e.Err }

// Integrity builds an IntegrityError.
func Integrity(step, reason string, err error) *IntegrityError {
	return &IntegrityError{Step: step, Reason: reason, Err: err}
}

// Whitelist builds a WhitelistError.
func Whitelist(step, reason string, err error) *WhitelistError {
	return &WhitelistError{Step: step, Reason: reason, Err: err}
}

// IsIntegrity reports whether err's chain holds an IntegrityError.
func IsIntegrity(err error) bool {
	var ie *IntegrityError
	return errors.As(err, &ie)
}

// IsWhitelist reports whether err's chain holds a WhitelistError.
func IsWhitelist(err error) bool {
	var we *WhitelistError
	return errors.As(err, &we)
}

// StepOf returns the step recorded on a typed verification error, or "".
func StepOf(err error) string {
	var ie *IntegrityError
	if errors.As(err, &ie) {
		return ie.Step
	}
	var we *WhitelistError
	if errors.As(err, &we) {
		return we.Step
	}
	return ""
}
