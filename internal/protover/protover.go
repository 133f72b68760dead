// Package protover negotiates the wire-protocol version a target
// advertises against the minimum version the host is willing to speak
// to, using semantic-version constraints.
//
// The constraint gates a single target's advertised protocol version
// against a host-supplied floor before the reader is allowed to start
// polling.
package protover

import (
	"fmt"

	semver "github.com/Masterminds/semver/v3"
)

// Current is the protocol version this host build speaks: the LEB128
// frame triple (payload_len, fmt_key, type_key), unchanged since the
// first tagged release.
const Current = "1.0.0"

// Negotiate parses a target-advertised version string and a minimum
// constraint expression (e.g. ">=1.0.0", the empty string meaning "any
// version accepted"), and returns an error if the target's version does
// not satisfy the constraint.
//
// An empty minConstraint always succeeds without parsing targetVersion,
// so callers that never pass --min-protocol pay no validation cost.
func Negotiate(targetVersion, minConstraint string) error {
	if minConstraint == "" {
		return nil
	}

	tv, err := semver.NewVersion(targetVersion)
	if err != nil {
		return fmt.Errorf("protover: target advertised an unparseable version %q: %w", targetVersion, err)
	}

	c, err := semver.NewConstraint(minConstraint)
	if err != nil {
		return fmt.Errorf("protover: invalid --min-protocol constraint %q: %w", minConstraint, err)
	}

	if !c.Check(tv) {
		return fmt.Errorf("protover: target protocol version %s does not satisfy %s", tv, minConstraint)
	}

	return nil
}

// Satisfies reports whether version v satisfies constraint expr, for
// callers (tests, the quicattach handshake) that want a bool instead of
// an error.
func Satisfies(v, expr string) (bool, error) {
	sv, err := semver.NewVersion(v)
	if err != nil {
		return false, fmt.Errorf("protover: %w", err)
	}

	c, err := semver.NewConstraint(expr)
	if err != nil {
		return false, fmt.Errorf("protover: %w", err)
	}

	return c.Check(sv), nil
}
