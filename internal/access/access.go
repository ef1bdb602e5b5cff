// Package access resolves owner and operator roles for policy operations.
//
// Every mutating or privileged-read operation evaluates one of the two
// capability checks before touching state, and fails whole (no partial
// effect) when the check does not hold. The owner is implicitly privileged
// and is never stored in the operator set.
package access

import "errors"

// ErrUnauthorized is returned when the caller lacks the required role.
var ErrUnauthorized = errors.New("access: caller not authorized")

// Control answers role questions for one policy. It is a read-only view
// over the policy's owner and operator set; the owner-gated mutators return
// the updated set rather than writing anywhere.
type Control struct {
	owner     string
	operators []string
}

// New creates a Control for a policy's owner and operator set.
func New(owner string, operators []string) Control {
	return Control{owner: owner, operators: operators}
}

// IsOwner reports whether the caller is the policy owner.
func (c Control) IsOwner(caller string) bool {
	return caller != "" && caller == c.owner
}

// IsOwnerOrOperator reports whether the caller is the owner or an operator.
func (c Control) IsOwnerOrOperator(caller string) bool {
	if c.IsOwner(caller) {
		return true
	}
	for _, op := range c.operators {
		if op == caller {
			return true
		}
	}
	return false
}

// RequireOwner returns ErrUnauthorized unless the caller is the owner.
func (c Control) RequireOwner(caller string) error {
	if !c.IsOwner(caller) {
		return ErrUnauthorized
	}
	return nil
}

// RequireOwnerOrOperator returns ErrUnauthorized unless the caller holds
// the owner or operator role.
func (c Control) RequireOwnerOrOperator(caller string) error {
	if !c.IsOwnerOrOperator(caller) {
		return ErrUnauthorized
	}
	return nil
}

// AddOperator returns the operator set with id granted the operator role.
// Owner-gated. Adding the owner or an existing operator is a no-op: the
// owner is never stored in the set and the set holds no duplicates.
func (c Control) AddOperator(caller, id string) ([]string, error) {
	if err := c.RequireOwner(caller); err != nil {
		return nil, err
	}
	if id == c.owner {
		return c.operators, nil
	}
	for _, op := range c.operators {
		if op == id {
			return c.operators, nil
		}
	}
	out := make([]string, len(c.operators), len(c.operators)+1)
	copy(out, c.operators)
	return append(out, id), nil
}

// RemoveOperator returns the operator set with id's operator role revoked.
// Owner-gated. Removing an identity that is not an operator is a no-op.
func (c Control) RemoveOperator(caller, id string) ([]string, error) {
	if err := c.RequireOwner(caller); err != nil {
		return nil, err
	}
	out := make([]string, 0, len(c.operators))
	for _, op := range c.operators {
		if op != id {
			out = append(out, op)
		}
	}
	return out, nil
}
