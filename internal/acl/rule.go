package acl

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidRule is returned when a rule cannot be decoded.
var ErrInvalidRule = errors.New("acl: invalid permission rule")

type ruleKind int

const (
	kindSingle ruleKind = iota + 1
	kindAll
	kindAny
)

// Rule is one of: a single permission, all of a list, or any of a list.
// The zero Rule denies everything.
type Rule struct {
	kind  ruleKind
	perms []string
}

// Require matches when the permission is granted.
func Require(perm string) Rule {
	return Rule{kind: kindSingle, perms: []string{perm}}
}

// All matches when every permission is granted. A bare list of slugs means the same.
func All(perms ...string) Rule {
	return Rule{kind: kindAll, perms: append([]string{}, perms...)}
}

// Any matches when at least one permission is granted.
func Any(perms ...string) Rule {
	return Rule{kind: kindAny, perms: append([]string{}, perms...)}
}

// Evaluate checks the rule against a flat set of granted permission slugs.
// Empty All and Any rules are trivially satisfied.
func (r Rule) Evaluate(granted map[string]struct{}) bool {
	has := func(p string) bool {
		_, ok := granted[p]
		return ok
	}
	switch r.kind {
	case kindSingle:
		return has(r.perms[0])
	case kindAll:
		for _, p := range r.perms {
			if !has(p) {
				return false
			}
		}
		return true
	case kindAny:
		if len(r.perms) == 0 {
			return true
		}
		for _, p := range r.perms {
			if has(p) {
				return true
			}
		}
		return false
	default:
		return false
	}
}

// String renders the rule for logs.
func (r Rule) String() string {
	switch r.kind {
	case kindSingle:
		return r.perms[0]
	case kindAll:
		return "all(" + strings.Join(r.perms, ",") + ")"
	case kindAny:
		return "any(" + strings.Join(r.perms, ",") + ")"
	default:
		return "deny"
	}
}

// MarshalJSON writes the rule in the same shapes UnmarshalJSON accepts.
func (r Rule) MarshalJSON() ([]byte, error) {
	switch r.kind {
	case kindSingle:
		return json.Marshal(r.perms[0])
	case kindAll:
		return json.Marshal(map[string][]string{"all": r.perms})
	case kindAny:
		return json.Marshal(map[string][]string{"any": r.perms})
	default:
		return []byte("null"), nil
	}
}

// UnmarshalJSON accepts "perm", ["a","b"], {"any":[...]} or {"all":[...]}.
func (r *Rule) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return ErrInvalidRule
	}

	switch data[0] {
	case '"':
		var perm string
		if err := json.Unmarshal(data, &perm); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidRule, err)
		}
		if strings.TrimSpace(perm) == "" {
			return fmt.Errorf("%w: empty permission", ErrInvalidRule)
		}
		*r = Require(perm)
		return nil
	case '[':
		var perms []string
		if err := json.Unmarshal(data, &perms); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidRule, err)
		}
		*r = All(perms...)
		return nil
	case '{':
		var obj struct {
			Any *[]string `json:"any"`
			All *[]string `json:"all"`
		}
		if err := json.Unmarshal(data, &obj); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidRule, err)
		}
		switch {
		case obj.Any != nil && obj.All != nil:
			return fmt.Errorf("%w: both any and all given", ErrInvalidRule)
		case obj.Any != nil:
			*r = Any(*obj.Any...)
		case obj.All != nil:
			*r = All(*obj.All...)
		default:
			return fmt.Errorf("%w: expected any or all", ErrInvalidRule)
		}
		return nil
	default:
		return fmt.Errorf("%w: unsupported shape", ErrInvalidRule)
	}
}
