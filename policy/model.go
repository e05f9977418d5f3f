// Package policy selects which of a provider's contract offers this
// connector is willing to accept.
package policy

import (
	"slices"
	"strings"
)

// Constraint restricts a rule, e.g. {"purpose", "eq", "research"}.
type Constraint struct {
	LeftOperand  string `json:"leftOperand" yaml:"left_operand"`
	Operator     string `json:"operator" yaml:"operator"`
	RightOperand string `json:"rightOperand" yaml:"right_operand"`
}

func (c Constraint) key() string {
	return c.LeftOperand + "\x00" + strings.ToLower(c.Operator) + "\x00" + c.RightOperand
}

// Rule is a permission, prohibition or obligation.
type Rule struct {
	Action      string       `json:"action" yaml:"action"`
	Constraints []Constraint `json:"constraints,omitempty" yaml:"constraints,omitempty"`
}

// Equal reports whether both rules name the same action under the same set
// of constraints. Constraint order is irrelevant.
func (r Rule) Equal(other Rule) bool {
	if !strings.EqualFold(r.Action, other.Action) || len(r.Constraints) != len(other.Constraints) {
		return false
	}
	return slices.Equal(r.constraintKeys(), other.constraintKeys())
}

func (r Rule) constraintKeys() []string {
	keys := make([]string, len(r.Constraints))
	for i, c := range r.Constraints {
		keys[i] = c.key()
	}
	slices.Sort(keys)
	return keys
}

// Policy is an ODRL-style usage policy.
type Policy struct {
	Permissions  []Rule `json:"permissions,omitempty" yaml:"permissions,omitempty"`
	Prohibitions []Rule `json:"prohibitions,omitempty" yaml:"prohibitions,omitempty"`
	Obligations  []Rule `json:"obligations,omitempty" yaml:"obligations,omitempty"`
}

// Equivalent reports whether two policies carry the same rules in every
// category, ignoring rule and constraint order.
func (p Policy) Equivalent(other Policy) bool {
	return sameRules(p.Permissions, other.Permissions) &&
		sameRules(p.Prohibitions, other.Prohibitions) &&
		sameRules(p.Obligations, other.Obligations)
}

func sameRules(a, b []Rule) bool {
	if len(a) != len(b) {
		return false
	}
	used := make([]bool, len(b))
outer:
	for _, ra := range a {
		for j, rb := range b {
			if !used[j] && ra.Equal(rb) {
				used[j] = true
				continue outer
			}
		}
		return false
	}
	return true
}

// Clone returns a deep copy.
func (p Policy) Clone() Policy {
	return Policy{
		Permissions:  cloneRules(p.Permissions),
		Prohibitions: cloneRules(p.Prohibitions),
		Obligations:  cloneRules(p.Obligations),
	}
}

func cloneRules(rules []Rule) []Rule {
	if rules == nil {
		return nil
	}
	out := make([]Rule, len(rules))
	for i, r := range rules {
		out[i] = Rule{Action: r.Action, Constraints: slices.Clone(r.Constraints)}
	}
	return out
}

// UsePermission is the unconstrained "use" policy.
func UsePermission() Policy {
	return Policy{Permissions: []Rule{{Action: "use"}}}
}

// Definition is a locally stored, named policy.
type Definition struct {
	ID     string `json:"id" yaml:"id"`
	Policy Policy `json:"policy" yaml:"policy"`
}

// Offer is one contract offer for a dataset.
type Offer struct {
	ID     string `json:"id"`
	Policy Policy `json:"policy"`
}

// Dataset is a provider asset together with its offers, in provider order.
type Dataset struct {
	ID     string  `json:"id"`
	Offers []Offer `json:"offers"`
}

// Catalog is a provider's answer to a catalog request.
type Catalog struct {
	ID       string    `json:"id"`
	Datasets []Dataset `json:"datasets"`
}
