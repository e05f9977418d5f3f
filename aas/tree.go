package aas

import (
	"bytes"
	"slices"
)

// FlattenElements returns every element of elems plus everything nested
// inside collections and lists, in document order with each container placed
// before its children. A nil input yields an empty, non-nil slice.
func FlattenElements(elems []*SubmodelElement) []*SubmodelElement {
	flat := make([]*SubmodelElement, 0, len(elems))
	return appendFlattened(flat, elems)
}

func appendFlattened(flat, elems []*SubmodelElement) []*SubmodelElement {
	for _, e := range elems {
		if e == nil {
			continue
		}
		flat = append(flat, e)
		if e.Kind.IsContainer() {
			flat = appendFlattened(flat, e.Children)
		}
	}
	return flat
}

// AllSubmodelElements flattens the element tree of a submodel.
func AllSubmodelElements(sm *Submodel) []*SubmodelElement {
	if sm == nil {
		return []*SubmodelElement{}
	}
	return FlattenElements(sm.Elements)
}

// AllElements lists every node of env: concept descriptions, shells,
// submodels, then the flattened elements of each submodel in turn.
func AllElements(env *Environment) []Element {
	if env == nil {
		return []Element{}
	}
	all := make([]Element, 0, len(env.ConceptDescriptions)+len(env.Shells)+len(env.Submodels))
	for _, cd := range env.ConceptDescriptions {
		all = append(all, cd)
	}
	for _, sh := range env.Shells {
		all = append(all, sh)
	}
	for _, sm := range env.Submodels {
		all = append(all, sm)
	}
	for _, sm := range env.Submodels {
		for _, e := range AllSubmodelElements(sm) {
			all = append(all, e)
		}
	}
	return all
}

// SameElement reports whether a and b denote the same logical element. Only
// idShort is compared, so an element whose value changed between two fetches
// is still recognised.
func SameElement(a, b Element) bool {
	if a == nil || b == nil {
		return false
	}
	return a.Base().IDShort == b.Base().IDShort
}

// FindByIDShort returns the first element of list with the given idShort.
// Siblings sharing an idShort are indistinguishable; the first one wins.
func FindByIDShort[E Element](list []E, idShort string) (E, bool) {
	for _, e := range list {
		if e.Base().IDShort == idShort {
			return e, true
		}
	}
	var zero E
	return zero, false
}

// Clone returns a deep copy of env.
func (env *Environment) Clone() *Environment {
	if env == nil {
		return nil
	}
	out := &Environment{
		Shells:              make([]*Shell, 0, len(env.Shells)),
		Submodels:           make([]*Submodel, 0, len(env.Submodels)),
		ConceptDescriptions: make([]*ConceptDescription, 0, len(env.ConceptDescriptions)),
	}
	for _, sh := range env.Shells {
		out.Shells = append(out.Shells, sh.Clone())
	}
	for _, sm := range env.Submodels {
		out.Submodels = append(out.Submodels, sm.Clone())
	}
	for _, cd := range env.ConceptDescriptions {
		out.ConceptDescriptions = append(out.ConceptDescriptions, cd.Clone())
	}
	return out
}

// Clone returns a deep copy of the shell.
func (s *Shell) Clone() *Shell {
	if s == nil {
		return nil
	}
	c := *s
	c.Node = cloneNode(s.Node)
	c.Administration = cloneAdministration(s.Administration)
	return &c
}

// Clone returns a deep copy of the concept description.
func (cd *ConceptDescription) Clone() *ConceptDescription {
	if cd == nil {
		return nil
	}
	c := *cd
	c.Node = cloneNode(cd.Node)
	c.Administration = cloneAdministration(cd.Administration)
	return &c
}

// Clone returns a deep copy of the submodel and its element tree.
func (sm *Submodel) Clone() *Submodel {
	if sm == nil {
		return nil
	}
	c := *sm
	c.Node = cloneNode(sm.Node)
	c.Administration = cloneAdministration(sm.Administration)
	c.Elements = cloneElements(sm.Elements)
	return &c
}

// Clone returns a deep copy of the element and its children.
func (e *SubmodelElement) Clone() *SubmodelElement {
	if e == nil {
		return nil
	}
	c := *e
	c.Node = cloneNode(e.Node)
	c.Value = bytes.Clone(e.Value)
	c.Children = cloneElements(e.Children)
	return &c
}

func cloneElements(elems []*SubmodelElement) []*SubmodelElement {
	if elems == nil {
		return nil
	}
	out := make([]*SubmodelElement, len(elems))
	for i, e := range elems {
		out[i] = e.Clone()
	}
	return out
}

func cloneNode(n Node) Node {
	c := n
	c.DisplayName = slices.Clone(n.DisplayName)
	c.Description = slices.Clone(n.Description)
	if n.SemanticID != nil {
		ref := cloneReference(*n.SemanticID)
		c.SemanticID = &ref
	}
	if n.EmbeddedDataSpecifications != nil {
		c.EmbeddedDataSpecifications = make([]EmbeddedDataSpecification, len(n.EmbeddedDataSpecifications))
		for i, eds := range n.EmbeddedDataSpecifications {
			c.EmbeddedDataSpecifications[i] = EmbeddedDataSpecification{
				DataSpecification: cloneReference(eds.DataSpecification),
				Content:           bytes.Clone(eds.Content),
			}
		}
	}
	c.DataAddress.ReferenceChain = slices.Clone(n.DataAddress.ReferenceChain)
	return c
}

func cloneReference(r Reference) Reference {
	return Reference{Type: r.Type, Keys: slices.Clone(r.Keys)}
}

func cloneAdministration(a *Administration) *Administration {
	if a == nil {
		return nil
	}
	c := *a
	return &c
}
