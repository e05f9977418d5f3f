package synchronizer

import "github.com/carlos-schmidt/EDC-Extension-for-AAS/aas"

// carryShells replaces each new shell with a copy of the old shell of the
// same idShort, keeping position.
func carryShells(newEnv, oldEnv *aas.Environment) int {
	carried := 0
	for i, sh := range newEnv.Shells {
		if old, ok := aas.FindByIDShort(oldEnv.Shells, sh.IDShort); ok {
			newEnv.Shells[i] = old.Clone()
			carried++
		}
	}
	return carried
}

func carryConceptDescriptions(newEnv, oldEnv *aas.Environment) int {
	carried := 0
	for i, cd := range newEnv.ConceptDescriptions {
		if old, ok := aas.FindByIDShort(oldEnv.ConceptDescriptions, cd.IDShort); ok {
			newEnv.ConceptDescriptions[i] = old.Clone()
			carried++
		}
	}
	return carried
}

// carrySubmodels copies ids from the first old submodel with the same
// idShort, then from old elements to new elements matched by idShort over
// the flattened trees. Submodels without a match stay unregistered.
func carrySubmodels(newEnv, oldEnv *aas.Environment) int {
	carried := 0
	for _, sm := range newEnv.Submodels {
		old, ok := aas.FindByIDShort(oldEnv.Submodels, sm.IDShort)
		if !ok {
			continue
		}
		sm.Identity = old.Identity
		carried++

		oldElements := aas.AllSubmodelElements(old)
		for _, el := range aas.AllSubmodelElements(sm) {
			if oldEl, ok := aas.FindByIDShort(oldElements, el.IDShort); ok {
				el.Identity = oldEl.Identity
				carried++
			}
		}
	}
	return carried
}
