package linker

type addResult uint8

const (
	// addReplace makes the new definition the active one.
	addReplace addResult = iota
	// addChain keeps the old definition active and shadows the new one.
	addChain
	// addDuplicate drops the new definition; it equals the old one.
	addDuplicate
	// addConflict is a multiple definition.
	addConflict
	// addCommonMismatch keeps the old COMMON symbol although the new one
	// asks for a different size or alignment.
	addCommonMismatch
)

// commonReplaces is the survivor rule for two COMMON symbols. Value holds
// the alignment. The new symbol wins only when it is not smaller on
// either axis and strictly larger on one.
func commonReplaces(old, new *Symbol) bool {
	return (new.Size > old.Size && new.Value >= old.Value) ||
		(new.Size >= old.Size && new.Value > old.Value)
}

func inLinkOnce(s *Symbol) bool {
	return s.Sec != nil && s.Sec.Flags&SecLinkOnce != 0
}

// rankDefinitions decides which of two global definitions of the same
// name stays active.
func rankDefinitions(old, new *Symbol) addResult {
	if old.Type == SymAbs && new.Type == SymAbs && old.Value == new.Value {
		return addDuplicate
	}

	if old.Type == SymCommon && new.Type == SymCommon {
		if commonReplaces(old, new) {
			return addReplace
		}
		if old.Size != new.Size || old.Value != new.Value {
			if old.IsLinked() && new.IsLinked() {
				return addCommonMismatch
			}
		}
		return addChain
	}

	// Assignments from a linker script override object definitions.
	if old.Flags&SymScript != 0 {
		return addChain
	}
	if new.Flags&SymScript != 0 {
		return addReplace
	}

	// A definition from a unit that takes part in the link beats one from
	// a library member nobody asked for yet.
	if !old.IsLinked() && new.IsLinked() {
		return addReplace
	}
	if old.IsLinked() && !new.IsLinked() {
		return addChain
	}

	if old.Type == SymCommon {
		if new.IsWeak() {
			return addChain
		}
		return addReplace
	}
	if new.Type == SymCommon {
		return addChain
	}

	if old.IsWeak() {
		return addReplace
	}
	if new.IsWeak() {
		return addChain
	}

	if inLinkOnce(old) && inLinkOnce(new) {
		return addChain
	}
	if old.IsFromLibrary() || new.IsFromLibrary() || !old.IsLinked() {
		return addChain
	}
	return addConflict
}
