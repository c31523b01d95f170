// Package dom holds the data model for serialized page snapshots.
//
// A snapshot is one chunk of the page rendered as text for the model, plus
// the map from synthetic element ids to concrete locators. The map is only
// meaningful for the exact DOM state it was captured from, so every snapshot
// carries a generation number and resolution against the wrong generation is
// rejected instead of executing against a stale reference.
package dom

import "fmt"

// Snapshot is the result of one processDom / processAllOfDom pass.
type Snapshot struct {
	// OutputString is the serialized text of this chunk.
	OutputString string `json:"outputString"`
	// Chunk is the index of the chunk this snapshot covers.
	Chunk int `json:"chunk"`
	// Chunks is the total chunk count of the page.
	Chunks int `json:"chunks"`
	// SelectorMap maps synthetic element ids to locator strings
	// (e.g. "xpath=//button[1]").
	SelectorMap map[string]string `json:"selectorMap"`
	// Generation identifies the capture this snapshot belongs to.
	// Assigned by the caller that drives captures, monotonically increasing.
	Generation uint64 `json:"-"`
}

// StaleIDError reports an element id that cannot be resolved against the
// current snapshot, either because the id is unknown or because the snapshot
// the id came from has been superseded. It is recoverable: the caller should
// re-plan from a fresh snapshot.
type StaleIDError struct {
	ElementID  string
	Generation uint64
	Current    uint64
}

func (e *StaleIDError) Error() string {
	if e.Generation != e.Current {
		return fmt.Sprintf("element %q belongs to snapshot generation %d, current is %d", e.ElementID, e.Generation, e.Current)
	}
	return fmt.Sprintf("element %q not present in current snapshot", e.ElementID)
}

// Resolve maps an element id to its locator. The generation argument is the
// generation the id was obtained under; it must match the snapshot's own.
func (s *Snapshot) Resolve(elementID string, generation uint64) (string, error) {
	if generation != s.Generation {
		return "", &StaleIDError{ElementID: elementID, Generation: generation, Current: s.Generation}
	}
	loc, ok := s.SelectorMap[elementID]
	if !ok {
		return "", &StaleIDError{ElementID: elementID, Generation: generation, Current: s.Generation}
	}
	return loc, nil
}

// Remaining reports how many chunks have not been seen yet given the set of
// already-visited chunk indices.
func (s *Snapshot) Remaining(seen []int) int {
	visited := make(map[int]struct{}, len(seen))
	for _, c := range seen {
		visited[c] = struct{}{}
	}
	n := 0
	for i := 0; i < s.Chunks; i++ {
		if _, ok := visited[i]; !ok {
			n++
		}
	}
	return n
}
