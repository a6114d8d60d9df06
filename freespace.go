package fat32

import (
	"fmt"
	"sort"

	"github.com/dsoprea/go-logging"
)

// Extent is a run of consecutive clusters.
type Extent struct {
	Start  uint32
	Length uint32
}

// End returns the first cluster after the extent.
func (e Extent) End() uint32 {
	return e.Start + e.Length
}

// String returns a description of the extent.
func (e Extent) String() string {
	return fmt.Sprintf("Extent<START=(%d) LENGTH=(%d)>", e.Start, e.Length)
}

// FreeSpaceMap tracks free clusters as extents ordered by start. No two
// extents overlap or touch; adjacent ones are always merged.
type FreeSpaceMap struct {
	extents   []Extent
	freeCount uint64
}

// NewFreeSpaceMap returns an empty map.
func NewFreeSpaceMap() *FreeSpaceMap {
	return &FreeSpaceMap{
		extents: make([]Extent, 0),
	}
}

// Free adds a run of clusters. Freeing a cluster that's already free fails
// with ErrCorruptVolume and leaves the map unchanged.
func (fsm *FreeSpaceMap) Free(start, length uint32) error {
	if length == 0 {
		return nil
	}

	end := start + length
	if end < start {
		return log.Errorf("extent overflows: (%d) (%d)", start, length)
	}

	i := sort.Search(len(fsm.extents), func(j int) bool {
		return fsm.extents[j].Start >= start
	})

	hasPrevious := i > 0
	hasNext := i < len(fsm.extents)

	if hasPrevious == true && fsm.extents[i-1].End() > start {
		return log.Wrap(ErrCorruptVolume)
	} else if hasNext == true && end > fsm.extents[i].Start {
		return log.Wrap(ErrCorruptVolume)
	}

	mergePrevious := hasPrevious == true && fsm.extents[i-1].End() == start
	mergeNext := hasNext == true && fsm.extents[i].Start == end

	switch {
	case mergePrevious == true && mergeNext == true:
		fsm.extents[i-1].Length += length + fsm.extents[i].Length
		fsm.extents = append(fsm.extents[:i], fsm.extents[i+1:]...)
	case mergePrevious == true:
		fsm.extents[i-1].Length += length
	case mergeNext == true:
		fsm.extents[i].Start = start
		fsm.extents[i].Length += length
	default:
		fsm.extents = append(fsm.extents, Extent{})
		copy(fsm.extents[i+1:], fsm.extents[i:])
		fsm.extents[i] = Extent{Start: start, Length: length}
	}

	fsm.freeCount += uint64(length)

	return nil
}

// Alloc takes clusters from the lowest free extent. The returned extent may
// be shorter than `n`; the caller allocates again for the rest.
func (fsm *FreeSpaceMap) Alloc(n uint32) (e Extent, found bool) {
	if n == 0 || len(fsm.extents) == 0 {
		return Extent{}, false
	}

	first := &fsm.extents[0]

	if first.Length <= n {
		e = *first
		fsm.extents = fsm.extents[1:]
	} else {
		e = Extent{Start: first.Start, Length: n}

		first.Start += n
		first.Length -= n
	}

	fsm.freeCount -= uint64(e.Length)

	return e, true
}

// FreeCount returns the number of free clusters.
func (fsm *FreeSpaceMap) FreeCount() uint64 {
	return fsm.freeCount
}

// Extents returns a copy of the extents in ascending order.
func (fsm *FreeSpaceMap) Extents() []Extent {
	extents := make([]Extent, len(fsm.extents))
	copy(extents, fsm.extents)

	return extents
}

// String returns a description of the map.
func (fsm *FreeSpaceMap) String() string {
	return fmt.Sprintf("FreeSpaceMap<EXTENTS=(%d) FREE=(%d)>", len(fsm.extents), fsm.freeCount)
}
