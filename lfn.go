package fat32

import (
	"unicode/utf16"

	"github.com/dsoprea/go-logging"
)

const (
	// longNameLastFragment marks the fragment that carries the end of the
	// name. It's the first one stored.
	longNameLastFragment = 0x40

	longNameSequenceMask = 0x1f

	longNameUnitsPerFragment = 13
)

var (
	longNameLogger = log.NewLogger("fat32.lfn")
)

// UnicodeFromUtf16 decodes UTF-16 code units up to the first NUL.
func UnicodeFromUtf16(units []uint16) string {
	for i, u := range units {
		if u == 0 {
			units = units[:i]
			break
		}
	}

	return string(utf16.Decode(units))
}

// longNameAccumulator collects the fragments of one long name. Fragments
// arrive in descending sequence order and must all carry the same checksum.
type longNameAccumulator struct {
	fragments [][longNameUnitsPerFragment]uint16

	checksum     uint8
	lastSequence int
	valid        bool
}

// reset discards anything collected.
func (lna *longNameAccumulator) reset() {
	lna.fragments = lna.fragments[:0]
	lna.checksum = 0
	lna.lastSequence = 0
	lna.valid = false
}

// IsActive indicates whether a name is currently being collected.
func (lna *longNameAccumulator) IsActive() bool {
	return lna.valid
}

// Add takes the next fragment. A broken run is dropped; the short name will
// be used instead.
func (lna *longNameAccumulator) Add(lnde *longNameDirectoryEntry) {
	sequence := int(lnde.Sequence & longNameSequenceMask)

	if lnde.Sequence&longNameLastFragment > 0 {
		if lna.valid == true {
			longNameLogger.Debugf(nil, "Long-name run restarted before it completed.")
		}

		lna.reset()

		if sequence == 0 {
			return
		}

		lna.checksum = lnde.Checksum
		lna.lastSequence = sequence
		lna.valid = true
		lna.fragments = append(lna.fragments, fragmentUnits(lnde))

		return
	}

	if lna.valid == false {
		return
	}

	if sequence != lna.lastSequence-1 {
		longNameLogger.Debugf(nil, "Long-name fragment out of sequence: (%d) after (%d)", sequence, lna.lastSequence)
		lna.reset()

		return
	} else if lnde.Checksum != lna.checksum {
		longNameLogger.Debugf(nil, "Long-name fragment checksum changed: (0x%02x) != (0x%02x)", lnde.Checksum, lna.checksum)
		lna.reset()

		return
	}

	lna.lastSequence = sequence
	lna.fragments = append(lna.fragments, fragmentUnits(lnde))
}

// Finish returns the name for the short entry with the given raw name and
// resets the accumulator. `found` is false if there's no complete name that
// belongs to it.
func (lna *longNameAccumulator) Finish(shortName [11]byte) (name string, found bool) {
	defer lna.reset()

	if lna.valid == false {
		return "", false
	}

	if lna.lastSequence != 1 {
		longNameLogger.Debugf(nil, "Long-name run is missing fragments: stopped at (%d)", lna.lastSequence)
		return "", false
	}

	checksum := shortNameChecksum(shortName)
	if checksum != lna.checksum {
		longNameLogger.Debugf(nil, "Long-name checksum does not match short name: (0x%02x) != (0x%02x)", lna.checksum, checksum)
		return "", false
	}

	// The fragments were stored last-first.
	units := make([]uint16, 0, len(lna.fragments)*longNameUnitsPerFragment)
	for i := len(lna.fragments) - 1; i >= 0; i-- {
		units = append(units, lna.fragments[i][:]...)
	}

	return UnicodeFromUtf16(units), true
}

func fragmentUnits(lnde *longNameDirectoryEntry) (units [longNameUnitsPerFragment]uint16) {
	copy(units[0:5], lnde.Name1[:])
	copy(units[5:11], lnde.Name2[:])
	copy(units[11:13], lnde.Name3[:])

	return units
}
