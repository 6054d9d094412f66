package block

import "github.com/kolkov/heapdiag/internal/heap/memview"

// DataState is the verdict on one section of a block. The zero value is
// Unknown so that a partially inspectable block still renders every
// analysis field.
type DataState uint8

const (
	// DataStateUnknown means the section could not be judged.
	DataStateUnknown DataState = iota
	// DataIsClean means the section passed its integrity checks.
	DataIsClean
	// DataIsCorrupt means the section failed an integrity check.
	DataIsCorrupt
)

// String returns the fixed report spelling of the verdict.
func (d DataState) String() string {
	switch d {
	case DataIsClean:
		return "clean"
	case DataIsCorrupt:
		return "corrupt"
	default:
		return "(unknown)"
	}
}

// Analysis is the per-section corruption verdict for one block.
type Analysis struct {
	BlockState   DataState
	HeaderState  DataState
	BodyState    DataState
	TrailerState DataState
}

// floodFillSlack is how many non-pattern bytes a quarantined body may show
// before it is declared corrupt. A small allowance absorbs benign torn
// reads of a live process without masking a real write-after-free.
const floodFillSlack = 0

// ValidateHeader checks the integrity sentinels of the header at
// info.HeaderAddr: magic first, then the checksum. It never dereferences
// beyond the fixed-size header record, so it is safe on any Info whose
// header bytes are mapped, however corrupt.
func ValidateHeader(space *memview.Space, info *Info) DataState {
	buf, ok := space.Bytes(info.HeaderAddr, HeaderSize)
	if !ok {
		return DataStateUnknown
	}
	hdr, _ := ReadHeader(space, info.HeaderAddr)
	if hdr.Magic != HeaderMagic {
		return DataIsCorrupt
	}
	if headerChecksum(buf) != hdr.Checksum {
		return DataIsCorrupt
	}
	return DataIsClean
}

// Analyze produces the per-section verdict for a block.
//
// Header: magic and checksum. Trailer: trailer magic. Body: only freed
// memory has a predictable content (the flood-fill pattern written at
// quarantine time), so allocated bodies stay unknown while quarantined
// bodies are checked against the pattern. The overall block verdict is
// corrupt if any judged section is corrupt, clean if the header and
// trailer are clean, unknown otherwise.
func Analyze(space *memview.Space, info *Info) Analysis {
	var a Analysis
	a.HeaderState = ValidateHeader(space, info)

	if a.HeaderState == DataIsCorrupt {
		// The extents claimed by a corrupt header cannot be trusted, so
		// the body and trailer are not chased.
		a.BlockState = DataIsCorrupt
		return a
	}

	if trl, ok := ReadTrailer(space, info.TrailerAddr); ok {
		if trl.Magic == TrailerMagic {
			a.TrailerState = DataIsClean
		} else {
			a.TrailerState = DataIsCorrupt
		}
	}

	if (info.Header.State == Quarantined || info.Header.State == Freed) &&
		info.Header.FloodFilled {
		a.BodyState = analyzeFloodFilledBody(space, info)
	}

	switch {
	case a.HeaderState == DataIsCorrupt || a.BodyState == DataIsCorrupt ||
		a.TrailerState == DataIsCorrupt:
		a.BlockState = DataIsCorrupt
	case a.HeaderState == DataIsClean && a.TrailerState == DataIsClean:
		a.BlockState = DataIsClean
	default:
		a.BlockState = DataStateUnknown
	}
	return a
}

// analyzeFloodFilledBody checks that a freed body still holds the
// flood-fill pattern written at quarantine time.
func analyzeFloodFilledBody(space *memview.Space, info *Info) DataState {
	body, ok := space.Bytes(info.BodyAddr, info.BodySize)
	if !ok {
		return DataStateUnknown
	}
	mismatches := 0
	for _, b := range body {
		if b != FloodFillByte {
			mismatches++
			if mismatches > floodFillSlack {
				return DataIsCorrupt
			}
		}
	}
	return DataIsClean
}
