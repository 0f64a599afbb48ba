package metastamp

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
)

// asciiPrefix is the 8-byte character-code prefix EXIF requires on a
// UserComment value to mark its text encoding.
const asciiPrefix = "ASCII\x00\x00\x00"

const (
	markerSOI = 0xFFD8
	markerEOI = 0xFFD9
	markerSOS = 0xFFDA
	markerAPP1 = 0xFFE1
)

const (
	tagExifIFDPointer = 0x8769
	tagUserComment    = 0x9286
	typeLong          = 4
	typeUndefined     = 7
)

// Tags is the flat key/value map carried in a stamp (e.g. {"copyright":
// "s<tokens>"}), wrapped as {"deepmark": Tags} in the UserComment JSON.
type Tags map[string]string

type deepmarkEnvelope struct {
	Deepmark Tags `json:"deepmark"`
}

// ReadImageStamp locates the EXIF UserComment in a JPEG byte stream,
// strips the ASCII prefix, and parses it as {"deepmark": {...}} JSON. ok
// is false if there is no EXIF, no UserComment, or the UserComment does
// not contain a deepmark object — all are "no stamp", not an error.
func ReadImageStamp(jpeg []byte) (Tags, bool) {
	exif, ok := findExifSegment(jpeg)
	if !ok {
		return nil, false
	}
	comment, ok := readUserComment(exif)
	if !ok {
		return nil, false
	}
	comment = stripASCIIPrefix(comment)

	var env deepmarkEnvelope
	if err := json.Unmarshal(comment, &env); err != nil || env.Deepmark == nil {
		return nil, false
	}
	return env.Deepmark, true
}

// WriteImageStamp returns a copy of jpeg with a UserComment EXIF segment
// set to {"deepmark": tags}, prefixed with asciiPrefix. Any existing EXIF
// (APP1) segment is replaced outright; this implementation only round-trips
// its own deepmark tag, not arbitrary pre-existing EXIF fields (see
// DESIGN.md).
func WriteImageStamp(jpeg []byte, tags Tags) ([]byte, error) {
	env := deepmarkEnvelope{Deepmark: tags}
	body, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("metastamp: marshal deepmark tags: %w", err)
	}
	comment := append([]byte(asciiPrefix), body...)

	app1, err := buildExifSegment(comment)
	if err != nil {
		return nil, err
	}
	return spliceExifSegment(jpeg, app1)
}

func stripASCIIPrefix(b []byte) []byte {
	if len(b) >= len(asciiPrefix) && string(b[:len(asciiPrefix)]) == asciiPrefix {
		return b[len(asciiPrefix):]
	}
	return b
}

// findExifSegment scans JPEG markers for the first APP1 segment carrying
// an "Exif\x00\x00" payload and returns the TIFF bytes that follow it.
func findExifSegment(jpeg []byte) ([]byte, bool) {
	if len(jpeg) < 4 || binary.BigEndian.Uint16(jpeg[0:2]) != markerSOI {
		return nil, false
	}
	pos := 2
	for pos+4 <= len(jpeg) {
		marker := binary.BigEndian.Uint16(jpeg[pos : pos+2])
		if marker == markerSOS || marker == markerEOI {
			return nil, false
		}
		segLen := int(binary.BigEndian.Uint16(jpeg[pos+2 : pos+4]))
		if segLen < 2 || pos+2+segLen > len(jpeg) {
			return nil, false
		}
		payload := jpeg[pos+4 : pos+2+segLen]
		if marker == markerAPP1 && len(payload) >= 6 && string(payload[:6]) == "Exif\x00\x00" {
			return payload[6:], true
		}
		pos += 2 + segLen
	}
	return nil, false
}

func readUserComment(tiff []byte) ([]byte, bool) {
	if len(tiff) < 8 || string(tiff[0:2]) != "II" {
		return nil, false
	}
	ifd0Off := binary.LittleEndian.Uint32(tiff[4:8])
	exifIFDOff, ok := findIFDEntryValue(tiff, ifd0Off, tagExifIFDPointer)
	if !ok {
		return nil, false
	}
	entry, ok := findIFDEntry(tiff, uint32(exifIFDOff), tagUserComment)
	if !ok {
		return nil, false
	}
	count := entry.count
	if count <= 4 {
		return entry.inlineValue[:count], true
	}
	offset := entry.valueOrOffset
	if uint64(offset)+uint64(count) > uint64(len(tiff)) {
		return nil, false
	}
	return tiff[offset : offset+count], true
}

type ifdEntry struct {
	tag, typ      uint16
	count         uint32
	valueOrOffset uint32
	inlineValue   [4]byte
}

func findIFDEntry(tiff []byte, ifdOffset uint32, wantTag uint16) (ifdEntry, bool) {
	if uint64(ifdOffset)+2 > uint64(len(tiff)) {
		return ifdEntry{}, false
	}
	n := binary.LittleEndian.Uint16(tiff[ifdOffset : ifdOffset+2])
	base := ifdOffset + 2
	for i := uint16(0); i < n; i++ {
		off := base + uint32(i)*12
		if uint64(off)+12 > uint64(len(tiff)) {
			return ifdEntry{}, false
		}
		tag := binary.LittleEndian.Uint16(tiff[off : off+2])
		if tag != wantTag {
			continue
		}
		e := ifdEntry{
			tag:   tag,
			typ:   binary.LittleEndian.Uint16(tiff[off+2 : off+4]),
			count: binary.LittleEndian.Uint32(tiff[off+4 : off+8]),
		}
		copy(e.inlineValue[:], tiff[off+8:off+12])
		e.valueOrOffset = binary.LittleEndian.Uint32(tiff[off+8 : off+12])
		return e, true
	}
	return ifdEntry{}, false
}

func findIFDEntryValue(tiff []byte, ifdOffset uint32, wantTag uint16) (uint32, bool) {
	e, ok := findIFDEntry(tiff, ifdOffset, wantTag)
	if !ok {
		return 0, false
	}
	return e.valueOrOffset, true
}

// buildExifSegment constructs a full APP1 "Exif\x00\x00" segment (marker +
// length + payload) containing a minimal little-endian TIFF structure:
// IFD0 with a single ExifIFDPointer entry, an Exif IFD with a single
// UserComment entry, and the comment bytes themselves.
func buildExifSegment(comment []byte) ([]byte, error) {
	const (
		headerLen = 8
		ifdLen    = 2 + 12 + 4 // count + one entry + next-IFD offset
	)
	ifd0Off := uint32(headerLen)
	exifIFDOff := ifd0Off + ifdLen
	commentOff := exifIFDOff + ifdLen

	var tiff []byte
	tiff = append(tiff, "II"...)
	tiff = binary.LittleEndian.AppendUint16(tiff, 0x002A)
	tiff = binary.LittleEndian.AppendUint32(tiff, ifd0Off)

	// IFD0: one entry, ExifIFDPointer -> exifIFDOff.
	tiff = binary.LittleEndian.AppendUint16(tiff, 1)
	tiff = appendIFDEntry(tiff, tagExifIFDPointer, typeLong, 1, exifIFDOff)
	tiff = binary.LittleEndian.AppendUint32(tiff, 0) // no next IFD

	// Exif IFD: one entry, UserComment -> commentOff, count=len(comment).
	tiff = binary.LittleEndian.AppendUint16(tiff, 1)
	tiff = appendIFDEntry(tiff, tagUserComment, typeUndefined, uint32(len(comment)), commentOff)
	tiff = binary.LittleEndian.AppendUint32(tiff, 0)

	tiff = append(tiff, comment...)

	payload := append([]byte("Exif\x00\x00"), tiff...)
	segLen := 2 + len(payload)
	if segLen > 0xFFFF {
		return nil, fmt.Errorf("metastamp: exif segment too large (%d bytes)", segLen)
	}

	seg := make([]byte, 0, 4+len(payload))
	seg = binary.BigEndian.AppendUint16(seg, markerAPP1)
	seg = binary.BigEndian.AppendUint16(seg, uint16(segLen))
	seg = append(seg, payload...)
	return seg, nil
}

func appendIFDEntry(tiff []byte, tag, typ uint16, count, valueOrOffset uint32) []byte {
	tiff = binary.LittleEndian.AppendUint16(tiff, tag)
	tiff = binary.LittleEndian.AppendUint16(tiff, typ)
	tiff = binary.LittleEndian.AppendUint32(tiff, count)
	tiff = binary.LittleEndian.AppendUint32(tiff, valueOrOffset)
	return tiff
}

// spliceExifSegment inserts app1 immediately after the SOI marker,
// removing any pre-existing APP1 Exif segment so the result carries
// exactly one.
func spliceExifSegment(jpeg []byte, app1 []byte) ([]byte, error) {
	if len(jpeg) < 2 || binary.BigEndian.Uint16(jpeg[0:2]) != markerSOI {
		return nil, fmt.Errorf("metastamp: not a JPEG stream (missing SOI marker)")
	}
	out := make([]byte, 0, len(jpeg)+len(app1))
	out = append(out, jpeg[0:2]...)
	out = append(out, app1...)

	pos := 2
	for pos+4 <= len(jpeg) {
		marker := binary.BigEndian.Uint16(jpeg[pos : pos+2])
		if marker == markerSOS {
			out = append(out, jpeg[pos:]...)
			return out, nil
		}
		segLen := int(binary.BigEndian.Uint16(jpeg[pos+2 : pos+4]))
		if segLen < 2 || pos+2+segLen > len(jpeg) {
			return nil, fmt.Errorf("metastamp: malformed JPEG segment at offset %d", pos)
		}
		payload := jpeg[pos+4 : pos+2+segLen]
		if marker == markerAPP1 && len(payload) >= 6 && string(payload[:6]) == "Exif\x00\x00" {
			pos += 2 + segLen
			continue // drop the old Exif segment
		}
		out = append(out, jpeg[pos:pos+2+segLen]...)
		pos += 2 + segLen
	}
	return nil, fmt.Errorf("metastamp: JPEG stream ended before SOS marker")
}
