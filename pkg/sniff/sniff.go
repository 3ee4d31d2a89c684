// Package sniff detects image headers prepended to HLS media segments and
// computes how many leading bytes must be dropped so the remainder parses as
// a real MPEG-TS, MP4 or AVI stream.
//
// Some origins prefix segment bytes with a fake JPEG, PNG or GIF header to get
// past content-type filters. The detector only matches magic bytes plus a
// 188-byte alignment check; it never decodes the container.
package sniff

import "bytes"

// SampleSize is the number of leading segment bytes the detector looks at.
const SampleSize = 4096

const (
	tsPacketSize = 188
	tsSyncByte   = 0x47
	tsScanWindow = 1024

	// A stream that already starts aligned needs more evidence than an
	// embedded one, which is only searched for once a disguise header matched.
	validSyncCount    = 3
	embeddedSyncCount = 2

	mp4SizeFieldLen = 4
)

// Format names a byte signature the detector knows about.
type Format string

const (
	FormatNone   Format = ""
	FormatJPEG   Format = "jpeg"
	FormatPNG    Format = "png"
	FormatGIF    Format = "gif"
	FormatMPEGTS Format = "mpegts"
	FormatMP4    Format = "mp4"
	FormatAVI    Format = "avi"
)

// Signature is a named magic byte pattern.
type Signature struct {
	Format Format
	Magic  []byte
}

// Disguise headers in match priority order.
var disguises = []Signature{
	{Format: FormatJPEG, Magic: []byte{0xFF, 0xD8, 0xFF}},
	{Format: FormatPNG, Magic: []byte{0x89, 0x50, 0x4E, 0x47}},
	{Format: FormatGIF, Magic: []byte{0x47, 0x49, 0x46}},
}

var (
	ftypTag = []byte("ftyp")
	riffTag = []byte("RIFF")
	aviTag  = []byte("AVI ")
)

// Result describes what the detector found in a sample.
type Result struct {
	// Skip is the number of leading bytes to discard. Always 0 <= Skip <= len(sample).
	Skip int
	// Disguise is the image format the sample started with, if any.
	Disguise Format
	// Container is the video format found at Skip, if any.
	Container Format
}

// Disguised reports whether a fake header was found and stripped.
func (r Result) Disguised() bool {
	return r.Disguise != FormatNone && r.Container != FormatNone
}

// DetectSkip returns the number of leading bytes of buf to discard.
// Unrecognized input yields 0: forwarding unchanged is preferred over guessing.
func DetectSkip(buf []byte) int {
	return Detect(buf).Skip
}

// Detect classifies the first bytes of a segment.
func Detect(buf []byte) Result {
	if len(buf) > SampleSize {
		buf = buf[:SampleSize]
	}

	if isAlignedTS(buf) {
		return Result{Container: FormatMPEGTS}
	}

	if disguise := matchDisguise(buf); disguise != FormatNone {
		offset, container := findContainer(buf)
		if container == FormatNone {
			return Result{Disguise: disguise}
		}
		return Result{Skip: offset, Disguise: disguise, Container: container}
	}

	return Result{Container: matchContainer(buf)}
}

// isAlignedTS reports whether buf starts with at least validSyncCount sync
// bytes on 188-byte boundaries inside the scan window.
func isAlignedTS(buf []byte) bool {
	if len(buf) == 0 || buf[0] != tsSyncByte {
		return false
	}
	limit := min(tsScanWindow, len(buf))
	count := 0
	for off := 0; off < limit; off += tsPacketSize {
		if buf[off] == tsSyncByte {
			count++
		}
	}
	return count >= validSyncCount
}

func matchDisguise(buf []byte) Format {
	for _, sig := range disguises {
		if bytes.HasPrefix(buf, sig.Magic) {
			return sig.Format
		}
	}
	return FormatNone
}

// findContainer searches the whole sample for the real container start.
func findContainer(buf []byte) (int, Format) {
	if len(buf) > mp4SizeFieldLen {
		if i := bytes.Index(buf[mp4SizeFieldLen:], ftypTag); i >= 0 {
			return i, FormatMP4
		}
	}
	if i := bytes.Index(buf, riffTag); i >= 0 {
		return i, FormatAVI
	}
	if i := findEmbeddedTS(buf); i >= 0 {
		return i, FormatMPEGTS
	}
	return 0, FormatNone
}

// findEmbeddedTS returns the first offset holding a sync byte followed by at
// least embeddedSyncCount more on 188-byte strides within the scan window, or -1.
func findEmbeddedTS(buf []byte) int {
	for i := 0; i < len(buf); i++ {
		if buf[i] != tsSyncByte {
			continue
		}
		limit := min(i+tsScanWindow, len(buf))
		found := 0
		for off := i + tsPacketSize; off < limit; off += tsPacketSize {
			if buf[off] == tsSyncByte {
				found++
			}
		}
		if found >= embeddedSyncCount {
			return i
		}
	}
	return -1
}

// matchContainer recognizes a sample that already starts with a container.
func matchContainer(buf []byte) Format {
	switch {
	case len(buf) >= mp4SizeFieldLen+len(ftypTag) && bytes.Equal(buf[mp4SizeFieldLen:mp4SizeFieldLen+len(ftypTag)], ftypTag):
		return FormatMP4
	case bytes.HasPrefix(buf, riffTag) && (len(buf) < 12 || bytes.Equal(buf[8:12], aviTag)):
		return FormatAVI
	case findEmbeddedTS(buf) == 0:
		return FormatMPEGTS
	}
	return FormatNone
}
