package artifact

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"slices"
)

// Container file layout, little endian:
//
//	magic "RGPU" | version u32 | entry count u32
//	per entry:   name, stage, metadata, each as u32 length + bytes
//	per entry:   blob offset u64 | blob length u64, relative to the blob region
//	blob region: one blob per entry, in entry order
const (
	Magic         = "RGPU"
	FormatVersion = uint32(1)

	// File extension used for container output
	Extension = ".spvpack"
)

var (
	// ErrBadMagic is returned when the data does not start with Magic
	ErrBadMagic = errors.New("artifact: not a combined artifact (bad magic)")

	// ErrUnsupportedVersion is returned for a format version this build cannot read
	ErrUnsupportedVersion = errors.New("artifact: unsupported format version")

	// ErrCorrupt is returned when lengths or ranges point outside the data
	ErrCorrupt = errors.New("artifact: corrupt combined artifact")
)

// Container is the combined artifact: every entry point of a build with its
// metadata and binary in one file
type Container struct {
	Entries []Entry
}

// Encode writes the container. The index is reserved before the blobs are
// streamed and filled in afterwards, so w must support seeking back.
func (c *Container) Encode(w io.WriteSeeker) error {
	start, err := w.Seek(0, io.SeekCurrent)
	if err != nil {
		return fmt.Errorf("locating write position: %w", err)
	}

	var header []byte
	header = append(header, Magic...)
	header = binary.LittleEndian.AppendUint32(header, FormatVersion)
	header = binary.LittleEndian.AppendUint32(header, uint32(len(c.Entries)))

	for _, e := range c.Entries {
		header = appendBytes(header, []byte(e.Name))
		header = appendBytes(header, []byte(e.Stage))
		header = appendBytes(header, e.Metadata)
	}

	indexPos := start + int64(len(header))
	header = append(header, make([]byte, 16*len(c.Entries))...)

	if _, err := w.Write(header); err != nil {
		return fmt.Errorf("writing header: %w", err)
	}

	index := make([]byte, 0, 16*len(c.Entries))
	var offset uint64

	for _, e := range c.Entries {
		if _, err := w.Write(e.Blob); err != nil {
			return fmt.Errorf("writing blob for %s: %w", e.Name, err)
		}

		index = binary.LittleEndian.AppendUint64(index, offset)
		index = binary.LittleEndian.AppendUint64(index, uint64(len(e.Blob)))
		offset += uint64(len(e.Blob))
	}

	end, err := w.Seek(0, io.SeekCurrent)
	if err != nil {
		return fmt.Errorf("locating end of blobs: %w", err)
	}

	if _, err := w.Seek(indexPos, io.SeekStart); err != nil {
		return fmt.Errorf("seeking to index: %w", err)
	}

	if _, err := w.Write(index); err != nil {
		return fmt.Errorf("writing index: %w", err)
	}

	if _, err := w.Seek(end, io.SeekStart); err != nil {
		return fmt.Errorf("seeking to end: %w", err)
	}

	return nil
}

func appendBytes(dst, b []byte) []byte {
	dst = binary.LittleEndian.AppendUint32(dst, uint32(len(b)))
	return append(dst, b...)
}

type reader struct {
	data []byte
	pos  int
}

func (r *reader) take(n int) ([]byte, error) {
	if n < 0 || n > len(r.data)-r.pos {
		return nil, fmt.Errorf("%w: need %d bytes at offset %d, have %d", ErrCorrupt, n, r.pos, len(r.data)-r.pos)
	}

	b := r.data[r.pos : r.pos+n]
	r.pos += n
	return b, nil
}

func (r *reader) uint32() (uint32, error) {
	b, err := r.take(4)
	if err != nil {
		return 0, err
	}

	return binary.LittleEndian.Uint32(b), nil
}

func (r *reader) uint64() (uint64, error) {
	b, err := r.take(8)
	if err != nil {
		return 0, err
	}

	return binary.LittleEndian.Uint64(b), nil
}

func (r *reader) bytes() ([]byte, error) {
	n, err := r.uint32()
	if err != nil {
		return nil, err
	}

	return r.take(int(n))
}

// Parse reads a combined artifact. Magic and version are checked before
// anything else. Returned slices alias data.
func Parse(data []byte) (*Container, error) {
	r := &reader{data: data}

	magic, err := r.take(len(Magic))
	if err != nil || string(magic) != Magic {
		return nil, ErrBadMagic
	}

	version, err := r.uint32()
	if err != nil {
		return nil, err
	}

	if version != FormatVersion {
		return nil, fmt.Errorf("%w: %d (this build reads %d)", ErrUnsupportedVersion, version, FormatVersion)
	}

	count, err := r.uint32()
	if err != nil {
		return nil, err
	}

	// Every entry needs at least three length prefixes and an index slot
	if uint64(count)*28 > uint64(len(data)-r.pos) {
		return nil, fmt.Errorf("%w: %d entries cannot fit in %d bytes", ErrCorrupt, count, len(data))
	}

	entries := make([]Entry, count)
	for i := range entries {
		name, err := r.bytes()
		if err != nil {
			return nil, err
		}

		stage, err := r.bytes()
		if err != nil {
			return nil, err
		}

		metadata, err := r.bytes()
		if err != nil {
			return nil, err
		}

		entries[i].Name = string(name)
		entries[i].Stage = string(stage)
		entries[i].Metadata = metadata
	}

	type span struct{ offset, length uint64 }
	spans := make([]span, count)

	for i := range spans {
		if spans[i].offset, err = r.uint64(); err != nil {
			return nil, err
		}
		if spans[i].length, err = r.uint64(); err != nil {
			return nil, err
		}
	}

	region := data[r.pos:]
	for i, s := range spans {
		if s.offset > uint64(len(region)) || s.length > uint64(len(region))-s.offset {
			return nil, fmt.Errorf("%w: entry %q range [%d, +%d) outside blob region of %d bytes",
				ErrCorrupt, entries[i].Name, s.offset, s.length, len(region))
		}

		entries[i].Blob = region[s.offset : s.offset+s.length]
	}

	// Empty blobs occupy no bytes and cannot overlap anything
	sorted := slices.DeleteFunc(slices.Clone(spans), func(s span) bool { return s.length == 0 })
	slices.SortFunc(sorted, func(a, b span) int {
		switch {
		case a.offset < b.offset:
			return -1
		case a.offset > b.offset:
			return 1
		default:
			return 0
		}
	})

	for i := 1; i < len(sorted); i++ {
		prev := sorted[i-1]
		if prev.offset+prev.length > sorted[i].offset {
			return nil, fmt.Errorf("%w: overlapping blob ranges", ErrCorrupt)
		}
	}

	return &Container{Entries: entries}, nil
}

// Lookup returns the entry with the given name
func (c *Container) Lookup(name string) (Entry, bool) {
	for _, e := range c.Entries {
		if e.Name == name {
			return e, true
		}
	}

	return Entry{}, false
}
