package archive

import (
	"encoding/binary"
	"os"

	"golang.org/x/sys/unix"
)

// index is the mmap-backed parallel file of fixed-size {offset,
// length} records. Entry i describes the frame with sequence i
// (0-based within this archive).
type index struct {
	file            *os.File
	data            []byte
	capacityEntries uint64
	len             uint64
}

// openIndex opens or creates the index file at path, sized up front
// to hold capacityEntries records.
func openIndex(path string, capacityEntries uint64) (*index, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, err
	}

	size := capacityEntries * indexEntrySize
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	if uint64(info.Size()) < size {
		if err := f.Truncate(int64(size)); err != nil {
			f.Close()
			return nil, err
		}
	}

	data, err := unix.Mmap(int(f.Fd()), 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		f.Close()
		return nil, err
	}

	return &index{file: f, data: data, capacityEntries: capacityEntries}, nil
}

func (ix *index) append(offset uint64, length uint32) error {
	if ix.len >= ix.capacityEntries {
		return ErrArchiveFull
	}
	base := ix.len * indexEntrySize
	binary.LittleEndian.PutUint64(ix.data[base:base+8], offset)
	binary.LittleEndian.PutUint32(ix.data[base+8:base+12], length)
	binary.LittleEndian.PutUint32(ix.data[base+12:base+16], 0) // reserved
	ix.len++
	return nil
}

func (ix *index) get(i uint64) (offset uint64, length uint32, ok bool) {
	if i >= ix.len {
		return 0, 0, false
	}
	base := i * indexEntrySize
	offset = binary.LittleEndian.Uint64(ix.data[base : base+8])
	length = binary.LittleEndian.Uint32(ix.data[base+8 : base+12])
	return offset, length, true
}

// truncate resets the logical length without zeroing the backing
// file; entries beyond n are simply no longer addressable until
// overwritten by a future append.
func (ix *index) truncate(n uint64) { ix.len = n }

func (ix *index) flush() error {
	return unix.Msync(ix.data, unix.MS_SYNC)
}

func (ix *index) close() error {
	if err := unix.Munmap(ix.data); err != nil {
		return err
	}
	return ix.file.Close()
}

// rebuildTail appends one index entry per recovered store offset, by
// reading each frame's length directly out of the store's mmap'd data.
func (ix *index) rebuildTail(st *store, offsets []uint64) error {
	for _, off := range offsets {
		length := binary.LittleEndian.Uint32(st.data[off : off+4])
		if err := ix.append(off, length); err != nil {
			return err
		}
	}
	return nil
}
