package archive

import (
	"encoding/binary"
	"os"

	"golang.org/x/sys/unix"
)

// store is the mmap-backed frame log: a 64-byte header followed by
// contiguous, never-rewritten frames. It owns the file's single mmap
// region for its entire open lifetime.
type store struct {
	file     *os.File
	data     []byte
	capacity uint64
	writePos uint64
	msgCount uint64
	sync     Sync
}

// openStore opens or creates the frame log at path, mmapping it for
// its full capacity up front so append never needs to remap. It
// reports whether the file was freshly created.
func openStore(path string, capacity uint64, sync Sync) (*store, bool, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, false, err
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, false, err
	}

	fresh := info.Size() == 0
	if uint64(info.Size()) < capacity {
		if err := f.Truncate(int64(capacity)); err != nil {
			f.Close()
			return nil, false, err
		}
	}

	data, err := unix.Mmap(int(f.Fd()), 0, int(capacity), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		f.Close()
		return nil, false, err
	}

	s := &store{file: f, data: data, capacity: capacity, sync: sync}
	if fresh {
		s.writePos = headerSize
		s.writeHeader()
	} else if err := s.readHeader(); err != nil {
		unix.Munmap(data)
		f.Close()
		return nil, false, err
	}
	return s, fresh, nil
}

func (s *store) readHeader() error {
	if string(s.data[0:8]) != archiveMagic {
		return ErrArchiveCorrupt
	}
	if binary.LittleEndian.Uint32(s.data[8:12]) != archiveVersion {
		return ErrArchiveCorrupt
	}
	s.writePos = binary.LittleEndian.Uint64(s.data[16:24])
	s.msgCount = binary.LittleEndian.Uint64(s.data[24:32])
	if s.writePos < headerSize || s.writePos > s.capacity {
		return ErrArchiveCorrupt
	}
	return nil
}

func (s *store) writeHeader() {
	copy(s.data[0:8], archiveMagic)
	binary.LittleEndian.PutUint32(s.data[8:12], archiveVersion)
	binary.LittleEndian.PutUint32(s.data[12:16], 0) // reserved
	binary.LittleEndian.PutUint64(s.data[16:24], s.writePos)
	binary.LittleEndian.PutUint64(s.data[24:32], s.msgCount)
}

// append writes length+crc32+payload at the current write position
// and advances writePos/msgCount in memory. In Synchronous mode it
// also syncs the written range and the header before returning.
func (s *store) append(payload []byte) (offset uint64, err error) {
	need := uint64(frameHeaderSize + len(payload))
	if s.writePos+need > s.capacity {
		return 0, ErrArchiveFull
	}

	offset = s.writePos
	binary.LittleEndian.PutUint32(s.data[offset:offset+4], uint32(len(payload)))
	binary.LittleEndian.PutUint32(s.data[offset+4:offset+8], checksum(payload))
	copy(s.data[offset+8:offset+8+uint64(len(payload))], payload)

	s.writePos += need
	s.msgCount++

	if s.sync == Synchronous {
		s.writeHeader()
		if err := s.syncAll(); err != nil {
			return 0, err
		}
	}
	return offset, nil
}

// frameAt reads the length-prefixed frame starting at offset, without
// copying the payload out of the mmap'd region.
func (s *store) frameAt(offset uint64) (payload []byte, crc uint32) {
	length := binary.LittleEndian.Uint32(s.data[offset : offset+4])
	crc = binary.LittleEndian.Uint32(s.data[offset+4 : offset+8])
	payload = s.data[offset+8 : offset+8+uint64(length)]
	return payload, crc
}

// flush performs an OS-level sync of the data region, then rewrites
// and syncs the header last so that write_pos/msg_count are never
// observed ahead of the frames they describe.
func (s *store) flush() error {
	if err := s.syncAll(); err != nil {
		return err
	}
	s.writeHeader()
	return s.syncAll()
}

func (s *store) syncAll() error {
	return unix.Msync(s.data, unix.MS_SYNC)
}

func (s *store) close() error {
	if err := unix.Munmap(s.data); err != nil {
		return err
	}
	return s.file.Close()
}

// recover scans frames beyond the last known-good write position,
// opportunistically extending writePos/msgCount over every
// structurally valid trailing frame (length in range, CRC matches)
// until it hits a zero length or a corrupt frame. It returns the
// offsets of every recovered frame, in order, for the index to adopt.
func (s *store) recover() ([]uint64, error) {
	var recovered []uint64
	pos := s.writePos
	for pos+frameHeaderSize <= s.capacity {
		length := binary.LittleEndian.Uint32(s.data[pos : pos+4])
		if length == 0 {
			break
		}
		end := pos + frameHeaderSize + uint64(length)
		if end > s.capacity {
			break
		}
		crc := binary.LittleEndian.Uint32(s.data[pos+4 : pos+8])
		payload := s.data[pos+8 : end]
		if checksum(payload) != crc {
			break
		}
		recovered = append(recovered, pos)
		pos = end
		s.msgCount++
	}
	s.writePos = pos
	return recovered, nil
}
