package archive

import (
	"context"
	"encoding/binary"
	"path/filepath"
	"sync/atomic"

	"github.com/bugthesystem/kaos/metrics"
)

// Config configures a new or reopened Archive.
type Config struct {
	// Capacity bounds the frame log's maximum size in bytes, header included.
	Capacity uint64
	// Sync selects the durability mode (see format.go).
	Sync Sync
	// Metrics, if non-nil, receives frame/flush/checksum counters and
	// write_pos/msg_count gauges.
	Metrics *metrics.Registry
}

// Archive assembles a frame store and its parallel index behind
// append/read/replay/flush and a crash-recovery path opened at
// construction. It has exactly one producer; any number of readers
// may call Read/Replay concurrently, bounded by the msgCount most
// recently published by Flush.
type Archive struct {
	st *store
	ix *index

	// msgCount is the release-stored fence readers acquire-load to
	// bound Read/Replay to durable frames. It is only advanced by
	// Flush (Buffered mode) or immediately after each Append
	// (Synchronous mode, since every append is already durable there).
	msgCount atomic.Uint64

	metrics *metrics.Registry
}

// Open opens (creating if necessary) the two files `<name>.log` and
// `<name>.idx` in dir, recovering from an unclean shutdown if needed.
func Open(dir, name string, cfg Config) (*Archive, error) {
	logPath := filepath.Join(dir, name+".log")
	idxPath := filepath.Join(dir, name+".idx")

	st, fresh, err := openStore(logPath, cfg.Capacity, cfg.Sync)
	if err != nil {
		return nil, err
	}

	// Smallest possible frame is header-only (zero-length payload),
	// so capacity/frameHeaderSize is a safe upper bound on entry count.
	maxEntries := cfg.Capacity / frameHeaderSize
	ix, err := openIndex(idxPath, maxEntries)
	if err != nil {
		st.close()
		return nil, err
	}

	a := &Archive{st: st, ix: ix, metrics: cfg.Metrics}

	if !fresh {
		if err := a.recoverIndex(); err != nil {
			a.Close()
			return nil, err
		}
	}
	a.msgCount.Store(a.ix.len)
	a.metrics.SetArchiveState(float64(a.st.writePos), float64(a.msgCount.Load()))
	return a, nil
}

// recoverIndex restores the invariant that the index has exactly one
// entry per durable frame. If the index trails the store's own
// last-synced msgCount (e.g. the index file was lost or is stale), it
// is rebuilt by scanning the store from the first frame. Frames
// written after the last flush are not adopted: the message count
// stays at the last-synced header value and the next Append writes
// over them.
func (a *Archive) recoverIndex() error {
	if a.ix.len < a.st.msgCount {
		a.ix.truncate(0)
		pos := uint64(headerSize)
		for a.ix.len < a.st.msgCount {
			length := binary.LittleEndian.Uint32(a.st.data[pos : pos+4])
			if err := a.ix.append(pos, length); err != nil {
				return err
			}
			pos += uint64(frameHeaderSize) + uint64(length)
		}
	}
	return nil
}

// Append stores payload as the next frame and returns its assigned
// sequence number (0-based within this archive). Fails with
// ErrArchiveFull if the frame would exceed the configured capacity or
// index entry budget.
func (a *Archive) Append(payload []byte) (uint64, error) {
	offset, err := a.st.append(payload)
	if err != nil {
		return 0, err
	}
	seq := a.ix.len
	if err := a.ix.append(offset, uint32(len(payload))); err != nil {
		return 0, err
	}
	a.metrics.IncArchiveFramesAppended()

	if a.st.sync == Synchronous {
		if err := a.ix.flush(); err != nil {
			return 0, err
		}
		a.msgCount.Store(a.ix.len)
	}
	a.metrics.SetArchiveState(float64(a.st.writePos), float64(a.msgCount.Load()))
	return seq, nil
}

// Read returns a zero-copy slice into the mmap'd frame for seq.
// Fails with ErrNotFound when seq is at or beyond the archive's
// currently durable message count.
func (a *Archive) Read(seq uint64) ([]byte, error) {
	if seq >= a.msgCount.Load() {
		return nil, ErrNotFound
	}
	offset, _, ok := a.ix.get(seq)
	if !ok {
		return nil, ErrNotFound
	}
	payload, _ := a.st.frameAt(offset)
	return payload, nil
}

// ReadChecked behaves like Read but also verifies the frame's stored
// CRC32, returning ErrChecksumMismatch if it does not match.
func (a *Archive) ReadChecked(seq uint64) ([]byte, error) {
	if seq >= a.msgCount.Load() {
		return nil, ErrNotFound
	}
	offset, _, ok := a.ix.get(seq)
	if !ok {
		return nil, ErrNotFound
	}
	payload, crc := a.st.frameAt(offset)
	if checksum(payload) != crc {
		a.metrics.IncArchiveChecksumMismatch()
		return nil, ErrChecksumMismatch
	}
	return payload, nil
}

// Replay invokes handler(seq, payload) for each frame in [from, to) in
// order, reading only frames durable as of the msgCount snapshot taken
// at entry — it is independent of any concurrent writer growth and of
// the Reliable Transport's send-window eviction.
func (a *Archive) Replay(ctx context.Context, from, to uint64, handler func(seq uint64, payload []byte) error) error {
	snapshot := a.msgCount.Load()
	if to > snapshot {
		to = snapshot
	}
	for seq := from; seq < to; seq++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		payload, err := a.Read(seq)
		if err != nil {
			return err
		}
		if err := handler(seq, payload); err != nil {
			return err
		}
	}
	return nil
}

// Flush syncs the data file and the index file, then rewrites and
// syncs the store's header region last, publishing the new msgCount
// fence for concurrent readers. This is the archive's only
// unconditionally blocking call.
func (a *Archive) Flush() error {
	if err := a.ix.flush(); err != nil {
		return err
	}
	if err := a.st.flush(); err != nil {
		return err
	}
	a.msgCount.Store(a.ix.len)
	a.metrics.IncArchiveFlush()
	a.metrics.SetArchiveState(float64(a.st.writePos), float64(a.msgCount.Load()))
	return nil
}

// MsgCount returns the most recently published durable frame count.
func (a *Archive) MsgCount() uint64 { return a.msgCount.Load() }

// Close unmaps and closes both files. It is not safe to call
// concurrently with any other Archive method.
func (a *Archive) Close() error {
	ixErr := a.ix.close()
	stErr := a.st.close()
	if ixErr != nil {
		return ixErr
	}
	return stErr
}
