package wire

import (
	"bytes"
	"compress/zlib"
	"errors"
	"io"
)

// CompressThreshold is the payload size, in bytes, at or above which
// MaybeCompress attempts deflate before a DATA frame is fragmented
// and sent.
const CompressThreshold = 512

// CompressLevel is the zlib compression level used by MaybeCompress.
const CompressLevel = 6

// maxDecompressedSize bounds Decompress's output to guard against a
// peer sending a small, highly-compressible payload that would
// otherwise expand without bound.
const maxDecompressedSize = 10 * 1024 * 1024

var errDecompressionBomb = errors.New("wire: decompressed payload exceeds size limit")

// MaybeCompress deflates data when it is at least CompressThreshold
// bytes. It returns the original slice and false when compression
// would not shrink the payload, so the caller never pays the flag
// overhead for data that doesn't benefit.
func MaybeCompress(data []byte) ([]byte, bool) {
	if len(data) < CompressThreshold {
		return data, false
	}

	var buf bytes.Buffer
	w, err := zlib.NewWriterLevel(&buf, CompressLevel)
	if err != nil {
		return data, false
	}
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return data, false
	}
	if err := w.Close(); err != nil {
		return data, false
	}

	if buf.Len() >= len(data) {
		return data, false
	}
	return buf.Bytes(), true
}

// Decompress inflates data that was produced by MaybeCompress.
func Decompress(data []byte) ([]byte, error) {
	r, err := zlib.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer r.Close()

	var out bytes.Buffer
	limited := io.LimitReader(r, maxDecompressedSize+1)
	if _, err := io.Copy(&out, limited); err != nil {
		return nil, err
	}
	if out.Len() > maxDecompressedSize {
		return nil, errDecompressionBomb
	}
	return out.Bytes(), nil
}
