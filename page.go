// Page files and record framing.
//
// The log is a numbered sequence of page files, page-00000001 onward,
// zero-padded so lexicographic directory order equals page order. Within a
// page every record is an independent frame:
//
//	u32 length (little-endian) | payload bytes
//
// Records never span pages. A frame that ends mid-payload, the footprint
// of a crash during the final append, is reported as ErrTornWrite so
// recovery can stop cleanly at the last intact record.
package quire

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
)

const (
	pagePrefix = "page-"
	frameLen   = 4 // u32 length prefix
)

// pageName formats the file name for page n. Pages are numbered from 1.
func pageName(n int) string {
	return fmt.Sprintf("%s%08d", pagePrefix, n)
}

// pagePath joins the page directory and page file name.
func pagePath(dir string, n int) string {
	return filepath.Join(dir, pageName(n))
}

// lastPageIndex scans dir and returns the highest page number present,
// or 0 when the directory holds no pages yet.
func lastPageIndex(dir string) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, errors.Wrap(err, "read page directory")
	}

	last := 0
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, pagePrefix) {
			continue
		}
		var n int
		if _, err := fmt.Sscanf(name, pagePrefix+"%d", &n); err != nil {
			continue
		}
		if n > last {
			last = n
		}
	}
	return last, nil
}

// frame prepends the little-endian length prefix to a payload.
func frame(payload []byte) []byte {
	out := make([]byte, frameLen+len(payload))
	binary.LittleEndian.PutUint32(out, uint32(len(payload)))
	copy(out[frameLen:], payload)
	return out
}

// pageReader yields the frames of one page in append order.
type pageReader struct {
	f   *os.File
	br  *bufio.Reader
	max int64 // sanity bound for frame lengths
}

// openPageReader opens page n for recovery reads. Returns ErrEndOfLog
// when the page does not exist.
func openPageReader(dir string, n int, pageSize int64) (*pageReader, error) {
	f, err := os.Open(pagePath(dir, n))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrEndOfLog
		}
		return nil, errors.Wrapf(err, "open page %d", n)
	}

	// A single record may exceed the page size when it alone is larger
	// than a page, so the sanity bound is the file size, not pageSize.
	max := pageSize
	if info, err := f.Stat(); err == nil && info.Size() > max {
		max = info.Size()
	}
	return &pageReader{f: f, br: bufio.NewReader(f), max: max}, nil
}

// Next returns the next record payload. io.EOF signals the clean end of
// the page; ErrTornWrite signals a frame cut off mid-write.
func (r *pageReader) Next() ([]byte, error) {
	var hdr [frameLen]byte
	if _, err := io.ReadFull(r.br, hdr[:]); err != nil {
		if err == io.EOF {
			return nil, io.EOF
		}
		// A partial length prefix is a torn final frame.
		if err == io.ErrUnexpectedEOF {
			return nil, ErrTornWrite
		}
		return nil, errors.Wrap(err, "read frame header")
	}

	n := binary.LittleEndian.Uint32(hdr[:])
	if int64(n) > r.max {
		return nil, ErrCorruptRecord
	}

	payload := make([]byte, n)
	if _, err := io.ReadFull(r.br, payload); err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return nil, ErrTornWrite
		}
		return nil, errors.Wrap(err, "read frame payload")
	}
	return payload, nil
}

// Close releases the page file handle.
func (r *pageReader) Close() error {
	return r.f.Close()
}
