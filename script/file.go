package script

import (
	"os"

	"github.com/ius/corebridge/abi"
)

// NativeFile wraps an *os.File behind the script-surface `File` object:
// construct with a path and an fopen-style mode, then write/flush/close.
// Go separates open flags from permission bits; NewNativeFile accepts
// the classic "r"/"w"/"a"/"r+"/"w+"/"a+" vocabulary and translates it.
type NativeFile struct {
	handle *os.File
}

// NewNativeFile opens filename with fopen-style mode semantics.
func NewNativeFile(filename, mode string) (*NativeFile, error) {
	flag, ok := fopenModeFlags[mode]
	if !ok {
		return nil, abi.Newf(abi.InvalidType, "unsupported file mode %q", mode)
	}
	f, err := os.OpenFile(filename, flag, 0o644)
	if err != nil {
		return nil, abi.Newf(abi.AllocationFailed, "failed to open file (%v)", err)
	}
	return &NativeFile{handle: f}, nil
}

var fopenModeFlags = map[string]int{
	"r":  os.O_RDONLY,
	"r+": os.O_RDWR,
	"w":  os.O_WRONLY | os.O_CREATE | os.O_TRUNC,
	"w+": os.O_RDWR | os.O_CREATE | os.O_TRUNC,
	"a":  os.O_WRONLY | os.O_CREATE | os.O_APPEND,
	"a+": os.O_RDWR | os.O_CREATE | os.O_APPEND,
}

// Write appends either a string's bytes or a raw byte slice.
func (f *NativeFile) Write(value any) error {
	if f.handle == nil {
		return abi.Newf(abi.Unsupported, "file is closed")
	}
	var data []byte
	switch v := value.(type) {
	case string:
		data = []byte(v)
	case []byte:
		data = v
	default:
		return abi.Newf(abi.InvalidType, "argument must be a string or byte array")
	}
	_, err := f.handle.Write(data)
	return err
}

// Flush commits buffered writes; Go's *os.File is unbuffered, so this
// issues an fsync for parity with a buffered-stream flush.
func (f *NativeFile) Flush() error {
	if f.handle == nil {
		return abi.Newf(abi.Unsupported, "file is closed")
	}
	return f.handle.Sync()
}

// Close releases the underlying file handle. Calling Close twice is a
// no-op.
func (f *NativeFile) Close() error {
	if f.handle == nil {
		return nil
	}
	err := f.handle.Close()
	f.handle = nil
	return err
}
