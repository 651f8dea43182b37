package machomapper

import "bytes"

// newByteReaderAt adapts an in-memory image to the io.ReaderAt go-macho
// expects, since images here are already fully read into memory by the
// ImageLoader collaborator rather than opened from a path.
func newByteReaderAt(raw []byte) *bytes.Reader {
	return bytes.NewReader(raw)
}
