package media

import (
	"bytes"
	"image"
	"image/jpeg"

	"lancast/pkg/optimize"
)

// encoder scratch buffers; a 4K still rarely exceeds a few MiB
var bufPool = optimize.NewBufferPool(8 << 20)

// datagrams are read into pooled buffers so receiver restarts do not allocate
var datagramPool = optimize.NewBytePool(maxDatagram)

// encodeJPEG returns a freshly allocated JPEG of img.
func encodeJPEG(img image.Image, quality int) ([]byte, error) {
	buf := bufPool.Get()
	defer bufPool.Put(buf)

	if err := jpeg.Encode(buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, err
	}
	return bytes.Clone(buf.Bytes()), nil
}

// isJPEG checks for the start-of-image marker.
func isJPEG(b []byte) bool {
	return len(b) > 2 && b[0] == 0xff && b[1] == 0xd8
}
