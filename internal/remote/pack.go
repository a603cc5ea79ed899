package remote

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"sort"
)

const (
	// LayerTargetSize is the uncompressed size a layer grows to before
	// a new one is started.
	LayerTargetSize = 5 * 1024 * 1024

	digestLen = 64 // hex sha256
)

// PackObjects packs digest-keyed objects into one or more layer
// payloads. Record format: {digest:64 ascii hex}{len:4 bytes
// big-endian}{bytes}. Objects are packed in digest order so identical
// inputs produce identical layers.
func PackObjects(objects map[string][]byte) [][]byte {
	digests := make([]string, 0, len(objects))
	for d := range objects {
		digests = append(digests, d)
	}
	sort.Strings(digests)

	var layers [][]byte
	var buf bytes.Buffer
	for _, d := range digests {
		data := objects[d]
		buf.WriteString(d)
		binary.Write(&buf, binary.BigEndian, uint32(len(data)))
		buf.Write(data)

		if buf.Len() >= LayerTargetSize {
			layers = append(layers, append([]byte(nil), buf.Bytes()...))
			buf.Reset()
		}
	}
	if buf.Len() > 0 {
		layers = append(layers, append([]byte(nil), buf.Bytes()...))
	}
	return layers
}

// UnpackLayer parses a layer payload written by PackObjects.
func UnpackLayer(data []byte) (map[string][]byte, error) {
	objects := make(map[string][]byte)
	reader := bytes.NewReader(data)

	for reader.Len() > 0 {
		digest := make([]byte, digestLen)
		if _, err := io.ReadFull(reader, digest); err != nil {
			return nil, fmt.Errorf("read digest: %w", err)
		}
		var size uint32
		if err := binary.Read(reader, binary.BigEndian, &size); err != nil {
			return nil, fmt.Errorf("read length: %w", err)
		}
		if int(size) > reader.Len() {
			return nil, fmt.Errorf("truncated record for %s", digest)
		}
		payload := make([]byte, size)
		if _, err := io.ReadFull(reader, payload); err != nil {
			return nil, fmt.Errorf("read payload: %w", err)
		}
		objects[string(digest)] = payload
	}
	return objects, nil
}
