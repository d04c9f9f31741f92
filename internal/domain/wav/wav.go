// Package wav assembles raw 16 kHz/16-bit/mono PCM segments into a WAV
// container by prepending a fixed 44-byte RIFF/WAVE header.
package wav

import "encoding/binary"

const (
	sampleRate    = 16000
	bitsPerSample = 16
	channels      = 1
	byteRate      = sampleRate * channels * bitsPerSample / 8
	blockAlign    = channels * bitsPerSample / 8
	headerSize    = 44
)

// Assemble concatenates segments in order and returns a complete WAV file:
// the 44-byte header followed by the PCM payload.
func Assemble(segments [][]byte) []byte {
	dataSize := 0
	for _, s := range segments {
		dataSize += len(s)
	}

	out := make([]byte, headerSize+dataSize)
	writeHeader(out, uint32(dataSize))

	offset := headerSize
	for _, s := range segments {
		copy(out[offset:], s)
		offset += len(s)
	}
	return out
}

func writeHeader(buf []byte, dataSize uint32) {
	copy(buf[0:4], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:8], 36+dataSize)
	copy(buf[8:12], "WAVE")
	copy(buf[12:16], "fmt ")
	binary.LittleEndian.PutUint32(buf[16:20], 16)
	binary.LittleEndian.PutUint16(buf[20:22], 1) // PCM
	binary.LittleEndian.PutUint16(buf[22:24], uint16(channels))
	binary.LittleEndian.PutUint32(buf[24:28], uint32(sampleRate))
	binary.LittleEndian.PutUint32(buf[28:32], uint32(byteRate))
	binary.LittleEndian.PutUint16(buf[32:34], uint16(blockAlign))
	binary.LittleEndian.PutUint16(buf[34:36], uint16(bitsPerSample))
	copy(buf[36:40], "data")
	binary.LittleEndian.PutUint32(buf[40:44], dataSize)
}

// Header describes the parsed fields of a WAV file's fmt/data chunks.
type Header struct {
	SampleRate    int
	Channels      int
	BitsPerSample int
	DataSize      int
}

// Parse reads the 44-byte canonical header produced by Assemble and returns
// its fields plus the PCM payload. It does not attempt to handle WAV files
// with extra chunks or extended fmt sections.
func Parse(b []byte) (Header, []byte, bool) {
	if len(b) < headerSize {
		return Header{}, nil, false
	}
	if string(b[0:4]) != "RIFF" || string(b[8:12]) != "WAVE" || string(b[12:16]) != "fmt " {
		return Header{}, nil, false
	}
	if string(b[36:40]) != "data" {
		return Header{}, nil, false
	}
	h := Header{
		Channels:      int(binary.LittleEndian.Uint16(b[22:24])),
		SampleRate:    int(binary.LittleEndian.Uint32(b[24:28])),
		BitsPerSample: int(binary.LittleEndian.Uint16(b[34:36])),
		DataSize:      int(binary.LittleEndian.Uint32(b[40:44])),
	}
	end := headerSize + h.DataSize
	if end > len(b) {
		end = len(b)
	}
	return h, b[headerSize:end], true
}
