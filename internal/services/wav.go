package services

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
)

// WAV is a parsed PCM WAV file.
type WAV struct {
	SampleRate    int
	Channels      int
	BitsPerSample int
	Data          []byte
}

// WAVSegment is one fixed-length slice of a WAV, re-encoded as a standalone file.
type WAVSegment struct {
	Index int
	Start float64
	End   float64
	Bytes []byte
}

func ParseWAV(b []byte) (*WAV, error) {
	if len(b) < 12 || string(b[0:4]) != "RIFF" || string(b[8:12]) != "WAVE" {
		return nil, fmt.Errorf("not a RIFF/WAVE file")
	}

	w := &WAV{}
	var haveFmt bool
	pos := 12
	for pos+8 <= len(b) {
		id := string(b[pos : pos+4])
		size := int(binary.LittleEndian.Uint32(b[pos+4 : pos+8]))
		body := pos + 8
		end := body + size
		if end > len(b) {
			// ffmpeg writes a placeholder size when streaming; trust the file length.
			end = len(b)
		}

		switch id {
		case "fmt ":
			if end-body < 16 {
				return nil, fmt.Errorf("fmt chunk too short")
			}
			format := binary.LittleEndian.Uint16(b[body : body+2])
			if format != 1 && format != 0xFFFE {
				return nil, fmt.Errorf("unsupported WAV encoding %d", format)
			}
			w.Channels = int(binary.LittleEndian.Uint16(b[body+2 : body+4]))
			w.SampleRate = int(binary.LittleEndian.Uint32(b[body+4 : body+8]))
			w.BitsPerSample = int(binary.LittleEndian.Uint16(b[body+14 : body+16]))
			haveFmt = true
		case "data":
			w.Data = b[body:end]
		}

		pos = end + size%2
	}

	if !haveFmt || w.Data == nil {
		return nil, fmt.Errorf("WAV file missing fmt or data chunk")
	}
	if w.SampleRate == 0 || w.frameSize() == 0 {
		return nil, fmt.Errorf("WAV header has zero channels, rate or depth")
	}
	return w, nil
}

func (w *WAV) frameSize() int {
	return w.Channels * w.BitsPerSample / 8
}

// Duration in seconds.
func (w *WAV) Duration() float64 {
	return float64(len(w.Data)/w.frameSize()) / float64(w.SampleRate)
}

// Split cuts the audio into consecutive segments of at most seconds each.
func (w *WAV) Split(seconds float64) []WAVSegment {
	frames := len(w.Data) / w.frameSize()
	perSegment := int(math.Round(seconds * float64(w.SampleRate)))
	if perSegment <= 0 || frames == 0 {
		return nil
	}

	var segments []WAVSegment
	for start := 0; start < frames; start += perSegment {
		end := start + perSegment
		if end > frames {
			end = frames
		}
		pcm := w.Data[start*w.frameSize() : end*w.frameSize()]
		segments = append(segments, WAVSegment{
			Index: len(segments),
			Start: float64(start) / float64(w.SampleRate),
			End:   float64(end) / float64(w.SampleRate),
			Bytes: EncodeWAV(w.SampleRate, w.Channels, w.BitsPerSample, pcm),
		})
	}
	return segments
}

// EncodeWAV wraps raw PCM samples in a canonical 44-byte header.
func EncodeWAV(sampleRate, channels, bitsPerSample int, pcm []byte) []byte {
	var buf bytes.Buffer
	blockAlign := channels * bitsPerSample / 8

	buf.WriteString("RIFF")
	binary.Write(&buf, binary.LittleEndian, uint32(36+len(pcm)))
	buf.WriteString("WAVE")
	buf.WriteString("fmt ")
	binary.Write(&buf, binary.LittleEndian, uint32(16))
	binary.Write(&buf, binary.LittleEndian, uint16(1))
	binary.Write(&buf, binary.LittleEndian, uint16(channels))
	binary.Write(&buf, binary.LittleEndian, uint32(sampleRate))
	binary.Write(&buf, binary.LittleEndian, uint32(sampleRate*blockAlign))
	binary.Write(&buf, binary.LittleEndian, uint16(blockAlign))
	binary.Write(&buf, binary.LittleEndian, uint16(bitsPerSample))
	buf.WriteString("data")
	binary.Write(&buf, binary.LittleEndian, uint32(len(pcm)))
	buf.Write(pcm)
	return buf.Bytes()
}
