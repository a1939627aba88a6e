package audio

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

const (
	wavFormatPCM        = 1
	wavFormatExtensible = 0xFFFE
)

// StripContainerHeader returns the mono PCM16 payload of a RIFF/WAVE buffer.
// Integer PCM at 8, 24 or 32 bits is converted and extra channels are mixed
// down. Input without a RIFF/WAVE header is returned unchanged; a container
// that cannot be read or holds float samples is an error.
func StripContainerHeader(data []byte) ([]byte, error) {
	if len(data) < 12 || string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return data, nil
	}
	dec := wav.NewDecoder(bytes.NewReader(data))
	if err := dec.FwdToPCM(); err != nil {
		return nil, fmt.Errorf("read wav: %w", err)
	}
	if err := dec.Err(); err != nil {
		return nil, fmt.Errorf("read wav: %w", err)
	}
	if dec.PCMChunk == nil {
		return nil, errors.New("read wav: no data chunk")
	}
	if dec.WavAudioFormat != wavFormatPCM && dec.WavAudioFormat != wavFormatExtensible {
		return nil, fmt.Errorf("unsupported wav encoding %d", dec.WavAudioFormat)
	}

	if dec.BitDepth == 16 && dec.NumChans <= 1 {
		size := dec.PCMSize
		if size <= 0 || size > len(data) {
			size = len(data)
		}
		pcm := make([]byte, size)
		n, err := io.ReadFull(dec.PCMChunk, pcm)
		if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("read wav samples: %w", err)
		}
		return pcm[:n-n%2], nil
	}

	shift, err := sampleShift(int(dec.BitDepth))
	if err != nil {
		return nil, err
	}
	buf, err := dec.FullPCMBuffer()
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) {
		return nil, fmt.Errorf("read wav samples: %w", err)
	}
	channels := int(dec.NumChans)
	if channels < 1 {
		channels = 1
	}
	out := make([]int16, len(buf.Data)/channels)
	for i := range out {
		var sum int
		for c := 0; c < channels; c++ {
			v := buf.Data[i*channels+c]
			if dec.BitDepth == 8 {
				v -= 128
			}
			sum += v
		}
		out[i] = clip16(float64(shiftSample(sum/channels, shift)))
	}
	return Bytes(out), nil
}

// sampleShift is the left shift that scales a sample of the given depth to
// 16 bits. Negative values shift right.
func sampleShift(bitDepth int) (int, error) {
	switch bitDepth {
	case 8, 16, 24, 32:
		return 16 - bitDepth, nil
	default:
		return 0, fmt.Errorf("unsupported wav bit depth %d", bitDepth)
	}
}

func shiftSample(v, shift int) int {
	if shift >= 0 {
		return v << shift
	}
	return v >> -shift
}

// EncodeWAV wraps mono PCM16 in a WAVE container.
func EncodeWAV(pcm []byte, sampleRate int) ([]byte, error) {
	ws := &memWriteSeeker{}
	if err := WriteWAV(ws, pcm, sampleRate, 1); err != nil {
		return nil, err
	}
	return ws.buf, nil
}

// WriteWAV encodes PCM16 into w with the given format.
func WriteWAV(w io.WriteSeeker, pcm []byte, sampleRate, channels int) error {
	if len(pcm)%2 != 0 {
		return fmt.Errorf("pcm payload not aligned")
	}
	samples := Samples(pcm)
	data := make([]int, len(samples))
	for i, s := range samples {
		data[i] = int(s)
	}
	buffer := &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: channels, SampleRate: sampleRate},
		Data:           data,
		SourceBitDepth: 16,
	}
	enc := wav.NewEncoder(w, sampleRate, 16, channels, 1)
	if err := enc.Write(buffer); err != nil {
		return fmt.Errorf("write wav: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("close wav encoder: %w", err)
	}
	return nil
}

type memWriteSeeker struct {
	buf []byte
	pos int
}

func (m *memWriteSeeker) Write(p []byte) (int, error) {
	end := m.pos + len(p)
	if end > len(m.buf) {
		if end > cap(m.buf) {
			grown := make([]byte, end, 2*end)
			copy(grown, m.buf)
			m.buf = grown
		} else {
			m.buf = m.buf[:end]
		}
	}
	copy(m.buf[m.pos:], p)
	m.pos = end
	return len(p), nil
}

func (m *memWriteSeeker) Seek(offset int64, whence int) (int64, error) {
	var base int64
	switch whence {
	case io.SeekStart:
	case io.SeekCurrent:
		base = int64(m.pos)
	case io.SeekEnd:
		base = int64(len(m.buf))
	default:
		return 0, errors.New("invalid whence")
	}
	next := base + offset
	if next < 0 {
		return 0, errors.New("negative position")
	}
	m.pos = int(next)
	return next, nil
}
