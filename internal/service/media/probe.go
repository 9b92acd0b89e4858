// Package media inspects local audio files before they are sent for recognition.
package media

import (
	"bytes"
	"fmt"
	"io"
	"os"

	"github.com/go-audio/wav"
	"github.com/mewkiz/flac"
)

// Codec identifies the container/codec of an audio file.
type Codec int

const (
	CodecUnknown Codec = iota
	CodecWAVE
	CodecFLAC
	CodecMP3
	CodecOgg
)

func (c Codec) String() string {
	switch c {
	case CodecWAVE:
		return "WAVE"
	case CodecFLAC:
		return "FLAC"
	case CodecMP3:
		return "MP3"
	case CodecOgg:
		return "OGG"
	default:
		return "UNKNOWN"
	}
}

// Detector reports codec metadata for a local audio file.
type Detector interface {
	DetectCodec(path string) (Codec, error)
	DetectSampleRate(path string) (int, error)
}

// Probe is a Detector that reads file headers.
type Probe struct{}

var _ Detector = Probe{}

// headerLen covers the longest signature checked by sniff.
const headerLen = 12

// DetectCodec identifies the codec from the file's leading bytes.
func (Probe) DetectCodec(path string) (Codec, error) {
	f, err := os.Open(path)
	if err != nil {
		return CodecUnknown, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	head := make([]byte, headerLen)
	n, err := io.ReadFull(f, head)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return CodecUnknown, fmt.Errorf("read header of %s: %w", path, err)
	}
	return sniff(head[:n]), nil
}

func sniff(head []byte) Codec {
	switch {
	case len(head) >= 12 && bytes.Equal(head[0:4], []byte("RIFF")) && bytes.Equal(head[8:12], []byte("WAVE")):
		return CodecWAVE
	case bytes.HasPrefix(head, []byte("fLaC")):
		return CodecFLAC
	case bytes.HasPrefix(head, []byte("OggS")):
		return CodecOgg
	case bytes.HasPrefix(head, []byte("ID3")):
		return CodecMP3
	case len(head) >= 2 && head[0] == 0xFF && head[1]&0xE0 == 0xE0:
		// MPEG audio frame sync
		return CodecMP3
	default:
		return CodecUnknown
	}
}

// DetectSampleRate reads the sample rate from a WAVE fmt chunk or a FLAC
// STREAMINFO block. Other codecs are not supported.
func (p Probe) DetectSampleRate(path string) (int, error) {
	codec, err := p.DetectCodec(path)
	if err != nil {
		return 0, err
	}

	switch codec {
	case CodecWAVE:
		return wavSampleRate(path)
	case CodecFLAC:
		return flacSampleRate(path)
	default:
		return 0, fmt.Errorf("sample rate of %s: unsupported codec %s", path, codec)
	}
}

func wavSampleRate(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	d := wav.NewDecoder(f)
	d.ReadInfo()
	if err := d.Err(); err != nil {
		return 0, fmt.Errorf("read wav header of %s: %w", path, err)
	}
	if d.SampleRate == 0 {
		return 0, fmt.Errorf("read wav header of %s: missing fmt chunk", path)
	}
	return int(d.SampleRate), nil
}

func flacSampleRate(path string) (int, error) {
	stream, err := flac.Open(path)
	if err != nil {
		return 0, fmt.Errorf("read flac stream info of %s: %w", path, err)
	}
	defer stream.Close()

	return int(stream.Info.SampleRate), nil
}
