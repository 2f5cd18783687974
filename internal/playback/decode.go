package playback

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"mime"
	"strconv"

	"github.com/hajimehoshi/go-mp3"
)

// PCMContentType is the media type of raw little-endian PCM streams.
// Parameters: rate, channels, encoding (s16le or f32le).
const PCMContentType = "audio/pcm"

// PCMType builds a PCMContentType value for f.
func PCMType(f Format) string {
	enc := "s16le"
	if f.Float {
		enc = "f32le"
	}
	return mime.FormatMediaType(PCMContentType, map[string]string{
		"rate":     strconv.Itoa(f.FrameRate),
		"channels": strconv.Itoa(f.Channels),
		"encoding": enc,
	})
}

// Decode inspects the first bytes of r to determine the audio format and
// returns a reader of decoded PCM. WAV and MP3 are sniffed from their
// headers; raw PCM must be declared through contentType.
func Decode(r io.Reader, contentType string) (Format, io.Reader, error) {
	br := bufio.NewReaderSize(r, 16*1024)
	head, err := br.Peek(12)
	if err != nil && !errors.Is(err, io.EOF) {
		return Format{}, nil, fmt.Errorf("read first chunk: %w", err)
	}
	if len(head) == 0 {
		return Format{}, nil, fmt.Errorf("empty source")
	}

	if len(head) >= 12 && bytes.Equal(head[:4], []byte("RIFF")) && bytes.Equal(head[8:12], []byte("WAVE")) {
		return decodeWAV(br)
	}

	if mt, params, err := mime.ParseMediaType(contentType); err == nil && mt == PCMContentType {
		return decodePCM(br, params)
	}

	if isMP3(head) {
		d, err := mp3.NewDecoder(br)
		if err != nil {
			return Format{}, nil, fmt.Errorf("mp3 header: %w", err)
		}
		// go-mp3 always yields 16-bit little-endian stereo.
		return Format{SampleWidth: 2, Channels: 2, FrameRate: d.SampleRate()}, d, nil
	}

	return Format{}, nil, fmt.Errorf("unrecognized audio format (content type %q)", contentType)
}

func isMP3(head []byte) bool {
	if len(head) >= 3 && string(head[:3]) == "ID3" {
		return true
	}
	return len(head) >= 2 && head[0] == 0xFF && head[1]&0xE0 == 0xE0
}

func decodePCM(r io.Reader, params map[string]string) (Format, io.Reader, error) {
	f := Format{SampleWidth: 2, Channels: 1, FrameRate: 24000}
	if v, ok := params["rate"]; ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return Format{}, nil, fmt.Errorf("pcm rate: %w", err)
		}
		f.FrameRate = n
	}
	if v, ok := params["channels"]; ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return Format{}, nil, fmt.Errorf("pcm channels: %w", err)
		}
		f.Channels = n
	}
	switch params["encoding"] {
	case "", "s16le":
	case "f32le":
		f.SampleWidth = 4
		f.Float = true
	default:
		return Format{}, nil, fmt.Errorf("unsupported pcm encoding %q", params["encoding"])
	}
	if err := f.validate(); err != nil {
		return Format{}, nil, err
	}
	return f, r, nil
}

const (
	wavFormatPCM        = 1
	wavFormatFloat      = 3
	wavFormatExtensible = 0xFFFE
	wavStreamingSize    = 0xFFFFFFFF
)

func decodeWAV(r *bufio.Reader) (Format, io.Reader, error) {
	if _, err := r.Discard(12); err != nil {
		return Format{}, nil, fmt.Errorf("riff header: %w", err)
	}

	var (
		f       Format
		haveFmt bool
		hdr     [8]byte
	)
	for {
		if _, err := io.ReadFull(r, hdr[:]); err != nil {
			return Format{}, nil, fmt.Errorf("wav chunk header: %w", err)
		}
		id := string(hdr[:4])
		size := binary.LittleEndian.Uint32(hdr[4:])

		switch id {
		case "fmt ":
			if size < 16 || size > 1024 {
				return Format{}, nil, fmt.Errorf("wav fmt chunk size %d", size)
			}
			body := make([]byte, size+size%2)
			if _, err := io.ReadFull(r, body); err != nil {
				return Format{}, nil, fmt.Errorf("wav fmt chunk: %w", err)
			}
			tag := binary.LittleEndian.Uint16(body[0:])
			if tag == wavFormatExtensible && size >= 26 {
				tag = binary.LittleEndian.Uint16(body[24:])
			}
			f = Format{
				Channels:    int(binary.LittleEndian.Uint16(body[2:])),
				FrameRate:   int(binary.LittleEndian.Uint32(body[4:])),
				SampleWidth: int(binary.LittleEndian.Uint16(body[14:])) / 8,
			}
			switch tag {
			case wavFormatPCM:
			case wavFormatFloat:
				f.Float = true
			default:
				return Format{}, nil, fmt.Errorf("unsupported wav encoding %#x", tag)
			}
			if err := f.validate(); err != nil {
				return Format{}, nil, err
			}
			haveFmt = true
		case "data":
			if !haveFmt {
				return Format{}, nil, fmt.Errorf("wav data before fmt chunk")
			}
			if size == 0 || size == wavStreamingSize {
				return f, r, nil
			}
			return f, io.LimitReader(r, int64(size)), nil
		default:
			if _, err := r.Discard(int(size + size%2)); err != nil {
				return Format{}, nil, fmt.Errorf("skip wav chunk %q: %w", id, err)
			}
		}
	}
}
