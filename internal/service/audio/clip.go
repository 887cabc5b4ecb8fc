// Package audio loads pre-recorded audio and splits it into protocol chunks.
package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"strings"
)

// WAV header is 44 bytes for standard PCM files.
const wavHeaderSize = 44

// Errors returned while loading audio.
var (
	ErrEmptyFile  = errors.New("audio file is empty")
	ErrInvalidWAV = errors.New("not a valid WAV file")
)

// Clip is a loaded audio file.
type Clip struct {
	Path   string
	Format string
	Data   []byte

	// WAV header fields. Zero for raw PCM.
	AudioFormat   uint16
	Channels      uint16
	SampleRate    uint32
	BitsPerSample uint16
}

// Load reads the audio file at path. WAV files are validated and their header
// fields exposed; the bytes are sent unchanged because the server parses the
// container itself.
func Load(path, format string) (*Clip, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read audio file: %w", err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrEmptyFile, path)
	}

	clip := &Clip{
		Path:   path,
		Format: format,
		Data:   data,
	}
	if strings.EqualFold(format, "wav") {
		if err := clip.parseWAVHeader(); err != nil {
			return nil, err
		}
	}
	return clip, nil
}

func (c *Clip) parseWAVHeader() error {
	if len(c.Data) < wavHeaderSize {
		return fmt.Errorf("%w: header too short (%d bytes)", ErrInvalidWAV, len(c.Data))
	}
	header := c.Data[:wavHeaderSize]
	if string(header[0:4]) != "RIFF" || string(header[8:12]) != "WAVE" {
		return ErrInvalidWAV
	}

	c.AudioFormat = binary.LittleEndian.Uint16(header[20:22])
	c.Channels = binary.LittleEndian.Uint16(header[22:24])
	c.SampleRate = binary.LittleEndian.Uint32(header[24:28])
	c.BitsPerSample = binary.LittleEndian.Uint16(header[34:36])
	return nil
}

// IsWAV reports whether a WAV header was parsed.
func (c *Clip) IsWAV() bool {
	return c.SampleRate != 0
}

// Size returns the number of audio bytes.
func (c *Clip) Size() int {
	return len(c.Data)
}
