package audio

// DefaultChunkSize is the audio-only frame size used for pre-recorded audio.
// At 16kHz 16-bit mono this is half a second of audio.
const DefaultChunkSize = 16000

// Chunk is one audio-only frame worth of audio.
type Chunk struct {
	Index int
	Data  []byte
	Final bool
}

// Split divides audio into ceil(len/size) chunks, marking only the last one
// final. Empty audio yields a single empty final chunk so the server is still
// told the stream ended. Chunks share the backing array of audio.
func Split(audio []byte, size int) []Chunk {
	if size <= 0 {
		size = DefaultChunkSize
	}
	if len(audio) == 0 {
		return []Chunk{{Index: 0, Data: audio, Final: true}}
	}

	n := (len(audio) + size - 1) / size
	chunks := make([]Chunk, 0, n)
	for i := 0; i < n; i++ {
		start := i * size
		end := start + size
		if end > len(audio) {
			end = len(audio)
		}
		chunks = append(chunks, Chunk{
			Index: i,
			Data:  audio[start:end],
			Final: end == len(audio),
		})
	}
	return chunks
}
