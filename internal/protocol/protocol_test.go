package protocol

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestEncodeFullClientRequest_Header(t *testing.T) {
	out, err := EncodeFullClientRequest(map[string]string{"k": "v"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := []byte{0x11, 0x10, 0x11, 0x00}
	if !bytes.Equal(out[:4], want) {
		t.Errorf("expected header % x, got % x", want, out[:4])
	}

	size := binary.BigEndian.Uint32(out[4:8])
	if int(size) != len(out)-8 {
		t.Errorf("expected declared size %d, got %d", len(out)-8, size)
	}

	// gzip magic
	if out[8] != 0x1f || out[9] != 0x8b {
		t.Errorf("expected gzip payload, got % x", out[8:10])
	}
}

func TestEncodeFullClientRequest_MarshalError(t *testing.T) {
	_, err := EncodeFullClientRequest(make(chan int))
	if err == nil {
		t.Fatal("expected error for unmarshalable payload")
	}
}

func TestFullClientRequest_RoundTrip(t *testing.T) {
	records := []any{
		map[string]any{
			"user":  map[string]any{"uid": "u-1"},
			"audio": map[string]any{"format": "pcm", "rate": 16000, "bits": 16, "channel": 1, "codec": "raw"},
			"request": map[string]any{
				"model_name":      "bigmodel",
				"language":        "zh",
				"enable_itn":      true,
				"enable_punc":     true,
				"result_type":     "full",
				"show_utterances": true,
			},
		},
		map[string]any{},
		map[string]any{"text": "你好，世界", "nested": []any{1, "two", nil}},
	}

	for i, record := range records {
		encoded, err := EncodeFullClientRequest(record)
		if err != nil {
			t.Fatalf("record %d: encode: %v", i, err)
		}

		frame, err := DecodeClientFrame(encoded)
		if err != nil {
			t.Fatalf("record %d: decode: %v", i, err)
		}
		if frame.Header.MessageType != MessageTypeFullClientRequest {
			t.Errorf("record %d: expected full client request, got %v", i, frame.Header.MessageType)
		}
		if frame.Header.Serialization != SerializationJSON || frame.Header.Compression != CompressionGzip {
			t.Errorf("record %d: expected JSON+gzip, got %d/%d", i, frame.Header.Serialization, frame.Header.Compression)
		}

		var got, want any
		if err := json.Unmarshal(frame.Payload, &got); err != nil {
			t.Fatalf("record %d: payload is not JSON: %v", i, err)
		}
		raw, _ := json.Marshal(record)
		_ = json.Unmarshal(raw, &want)
		if diff := cmp.Diff(want, got); diff != "" {
			t.Errorf("record %d: payload mismatch (-want +got):\n%s", i, diff)
		}
	}
}

func TestEncodeAudioOnlyRequest(t *testing.T) {
	tests := []struct {
		name       string
		audio      []byte
		final      bool
		wantByte1  byte
		wantLength uint32
	}{
		{"non-final chunk", []byte{1, 2, 3, 4}, false, 0x20, 4},
		{"final chunk", []byte{1, 2, 3}, true, 0x22, 3},
		{"empty final chunk", nil, true, 0x22, 0},
		{"large chunk", make([]byte, 16000), false, 0x20, 16000},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := EncodeAudioOnlyRequest(tt.audio, tt.final)

			if out[0] != 0x11 || out[1] != tt.wantByte1 || out[2] != 0x00 || out[3] != 0x00 {
				t.Errorf("unexpected header % x", out[:4])
			}
			if got := binary.BigEndian.Uint32(out[4:8]); got != tt.wantLength {
				t.Errorf("expected length %d, got %d", tt.wantLength, got)
			}
			if !bytes.Equal(out[8:], tt.audio) && !(len(tt.audio) == 0 && len(out) == 8) {
				t.Error("expected audio bytes to be copied verbatim")
			}

			frame, err := DecodeClientFrame(out)
			if err != nil {
				t.Fatalf("decode: %v", err)
			}
			if frame.Size != tt.wantLength {
				t.Errorf("decoded size %d, want %d", frame.Size, tt.wantLength)
			}
			if frame.Header.IsFinalAudio() != tt.final {
				t.Errorf("decoded final flag %v, want %v", frame.Header.IsFinalAudio(), tt.final)
			}
		})
	}
}

func TestDecodeFrame_TooShort(t *testing.T) {
	for n := 0; n < MinServerFrameSize; n++ {
		msg, err := DecodeFrame(make([]byte, n))
		if !errors.Is(err, ErrFrameTooShort) {
			t.Errorf("len %d: expected ErrFrameTooShort, got %v", n, err)
		}
		if msg != nil {
			t.Errorf("len %d: expected nil message on short frame", n)
		}
	}
}

func TestDecodeFrame_ASRResult(t *testing.T) {
	payload := []byte(`{"result":{"text":"hello world","utterances":[{"definite":true}]}}`)

	for _, compression := range []Compression{CompressionNone, CompressionGzip} {
		raw, err := EncodeServerFrame(MessageTypeFullServerResponse, 7, payload, compression)
		if err != nil {
			t.Fatalf("encode: %v", err)
		}

		msg, err := DecodeFrame(raw)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !msg.IsASRResult() {
			t.Errorf("expected ASR result, got %v", msg.MessageType)
		}
		if msg.Sequence != 7 {
			t.Errorf("expected sequence 7, got %d", msg.Sequence)
		}
		if msg.Compression != compression {
			t.Errorf("expected compression %d, got %d", compression, msg.Compression)
		}

		want := map[string]any{
			"result": map[string]any{
				"text":       "hello world",
				"utterances": []any{map[string]any{"definite": true}},
			},
		}
		if diff := cmp.Diff(want, msg.Fields); diff != "" {
			t.Errorf("fields mismatch (-want +got):\n%s", diff)
		}
		if msg.Raw != "" {
			t.Errorf("expected empty raw, got %q", msg.Raw)
		}
	}
}

func TestDecodeFrame_TruncatedPayload(t *testing.T) {
	raw := []byte{
		0x11, 0x90, 0x10, 0x00,
		0x00, 0x00, 0x00, 0x01, // sequence
		0x00, 0x00, 0x10, 0x00, // declared size 4096
		'a', 'b', 'c',
	}

	msg, err := DecodeFrame(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msg.Raw != "abc" {
		t.Errorf("expected truncated raw 'abc', got %q", msg.Raw)
	}
	if msg.MessageType != MessageTypeFullServerResponse {
		t.Errorf("expected message type 9, got %d", msg.MessageType)
	}
}

func TestDecodeFrame_IgnoresTrailingBytes(t *testing.T) {
	raw, _ := EncodeServerFrame(MessageTypeFullServerResponse, 1, []byte(`{"a":1}`), CompressionNone)
	raw = append(raw, []byte("garbage")...)

	msg, err := DecodeFrame(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if diff := cmp.Diff(map[string]any{"a": float64(1)}, msg.Fields); diff != "" {
		t.Errorf("fields mismatch (-want +got):\n%s", diff)
	}
}

func TestDecodeFrame_CorruptGzipPassesThrough(t *testing.T) {
	payload := []byte(`{"not":"compressed"}`)
	raw := []byte{0x11, 0x90, 0x11, 0x00, 0, 0, 0, 3, 0, 0, 0, byte(len(payload))}
	raw = append(raw, payload...)

	msg, err := DecodeFrame(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msg.Compression != CompressionGzip {
		t.Errorf("expected gzip compression in header, got %d", msg.Compression)
	}
	if diff := cmp.Diff(map[string]any{"not": "compressed"}, msg.Fields); diff != "" {
		t.Errorf("fields mismatch (-want +got):\n%s", diff)
	}
}

func TestDecodeFrameLimit_CapsDecompressedPayload(t *testing.T) {
	expanded := bytes.Repeat([]byte("a"), 4096)
	raw, err := EncodeServerFrame(MessageTypeFullServerResponse, 1, expanded, CompressionGzip)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	tests := []struct {
		name     string
		limit    int64
		inflated bool
	}{
		{"under limit", 8192, true},
		{"at limit", 4096, true},
		{"over limit", 1024, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := DecodeFrameLimit(raw, tt.limit)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if tt.inflated {
				if !bytes.Equal(msg.Body, expanded) {
					t.Errorf("expected %d decompressed bytes, got %d", len(expanded), len(msg.Body))
				}
				return
			}
			if len(msg.Body) >= len(expanded) {
				t.Errorf("expected compressed payload to pass through, got %d bytes", len(msg.Body))
			}
			if msg.Fields != nil || msg.Raw == "" {
				t.Errorf("expected raw fallback, got fields %v", msg.Fields)
			}
		})
	}
}

func TestDecodeFrame_GzipExpansionBounded(t *testing.T) {
	expanded := bytes.Repeat([]byte("a"), int(MaxPayloadSize)+1<<20)
	raw, err := EncodeServerFrame(MessageTypeFullServerResponse, 1, expanded, CompressionGzip)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if int64(len(raw)) >= MaxPayloadSize {
		t.Fatalf("expected a small wire frame, got %d bytes", len(raw))
	}

	msg, err := DecodeFrame(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if int64(len(msg.Body)) > MaxPayloadSize {
		t.Errorf("expected body capped at %d bytes, got %d", MaxPayloadSize, len(msg.Body))
	}
	if len(msg.Body) > 1<<20 {
		t.Errorf("expected compressed payload to pass through, got %d bytes", len(msg.Body))
	}
}

func TestDecodeClientFrame_PayloadTooLarge(t *testing.T) {
	compressed, err := gzipBytes(bytes.Repeat([]byte("a"), int(MaxPayloadSize)+1))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	raw := []byte{0x11, 0x10, 0x11, 0x00, 0, 0, 0, 0}
	binary.BigEndian.PutUint32(raw[4:], uint32(len(compressed)))
	raw = append(raw, compressed...)

	if _, err := DecodeClientFrame(raw); !errors.Is(err, ErrPayloadTooLarge) {
		t.Errorf("expected ErrPayloadTooLarge, got %v", err)
	}
}

func TestDecodeFrame_NonJSONFallsBackToRaw(t *testing.T) {
	tests := []struct {
		name    string
		payload []byte
		wantRaw string
	}{
		{"plain text", []byte("quota exceeded"), "quota exceeded"},
		{"json array", []byte(`[1,2]`), "[1,2]"},
		{"json null", []byte(`null`), "null"},
		{"empty", nil, ""},
		{"invalid utf8", []byte{'o', 'k', 0xff, '!'}, "ok�!"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw, _ := EncodeServerFrame(MessageTypeServerError, 45000001, tt.payload, CompressionNone)

			msg, err := DecodeFrame(raw)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if msg.Fields != nil {
				t.Errorf("expected nil fields, got %v", msg.Fields)
			}
			if msg.Raw != tt.wantRaw {
				t.Errorf("expected raw %q, got %q", tt.wantRaw, msg.Raw)
			}
			if !msg.IsError() || msg.ErrorCode() != 45000001 {
				t.Errorf("expected error frame with code 45000001, got type=%v code=%d", msg.MessageType, msg.ErrorCode())
			}
		})
	}
}

func TestParseHeader(t *testing.T) {
	h, err := ParseHeader([]byte{0x11, 0x22, 0x00, 0x00})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := Header{
		Version:     1,
		HeaderWords: 1,
		MessageType: MessageTypeAudioOnlyClient,
		Flags:       FlagFinalAudio,
	}
	if h != want {
		t.Errorf("expected %+v, got %+v", want, h)
	}
	if !h.IsFinalAudio() {
		t.Error("expected final audio flag")
	}
	if h.Bytes() != [4]byte{0x11, 0x22, 0x00, 0x00} {
		t.Errorf("header did not round trip: % x", h.Bytes())
	}

	if _, err := ParseHeader([]byte{0x11}); !errors.Is(err, ErrHeaderTooShort) {
		t.Errorf("expected ErrHeaderTooShort, got %v", err)
	}
}

func TestDecodeClientFrame_Errors(t *testing.T) {
	tests := []struct {
		name string
		raw  []byte
		want error
	}{
		{"too short", []byte{0x11, 0x20, 0x00}, ErrFrameTooShort},
		{"bad version", []byte{0x21, 0x20, 0x00, 0x00, 0, 0, 0, 0}, ErrUnsupportedVersion},
		{"size mismatch", []byte{0x11, 0x20, 0x00, 0x00, 0, 0, 0, 5, 1, 2}, ErrPayloadSizeMismatch},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := DecodeClientFrame(tt.raw); !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestMessageType_String(t *testing.T) {
	tests := []struct {
		t    MessageType
		want string
	}{
		{MessageTypeFullClientRequest, "FULL_CLIENT_REQUEST"},
		{MessageTypeAudioOnlyClient, "AUDIO_ONLY_CLIENT"},
		{MessageTypeFullServerResponse, "FULL_SERVER_RESPONSE"},
		{MessageTypeServerAck, "SERVER_ACK"},
		{MessageTypeServerError, "SERVER_ERROR"},
		{MessageType(5), "UNKNOWN(5)"},
	}

	for _, tt := range tests {
		if got := tt.t.String(); got != tt.want {
			t.Errorf("MessageType(%d).String() = %v, want %v", uint8(tt.t), got, tt.want)
		}
	}
}
