package protocol

import (
	"bytes"
	"compress/gzip"
	"encoding/binary"
	"encoding/json"
	"io"
	"testing"
)

func gunzip(t *testing.T, data []byte) []byte {
	t.Helper()
	zr, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("gzip reader: %v", err)
	}
	defer zr.Close()
	out, err := io.ReadAll(zr)
	if err != nil {
		t.Fatalf("gunzip: %v", err)
	}
	return out
}

// serverFrame builds a synthetic full server response the way the endpoint
// frames them, for exercising Parse.
func serverFrame(t *testing.T, payload any, seq int32, last bool) []byte {
	t.Helper()
	body, err := json.Marshal(payload)
	if err != nil {
		t.Fatal(err)
	}
	var zbuf bytes.Buffer
	zw := gzip.NewWriter(&zbuf)
	zw.Write(body)
	zw.Close()
	compressed := zbuf.Bytes()

	flags := byte(FlagPosSequence)
	if last {
		flags |= FlagNegSequence
	}
	msg := []byte{version<<4 | headerSize, TypeFullServerResponse<<4 | flags, SerialJSON<<4 | CompressGzip, 0x00}
	msg = binary.BigEndian.AppendUint32(msg, uint32(seq))
	msg = binary.BigEndian.AppendUint32(msg, uint32(len(compressed)))
	return append(msg, compressed...)
}

func TestEncodeInitLayout(t *testing.T) {
	p := NewInitPayload("req-1", 16000, 1)
	msg, err := EncodeInit(p)
	if err != nil {
		t.Fatal(err)
	}

	if msg[0] != version<<4|headerSize {
		t.Errorf("byte 0 = %#x", msg[0])
	}
	if msg[1] != TypeFullClientRequest<<4|FlagPosSequence {
		t.Errorf("byte 1 = %#x", msg[1])
	}
	if msg[2] != SerialJSON<<4|CompressGzip {
		t.Errorf("byte 2 = %#x", msg[2])
	}
	if msg[3] != 0 {
		t.Errorf("reserved byte = %#x", msg[3])
	}
	if seq := binary.BigEndian.Uint32(msg[4:8]); seq != 1 {
		t.Errorf("sequence = %d, want 1", seq)
	}
	size := binary.BigEndian.Uint32(msg[8:12])
	if int(size) != len(msg)-12 {
		t.Errorf("payload size = %d, frame carries %d", size, len(msg)-12)
	}

	var got InitPayload
	if err := json.Unmarshal(gunzip(t, msg[12:]), &got); err != nil {
		t.Fatalf("payload not valid JSON: %v", err)
	}
	if got.Audio.Format != "pcm" || got.Audio.Rate != 16000 || got.Audio.Bits != 16 {
		t.Errorf("audio config round-trip mismatch: %+v", got.Audio)
	}
	if got.User.UID != "req-1" {
		t.Errorf("uid = %q", got.User.UID)
	}
}

func TestEncodeAudioRoundTrip(t *testing.T) {
	pcm := []byte{1, 2, 3, 4, 5, 6, 7, 8}
	msg := EncodeAudio(pcm, false)

	if msg[1] != TypeAudioOnlyRequest<<4|FlagNone {
		t.Errorf("byte 1 = %#x", msg[1])
	}
	if msg[2] != SerialNone<<4|CompressGzip {
		t.Errorf("byte 2 = %#x", msg[2])
	}
	size := binary.BigEndian.Uint32(msg[4:8])
	if int(size) != len(msg)-8 {
		t.Errorf("payload size = %d, frame carries %d", size, len(msg)-8)
	}
	if got := gunzip(t, msg[8:]); !bytes.Equal(got, pcm) {
		t.Errorf("payload round-trip = %v, want %v", got, pcm)
	}
}

func TestEncodeAudioLastMarker(t *testing.T) {
	msg := EncodeAudio(nil, true)
	if msg[1] != TypeAudioOnlyRequest<<4|FlagNegSequence {
		t.Errorf("byte 1 = %#x, want last-package flag", msg[1])
	}
	if got := gunzip(t, msg[8:]); len(got) != 0 {
		t.Errorf("last frame payload = %v, want empty", got)
	}
}

func TestParseFullServerResponse(t *testing.T) {
	var payload ResultPayload
	payload.Result.Text = "hello"
	payload.Result.Confidence = 0.92

	f, err := Parse(serverFrame(t, payload, 7, false))
	if err != nil {
		t.Fatal(err)
	}
	if f.Type != TypeFullServerResponse {
		t.Errorf("Type = %#x", f.Type)
	}
	if !f.HasSequence || f.Sequence != 7 {
		t.Errorf("Sequence = %d (has=%v), want 7", f.Sequence, f.HasSequence)
	}
	if f.IsLast {
		t.Error("IsLast = true, want false")
	}

	r, err := f.DecodeResult()
	if err != nil {
		t.Fatal(err)
	}
	if r.Result.Text != "hello" {
		t.Errorf("Text = %q", r.Result.Text)
	}
	if r.Result.Confidence != 0.92 {
		t.Errorf("Confidence = %v", r.Result.Confidence)
	}
}

func TestParseLastPackage(t *testing.T) {
	var payload ResultPayload
	payload.Result.Text = "done"

	f, err := Parse(serverFrame(t, payload, 9, true))
	if err != nil {
		t.Fatal(err)
	}
	if !f.IsLast {
		t.Error("IsLast = false, want true")
	}
}

func TestParseErrorResponse(t *testing.T) {
	detail := []byte(`{"error":"invalid token"}`)
	var zbuf bytes.Buffer
	zw := gzip.NewWriter(&zbuf)
	zw.Write(detail)
	zw.Close()
	compressed := zbuf.Bytes()

	msg := []byte{version<<4 | headerSize, TypeServerErrorResponse << 4, SerialJSON<<4 | CompressGzip, 0x00}
	msg = binary.BigEndian.AppendUint32(msg, 45000004)
	msg = binary.BigEndian.AppendUint32(msg, uint32(len(compressed)))
	msg = append(msg, compressed...)

	f, err := Parse(msg)
	if err != nil {
		t.Fatal(err)
	}
	if f.Type != TypeServerErrorResponse {
		t.Errorf("Type = %#x", f.Type)
	}
	if f.Code != 45000004 {
		t.Errorf("Code = %d", f.Code)
	}
	if !bytes.Equal(f.Payload, detail) {
		t.Errorf("Payload = %q", f.Payload)
	}
}

func TestParseMalformed(t *testing.T) {
	for _, tt := range []struct {
		name string
		data []byte
	}{
		{"empty", nil},
		{"short", []byte{0x11}},
		{"bad version", []byte{0x21, 0x90, 0x11, 0x00}},
		{"client type", append([]byte{0x11, TypeFullClientRequest << 4, 0x11, 0x00}, make([]byte, 8)...)},
		{"truncated size", []byte{0x11, TypeFullServerResponse << 4, 0x11, 0x00, 0x00}},
	} {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Parse(tt.data); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestParseOversizedPayloadLength(t *testing.T) {
	msg := []byte{version<<4 | headerSize, TypeFullServerResponse << 4, SerialJSON<<4 | CompressNone, 0x00}
	msg = binary.BigEndian.AppendUint32(msg, 9999)
	msg = append(msg, []byte("tiny")...)
	if _, err := Parse(msg); err == nil {
		t.Error("expected error for payload size exceeding frame")
	}
}
