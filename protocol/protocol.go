// Package protocol implements the binary framing used by the streaming
// recognition endpoint: a 4-byte header (version, message type, flags,
// serialization and compression methods) followed by an optional 4-byte
// signed sequence, a 4-byte payload size and a gzip-compressed payload.
package protocol

import (
	"bytes"
	"compress/gzip"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
)

const (
	version    = 0b0001
	headerSize = 0b0001 // in 4-byte words
)

// Message types.
const (
	TypeFullClientRequest   = 0b0001
	TypeAudioOnlyRequest    = 0b0010
	TypeFullServerResponse  = 0b1001
	TypeServerACK           = 0b1011
	TypeServerErrorResponse = 0b1111
)

// Message type specific flags.
const (
	FlagNone        = 0b0000
	FlagPosSequence = 0b0001 // payload starts with a 4-byte sequence
	FlagNegSequence = 0b0010 // client: end-of-audio marker; server: last package
)

// Serialization methods.
const (
	SerialNone = 0b0000
	SerialJSON = 0b0001
)

// Compression methods.
const (
	CompressNone = 0b0000
	CompressGzip = 0b0001
)

func header(msgType, flags, serial, compression byte) []byte {
	return []byte{
		version<<4 | headerSize,
		msgType<<4 | flags,
		serial<<4 | compression,
		0x00, // reserved
	}
}

func gzipCompress(data []byte) []byte {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	zw.Write(data)
	zw.Close()
	return buf.Bytes()
}

func gzipDecompress(data []byte) ([]byte, error) {
	zr, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer zr.Close()
	return io.ReadAll(zr)
}

// InitPayload is the session-initialization control message. Field names and
// nesting are fixed by the endpoint.
type InitPayload struct {
	User struct {
		UID string `json:"uid"`
	} `json:"user"`
	Audio struct {
		Format  string `json:"format"`
		Rate    int    `json:"rate"`
		Bits    int    `json:"bits"`
		Channel int    `json:"channel"`
	} `json:"audio"`
	Request struct {
		ModelName string `json:"model_name"`
	} `json:"request"`
}

// NewInitPayload builds the handshake payload for a PCM stream.
func NewInitPayload(uid string, sampleRate, channels int) InitPayload {
	var p InitPayload
	p.User.UID = uid
	p.Audio.Format = "pcm"
	p.Audio.Rate = sampleRate
	p.Audio.Bits = 16
	p.Audio.Channel = channels
	p.Request.ModelName = "bigmodel"
	return p
}

// EncodeInit frames the session-initialization message: full client request,
// positive sequence 1, gzip-compressed JSON payload.
func EncodeInit(p InitPayload) ([]byte, error) {
	body, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("marshal init payload: %w", err)
	}
	body = gzipCompress(body)

	msg := header(TypeFullClientRequest, FlagPosSequence, SerialJSON, CompressGzip)
	msg = binary.BigEndian.AppendUint32(msg, 1) // sequence = 1
	msg = binary.BigEndian.AppendUint32(msg, uint32(len(body)))
	return append(msg, body...), nil
}

// EncodeAudio frames one PCM chunk as an audio-only request with a gzip
// payload. last marks the end-of-audio frame (sent with an empty payload).
func EncodeAudio(pcm []byte, last bool) []byte {
	flags := byte(FlagNone)
	if last {
		flags = FlagNegSequence
	}
	body := gzipCompress(pcm)

	msg := header(TypeAudioOnlyRequest, flags, SerialNone, CompressGzip)
	msg = binary.BigEndian.AppendUint32(msg, uint32(len(body)))
	return append(msg, body...)
}

// Frame is a parsed inbound message.
type Frame struct {
	Type        byte
	Flags       byte
	HasSequence bool
	Sequence    int32
	IsLast      bool   // server's last-package flag
	Code        uint32 // set for error responses
	Payload     []byte // decompressed payload, nil if absent
	IsJSON      bool
}

// Parse decodes one inbound frame, decompressing the payload if the header
// says it is gzip-compressed.
func Parse(data []byte) (Frame, error) {
	if len(data) < 4 {
		return Frame{}, fmt.Errorf("frame too short: %d bytes", len(data))
	}

	hdrWords := int(data[0] & 0x0F)
	if v := data[0] >> 4; v != version {
		return Frame{}, fmt.Errorf("unsupported protocol version %d", v)
	}
	if len(data) < hdrWords*4 {
		return Frame{}, fmt.Errorf("truncated header: %d bytes", len(data))
	}

	f := Frame{
		Type:  data[1] >> 4,
		Flags: data[1] & 0x0F,
	}
	serial := data[2] >> 4
	compression := data[2] & 0x0F
	f.IsJSON = serial == SerialJSON

	payload := data[hdrWords*4:]

	if f.Flags&FlagPosSequence != 0 {
		if len(payload) < 4 {
			return Frame{}, fmt.Errorf("truncated sequence field")
		}
		f.HasSequence = true
		f.Sequence = int32(binary.BigEndian.Uint32(payload[:4]))
		payload = payload[4:]
	}
	if f.Flags&FlagNegSequence != 0 {
		f.IsLast = true
	}

	var body []byte
	switch f.Type {
	case TypeFullServerResponse:
		if len(payload) < 4 {
			return Frame{}, fmt.Errorf("truncated response payload size")
		}
		size := binary.BigEndian.Uint32(payload[:4])
		body = payload[4:]
		if int(size) > len(body) {
			return Frame{}, fmt.Errorf("payload size %d exceeds frame", size)
		}
		body = body[:size]
	case TypeServerACK:
		if len(payload) < 4 {
			return Frame{}, fmt.Errorf("truncated ack")
		}
		f.HasSequence = true
		f.Sequence = int32(binary.BigEndian.Uint32(payload[:4]))
		if len(payload) >= 8 {
			size := binary.BigEndian.Uint32(payload[4:8])
			body = payload[8:]
			if int(size) > len(body) {
				return Frame{}, fmt.Errorf("payload size %d exceeds frame", size)
			}
			body = body[:size]
		}
	case TypeServerErrorResponse:
		if len(payload) < 8 {
			return Frame{}, fmt.Errorf("truncated error response")
		}
		f.Code = binary.BigEndian.Uint32(payload[:4])
		size := binary.BigEndian.Uint32(payload[4:8])
		body = payload[8:]
		if int(size) > len(body) {
			return Frame{}, fmt.Errorf("payload size %d exceeds frame", size)
		}
		body = body[:size]
	default:
		return Frame{}, fmt.Errorf("unexpected message type 0b%04b", f.Type)
	}

	if len(body) > 0 && compression == CompressGzip {
		var err error
		body, err = gzipDecompress(body)
		if err != nil {
			return Frame{}, fmt.Errorf("decompress payload: %w", err)
		}
	}
	f.Payload = body
	return f, nil
}

// ResultPayload is the recognition result carried by full server responses.
type ResultPayload struct {
	Result struct {
		Text       string  `json:"text"`
		Confidence float64 `json:"confidence"`
		Utterances []struct {
			Text     string `json:"text"`
			Definite bool   `json:"definite"`
		} `json:"utterances"`
	} `json:"result"`
}

// DecodeResult parses the frame payload as a recognition result.
func (f Frame) DecodeResult() (ResultPayload, error) {
	var r ResultPayload
	if !f.IsJSON || len(f.Payload) == 0 {
		return r, nil
	}
	if err := json.Unmarshal(f.Payload, &r); err != nil {
		return r, fmt.Errorf("decode result payload: %w", err)
	}
	return r, nil
}
