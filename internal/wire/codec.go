// Package wire decodes the recorder's proprietary binary WebSocket push
// protocol: two length-prefixed JSON frames, an Action frame followed by a
// Data frame, packed back-to-back in a single binary message.
package wire

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/stphnsmpsn/unifi-protect-backup/internal/apperr"
)

// minFrameLen is the smallest buffer that can possibly hold two 8-byte
// frame headers plus zero-length bodies.
const minFrameLen = 16

// Action is the recorder's notification verb.
type Action string

const (
	ActionAdd    Action = "add"
	ActionUpdate Action = "update"
)

// ActionFrame is the first of the two JSON documents packed into a push
// message.
type ActionFrame struct {
	Action      Action                 `json:"action"`
	NewUpdateID string                 `json:"newUpdateId"`
	ModelKey    string                 `json:"modelKey"`
	RecordModel string                 `json:"recordModel,omitempty"`
	RecordID    string                 `json:"recordId,omitempty"`
	ID          string                 `json:"id"`
	Extra       map[string]interface{} `json:"-"`
}

// DataFrame is the second of the two JSON documents packed into a push
// message.
type DataFrame struct {
	Kind  string                 `json:"type,omitempty"`
	ID    string                 `json:"id,omitempty"`
	Start *int64                 `json:"start,omitempty"`
	End   *int64                 `json:"end,omitempty"`
	Extra map[string]interface{} `json:"-"`
}

// Message is a fully decoded push notification: one Action frame paired
// with its Data frame.
type Message struct {
	Action ActionFrame
	Data   DataFrame
}

// rawFrames holds the two still-encoded JSON bodies extracted from a binary
// message, before JSON unmarshalling.
type rawFrames struct {
	action []byte
	data   []byte
}

// splitFrames extracts the two length-prefixed JSON bodies from a binary
// push message. It never panics: every failure mode produces a
// *apperr.DecodeError so the caller can skip the frame and keep the
// connection open.
//
//	offset 0..5   : 6 unspecified header bytes (ignored)
//	offset 6      : length-mode byte
//	offset 7      : if byte[6] == 0x00 -> single-byte length L in byte[7]
//	                else               -> L = big-endian u16 of bytes[6..8]
//	offset 8..8+L : L bytes of UTF-8 JSON
//
// The second frame begins at offset 8+L_action with the same structure.
func splitFrames(data []byte) (rawFrames, error) {
	if len(data) < minFrameLen {
		return rawFrames{}, &apperr.DecodeError{Reason: fmt.Sprintf("binary data too short: %d bytes", len(data))}
	}

	actionLen := frameLength(data[6], data[7])
	actionStart := 8
	actionEnd := actionStart + actionLen

	if actionEnd+8 > len(data) {
		return rawFrames{}, &apperr.DecodeError{Reason: fmt.Sprintf(
			"action frame extends beyond data: %d + %d > %d", actionStart, actionLen, len(data))}
	}

	actionJSON := data[actionStart:actionEnd]
	if !utf8.Valid(actionJSON) {
		return rawFrames{}, &apperr.DecodeError{Reason: "invalid UTF-8 in action frame"}
	}

	secondHeaderStart := actionEnd
	dataLen := frameLength(data[secondHeaderStart+6], data[secondHeaderStart+7])
	dataStart := actionEnd + 8
	dataEnd := dataStart + dataLen

	if dataEnd > len(data) {
		return rawFrames{}, &apperr.DecodeError{Reason: fmt.Sprintf(
			"data frame extends beyond data: %d + %d > %d", dataStart, dataLen, len(data))}
	}

	dataJSON := data[dataStart:dataEnd]
	if !utf8.Valid(dataJSON) {
		return rawFrames{}, &apperr.DecodeError{Reason: "invalid UTF-8 in data frame"}
	}

	return rawFrames{action: actionJSON, data: dataJSON}, nil
}

func frameLength(modeByte, lenByte byte) int {
	if modeByte == 0x00 {
		return int(lenByte)
	}
	return int(binary.BigEndian.Uint16([]byte{modeByte, lenByte}))
}

// Decode parses a single binary push message into an Action/Data frame
// pair. Malformed frames return a *apperr.DecodeError and must not be
// treated as fatal by the caller.
func Decode(data []byte) (Message, error) {
	frames, err := splitFrames(data)
	if err != nil {
		return Message{}, err
	}

	var action ActionFrame
	if err := json.Unmarshal(frames.action, &action); err != nil {
		return Message{}, &apperr.DecodeError{Reason: "action frame json: " + err.Error()}
	}
	if err := json.Unmarshal(frames.action, &action.Extra); err != nil {
		return Message{}, &apperr.DecodeError{Reason: "action frame extras: " + err.Error()}
	}

	var data2 DataFrame
	if err := json.Unmarshal(frames.data, &data2); err != nil {
		return Message{}, &apperr.DecodeError{Reason: "data frame json: " + err.Error()}
	}
	if err := json.Unmarshal(frames.data, &data2.Extra); err != nil {
		return Message{}, &apperr.DecodeError{Reason: "data frame extras: " + err.Error()}
	}

	if _, err := uuid.Parse(action.NewUpdateID); err != nil {
		return Message{}, &apperr.DecodeError{Reason: "action frame newUpdateId is not a UUID: " + err.Error()}
	}

	return Message{Action: action, Data: data2}, nil
}

// Encode packs an Action frame and a Data frame into a single binary push
// message using the §4.2 layout. Used by tests to exercise the round-trip
// law; the recorder is the only real producer of these messages.
func Encode(action, dataFrame []byte) []byte {
	buf := make([]byte, 0, 16+len(action)+len(dataFrame))
	buf = appendFrame(buf, action)
	buf = appendFrame(buf, dataFrame)
	return buf
}

func appendFrame(buf []byte, payload []byte) []byte {
	header := make([]byte, 8)
	if len(payload) <= 0xFF {
		header[6] = 0x00
		header[7] = byte(len(payload))
	} else {
		binary.BigEndian.PutUint16(header[6:8], uint16(len(payload)))
	}
	buf = append(buf, header...)
	buf = append(buf, payload...)
	return buf
}
