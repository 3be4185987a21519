// Package protocol implements the local-socket wire format. Each message is
// a fixed 4-byte header {msg_size:u16, pb_head_size:u16} in the machine's
// native byte order, followed by a binary MessageHead of pb_head_size bytes,
// followed by a JSON body of msg_size-pb_head_size bytes.
package protocol

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"regexp"
)

// Message ids. Requests are odd, the paired response follows.
const (
	MsgInvalid int32 = iota
	MsgCreateProjectReq
	MsgCreateProjectRsp
	MsgUpdateProjectReq
	MsgUpdateProjectRsp
	MsgDeleteProjectReq
	MsgDeleteProjectRsp
	MsgListProjectReq
	MsgListProjectRsp
	MsgRebuildFileReq
	MsgRebuildFileRsp
	MsgGetSymbolDefinitionReq
	MsgGetSymbolDefinitionRsp
	MsgGetSymbolReferencesReq
	MsgGetSymbolReferencesRsp
	MsgListFileSymbolsReq
	MsgListFileSymbolsRsp
	MsgListProjectFilesReq
	MsgListProjectFilesRsp
	MsgListFileReferencesReq
	MsgListFileReferencesRsp
	msgMax
)

// DefaultSockPath is used when the config omits <Listen>.
const DefaultSockPath = "/tmp/symdb.sock"

// Fixed error strings carried in response Error fields.
const (
	ErrStrProjectNotFound  = "project not found"
	ErrStrSymbolNotFound   = "symbol not found"
	ErrStrProjHomeNotExist = "project home not exists"
	ErrStrInvalidProjName  = "invalid project name: only lower letters and underscore allowed"
)

// projNameRe validates project names.
var projNameRe = regexp.MustCompile(`^[A-Za-z0-9_]+$`)

// IsValidProjectName reports whether a project name is acceptable.
func IsValidProjectName(name string) bool {
	return projNameRe.MatchString(name)
}

// headSize is the encoded size of MessageHead: two little-endian int32s.
const headSize = 8

// fixedHeaderSize is the leading {msg_size, pb_head_size} pair.
const fixedHeaderSize = 4

// MessageHead precedes every body and pairs requests with responses.
type MessageHead struct {
	MsgID    int32
	BodySize int32
}

// WriteMessage frames and writes one message.
func WriteMessage(w io.Writer, msgID int32, body any) error {
	bodyData, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("protocol: marshal body: %w", err)
	}

	msgSize := headSize + len(bodyData)
	if msgSize > 0xFFFF {
		return fmt.Errorf("protocol: message too large: %d bytes", msgSize)
	}

	buf := make([]byte, fixedHeaderSize+msgSize)
	binary.NativeEndian.PutUint16(buf[0:], uint16(msgSize))
	binary.NativeEndian.PutUint16(buf[2:], uint16(headSize))
	binary.LittleEndian.PutUint32(buf[4:], uint32(msgID))
	binary.LittleEndian.PutUint32(buf[8:], uint32(len(bodyData)))
	copy(buf[12:], bodyData)

	_, err = w.Write(buf)
	return err
}

// ReadMessage reads one framed message and returns its id and raw body.
func ReadMessage(r io.Reader) (int32, []byte, error) {
	var fixed [fixedHeaderSize]byte
	if _, err := io.ReadFull(r, fixed[:]); err != nil {
		return 0, nil, err
	}
	msgSize := int(binary.NativeEndian.Uint16(fixed[0:]))
	pbHeadSize := int(binary.NativeEndian.Uint16(fixed[2:]))
	if pbHeadSize > msgSize || pbHeadSize != headSize {
		return 0, nil, fmt.Errorf("protocol: bad header sizes %d/%d", msgSize, pbHeadSize)
	}

	payload := make([]byte, msgSize)
	if _, err := io.ReadFull(r, payload); err != nil {
		return 0, nil, err
	}

	head := MessageHead{
		MsgID:    int32(binary.LittleEndian.Uint32(payload[0:])),
		BodySize: int32(binary.LittleEndian.Uint32(payload[4:])),
	}
	body := payload[headSize:]
	if int(head.BodySize) != len(body) {
		return 0, nil, fmt.Errorf("protocol: body size mismatch %d != %d",
			head.BodySize, len(body))
	}
	if head.MsgID <= MsgInvalid || head.MsgID >= msgMax {
		return head.MsgID, body, fmt.Errorf("protocol: unknown msg_id %d", head.MsgID)
	}
	return head.MsgID, body, nil
}
