package zcl

import (
	"encoding/binary"
	"fmt"
)

// ProfileHA is the Home Automation profile ID.
const ProfileHA uint16 = 0x0104

// Foundation (global) command IDs.
const (
	CmdReadAttributes        uint8 = 0x00
	CmdReadAttributesRsp     uint8 = 0x01
	CmdWriteAttributes       uint8 = 0x02
	CmdWriteAttributesUndiv  uint8 = 0x03
	CmdWriteAttributesRsp    uint8 = 0x04
	CmdWriteAttributesNoRsp  uint8 = 0x05
	CmdConfigureReporting    uint8 = 0x06
	CmdReportAttributes      uint8 = 0x0A
	CmdDefaultResponse       uint8 = 0x0B
	CmdDiscoverAttributes    uint8 = 0x0C
	CmdDiscoverAttributesRsp uint8 = 0x0D
)

// ZCL status codes.
const (
	StatusSuccess                  uint8 = 0x00
	StatusFailure                  uint8 = 0x01
	StatusMalformedCommand         uint8 = 0x80
	StatusUnsupClusterCommand      uint8 = 0x81
	StatusUnsupGeneralCommand      uint8 = 0x82
	StatusUnsupManufClusterCommand uint8 = 0x83
	StatusUnsupManufGeneralCommand uint8 = 0x84
	StatusUnsupportedAttribute     uint8 = 0x86
	StatusInvalidValue             uint8 = 0x87
	StatusReadOnly                 uint8 = 0x88
	StatusInvalidDataType          uint8 = 0x8D
	StatusUnsupportedCluster       uint8 = 0xC3
)

// Frame control bits.
const (
	FrameTypeGlobal       uint8 = 0x00
	FrameTypeCluster      uint8 = 0x01
	FrameTypeMask         uint8 = 0x03
	FlagMfrSpecific       uint8 = 0x04
	FlagServerToClient    uint8 = 0x08
	FlagDisableDefaultRsp uint8 = 0x10
)

// Header is a parsed ZCL frame header.
type Header struct {
	FrameControl uint8
	MfrCode      uint16 // valid when FlagMfrSpecific is set
	Seq          uint8
	CommandID    uint8
}

func (h Header) FrameType() uint8 { return h.FrameControl & FrameTypeMask }

func (h Header) MfrSpecific() bool { return h.FrameControl&FlagMfrSpecific != 0 }

func (h Header) ServerToClient() bool { return h.FrameControl&FlagServerToClient != 0 }

func (h Header) DefaultRspDisabled() bool { return h.FrameControl&FlagDisableDefaultRsp != 0 }

// ParseHeader splits a ZCL frame into its header and payload.
func ParseHeader(frame []byte) (Header, []byte, error) {
	if len(frame) < 3 {
		return Header{}, nil, fmt.Errorf("zcl: frame too short: %d bytes", len(frame))
	}
	h := Header{FrameControl: frame[0]}
	pos := 1
	if h.MfrSpecific() {
		if len(frame) < 5 {
			return Header{}, nil, fmt.Errorf("zcl: manufacturer frame too short: %d bytes", len(frame))
		}
		h.MfrCode = binary.LittleEndian.Uint16(frame[1:3])
		pos = 3
	}
	h.Seq = frame[pos]
	h.CommandID = frame[pos+1]
	return h, frame[pos+2:], nil
}

// AppendTo appends the encoded header to buf.
func (h Header) AppendTo(buf []byte) []byte {
	buf = append(buf, h.FrameControl)
	if h.MfrSpecific() {
		buf = binary.LittleEndian.AppendUint16(buf, h.MfrCode)
	}
	return append(buf, h.Seq, h.CommandID)
}

// replyHeader builds the header of a server-to-client answer to req.
func replyHeader(req Header, frameType, cmdID uint8) Header {
	fc := frameType | FlagServerToClient | FlagDisableDefaultRsp
	if req.MfrSpecific() {
		fc |= FlagMfrSpecific
	}
	return Header{FrameControl: fc, MfrCode: req.MfrCode, Seq: req.Seq, CommandID: cmdID}
}

// DefaultResponse builds a Default Response to req carrying status.
func DefaultResponse(req Header, status uint8) []byte {
	buf := replyHeader(req, FrameTypeGlobal, CmdDefaultResponse).AppendTo(nil)
	return append(buf, req.CommandID, status)
}
