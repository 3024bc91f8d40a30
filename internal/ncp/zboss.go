package ncp

// ZBOSS NCP serial protocol: LL/HL frame codec, CRC8/CRC16, command IDs.
// Reference: Wireshark ZBOSS NCP dissector (packet-zbncp.c/h).

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
)

// --- LL (Low-Level) header constants ---

const (
	zbossSig0         = 0xDE
	zbossSig1         = 0xAD
	zbossLLHeaderSize = 7 // sig(2) + len(2) + type(1) + flags(1) + crc8(1)
	zbossBodyCRCSize  = 2 // CRC16 at start of body
	zbossMaxLLSize    = 512
)

// LL packet type (always 0x06 for ZBOSS NCP API HL; ACK vs DATA is in flags).
const zbossLLType uint8 = 0x06

// LL flags bitmask.
const (
	zbossFlagACK         = 0x01
	zbossFlagRetrans     = 0x02
	zbossFlagPktSeqMask  = 0x0C
	zbossFlagPktSeqShift = 2
	zbossFlagAckSeqMask  = 0x30
	zbossFlagAckSeqShift = 4
	zbossFlagFirstFrag   = 0x40
	zbossFlagLastFrag    = 0x80
)

// --- HL (High-Level) header constants ---

const (
	zbossHLVersion    uint8 = 0x00
	zbossHLRequest    uint8 = 0x00
	zbossHLResponse   uint8 = 0x01
	zbossHLIndication uint8 = 0x02
)

// --- Command IDs (call_id) ---

const (
	// NCP management
	zbossCmdGetModuleVersion uint16 = 0x0001
	zbossCmdNCPReset         uint16 = 0x0002
	zbossCmdSetZigbeeRole    uint16 = 0x0005
	zbossCmdSetChannelMask   uint16 = 0x0007
	zbossCmdGetChannel       uint16 = 0x0008
	zbossCmdGetPanID         uint16 = 0x0009
	zbossCmdGetLocalIEEE     uint16 = 0x000B
	zbossCmdSetRxOnWhenIdle  uint16 = 0x0013
	zbossCmdSetEDTimeout     uint16 = 0x0017
	zbossCmdGetExtPanID      uint16 = 0x0023
	zbossCmdNCPResetInd      uint16 = 0x002B

	// AF
	zbossCmdAFSetSimpleDesc uint16 = 0x0101

	// APS
	zbossCmdAPSDEDataReq uint16 = 0x0301
	zbossCmdAPSDEDataInd uint16 = 0x0306

	// NWK
	zbossCmdNwkDiscovery        uint16 = 0x0402
	zbossCmdNwkNLMEJoin         uint16 = 0x0403
	zbossCmdNwkLeaveInd         uint16 = 0x040B
	zbossCmdNwkStartWithoutForm uint16 = 0x041D
)

// zbossCmdName returns a human-readable name for a ZBOSS command ID.
func zbossCmdName(id uint16) string {
	switch id {
	case zbossCmdGetModuleVersion:
		return "GetModuleVersion"
	case zbossCmdNCPReset:
		return "NCPReset"
	case zbossCmdSetZigbeeRole:
		return "SetZigbeeRole"
	case zbossCmdSetChannelMask:
		return "SetChannelMask"
	case zbossCmdGetChannel:
		return "GetChannel"
	case zbossCmdGetPanID:
		return "GetPanID"
	case zbossCmdGetLocalIEEE:
		return "GetLocalIEEE"
	case zbossCmdSetRxOnWhenIdle:
		return "SetRxOnWhenIdle"
	case zbossCmdSetEDTimeout:
		return "SetEDTimeout"
	case zbossCmdGetExtPanID:
		return "GetExtPanID"
	case zbossCmdNCPResetInd:
		return "NCPResetInd"
	case zbossCmdAFSetSimpleDesc:
		return "AFSetSimpleDesc"
	case zbossCmdAPSDEDataReq:
		return "APSDE_DataReq"
	case zbossCmdAPSDEDataInd:
		return "APSDE_DataInd"
	case zbossCmdNwkDiscovery:
		return "NwkDiscovery"
	case zbossCmdNwkNLMEJoin:
		return "NwkNLMEJoin"
	case zbossCmdNwkLeaveInd:
		return "NwkLeaveInd"
	case zbossCmdNwkStartWithoutForm:
		return "NwkStartWithoutForm"
	default:
		return fmt.Sprintf("0x%04X", id)
	}
}

// zbossStatusName returns a human-readable status description.
func zbossStatusName(cat, code uint8) string {
	if cat == 0 && code == 0 {
		return "OK"
	}
	catName := "Generic"
	switch cat {
	case zbossStatusMAC:
		catName = "MAC"
	case zbossStatusNWK:
		catName = "NWK"
	case zbossStatusAPS:
		catName = "APS"
	case 5:
		catName = "ZDO"
	case 6:
		catName = "CBKE"
	}
	return fmt.Sprintf("%s/%d(0x%02X)", catName, code, code)
}

// Response status categories.
const (
	zbossStatusGeneric uint8 = 0x00
	zbossStatusMAC     uint8 = 0x02
	zbossStatusNWK     uint8 = 0x03
	zbossStatusAPS     uint8 = 0x04
)

// MAC status reported by NwkDiscovery when no beacon was heard.
const zbossMACNoBeacon uint8 = 0xEA

// APSDE address modes.
const (
	zbossAddrModeShort uint8 = 0x02
	zbossAddrModeIEEE  uint8 = 0x03
)

// NLME-JOIN capability information: allocate address, battery powered,
// receiver off when idle, end device.
const zbossCapabilitySleepyED uint8 = 0x80

// Scan duration exponent used for discovery and join (~500 ms per channel).
const zbossScanDuration uint8 = 0x05

// --- Frame types ---

// zbossLLHeader is the low-level header.
type zbossLLHeader struct {
	Length uint16
	Type   uint8
	Flags  uint8
}

// zbossHLHeader is the high-level header.
type zbossHLHeader struct {
	Version    uint8
	PacketType uint8
	CallID     uint16
	TSN        uint8 // only for Request/Response
	StatusCat  uint8 // only for Response
	StatusCode uint8 // only for Response
}

// zbossFrame is a complete parsed ZBOSS NCP frame (LL + HL + payload).
type zbossFrame struct {
	LL      zbossLLHeader
	HL      zbossHLHeader
	Payload []byte
}

func (f *zbossFrame) statusOK() bool {
	return f.HL.StatusCat == 0 && f.HL.StatusCode == 0
}

// --- Flag helpers ---

func zbossLLPktSeq(flags uint8) uint8 {
	return (flags >> zbossFlagPktSeqShift) & 0x03
}

func zbossLLAckSeq(flags uint8) uint8 {
	return (flags >> zbossFlagAckSeqShift) & 0x03
}

func zbossLLIsACK(flags uint8) bool {
	return flags&zbossFlagACK != 0
}

// --- CRC-8/KOOP (reflected poly=0xB2 i.e. normal 0x4D, init=0xFF, xorout=0xFF) ---

var crc8Table [256]uint8

// fcsTable drives the reflected CRC-16 (poly=0x8408) over the HL body.
var fcsTable [256]uint16

func init() {
	const poly8 = 0xB2 // reflected form of 0x4D
	const poly16 = 0x8408
	for i := 0; i < 256; i++ {
		c8 := uint8(i)
		c16 := uint16(i)
		for bit := 0; bit < 8; bit++ {
			if c8&1 != 0 {
				c8 = (c8 >> 1) ^ poly8
			} else {
				c8 >>= 1
			}
			if c16&1 != 0 {
				c16 = (c16 >> 1) ^ poly16
			} else {
				c16 >>= 1
			}
		}
		crc8Table[i] = c8
		fcsTable[i] = c16
	}
}

func zbossCRC8(data []byte) uint8 {
	crc := uint8(0xFF)
	for _, b := range data {
		crc = crc8Table[crc^b]
	}
	return crc ^ 0xFF
}

// --- CRC-16 reflected (poly=0x8408, init=0x0000, xorout=0x0000) ---

func zbossCRC16(data []byte) uint16 {
	crc := uint16(0x0000)
	for _, b := range data {
		crc = (crc >> 8) ^ fcsTable[(crc^uint16(b))&0xFF]
	}
	return crc
}

// --- Encode ---

// zbossEncodeRequest builds a complete ZBOSS frame for an HL request.
// pktSeq is the 2-bit LL packet sequence number.
func zbossEncodeRequest(callID uint16, tsn uint8, pktSeq uint8, payload []byte) []byte {
	// HL header: version(1) + type(1) + callID(2) + tsn(1) = 5 bytes
	hlData := make([]byte, 5+len(payload))
	hlData[0] = zbossHLVersion
	hlData[1] = zbossHLRequest
	binary.LittleEndian.PutUint16(hlData[2:4], callID)
	hlData[4] = tsn
	copy(hlData[5:], payload)

	return zbossEncodeDataFrame(pktSeq, hlData)
}

// zbossEncodeDataFrame wraps HL data in an LL data frame.
func zbossEncodeDataFrame(pktSeq uint8, hlData []byte) []byte {
	bodyCRC := zbossCRC16(hlData)

	bodyLen := zbossBodyCRCSize + len(hlData)
	// Size includes: size_field(2) + type(1) + flags(1) + crc8(1) + body
	llSize := uint16(5 + bodyLen)

	flags := uint8(zbossFlagFirstFrag | zbossFlagLastFrag)
	flags |= (pktSeq << zbossFlagPktSeqShift) & zbossFlagPktSeqMask

	frame := make([]byte, 2+int(llSize))
	frame[0] = zbossSig0
	frame[1] = zbossSig1
	binary.LittleEndian.PutUint16(frame[2:4], llSize)
	frame[4] = zbossLLType
	frame[5] = flags
	frame[6] = zbossCRC8(frame[2:6])

	binary.LittleEndian.PutUint16(frame[7:9], bodyCRC)
	copy(frame[9:], hlData)

	return frame
}

// zbossEncodeACK builds an LL ACK frame (7 bytes, no body).
func zbossEncodeACK(ackSeq uint8) []byte {
	frame := make([]byte, zbossLLHeaderSize)
	frame[0] = zbossSig0
	frame[1] = zbossSig1
	binary.LittleEndian.PutUint16(frame[2:4], 5) // size(2)+type(1)+flags(1)+crc8(1)
	frame[4] = zbossLLType
	frame[5] = zbossFlagACK | ((ackSeq << zbossFlagAckSeqShift) & zbossFlagAckSeqMask)
	frame[6] = zbossCRC8(frame[2:6])
	return frame
}

// --- Decode ---

// readRawZBOSSFrame reads one LL frame from r, skipping any bytes before the
// signature. The returned slice includes the signature.
func readRawZBOSSFrame(r *bufio.Reader) ([]byte, error) {
	for {
		b, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		if b != zbossSig0 {
			continue
		}
		next, err := r.Peek(1)
		if err != nil {
			return nil, err
		}
		if next[0] == zbossSig1 {
			_, _ = r.ReadByte()
			break
		}
	}

	var sizeBuf [2]byte
	if _, err := io.ReadFull(r, sizeBuf[:]); err != nil {
		return nil, err
	}
	llSize := binary.LittleEndian.Uint16(sizeBuf[:])
	if llSize < 5 || llSize > zbossMaxLLSize {
		return nil, fmt.Errorf("zboss: bad LL size %d", llSize)
	}

	frame := make([]byte, 2+int(llSize))
	frame[0] = zbossSig0
	frame[1] = zbossSig1
	copy(frame[2:4], sizeBuf[:])
	if _, err := io.ReadFull(r, frame[4:]); err != nil {
		return nil, err
	}
	return frame, nil
}

// zbossDecodeFrame parses a complete ZBOSS frame from raw bytes.
func zbossDecodeFrame(data []byte) (*zbossFrame, error) {
	if len(data) < zbossLLHeaderSize {
		return nil, fmt.Errorf("zboss: frame too short: %d bytes", len(data))
	}
	if data[0] != zbossSig0 || data[1] != zbossSig1 {
		return nil, fmt.Errorf("zboss: bad signature: 0x%02X%02X", data[0], data[1])
	}

	llSize := binary.LittleEndian.Uint16(data[2:4])
	llType := data[4]
	llFlags := data[5]
	llCRC := data[6]

	if got := zbossCRC8(data[2:6]); llCRC != got {
		return nil, fmt.Errorf("zboss: LL CRC8 mismatch: got 0x%02X, want 0x%02X", llCRC, got)
	}
	if llType != zbossLLType {
		return nil, fmt.Errorf("zboss: unexpected LL type: 0x%02X", llType)
	}
	if int(llSize)+2 > len(data) {
		return nil, fmt.Errorf("zboss: frame truncated: need %d, have %d", llSize+2, len(data))
	}

	f := &zbossFrame{
		LL: zbossLLHeader{
			Length: llSize,
			Type:   llType,
			Flags:  llFlags,
		},
	}

	// ACK frames have no body.
	if zbossLLIsACK(llFlags) {
		return f, nil
	}

	body := data[zbossLLHeaderSize : 2+llSize]
	if len(body) < zbossBodyCRCSize {
		return nil, fmt.Errorf("zboss: body too short for CRC16: %d bytes", len(body))
	}

	bodyCRC := binary.LittleEndian.Uint16(body[0:2])
	hlData := body[2:]
	if got := zbossCRC16(hlData); bodyCRC != got {
		return nil, fmt.Errorf("zboss: body CRC16 mismatch: got 0x%04X, want 0x%04X", bodyCRC, got)
	}
	if len(hlData) < 4 {
		return nil, fmt.Errorf("zboss: HL data too short: %d bytes", len(hlData))
	}

	f.HL.Version = hlData[0]
	f.HL.PacketType = hlData[1]
	f.HL.CallID = binary.LittleEndian.Uint16(hlData[2:4])

	pos := 4
	switch f.HL.PacketType {
	case zbossHLRequest:
		if len(hlData) < 5 {
			return nil, fmt.Errorf("zboss: request HL too short for TSN")
		}
		f.HL.TSN = hlData[4]
		pos = 5
	case zbossHLResponse:
		if len(hlData) < 7 {
			return nil, fmt.Errorf("zboss: response HL too short")
		}
		f.HL.TSN = hlData[4]
		f.HL.StatusCat = hlData[5]
		f.HL.StatusCode = hlData[6]
		pos = 7
	case zbossHLIndication:
	default:
		return nil, fmt.Errorf("zboss: unknown HL packet type: 0x%02X", f.HL.PacketType)
	}

	if pos < len(hlData) {
		f.Payload = make([]byte, len(hlData)-pos)
		copy(f.Payload, hlData[pos:])
	}
	return f, nil
}

// --- Payload builders and parsers ---

// buildSimpleDescPayload builds AF_SET_SIMPLE_DESC payload.
func buildSimpleDescPayload(d SimpleDescriptor) []byte {
	buf := make([]byte, 8+len(d.InClusters)*2+len(d.OutClusters)*2)
	buf[0] = d.Endpoint
	binary.LittleEndian.PutUint16(buf[1:3], d.ProfileID)
	binary.LittleEndian.PutUint16(buf[3:5], d.DeviceID)
	buf[5] = d.DeviceVersion
	buf[6] = uint8(len(d.InClusters))
	buf[7] = uint8(len(d.OutClusters))
	pos := 8
	for _, c := range d.InClusters {
		binary.LittleEndian.PutUint16(buf[pos:pos+2], c)
		pos += 2
	}
	for _, c := range d.OutClusters {
		binary.LittleEndian.PutUint16(buf[pos:pos+2], c)
		pos += 2
	}
	return buf
}

// buildChannelMask builds SET_CHANNEL_MASK payload: page(1) + mask(4).
func buildChannelMask(mask uint32) []byte {
	buf := make([]byte, 5)
	binary.LittleEndian.PutUint32(buf[1:], mask)
	return buf
}

// buildNwkDiscovery builds NWK_DISCOVERY payload:
// channel_list_len(1) + [page(1) + mask(4)] + scan_duration(1).
func buildNwkDiscovery(mask uint32) []byte {
	buf := make([]byte, 7)
	buf[0] = 0x01
	binary.LittleEndian.PutUint32(buf[2:6], mask)
	buf[6] = zbossScanDuration
	return buf
}

// networkDescriptor is one entry of an NWK_DISCOVERY response.
type networkDescriptor struct {
	ExtPanID   [8]byte
	PanID      uint16
	UpdateID   uint8
	Channel    uint8
	PermitJoin bool
	RouterCap  bool
	EDCap      bool
	LQI        uint8
	RSSI       int8
}

// parseNetworkDescriptors decodes network_count(1) + descriptors[count*16].
// Each descriptor: ext_pan_id(8) + pan_id(2) + nwk_update_id(1) +
// channel_page(1) + channel(1) + flags(1) + lqi(1) + rssi(1).
func parseNetworkDescriptors(payload []byte) []networkDescriptor {
	if len(payload) < 1 {
		return nil
	}
	count := int(payload[0])
	const descSize = 16
	out := make([]networkDescriptor, 0, count)
	for i := 0; i < count; i++ {
		off := 1 + i*descSize
		if off+descSize > len(payload) {
			break
		}
		d := payload[off : off+descSize]
		nd := networkDescriptor{
			PanID:    binary.LittleEndian.Uint16(d[8:10]),
			UpdateID: d[10],
			Channel:  d[12],
			LQI:      d[14],
			RSSI:     int8(d[15]),
		}
		copy(nd.ExtPanID[:], d[0:8])
		flags := d[13]
		nd.PermitJoin = flags&0x01 != 0
		nd.RouterCap = flags&0x02 != 0
		nd.EDCap = flags&0x04 != 0
		out = append(out, nd)
	}
	return out
}

// pickNetwork returns the open network with end device capacity and the best
// link quality.
func pickNetwork(nets []networkDescriptor) (networkDescriptor, bool) {
	var best networkDescriptor
	found := false
	for _, nd := range nets {
		if !nd.PermitJoin || !nd.EDCap {
			continue
		}
		if !found || nd.LQI > best.LQI {
			best = nd
			found = true
		}
	}
	return best, found
}

// buildNLMEJoin builds NWK_NLME_JOIN payload: ext_pan_id(8) + rejoin(1) +
// channel_list_len(1) + [page(1) + mask(4)] + scan_duration(1) +
// capability(1) + security_enable(1).
func buildNLMEJoin(extPanID [8]byte, channel uint8) []byte {
	buf := make([]byte, 17)
	copy(buf[0:8], extPanID[:])
	buf[8] = 0x00 // association, not rejoin
	buf[9] = 0x01
	buf[10] = 0x00
	binary.LittleEndian.PutUint32(buf[11:15], 1<<uint(channel))
	buf[15] = zbossScanDuration
	buf[16] = zbossCapabilitySleepyED
	return buf
}

// joinResult is the NWK_NLME_JOIN response: short_addr(2) + ext_pan_id(8) +
// channel_page(1) + channel(1) + enhanced_beacon(1) + mac_interface(1).
type joinResult struct {
	ShortAddr uint16
	ExtPanID  [8]byte
	Channel   uint8
}

func parseJoinResult(payload []byte) (joinResult, error) {
	if len(payload) < 12 {
		return joinResult{}, fmt.Errorf("zboss: join response too short: %d bytes", len(payload))
	}
	var jr joinResult
	jr.ShortAddr = binary.LittleEndian.Uint16(payload[0:2])
	copy(jr.ExtPanID[:], payload[2:10])
	jr.Channel = payload[11]
	return jr, nil
}

// buildAPSDEDataReq builds the APSDE_DATA_REQ payload.
func buildAPSDEDataReq(dstAddr uint16, dstEP, srcEP uint8, clusterID, profileID uint16, radius uint8, apsData []byte) []byte {
	// param_len(1) + data_len(2) + dst_addr(8) + profile_id(2) + cluster_id(2) +
	// dst_endpoint(1) + src_endpoint(1) + radius(1) + dst_addr_mode(1) +
	// tx_options(1) + use_alias(1) + alias_src_addr(2) + alias_seq_num(1) + data
	const fixedLen = 24
	buf := make([]byte, fixedLen+len(apsData))
	buf[0] = fixedLen - 3 // fixed params excluding param_len+data_len fields
	binary.LittleEndian.PutUint16(buf[1:3], uint16(len(apsData)))
	// dst_addr: 8-byte union, short addr in first 2 bytes
	binary.LittleEndian.PutUint16(buf[3:5], dstAddr)
	binary.LittleEndian.PutUint16(buf[11:13], profileID)
	binary.LittleEndian.PutUint16(buf[13:15], clusterID)
	buf[15] = dstEP
	buf[16] = srcEP
	buf[17] = radius
	buf[18] = zbossAddrModeShort
	buf[19] = 0x04 // tx_options: APS ACK (bit2)
	copy(buf[24:], apsData)
	return buf
}

// parseAPSDEDataInd decodes APSDE_DATA_IND:
// param_len(1) + data_len(2) + aps_fc(1) + src_nwk_addr(2) + dst_nwk_addr(2) +
// group_addr(2) + dst_endpoint(1) + src_endpoint(1) + cluster_id(2) + profile_id(2) +
// aps_counter(1) + src_mac_addr(2) + dst_mac_addr(2) + lqi(1) + rssi(1) + aps_key_attr(1) + data[]
func parseAPSDEDataInd(payload []byte) (Frame, error) {
	const apsHdrSize = 24
	if len(payload) < apsHdrSize {
		return Frame{}, fmt.Errorf("zboss: data indication too short: %d bytes", len(payload))
	}
	dataLen := int(binary.LittleEndian.Uint16(payload[1:3]))
	if dataLen == 0 || len(payload) < apsHdrSize+dataLen {
		return Frame{}, fmt.Errorf("zboss: data indication length %d exceeds payload", dataLen)
	}
	f := Frame{
		SrcAddr:   binary.LittleEndian.Uint16(payload[4:6]),
		DstEP:     payload[10],
		SrcEP:     payload[11],
		ClusterID: binary.LittleEndian.Uint16(payload[12:14]),
		ProfileID: binary.LittleEndian.Uint16(payload[14:16]),
		LQI:       payload[21],
		RSSI:      int8(payload[22]),
	}
	f.Payload = make([]byte, dataLen)
	copy(f.Payload, payload[apsHdrSize:apsHdrSize+dataLen])
	return f, nil
}
