package zcl

import (
	"encoding/binary"
	"fmt"
)

// On/Off cluster identifiers handled by the server side of the store.
const (
	ClusterOnOff uint16 = 0x0006
	AttrOnOff    uint16 = 0x0000

	CmdOff    uint8 = 0x00
	CmdOn     uint8 = 0x01
	CmdToggle uint8 = 0x02
)

// HandleFrame processes one client-to-server ZCL frame addressed to a local
// endpoint and cluster. It returns the response frame, or nil when nothing
// should be sent back.
func (s *Store) HandleFrame(ep uint8, cluster uint16, frame []byte) []byte {
	hdr, payload, err := ParseHeader(frame)
	if err != nil {
		s.logger.Debug("zcl frame dropped", "ep", ep, "cluster", fmt.Sprintf("0x%04X", cluster), "err", err)
		return nil
	}
	if hdr.ServerToClient() {
		// Responses and reports from another server; nothing to do here.
		return nil
	}

	s.mu.RLock()
	def := s.clusters[ep][cluster]
	s.mu.RUnlock()
	if def == nil {
		return reply(hdr, StatusUnsupportedCluster)
	}

	if hdr.MfrSpecific() {
		if hdr.FrameType() == FrameTypeCluster {
			return reply(hdr, StatusUnsupManufClusterCommand)
		}
		return reply(hdr, StatusUnsupManufGeneralCommand)
	}

	switch hdr.FrameType() {
	case FrameTypeGlobal:
		return s.handleGlobal(ep, def, hdr, payload)
	case FrameTypeCluster:
		return s.handleClusterCommand(ep, def, hdr, payload)
	}
	return nil
}

// reply returns a Default Response unless it reports success and the sender
// disabled default responses.
func reply(hdr Header, status uint8) []byte {
	if status == StatusSuccess && hdr.DefaultRspDisabled() {
		return nil
	}
	return DefaultResponse(hdr, status)
}

func (s *Store) handleGlobal(ep uint8, def *ClusterDef, hdr Header, payload []byte) []byte {
	switch hdr.CommandID {
	case CmdReadAttributes:
		return s.readAttributes(ep, def, hdr, payload)
	case CmdWriteAttributes, CmdWriteAttributesUndiv, CmdWriteAttributesNoRsp:
		return s.writeAttributes(ep, def, hdr, payload)
	}
	return reply(hdr, StatusUnsupGeneralCommand)
}

func (s *Store) readAttributes(ep uint8, def *ClusterDef, hdr Header, payload []byte) []byte {
	if len(payload)%2 != 0 {
		return reply(hdr, StatusMalformedCommand)
	}
	buf := replyHeader(hdr, FrameTypeGlobal, CmdReadAttributesRsp).AppendTo(nil)

	s.mu.RLock()
	defer s.mu.RUnlock()
	for i := 0; i+1 < len(payload); i += 2 {
		id := binary.LittleEndian.Uint16(payload[i:])
		buf = binary.LittleEndian.AppendUint16(buf, id)
		slot, ok := s.attrs[attrKey{ep, def.ID, id}]
		if !ok || !slot.def.IsReadable() {
			buf = append(buf, StatusUnsupportedAttribute)
			continue
		}
		buf = append(buf, StatusSuccess, slot.def.Type)
		buf = append(buf, slot.raw...)
	}
	return buf
}

type writeRecord struct {
	attrID uint16
	typ    uint8
	raw    []byte
	status uint8
	known  bool
}

func parseWriteRecords(payload []byte) ([]writeRecord, error) {
	var recs []writeRecord
	for len(payload) > 0 {
		if len(payload) < 3 {
			return nil, fmt.Errorf("zcl: write record header truncated")
		}
		rec := writeRecord{
			attrID: binary.LittleEndian.Uint16(payload[0:2]),
			typ:    payload[2],
		}
		n, err := ValueLen(rec.typ, payload[3:])
		if err != nil {
			return nil, err
		}
		rec.raw = append([]byte(nil), payload[3:3+n]...)
		recs = append(recs, rec)
		payload = payload[3+n:]
	}
	return recs, nil
}

func (s *Store) writeAttributes(ep uint8, def *ClusterDef, hdr Header, payload []byte) []byte {
	noRsp := hdr.CommandID == CmdWriteAttributesNoRsp
	undivided := hdr.CommandID == CmdWriteAttributesUndiv

	recs, err := parseWriteRecords(payload)
	if err != nil {
		s.logger.Warn("malformed write attributes", "ep", ep, "cluster", def.Name, "err", err)
		if noRsp {
			return nil
		}
		return reply(hdr, StatusMalformedCommand)
	}

	s.mu.Lock()
	failed := false
	for i := range recs {
		r := &recs[i]
		slot, ok := s.attrs[attrKey{ep, def.ID, r.attrID}]
		switch {
		case !ok:
			r.status = StatusUnsupportedAttribute
		case r.typ != slot.def.Type:
			r.known = true
			r.status = StatusInvalidDataType
		case !slot.def.IsWritable():
			r.known = true
			r.status = StatusReadOnly
		default:
			r.known = true
			r.status = StatusSuccess
		}
		if r.status != StatusSuccess {
			failed = true
		}
	}
	apply := !(undivided && failed)
	for i := range recs {
		r := &recs[i]
		if r.status != StatusSuccess {
			continue
		}
		if !apply {
			r.status = StatusFailure
			continue
		}
		s.attrs[attrKey{ep, def.ID, r.attrID}].raw = r.raw
	}
	s.mu.Unlock()

	for _, r := range recs {
		if !r.known {
			s.logger.Debug("write to unsupported attribute", "ep", ep, "cluster", def.Name, "attr", fmt.Sprintf("0x%04X", r.attrID))
			continue
		}
		s.notify(AttributeChange{
			Status:    r.status,
			Endpoint:  ep,
			ClusterID: def.ID,
			AttrID:    r.attrID,
			Type:      r.typ,
			Value:     r.raw,
		})
	}

	if noRsp {
		return nil
	}
	buf := replyHeader(hdr, FrameTypeGlobal, CmdWriteAttributesRsp).AppendTo(nil)
	if !failed {
		return append(buf, StatusSuccess)
	}
	for _, r := range recs {
		// Records that were valid but not applied are not listed.
		if r.status == StatusSuccess || r.status == StatusFailure {
			continue
		}
		buf = append(buf, r.status)
		buf = binary.LittleEndian.AppendUint16(buf, r.attrID)
	}
	return buf
}

func (s *Store) handleClusterCommand(ep uint8, def *ClusterDef, hdr Header, payload []byte) []byte {
	if def.FindCommand(hdr.CommandID) == nil {
		return reply(hdr, StatusUnsupClusterCommand)
	}
	switch def.ID {
	case ClusterOnOff:
		return s.onOffCommand(ep, hdr)
	}
	return reply(hdr, StatusUnsupClusterCommand)
}

func (s *Store) onOffCommand(ep uint8, hdr Header) []byte {
	s.mu.Lock()
	slot, ok := s.attrs[attrKey{ep, ClusterOnOff, AttrOnOff}]
	if !ok {
		s.mu.Unlock()
		return reply(hdr, StatusFailure)
	}
	var on bool
	switch hdr.CommandID {
	case CmdOff:
		on = false
	case CmdOn:
		on = true
	case CmdToggle:
		on = len(slot.raw) == 0 || slot.raw[0] == 0
	default:
		s.mu.Unlock()
		return reply(hdr, StatusUnsupClusterCommand)
	}
	raw := []byte{0}
	if on {
		raw[0] = 1
	}
	slot.raw = raw
	s.mu.Unlock()

	s.notify(AttributeChange{
		Status:    StatusSuccess,
		Endpoint:  ep,
		ClusterID: ClusterOnOff,
		AttrID:    AttrOnOff,
		Type:      TypeBool,
		Value:     []byte{raw[0]},
	})
	return reply(hdr, StatusSuccess)
}
