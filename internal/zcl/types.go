package zcl

import (
	"encoding/binary"
	"fmt"
	"math"
)

// ZCL data type IDs used by the hosted clusters.
const (
	TypeNoData   uint8 = 0x00
	TypeBool     uint8 = 0x10
	TypeBitmap8  uint8 = 0x18
	TypeBitmap16 uint8 = 0x19
	TypeUint8    uint8 = 0x20
	TypeUint16   uint8 = 0x21
	TypeUint32   uint8 = 0x23
	TypeInt8     uint8 = 0x28
	TypeInt16    uint8 = 0x29
	TypeEnum8    uint8 = 0x30
	TypeEnum16   uint8 = 0x31
	TypeOctetStr uint8 = 0x41
	TypeCharStr  uint8 = 0x42
)

// TypeSize returns the fixed size in bytes of a ZCL type, or -1 for
// length-prefixed and unsupported types.
func TypeSize(typeID uint8) int {
	switch typeID {
	case TypeNoData:
		return 0
	case TypeBool, TypeBitmap8, TypeUint8, TypeInt8, TypeEnum8:
		return 1
	case TypeBitmap16, TypeUint16, TypeInt16, TypeEnum16:
		return 2
	case TypeUint32:
		return 4
	}
	return -1
}

// TypeName returns a short name for a ZCL type.
func TypeName(typeID uint8) string {
	switch typeID {
	case TypeNoData:
		return "nodata"
	case TypeBool:
		return "bool"
	case TypeBitmap8:
		return "map8"
	case TypeBitmap16:
		return "map16"
	case TypeUint8:
		return "uint8"
	case TypeUint16:
		return "uint16"
	case TypeUint32:
		return "uint32"
	case TypeInt8:
		return "int8"
	case TypeInt16:
		return "int16"
	case TypeEnum8:
		return "enum8"
	case TypeEnum16:
		return "enum16"
	case TypeOctetStr:
		return "octstr"
	case TypeCharStr:
		return "string"
	}
	return fmt.Sprintf("0x%02X", typeID)
}

// ValueLen returns how many bytes at the start of data hold one value of
// typeID, including any length prefix.
func ValueLen(typeID uint8, data []byte) (int, error) {
	if size := TypeSize(typeID); size >= 0 {
		if len(data) < size {
			return 0, fmt.Errorf("zcl: %s needs %d bytes, have %d", TypeName(typeID), size, len(data))
		}
		return size, nil
	}
	switch typeID {
	case TypeOctetStr, TypeCharStr:
		if len(data) < 1 {
			return 0, fmt.Errorf("zcl: %s missing length byte", TypeName(typeID))
		}
		n := int(data[0])
		if n == 0xFF { // invalid / not set
			return 1, nil
		}
		if len(data) < 1+n {
			return 0, fmt.Errorf("zcl: %s truncated: need %d, have %d", TypeName(typeID), n, len(data)-1)
		}
		return 1 + n, nil
	}
	return 0, fmt.Errorf("zcl: unsupported type 0x%02X", typeID)
}

// DecodeValue decodes one value and reports the bytes consumed.
func DecodeValue(typeID uint8, data []byte) (any, int, error) {
	n, err := ValueLen(typeID, data)
	if err != nil {
		return nil, 0, err
	}
	switch typeID {
	case TypeNoData:
		return nil, 0, nil
	case TypeBool:
		return data[0] != 0, n, nil
	case TypeBitmap8, TypeUint8, TypeEnum8:
		return data[0], n, nil
	case TypeInt8:
		return int8(data[0]), n, nil
	case TypeBitmap16, TypeUint16, TypeEnum16:
		return binary.LittleEndian.Uint16(data), n, nil
	case TypeInt16:
		return int16(binary.LittleEndian.Uint16(data)), n, nil
	case TypeUint32:
		return binary.LittleEndian.Uint32(data), n, nil
	case TypeCharStr:
		if n == 1 {
			return "", n, nil
		}
		return string(data[1:n]), n, nil
	case TypeOctetStr:
		b := make([]byte, 0, n-1)
		if n > 1 {
			b = append(b, data[1:n]...)
		}
		return b, n, nil
	}
	return nil, 0, fmt.Errorf("zcl: unsupported type 0x%02X", typeID)
}

// EncodeValue encodes a Go value in ZCL wire format.
func EncodeValue(typeID uint8, val any) ([]byte, error) {
	switch typeID {
	case TypeNoData:
		return nil, nil

	case TypeBool:
		v, ok := toBool(val)
		if !ok {
			return nil, fmt.Errorf("zcl: cannot convert %T to bool", val)
		}
		if v {
			return []byte{1}, nil
		}
		return []byte{0}, nil

	case TypeBitmap8, TypeUint8, TypeEnum8:
		v, ok := toUint64(val)
		if !ok || v > math.MaxUint8 {
			return nil, fmt.Errorf("zcl: %v (%T) does not fit %s", val, val, TypeName(typeID))
		}
		return []byte{uint8(v)}, nil

	case TypeBitmap16, TypeUint16, TypeEnum16:
		v, ok := toUint64(val)
		if !ok || v > math.MaxUint16 {
			return nil, fmt.Errorf("zcl: %v (%T) does not fit %s", val, val, TypeName(typeID))
		}
		return binary.LittleEndian.AppendUint16(nil, uint16(v)), nil

	case TypeUint32:
		v, ok := toUint64(val)
		if !ok || v > math.MaxUint32 {
			return nil, fmt.Errorf("zcl: %v (%T) does not fit uint32", val, val)
		}
		return binary.LittleEndian.AppendUint32(nil, uint32(v)), nil

	case TypeInt8:
		v, ok := toInt64(val)
		if !ok || v < math.MinInt8 || v > math.MaxInt8 {
			return nil, fmt.Errorf("zcl: %v (%T) does not fit int8", val, val)
		}
		return []byte{byte(int8(v))}, nil

	case TypeInt16:
		v, ok := toInt64(val)
		if !ok || v < math.MinInt16 || v > math.MaxInt16 {
			return nil, fmt.Errorf("zcl: %v (%T) does not fit int16", val, val)
		}
		return binary.LittleEndian.AppendUint16(nil, uint16(int16(v))), nil

	case TypeCharStr:
		s, ok := val.(string)
		if !ok {
			return nil, fmt.Errorf("zcl: cannot convert %T to string", val)
		}
		if len(s) > 254 {
			return nil, fmt.Errorf("zcl: string too long: %d (max 254)", len(s))
		}
		return append([]byte{uint8(len(s))}, s...), nil

	case TypeOctetStr:
		b, ok := val.([]byte)
		if !ok {
			return nil, fmt.Errorf("zcl: cannot convert %T to []byte", val)
		}
		if len(b) > 254 {
			return nil, fmt.Errorf("zcl: octet string too long: %d (max 254)", len(b))
		}
		return append([]byte{uint8(len(b))}, b...), nil
	}
	return nil, fmt.Errorf("zcl: encode not implemented for type 0x%02X", typeID)
}

func toBool(v any) (bool, bool) {
	switch val := v.(type) {
	case bool:
		return val, true
	case uint8:
		return val != 0, true
	case int:
		return val != 0, true
	}
	return false, false
}

func toUint64(v any) (uint64, bool) {
	switch val := v.(type) {
	case uint8:
		return uint64(val), true
	case uint16:
		return uint64(val), true
	case uint32:
		return uint64(val), true
	case uint64:
		return val, true
	case int:
		if val < 0 {
			return 0, false
		}
		return uint64(val), true
	}
	return 0, false
}

func toInt64(v any) (int64, bool) {
	switch val := v.(type) {
	case int8:
		return int64(val), true
	case int16:
		return int64(val), true
	case int:
		return int64(val), true
	case uint8:
		return int64(val), true
	}
	return 0, false
}
