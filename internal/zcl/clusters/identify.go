package clusters

import "zigbee-valve/internal/zcl"

const IdentifyTime uint16 = 0x0000

var Identify = zcl.ClusterDef{
	ID:   0x0003,
	Name: "Identify",
	Attributes: []zcl.AttributeDef{
		{ID: IdentifyTime, Name: "IdentifyTime", Type: zcl.TypeUint16, Access: zcl.AccessRead | zcl.AccessWrite},
	},
}
