package clusters

import "zigbee-valve/internal/zcl"

const GroupsNameSupport uint16 = 0x0000

var Groups = zcl.ClusterDef{
	ID:   0x0004,
	Name: "Groups",
	Attributes: []zcl.AttributeDef{
		{ID: GroupsNameSupport, Name: "NameSupport", Type: zcl.TypeBitmap8, Access: zcl.AccessRead},
	},
}
