package clusters

import "zigbee-valve/internal/zcl"

// OnOff is writable so a coordinator can drive the valve with a plain
// Write Attributes as well as with the Off/On/Toggle commands.
var OnOff = zcl.ClusterDef{
	ID:   zcl.ClusterOnOff,
	Name: "On/Off",
	Attributes: []zcl.AttributeDef{
		{ID: zcl.AttrOnOff, Name: "OnOff", Type: zcl.TypeBool, Access: zcl.AccessRead | zcl.AccessWrite | zcl.AccessReport},
	},
	Commands: []zcl.CommandDef{
		{ID: zcl.CmdOff, Name: "Off"},
		{ID: zcl.CmdOn, Name: "On"},
		{ID: zcl.CmdToggle, Name: "Toggle"},
	},
}
