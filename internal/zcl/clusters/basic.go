package clusters

import "zigbee-valve/internal/zcl"

// Basic attribute IDs.
const (
	BasicZCLVersion       uint16 = 0x0000
	BasicAppVersion       uint16 = 0x0001
	BasicManufacturerName uint16 = 0x0004
	BasicModelIdentifier  uint16 = 0x0005
	BasicPowerSource      uint16 = 0x0007
	BasicSWBuildID        uint16 = 0x4000
)

// PowerSource values (lower 7 bits of the PowerSource attribute).
const (
	PowerSourceUnknown uint8 = 0x00
	PowerSourceMains   uint8 = 0x01
	PowerSourceBattery uint8 = 0x03
	PowerSourceDC      uint8 = 0x04
)

var Basic = zcl.ClusterDef{
	ID:   0x0000,
	Name: "Basic",
	Attributes: []zcl.AttributeDef{
		{ID: BasicZCLVersion, Name: "ZCLVersion", Type: zcl.TypeUint8, Access: zcl.AccessRead},
		{ID: BasicAppVersion, Name: "ApplicationVersion", Type: zcl.TypeUint8, Access: zcl.AccessRead},
		{ID: BasicManufacturerName, Name: "ManufacturerName", Type: zcl.TypeCharStr, Access: zcl.AccessRead},
		{ID: BasicModelIdentifier, Name: "ModelIdentifier", Type: zcl.TypeCharStr, Access: zcl.AccessRead},
		{ID: BasicPowerSource, Name: "PowerSource", Type: zcl.TypeEnum8, Access: zcl.AccessRead},
		{ID: BasicSWBuildID, Name: "SWBuildID", Type: zcl.TypeCharStr, Access: zcl.AccessRead},
	},
}
