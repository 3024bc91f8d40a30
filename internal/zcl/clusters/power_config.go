package clusters

import "zigbee-valve/internal/zcl"

// Power Configuration attribute IDs.
const (
	PowerBatteryVoltage             uint16 = 0x0020
	PowerBatteryPercentageRemaining uint16 = 0x0021
)

// BatteryPercentageRemaining is specified in half-percent units; this device
// publishes whole percent (0-100), which its external converters expect.
var PowerConfiguration = zcl.ClusterDef{
	ID:   0x0001,
	Name: "Power Configuration",
	Attributes: []zcl.AttributeDef{
		{ID: PowerBatteryVoltage, Name: "BatteryVoltage", Type: zcl.TypeUint8, Access: zcl.AccessRead | zcl.AccessReport},
		{ID: PowerBatteryPercentageRemaining, Name: "BatteryPercentageRemaining", Type: zcl.TypeUint8, Access: zcl.AccessRead | zcl.AccessReport},
	},
}
