package node

import (
	"fmt"

	"zigbee-valve/internal/zcl"
	"zigbee-valve/internal/zcl/clusters"
)

// Endpoint layout of the valve. External converters match on these values.
const (
	EndpointID     uint8  = 10
	DeviceIDOnOff  uint16 = 0x0002 // On/Off Output
	ZCLVersion     uint8  = 4
	maxIdentityLen        = 32
)

// Identity is what the Basic cluster reports about the device.
type Identity struct {
	ModelID      string
	Manufacturer string
	ZCLVersion   uint8
	PowerSource  uint8
}

// ValveIdentity is the fixed identity of this product.
var ValveIdentity = Identity{
	ModelID:      "ESP32C6.Valve",
	Manufacturer: "Espressif",
	ZCLVersion:   ZCLVersion,
	PowerSource:  clusters.PowerSourceBattery,
}

func (id Identity) validate() error {
	if id.ModelID == "" || len(id.ModelID) > maxIdentityLen {
		return fmt.Errorf("model id must be 1-%d bytes, got %d", maxIdentityLen, len(id.ModelID))
	}
	if id.Manufacturer == "" || len(id.Manufacturer) > maxIdentityLen {
		return fmt.Errorf("manufacturer must be 1-%d bytes, got %d", maxIdentityLen, len(id.Manufacturer))
	}
	return nil
}

// endpoint builds the attribute layout of the valve endpoint. ZCLVersion is
// added as 0 and raised to its real value once the endpoint is registered.
func (id Identity) endpoint() zcl.Endpoint {
	return zcl.Endpoint{
		ID:        EndpointID,
		ProfileID: zcl.ProfileHA,
		DeviceID:  DeviceIDOnOff,
		Clusters: []*zcl.AttributeList{
			zcl.NewAttributeList(clusters.Basic.ID).
				Add(clusters.BasicZCLVersion, uint8(0)).
				Add(clusters.BasicManufacturerName, id.Manufacturer).
				Add(clusters.BasicModelIdentifier, id.ModelID).
				Add(clusters.BasicPowerSource, id.PowerSource),
			zcl.NewAttributeList(clusters.PowerConfiguration.ID).
				Add(clusters.PowerBatteryPercentageRemaining, uint8(0)),
			zcl.NewAttributeList(clusters.Identify.ID).
				Add(clusters.IdentifyTime, uint16(0)),
			zcl.NewAttributeList(clusters.Groups.ID).
				Add(clusters.GroupsNameSupport, uint8(0)),
			zcl.NewAttributeList(clusters.Scenes.ID).
				Add(clusters.ScenesSceneCount, uint8(0)).
				Add(clusters.ScenesCurrentScene, uint8(0)).
				Add(clusters.ScenesCurrentGroup, uint16(0)).
				Add(clusters.ScenesSceneValid, false).
				Add(clusters.ScenesNameSupport, uint8(0)),
			zcl.NewAttributeList(clusters.OnOff.ID).
				Add(zcl.AttrOnOff, false),
		},
	}
}
