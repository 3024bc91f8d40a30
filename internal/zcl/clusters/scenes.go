package clusters

import "zigbee-valve/internal/zcl"

// Scenes attribute IDs.
const (
	ScenesSceneCount   uint16 = 0x0000
	ScenesCurrentScene uint16 = 0x0001
	ScenesCurrentGroup uint16 = 0x0002
	ScenesSceneValid   uint16 = 0x0003
	ScenesNameSupport  uint16 = 0x0004
)

var Scenes = zcl.ClusterDef{
	ID:   0x0005,
	Name: "Scenes",
	Attributes: []zcl.AttributeDef{
		{ID: ScenesSceneCount, Name: "SceneCount", Type: zcl.TypeUint8, Access: zcl.AccessRead},
		{ID: ScenesCurrentScene, Name: "CurrentScene", Type: zcl.TypeUint8, Access: zcl.AccessRead},
		{ID: ScenesCurrentGroup, Name: "CurrentGroup", Type: zcl.TypeUint16, Access: zcl.AccessRead},
		{ID: ScenesSceneValid, Name: "SceneValid", Type: zcl.TypeBool, Access: zcl.AccessRead},
		{ID: ScenesNameSupport, Name: "NameSupport", Type: zcl.TypeBitmap8, Access: zcl.AccessRead},
	},
}
