// Package clusters defines the server clusters a valve endpoint hosts.
package clusters

import "zigbee-valve/internal/zcl"

// Hosted lists the cluster definitions in the order the endpoint declares them.
var Hosted = []zcl.ClusterDef{
	Basic,
	PowerConfiguration,
	Identify,
	Groups,
	Scenes,
	OnOff,
}

// Register adds every hosted cluster to r.
func Register(r *zcl.Registry) error {
	for _, c := range Hosted {
		if err := r.Register(c); err != nil {
			return err
		}
	}
	return nil
}
