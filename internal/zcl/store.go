package zcl

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

var (
	ErrUnknownEndpoint  = errors.New("zcl: unknown endpoint")
	ErrUnknownCluster   = errors.New("zcl: unknown cluster")
	ErrUnknownAttribute = errors.New("zcl: unknown attribute")
	ErrReadOnly         = errors.New("zcl: attribute is read-only")
)

// AttributeList collects the initial attribute values of one server cluster
// before the endpoint is registered.
type AttributeList struct {
	ClusterID uint16
	entries   []listEntry
}

type listEntry struct {
	id    uint16
	value any
}

// NewAttributeList starts an attribute list for clusterID.
func NewAttributeList(clusterID uint16) *AttributeList {
	return &AttributeList{ClusterID: clusterID}
}

// Add appends an attribute with its initial value. The value must be
// encodable as the type the cluster definition declares.
func (l *AttributeList) Add(attrID uint16, value any) *AttributeList {
	l.entries = append(l.entries, listEntry{id: attrID, value: value})
	return l
}

// Endpoint describes one application endpoint and its server clusters.
type Endpoint struct {
	ID            uint8
	ProfileID     uint16
	DeviceID      uint16
	DeviceVersion uint8
	Clusters      []*AttributeList
}

// ClusterIDs returns the server cluster IDs in registration order.
func (e Endpoint) ClusterIDs() []uint16 {
	ids := make([]uint16, 0, len(e.Clusters))
	for _, c := range e.Clusters {
		ids = append(ids, c.ClusterID)
	}
	return ids
}

// AttributeChange is delivered to the change handler when a remote write or
// command touches an attribute. Value holds the raw ZCL-encoded bytes.
type AttributeChange struct {
	Status    uint8
	Endpoint  uint8
	ClusterID uint16
	AttrID    uint16
	Type      uint8
	Value     []byte
}

type attrKey struct {
	ep      uint8
	cluster uint16
	attr    uint16
}

type attrSlot struct {
	def AttributeDef
	raw []byte
}

// Store is the server-side attribute table of the device's endpoints.
type Store struct {
	registry *Registry
	logger   *slog.Logger

	mu        sync.RWMutex
	endpoints map[uint8]Endpoint
	clusters  map[uint8]map[uint16]*ClusterDef
	attrs     map[attrKey]*attrSlot

	handlerMu sync.RWMutex
	onChange  func(AttributeChange)
}

// NewStore creates an empty store that resolves attribute types through registry.
func NewStore(registry *Registry, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		registry:  registry,
		logger:    logger,
		endpoints: make(map[uint8]Endpoint),
		clusters:  make(map[uint8]map[uint16]*ClusterDef),
		attrs:     make(map[attrKey]*attrSlot),
	}
}

// RegisterEndpoint publishes an endpoint and the initial values of its
// attributes. Nothing is stored if any attribute is invalid.
func (s *Store) RegisterEndpoint(ep Endpoint) error {
	clusters := make(map[uint16]*ClusterDef, len(ep.Clusters))
	slots := make(map[attrKey]*attrSlot)

	for _, list := range ep.Clusters {
		def := s.registry.Get(list.ClusterID)
		if def == nil {
			return fmt.Errorf("endpoint %d: cluster 0x%04X: %w", ep.ID, list.ClusterID, ErrUnknownCluster)
		}
		if _, dup := clusters[list.ClusterID]; dup {
			return fmt.Errorf("endpoint %d: cluster 0x%04X listed twice", ep.ID, list.ClusterID)
		}
		clusters[list.ClusterID] = def

		for _, e := range list.entries {
			ad := def.FindAttribute(e.id)
			if ad == nil {
				return fmt.Errorf("endpoint %d: %s attribute 0x%04X: %w", ep.ID, def.Name, e.id, ErrUnknownAttribute)
			}
			key := attrKey{ep.ID, list.ClusterID, e.id}
			if _, dup := slots[key]; dup {
				return fmt.Errorf("endpoint %d: %s.%s added twice", ep.ID, def.Name, ad.Name)
			}
			raw, err := EncodeValue(ad.Type, e.value)
			if err != nil {
				return fmt.Errorf("endpoint %d: %s.%s: %w", ep.ID, def.Name, ad.Name, err)
			}
			slots[key] = &attrSlot{def: *ad, raw: raw}
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.endpoints[ep.ID]; ok {
		return fmt.Errorf("endpoint %d already registered", ep.ID)
	}
	s.endpoints[ep.ID] = ep
	s.clusters[ep.ID] = clusters
	for k, v := range slots {
		s.attrs[k] = v
	}
	s.logger.Info("endpoint registered",
		"ep", ep.ID,
		"profile", fmt.Sprintf("0x%04X", ep.ProfileID),
		"device", fmt.Sprintf("0x%04X", ep.DeviceID),
		"attributes", len(slots))
	return nil
}

// OnChange sets the handler invoked for remote attribute changes. Local
// updates through UpdateAttribute do not invoke it.
func (s *Store) OnChange(handler func(AttributeChange)) {
	s.handlerMu.Lock()
	defer s.handlerMu.Unlock()
	s.onChange = handler
}

func (s *Store) notify(c AttributeChange) {
	s.handlerMu.RLock()
	h := s.onChange
	s.handlerMu.RUnlock()
	if h != nil {
		h(c)
	}
}

// UpdateAttribute sets an attribute from the application side. Access flags
// do not apply; the value must fit the declared type.
func (s *Store) UpdateAttribute(ep uint8, cluster, attr uint16, value any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	slot, err := s.slotLocked(ep, cluster, attr)
	if err != nil {
		return err
	}
	raw, err := EncodeValue(slot.def.Type, value)
	if err != nil {
		return fmt.Errorf("update %s: %w", slot.def.Name, err)
	}
	slot.raw = raw
	return nil
}

// ReadAttribute returns the decoded current value of an attribute.
func (s *Store) ReadAttribute(ep uint8, cluster, attr uint16) (any, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	slot, err := s.slotLocked(ep, cluster, attr)
	if err != nil {
		return nil, err
	}
	v, _, err := DecodeValue(slot.def.Type, slot.raw)
	return v, err
}

// Endpoint returns a registered endpoint.
func (s *Store) Endpoint(id uint8) (Endpoint, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ep, ok := s.endpoints[id]
	return ep, ok
}

func (s *Store) slotLocked(ep uint8, cluster, attr uint16) (*attrSlot, error) {
	cs, ok := s.clusters[ep]
	if !ok {
		return nil, fmt.Errorf("endpoint %d: %w", ep, ErrUnknownEndpoint)
	}
	if _, ok := cs[cluster]; !ok {
		return nil, fmt.Errorf("endpoint %d cluster 0x%04X: %w", ep, cluster, ErrUnknownCluster)
	}
	slot, ok := s.attrs[attrKey{ep, cluster, attr}]
	if !ok {
		return nil, fmt.Errorf("endpoint %d cluster 0x%04X attribute 0x%04X: %w", ep, cluster, attr, ErrUnknownAttribute)
	}
	return slot, nil
}
