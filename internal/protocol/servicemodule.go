// SPDX-FileCopyrightText: (C) 2025 Red Hat Inc.
// SPDX-License-Identifier: Apache 2.0

package protocol

// ServiceInfoModule is the capability interface the core requires of a
// service-info plugin. spec.md §9 is explicit that this is modeled as
// a capability interface, not a plugin authoring framework: there is
// no registration ceremony, no dynamic loading, just this interface.
// internal/sim ships two concrete modules that implement it.
type ServiceInfoModule interface {
	// Name identifies the module in DSI/OSI key namespacing ("name:message").
	Name() string

	// Exec is called once per iteration of the device service-info
	// loop (TO2.GetNextDeviceServiceInfo/NextDeviceServiceInfo) with an
	// SvInfoType signal and a cursor: the module's index in the
	// ModuleList for GetDSI calls, 0 for Start and End. It returns
	// the next chunk of bytes to send, or done=true when the module has
	// nothing further to contribute this round.
	Exec(typ SvInfoType, cursor int) (data []byte, done bool, err error)

	// Receive delivers one inbound owner-service-info key/value pair to
	// the module (TO2.GetNextOwnerServiceInfo/NextOwnerServiceInfo).
	Receive(key string, value []byte) error
}

// SvInfoType signals the lifecycle point of a service-info exchange to
// a module, matching the original's SDO_SI_START/SDO_SI_GET_DSI/
// SDO_SI_END triad.
type SvInfoType int

const (
	SvInfoStart SvInfoType = iota
	SvInfoGetDSI
	SvInfoEnd
)

// ModuleList is the ordered set of registered service-info modules and
// the per-module cursor state the core iterates during TO2. It
// corresponds to spec.md §3's "module-list reference, per-module
// cursor, start/end flags".
type ModuleList struct {
	modules []ServiceInfoModule
	cursor  int // index of module currently being drained
	started bool
	ended   bool
}

// NewModuleList builds a ModuleList from the given modules, in the
// order device service-info will be offered.
func NewModuleList(modules ...ServiceInfoModule) *ModuleList {
	return &ModuleList{modules: modules}
}

// Start runs SvInfoStart against every module exactly once. It is a
// no-op on subsequent calls.
func (m *ModuleList) Start() error {
	if m.started {
		return nil
	}
	for _, mod := range m.modules {
		if _, _, err := mod.Exec(SvInfoStart, 0); err != nil {
			return Errorf(ResourceFailure, "service-info module %q START failed: %v", mod.Name(), err)
		}
	}
	m.started = true
	return nil
}

// NextDSI drains one chunk from the current module, advancing to the
// next module when the current one is exhausted. ok=false once every
// module has been drained for this round.
func (m *ModuleList) NextDSI() (name string, data []byte, ok bool, err error) {
	for m.cursor < len(m.modules) {
		mod := m.modules[m.cursor]
		data, done, err := mod.Exec(SvInfoGetDSI, m.cursor)
		if err != nil {
			return "", nil, false, Errorf(ResourceFailure, "service-info module %q failed: %v", mod.Name(), err)
		}
		if done {
			m.cursor++
			continue
		}
		return mod.Name(), data, true, nil
	}
	return "", nil, false, nil
}

// Dispatch routes one inbound owner-service-info key/value pair to the
// module named by key's "module:message" prefix.
func (m *ModuleList) Dispatch(key string, value []byte) error {
	name, _, _ := splitServiceInfoKey(key)
	for _, mod := range m.modules {
		if mod.Name() == name {
			return mod.Receive(key, value)
		}
	}
	return Errorf(ProtocolViolation, "no registered service-info module for key %q", key)
}

// End runs SvInfoEnd against every module exactly once.
func (m *ModuleList) End() error {
	if m.ended {
		return nil
	}
	for _, mod := range m.modules {
		if _, _, err := mod.Exec(SvInfoEnd, 0); err != nil {
			return Errorf(ResourceFailure, "service-info module %q END failed: %v", mod.Name(), err)
		}
	}
	m.ended = true
	return nil
}

func splitServiceInfoKey(key string) (module, message string, ok bool) {
	for i := 0; i < len(key); i++ {
		if key[i] == ':' {
			return key[:i], key[i+1:], true
		}
	}
	return key, "", false
}
