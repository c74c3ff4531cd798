package node

import (
	"fmt"
	"strings"
)

// Sub-device record keys inside metadata.devices.
const (
	subDeviceNameKey = "name"
	subDeviceTypeKey = "type"
)

// ListDevices returns the node's sub-devices in document order.
//
// It never fails: an absent document, a missing or non-array devices value,
// and malformed entries all yield fewer (or no) results. Entries that are
// not objects or lack a string name are skipped.
func ListDevices(n *Node) []SubDevice {
	out := []SubDevice{}
	if n == nil {
		return out
	}

	for _, entry := range devicesArray(n.Metadata.root) {
		if sd, ok := subDeviceFrom(entry); ok {
			out = append(out, sd)
		}
	}
	return out
}

// DeviceExists reports whether the node has a sub-device with the given
// name, compared case-insensitively.
func DeviceExists(n *Node, name string) bool {
	for _, sd := range ListDevices(n) {
		if strings.EqualFold(sd.Name, name) {
			return true
		}
	}
	return false
}

// AddDevice appends a sub-device record, creating the metadata document and
// the devices array when needed. A devices value that is not an array is
// replaced by a fresh one.
func AddDevice(n *Node, name, kind string) error {
	if n == nil {
		return fmt.Errorf("%w: nil node", ErrInvalidNode)
	}
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("%w: name cannot be empty", ErrInvalidSubDevice)
	}
	if DeviceExists(n, name) {
		return fmt.Errorf("%w: %q", ErrSubDeviceExists, name)
	}

	if n.Metadata.root.Kind() != KindObject {
		n.Metadata.root = Object()
	}

	record := Object(
		Member{Key: subDeviceNameKey, Value: String(name)},
		Member{Key: subDeviceTypeKey, Value: String(kind)},
	)
	n.Metadata.root.Set(devicesKey, Array(append(devicesArray(n.Metadata.root), record)...))
	return nil
}

// RemoveDevice removes every entry whose name matches case-insensitively.
// Removing an absent sub-device is a no-op. It reports whether anything
// was removed.
func RemoveDevice(n *Node, name string) bool {
	if n == nil {
		return false
	}

	entries := devicesArray(n.Metadata.root)
	kept := make([]Value, 0, len(entries))
	for _, entry := range entries {
		if sd, ok := subDeviceFrom(entry); ok && strings.EqualFold(sd.Name, name) {
			continue
		}
		kept = append(kept, entry)
	}

	if len(kept) == len(entries) {
		return false
	}
	n.Metadata.root.Set(devicesKey, Array(kept...))
	return true
}

// RenameOrRetype updates the first entry whose name matches
// case-insensitively. An empty newName or newKind leaves that field alone.
// The rename is skipped when newName belongs to a different existing
// sub-device. A missing sub-device is a silent no-op. It reports whether
// the entry changed.
//
// Later entries with the same name are left untouched, so a document
// that already holds case-variant duplicates never gains a second entry
// under newName. Other keys on the matched record are preserved.
func RenameOrRetype(n *Node, name, newName, newKind string) bool {
	if n == nil {
		return false
	}

	entries := devicesArray(n.Metadata.root)
	idx := -1
	var sd SubDevice
	for i := range entries {
		if d, ok := subDeviceFrom(entries[i]); ok && strings.EqualFold(d.Name, name) {
			idx, sd = i, d
			break
		}
	}
	if idx < 0 {
		return false
	}

	changed := false
	collides := DeviceExists(n, newName) && !strings.EqualFold(newName, name)
	if newName != "" && !collides && sd.Name != newName {
		entries[idx].Set(subDeviceNameKey, String(newName))
		changed = true
	}
	if newKind != "" && sd.Type != newKind {
		entries[idx].Set(subDeviceTypeKey, String(newKind))
		changed = true
	}
	return changed
}

// devicesArray returns the devices entries of a metadata root, or nil when
// the root is not an object or devices is not an array.
func devicesArray(root Value) []Value {
	devices, ok := root.Get(devicesKey)
	if !ok {
		return nil
	}
	return devices.Items()
}

func subDeviceFrom(entry Value) (SubDevice, bool) {
	if entry.Kind() != KindObject {
		return SubDevice{}, false
	}
	nameVal, _ := entry.Get(subDeviceNameKey)
	name, ok := nameVal.AsString()
	if !ok {
		return SubDevice{}, false
	}
	typeVal, _ := entry.Get(subDeviceTypeKey)
	kind, _ := typeVal.AsString()
	return SubDevice{Name: name, Type: kind}, true
}
