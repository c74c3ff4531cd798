package node

import (
	"encoding/json"
	"time"
)

// Status is a node's lifecycle status. Values other than the named ones are
// accepted and carried through; negative values are rejected.
type Status int

// Lifecycle statuses.
const (
	// StatusDeleted marks a soft-deleted node. Excluded from default listings.
	StatusDeleted Status = 0

	// StatusActive is the status covered by the one-active-node-per-account rule.
	StatusActive Status = 1

	// StatusInactive marks a node kept for the account but not in use.
	StatusInactive Status = 2
)

// Text returns the human-readable name of the status.
func (s Status) Text() string {
	switch s {
	case StatusDeleted:
		return "deleted"
	case StatusActive:
		return "active"
	case StatusInactive:
		return "inactive"
	default:
		return "unknown"
	}
}

// StatusPtr returns a pointer to s, for Input, Patch and Filter literals.
func StatusPtr(s Status) *Status { return &s }

// Node is one registered physical device.
// This matches the nodes table in migrations/sqlite and migrations/postgres.
type Node struct {
	// Identity
	ID        string `json:"id"`
	AccountID string `json:"account_id"`
	Name      string `json:"name"`

	// Hardware
	MACAddress      *string `json:"mac_address,omitempty"`
	FirmwareVersion *int64  `json:"firmware_version,omitempty"`

	// Metadata holds the sub-device list under the devices key.
	Metadata Metadata `json:"metadata"`

	// Transport topics. TopicSub is what the bridge subscribes to.
	TopicPub string `json:"topic_pub"`
	TopicSub string `json:"topic_sub"`

	// Last inbound message, written by the bridge only.
	Message  *string    `json:"message"`
	LastSeen *time.Time `json:"last_seen"`

	Status Status `json:"status"`

	// Timestamps
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// MarshalJSON adds the derived status_text field.
func (n Node) MarshalJSON() ([]byte, error) {
	type plain Node
	return json.Marshal(struct {
		plain
		StatusText string `json:"status_text"`
	}{plain: plain(n), StatusText: n.Status.Text()})
}

// DeepCopy creates a complete independent copy of the Node.
// Pointer and document fields are cloned so modifications to the copy
// do not affect the original. The registry cache depends on this.
func (n *Node) DeepCopy() *Node {
	if n == nil {
		return nil
	}

	cp := *n
	cp.Metadata = n.Metadata.Clone()

	if n.MACAddress != nil {
		mac := *n.MACAddress
		cp.MACAddress = &mac
	}
	if n.FirmwareVersion != nil {
		fw := *n.FirmwareVersion
		cp.FirmwareVersion = &fw
	}
	if n.Message != nil {
		msg := *n.Message
		cp.Message = &msg
	}
	if n.LastSeen != nil {
		seen := *n.LastSeen
		cp.LastSeen = &seen
	}

	return &cp
}

// Input carries the caller-supplied fields for Create and Update.
type Input struct {
	AccountID       string   `json:"account_id"`
	Name            string   `json:"name"`
	MACAddress      *string  `json:"mac_address,omitempty"`
	FirmwareVersion *int64   `json:"firmware_version,omitempty"`
	Metadata        Metadata `json:"metadata"`
	TopicPub        string   `json:"topic_pub"`
	TopicSub        string   `json:"topic_sub"`

	// Status defaults to active on Create and to the stored status on Update.
	Status *Status `json:"status,omitempty"`
}

// Patch carries a partial update. Nil fields are left unchanged.
type Patch struct {
	AccountID       *string   `json:"account_id,omitempty"`
	Name            *string   `json:"name,omitempty"`
	MACAddress      *string   `json:"mac_address,omitempty"`
	FirmwareVersion *int64    `json:"firmware_version,omitempty"`
	Metadata        *Metadata `json:"metadata,omitempty"`
	TopicPub        *string   `json:"topic_pub,omitempty"`
	TopicSub        *string   `json:"topic_sub,omitempty"`
	Status          *Status   `json:"status,omitempty"`
}

// Filter narrows Search. Empty string fields and nil pointers match all.
type Filter struct {
	AccountID       string  // exact
	Name            string  // case-insensitive substring
	MACAddress      string  // case-insensitive substring
	TopicPub        string  // case-insensitive substring
	TopicSub        string  // case-insensitive substring
	FirmwareVersion *int64  // exact
	Status          *Status // exact; nil excludes deleted nodes
}

// Page is one page of Search results.
type Page struct {
	Items      []Node `json:"items"`
	Page       int    `json:"page"`
	Size       int    `json:"size"`
	Total      int    `json:"total"`
	TotalPages int    `json:"total_pages"`
}

// SubDevice is one entry of the metadata devices list.
type SubDevice struct {
	Name string `json:"name"`
	Type string `json:"type"`
}
