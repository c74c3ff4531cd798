package node

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

// Validation constants.
const (
	maxNameLength      = 255
	maxAccountIDLength = 255
	maxTopicLength     = 255

	// Search page size bounds.
	maxPageSize = 100

	macPattern = `^[0-9A-Fa-f]{12}$`
)

var macRegex = regexp.MustCompile(macPattern)

// ValidateNode checks the caller-controlled fields of a node after an
// Input or Patch has been applied to it.
func ValidateNode(n *Node) error {
	if n == nil {
		return ErrInvalidNode
	}

	if err := ValidateAccountID(n.AccountID); err != nil {
		return err
	}
	if err := ValidateName(n.Name); err != nil {
		return err
	}
	if n.MACAddress != nil {
		if err := ValidateMACAddress(*n.MACAddress); err != nil {
			return err
		}
	}
	if err := ValidateStatus(n.Status); err != nil {
		return err
	}
	if len(n.TopicPub) > maxTopicLength || len(n.TopicSub) > maxTopicLength {
		return fmt.Errorf("%w: topic exceeds %d characters", ErrInvalidNode, maxTopicLength)
	}
	if strings.ContainsAny(n.TopicSub, "+#") {
		return fmt.Errorf("%w: topic_sub cannot contain wildcards", ErrInvalidNode)
	}

	// Sub-devices live under a top-level key, so the document must be an object.
	if kind := n.Metadata.Root().Kind(); kind != KindNull && kind != KindObject {
		return fmt.Errorf("%w: metadata must be an object, got %s", ErrInvalidNode, kind)
	}

	return nil
}

// ValidateAccountID checks that an owning account is present.
func ValidateAccountID(accountID string) error {
	if strings.TrimSpace(accountID) == "" {
		return fmt.Errorf("%w: account_id cannot be empty", ErrInvalidNode)
	}
	if len(accountID) > maxAccountIDLength {
		return fmt.Errorf("%w: account_id exceeds %d characters", ErrInvalidNode, maxAccountIDLength)
	}
	return nil
}

// ValidateName checks if a node name is valid.
func ValidateName(name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("%w: name cannot be empty", ErrInvalidNode)
	}
	if len(name) > maxNameLength {
		return fmt.Errorf("%w: name exceeds %d characters", ErrInvalidNode, maxNameLength)
	}
	return nil
}

// ValidateMACAddress checks for exactly 12 hex digits without separators.
func ValidateMACAddress(mac string) error {
	if !macRegex.MatchString(mac) {
		return fmt.Errorf("%w: mac_address must be 12 hex characters", ErrInvalidNode)
	}
	return nil
}

// ValidateStatus rejects negative statuses.
func ValidateStatus(s Status) error {
	if s < 0 {
		return fmt.Errorf("%w: %d", ErrInvalidStatus, s)
	}
	return nil
}

// ValidatePage checks Search paging arguments.
func ValidatePage(page, size int) error {
	if page < 1 {
		return fmt.Errorf("%w: page must be >= 1, got %d", ErrInvalidPage, page)
	}
	if size < 1 || size > maxPageSize {
		return fmt.Errorf("%w: size must be between 1 and %d, got %d", ErrInvalidPage, maxPageSize, size)
	}
	return nil
}

// ValidateFilter rejects filters that would expose soft-deleted nodes.
func ValidateFilter(f Filter) error {
	if f.Status == nil {
		return nil
	}
	if *f.Status == StatusDeleted {
		return fmt.Errorf("%w: cannot filter by deleted status", ErrInvalidStatus)
	}
	return ValidateStatus(*f.Status)
}

// GenerateID creates a new UUID for a node.
func GenerateID() string {
	return uuid.New().String()
}

// applyInput replaces every mutable field of n with the input's values.
// A nil Status leaves the current status; an empty TopicSub falls back to
// the node ID.
func applyInput(n *Node, in Input) {
	n.AccountID = in.AccountID
	n.Name = strings.TrimSpace(in.Name)
	n.MACAddress = optionalMAC(in.MACAddress)
	n.FirmwareVersion = cloneInt64(in.FirmwareVersion)
	n.Metadata = in.Metadata.Clone()
	n.TopicPub = in.TopicPub
	n.TopicSub = in.TopicSub
	if in.Status != nil {
		n.Status = *in.Status
	}
	defaultTopics(n)
}

// applyPatch merges the set fields of p into n.
func applyPatch(n *Node, p Patch) {
	if p.AccountID != nil {
		n.AccountID = *p.AccountID
	}
	if p.Name != nil {
		n.Name = strings.TrimSpace(*p.Name)
	}
	if p.MACAddress != nil {
		n.MACAddress = optionalMAC(p.MACAddress)
	}
	if p.FirmwareVersion != nil {
		n.FirmwareVersion = cloneInt64(p.FirmwareVersion)
	}
	if p.Metadata != nil {
		n.Metadata = p.Metadata.Clone()
	}
	if p.TopicPub != nil {
		n.TopicPub = *p.TopicPub
	}
	if p.TopicSub != nil {
		n.TopicSub = *p.TopicSub
	}
	if p.Status != nil {
		n.Status = *p.Status
	}
	defaultTopics(n)
}

func defaultTopics(n *Node) {
	if n.TopicSub == "" {
		n.TopicSub = n.ID
	}
}

// optionalMAC treats an empty address as absent.
func optionalMAC(mac *string) *string {
	if mac == nil || *mac == "" {
		return nil
	}
	return cloneString(mac)
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

func cloneInt64(i *int64) *int64 {
	if i == nil {
		return nil
	}
	v := *i
	return &v
}
