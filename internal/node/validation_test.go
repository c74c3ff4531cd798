package node

import (
	"errors"
	"strings"
	"testing"
)

func validNode() *Node {
	return &Node{
		ID:        "n-1",
		AccountID: "acct-1",
		Name:      "Garage",
		TopicSub:  "n-1",
		Status:    StatusActive,
	}
}

func TestValidateNode(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(n *Node)
		wantErr error
	}{
		{"valid", func(*Node) {}, nil},
		{"empty account", func(n *Node) { n.AccountID = " " }, ErrInvalidNode},
		{"long account", func(n *Node) { n.AccountID = strings.Repeat("a", maxAccountIDLength+1) }, ErrInvalidNode},
		{"empty name", func(n *Node) { n.Name = "" }, ErrInvalidNode},
		{"long name", func(n *Node) { n.Name = strings.Repeat("n", maxNameLength+1) }, ErrInvalidNode},
		{"max name", func(n *Node) { n.Name = strings.Repeat("n", maxNameLength) }, nil},
		{"good mac", func(n *Node) { mac := "a1b2c3D4E5F6"; n.MACAddress = &mac }, nil},
		{"mac with separators", func(n *Node) { mac := "A1:B2:C3:D4:E5:F6"; n.MACAddress = &mac }, ErrInvalidNode},
		{"short mac", func(n *Node) { mac := "A1B2C3"; n.MACAddress = &mac }, ErrInvalidNode},
		{"non-hex mac", func(n *Node) { mac := "G1B2C3D4E5F6"; n.MACAddress = &mac }, ErrInvalidNode},
		{"negative status", func(n *Node) { n.Status = -1 }, ErrInvalidStatus},
		{"unknown positive status", func(n *Node) { n.Status = 9 }, nil},
		{"wildcard topic", func(n *Node) { n.TopicSub = "nodes/+" }, ErrInvalidNode},
		{"long topic", func(n *Node) { n.TopicPub = strings.Repeat("t", maxTopicLength+1) }, ErrInvalidNode},
		{"array metadata", func(n *Node) { n.Metadata = NewMetadata(Array()) }, ErrInvalidNode},
		{"object metadata", func(n *Node) { n.Metadata = NewMetadata(Object()) }, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n := validNode()
			tt.mutate(n)

			err := ValidateNode(n)
			if tt.wantErr == nil {
				if err != nil {
					t.Errorf("ValidateNode() error = %v, want nil", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("ValidateNode() error = %v, want %v", err, tt.wantErr)
			}
			if !errors.Is(err, ErrValidation) {
				t.Errorf("ValidateNode() error = %v, want ErrValidation category", err)
			}
		})
	}

	if err := ValidateNode(nil); !errors.Is(err, ErrInvalidNode) {
		t.Errorf("ValidateNode(nil) error = %v, want ErrInvalidNode", err)
	}
}

func TestValidatePage(t *testing.T) {
	tests := []struct {
		page, size int
		wantErr    bool
	}{
		{1, 1, false},
		{3, maxPageSize, false},
		{0, 10, true},
		{-1, 10, true},
		{1, 0, true},
		{1, maxPageSize + 1, true},
	}

	for _, tt := range tests {
		err := ValidatePage(tt.page, tt.size)
		if (err != nil) != tt.wantErr {
			t.Errorf("ValidatePage(%d, %d) error = %v, wantErr %v", tt.page, tt.size, err, tt.wantErr)
		}
		if err != nil && !errors.Is(err, ErrInvalidPage) {
			t.Errorf("ValidatePage(%d, %d) error = %v, want ErrInvalidPage", tt.page, tt.size, err)
		}
	}
}

func TestValidateFilter(t *testing.T) {
	if err := ValidateFilter(Filter{}); err != nil {
		t.Errorf("ValidateFilter(empty) error = %v", err)
	}
	if err := ValidateFilter(Filter{Status: StatusPtr(StatusInactive)}); err != nil {
		t.Errorf("ValidateFilter(inactive) error = %v", err)
	}
	if err := ValidateFilter(Filter{Status: StatusPtr(StatusDeleted)}); !errors.Is(err, ErrValidation) {
		t.Errorf("ValidateFilter(deleted) error = %v, want ErrValidation", err)
	}
	if err := ValidateFilter(Filter{Status: StatusPtr(-2)}); !errors.Is(err, ErrInvalidStatus) {
		t.Errorf("ValidateFilter(-2) error = %v, want ErrInvalidStatus", err)
	}
}

func TestApplyInput(t *testing.T) {
	n := &Node{ID: "n-1", Status: StatusInactive, TopicSub: "old"}
	empty := ""

	applyInput(n, Input{AccountID: "acct", Name: "  Garage  ", MACAddress: &empty})

	if n.Name != "Garage" {
		t.Errorf("Name = %q, want trimmed", n.Name)
	}
	if n.Status != StatusInactive {
		t.Errorf("Status = %d, want stored status kept when input has none", n.Status)
	}
	if n.TopicSub != "n-1" {
		t.Errorf("TopicSub = %q, want node ID default", n.TopicSub)
	}
	if n.MACAddress != nil {
		t.Errorf("MACAddress = %q, want nil for empty input", *n.MACAddress)
	}
}

func TestApplyPatch(t *testing.T) {
	fw := int64(12)
	n := validNode()
	n.TopicPub = "keep"

	applyPatch(n, Patch{Name: strPtr("Shed"), FirmwareVersion: &fw, Status: StatusPtr(StatusInactive)})

	if n.Name != "Shed" || *n.FirmwareVersion != 12 || n.Status != StatusInactive {
		t.Errorf("patched node = %+v", n)
	}
	if n.AccountID != "acct-1" || n.TopicPub != "keep" {
		t.Errorf("unset patch fields changed: %+v", n)
	}
}

func strPtr(s string) *string { return &s }
