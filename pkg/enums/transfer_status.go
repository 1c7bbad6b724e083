package enums

import "fmt"

// TransferStatus maps to the transfer_status enum in Postgres.
type TransferStatus string

const (
	TransferStatusPending   TransferStatus = "pending"
	TransferStatusApproved  TransferStatus = "approved"
	TransferStatusRejected  TransferStatus = "rejected"
	TransferStatusCompleted TransferStatus = "completed"
	TransferStatusCancelled TransferStatus = "cancelled"
)

var validTransferStatuses = []TransferStatus{
	TransferStatusPending,
	TransferStatusApproved,
	TransferStatusRejected,
	TransferStatusCompleted,
	TransferStatusCancelled,
}

// String implements fmt.Stringer.
func (s TransferStatus) String() string {
	return string(s)
}

// IsValid reports whether the value is a known TransferStatus.
func (s TransferStatus) IsValid() bool {
	for _, candidate := range validTransferStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further transition can leave this status.
func (s TransferStatus) IsTerminal() bool {
	switch s {
	case TransferStatusRejected, TransferStatusCompleted, TransferStatusCancelled:
		return true
	}
	return false
}

// ParseTransferStatus converts raw input into a TransferStatus.
func ParseTransferStatus(value string) (TransferStatus, error) {
	for _, candidate := range validTransferStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid transfer status %q", value)
}

// TransferAction names a workflow action applied to a transfer.
type TransferAction string

const (
	TransferActionRequest  TransferAction = "request"
	TransferActionApprove  TransferAction = "approve"
	TransferActionReject   TransferAction = "reject"
	TransferActionCancel   TransferAction = "cancel"
	TransferActionComplete TransferAction = "complete"
)

// String implements fmt.Stringer.
func (a TransferAction) String() string {
	return string(a)
}
