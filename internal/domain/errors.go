package domain

import "errors"

var (
	ErrInvalidID            = errors.New("invalid id")
	ErrInvalidWorkspaceID   = errors.New("invalid workspace id")
	ErrInvalidUserID        = errors.New("invalid user id")
	ErrInvalidStage         = errors.New("invalid stage")
	ErrInvalidSequence      = errors.New("invalid sequence number")
	ErrInvalidLeaseDuration = errors.New("invalid lease duration")
	ErrAlreadyDecided       = errors.New("approval already decided")
	ErrNoApproval           = errors.New("no approval record")
	ErrApprovalRequired     = errors.New("approval required")
)
