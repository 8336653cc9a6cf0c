package verification

import "errors"

var (
	ErrChallengeNotFound        = errors.New("challenge not found")
	ErrChallengeNotActive       = errors.New("challenge is not active")
	ErrChallengeNotStarted      = errors.New("challenge has not started")
	ErrTeamNotFound             = errors.New("team not found")
	ErrNotTeamLeader            = errors.New("only the team leader can take part in this challenge")
	ErrNotTeamMember            = errors.New("caller is not an active member of the team")
	ErrAlreadyParticipatedToday = errors.New("already participated in this challenge today")
	ErrInvalidState             = errors.New("record is not in a state that allows this action")
	ErrRecordNotFound           = errors.New("challenge record not found")
	ErrNotOwner                 = errors.New("record belongs to another user")
	ErrInvalidRequest           = errors.New("invalid request")
)
