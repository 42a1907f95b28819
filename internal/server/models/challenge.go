package models

import "time"

type Operation string

const (
	OperationLogin    Operation = "LOGIN"
	OperationRegister Operation = "REGISTER"
	OperationUpdate   Operation = "UPDATE"
)

func (o Operation) Valid() bool {
	switch o {
	case OperationLogin, OperationRegister, OperationUpdate:
		return true
	}
	return false
}

type ChallengeStatus string

const (
	ChallengePending ChallengeStatus = "PENDING"
	ChallengeUsed    ChallengeStatus = "USED"
	ChallengeExpired ChallengeStatus = "EXPIRED"
)

// Challenge is a single-use token binding one verification attempt to an
// email and an operation.
type Challenge struct {
	Token     string
	Email     string
	Operation Operation
	Status    ChallengeStatus
	CreatedAt time.Time
	UsedAt    *time.Time
	ClientIP  string
	UserAgent string
}
