package domain

type UserID string

type Role string

const (
	RoleHost  Role = "host"
	RoleGuest Role = "guest"
)

// Identity is what the client presents at join time, usually taken from a
// validated token.
type Identity struct {
	UserID      UserID `json:"uid"`
	DisplayName string `json:"name"`
	Host        bool   `json:"host,omitempty"`
}
