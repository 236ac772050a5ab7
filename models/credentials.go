package models

// Credentials holds the account used for both the gateway and the portal
type Credentials struct {
	Username string
	Password string
}

// Empty reports whether either field is missing
func (c Credentials) Empty() bool {
	return c.Username == "" || c.Password == ""
}
