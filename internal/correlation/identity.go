package correlation

const (
	// DefaultNoRequestID is reported when no request identity is available
	DefaultNoRequestID = "none"
	// DefaultNoUserID is reported when the identity carries no user
	DefaultNoUserID = "none"
)

// Identity is the request identity. It is a value type and is never modified
// once it has been installed in a Scope; use WithUserID to derive a new one.
type Identity struct {
	ID     string
	UserID string
}

// IsZero reports whether the identity carries no request ID
func (i Identity) IsZero() bool {
	return i.ID == ""
}

// WithUserID returns a copy of the identity carrying the given user ID
func (i Identity) WithUserID(userID string) Identity {
	i.UserID = userID
	return i
}
