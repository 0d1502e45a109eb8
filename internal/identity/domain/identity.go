package domain

// Identity is the authenticated principal of a request.
type Identity struct {
	UserID    string
	SessionID string
	TokenID   string
}
