package access

// Resource is the part of a post the policy cares about.
type Resource struct {
	OwnerID uint64
	Public  bool
}

func isOwner(s Subject, r Resource) bool {
	userID, ok := s.UserID()
	return ok && userID == r.OwnerID
}

// CanRead: public resources for everyone, private ones for the owner and admins.
func CanRead(s Subject, r Resource) bool {
	return r.Public || CanWrite(s, r)
}

// CanWrite: only the owner and admins, regardless of visibility.
func CanWrite(s Subject, r Resource) bool {
	return isOwner(s, r) || s.IsAdmin()
}
