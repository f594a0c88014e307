package models

// AccountHolder is the read-only identity projection used by reports. The
// billing core never owns identity; it resolves display details through the
// IdentityDirectory collaborator.
type AccountHolder struct {
	ID        string `json:"id"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Email     string `json:"email"`
}

func (a AccountHolder) DisplayName() string {
	switch {
	case a.FirstName == "" && a.LastName == "":
		return a.ID
	case a.FirstName == "":
		return a.LastName
	case a.LastName == "":
		return a.FirstName
	}
	return a.FirstName + " " + a.LastName
}
