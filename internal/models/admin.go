package models

// Admin is an academy administrator, referenced by requests and appointments.
type Admin struct {
	ID        string `db:"id" json:"id"`
	FirstName string `db:"first_name" json:"first_name"`
	LastName  string `db:"last_name" json:"last_name"`
	Email     string `db:"email" json:"email"`
	Active    bool   `db:"active" json:"active"`
}

// FullName joins first and last name.
func (a Admin) FullName() string {
	if a.LastName == "" {
		return a.FirstName
	}
	return a.FirstName + " " + a.LastName
}
