package users

// UserRepo stores principals for the dev backend.
type UserRepo interface {
	Upsert(user *User) error
	Delete(email string) error
	GetByEmail(email string) (*User, error)
	GetByID(ID string) (*User, error)
	List(offset, limit int) ([]*User, error)
	SetVerified(email string, verified bool) error
	SetActive(email string, active bool) error
}
