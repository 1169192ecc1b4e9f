package organisation

import "fmt"

// UnknownSuperadminError is returned when a superadmin email does not belong
// to any user. No attribute is updated when it is returned.
type UnknownSuperadminError struct {
	Email string
}

func (e *UnknownSuperadminError) Error() string {
	return fmt.Sprintf("The user email you entered,'%s', does not exist in the system", e.Email)
}
