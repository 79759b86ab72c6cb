package httpserver

import "github.com/google/uuid"

// validJobID reports whether id is well-formed enough to look up: a
// UUID, since SubmitService always assigns one. Malformed ids are
// rejected with 400 before touching the store.
func validJobID(id string) bool {
	if id == "" {
		return false
	}
	_, err := uuid.Parse(id)
	return err == nil
}
