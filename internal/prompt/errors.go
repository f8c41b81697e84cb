package prompt

import "strings"

// missingBindingError signals a template placeholder with no supplied value
// and no default. It is a client input error and is never retried.
type missingBindingError struct {
	template string
	keys     []string
}

func (e missingBindingError) Error() string {
	return "missing bindings for prompt " + e.template + ": " + strings.Join(e.keys, ", ")
}

// IsMissingBinding reports whether err indicates unresolved placeholders.
func IsMissingBinding(err error) bool {
	_, ok := err.(missingBindingError)
	return ok
}

type promptNotFoundError struct{ name string }

func (e promptNotFoundError) Error() string { return "prompt not found: " + e.name }

// IsNotFound reports whether err indicates an unknown template name.
func IsNotFound(err error) bool {
	_, ok := err.(promptNotFoundError)
	return ok
}
