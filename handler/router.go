package handler

import "fmt"

// Router dispatches operations to machines based on the target handler
// identifier.
type Router map[string]*Machine

// NewRouter returns a router for the given machines.
//
// It panics if two machines share a name, as that indicates a wiring
// error that can never be retried away.
func NewRouter(machines ...*Machine) Router {
	r := Router{}

	for _, m := range machines {
		if _, ok := r[m.Name]; ok {
			panic(fmt.Sprintf("multiple machines registered as '%s'", m.Name))
		}

		r[m.Name] = m
	}

	return r
}

// Route returns the machine registered for the given target.
func (r Router) Route(target string) (*Machine, error) {
	if m, ok := r[target]; ok {
		return m, nil
	}

	return nil, UnknownHandlerError{Handler: target}
}

// UnknownHandlerError is the error returned when an operation targets a
// handler that is not registered.
//
// It indicates a deployment or configuration error and is never retried.
type UnknownHandlerError struct {
	Handler string
}

func (e UnknownHandlerError) Error() string {
	return fmt.Sprintf("no machine is registered as '%s'", e.Handler)
}
