package registry

import "fmt"

// ServiceExistsError is returned by Register when the name is already
// taken. Registry.Register is never an upsert: replace via Deregister then
// Register.
type ServiceExistsError struct {
	Name string
}

func (e *ServiceExistsError) Error() string {
	return fmt.Sprintf("service %q already registered", e.Name)
}

// ServiceNotFoundError is returned by Get/UpdateState/UpdateEndpoints/
// Deregister for an unknown name.
type ServiceNotFoundError struct {
	Name string
}

func (e *ServiceNotFoundError) Error() string {
	return fmt.Sprintf("service %q not found", e.Name)
}
