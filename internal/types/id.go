// README: Shared identifier type for drivers, passengers and rides.
package types

// ID is an opaque identifier issued by the upstream user/ride services.
type ID string

func (id ID) String() string { return string(id) }
