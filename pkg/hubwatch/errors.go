package hubwatch

import "errors"

var (
	// ErrInvalidEvent indicates that an event does not satisfy protocol invariants.
	ErrInvalidEvent = errors.New("hubwatch: invalid event")
	// ErrInvalidOutboundRequest indicates a malformed outbound operation.
	ErrInvalidOutboundRequest = errors.New("hubwatch: invalid outbound request")
	// ErrInvalidLLMRequest indicates a malformed generation request.
	ErrInvalidLLMRequest = errors.New("hubwatch: invalid llm request")
	// ErrServiceAlreadyRegistered indicates duplicate service registration.
	ErrServiceAlreadyRegistered = errors.New("hubwatch: service already registered")
	// ErrServiceNotFound indicates a service lookup miss.
	ErrServiceNotFound = errors.New("hubwatch: service not found")
	// ErrModuleAlreadyRegistered indicates duplicate module registration.
	ErrModuleAlreadyRegistered = errors.New("hubwatch: module already registered")
	// ErrStateCorrupt indicates a persisted state document of unrecognized shape.
	ErrStateCorrupt = errors.New("hubwatch: state document corrupt")
)
