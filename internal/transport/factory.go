package transport

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
)

// Registry dispatches Create to the ConnectorFactory accepting the
// session's protocol.
type Registry struct {
	factories []ConnectorFactory
}

func NewRegistry(factories ...ConnectorFactory) *Registry {
	return &Registry{factories: factories}
}

// DefaultRegistry registers every built-in protocol.
func DefaultRegistry(logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return NewRegistry(
		&SFTPConnectorFactory{Logger: logger.Named("sftp")},
		&FTPConnectorFactory{},
		&S3ConnectorFactory{},
		// add more
	)
}

func (r *Registry) Lookup(protocol string) ConnectorFactory {
	protocol = strings.ToLower(strings.TrimSpace(protocol))
	for _, factory := range r.factories {
		if factory.Accept(protocol) {
			return factory
		}
	}
	return nil
}

// Names lists the registered protocol names.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.factories))
	for _, factory := range r.factories {
		names = append(names, factory.Name())
	}
	return names
}

func (r *Registry) Create(s Session) (Connector, error) {
	factory := r.Lookup(s.Protocol)
	if factory == nil {
		return nil, &Error{Protocol: s.Protocol, Op: "connect", Err: fmt.Errorf("no connector available for protocol %q", s.Protocol)}
	}
	return factory.Create(s)
}
