package camera

import (
	"fmt"
	"path/filepath"
	"plugin"
	"sync"

	"go.uber.org/zap"
)

// Driver plugin entry points. A driver shared library is named
// libols_driver_<name>.so and exports DriverFactorySymbol; when runtime
// configuration is required it additionally exports DriverConfigSymbol.
const (
	DriverFactorySymbol = "OLSGetDriver"
	DriverConfigSymbol  = "OLSSetDriverConfig"
)

// DriverFactory instantiates a driver. The external option is an opaque
// integer passed through from the operator (e.g. a backend-specific mode).
type DriverFactory func(externalOption int) (Driver, error)

// DriverConfigFunc applies a driver-wide configuration string. A non-nil
// error fails the load.
type DriverConfigFunc func(config string) error

type registration struct {
	name    string
	factory DriverFactory
	handle  *plugin.Plugin // nil for built-in drivers
}

// Registry holds loaded camera drivers behind stable integer ids.
// Ids are assigned append-only: once returned by Drivers they stay valid
// for the registry's lifetime. Loaded libraries stay mapped for the life
// of the process; there is no unload.
type Registry struct {
	mu      sync.Mutex
	drivers []registration
	logger  *zap.Logger
}

// NewRegistry creates an empty driver registry.
func NewRegistry(logger *zap.Logger) *Registry {
	return &Registry{logger: logger}
}

// RegisterDriver adds a built-in (compiled-in) driver to the registry.
// Duplicate names are ignored; built-ins and plugins share one id space.
func (r *Registry) RegisterDriver(name string, factory DriverFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.indexOf(name) >= 0 {
		return
	}
	r.drivers = append(r.drivers, registration{name: name, factory: factory})
	r.logger.Info("Registered built-in driver", zap.String("driver", name))
}

// LoadDriver loads a driver plugin by name from searchPath, resolving the
// factory entry point and, when configString is non-empty, the config
// entry point. Loading the same name twice is a no-op: the library is not
// reopened and the existing id is kept.
func (r *Registry) LoadDriver(name, searchPath, configString string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.indexOf(name) >= 0 {
		r.logger.Debug("Driver already loaded", zap.String("driver", name))
		return nil
	}

	libPath := filepath.Join(searchPath, "libols_driver_"+name+".so")
	p, err := plugin.Open(libPath)
	if err != nil {
		return fmt.Errorf("%w: driver %s: %v", ErrDriverLoad, name, err)
	}

	sym, err := p.Lookup(DriverFactorySymbol)
	if err != nil {
		return fmt.Errorf("%w: driver %s has no %s entry", ErrDriverLoad, name, DriverFactorySymbol)
	}
	factory, ok := sym.(DriverFactory)
	if !ok {
		if f, ok2 := sym.(func(int) (Driver, error)); ok2 {
			factory = f
		} else {
			return fmt.Errorf("%w: driver %s: %s has wrong type", ErrDriverLoad, name, DriverFactorySymbol)
		}
	}

	if configString != "" {
		cfgSym, err := p.Lookup(DriverConfigSymbol)
		if err != nil {
			return fmt.Errorf("%w: driver %s has no %s entry", ErrDriverLoad, name, DriverConfigSymbol)
		}
		cfg, ok := cfgSym.(func(string) error)
		if !ok {
			return fmt.Errorf("%w: driver %s: %s has wrong type", ErrDriverLoad, name, DriverConfigSymbol)
		}
		if err := cfg(configString); err != nil {
			return fmt.Errorf("%w: driver %s config rejected: %v", ErrDriverLoad, name, err)
		}
	}

	r.drivers = append(r.drivers, registration{name: name, factory: factory, handle: p})
	r.logger.Info("Loaded driver plugin",
		zap.String("driver", name),
		zap.String("path", libPath))
	return nil
}

// Drivers lists the names of loaded drivers in id order.
func (r *Registry) Drivers() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	names := make([]string, len(r.drivers))
	for i, d := range r.drivers {
		names[i] = d.name
	}
	return names
}

// GetDriver instantiates the driver with the given id. Out of range ids
// fail with ErrInvalidDriverID; a factory returning no instance fails
// with ErrDriverInstantiate.
func (r *Registry) GetDriver(id, externalOption int) (Driver, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if id < 0 || id >= len(r.drivers) {
		return nil, fmt.Errorf("%w: %d", ErrInvalidDriverID, id)
	}
	reg := r.drivers[id]

	drv, err := reg.factory(externalOption)
	if err != nil {
		return nil, fmt.Errorf("%w: driver %s: %v", ErrDriverInstantiate, reg.name, err)
	}
	if drv == nil {
		return nil, fmt.Errorf("%w: driver %s returned no instance", ErrDriverInstantiate, reg.name)
	}
	return drv, nil
}

// must be called with r.mu held
func (r *Registry) indexOf(name string) int {
	for i, d := range r.drivers {
		if d.name == name {
			return i
		}
	}
	return -1
}
