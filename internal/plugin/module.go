package plugin

import (
	"github.com/boneskull/midnight-smoker-sub006/internal/executor"
	"github.com/boneskull/midnight-smoker-sub006/internal/pkgmanager"
	"github.com/boneskull/midnight-smoker-sub006/internal/reporter"
	"github.com/boneskull/midnight-smoker-sub006/internal/rule"
)

// Module is the shape every plugin exports.
type Module interface {
	// Register defines the plugin's components. The API is only valid for
	// the duration of the call.
	Register(api API) error
}

// RegisterFunc adapts a function to a Module.
type RegisterFunc func(api API) error

func (f RegisterFunc) Register(api API) error {
	return f(api)
}

// Describer is implemented by modules that declare their own identity. The
// declared fields replace the inferred ones once, at registration.
type Describer interface {
	Describe() Overrides
}

// API is handed to Module.Register. Calling a Define method is its only side
// effect: the definition is staged and committed to the registry when
// Register returns without error.
type API interface {
	Metadata() Metadata
	DefineRule(def *rule.Definition) error
	DefinePackageManager(def *pkgmanager.Definition) error
	DefineReporter(def *reporter.Definition) error
	DefineExecutor(def *executor.Definition) error
}

// Described pairs a module with fixed overrides. It is used for modules
// that cannot implement Describer themselves, e.g. a bare RegisterFunc.
type Described struct {
	Module
	Overrides Overrides
}

func (d Described) Describe() Overrides {
	return d.Overrides
}
