package di

// ConfigFile names a local YAML settings file. When set it replaces SSM and the
// environment as the configuration source.
type ConfigFile string

// Option is a function that configures the dependency injection container.
type Option func(*options)

// WithConfigFile reads configuration from a local YAML file instead of Parameter Store
func WithConfigFile(filename string) Option {
	return func(opts *options) {
		opts.configFile = ConfigFile(filename)
	}
}

// WithProviders adds constructor functions to the dependency injection container.
// Providers can declare dependencies as function parameters, which will be
// automatically resolved by the container.
//
// Example:
//
//	WithProviders(
//	    di.ProvideResolver,
//	    func(resolver *artifacts.Resolver) *Handler { return &Handler{resolver: resolver} },
//	)
func WithProviders(providers ...any) Option {
	return func(opts *options) {
		opts.providers = append(opts.providers, providers...)
	}
}

type options struct {
	configFile ConfigFile
	providers  []any
}
