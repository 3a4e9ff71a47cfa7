package ddb

// Option is a functional option for configuring a [Repo].
type Option func(*Options)

// Options holds the configuration for a [Repo].
type Options struct {
	dynamoDBAPI       API
	conditionalWrites bool
}

func newOptions() *Options {
	return &Options{}
}

// WithAPI sets a custom [API] implementation. This is useful when a custom
// DynamoDB configuration is required, or for injecting mocks in tests.
func WithAPI(api API) Option {
	return func(o *Options) {
		o.dynamoDBAPI = api
	}
}

// WithConditionalWrites makes [Repo.PutClaim] honour its [PutCondition].
// When disabled (the default) every put is an unconditional overwrite and
// concurrent resubmissions of the same claim are last-write-wins.
func WithConditionalWrites(enabled bool) Option {
	return func(o *Options) {
		o.conditionalWrites = enabled
	}
}
