package usage

import "context"

// Provider fetches one account's usage. Fetch never returns an error:
// every failure is folded into the Result.
type Provider interface {
	Name() string
	Fetch(context.Context) Result
}
