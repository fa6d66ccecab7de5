// Package providertest provides a scriptable provider for tests.
package providertest

import (
	"context"
	"encoding/json"

	"github.com/stretchr/testify/mock"

	"walletsync/pkg/provider"
)

// Fake answers requests from testify expectations keyed by RPC method name
// and delivers events synchronously through the embedded Emitter.
type Fake struct {
	provider.Emitter
	Mock     mock.Mock
	MetaMask bool
}

var _ provider.Provider = (*Fake)(nil)

// New returns a Fake that reports itself as MetaMask.
func New() *Fake {
	return &Fake{MetaMask: true}
}

func (f *Fake) Request(ctx context.Context, req provider.Request) (json.RawMessage, error) {
	args := f.Mock.MethodCalled(req.Method(), req.Params())
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	raw, _ := args.Get(0).(json.RawMessage)
	return raw, args.Error(1)
}

func (f *Fake) IsMetaMask() bool {
	return f.MetaMask
}

// Answer registers a successful response for method, whatever its params.
func (f *Fake) Answer(method string, result any) *mock.Call {
	return f.Mock.On(method, mock.Anything).Return(JSON(result), nil)
}

// Fail registers an error response for method.
func (f *Fake) Fail(method string, err error) *mock.Call {
	return f.Mock.On(method, mock.Anything).Return(json.RawMessage(nil), err)
}

// EmitJSON marshals v and delivers it to handlers of event.
func (f *Fake) EmitJSON(event provider.EventName, v any) {
	f.Emit(event, JSON(v))
}

// JSON marshals v, panicking on failure.
func JSON(v any) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return data
}
