package bus

// Callback receives the outcome of an asynchronous call.
// Exactly one of Accept or OnError is invoked per correlated response. Callbacks run on the
// bundle's response consumer and must not stop that bundle.
type Callback interface {
	Accept(body any)
	OnError(err error)
}

// CallbackFuncs adapts two functions to a Callback. Nil fields are no-ops.
type CallbackFuncs struct {
	OnAccept func(body any)
	OnFail   func(err error)
}

func (c CallbackFuncs) Accept(body any) {
	if c.OnAccept != nil {
		c.OnAccept(body)
	}
}

func (c CallbackFuncs) OnError(err error) {
	if c.OnFail != nil {
		c.OnFail(err)
	}
}
