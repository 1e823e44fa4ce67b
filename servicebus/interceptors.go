package servicebus

import (
	"strings"

	"golang.org/x/time/rate"

	cbus "github.com/next-trace/scg-call-bus/contract/bus"
)

// ChainBefore runs hooks in order and vetoes on the first that does.
func ChainBefore(hooks ...cbus.BeforeMethodCall) cbus.BeforeMethodCall {
	return cbus.BeforeMethodCallFunc(func(call cbus.MethodCall) bool {
		for _, h := range hooks {
			if h != nil && !h.Before(call) {
				return false
			}
		}

		return true
	})
}

// RateLimit vetoes calls beyond the limiter's rate.
func RateLimit(l *rate.Limiter) cbus.BeforeMethodCall {
	return cbus.BeforeMethodCallFunc(func(cbus.MethodCall) bool { return l.Allow() })
}

// DenyAddressPrefix vetoes calls whose address starts with any of prefixes.
func DenyAddressPrefix(prefixes ...string) cbus.BeforeMethodCall {
	return cbus.BeforeMethodCallFunc(func(call cbus.MethodCall) bool {
		for _, p := range prefixes {
			if strings.HasPrefix(call.Address, p) {
				return false
			}
		}

		return true
	})
}
