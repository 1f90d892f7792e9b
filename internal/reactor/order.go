package reactor

import "fmt"

// OrderKind selects what an Order asks for.
type OrderKind string

const (
	OrderUpdate   OrderKind = "update"
	OrderEvent    OrderKind = "event"
	OrderRequest  OrderKind = "request"
	OrderShortcut OrderKind = "shortcut"
)

// Order is the generic, serializable entry point used by the CLI, the HTTP
// server and scenarios.
//
//   - update: Data holds the property writes; Force dispatches even no-ops
//   - event: Type is the event name, Data the payload
//   - request: Type is the service id, Data the call parameters
//   - shortcut: Type is the shortcut key
type Order struct {
	Kind  OrderKind      `json:"kind" yaml:"kind"`
	Type  string         `json:"type,omitempty" yaml:"type,omitempty"`
	Data  map[string]any `json:"data,omitempty" yaml:"data,omitempty"`
	Force bool           `json:"force,omitempty" yaml:"force,omitempty"`
}

// Submit queues an order. A missing type or an unknown kind is a
// MALFORMED_ORDER soft error.
func (inst *Instance) Submit(o Order) error {
	if err := inst.alive(); err != nil {
		return err
	}
	switch o.Kind {
	case OrderUpdate:
		if len(o.Data) == 0 {
			return inst.malformed(o, "update order carries no data")
		}
		if o.Force {
			return inst.Update(o.Data, Force())
		}
		return inst.Update(o.Data)
	case OrderEvent:
		if o.Type == "" {
			return inst.malformed(o, "event order has no type")
		}
		return inst.DispatchEvent(o.Type, o.Data)
	case OrderRequest:
		if o.Type == "" {
			return inst.malformed(o, "request order has no service")
		}
		return inst.Request(o.Type, o.Data)
	case OrderShortcut:
		if o.Type == "" {
			return inst.malformed(o, "shortcut order has no key")
		}
		return inst.Shortcut(o.Type)
	case "":
		return inst.malformed(o, "order has no kind")
	default:
		return inst.malformed(o, fmt.Sprintf("unknown order kind %q", o.Kind))
	}
}

func (inst *Instance) malformed(o Order, msg string) error {
	return inst.handle(&RuntimeError{
		Code:     ErrCodeMalformedOrder,
		Instance: inst.name,
		Message:  msg,
		Details:  map[string]string{"kind": string(o.Kind), "type": o.Type},
	})
}
