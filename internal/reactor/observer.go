package reactor

// PassRecord summarizes one pass for observers.
type PassRecord struct {
	Instance string
	LoopID   int64
	Token    string
	Depth    int
	Emitter  string

	// Updates lists accepted writes with the stored value, in apply order.
	Updates []Update

	// Skipped lists writes the setter reported as no-ops.
	Skipped []string

	// Events lists the events processed by the event phase.
	Events []string

	// Dispatched lists the events emitted by the dispatch phase.
	Dispatched []string

	// Services lists the service calls launched.
	Services []string

	// Hacks counts hack executions.
	Hacks int
}

// Observer is notified after every pass, from the goroutine running it.
type Observer interface {
	PassCompleted(rec PassRecord)
}

// SoftErrorObserver is implemented by observers that also want soft errors,
// whether or not strict mode turns them into returned errors.
type SoftErrorObserver interface {
	SoftError(instance string, err *RuntimeError)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(rec PassRecord)

// PassCompleted calls f(rec).
func (f ObserverFunc) PassCompleted(rec PassRecord) {
	f(rec)
}

func (inst *Instance) observe(rec PassRecord) {
	for _, o := range inst.observers {
		o.PassCompleted(rec)
	}
}

func (inst *Instance) softError(err *RuntimeError) {
	for _, o := range inst.observers {
		if so, ok := o.(SoftErrorObserver); ok {
			so.SoftError(inst.name, err)
		}
	}
}
