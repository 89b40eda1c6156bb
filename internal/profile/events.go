package profile

// Event is one of SwitchStart, SwitchComplete or SwitchFailed.
type Event interface {
	profileEvent()
}

// SwitchStart is delivered before OnProfileSwitchStart returns.
type SwitchStart struct {
	OldProfileID string
	OldEntityID  string
	NewProfileID string
	NewEntityID  string
	Generation   uint64
}

// SwitchComplete carries the committed context.
type SwitchComplete struct {
	Previous   Context
	Current    Context
	Generation uint64
}

// SwitchFailed carries the unchanged context that remains active.
type SwitchFailed struct {
	Attempted  Context
	Current    Context
	Generation uint64
}

func (SwitchStart) profileEvent()    {}
func (SwitchComplete) profileEvent() {}
func (SwitchFailed) profileEvent()   {}

// Observer receives every lifecycle event.
type Observer interface {
	OnProfileEvent(Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Event)

// OnProfileEvent implements Observer.
func (f ObserverFunc) OnProfileEvent(ev Event) { f(ev) }

type listener struct {
	id       uint64
	start    func(SwitchStart)
	complete func(SwitchComplete)
	failed   func(SwitchFailed)
}

// Subscribe registers an observer for all events.
func (c *Coordinator) Subscribe(o Observer) (unsubscribe func()) {
	return c.add(&listener{
		start:    func(e SwitchStart) { o.OnProfileEvent(e) },
		complete: func(e SwitchComplete) { o.OnProfileEvent(e) },
		failed:   func(e SwitchFailed) { o.OnProfileEvent(e) },
	})
}

// OnSwitchStart registers fn for SwitchStart events.
func (c *Coordinator) OnSwitchStart(fn func(SwitchStart)) (unsubscribe func()) {
	return c.add(&listener{start: fn})
}

// OnSwitchComplete registers fn for SwitchComplete events.
func (c *Coordinator) OnSwitchComplete(fn func(SwitchComplete)) (unsubscribe func()) {
	return c.add(&listener{complete: fn})
}

// OnSwitchFailed registers fn for SwitchFailed events.
func (c *Coordinator) OnSwitchFailed(fn func(SwitchFailed)) (unsubscribe func()) {
	return c.add(&listener{failed: fn})
}

func (c *Coordinator) add(l *listener) func() {
	c.mu.Lock()
	c.nextID++
	l.id = c.nextID
	c.listeners = append(c.listeners, l)
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		for i, existing := range c.listeners {
			if existing.id == l.id {
				c.listeners = append(c.listeners[:i:i], c.listeners[i+1:]...)
				return
			}
		}
	}
}

// dispatch calls listeners outside the lock so they may query the coordinator.
func (c *Coordinator) dispatch(ev Event) {
	c.mu.Lock()
	listeners := append([]*listener(nil), c.listeners...)
	c.mu.Unlock()

	for _, l := range listeners {
		c.invoke(l, ev)
	}
}

func (c *Coordinator) invoke(l *listener, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			c.log.Error().Interface("panic", r).Msg("profile listener panicked")
		}
	}()

	switch e := ev.(type) {
	case SwitchStart:
		if l.start != nil {
			l.start(e)
		}
	case SwitchComplete:
		if l.complete != nil {
			l.complete(e)
		}
	case SwitchFailed:
		if l.failed != nil {
			l.failed(e)
		}
	}
}
