package events

// Fanout forwards each event to every configured emitter in order.
type Fanout struct {
	sinks []Emitter
}

// NewFanout builds a fan-out emitter over the given sinks; nil sinks are
// skipped.
func NewFanout(sinks ...Emitter) *Fanout {
	out := &Fanout{}
	for _, s := range sinks {
		if s != nil {
			out.sinks = append(out.sinks, s)
		}
	}
	return out
}

// Emit forwards the event to every sink.
func (f *Fanout) Emit(evt Event) {
	if f == nil {
		return
	}
	for _, s := range f.sinks {
		s.Emit(evt)
	}
}
