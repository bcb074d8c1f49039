package avatar3d

// lock pins a channel to a weight until its hold runs out. release then
// writes the final weight once and hands the channel back to the mixer.
type lock struct {
	weight  float32
	release float32
	left    float32
}

// deferred runs fn once after delay seconds of ticks.
type deferred struct {
	left float32
	fn   func()
}

type overrides struct {
	locks   map[string]*lock
	pending []deferred
}

func newOverrides() *overrides {
	return &overrides{locks: make(map[string]*lock)}
}

func (o *overrides) lock(channel string, weight, hold, release float32) {
	o.locks[channel] = &lock{weight: weight, release: release, left: hold}
}

func (o *overrides) locked(channel string) (*lock, bool) {
	l, ok := o.locks[channel]
	return l, ok
}

func (o *overrides) after(delay float32, fn func()) {
	o.pending = append(o.pending, deferred{left: delay, fn: fn})
}

// update counts every lock and deferred call down. Expired locks are
// returned with their release weight so the caller can write it.
func (o *overrides) update(dt float32) map[string]float32 {
	var expired map[string]float32
	for name, l := range o.locks {
		l.left -= dt
		if l.left <= 0 {
			if expired == nil {
				expired = make(map[string]float32)
			}
			expired[name] = l.release
			delete(o.locks, name)
		}
	}

	if len(o.pending) > 0 {
		due := o.pending[:0]
		var fire []func()
		for _, d := range o.pending {
			d.left -= dt
			if d.left <= 0 {
				fire = append(fire, d.fn)
				continue
			}
			due = append(due, d)
		}
		o.pending = due
		for _, fn := range fire {
			fn()
		}
	}
	return expired
}

func (o *overrides) clear() {
	o.locks = make(map[string]*lock)
	o.pending = nil
}
