package session

import (
	"sync"
)

type (
	User struct {
		ID    string
		Email string
	}

	// Event carries a change of session state. A nil User means the token
	// was signed out.
	Event struct {
		Token string
		User  *User
	}

	Handler func(Event)

	// Notifier fans session events out to subscribed handlers. Delivery is
	// synchronous and in publish order, so a sign-out is never lost or
	// reordered past a later sign-in: by the time Publish returns, every
	// subscriber has seen the event. Handlers must be quick and must not
	// call back into the notifier.
	Notifier struct {
		mu   sync.Mutex
		subs map[int]Handler
		next int
	}
)

func NewNotifier() *Notifier {
	return &Notifier{
		subs: map[int]Handler{},
	}
}

// Subscribe registers a handler. The returned func unsubscribes; it is safe
// to call more than once.
func (n *Notifier) Subscribe(h Handler) func() {
	n.mu.Lock()
	defer n.mu.Unlock()

	id := n.next
	n.next++
	n.subs[id] = h

	var once sync.Once
	return func() {
		once.Do(func() {
			n.mu.Lock()
			defer n.mu.Unlock()
			delete(n.subs, id)
		})
	}
}

func (n *Notifier) Publish(e Event) {
	n.mu.Lock()
	defer n.mu.Unlock()

	for _, h := range n.subs {
		h(e)
	}
}
