package scheduler

type Event interface{}

// Queue

type EventQueueReplaced struct {
	Pending []string
}

type EventQueueAppended struct {
	Commands []string
}

// Jobs

type EventJobStarted struct {
	Job      int
	Resource int
	Command  string
}

type EventJobRespawned struct {
	Job      int
	Resource int
	Command  string
}

type EventJobCompleted struct {
	Job      int
	Resource int
	Status   int
}

// Subscribe returns a channel receiving scheduler events, and a function to stop receiving them.
// Events are dropped for subscribers that do not keep up.
func (s *Scheduler) Subscribe() (<-chan Event, func()) {
	s.listenersMutex.Lock()
	defer s.listenersMutex.Unlock()

	listener := make(chan Event, 64)
	s.listeners = append(s.listeners, listener)

	return listener, func() {
		s.listenersMutex.Lock()
		defer s.listenersMutex.Unlock()

		for i, l := range s.listeners {
			if l == listener {
				s.listeners = append(s.listeners[:i], s.listeners[i+1:]...)
				close(listener)
				return
			}
		}
	}
}

func (s *Scheduler) broadcast(event Event) {
	s.listenersMutex.RLock()
	defer s.listenersMutex.RUnlock()

	for _, listener := range s.listeners {
		select {
		case listener <- event:
		default:
			s.logger.Warn("Dropped event for slow subscriber", "event", event)
		}
	}
}
