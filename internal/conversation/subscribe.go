package conversation

const subscriberBuffer = 32

// Subscribe registers an observer of view updates. A slow observer loses
// the oldest pending views, never the newest. The returned func unregisters
// and closes the channel.
func (s *Store) Subscribe() (<-chan View, func()) {
	ch := make(chan View, subscriberBuffer)

	s.subMu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = ch
	s.subMu.Unlock()

	var once bool
	return ch, func() {
		s.subMu.Lock()
		defer s.subMu.Unlock()
		if once {
			return
		}
		once = true
		delete(s.subs, id)
		close(ch)
	}
}

func (s *Store) notify(v View) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	for _, ch := range s.subs {
		select {
		case ch <- v:
			continue
		default:
		}
		// Full: drop the oldest view and retry once.
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- v:
		default:
		}
	}
}
