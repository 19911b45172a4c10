package localstore

import "sync"

type subscription struct {
	id         int64
	eventsChan chan struct{}
}

// eventsManager fans a commit signal out to subscribers. Signals coalesce:
// a subscriber that has not drained its channel sees a single pending
// notification for any number of commits.
type eventsManager struct {
	sync.Mutex
	globalIDs int64
	streams   map[int64]*subscription
}

func newEventsManager() *eventsManager {
	return &eventsManager{
		streams: make(map[int64]*subscription),
	}
}

func (c *eventsManager) subscribe() *subscription {
	c.Lock()
	defer c.Unlock()
	c.globalIDs += 1
	s := &subscription{id: c.globalIDs, eventsChan: make(chan struct{}, 1)}
	c.streams[s.id] = s
	return s
}

func (c *eventsManager) unsubscribe(id int64) {
	c.Lock()
	defer c.Unlock()
	delete(c.streams, id)
}

func (c *eventsManager) notifyChange() {
	c.Lock()
	defer c.Unlock()
	for _, sub := range c.streams {
		select {
		case sub.eventsChan <- struct{}{}:
		default:
		}
	}
}
