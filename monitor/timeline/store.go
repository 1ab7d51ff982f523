package timeline

import (
	"sync"
	"time"
)

// CheckEvent records one step of a project's monitoring lifecycle.
type CheckEvent struct {
	ProjectID string            `json:"project_id"`
	Stage     string            `json:"stage"` // PROBE_STARTED, PROBE_COMPLETED, RESCRAPE_QUEUED, CRAWL_STARTED, CRAWL_COMPLETED, CURATION_APPLIED, ARTIFACT_WRITTEN, FAILED
	Timestamp time.Time         `json:"timestamp"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// maxEventsPerProject caps the in-memory history so long-lived projects
// don't grow without bound.
const maxEventsPerProject = 200

type Store struct {
	events map[string][]CheckEvent
	mu     sync.RWMutex
}

func NewStore() *Store {
	return &Store{
		events: make(map[string][]CheckEvent),
	}
}

func (s *Store) Record(e CheckEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	list := append(s.events[e.ProjectID], e)
	if len(list) > maxEventsPerProject {
		list = list[len(list)-maxEventsPerProject:]
	}
	s.events[e.ProjectID] = list
}

func (s *Store) GetEvents(projectID string) []CheckEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()

	list := s.events[projectID]
	c := make([]CheckEvent, len(list))
	copy(c, list)
	return c
}

// GetEventsByStage filters a project's history to a single lifecycle stage.
func (s *Store) GetEventsByStage(projectID, stage string) []CheckEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var results []CheckEvent
	for _, e := range s.events[projectID] {
		if e.Stage == stage {
			results = append(results, e)
		}
	}
	return results
}

// Forget drops a project's history, used when the project is deleted.
func (s *Store) Forget(projectID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.events, projectID)
}
