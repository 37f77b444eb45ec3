package query

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/excelgpt/backend/pkg/logger"
)

// RequestState is the polling view of an asynchronous query.
type RequestState struct {
	RequestID string    `json:"request_id"`
	Status    string    `json:"status"`
	Result    *Result   `json:"result,omitempty"`
	Error     string    `json:"error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

const StatusProcessing = "processing"

// RequestStore runs queries in the background for the polling REST API and
// keeps finished results around until they expire.
type RequestStore struct {
	engine  *Engine
	ttl     time.Duration
	timeout time.Duration
	logger  *zap.Logger

	mu       sync.RWMutex
	requests map[string]*RequestState
}

func NewRequestStore(engine *Engine) *RequestStore {
	return &RequestStore{
		engine:   engine,
		ttl:      10 * time.Minute,
		timeout:  3 * time.Minute,
		logger:   logger.GetLogger(),
		requests: make(map[string]*RequestState),
	}
}

// Submit starts processing in the background and returns the request id the
// client polls with.
func (s *RequestStore) Submit(clientID, queryText string) string {
	id := uuid.New().String()

	state := &RequestState{
		RequestID: id,
		Status:    StatusProcessing,
		CreatedAt: time.Now(),
	}

	s.mu.Lock()
	s.requests[id] = state
	s.mu.Unlock()

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
		defer cancel()

		result, err := s.engine.ProcessQuery(ctx, clientID, queryText, nil)

		s.mu.Lock()
		defer s.mu.Unlock()

		if err != nil {
			state.Status = StatusError
			state.Error = err.Error()
			if result != nil {
				state.Result = result
			}
			return
		}
		state.Status = StatusCompleted
		state.Result = result
	}()

	return id
}

// Get returns a copy of the current state of a request. The copy is taken
// under the lock so pollers never observe a half-published completion; the
// Result pointer is only ever written together with the final status.
func (s *RequestStore) Get(id string) (RequestState, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	state, ok := s.requests[id]
	if !ok {
		return RequestState{}, false
	}
	return *state, true
}

// StartSweeper evicts expired requests until ctx is cancelled.
func (s *RequestStore) StartSweeper(ctx context.Context) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweep(time.Now())
		}
	}
}

func (s *RequestStore) sweep(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	evicted := 0
	for id, state := range s.requests {
		if state.Status != StatusProcessing && now.Sub(state.CreatedAt) > s.ttl {
			delete(s.requests, id)
			evicted++
		}
	}

	if evicted > 0 {
		s.logger.Debug("Evicted expired poll requests", zap.Int("count", evicted))
	}
}
