package sessionstore

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/ashita-ai/kiroku/internal/model"
)

// Memory is an in-process Store. One mutex serializes every operation, which
// is the document-level lock concurrent appends need.
type Memory struct {
	mu       sync.Mutex
	projects map[string]*model.Project
	now      func() time.Time
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{projects: make(map[string]*model.Project), now: time.Now}
}

// subproject returns the named subproject, creating the hierarchy. Caller holds mu.
func (m *Memory) subproject(project, subproject string) *model.Subproject {
	p, ok := m.projects[project]
	if !ok {
		p = &model.Project{Name: project, Subprojects: make(map[string]*model.Subproject)}
		m.projects[project] = p
	}
	sp, ok := p.Subprojects[subproject]
	if !ok {
		sp = &model.Subproject{Name: subproject}
		p.Subprojects[subproject] = sp
	}
	return sp
}

func findSession(sp *model.Subproject, sessionID string) int {
	for i := range sp.Sessions {
		if sp.Sessions[i].SessionID == sessionID {
			return i
		}
	}
	return -1
}

// UpsertSession adds s unless a session with its ID already exists. A zero
// CreatedAt is set to the current time.
func (m *Memory) UpsertSession(_ context.Context, project, subproject string, s model.Session) error {
	if err := validate(project, subproject); err != nil || s.SessionID == "" {
		return ErrInvalidArgument
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	sp := m.subproject(project, subproject)
	if findSession(sp, s.SessionID) >= 0 {
		return nil
	}
	if s.CreatedAt.IsZero() {
		s.CreatedAt = m.now().UTC()
	}
	s.Endpoints = slices.Clone(s.Endpoints)
	sp.Sessions = append(sp.Sessions, s)
	return nil
}

// AppendCallRecord appends rec to the session, creating the project,
// subproject and session on first use.
func (m *Memory) AppendCallRecord(_ context.Context, project, subproject, sessionID string, rec model.CallRecord) error {
	if err := validate(project, subproject); err != nil || sessionID == "" {
		return ErrInvalidArgument
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	sp := m.subproject(project, subproject)
	i := findSession(sp, sessionID)
	if i < 0 {
		createdAt := rec.Timestamp
		if createdAt.IsZero() {
			createdAt = m.now().UTC()
		}
		sp.Sessions = append(sp.Sessions, model.Session{SessionID: sessionID, CreatedAt: createdAt})
		i = len(sp.Sessions) - 1
	}
	sp.Sessions[i].Endpoints = append(sp.Sessions[i].Endpoints, rec)
	return nil
}

// RecentSessions returns copies of up to limit sessions, newest first.
func (m *Memory) RecentSessions(_ context.Context, project, subproject string, limit int) ([]model.Session, error) {
	if err := validate(project, subproject); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.projects[project]
	if !ok {
		return nil, nil
	}
	sp, ok := p.Subprojects[subproject]
	if !ok {
		return nil, nil
	}
	// Newest insertion first, so equal createdAt values keep the later
	// session ahead after the stable sort.
	out := make([]model.Session, len(sp.Sessions))
	for i, s := range sp.Sessions {
		s.Endpoints = slices.Clone(s.Endpoints)
		out[len(out)-1-i] = s
	}
	sort.SliceStable(out, func(a, b int) bool { return out[a].CreatedAt.After(out[b].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// RecentCallRecords returns up to limit records across all sessions,
// newest first.
func (m *Memory) RecentCallRecords(_ context.Context, project, subproject string, limit int) ([]model.CallRecord, error) {
	if err := validate(project, subproject); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.projects[project]
	if !ok {
		return nil, nil
	}
	sp, ok := p.Subprojects[subproject]
	if !ok {
		return nil, nil
	}
	var out []model.CallRecord
	for _, s := range sp.Sessions {
		out = append(out, s.Endpoints...)
	}
	sort.SliceStable(out, func(a, b int) bool { return out[a].Timestamp.After(out[b].Timestamp) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Subprojects lists the subprojects of project in name order.
func (m *Memory) Subprojects(_ context.Context, project string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.projects[project]
	if !ok {
		return nil, nil
	}
	names := make([]string, 0, len(p.Subprojects))
	for name := range p.Subprojects {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// Projects lists every project in name order.
func (m *Memory) Projects(_ context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	names := make([]string, 0, len(m.projects))
	for name := range m.projects {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}
