package patient

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/clinic/registry/internal/platform/apperr"
)

// -- Mock Repository --

type mockRepo struct {
	mu       sync.Mutex
	patients map[uuid.UUID]Patient
	visits   map[uuid.UUID]Visit

	failCreateVisit error
	failAdjust      error
}

func newMockRepo() *mockRepo {
	return &mockRepo{
		patients: make(map[uuid.UUID]Patient),
		visits:   make(map[uuid.UUID]Visit),
	}
}

type repoState struct {
	patients map[uuid.UUID]Patient
	visits   map[uuid.UUID]Visit
}

func (m *mockRepo) snapshot() repoState {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := repoState{
		patients: make(map[uuid.UUID]Patient, len(m.patients)),
		visits:   make(map[uuid.UUID]Visit, len(m.visits)),
	}
	for k, v := range m.patients {
		s.patients[k] = v
	}
	for k, v := range m.visits {
		s.visits[k] = v
	}
	return s
}

func (m *mockRepo) restore(s repoState) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.patients = s.patients
	m.visits = s.visits
}

func (m *mockRepo) countVisits(patientID uuid.UUID) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, v := range m.visits {
		if v.PatientID == patientID {
			n++
		}
	}
	return n
}

func (m *mockRepo) storedCount(patientID uuid.UUID) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.patients[patientID].VisitCount
}

func (m *mockRepo) CreatePatient(_ context.Context, p *Patient) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	stored := *p
	stored.Visits = nil
	m.patients[p.ID] = stored
	return nil
}

func (m *mockRepo) GetPatient(_ context.Context, id uuid.UUID) (*Patient, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.patients[id]
	if !ok {
		return nil, apperr.NotFound("Patient", id.String())
	}
	return &p, nil
}

func (m *mockRepo) LockPatient(ctx context.Context, id uuid.UUID) (*Patient, error) {
	return m.GetPatient(ctx, id)
}

func (m *mockRepo) UpdatePatient(_ context.Context, p *Patient) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.patients[p.ID]; !ok {
		return apperr.NotFound("Patient", p.ID.String())
	}
	stored := *p
	stored.Visits = nil
	m.patients[p.ID] = stored
	return nil
}

func (m *mockRepo) DeletePatient(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.patients[id]; !ok {
		return apperr.NotFound("Patient", id.String())
	}
	delete(m.patients, id)
	for vid, v := range m.visits {
		if v.PatientID == id {
			delete(m.visits, vid)
		}
	}
	return nil
}

func matchesSearch(p Patient, search string) bool {
	if search == "" {
		return true
	}
	term := strings.ToLower(search)
	if strings.Contains(strings.ToLower(p.FullName), term) || strings.Contains(strings.ToLower(p.Address), term) {
		return true
	}
	return p.Phone != nil && strings.Contains(strings.ToLower(*p.Phone), term)
}

func (m *mockRepo) ListPatients(_ context.Context, search string, limit, offset int) ([]*Patient, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var all []*Patient
	for _, p := range m.patients {
		if matchesSearch(p, search) {
			p := p
			all = append(all, &p)
		}
	}
	sort.Slice(all, func(i, j int) bool {
		if !all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].CreatedAt.After(all[j].CreatedAt)
		}
		return all[i].ID.String() > all[j].ID.String()
	})
	return pageOf(all, limit, offset), len(all), nil
}

func pageOf[T any](items []T, limit, offset int) []T {
	if offset >= len(items) {
		return nil
	}
	end := offset + limit
	if end > len(items) {
		end = len(items)
	}
	return items[offset:end]
}

func (m *mockRepo) PatientExists(_ context.Context, id uuid.UUID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.patients[id]
	return ok, nil
}

func (m *mockRepo) CreateVisit(_ context.Context, v *Visit) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failCreateVisit != nil {
		return m.failCreateVisit
	}
	if _, ok := m.patients[v.PatientID]; !ok {
		return apperr.NotFound("Patient", v.PatientID.String())
	}
	if v.ID == uuid.Nil {
		v.ID = uuid.New()
	}
	m.visits[v.ID] = *v
	return nil
}

func (m *mockRepo) GetVisit(_ context.Context, patientID, visitID uuid.UUID) (*Visit, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.visits[visitID]
	if !ok || v.PatientID != patientID {
		return nil, apperr.NotFound("Visit", visitID.String())
	}
	return &v, nil
}

func (m *mockRepo) UpdateVisit(_ context.Context, v *Visit) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.visits[v.ID]; !ok {
		return apperr.NotFound("Visit", v.ID.String())
	}
	m.visits[v.ID] = *v
	return nil
}

func (m *mockRepo) DeleteVisit(_ context.Context, patientID, visitID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.visits[visitID]
	if !ok || v.PatientID != patientID {
		return apperr.NotFound("Visit", visitID.String())
	}
	delete(m.visits, visitID)
	return nil
}

func (m *mockRepo) sortedVisits(patientID uuid.UUID) []*Visit {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Visit
	for _, v := range m.visits {
		if v.PatientID == patientID {
			v := v
			out = append(out, &v)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].VisitDate.Equal(out[j].VisitDate) {
			return out[i].VisitDate.After(out[j].VisitDate)
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

func (m *mockRepo) ListVisits(_ context.Context, patientID uuid.UUID, limit, offset int) ([]*Visit, int, error) {
	all := m.sortedVisits(patientID)
	return pageOf(all, limit, offset), len(all), nil
}

func (m *mockRepo) VisitsByPatient(_ context.Context, patientID uuid.UUID) ([]*Visit, error) {
	return m.sortedVisits(patientID), nil
}

func (m *mockRepo) RecentVisits(_ context.Context, patientIDs []uuid.UUID, perPatient int) (map[uuid.UUID][]*Visit, error) {
	out := make(map[uuid.UUID][]*Visit, len(patientIDs))
	for _, id := range patientIDs {
		if vs := pageOf(m.sortedVisits(id), perPatient, 0); len(vs) > 0 {
			out[id] = vs
		}
	}
	return out, nil
}

func (m *mockRepo) AdjustVisitCount(_ context.Context, patientID uuid.UUID, delta int) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failAdjust != nil {
		return 0, m.failAdjust
	}
	p, ok := m.patients[patientID]
	if !ok {
		return 0, apperr.NotFound("Patient", patientID.String())
	}
	p.VisitCount += delta
	if p.VisitCount < 0 {
		p.VisitCount = 0
	}
	m.patients[patientID] = p
	return p.VisitCount, nil
}

func (m *mockRepo) SetVisitCount(_ context.Context, patientID uuid.UUID, count int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.patients[patientID]
	if !ok {
		return apperr.NotFound("Patient", patientID.String())
	}
	p.VisitCount = count
	m.patients[patientID] = p
	return nil
}

func (m *mockRepo) RecountVisits(_ context.Context, patientID uuid.UUID) (int, error) {
	n := m.countVisits(patientID)
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.patients[patientID]
	if !ok {
		return 0, apperr.NotFound("Patient", patientID.String())
	}
	p.VisitCount = n
	m.patients[patientID] = p
	return n, nil
}

func (m *mockRepo) RecountAll(ctx context.Context) (int64, error) {
	m.mu.Lock()
	ids := make([]uuid.UUID, 0, len(m.patients))
	for id := range m.patients {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	var changed int64
	for _, id := range ids {
		before := m.storedCount(id)
		after, err := m.RecountVisits(ctx, id)
		if err != nil {
			return changed, err
		}
		if before != after {
			changed++
		}
	}
	return changed, nil
}

func (m *mockRepo) AllPatients(_ context.Context, fn func(p *Patient) error) error {
	m.mu.Lock()
	var all []*Patient
	for _, p := range m.patients {
		p := p
		all = append(all, &p)
	}
	m.mu.Unlock()

	sort.Slice(all, func(i, j int) bool {
		if !all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].CreatedAt.Before(all[j].CreatedAt)
		}
		return all[i].ID.String() < all[j].ID.String()
	})
	for _, p := range all {
		p.Visits = m.sortedVisits(p.ID)
		if err := fn(p); err != nil {
			return err
		}
	}
	return nil
}

// -- Mock Transactor --

// mockTx serializes transactions and restores the repository state when
// fn fails, which is what a rolled back database transaction looks like
// to the service.
type mockTx struct {
	mu      sync.Mutex
	repo    *mockRepo
	commits int
	aborts  int
}

func (t *mockTx) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	before := t.repo.snapshot()
	if err := fn(ctx); err != nil {
		t.repo.restore(before)
		t.aborts++
		return err
	}
	t.commits++
	return nil
}

func (t *mockTx) InSnapshot(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

var errBoom = errors.New("boom")
