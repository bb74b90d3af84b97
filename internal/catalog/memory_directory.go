package catalog

import (
	"context"
	"sync"
)

// MemoryDirectory keeps doctor profiles in process memory.
type MemoryDirectory struct {
	mu      sync.RWMutex
	doctors map[string]*Doctor
}

func NewMemoryDirectory(doctors ...*Doctor) *MemoryDirectory {
	d := &MemoryDirectory{doctors: make(map[string]*Doctor)}
	for _, doc := range doctors {
		d.Put(doc)
	}
	return d
}

func (d *MemoryDirectory) Put(doc *Doctor) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.doctors[doc.ID] = cloneDoctor(doc)
}

func (d *MemoryDirectory) GetDoctor(_ context.Context, id string) (*Doctor, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	doc, ok := d.doctors[id]
	if !ok {
		return nil, ErrDoctorNotFound
	}
	return cloneDoctor(doc), nil
}

func (d *MemoryDirectory) GetDoctors(_ context.Context, ids []string) (map[string]*Doctor, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make(map[string]*Doctor, len(ids))
	for _, id := range ids {
		if doc, ok := d.doctors[id]; ok {
			out[id] = cloneDoctor(doc)
		}
	}
	return out, nil
}

func (d *MemoryDirectory) SaveAvailability(_ context.Context, doctorID string, tmpl WeeklyTemplate) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	doc, ok := d.doctors[doctorID]
	if !ok {
		return ErrDoctorNotFound
	}
	doc.Availability = cloneTemplate(tmpl)
	return nil
}

func cloneDoctor(doc *Doctor) *Doctor {
	c := *doc
	c.Specializations = append([]string(nil), doc.Specializations...)
	c.Modes = append([]Mode(nil), doc.Modes...)
	c.Availability = cloneTemplate(doc.Availability)
	return &c
}

func cloneTemplate(tmpl WeeklyTemplate) WeeklyTemplate {
	out := make(WeeklyTemplate, len(tmpl))
	for day, windows := range tmpl {
		out[day] = append([]Window(nil), windows...)
	}
	return out
}
