package booking

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemRepository is an in-memory Repository used in tests and local
// development. A mutex held for the whole transaction stands in for row
// locks, which serializes transactions the same way contended FOR UPDATE
// rows would.
type MemRepository struct {
	mu           sync.Mutex
	users        map[int64]*User
	slots        map[int64]*Slot
	appointments map[int64]*Appointment
	payments     map[int64]*Payment
	nextID       int64
}

func NewMemRepository() *MemRepository {
	return &MemRepository{
		users:        make(map[int64]*User),
		slots:        make(map[int64]*Slot),
		appointments: make(map[int64]*Appointment),
		payments:     make(map[int64]*Payment),
	}
}

func (r *MemRepository) nextSeq() int64 {
	r.nextID++
	return r.nextID
}

func (r *MemRepository) InTx(ctx context.Context, fn func(tx Tx) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	snapshot := r.snapshot()
	if err := fn(&memTx{repo: r}); err != nil {
		r.restore(snapshot)
		return err
	}
	return nil
}

type memState struct {
	users        map[int64]*User
	slots        map[int64]*Slot
	appointments map[int64]*Appointment
	payments     map[int64]*Payment
	nextID       int64
}

func (r *MemRepository) snapshot() memState {
	s := memState{
		users:        make(map[int64]*User, len(r.users)),
		slots:        make(map[int64]*Slot, len(r.slots)),
		appointments: make(map[int64]*Appointment, len(r.appointments)),
		payments:     make(map[int64]*Payment, len(r.payments)),
		nextID:       r.nextID,
	}
	for id, u := range r.users {
		s.users[id] = copyUser(u)
	}
	for id, sl := range r.slots {
		s.slots[id] = copySlot(sl)
	}
	for id, a := range r.appointments {
		s.appointments[id] = copyAppointment(a)
	}
	for id, p := range r.payments {
		s.payments[id] = copyPayment(p)
	}
	return s
}

func (r *MemRepository) restore(s memState) {
	r.users = s.users
	r.slots = s.slots
	r.appointments = s.appointments
	r.payments = s.payments
	r.nextID = s.nextID
}

func copyUser(u *User) *User { c := *u; return &c }

func copySlot(s *Slot) *Slot {
	c := *s
	if s.StudentID != nil {
		id := *s.StudentID
		c.StudentID = &id
	}
	return &c
}

func copyAppointment(a *Appointment) *Appointment {
	c := *a
	if a.SlotID != nil {
		id := *a.SlotID
		c.SlotID = &id
	}
	return &c
}

func copyPayment(p *Payment) *Payment { c := *p; return &c }

// Lock-free reads

func (r *MemRepository) GetUserByID(ctx context.Context, id int64) (*User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[id]
	if !ok {
		return nil, ErrUserNotFound
	}
	return copyUser(u), nil
}

func (r *MemRepository) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.users {
		if u.Email == email {
			return copyUser(u), nil
		}
	}
	return nil, ErrUserNotFound
}

func (r *MemRepository) CreateUser(ctx context.Context, u *User) (*User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.users {
		if existing.Email == u.Email {
			return nil, ErrUserExists
		}
	}
	c := copyUser(u)
	c.ID = r.nextSeq()
	c.CreatedAt = time.Now()
	r.users[c.ID] = c
	return copyUser(c), nil
}

func (r *MemRepository) GetSlotByID(ctx context.Context, id int64) (*Slot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.getSlot(id)
}

func (r *MemRepository) getSlot(id int64) (*Slot, error) {
	s, ok := r.slots[id]
	if !ok {
		return nil, ErrSlotNotFound
	}
	return copySlot(s), nil
}

func (r *MemRepository) ListOpenSlots(ctx context.Context, from time.Time) ([]Slot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var result []Slot
	for _, s := range r.slots {
		if !s.Booked && !s.Cancelled && s.StartTime.After(from) {
			result = append(result, *copySlot(s))
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].StartTime.Before(result[j].StartTime) })
	return result, nil
}

func (r *MemRepository) GetAppointmentByID(ctx context.Context, id int64) (*Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.getAppointment(id)
}

func (r *MemRepository) getAppointment(id int64) (*Appointment, error) {
	a, ok := r.appointments[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	return copyAppointment(a), nil
}

func (r *MemRepository) ListAppointmentsByStudent(ctx context.Context, studentID int64) ([]Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.listAppointments(func(a *Appointment) bool { return a.StudentID == studentID }), nil
}

func (r *MemRepository) ListAppointmentsByCounsellor(ctx context.Context, counsellorID int64) ([]Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.listAppointments(func(a *Appointment) bool { return a.CounsellorID == counsellorID }), nil
}

func (r *MemRepository) FindStalePendingPayment(ctx context.Context, cutoff time.Time) ([]Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.listAppointments(func(a *Appointment) bool {
		return a.Status == StatusPendingPayment && a.CreatedAt.Before(cutoff)
	}), nil
}

func (r *MemRepository) listAppointments(match func(*Appointment) bool) []Appointment {
	var result []Appointment
	for _, a := range r.appointments {
		if match(a) {
			result = append(result, *copyAppointment(a))
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].AppointmentTime.Before(result[j].AppointmentTime)
	})
	return result
}

// memTx mutates the repository maps directly; the InTx mutex is already held
// and the pre-transaction snapshot covers rollback.
type memTx struct {
	repo *MemRepository
}

func (t *memTx) GetSlotForUpdate(ctx context.Context, id int64) (*Slot, error) {
	return t.repo.getSlot(id)
}

func (t *memTx) GetSlotByID(ctx context.Context, id int64) (*Slot, error) {
	return t.repo.getSlot(id)
}

func (t *memTx) ListCounsellorSlotsFrom(ctx context.Context, counsellorID int64, from time.Time) ([]Slot, error) {
	var result []Slot
	for _, s := range t.repo.slots {
		if s.CounsellorID == counsellorID && s.EndTime.After(from) && !s.Cancelled {
			result = append(result, *copySlot(s))
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].StartTime.Before(result[j].StartTime) })
	return result, nil
}

func (t *memTx) InsertSlot(ctx context.Context, s *Slot) (*Slot, error) {
	for _, existing := range t.repo.slots {
		if existing.CounsellorID == s.CounsellorID &&
			existing.StartTime.Equal(s.StartTime) && existing.EndTime.Equal(s.EndTime) {
			return nil, ErrSlotExists
		}
	}
	c := copySlot(s)
	c.ID = t.repo.nextSeq()
	t.repo.slots[c.ID] = c
	return copySlot(c), nil
}

func (t *memTx) UpdateSlot(ctx context.Context, s *Slot) error {
	if _, ok := t.repo.slots[s.ID]; !ok {
		return ErrSlotNotFound
	}
	t.repo.slots[s.ID] = copySlot(s)
	return nil
}

func (t *memTx) GetAppointmentForUpdate(ctx context.Context, id int64) (*Appointment, error) {
	return t.repo.getAppointment(id)
}

func (t *memTx) GetAppointmentBySlotForUpdate(ctx context.Context, slotID int64) (*Appointment, error) {
	var latest *Appointment
	for _, a := range t.repo.appointments {
		if a.SlotID != nil && *a.SlotID == slotID && !a.Status.Cancelled() {
			if latest == nil || a.ID > latest.ID {
				latest = a
			}
		}
	}
	if latest == nil {
		return nil, ErrAppointmentNotFound
	}
	return copyAppointment(latest), nil
}

func (t *memTx) InsertAppointment(ctx context.Context, a *Appointment) (*Appointment, error) {
	c := copyAppointment(a)
	c.ID = t.repo.nextSeq()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now()
	}
	c.Version = 1
	t.repo.appointments[c.ID] = c
	return copyAppointment(c), nil
}

func (t *memTx) UpdateAppointment(ctx context.Context, a *Appointment) error {
	stored, ok := t.repo.appointments[a.ID]
	if !ok {
		return ErrAppointmentNotFound
	}
	if stored.Version != a.Version {
		return ErrConcurrentModification
	}
	a.Version++
	t.repo.appointments[a.ID] = copyAppointment(a)
	return nil
}

func (t *memTx) GetPaymentForUpdate(ctx context.Context, id int64) (*Payment, error) {
	p, ok := t.repo.payments[id]
	if !ok {
		return nil, ErrPaymentNotFound
	}
	return copyPayment(p), nil
}

func (t *memTx) GetPaymentByAppointmentForUpdate(ctx context.Context, appointmentID int64) (*Payment, error) {
	var latest *Payment
	for _, p := range t.repo.payments {
		if p.AppointmentID == appointmentID {
			if latest == nil || p.ID > latest.ID {
				latest = p
			}
		}
	}
	if latest == nil {
		return nil, ErrPaymentNotFound
	}
	return copyPayment(latest), nil
}

func (t *memTx) GetPaymentByOrderIDForUpdate(ctx context.Context, gatewayOrderID string) (*Payment, error) {
	for _, p := range t.repo.payments {
		if p.GatewayOrderID == gatewayOrderID {
			return copyPayment(p), nil
		}
	}
	return nil, ErrPaymentNotFound
}

func (t *memTx) GetPendingPaymentByAppointment(ctx context.Context, appointmentID int64) (*Payment, error) {
	for _, p := range t.repo.payments {
		if p.AppointmentID == appointmentID && p.Status == PaymentPending {
			return copyPayment(p), nil
		}
	}
	return nil, ErrPaymentNotFound
}

func (t *memTx) InsertPayment(ctx context.Context, p *Payment) (*Payment, error) {
	c := copyPayment(p)
	c.ID = t.repo.nextSeq()
	c.CreatedAt = time.Now()
	t.repo.payments[c.ID] = c
	return copyPayment(c), nil
}

func (t *memTx) UpdatePayment(ctx context.Context, p *Payment) error {
	if _, ok := t.repo.payments[p.ID]; !ok {
		return ErrPaymentNotFound
	}
	t.repo.payments[p.ID] = copyPayment(p)
	return nil
}

func (t *memTx) GetUserByID(ctx context.Context, id int64) (*User, error) {
	u, ok := t.repo.users[id]
	if !ok {
		return nil, ErrUserNotFound
	}
	return copyUser(u), nil
}
