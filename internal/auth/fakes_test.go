package auth

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/4mln/B2B/internal/model"
)

// In-memory repository fakes. They mirror the SQL implementations'
// semantics closely enough for orchestration tests, including the
// single-winner MarkUsed guard.

type fakeOtpRepo struct {
	mu         sync.Mutex
	seq        int
	challenges map[uuid.UUID]*model.OTPChallenge
	order      map[uuid.UUID]int
}

func newFakeOtpRepo() *fakeOtpRepo {
	return &fakeOtpRepo{
		challenges: make(map[uuid.UUID]*model.OTPChallenge),
		order:      make(map[uuid.UUID]int),
	}
}

func (r *fakeOtpRepo) Create(_ context.Context, phone, codeHash string, expiresAt time.Time, requestIP, userAgent *string) (uuid.UUID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := uuid.New()
	r.seq++
	r.challenges[id] = &model.OTPChallenge{
		ID:        id,
		Phone:     phone,
		CodeHash:  codeHash,
		ExpiresAt: expiresAt,
		RequestIP: requestIP,
		UserAgent: userAgent,
		CreatedAt: time.Now(),
	}
	r.order[id] = r.seq
	return id, nil
}

func (r *fakeOtpRepo) GetLatestValid(_ context.Context, phone string) (model.OTPChallenge, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var latest *model.OTPChallenge
	now := time.Now()
	for _, c := range r.challenges {
		if c.Phone != phone || c.IsUsed || !c.ExpiresAt.After(now) {
			continue
		}
		if latest == nil || r.order[c.ID] > r.order[latest.ID] {
			latest = c
		}
	}
	if latest == nil {
		return model.OTPChallenge{}, errors.New("no valid challenge")
	}
	return *latest, nil
}

func (r *fakeOtpRepo) IncrementAttempts(_ context.Context, challengeID uuid.UUID) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.challenges[challengeID]
	if !ok {
		return 0, errors.New("challenge not found")
	}
	c.Attempts++
	return c.Attempts, nil
}

func (r *fakeOtpRepo) MarkUsed(_ context.Context, challengeID uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.challenges[challengeID]
	if !ok || c.IsUsed {
		return errors.New("challenge already used or not found")
	}
	c.IsUsed = true
	return nil
}

type fakeUserRepo struct {
	mu    sync.Mutex
	users map[uuid.UUID]*model.User
}

func newFakeUserRepo() *fakeUserRepo {
	return &fakeUserRepo{users: make(map[uuid.UUID]*model.User)}
}

func (r *fakeUserRepo) add(u model.User) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.users[u.ID] = &u
}

func (r *fakeUserRepo) GetByID(_ context.Context, id uuid.UUID) (model.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if u, ok := r.users[id]; ok {
		return *u, nil
	}
	return model.User{}, errors.New("user not found")
}

func (r *fakeUserRepo) GetByPhone(_ context.Context, phone string) (model.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.users {
		if u.Phone == phone {
			return *u, nil
		}
	}
	return model.User{}, errors.New("user not found")
}

func (r *fakeUserRepo) GetByEmail(_ context.Context, email string) (model.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.users {
		if u.Email != nil && *u.Email == email {
			return *u, nil
		}
	}
	return model.User{}, errors.New("user not found")
}

func (r *fakeUserRepo) GetOrCreateByPhone(ctx context.Context, phone string) (model.User, error) {
	if u, err := r.GetByPhone(ctx, phone); err == nil {
		return u, nil
	}
	u := model.User{ID: uuid.New(), Phone: phone, CreatedAt: time.Now()}
	r.add(u)
	return u, nil
}

func (r *fakeUserRepo) TouchLastLogin(_ context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if u, ok := r.users[id]; ok {
		now := time.Now()
		u.LastLoginAt = &now
	}
	return nil
}

type deviceKey struct {
	deviceID string
	userID   uuid.UUID
}

type fakeDeviceRepo struct {
	mu      sync.Mutex
	devices map[deviceKey]*model.Device
}

func newFakeDeviceRepo() *fakeDeviceRepo {
	return &fakeDeviceRepo{devices: make(map[deviceKey]*model.Device)}
}

func (r *fakeDeviceRepo) Upsert(_ context.Context, deviceID string, userID uuid.UUID, deviceType string, deviceName, ip, userAgent *string, expiresAt time.Time) (model.Device, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := deviceKey{deviceID, userID}
	d, ok := r.devices[key]
	if !ok {
		d = &model.Device{
			DeviceID:   deviceID,
			UserID:     userID,
			DeviceType: deviceType,
			DeviceName: deviceName,
			ExpiresAt:  expiresAt,
			IPAddress:  ip,
			UserAgent:  userAgent,
			CreatedAt:  time.Now(),
		}
		r.devices[key] = d
	}
	d.Revoked = false
	d.DeviceType = deviceType
	d.LastUsedAt = time.Now()
	if deviceName != nil {
		d.DeviceName = deviceName
	}
	if ip != nil {
		d.IPAddress = ip
	}
	if userAgent != nil {
		d.UserAgent = userAgent
	}
	return *d, nil
}

func (r *fakeDeviceRepo) Get(_ context.Context, userID uuid.UUID, deviceID string) (model.Device, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if d, ok := r.devices[deviceKey{deviceID, userID}]; ok {
		return *d, nil
	}
	return model.Device{}, errors.New("device not found")
}

func (r *fakeDeviceRepo) BindRefreshToken(_ context.Context, deviceID string, userID uuid.UUID, tokenHash string, expiresAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.devices[deviceKey{deviceID, userID}]
	if !ok {
		return errors.New("device not found")
	}
	d.RefreshTokenHash = &tokenHash
	d.ExpiresAt = expiresAt
	d.LastUsedAt = time.Now()
	return nil
}

func (r *fakeDeviceRepo) Revoke(_ context.Context, userID uuid.UUID, deviceID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.devices[deviceKey{deviceID, userID}]
	if !ok {
		return errors.New("device not found")
	}
	d.Revoked = true
	d.RefreshTokenHash = nil
	return nil
}

func (r *fakeDeviceRepo) RevokeAllForUser(_ context.Context, userID uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, d := range r.devices {
		if d.UserID == userID {
			d.Revoked = true
			d.RefreshTokenHash = nil
		}
	}
	return nil
}

func (r *fakeDeviceRepo) ListActive(_ context.Context, userID uuid.UUID) ([]model.Device, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []model.Device
	for _, d := range r.devices {
		if d.UserID == userID && !d.Revoked {
			out = append(out, *d)
		}
	}
	return out, nil
}

type fakeSessionRepo struct {
	mu       sync.Mutex
	sessions []*model.Session
}

func newFakeSessionRepo() *fakeSessionRepo {
	return &fakeSessionRepo{}
}

func (r *fakeSessionRepo) Create(_ context.Context, userID uuid.UUID, deviceID, loginMethod string, ip, userAgent *string, expiresAt time.Time) (uuid.UUID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := &model.Session{
		ID:          uuid.New(),
		UserID:      userID,
		DeviceID:    deviceID,
		LoginMethod: loginMethod,
		IsActive:    true,
		IPAddress:   ip,
		UserAgent:   userAgent,
		CreatedAt:   time.Now(),
		ExpiresAt:   expiresAt,
	}
	r.sessions = append(r.sessions, s)
	return s.ID, nil
}

func (r *fakeSessionRepo) Deactivate(_ context.Context, userID uuid.UUID, deviceID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.sessions {
		if s.UserID == userID && s.DeviceID == deviceID {
			s.IsActive = false
		}
	}
	return nil
}

func (r *fakeSessionRepo) DeactivateAllForUser(_ context.Context, userID uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.sessions {
		if s.UserID == userID {
			s.IsActive = false
		}
	}
	return nil
}

func (r *fakeSessionRepo) ListByUser(_ context.Context, userID uuid.UUID) ([]model.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []model.Session
	for _, s := range r.sessions {
		if s.UserID == userID {
			out = append(out, *s)
		}
	}
	return out, nil
}

// modelUser builds a password-capable user for login tests.
func modelUser(email, passwordHash string) model.User {
	return model.User{
		ID:             uuid.New(),
		Phone:          "+15559876543",
		Email:          &email,
		HashedPassword: &passwordHash,
		CreatedAt:      time.Now(),
	}
}

// fakeSMSSender records sent codes and can be told to fail.
type fakeSMSSender struct {
	mu       sync.Mutex
	sent     []string
	lastCode string
	fail     error
}

func (f *fakeSMSSender) SendOTP(_ context.Context, phone, code string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return f.fail
	}
	f.sent = append(f.sent, phone)
	f.lastCode = code
	return nil
}

func (f *fakeSMSSender) LastCode() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastCode
}

func (f *fakeSMSSender) SentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}
