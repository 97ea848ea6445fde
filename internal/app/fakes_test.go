package app

import (
	"context"
	"net/url"
	"sync"

	"medscan/internal/model"
	"medscan/internal/repository"
)

type memoryUsers struct {
	mu     sync.Mutex
	nextID uint
	byID   map[uint]*model.User
}

func newMemoryUsers() *memoryUsers {
	return &memoryUsers{byID: map[uint]*model.User{}}
}

func copyUser(u *model.User) *model.User {
	out := *u
	return &out
}

func (m *memoryUsers) Create(_ context.Context, user *model.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.byID {
		if u.Email == user.Email {
			return repository.ErrDuplicate
		}
	}
	m.nextID++
	user.ID = m.nextID
	m.byID[user.ID] = copyUser(user)
	return nil
}

func (m *memoryUsers) find(match func(*model.User) bool) *model.User {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.byID {
		if match(u) {
			return copyUser(u)
		}
	}
	return nil
}

func (m *memoryUsers) GetByEmail(_ context.Context, email string) (*model.User, error) {
	return m.find(func(u *model.User) bool { return u.Email == email }), nil
}

func (m *memoryUsers) GetByGoogleID(_ context.Context, googleID string) (*model.User, error) {
	return m.find(func(u *model.User) bool { return u.GoogleID != nil && *u.GoogleID == googleID }), nil
}

func (m *memoryUsers) GetByID(_ context.Context, id uint) (*model.User, error) {
	return m.find(func(u *model.User) bool { return u.ID == id }), nil
}

func (m *memoryUsers) Update(_ context.Context, user *model.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byID[user.ID] = copyUser(user)
	return nil
}

type sentMail struct {
	to, name, link string
}

type recordingMailer struct {
	mu   sync.Mutex
	sent []sentMail
	err  error
}

func (m *recordingMailer) SendVerification(to, name, link string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, sentMail{to: to, name: name, link: link})
	return nil
}

func (m *recordingMailer) lastToken() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.sent) == 0 {
		return ""
	}
	u, err := url.Parse(m.sent[len(m.sent)-1].link)
	if err != nil {
		return ""
	}
	return u.Query().Get("token")
}
