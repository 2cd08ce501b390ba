package database

import (
	"github.com/stretchr/testify/mock"
)

type MockRepository struct {
	mock.Mock
}

func (m *MockRepository) Ping() error {
	args := m.Called()
	return args.Error(0)
}
func (m *MockRepository) CreateAccount(params CreateAccountParams) (User, error) {
	args := m.Called(params)
	return args.Get(0).(User), args.Error(1)
}
func (m *MockRepository) GetAccountById(accountId int64) (User, error) {
	args := m.Called(accountId)
	return args.Get(0).(User), args.Error(1)
}
func (m *MockRepository) GetAccountByEmail(email string) (User, error) {
	args := m.Called(email)
	return args.Get(0).(User), args.Error(1)
}
func (m *MockRepository) CreateRoom(params CreateRoomParams) (Room, error) {
	args := m.Called(params)
	return args.Get(0).(Room), args.Error(1)
}
func (m *MockRepository) GetRoomByExternalId(externalId string) (Room, error) {
	args := m.Called(externalId)
	return args.Get(0).(Room), args.Error(1)
}
func (m *MockRepository) RoomMembers(roomId int64) ([]Membership, error) {
	args := m.Called(roomId)
	return args.Get(0).([]Membership), args.Error(1)
}
func (m *MockRepository) IsMember(roomId, accountId int64) bool {
	args := m.Called(roomId, accountId)
	return args.Bool(0)
}
func (m *MockRepository) AddMember(roomId, accountId int64, role string) (Membership, error) {
	args := m.Called(roomId, accountId, role)
	return args.Get(0).(Membership), args.Error(1)
}
func (m *MockRepository) ListRooms(accountId int64, limit, offset int) ([]Room, error) {
	args := m.Called(accountId, limit, offset)
	return args.Get(0).([]Room), args.Error(1)
}
func (m *MockRepository) UpdateLastRead(roomId, accountId, messageId int64) error {
	args := m.Called(roomId, accountId, messageId)
	return args.Error(0)
}
func (m *MockRepository) CreateMessage(params CreateMessageParams) (Message, bool, error) {
	args := m.Called(params)
	return args.Get(0).(Message), args.Bool(1), args.Error(2)
}
func (m *MockRepository) ListMessages(roomId int64, limit, offset int) ([]Message, int, error) {
	args := m.Called(roomId, limit, offset)
	return args.Get(0).([]Message), args.Int(1), args.Error(2)
}
