package service

import (
	"context"

	"github.com/invigilo/invigilo-backend/internal/model"
	"github.com/invigilo/invigilo-backend/internal/repository"
)

// UserService handles student and instructor account lookups.
type UserService struct {
	repo *repository.UserRepository
	auth *AuthService
}

// NewUserService creates a new UserService.
func NewUserService(repo *repository.UserRepository, auth *AuthService) *UserService {
	return &UserService{repo: repo, auth: auth}
}

// GetStudentByUsername retrieves a student by username.
func (s *UserService) GetStudentByUsername(ctx context.Context, username string) (*model.Student, error) {
	return s.repo.GetStudentByUsername(ctx, username)
}

// GetStudentByID retrieves a student by ID.
func (s *UserService) GetStudentByID(ctx context.Context, id int) (*model.Student, error) {
	return s.repo.GetStudentByID(ctx, id)
}

// GetInstructorByEmail retrieves an instructor by email.
func (s *UserService) GetInstructorByEmail(ctx context.Context, email string) (*model.Instructor, error) {
	return s.repo.GetInstructorByEmail(ctx, email)
}

// CreateStudent registers a student with a freshly hashed password.
func (s *UserService) CreateStudent(ctx context.Context, name, username, password string) (*model.Student, error) {
	hash, err := s.auth.HashPassword(password)
	if err != nil {
		return nil, err
	}
	student := &model.Student{Name: name, Username: username, PasswordHash: hash}
	if err := s.repo.CreateStudent(ctx, student); err != nil {
		return nil, err
	}
	return student, nil
}

// CreateInstructor registers an instructor with a freshly hashed password.
func (s *UserService) CreateInstructor(ctx context.Context, name, email, password string) (*model.Instructor, error) {
	hash, err := s.auth.HashPassword(password)
	if err != nil {
		return nil, err
	}
	instructor := &model.Instructor{Name: name, Email: email, PasswordHash: hash}
	if err := s.repo.CreateInstructor(ctx, instructor); err != nil {
		return nil, err
	}
	return instructor, nil
}
