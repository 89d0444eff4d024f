// README: Entity service handles registration, profile edits and the service catalog.
package entity

import (
	"context"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"karigar/internal/types"
)

const minPasswordLen = 8

type Service struct {
	store Store
	log   *slog.Logger
}

func NewService(store Store, log *slog.Logger) *Service {
	return &Service{store: store, log: log.With("module", "entity")}
}

type RegisterCommand struct {
	Email       string
	Password    string
	Role        types.Role
	DisplayName string
	Phone       string
	City        string
	Bio         string
	CrewSize    int
}

type Registration struct {
	User     *User     `json:"user"`
	Customer *Customer `json:"customer,omitempty"`
	Worker   *Worker   `json:"worker,omitempty"`
}

// Register creates the user together with its role profile.
func (s *Service) Register(ctx context.Context, cmd RegisterCommand) (*Registration, error) {
	email := strings.TrimSpace(strings.ToLower(cmd.Email))
	if _, err := mail.ParseAddress(email); err != nil {
		return nil, fmt.Errorf("entity: invalid email: %w", types.ErrInvalidInput)
	}
	if len(cmd.Password) < minPasswordLen {
		return nil, fmt.Errorf("entity: password must be at least %d characters: %w", minPasswordLen, types.ErrInvalidInput)
	}
	if !cmd.Role.Valid() {
		return nil, fmt.Errorf("entity: invalid role %q: %w", cmd.Role, types.ErrInvalidInput)
	}
	if strings.TrimSpace(cmd.DisplayName) == "" {
		return nil, fmt.Errorf("entity: display_name is required: %w", types.ErrInvalidInput)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(cmd.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("entity: hash password: %w", err)
	}

	now := time.Now().UTC()
	u := &User{
		ID:           types.NewID(),
		Email:        email,
		PasswordHash: string(hash),
		Role:         cmd.Role,
		DisplayName:  cmd.DisplayName,
		Phone:        cmd.Phone,
		Active:       true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	reg := &Registration{User: u}
	switch cmd.Role {
	case types.RoleCustomer:
		reg.Customer = &Customer{
			ID:        types.NewID(),
			UserID:    u.ID,
			FullName:  cmd.DisplayName,
			Phone:     cmd.Phone,
			Email:     email,
			City:      cmd.City,
			CreatedAt: now,
			UpdatedAt: now,
		}
	case types.RoleWorker, types.RoleThekedar:
		w := &Worker{
			ID:           types.NewID(),
			UserID:       u.ID,
			Kind:         WorkerIndividual,
			DisplayName:  cmd.DisplayName,
			Bio:          cmd.Bio,
			Skills:       []string{},
			BasePrice:    types.Money{Currency: types.DefaultCurrency},
			Availability: AvailabilityOffline,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		if cmd.Role == types.RoleThekedar {
			w.Kind = WorkerCrew
			w.CrewSize = max(cmd.CrewSize, 1)
		}
		reg.Worker = w
	}

	if err := s.store.CreateUser(ctx, u, reg.Customer, reg.Worker); err != nil {
		return nil, err
	}
	s.log.InfoContext(ctx, "user registered", "user_id", u.ID, "role", u.Role)
	return reg, nil
}

// CheckPassword reports whether password matches the stored credential of an active user.
func (s *Service) CheckPassword(ctx context.Context, userID types.ID, password string) (bool, error) {
	u, err := s.store.GetUser(ctx, userID)
	if err != nil {
		return false, err
	}
	if !u.Active {
		return false, nil
	}
	return bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)) == nil, nil
}

func (s *Service) Deactivate(ctx context.Context, userID types.ID) error {
	if err := s.store.SetUserActive(ctx, userID, false); err != nil {
		return err
	}
	s.log.InfoContext(ctx, "user deactivated", "user_id", userID)
	return nil
}

func (s *Service) GetUser(ctx context.Context, id types.ID) (*User, error) {
	return s.store.GetUser(ctx, id)
}

func (s *Service) GetCustomer(ctx context.Context, id types.ID) (*Customer, error) {
	return s.store.GetCustomer(ctx, id)
}

func (s *Service) GetWorker(ctx context.Context, id types.ID) (*Worker, error) {
	return s.store.GetWorker(ctx, id)
}

// WorkerByUser resolves the worker profile owned by a user account.
func (s *Service) WorkerByUser(ctx context.Context, userID types.ID) (*Worker, error) {
	return s.store.WorkerByUser(ctx, userID)
}

func (s *Service) UpdateWorkerProfile(ctx context.Context, id types.ID, p WorkerPatch) (*Worker, error) {
	if p.ServiceRadiusKm != nil && *p.ServiceRadiusKm < 0 {
		return nil, fmt.Errorf("entity: service radius must not be negative: %w", types.ErrInvalidInput)
	}
	if p.BasePrice != nil {
		if p.BasePrice.Amount < 0 {
			return nil, fmt.Errorf("entity: base price must not be negative: %w", types.ErrInvalidInput)
		}
		if p.BasePrice.Currency == "" {
			p.BasePrice.Currency = types.DefaultCurrency
		}
	}
	if p.CrewSize != nil && *p.CrewSize < 1 {
		return nil, fmt.Errorf("entity: crew size must be positive: %w", types.ErrInvalidInput)
	}
	return s.store.UpdateWorkerProfile(ctx, id, p)
}

// RecordWorkerLocation stores the worker's most recent fix on its profile.
func (s *Service) RecordWorkerLocation(ctx context.Context, id types.ID, p types.Point, at time.Time) error {
	return s.store.UpdateWorkerLocation(ctx, id, p, at)
}

type CreateServiceCommand struct {
	Name        string
	Description string
	Price       types.Money
}

func (s *Service) CreateService(ctx context.Context, cmd CreateServiceCommand) (*CatalogEntry, error) {
	if strings.TrimSpace(cmd.Name) == "" {
		return nil, fmt.Errorf("entity: service name is required: %w", types.ErrInvalidInput)
	}
	if cmd.Price.Amount < 0 {
		return nil, fmt.Errorf("entity: price must not be negative: %w", types.ErrInvalidInput)
	}
	if cmd.Price.Currency == "" {
		cmd.Price.Currency = types.DefaultCurrency
	}
	now := time.Now().UTC()
	sv := &CatalogEntry{
		ID:          types.NewID(),
		Name:        cmd.Name,
		Description: cmd.Description,
		Price:       cmd.Price,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.store.CreateService(ctx, sv); err != nil {
		return nil, err
	}
	return sv, nil
}

func (s *Service) GetService(ctx context.Context, id types.ID) (*CatalogEntry, error) {
	return s.store.GetService(ctx, id)
}

func (s *Service) ListServices(ctx context.Context) ([]*CatalogEntry, error) {
	return s.store.ListServices(ctx)
}
