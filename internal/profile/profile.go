package profile

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/iurnickita/ifgmart/internal/model"
	"github.com/iurnickita/ifgmart/internal/store"
)

// Длина имени ограничена колонкой profiles.full_name
const maxFullNameLen = 200

type Profile interface {
	Get(ctx context.Context, customer string) (model.Profile, error)
	Set(ctx context.Context, customer string, fullName string) (model.Profile, error)
}

type profile struct {
	store store.Store
}

func NewProfile(store store.Store) Profile {
	return &profile{store: store}
}

// Get возвращает профиль. Пока записи нет - профиль с пустым именем
func (p *profile) Get(ctx context.Context, customer string) (model.Profile, error) {
	if customer == "" {
		return model.Profile{}, model.ErrNotAuthenticated
	}

	row, err := p.store.ProfileGet(ctx, customer)
	if err != nil {
		if errors.Is(err, store.ErrNoRows) {
			return model.Profile{Customer: customer}, nil
		}
		return model.Profile{}, fmt.Errorf("%w: %w", model.ErrStore, err)
	}
	return row, nil
}

// Set задает имя, под которым пользователь виден на витрине
func (p *profile) Set(ctx context.Context, customer string, fullName string) (model.Profile, error) {
	if customer == "" {
		return model.Profile{}, model.ErrNotAuthenticated
	}
	fullName = strings.TrimSpace(fullName)
	if fullName == "" {
		return model.Profile{}, fmt.Errorf("%w: full name is required", model.ErrValidation)
	}
	if utf8.RuneCountInString(fullName) > maxFullNameLen {
		return model.Profile{}, fmt.Errorf("%w: full name is longer than %d characters", model.ErrValidation, maxFullNameLen)
	}

	row, err := p.store.ProfilePut(ctx, customer, fullName)
	if err != nil {
		return model.Profile{}, fmt.Errorf("%w: %w", model.ErrStore, err)
	}
	return row, nil
}
