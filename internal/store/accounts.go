package store

import (
	"encoding/json"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/sovereign-gateway/core/internal/errs"
	"github.com/sovereign-gateway/core/internal/store/models"
)

// Account is the decrypted, in-memory view of a store row, the shape every
// operation below returns and accepts.
type Account struct {
	ID             string
	Provider       string
	Email          string
	Name           string
	AvatarURL      string
	Status         string
	IsActive       bool
	SelectedModels []string
	Token          models.Token
	Quota          models.Quota
	CreatedAt      int64
	LastUsedAt     int64
}

const (
	StatusActive      = "active"
	StatusRefreshing  = "refreshing"
	StatusRateLimited = "rate_limited"
	StatusError       = "error"
)

func (s *Store) toRow(a Account) (models.Account, error) {
	tokenCipher, err := s.encryptToken(a.Token)
	if err != nil {
		return models.Account{}, err
	}
	quotaCipher, err := s.encryptQuota(a.Quota)
	if err != nil {
		return models.Account{}, err
	}
	selected, err := json.Marshal(a.SelectedModels)
	if err != nil {
		return models.Account{}, errs.Wrap(errs.KindStorage, "marshaling selected_models", err)
	}
	return models.Account{
		ID:             a.ID,
		Provider:       a.Provider,
		Email:          a.Email,
		Name:           a.Name,
		AvatarURL:      a.AvatarURL,
		Status:         a.Status,
		IsActive:       a.IsActive,
		SelectedModels: selected,
		TokenCipher:    tokenCipher,
		QuotaCipher:    quotaCipher,
		CreatedAt:      a.CreatedAt,
		LastUsedAt:     a.LastUsedAt,
	}, nil
}

func (s *Store) fromRow(row models.Account) (Account, error) {
	token, err := s.decryptToken(row.TokenCipher)
	if err != nil {
		return Account{}, err
	}
	quota, err := s.decryptQuota(row.QuotaCipher)
	if err != nil {
		return Account{}, err
	}
	var selected []string
	if len(row.SelectedModels) > 0 {
		if err := json.Unmarshal(row.SelectedModels, &selected); err != nil {
			return Account{}, errs.Wrap(errs.KindStorage, "unmarshaling selected_models", err)
		}
	}
	return Account{
		ID:             row.ID,
		Provider:       row.Provider,
		Email:          row.Email,
		Name:           row.Name,
		AvatarURL:      row.AvatarURL,
		Status:         row.Status,
		IsActive:       row.IsActive,
		SelectedModels: selected,
		Token:          token,
		Quota:          quota,
		CreatedAt:      row.CreatedAt,
		LastUsedAt:     row.LastUsedAt,
	}, nil
}

// Add upserts an account by ID. If IsActive is set, every other row's
// active flag is cleared in the same transaction (active-singleton
// invariant).
func (s *Store) Add(a Account) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	row, err := s.toRow(a)
	if err != nil {
		return err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	err = s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Save(&row).Error; err != nil {
			return err
		}
		if row.IsActive {
			if err := tx.Model(&models.Account{}).
				Where("id <> ?", row.ID).
				Update("is_active", false).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return errs.Wrap(errs.KindStorage, "adding account", err)
	}
	return nil
}

// List returns all accounts ordered by last_used descending.
func (s *Store) List() ([]Account, error) {
	var rows []models.Account
	if err := s.db.Order("last_used_at DESC").Find(&rows).Error; err != nil {
		return nil, errs.Wrap(errs.KindStorage, "listing accounts", err)
	}
	out := make([]Account, 0, len(rows))
	for _, row := range rows {
		a, err := s.fromRow(row)
		if err != nil {
			s.log.Warn("skipping undecryptable account row", "account_id", row.ID, "error", err)
			continue
		}
		out = append(out, a)
	}
	return out, nil
}

func (s *Store) Get(id string) (Account, error) {
	var row models.Account
	if err := s.db.First(&row, "id = ?", id).Error; err != nil {
		return Account{}, errs.Wrap(errs.KindStorage, "getting account "+id, err)
	}
	return s.fromRow(row)
}

func (s *Store) Remove(id string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := s.db.Delete(&models.Account{}, "id = ?", id).Error; err != nil {
		return errs.Wrap(errs.KindStorage, "removing account "+id, err)
	}
	return nil
}

func (s *Store) UpdateToken(id string, token models.Token) error {
	cipher, err := s.encryptToken(token)
	if err != nil {
		return err
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := s.db.Model(&models.Account{}).Where("id = ?", id).
		Update("token_cipher", cipher).Error; err != nil {
		return errs.Wrap(errs.KindStorage, "updating token for "+id, err)
	}
	return nil
}

func (s *Store) UpdateQuota(id string, quota models.Quota) error {
	cipher, err := s.encryptQuota(quota)
	if err != nil {
		return err
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := s.db.Model(&models.Account{}).Where("id = ?", id).
		Update("quota_cipher", cipher).Error; err != nil {
		return errs.Wrap(errs.KindStorage, "updating quota for "+id, err)
	}
	return nil
}

func (s *Store) UpdateSelectedModels(id string, modelsList []string) error {
	raw, err := json.Marshal(modelsList)
	if err != nil {
		return errs.Wrap(errs.KindStorage, "marshaling selected_models", err)
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := s.db.Model(&models.Account{}).Where("id = ?", id).
		Update("selected_models", string(raw)).Error; err != nil {
		return errs.Wrap(errs.KindStorage, "updating selected_models for "+id, err)
	}
	return nil
}

func (s *Store) UpdateStatus(id, status string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := s.db.Model(&models.Account{}).Where("id = ?", id).
		Update("status", status).Error; err != nil {
		return errs.Wrap(errs.KindStorage, "updating status for "+id, err)
	}
	return nil
}

func (s *Store) UpdateLastUsed(id string, unixSeconds int64) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := s.db.Model(&models.Account{}).Where("id = ?", id).
		Update("last_used_at", unixSeconds).Error; err != nil {
		return errs.Wrap(errs.KindStorage, "updating last_used for "+id, err)
	}
	return nil
}

// SetActive transactionally demotes every account and promotes id.
func (s *Store) SetActive(id string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	err := s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&models.Account{}).Where("1 = 1").Update("is_active", false).Error; err != nil {
			return err
		}
		res := tx.Model(&models.Account{}).Where("id = ?", id).Update("is_active", true)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}
		return nil
	})
	if err != nil {
		return errs.Wrap(errs.KindStorage, "setting active account "+id, err)
	}
	return nil
}
