package store

import (
	"encoding/json"

	"gorm.io/gorm"

	"github.com/sovereign-gateway/core/internal/errs"
	"github.com/sovereign-gateway/core/internal/store/models"
)

// GetSetting decodes the JSON value stored under key into def's type,
// returning def unchanged if the key is absent.
func (s *Store) GetSetting(key string, def interface{}) error {
	var row models.Setting
	err := s.db.First(&row, "key = ?", key).Error
	if err == gorm.ErrRecordNotFound {
		return nil
	}
	if err != nil {
		return errs.Wrap(errs.KindStorage, "getting setting "+key, err)
	}
	return json.Unmarshal([]byte(row.Value), def)
}

func (s *Store) SetSetting(key string, value interface{}) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return errs.Wrap(errs.KindStorage, "marshaling setting "+key, err)
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	row := models.Setting{Key: key, Value: string(raw)}
	if err := s.db.Save(&row).Error; err != nil {
		return errs.Wrap(errs.KindStorage, "saving setting "+key, err)
	}
	return nil
}

// AutoSwitchEnabled reads the "auto_switch_enabled" setting, defaulting
// to false.
func (s *Store) AutoSwitchEnabled() bool {
	enabled := false
	_ = s.GetSetting("auto_switch_enabled", &enabled)
	return enabled
}
