// Package store is the credential & quota store: durable, encrypted-at-rest
// persistence of accounts, cache entries and settings, built on GORM with
// an encryption layer (crypto.go) wrapping every token/quota read and
// write.
package store

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/sovereign-gateway/core/internal/errs"
	"github.com/sovereign-gateway/core/internal/store/models"
)

// Store wraps a GORM connection plus the encryption cipher. All mutations
// that touch the active flag or the cache index serialize through writeMu,
// layering a single logical writer on top of sqlite's own single-writer
// semantics.
type Store struct {
	db      *gorm.DB
	cipher  *Cipher
	log     *slog.Logger
	writeMu sync.Mutex
}

// Open connects to the sqlite file at path using the pure-Go glebarez
// driver (no CGO dependency), enables WAL journaling, auto-migrates the
// schema and runs the plaintext-healing migration pass.
func Open(path string, keySource KeySource, log *slog.Logger) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, errs.Wrap(errs.KindStorage, "opening database", err)
	}

	if err := db.Exec("PRAGMA journal_mode=WAL").Error; err != nil {
		return nil, errs.Wrap(errs.KindStorage, "enabling WAL", err)
	}
	if err := db.Exec("PRAGMA busy_timeout=5000").Error; err != nil {
		return nil, errs.Wrap(errs.KindStorage, "setting busy timeout", err)
	}

	if err := db.AutoMigrate(&models.Account{}, &models.Setting{}, &models.CacheEntry{}); err != nil {
		return nil, errs.Wrap(errs.KindStorage, "auto-migrating schema", err)
	}

	masterKey, err := keySource.MasterKey(context.Background())
	if err != nil {
		return nil, err
	}
	c, err := NewCipher(masterKey)
	if err != nil {
		return nil, errs.Wrap(errs.KindStorage, "initializing cipher", err)
	}

	s := &Store{db: db, cipher: c, log: log}
	if err := s.healPlaintext(); err != nil {
		return nil, err
	}
	return s, nil
}

// Close releases the underlying connection; safe to call on a Store that
// failed to fully initialize.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// healPlaintext re-encrypts any row whose token or quota column still
// holds plaintext JSON (legacy rows predating encryption, detected by a
// leading '{'). Idempotent: rows already ciphertext are untouched.
// Decrypt failures surface per-row only, matching the DecryptError
// contract — the rest of the store stays usable.
func (s *Store) healPlaintext() error {
	var rows []models.Account
	if err := s.db.Find(&rows).Error; err != nil {
		return errs.Wrap(errs.KindStorage, "loading accounts for migration", err)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	for _, row := range rows {
		healed := false
		if isPlaintext(row.TokenCipher) {
			enc, err := s.cipher.Encrypt([]byte(row.TokenCipher))
			if err != nil {
				s.log.Warn("failed to heal plaintext token", "account_id", row.ID, "error", err)
				continue
			}
			row.TokenCipher = enc
			healed = true
		}
		if isPlaintext(row.QuotaCipher) {
			enc, err := s.cipher.Encrypt([]byte(row.QuotaCipher))
			if err != nil {
				s.log.Warn("failed to heal plaintext quota", "account_id", row.ID, "error", err)
				continue
			}
			row.QuotaCipher = enc
			healed = true
		}
		if healed {
			if err := s.db.Save(&row).Error; err != nil {
				return errs.Wrap(errs.KindStorage, "persisting healed row", err)
			}
			s.log.Info("healed plaintext account row", "account_id", row.ID)
		}
	}
	return nil
}

func isPlaintext(v string) bool {
	return strings.HasPrefix(strings.TrimSpace(v), "{")
}

func (s *Store) encryptToken(t models.Token) (string, error) {
	raw, err := json.Marshal(t)
	if err != nil {
		return "", errs.Wrap(errs.KindStorage, "marshaling token", err)
	}
	return s.cipher.Encrypt(raw)
}

func (s *Store) decryptToken(ciphertext string) (models.Token, error) {
	var t models.Token
	if ciphertext == "" {
		return t, nil
	}
	var raw []byte
	var err error
	if isPlaintext(ciphertext) {
		raw = []byte(ciphertext)
	} else {
		raw, err = s.cipher.Decrypt(ciphertext)
		if err != nil {
			return t, err
		}
	}
	if err := json.Unmarshal(raw, &t); err != nil {
		return t, errs.Wrap(errs.KindStorage, "unmarshaling token", err)
	}
	return t, nil
}

func (s *Store) encryptQuota(q models.Quota) (string, error) {
	raw, err := json.Marshal(q)
	if err != nil {
		return "", errs.Wrap(errs.KindStorage, "marshaling quota", err)
	}
	return s.cipher.Encrypt(raw)
}

func (s *Store) decryptQuota(ciphertext string) (models.Quota, error) {
	q := models.Quota{}
	if ciphertext == "" {
		return q, nil
	}
	var raw []byte
	var err error
	if isPlaintext(ciphertext) {
		raw = []byte(ciphertext)
	} else {
		raw, err = s.cipher.Decrypt(ciphertext)
		if err != nil {
			return q, err
		}
	}
	if err := json.Unmarshal(raw, &q); err != nil {
		return q, errs.Wrap(errs.KindStorage, "unmarshaling quota", err)
	}
	return q, nil
}
