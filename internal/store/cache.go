package store

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"math"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/sovereign-gateway/core/internal/errs"
	"github.com/sovereign-gateway/core/internal/store/models"
)

// CacheResult is what a cache lookup returns on a hit.
type CacheResult struct {
	ResponseText string
	Model        string
}

// DefaultSemanticThreshold is the dot-product cutoff a semantic cache hit
// must meet.
const DefaultSemanticThreshold = 0.97

func HashPrompt(prompt string) string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(prompt)))
	return hex.EncodeToString(sum[:])
}

// CacheFindExact looks up the prompt by its SHA-256 hash.
func (s *Store) CacheFindExact(prompt string) (*CacheResult, error) {
	var row models.CacheEntry
	err := s.db.First(&row, "prompt_hash = ?", HashPrompt(prompt)).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, errs.Wrap(errs.KindStorage, "cache exact lookup", err)
	}
	return &CacheResult{ResponseText: row.ResponseText, Model: row.Model}, nil
}

// CacheFindSemantic loads every cached embedding and returns the first row
// whose dot product against queryVector meets threshold. Both vectors are
// assumed unit-normalised; the store does not re-normalise.
func (s *Store) CacheFindSemantic(queryVector []float32, threshold float64) (*CacheResult, error) {
	var rows []models.CacheEntry
	if err := s.db.Find(&rows).Error; err != nil {
		return nil, errs.Wrap(errs.KindStorage, "cache semantic scan", err)
	}
	for _, row := range rows {
		vec := decodeVector(row.Embedding)
		if len(vec) != len(queryVector) || len(vec) == 0 {
			continue
		}
		if dotProduct(vec, queryVector) >= threshold {
			return &CacheResult{ResponseText: row.ResponseText, Model: row.Model}, nil
		}
	}
	return nil, nil
}

// CacheSave writes a new entry. Failures are the caller's to log only —
// the cache is a fire-and-forget side effect.
func (s *Store) CacheSave(promptText string, embedding []float32, responseText, model string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	row := models.CacheEntry{
		ID:           uuid.NewString(),
		PromptHash:   HashPrompt(promptText),
		PromptText:   promptText,
		Embedding:    encodeVector(embedding),
		ResponseText: responseText,
		Model:        model,
	}
	if err := s.db.Save(&row).Error; err != nil {
		return errs.Wrap(errs.KindStorage, "saving cache entry", err)
	}
	return nil
}

func encodeVector(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

func decodeVector(buf []byte) []float32 {
	if len(buf)%4 != 0 {
		return nil
	}
	v := make([]float32, len(buf)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return v
}

func dotProduct(a, b []float32) float64 {
	var sum float64
	for i := range a {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}
